package logging

import "go.uber.org/zap"

// New builds the process logger. Production uses JSON output at info level.
func New(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
