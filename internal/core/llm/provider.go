package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/RPLaine/newsroom-processor/internal/config"
	"github.com/RPLaine/newsroom-processor/internal/core"
)

// NewProvider builds the LLM backend selected by LLM_PROVIDER.
func NewProvider(ctx context.Context, cfg *config.Config, log *zap.Logger) (core.LLMProvider, error) {
	sampling := SamplingFromConfig(cfg)

	switch cfg.LLMProvider {
	case "", "dolphin":
		d, err := NewDolphinLLM(DolphinOptions{URL: cfg.LLMURL, Timeout: cfg.LLMTimeout, Sampling: sampling}, log)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "gemini":
		g, err := NewGeminiLLM(ctx, cfg.AIAPIKey, cfg.GenModel, sampling)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize gemini: %w", err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

// SamplingFromConfig turns the LLM_* settings into a base sampling config.
// Out-of-range values stay unset and fall back to the defaults; a
// temperature of 0 is kept.
func SamplingFromConfig(cfg *config.Config) core.SamplingConfig {
	var s core.SamplingConfig
	if cfg.LLMMaxLength > 0 {
		s.SetMaxLength(cfg.LLMMaxLength)
	}
	if cfg.LLMTemperature >= 0 {
		s.SetTemperature(cfg.LLMTemperature)
	}
	if cfg.LLMTopK > 0 {
		s.SetTopK(cfg.LLMTopK)
	}
	if cfg.LLMTopP > 0 && cfg.LLMTopP <= 1 {
		s.SetTopP(cfg.LLMTopP)
	}
	if cfg.LLMRepetitionPenalty > 0 {
		s.SetRepetitionPenalty(cfg.LLMRepetitionPenalty)
	}
	return s
}
