// Package dispatcher routes action requests to the services and wraps every
// outcome in the response envelope.
package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/services"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	actionInit = "application_init"
)

// Request is one inbound action. Payload holds the whole request object,
// action field included.
type Request struct {
	Action  string
	Payload json.RawMessage
}

type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`

	// Kind is set on error responses for the transport to pick a status code.
	Kind apperr.Kind `json:"-"`
}

// result is what a handler produces on success.
type result struct {
	message string
	data    any
}

type handlerFunc func(ctx context.Context, userID string, payload json.RawMessage) (result, error)

type Dispatcher struct {
	users     *services.UserService
	jobs      *services.JobService
	processes *services.ProcessService
	validate  *validator.Validate
	log       *zap.Logger
	handlers  map[string]handlerFunc
}

func New(users *services.UserService, jobs *services.JobService, processes *services.ProcessService, log *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		users:     users,
		jobs:      jobs,
		processes: processes,
		validate:  newValidator(),
		log:       log,
	}
	d.handlers = d.routes()
	return d
}

// Dispatch authenticates the caller, runs the handler registered for the
// action and converts any error into an error envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, req Request) Response {
	if req.Action == actionInit {
		return Response{Status: StatusSuccess, Message: "Application initialized"}
	}

	if _, err := d.users.Resolve(ctx, userID); err != nil {
		return d.fail(req.Action, userID, err)
	}

	handle, ok := d.handlers[req.Action]
	if !ok {
		return d.fail(req.Action, userID, apperr.UnknownAction(req.Action))
	}

	res, err := handle(ctx, userID, req.Payload)
	if err != nil {
		return d.fail(req.Action, userID, err)
	}
	return Response{Status: StatusSuccess, Message: res.message, Data: res.data}
}

func (d *Dispatcher) fail(action, userID string, err error) Response {
	level := zapcore.DebugLevel
	switch apperr.KindOf(err) {
	case apperr.KindInternal, apperr.KindStorage:
		level = zapcore.ErrorLevel
	case apperr.KindConnection, apperr.KindRemote, apperr.KindMalformedLLM:
		level = zapcore.WarnLevel
	}
	d.log.Log(level, "action failed",
		zap.String("action", action),
		zap.String("user_id", userID),
		zap.String("kind", string(apperr.KindOf(err))),
		zap.Error(err))

	return Response{Status: StatusError, Message: apperr.PublicMessage(err), Kind: apperr.KindOf(err)}
}
