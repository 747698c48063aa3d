package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	middleware "github.com/RPLaine/newsroom-processor/internal/api/middlewares"
	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/dispatcher"
)

const maxActionBody = 32 << 20

// ActionHandler serves the single action endpoint.
type ActionHandler struct {
	dispatcher *dispatcher.Dispatcher
	log        *zap.Logger
}

func NewActionHandler(d *dispatcher.Dispatcher, log *zap.Logger) *ActionHandler {
	return &ActionHandler{dispatcher: d, log: log}
}

type actionEnvelope struct {
	Request json.RawMessage `json:"request"`
}

// Handle decodes {"request": {"action": ..., ...}} and dispatches it as the
// user named by the bearer token, if any.
func (h *ActionHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxActionBody)

	var env actionEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil || len(env.Request) == 0 {
		writeError(w, h.log, apperr.Validation("Invalid request body"))
		return
	}
	var head struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(env.Request, &head); err != nil {
		writeError(w, h.log, apperr.Validation("Invalid request body"))
		return
	}

	resp := h.dispatcher.Dispatch(r.Context(), middleware.UserIDFromContext(r.Context()), dispatcher.Request{
		Action:  head.Action,
		Payload: env.Request,
	})
	writeResponse(w, h.log, resp)
}
