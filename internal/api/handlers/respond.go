package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/dispatcher"
)

// statusFor maps an error kind to the HTTP status of its envelope.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindAuthRequired:
		return http.StatusUnauthorized
	case apperr.KindValidation, apperr.KindUnknownAction:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConnection, apperr.KindRemote, apperr.KindMalformedLLM:
		return http.StatusBadGateway
	case apperr.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn("failed to write response", zap.Error(err))
	}
}

func writeResponse(w http.ResponseWriter, log *zap.Logger, resp dispatcher.Response) {
	status := http.StatusOK
	if resp.Status == dispatcher.StatusError {
		status = statusFor(resp.Kind)
	}
	writeJSON(w, log, status, resp)
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	writeJSON(w, log, statusFor(apperr.KindOf(err)), dispatcher.Response{
		Status:  dispatcher.StatusError,
		Message: apperr.PublicMessage(err),
	})
}
