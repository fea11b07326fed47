package api

import (
	"errors"
	"net/http"

	"github.com/LeventeLantos/message-oven/internal/apperr"
	"github.com/LeventeLantos/message-oven/internal/service"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func statusFor(err error) int {
	if errors.Is(err, service.ErrCycleInFlight) {
		return http.StatusConflict
	}
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.ExternalAPI, apperr.Transport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	kind := string(apperr.KindOf(err))
	if errors.Is(err, service.ErrCycleInFlight) {
		kind = "conflict"
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: err.Error()}})
}

// badRequest reports a malformed request that never reached the domain.
func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	h.writeError(w, r, apperr.E(apperr.Validation, "decode request", err))
}
