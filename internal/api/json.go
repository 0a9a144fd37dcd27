package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/publish"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error  string `json:"error" validate:"required"`
	Detail string `json:"detail,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusOf maps an operation error onto an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidDraft):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrSiteMismatch), errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrConfig), errors.Is(err, apperr.ErrMissingCover):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrAttachmentPermission),
		errors.Is(err, apperr.ErrAttachmentNotConfigured),
		errors.Is(err, apperr.ErrUploadFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err as the single user-facing notice plus the detail.
// Unclassified errors are logged and hidden.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody("internal error"))
		return
	}
	slog.Warn(op+" rejected", slog.String("error", err.Error()))
	writeJSON(w, status, errResponse{Error: publish.UserMessage(err), Detail: err.Error()})
}
