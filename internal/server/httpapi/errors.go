package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yamazhen/soma-server/internal/common"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a service error to an HTTP status. Unknown errors come
// back as 500 and their detail never reaches the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrBadInput):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrInvalidCredentials),
		errors.Is(err, common.ErrInvalidCode),
		errors.Is(err, common.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrMustVerify),
		errors.Is(err, common.ErrAccountDisabled),
		errors.Is(err, common.ErrInvalidRefreshToken),
		errors.Is(err, common.ErrRefreshTokenExpired):
		return http.StatusForbidden
	case errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrNoCode):
		return http.StatusNotFound
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
