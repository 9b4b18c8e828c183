package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/referral-ledger/generic"
)

// HTTPStatus maps a ledger error to a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, generic.ErrUnauthenticated), errors.Is(err, generic.ErrWrongPassword):
		return http.StatusUnauthorized
	case errors.Is(err, generic.ErrForbidden):
		return http.StatusForbidden
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrDuplicateIdempotencyKey), generic.IsRetryable(err):
		return http.StatusConflict
	case errors.Is(err, generic.ErrPersistence):
		return http.StatusInternalServerError
	case generic.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError answers with the mapped status. Server errors are logged and
// their details withheld from the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.requestLog(r).Error("request failed", zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}
