package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/campusride/internal/booking"
	"github.com/example/campusride/internal/pricing"
	"github.com/example/campusride/internal/wallet"
)

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, booking.ErrValidation),
		errors.Is(err, pricing.ErrInvalidParams),
		errors.Is(err, wallet.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrCapacityExceeded),
		errors.Is(err, booking.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, wallet.ErrNotPaid):
		return http.StatusForbidden
	case errors.Is(err, wallet.ErrPaymentFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

// writeJSON encodes before writing the header, so a value that cannot be
// encoded becomes a 500 rather than an empty success.
func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		b, _ = json.Marshal(errorBody{Error: "internal error"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}
