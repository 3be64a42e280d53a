package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/observability"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorStatus = []struct {
	target error
	status int
	code   string
}{
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrHoldNotFound, http.StatusNotFound, "hold_not_found"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrCapacityExceeded, http.StatusConflict, "sold_out"},
	{domain.ErrHoldExpired, http.StatusGone, "hold_expired"},
	{domain.ErrInvalidCapacity, http.StatusUnprocessableEntity, "invalid_capacity"},
	{domain.ErrPaymentProvider, http.StatusBadGateway, "payment_provider"},
}

func statusFor(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.target) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context(), observability.NewNopLogger()).
			WithError(err).Error("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// decode reads a JSON body strictly; unknown fields are rejected.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(domain.ErrInvalidInput, "decode body: %v", err)
	}
	return nil
}
