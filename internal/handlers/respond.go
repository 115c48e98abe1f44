package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/storage"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("qrshare-handlers")

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps store and model errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrReceiverConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidProgress), errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(models.ErrInvalidInput, err)
	}
	return nil
}
