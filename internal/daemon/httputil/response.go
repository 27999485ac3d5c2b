package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	gantryerrors "github.com/tombee/gantry/pkg/errors"
)

// WriteJSON writes a JSON response with the given status code and data.
// If encoding fails, it logs the error.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", slog.Any("error", err))
	}
}

// WriteError writes a JSON error response with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{
		"error": message,
	})
}

// WriteDomainError maps a domain error to the right HTTP status and
// writes it as a JSON error body. Validation problems carry their
// suggestion alongside the message when one is set.
func WriteDomainError(w http.ResponseWriter, err error) {
	var validation *gantryerrors.ValidationError
	if errors.As(err, &validation) {
		body := map[string]string{"error": validation.Error()}
		if validation.Suggestion != "" {
			body["suggestion"] = validation.Suggestion
		}
		WriteJSON(w, http.StatusBadRequest, body)
		return
	}

	if gantryerrors.IsNotFound(err) {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	WriteError(w, http.StatusInternalServerError, err.Error())
}
