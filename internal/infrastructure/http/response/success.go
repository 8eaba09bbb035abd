// Package response writes the gateway's JSON bodies: the success envelope and
// the error body every failure is rendered into.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rezkam/docrepo/internal/requestid"
)

// Envelope wraps every successful payload.
type Envelope struct {
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId,omitempty"`
}

// OK sends a 200 OK response with data in the envelope.
func OK(w http.ResponseWriter, r *http.Request, data any) {
	writeEnvelope(w, r, http.StatusOK, data)
}

// Created sends a 201 Created response with data in the envelope.
func Created(w http.ResponseWriter, r *http.Request, data any) {
	writeEnvelope(w, r, http.StatusCreated, data)
}

// NoContent sends a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// writeEnvelope marshals before writing the header, so an encoding failure
// still produces a 500 instead of a truncated success.
func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(Envelope{
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: requestid.FromContext(r.Context()),
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to encode response", "error", err)
		Status(w, r, http.StatusInternalServerError, "failed to encode response")
		return
	}
	writeJSON(w, r, status, body)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.ErrorContext(r.Context(), "Failed to write response", "error", err)
	}
}
