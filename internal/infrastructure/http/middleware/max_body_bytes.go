package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/rezkam/docrepo/internal/infrastructure/http/response"
)

const msgPayloadTooLarge = "request body exceeds size limit"

// MaxBodyBytes creates a middleware that limits request body size.
// Uses a two-phase approach:
// 1. Fast path: Check Content-Length header for early rejection
// 2. Slow path: Read and verify body (handles chunked encoding and missing headers)
//
// Returns 413 Request Entity Too Large in the standard error body if the limit is exceeded.
func MaxBodyBytes(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Content-Length of -1 means unknown (chunked encoding), so skip this check
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				response.Status(w, r, http.StatusRequestEntityTooLarge, msgPayloadTooLarge)
				return
			}

			// Content-Length can be missing or spoofed; MaxBytesReader enforces
			// the limit during the actual read.
			body := http.MaxBytesReader(w, r.Body, maxBytes)
			buf, err := io.ReadAll(body)
			if err != nil {
				slog.WarnContext(r.Context(), "Request body size limit exceeded",
					"method", r.Method,
					"path", r.URL.Path,
					"content_length", r.ContentLength,
					"limit", maxBytes,
					"error", err)

				response.Status(w, r, http.StatusRequestEntityTooLarge, msgPayloadTooLarge)
				return
			}

			// Body is within limit - replace it so handlers can read it
			r.Body = io.NopCloser(bytes.NewReader(buf))
			next.ServeHTTP(w, r)
		})
	}
}
