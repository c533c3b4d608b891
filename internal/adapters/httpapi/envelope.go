package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cruiseline/internal/core"
	"cruiseline/internal/datastore"

	"go.uber.org/zap"
)

const (
	authMethods     = "GET, POST, OPTIONS"
	resourceMethods = "GET, POST, PUT, DELETE, OPTIONS"
	allowHeaders    = "Content-Type"

	maxBodyBytes = 10 << 20
)

// envelope is the body shape shared by every endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// levelEnvelope keeps "level" present even when it encodes as null.
type levelEnvelope struct {
	Success bool             `json:"success"`
	Level   core.AccessLevel `json:"level"`
}

func setCORS(w http.ResponseWriter, methods string) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", methods)
	h.Set("Access-Control-Allow-Headers", allowHeaders)
}

// cors stamps the allow-lists on every response and answers preflight
// requests with an empty 200.
func cors(methods string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setCORS(w, methods)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseBody reads exactly Content-Length bytes and decodes them as a JSON
// object. A missing or zero length yields an empty object.
func parseBody(r *http.Request) (datastore.Row, error) {
	if r.ContentLength <= 0 || r.Body == nil {
		return datastore.Row{}, nil
	}
	if r.ContentLength > maxBodyBytes {
		return nil, fmt.Errorf("request body too large: %d bytes", r.ContentLength)
	}
	buf := make([]byte, r.ContentLength)
	if _, err := io.ReadFull(r.Body, buf); err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	var body datastore.Row
	if err := json.Unmarshal(buf, &body); err != nil {
		return nil, err
	}
	if body == nil {
		body = datastore.Row{}
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Error: message})
}

// writeServiceError maps service and datastore failures onto status codes.
// Unclassified errors are reported verbatim with 500.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		validation *core.ValidationError
		notFound   *core.NotFoundError
		conflict   *core.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}
