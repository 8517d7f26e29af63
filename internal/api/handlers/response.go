// Package handlers provides HTTP handlers for the medtrack API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/api/middleware"
	"github.com/familyrx/medtrack/internal/domain"
)

// Envelope wraps every response body.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, env Envelope) {
	env.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func ok(w http.ResponseWriter, data any, message string) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data, Message: message})
}

func created(w http.ResponseWriter, data any, message string) {
	writeJSON(w, http.StatusCreated, Envelope{Success: true, Data: data, Message: message})
}

func deleted(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Message: message})
}

// writeError maps err onto a status: domain validation and range errors
// are 400, NotFound 404, Conflict 409 and everything else 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var (
		status  int
		message string
	)
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidRange):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrConflict):
		status, message = http.StatusConflict, err.Error()
	default:
		status, message = http.StatusInternalServerError, "Internal Server Error"
		logger.Error("request failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.RequestIDFrom(r.Context())),
		)
	}
	writeJSON(w, status, Envelope{Message: message})
}

// badRequest reports a request that never reached the services.
func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, Envelope{Message: message})
}

// NotFound answers unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, Envelope{Message: "Route not found"})
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Invalid("Request", "Validation error: invalid JSON body")
	}
	return nil
}

func idParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, domain.Invalid("Request", "Validation error: Params: \"id\" must be a valid GUID")
	}
	return id, nil
}

// optionalUUID parses a query parameter that may be absent.
func optionalUUID(r *http.Request, name string) (*uuid.UUID, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, domain.Invalid("Request", "Validation error: Query: \""+name+"\" must be a valid GUID")
	}
	return &id, nil
}
