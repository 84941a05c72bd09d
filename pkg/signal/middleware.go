package signal

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sparedes88/projector/pkg/broadcast"
	"go.uber.org/zap"
)

// ErrorBody is the JSON body of every error response
type ErrorBody struct {
	Error   string       `json:"error"`
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// WithLogging wraps a handler with request logging
func WithLogging(logger *zap.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}
}

// JSONResponse writes a JSON response
func JSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse writes a JSON error response
func ErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	JSONResponse(w, statusCode, ErrorBody{
		Error:   http.StatusText(statusCode),
		Code:    code,
		Message: message,
	})
}

// WriteError maps a domain error to its status code and writes it
func WriteError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := ErrorBody{
		Error:   http.StatusText(status),
		Code:    codeFor(err),
		Message: err.Error(),
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	JSONResponse(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, broadcast.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, broadcast.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, broadcast.ErrExists),
		errors.Is(err, broadcast.ErrConflict),
		errors.Is(err, broadcast.ErrNoSong),
		errors.Is(err, broadcast.ErrEmptySong),
		errors.Is(err, broadcast.ErrMicDisabled),
		errors.Is(err, broadcast.ErrSessionMismatch):
		return http.StatusConflict
	case errors.Is(err, ErrAssistUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrAssistFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ParseJSONBody parses the request body into the given struct
func ParseJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &ValidationError{Fields: []FieldError{{Field: "body", Error: err.Error()}}}
	}
	return nil
}
