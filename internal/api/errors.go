package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Error is a handler failure with a status code. Handlers return it to pick
// the response; anything else becomes a 500.
type Error struct {
	Status  int
	Message string
	Kind    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

func BadRequest(message string) *Error { return NewError(http.StatusBadRequest, message) }

func Unauthorized(message string) *Error { return NewError(http.StatusUnauthorized, message) }

func Conflict(message string) *Error { return NewError(http.StatusConflict, message) }

func ServiceUnavailable(message string) *Error {
	return NewError(http.StatusServiceUnavailable, message)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// HandlerFunc is a route handler that can fail. The Errors boundary turns the
// failure into a response.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Errors converts handler errors and recovered panics into JSON responses.
// Production hides 5xx messages and never includes stacks.
type Errors struct {
	Production bool
	Log        *zap.Logger
}

func (b Errors) Handle(fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			b.Respond(w, r, err, "")
		}
	}
}

func (b Errors) Respond(w http.ResponseWriter, r *http.Request, err error, stack string) {
	status := http.StatusInternalServerError
	message := err.Error()
	kind := ""

	var apiErr *Error
	if errors.As(err, &apiErr) {
		if apiErr.Status != 0 {
			status = apiErr.Status
		}
		message = apiErr.Message
		kind = apiErr.Kind
	}

	if status >= http.StatusInternalServerError {
		b.logger().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	resp := ErrorResponse{Error: message, Kind: kind}
	if b.Production {
		if status >= http.StatusInternalServerError {
			resp.Error = http.StatusText(status)
		}
	} else {
		resp.Stack = stack
	}
	WriteJSON(w, status, resp)
}

// Recoverer catches panics from the handlers below it and answers 500.
func (b Errors) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			stack := string(debug.Stack())
			b.logger().Error("panic recovered",
				zap.Any("panic", rec),
				zap.String("stack", stack),
			)
			b.Respond(w, r, fmt.Errorf("panic: %v", rec), stack)
		}()
		next.ServeHTTP(w, r)
	})
}

// NotFound answers every unmatched route, including known paths with an
// unsupported method.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
}

func (b Errors) logger() *zap.Logger {
	if b.Log == nil {
		return zap.NewNop()
	}
	return b.Log
}
