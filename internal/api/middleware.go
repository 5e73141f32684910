package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/chahalrohit/smart-expense-tracker/internal/auth"
)

type Verifier interface {
	Verify(authorization string) (auth.Identity, error)
}

// BearerAuth gates protected routes.
//
// Contract:
// - Authorization: Bearer <token> must verify, otherwise 401 and the next
//   handler never runs.
// - The response kind is "missing_credential" or "invalid_credential".
// - On success the caller's Identity is in the request context.
func BearerAuth(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.Verify(r.Header.Get("Authorization"))
			if err != nil {
				kind := auth.KindInvalid
				message := "Not authorized, token failed"
				var aerr *auth.AuthError
				if errors.As(err, &aerr) {
					kind = aerr.Kind
					if kind == auth.KindMissing {
						message = "Not authorized, no token"
					}
				}
				WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Error: message, Kind: string(kind)})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequestLogger logs one line per request after it completes.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info("request completed",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// DecodeJSON reads a single JSON object from the request body into dst.
// Fields dst does not declare are ignored.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return &Error{Status: http.StatusRequestEntityTooLarge, Message: "request body too large", Err: err}
		case errors.Is(err, io.EOF):
			return &Error{Status: http.StatusBadRequest, Message: "request body is empty", Err: err}
		default:
			return &Error{Status: http.StatusBadRequest, Message: "invalid JSON body", Err: err}
		}
	}
	if dec.More() {
		return BadRequest("request body must contain a single JSON object")
	}
	return nil
}
