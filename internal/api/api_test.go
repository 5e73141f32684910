package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chahalrohit/smart-expense-tracker/internal/auth"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestBearerAuth(t *testing.T) {
	tokens := auth.NewTokens("secret", time.Hour)
	valid, _, err := tokens.Issue("user-42")
	require.NoError(t, err)

	var ran bool
	protected := BearerAuth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		id, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		WriteJSON(w, http.StatusOK, map[string]string{"userId": id.UserID})
	}))

	tests := []struct {
		name   string
		header string
		status int
		kind   string
	}{
		{"missing", "", http.StatusUnauthorized, string(auth.KindMissing)},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, string(auth.KindMissing)},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized, string(auth.KindInvalid)},
		{"wrong scheme", "Token " + valid, http.StatusUnauthorized, string(auth.KindInvalid)},
		{"valid", "Bearer " + valid, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ran = false
			req := httptest.NewRequest(http.MethodGet, "/api/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.True(t, ran)
				assert.JSONEq(t, `{"userId":"user-42"}`, rec.Body.String())
				return
			}
			assert.False(t, ran, "protected handler must not run")
			body := decodeError(t, rec)
			assert.False(t, body.Success)
			assert.Equal(t, tt.kind, body.Kind)
		})
	}
}

func TestIdentityFromContext_Absent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := IdentityFromContext(req.Context())
	assert.False(t, ok)
}

func TestErrors_Handle(t *testing.T) {
	tests := []struct {
		name       string
		production bool
		err        error
		status     int
		message    string
	}{
		{"api error dev", false, Conflict("email already registered"), http.StatusConflict, "email already registered"},
		{"api error prod", true, Conflict("email already registered"), http.StatusConflict, "email already registered"},
		{"plain error dev", false, errors.New("db exploded"), http.StatusInternalServerError, "db exploded"},
		{"plain error prod", true, errors.New("db exploded"), http.StatusInternalServerError, "Internal Server Error"},
		{"wrapped api error", false, errWrap(ServiceUnavailable("database unavailable")), http.StatusServiceUnavailable, "database unavailable"},
		{"503 prod", true, ServiceUnavailable("database unavailable"), http.StatusServiceUnavailable, "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Errors{Production: tt.production}
			h := b.Handle(func(w http.ResponseWriter, r *http.Request) error { return tt.err })
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.False(t, body.Success)
			assert.Equal(t, tt.message, body.Error)
			assert.Empty(t, body.Stack)
		})
	}
}

func errWrap(err error) error {
	return &wrapped{err}
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return "outer: " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

func TestRecoverer(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("kaboom") })

	rec := httptest.NewRecorder()
	Errors{}.Recoverer(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "panic: kaboom", body.Error)
	assert.NotEmpty(t, body.Stack)

	rec = httptest.NewRecorder()
	Errors{Production: true}.Recoverer(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body = decodeError(t, rec)
	assert.Equal(t, "Internal Server Error", body.Error)
	assert.Empty(t, body.Stack)
}

func TestNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, httptest.NewRequest(http.MethodDelete, "/nope/here", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Route not found: DELETE /nope/here"}`, rec.Body.String())
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	strict := CORSMiddleware(CORSOptions{AllowedOrigins: []string{"https://app.example.com/"}})(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	strict.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	strict.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	open := CORSMiddleware(CORSOptions{AllowAll: true})(next)
	req = httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:1234")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:1234", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestRateLimit(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := NewIPRateLimiter(1, 2)
	rl.now = func() time.Time { return now }
	h := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	now = now.Add(time.Hour)
	assert.Equal(t, 2, rl.Sweep())
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Email string `json:"email"`
	}
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"ok", `{"email":"a@b.c"}`, 0},
		{"empty", ``, http.StatusBadRequest},
		{"malformed", `{"email":`, http.StatusBadRequest},
		{"extra field ignored", `{"email":"a@b.c","confirmEmail":"a@b.c"}`, 0},
		{"trailing", `{"email":"a"}{"email":"b"}`, http.StatusBadRequest},
		{"too large", `{"email":"` + strings.Repeat("x", 100) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, 64)
			var p payload
			err := DecodeJSON(req, &p)
			if tt.status == 0 {
				require.NoError(t, err)
				assert.Equal(t, "a@b.c", p.Email)
				return
			}
			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 32)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
