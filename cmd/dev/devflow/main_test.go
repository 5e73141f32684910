package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chahalrohit/smart-expense-tracker/internal/auth"
	"github.com/chahalrohit/smart-expense-tracker/internal/httpapi"
	"github.com/chahalrohit/smart-expense-tracker/internal/user"
	"github.com/chahalrohit/smart-expense-tracker/pkg/config"
	"github.com/chahalrohit/smart-expense-tracker/pkg/db"
)

type memUsers struct {
	mu    sync.Mutex
	users []user.User
}

func (s *memUsers) Create(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return user.ErrEmailTaken
		}
	}
	s.users = append(s.users, *u)
	return nil
}

func (s *memUsers) find(match func(user.User) bool) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			cp := u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (s *memUsers) FindByEmail(_ context.Context, email string) (*user.User, error) {
	return s.find(func(u user.User) bool { return u.Email == email })
}

func (s *memUsers) FindByID(_ context.Context, id string) (*user.User, error) {
	return s.find(func(u user.User) bool { return u.ID == id })
}

type connected struct{}

func (connected) State() db.ConnectionState { return db.Connected }

func TestFlow_AgainstRouter(t *testing.T) {
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Dependencies{
		Cfg: config.Config{
			Environment: config.Development,
			Auth:        config.AuthConfig{RateLimitRPS: 100, RateLimitBurst: 100},
		},
		DB:     connected{},
		Users:  &memUsers{},
		Tokens: auth.NewTokens("devflow-secret", time.Hour),
	}))
	defer srv.Close()

	var out bytes.Buffer
	f := &flow{base: srv.URL, client: srv.Client(), out: &out}
	require.NoError(t, f.run(context.Background(), "flow@example.com", "longenough"))
	assert.Contains(t, out.String(), "Flow complete.")
	assert.Contains(t, out.String(), "email=flow@example.com")

	err := f.run(context.Background(), "flow@example.com", "longenough")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=409")
}

func TestFlow_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := &flow{base: srv.URL, client: srv.Client(), out: &bytes.Buffer{}}
	err := f.run(context.Background(), "x@example.com", "longenough")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GET /health: status=503")
}

func TestDefaultBaseURL(t *testing.T) {
	tests := map[string]string{
		"":               "http://localhost:5000",
		":8080":          "http://localhost:8080",
		"0.0.0.0:9000":   "http://localhost:9000",
		"127.0.0.1:7000": "http://127.0.0.1:7000",
	}
	for in, want := range tests {
		assert.Equal(t, want, defaultBaseURL(in), in)
	}
}
