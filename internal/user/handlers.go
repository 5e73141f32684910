package user

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chahalrohit/smart-expense-tracker/internal/api"
	"github.com/chahalrohit/smart-expense-tracker/internal/auth"
	"github.com/chahalrohit/smart-expense-tracker/pkg/db"
)

type Store interface {
	Create(ctx context.Context, u *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
}

type TokenIssuer interface {
	Issue(userID string) (string, time.Time, error)
}

// Handlers serve the public /api/auth routes and the caller's profile.
type Handlers struct {
	Users  Store
	Tokens TokenIssuer
	Now    func() time.Time
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *User     `json:"user"`
}

type profileResponse struct {
	Success bool  `json:"success"`
	User    *User `json:"user"`
}

func (h Handlers) Register(w http.ResponseWriter, r *http.Request) error {
	var req registerRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		return err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return api.BadRequest("name, email and password are required")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		return api.BadRequest("invalid email address")
	}

	switch _, err := h.Users.FindByEmail(r.Context(), normalizeEmail(req.Email)); {
	case err == nil:
		return api.Conflict("User already exists")
	case !errors.Is(err, ErrNotFound):
		return storeError(err)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return api.BadRequest(err.Error())
		}
		return err
	}

	now := h.now()
	u := &User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        normalizeEmail(req.Email),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.Users.Create(r.Context(), u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return api.Conflict("User already exists")
		}
		return storeError(err)
	}

	return h.respondWithToken(w, http.StatusCreated, u)
}

func (h Handlers) Login(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return api.BadRequest("email and password are required")
	}

	u, err := h.Users.FindByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return api.Unauthorized("Invalid email or password")
		}
		return storeError(err)
	}
	ok, err := auth.CheckPassword(u.PasswordHash, req.Password)
	if err != nil {
		return err
	}
	if !ok {
		return api.Unauthorized("Invalid email or password")
	}

	return h.respondWithToken(w, http.StatusOK, u)
}

// Me requires BearerAuth.
func (h Handlers) Me(w http.ResponseWriter, r *http.Request) error {
	id, ok := api.IdentityFromContext(r.Context())
	if !ok {
		return api.Unauthorized("Not authorized")
	}
	u, err := h.Users.FindByID(r.Context(), id.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return api.NewError(http.StatusNotFound, "User not found")
		}
		return storeError(err)
	}
	api.WriteJSON(w, http.StatusOK, profileResponse{Success: true, User: u})
	return nil
}

func (h Handlers) respondWithToken(w http.ResponseWriter, status int, u *User) error {
	token, expiresAt, err := h.Tokens.Issue(u.ID)
	if err != nil {
		return err
	}
	api.WriteJSON(w, status, authResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt,
		User:      u,
	})
	return nil
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

func storeError(err error) error {
	if errors.Is(err, db.ErrNotConnected) {
		return &api.Error{Status: http.StatusServiceUnavailable, Message: "Database unavailable", Err: err}
	}
	return err
}
