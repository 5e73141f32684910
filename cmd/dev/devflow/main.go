package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chahalrohit/smart-expense-tracker/pkg/config"
)

// devflow walks the auth flow against a running API: health, register,
// login, profile and the protected route.
func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "devflow: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		baseURL  string
		email    string
		password string
	)
	cmd := &cobra.Command{
		Use:          "devflow",
		Short:        "Register, log in and call protected routes on a local API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				baseURL = defaultBaseURL(cfg.HTTPAddr)
			}
			if email == "" {
				email = fmt.Sprintf("devflow-%s@example.com", uuid.NewString()[:8])
			}
			f := &flow{
				base:   strings.TrimRight(baseURL, "/"),
				client: &http.Client{Timeout: 10 * time.Second},
				out:    cmd.OutOrStdout(),
			}
			if err := f.run(cmd.Context(), email, password); err != nil {
				return fmt.Errorf("%w (is the API running at %s?)", err, f.base)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "API base url (defaults to http://localhost<HTTP_ADDR>)")
	cmd.Flags().StringVar(&email, "email", "", "account email (random if omitted)")
	cmd.Flags().StringVar(&password, "password", "devflow-password", "account password")
	return cmd
}

type flow struct {
	base   string
	client *http.Client
	out    io.Writer
}

type authResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func (f *flow) run(ctx context.Context, email, password string) error {
	if _, err := f.call(ctx, http.MethodGet, "/health", "", nil, http.StatusOK); err != nil {
		return err
	}

	creds := map[string]string{"name": "Dev Flow", "email": email, "password": password}
	var reg authResult
	body, err := f.call(ctx, http.MethodPost, "/api/auth/register", "", creds, http.StatusCreated)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, &reg); err != nil {
		return fmt.Errorf("decode register: %w", err)
	}

	var login authResult
	body, err = f.call(ctx, http.MethodPost, "/api/auth/login", "",
		map[string]string{"email": email, "password": password}, http.StatusOK)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, &login); err != nil {
		return fmt.Errorf("decode login: %w", err)
	}
	if login.User.ID != reg.User.ID {
		return fmt.Errorf("login returned user %q, registered %q", login.User.ID, reg.User.ID)
	}

	if _, err := f.call(ctx, http.MethodGet, "/api/auth/me", login.Token, nil, http.StatusOK); err != nil {
		return err
	}
	if _, err := f.call(ctx, http.MethodGet, "/api/protected", login.Token, nil, http.StatusOK); err != nil {
		return err
	}
	if _, err := f.call(ctx, http.MethodGet, "/api/protected", "", nil, http.StatusUnauthorized); err != nil {
		return err
	}

	fmt.Fprintf(f.out, "Flow complete.\n")
	fmt.Fprintf(f.out, "user_id=%s email=%s\n", login.User.ID, login.User.Email)
	fmt.Fprintf(f.out, "token_expires=%s\n", login.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintf(f.out, "\nTry:\n  curl -H 'Authorization: Bearer %s' %s/api/protected\n", login.Token, f.base)
	return nil
}

func (f *flow) call(ctx context.Context, method, path, token string, payload any, want int) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, f.base+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		return nil, fmt.Errorf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, want, string(b))
	}
	fmt.Fprintf(f.out, "%-6s %-20s %d\n", method, path, resp.StatusCode)
	return b, nil
}

// defaultBaseURL turns a bind address such as ":5000" or "0.0.0.0:5000"
// into a url reachable from this machine.
func defaultBaseURL(httpAddr string) string {
	addr := strings.TrimSpace(httpAddr)
	switch {
	case addr == "":
		return "http://localhost:5000"
	case strings.HasPrefix(addr, ":"):
		return "http://localhost" + addr
	case strings.HasPrefix(addr, "0.0.0.0:"):
		return "http://localhost" + strings.TrimPrefix(addr, "0.0.0.0")
	default:
		return "http://" + addr
	}
}
