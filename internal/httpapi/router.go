package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/chahalrohit/smart-expense-tracker/internal/api"
	"github.com/chahalrohit/smart-expense-tracker/internal/auth"
	"github.com/chahalrohit/smart-expense-tracker/internal/metrics"
	"github.com/chahalrohit/smart-expense-tracker/internal/user"
	"github.com/chahalrohit/smart-expense-tracker/pkg/config"
	"github.com/chahalrohit/smart-expense-tracker/pkg/db"
)

const Version = "1.0.0"

type StateReader interface {
	State() db.ConnectionState
}

type Dependencies struct {
	Cfg         config.Config
	Log         *zap.Logger
	DB          StateReader
	Users       user.Store
	Tokens      *auth.Tokens
	Metrics     *metrics.Metrics
	RateLimiter *api.IPRateLimiter
	StartedAt   time.Time
	// Ready is consulted by /ready once the database is connected.
	Ready func() error
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	if deps.RateLimiter == nil {
		deps.RateLimiter = api.NewIPRateLimiter(deps.Cfg.Auth.RateLimitRPS, deps.Cfg.Auth.RateLimitBurst)
	}

	errs := api.Errors{Production: deps.Cfg.IsProduction(), Log: deps.Log}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	// Forwarding headers are client controlled unless a proxy rewrites them.
	if deps.Cfg.HTTP.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(api.RequestLogger(deps.Log.Named("http")))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	r.Use(errs.Recoverer)
	r.Use(api.CORSMiddleware(api.CORSOptions{
		AllowAll:       !deps.Cfg.IsProduction(),
		AllowedOrigins: deps.Cfg.AllowedOrigins,
	}))
	if deps.Cfg.HTTP.MaxBodyBytes > 0 {
		r.Use(api.MaxBodySize(deps.Cfg.HTTP.MaxBodyBytes))
	}

	r.NotFound(api.NotFound)
	r.MethodNotAllowed(api.NotFound)

	sys := systemHandlers{cfg: deps.Cfg, db: deps.DB, ready: deps.Ready, startedAt: deps.StartedAt}
	r.Get("/", sys.Root)
	r.Get("/health", sys.Health)
	r.Get("/ready", sys.Ready)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	userHandlers := user.Handlers{Users: deps.Users, Tokens: deps.Tokens}
	bearer := api.BearerAuth(deps.Tokens)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(api.RateLimit(deps.RateLimiter))
				r.Post("/register", errs.Handle(userHandlers.Register))
				r.Post("/login", errs.Handle(userHandlers.Login))
			})
			r.With(bearer).Get("/me", errs.Handle(userHandlers.Me))
		})

		r.Group(func(r chi.Router) {
			r.Use(bearer)
			r.Get("/protected", protected)
		})
	})

	return r
}
