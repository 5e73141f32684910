package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chahalrohit/smart-expense-tracker/internal/api"
	"github.com/chahalrohit/smart-expense-tracker/internal/auth"
	"github.com/chahalrohit/smart-expense-tracker/internal/httpapi"
	"github.com/chahalrohit/smart-expense-tracker/internal/metrics"
	"github.com/chahalrohit/smart-expense-tracker/internal/user"
	"github.com/chahalrohit/smart-expense-tracker/pkg/config"
	"github.com/chahalrohit/smart-expense-tracker/pkg/db"
)

const limiterSweepInterval = time.Minute

// App owns every long-lived component of the API process.
type App struct {
	Cfg     config.Config
	Log     *zap.Logger
	DB      *db.Manager
	Users   *user.Repository
	Tokens  *auth.Tokens
	Metrics *metrics.Metrics
	Limiter *api.IPRateLimiter
	Server  *http.Server

	coord *Coordinator
	// prepare runs once the database is connected. Until it succeeds /ready
	// reports degraded.
	prepare  func(ctx context.Context) error
	prepared atomic.Bool
}

// New wires the application. Nothing is dialed or bound until Run.
func New(cfg config.Config, log *zap.Logger, dbOpts ...db.Option) *App {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{
		Cfg:     cfg,
		Log:     log,
		Metrics: metrics.New(),
		Tokens:  auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry),
		Limiter: api.NewIPRateLimiter(cfg.Auth.RateLimitRPS, cfg.Auth.RateLimitBurst),
	}

	opts := []db.Option{
		db.WithObserver(a.Metrics),
		db.WithObserver(db.ObserverFunc(a.logTransition)),
	}
	a.DB = db.Open(cfg, log, append(opts, dbOpts...)...)
	a.Users = user.NewRepository(a.DB)
	a.prepare = a.Users.EnsureIndexes

	a.Server = &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Dependencies{
			Cfg:         cfg,
			Log:         log,
			DB:          a.DB,
			Users:       a.Users,
			Tokens:      a.Tokens,
			Metrics:     a.Metrics,
			RateLimiter: a.Limiter,
			StartedAt:   time.Now(),
			Ready:       a.ready,
		}),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ErrorLog:          zap.NewStdLog(log.Named("http")),
	}

	a.coord = NewCoordinator(log.Named("shutdown"), cfg.HTTP.ShutdownTimeout,
		Step{Name: "http", Run: a.Server.Shutdown},
		Step{Name: "database", Run: a.DB.Close},
	)
	return a
}

// Coordinator exposes the shutdown coordinator, e.g. to report fatal errors.
func (a *App) Coordinator() *Coordinator {
	return a.coord
}

// Run binds the configured address and serves until shutdown.
func (a *App) Run(ctx context.Context, signals <-chan os.Signal) int {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		a.Log.Error("listen failed", zap.String("addr", a.Server.Addr), zap.Error(err))
		return ExitFailure
	}
	return a.Serve(ctx, ln, signals)
}

// Serve accepts on ln, connects to the database in the background and
// blocks until the coordinator has drained. It returns the exit code.
func (a *App) Serve(ctx context.Context, ln net.Listener, signals <-chan os.Signal) int {
	bg, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Log.Info("starting",
		zap.String("addr", ln.Addr().String()),
		zap.String("version", httpapi.Version),
	)

	a.coord.Go("http server", func() error {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	a.coord.Go("rate limiter sweep", func() error {
		a.Limiter.Run(bg, limiterSweepInterval)
		return nil
	})
	a.coord.Go("database connect", func() error {
		return a.connected(bg, <-a.DB.Start(bg))
	})

	code := a.coord.Wait(ctx, signals)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := a.coord.WaitTasks(waitCtx); err != nil {
		a.Log.Warn("background tasks still running at exit", zap.Error(err))
	}
	return code
}

// connected applies the environment policy to the outcome of the initial
// connect and index setup. Development treats either failing as fatal;
// production keeps serving and reports degraded readiness.
func (a *App) connected(ctx context.Context, res db.Result) error {
	err := res.Err
	if err == nil {
		if err = a.prepare(ctx); err == nil {
			a.prepared.Store(true)
			return nil
		}
		err = fmt.Errorf("ensure user indexes: %w", err)
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, db.ErrClosed):
		return nil
	case a.Cfg.IsProduction():
		a.Log.Error("database unavailable, serving degraded", zap.Error(err))
		return nil
	default:
		return fmt.Errorf("database unavailable: %w", err)
	}
}

var errNotPrepared = errors.New("database setup pending")

func (a *App) ready() error {
	if !a.prepared.Load() {
		return errNotPrepared
	}
	return nil
}

func (a *App) logTransition(from, to db.ConnectionState) {
	a.Log.Debug("database state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}
