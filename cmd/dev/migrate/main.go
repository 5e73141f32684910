package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/chahalrohit/smart-expense-tracker/internal/user"
	"github.com/chahalrohit/smart-expense-tracker/pkg/config"
	"github.com/chahalrohit/smart-expense-tracker/pkg/db"
	"github.com/chahalrohit/smart-expense-tracker/pkg/logger"
)

// migrate connects once and creates the collection indexes the API relies
// on. The server does the same after every connect; this is for setting up a
// fresh database ahead of time.
func main() {
	os.Exit(run(context.Background()))
}

func run(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	log, err := logger.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	return migrate(ctx, db.Open(cfg, log), log)
}

func migrate(ctx context.Context, m *db.Manager, log *zap.Logger) int {
	defer func() {
		if err := m.Close(ctx); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
	}()

	if _, err := m.Connect(ctx); err != nil {
		log.Error("connect failed", zap.Error(err))
		return 1
	}
	if err := user.NewRepository(m).EnsureIndexes(ctx); err != nil {
		log.Error("ensure indexes failed", zap.Error(err))
		return 1
	}
	log.Info("indexes ensured")
	return 0
}
