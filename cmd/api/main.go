package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/homestage/creditcore/internal/api"
	"github.com/homestage/creditcore/internal/config"
	"github.com/homestage/creditcore/internal/infra/logging"
	"github.com/homestage/creditcore/internal/infra/pgutils"
	"github.com/homestage/creditcore/internal/ratelimit"
	auditpg "github.com/homestage/creditcore/internal/repos/audit/postgres"
	"github.com/homestage/creditcore/internal/services/checkout"
	"github.com/homestage/creditcore/internal/services/credits"
	"github.com/homestage/creditcore/pkg/envconf"
	"github.com/homestage/creditcore/pkg/shutdownqueue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	_ = godotenv.Load()

	cfg := new(apiConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdownqueue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	// --- Infra ---
	db, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	shutdownqueue.Add(func(context.Context) error {
		return db.Close()
	})

	limiter := ratelimit.New(newRateLimitStore(cfg.RateLimit), cfg.RateLimit.Max, cfg.RateLimit.Window)

	// --- Services ---
	creditsSrv := credits.New(db)
	checkoutSrv := checkout.New(db, creditsSrv)

	// --- HTTP server ---
	srv := api.NewServer(cfg.Port, creditsSrv, checkoutSrv, auditpg.New(db), limiter)

	shutdownqueue.Add(func(c context.Context) error {
		slog.Info("Shut down server")

		err := srv.Shutdown(c)
		if err != nil {
			return fmt.Errorf("shutdown srv: %w", err)
		}

		return nil
	})

	errCh := make(chan error, 1)

	go func() {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
			return
		}

		errCh <- nil
	}()

	slog.Info("API started", "port", cfg.Port)

	select {
	case <-ctx.Done():
		// graceful path; deferred shutdownqueue.Shutdown will run
		return nil
	case serr := <-errCh:
		if serr != nil {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	}
}

func newRateLimitStore(cfg config.RateLimitConfig) ratelimit.Store {
	if cfg.RedisAddr == "" {
		slog.Info("rate limiter using in-memory windows")

		store := ratelimit.NewMemoryStore()

		// Expired windows of one-off client keys would otherwise pile up in
		// the map for the life of the process.
		ticker := time.NewTicker(cfg.Window)
		done := make(chan struct{})

		go func() {
			for {
				select {
				case <-ticker.C:
					store.Prune(cfg.Window)
				case <-done:
					return
				}
			}
		}()

		shutdownqueue.Add(func(context.Context) error {
			ticker.Stop()
			close(done)

			return nil
		})

		return store
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	shutdownqueue.Add(func(context.Context) error {
		return client.Close()
	})

	slog.Info("rate limiter using redis windows", "addr", cfg.RedisAddr)

	return ratelimit.NewRedisStore(client, "checkout")
}
