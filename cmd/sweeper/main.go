// The sweeper binary runs one reconciliation pass and exits; scheduling is
// external (cron). Per-order failures are summarized, not fatal: the exit
// code reflects only whether the run itself could execute.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/homestage/creditcore/internal/config"
	"github.com/homestage/creditcore/internal/infra/logging"
	"github.com/homestage/creditcore/internal/infra/pgutils"
	"github.com/homestage/creditcore/internal/notify"
	"github.com/homestage/creditcore/internal/payments"
	"github.com/homestage/creditcore/internal/services/checkout"
	"github.com/homestage/creditcore/internal/services/credits"
	"github.com/homestage/creditcore/internal/services/sweeper"
	"github.com/homestage/creditcore/pkg/envconf"
	"github.com/homestage/creditcore/pkg/shutdownqueue"
)

type sweeperConfig struct {
	LogLevel slog.Level `env:"APP_LOG_LEVEL"`
	Postgres config.PostgresConfig
	Stripe   config.StripeConfig
	Notify   config.NotifyConfig
	Sweep    config.SweepConfig
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running sweeper: %v", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	_ = godotenv.Load()

	cfg := new(sweeperConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel)

	defer func() {
		serr := shutdownqueue.Shutdown(context.Background())
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	db, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	shutdownqueue.Add(func(context.Context) error {
		return db.Close()
	})

	notifier, err := newNotifier(cfg.Notify)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}

	provider := payments.NewStripeClient(cfg.Stripe.APIURL, cfg.Stripe.SecretKey, cfg.Stripe.Timeout)

	creditsSrv := credits.New(db)
	checkoutSrv := checkout.New(db, creditsSrv)

	sweepSrv := sweeper.New(db, checkoutSrv, provider, notifier, sweeper.Config{
		BatchLimit:     cfg.Sweep.BatchLimit,
		QueryTimeout:   cfg.Sweep.QueryTimeout,
		EscalateFactor: cfg.Sweep.EscalateFactor,
	})

	summary, err := sweepSrv.Sweep(ctx, cfg.Sweep.Staleness)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	slog.Info("sweep finished",
		"checked", summary.Checked,
		"repaired", summary.Repaired,
		"failed", summary.Failed,
	)

	return nil
}

func newNotifier(cfg config.NotifyConfig) (notify.Notifier, error) {
	if cfg.NATSURL == "" {
		return notify.LogNotifier{}, nil
	}

	n, err := notify.NewNATSNotifier(cfg.NATSURL, cfg.Subject)
	if err != nil {
		return nil, err
	}

	shutdownqueue.Add(func(context.Context) error {
		return n.Close()
	})

	return n, nil
}
