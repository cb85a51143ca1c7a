package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"

	"github.com/mxgate/mxgate/internal/backup"
	"github.com/mxgate/mxgate/internal/collab"
	"github.com/mxgate/mxgate/internal/config"
	"github.com/mxgate/mxgate/internal/engine"
	_ "github.com/mxgate/mxgate/internal/engine/enginemem"
	"github.com/mxgate/mxgate/internal/observability"
	"github.com/mxgate/mxgate/internal/pollcache"
	"github.com/mxgate/mxgate/internal/server"
	"github.com/mxgate/mxgate/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mxgated: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "mxgate.toml", "path to TOML configuration")
	flag.Parse()

	observability.InitLogger("mxgated")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	key, err := cfg.Key()
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg.EngineAdapter, nil)
	if err != nil {
		return err
	}

	pool, err := ants.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	defer pool.Release()

	var publisher collab.EventPublisher
	if cfg.WebhookURL != "" {
		publisher = collab.NewWebhookPublisher(cfg.WebhookURL, collab.StaticTokenProvider(cfg.WebhookToken))
		log.Info().Str("url", cfg.WebhookURL).Msg("forwarding events to webhook")
	}

	backups := backup.NewService(cfg.CredentialRoot, cfg.BackupDir, key)
	ctrl := session.NewController(session.Options{
		Engine:    eng,
		Backups:   backups,
		Cache:     pollcache.New(cfg.CacheCapacity),
		Publisher: publisher,
		Pool:      pool,
		Timing: session.Timing{
			CreateWait:       cfg.CreateWait.Std(),
			QRExpiry:         cfg.QRExpiry.Std(),
			ReconnectBackoff: cfg.ReconnectBackoff.Std(),
			RetryBudget:      cfg.RetryBudget,
			BackupDelay:      cfg.BackupDelay.Std(),
			BackupKeep:       cfg.BackupKeep,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Restore any missing credential directories before resuming sessions,
	// then keep scanning on the interval.
	scanner := backup.NewScanner(backups, ctrl.KnownInstances, cfg.ScanInterval.Std())
	scanner.Bootstrap()
	if resumed := ctrl.ResumeExisting(); resumed > 0 {
		log.Info().Int("count", resumed).Msg("sessions resumed from credential root")
	}
	go scanner.Run(ctx)

	srv := server.New(server.Options{
		Controller: ctrl,
		Backups:    backups,
		APIToken:   cfg.APIToken,
		AdminToken: cfg.AdminToken,
	})

	err = srv.Run(ctx, cfg.Addr)
	ctrl.Shutdown()
	return err
}
