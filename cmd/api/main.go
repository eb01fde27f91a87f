// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/vault-flow/internal/app"
	"github.com/adiadia/vault-flow/internal/chain"
	"github.com/adiadia/vault-flow/internal/config"
	"github.com/adiadia/vault-flow/internal/logging"
	"github.com/adiadia/vault-flow/internal/queue"
	"github.com/adiadia/vault-flow/internal/session"
	httptransport "github.com/adiadia/vault-flow/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env, "vault-flow-api")

	backend, err := app.OpenStorage(ctx, cfg.Storage, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer backend.Close()

	relayer, err := app.NewRelayer(cfg.Relayer, logger)
	if err != nil {
		log.Fatalf("relayer: %v", err)
	}
	var client chain.Client
	if relayer != nil {
		client = relayer
	} else {
		logger.Warn("RELAYER_URL not set; transactions cannot be dispatched")
	}

	q := app.NewQueue(ctx, cfg, backend.Storage, client, logger)

	flows := session.NewRegistry(session.Deps{
		Queue:  q,
		TTL:    cfg.FlowTTL,
		Logger: logger,
	})
	go flows.Run(ctx, time.Minute)
	go sweepQueue(ctx, q, cfg.Worker.CleanupInterval)

	handler := httptransport.NewRouter(httptransport.Deps{
		Queue:           q,
		Flows:           flows,
		Chain:           client,
		Health:          backend,
		Logger:          logger,
		AdminToken:      cfg.AdminToken,
		Version:         Version,
		Commit:          Commit,
		BuildDate:       BuildDate,
		RateLimitPerMin: cfg.RateLimit,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"storage", cfg.Storage.Backend,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}

// sweepQueue purges expired terminal entries until ctx ends.
func sweepQueue(ctx context.Context, q *queue.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Cleanup(ctx)
		}
	}
}
