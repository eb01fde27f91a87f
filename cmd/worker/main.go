// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/vault-flow/internal/app"
	"github.com/adiadia/vault-flow/internal/chain"
	"github.com/adiadia/vault-flow/internal/config"
	"github.com/adiadia/vault-flow/internal/logging"
	"github.com/adiadia/vault-flow/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger(cfg.Env, "vault-flow-worker")

	backend, err := app.OpenStorage(ctx, cfg.Storage, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer backend.Close()

	var writer chain.Writer
	if cfg.Worker.AutoExecute {
		relayer, err := app.NewRelayer(cfg.Relayer, logger)
		if err != nil {
			log.Fatalf("relayer: %v", err)
		}
		if relayer == nil {
			log.Fatal("WORKER_AUTO_EXECUTE requires RELAYER_URL")
		}
		writer = relayer
	}

	q := app.NewQueue(ctx, cfg, backend.Storage, writer, logger)

	logger.Info("worker started",
		"cleanup_interval", cfg.Worker.CleanupInterval.String(),
		"auto_execute", cfg.Worker.AutoExecute,
	)

	ticker := time.NewTicker(cfg.Worker.CleanupInterval)
	defer ticker.Stop()

	for {
		processOnce(ctx, q, cfg.Worker.AutoExecute)

		select {
		case <-ctx.Done():
			logger.Info("worker stopped")
			return
		case <-ticker.C:
		}
	}
}

func processOnce(ctx context.Context, q *queue.Store, autoExecute bool) {
	q.Cleanup(ctx)
	if autoExecute && q.PendingCount() > 0 {
		q.ExecuteAll(ctx)
	}
}
