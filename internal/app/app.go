// SPDX-License-Identifier: Apache-2.0

// Package app wires configuration into the storage backend, relayer client
// and transaction queue shared by the api, worker and cli binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adiadia/vault-flow/internal/chain"
	"github.com/adiadia/vault-flow/internal/config"
	"github.com/adiadia/vault-flow/internal/notify"
	"github.com/adiadia/vault-flow/internal/persistence"
	"github.com/adiadia/vault-flow/internal/persistence/natskv"
	"github.com/adiadia/vault-flow/internal/persistence/postgres"
	"github.com/adiadia/vault-flow/internal/persistence/redisstore"
	"github.com/adiadia/vault-flow/internal/persistence/sqlite"
	"github.com/adiadia/vault-flow/internal/queue"
)

// Backend is an opened storage backend.
type Backend struct {
	Storage persistence.Storage
	// Ready is nil when the backend has nothing to check.
	Ready func(ctx context.Context) error

	closers []func()
}

func (b *Backend) Check(ctx context.Context) error {
	if b == nil || b.Ready == nil {
		return nil
	}
	return b.Ready(ctx)
}

// Close releases the backend's connections in reverse open order.
func (b *Backend) Close() {
	if b == nil {
		return
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// OpenStorage connects the configured backend.
func OpenStorage(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case config.BackendMemory, "":
		logger.Warn("using in-memory storage; the queue will not survive a restart")
		return &Backend{Storage: persistence.NewMemoryStorage()}, nil

	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{
			MaxConns:        cfg.DBMaxConns,
			ApplicationName: "vault-flow",
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
				pool.Close()
				return nil, fmt.Errorf("ensure schema: %w", err)
			}
		}
		checker := postgres.NewSchemaHealthChecker(pool)
		return &Backend{
			Storage: postgres.NewStore(pool, logger),
			Ready:   checker.Check,
			closers: []func(){pool.Close},
		}, nil

	case config.BackendSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &Backend{
			Storage: store,
			Ready:   store.Ping,
			closers: []func(){func() { _ = store.Close() }},
		}, nil

	case config.BackendRedis:
		store, err := redisstore.Open(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		return &Backend{
			Storage: store,
			Ready:   store.Ping,
			closers: []func(){func() { _ = store.Close() }},
		}, nil

	case config.BackendNATS:
		store, err := natskv.Connect(ctx, natskv.Config{
			URL:    cfg.NATSURL,
			Bucket: cfg.NATSBucket,
			Name:   "vault-flow",
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open nats kv: %w", err)
		}
		return &Backend{
			Storage: store,
			Ready:   store.Ping,
			closers: []func(){store.Close},
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// NewRelayer returns nil when no relayer URL is configured; the queue then
// fails every execution with a descriptive error.
func NewRelayer(cfg config.RelayerConfig, logger *slog.Logger) (*chain.RelayerClient, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	return chain.NewRelayerClient(chain.RelayerConfig{
		BaseURL:    cfg.URL,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
}

// NewQueue builds the transaction queue over storage. writer may be nil.
func NewQueue(ctx context.Context, cfg config.Config, storage persistence.Storage, writer chain.Writer, logger *slog.Logger) *queue.Store {
	deps := queue.Deps{
		Storage: storage,
		Writer:  writer,
		Logger:  logger,
		Prefix:  cfg.Storage.Prefix,
	}
	if hook := notify.NewWebhook(notify.Config{
		URL:    cfg.Webhook.URL,
		Secret: cfg.Webhook.Secret,
		Logger: logger,
	}); hook != nil {
		deps.Notifier = hook
	}
	return queue.New(ctx, deps)
}
