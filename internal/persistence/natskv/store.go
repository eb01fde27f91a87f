// SPDX-License-Identifier: Apache-2.0

package natskv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adiadia/vault-flow/internal/persistence"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const DefaultBucket = "vaultflow"

var _ persistence.Storage = (*Store)(nil)

type Config struct {
	URL    string
	Bucket string
	Name   string
}

// Store keeps items in a JetStream key-value bucket.
type Store struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	logger *slog.Logger
}

// Connect dials NATS and ensures the bucket exists.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}

	nc, err := nats.Connect(url,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Warn("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	kv, err := EnsureKV(ctx, js, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "vault-flow transaction queue",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Store{nc: nc, kv: kv, logger: logger}, nil
}

// NewStore wraps an existing bucket handle.
func NewStore(kv jetstream.KeyValue, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

// EnsureKV returns the bucket named in cfg, creating it when missing.
func EnsureKV(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("lookup kv bucket %s: %w", cfg.Bucket, err)
	}
	kv, err = js.CreateKeyValue(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kv bucket %s: %w", cfg.Bucket, err)
	}
	return kv, nil
}

func (s *Store) Close() {
	if s.nc != nil && !s.nc.IsClosed() {
		s.nc.Close()
	}
}

// Ping reports whether the connection is currently usable.
func (s *Store) Ping(ctx context.Context) error {
	if s.nc == nil {
		return nil
	}
	if status := s.nc.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection %s", status)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, key string) (string, bool, error) {
	entry, err := s.kv.Get(ctx, EncodeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		s.logger.Error("kv get failed", "key", key, "error", err)
		return "", false, err
	}
	return string(entry.Value()), true, nil
}

func (s *Store) SetItem(ctx context.Context, key, value string) error {
	if _, err := s.kv.Put(ctx, EncodeKey(key), []byte(value)); err != nil {
		s.logger.Error("kv put failed", "key", key, "error", err)
		return err
	}
	return nil
}

func (s *Store) RemoveItem(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, EncodeKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		s.logger.Error("kv delete failed", "key", key, "error", err)
		return err
	}
	return nil
}

// EncodeKey maps storage keys onto the KV key alphabet; ':' becomes '.'.
func EncodeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '/' || r == '=' || r == '.':
			return r
		case r == ':':
			return '.'
		default:
			return '_'
		}
	}, key)
}
