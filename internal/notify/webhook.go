// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/avast/retry-go/v4"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 300 * time.Millisecond
	SignatureHeader = "X-Signature"
)

type Payload struct {
	TxID      string          `json:"tx_id"`
	Status    domain.TxStatus `json:"status"`
	Type      domain.TxType   `json:"type"`
	ChainID   int64           `json:"chain_id"`
	TxHash    string          `json:"tx_hash,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Config struct {
	URL      string
	Secret   string
	Attempts uint
	Backoff  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

// Webhook posts an HMAC-signed payload for every settled queue transaction.
type Webhook struct {
	url      string
	secret   string
	attempts uint
	backoff  time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// NewWebhook returns nil when no URL is configured.
func NewWebhook(cfg Config) *Webhook {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		url:      url,
		secret:   cfg.Secret,
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
}

// Settled delivers the notification. Failures are logged, never returned.
func (w *Webhook) Settled(ctx context.Context, tx domain.QueueTransaction, txHash string) {
	if w == nil {
		return
	}
	if err := w.Deliver(ctx, Payload{
		TxID:      tx.ID,
		Status:    tx.Status,
		Type:      tx.Type,
		ChainID:   tx.ChainID,
		TxHash:    txHash,
		Error:     tx.Error,
		UpdatedAt: tx.UpdatedAt,
	}); err != nil {
		w.logger.Error("webhook retries exhausted",
			"tx_id", tx.ID,
			"status", tx.Status,
			"error", err,
		)
	}
}

func (w *Webhook) Deliver(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	signature := Sign(w.secret, body)

	attempt := 0
	return retry.Do(
		func() error {
			attempt++
			return w.post(ctx, body, signature, p, attempt)
		},
		retry.Context(ctx),
		retry.Attempts(w.attempts),
		retry.Delay(w.backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func (w *Webhook) post(ctx context.Context, body []byte, signature string, p Payload, attempt int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("webhook failure",
			"tx_id", p.TxID,
			"status", p.Status,
			"attempt", attempt,
			"error", err,
		)
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		w.logger.Info("webhook success",
			"tx_id", p.TxID,
			"status", p.Status,
			"attempt", attempt,
			"response_status", resp.StatusCode,
		)
		return nil
	}

	w.logger.Warn("webhook failure",
		"tx_id", p.TxID,
		"status", p.Status,
		"attempt", attempt,
		"response_status", resp.StatusCode,
	)
	return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
}

// Sign returns the hex HMAC-SHA256 of payload, or "" without a secret.
func Sign(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
