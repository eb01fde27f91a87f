// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/adiadia/vault-flow/internal/queue"
)

var _ queue.Notifier = (*Webhook)(nil)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     make(http.Header),
	}
}

func settledTx() domain.QueueTransaction {
	return domain.QueueTransaction{
		ID: "tx-1",
		TxDescriptor: domain.TxDescriptor{
			Type:    domain.TxDeposit,
			ChainID: 8453,
		},
		Status:    domain.TxFailed,
		Error:     "insufficient balance",
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestNewWebhookWithoutURL(t *testing.T) {
	if w := NewWebhook(Config{URL: "  "}); w != nil {
		t.Fatal("expected nil webhook without url")
	}

	var w *Webhook
	w.Settled(context.Background(), settledTx(), "")
}

func TestSettledRetriesAndSigns(t *testing.T) {
	var attempts int32
	secret := "super-secret"
	tx := settledTx()

	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		current := atomic.AddInt32(&attempts, 1)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}

		gotSig := r.Header.Get(SignatureHeader)
		wantSig := Sign(secret, body)
		if gotSig != wantSig {
			t.Fatalf("expected signature %q got %q", wantSig, gotSig)
		}

		var payload Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if payload.TxID != tx.ID || payload.Status != domain.TxFailed {
			t.Fatalf("unexpected payload %+v", payload)
		}
		if payload.Error != "insufficient balance" || payload.TxHash != "0xabc" {
			t.Fatalf("expected error and hash in payload got %+v", payload)
		}
		if !payload.UpdatedAt.Equal(tx.UpdatedAt) {
			t.Fatalf("expected updated_at %s got %s", tx.UpdatedAt, payload.UpdatedAt)
		}

		if current < 3 {
			return respond(http.StatusInternalServerError), nil
		}
		return respond(http.StatusOK), nil
	})}

	w := NewWebhook(Config{
		URL:     "http://webhook.local/callback",
		Secret:  secret,
		Backoff: time.Millisecond,
		Client:  client,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	w.Settled(context.Background(), tx, "0xabc")

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 webhook attempts got %d", got)
	}
}

func TestDeliverStopsAfterRetryLimit(t *testing.T) {
	var attempts int32
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&attempts, 1)
		if r.Header.Get(SignatureHeader) != "" {
			t.Fatal("expected no signature without secret")
		}
		return respond(http.StatusInternalServerError), nil
	})}

	w := NewWebhook(Config{
		URL:     "http://webhook.local/callback",
		Backoff: time.Millisecond,
		Client:  client,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	if err := w.Deliver(context.Background(), Payload{TxID: "tx-2", Status: domain.TxCompleted}); err == nil {
		t.Fatal("expected error after retries")
	}
	if got := atomic.LoadInt32(&attempts); got != DefaultAttempts {
		t.Fatalf("expected %d attempts got %d", DefaultAttempts, got)
	}
}

func TestDeliverHonoursCancelledContext(t *testing.T) {
	var attempts int32
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&attempts, 1)
		return respond(http.StatusBadGateway), nil
	})}

	w := NewWebhook(Config{
		URL:      "http://webhook.local/callback",
		Attempts: 5,
		Backoff:  time.Hour,
		Client:   client,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := w.Deliver(ctx, Payload{TxID: "tx-3"}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("expected delivery to stop when context ends")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected a single attempt before cancellation got %d", got)
	}
}

func TestSignEmptySecret(t *testing.T) {
	if got := Sign(" ", []byte("x")); got != "" {
		t.Fatalf("expected empty signature got %q", got)
	}
	if Sign("k", []byte("x")) == Sign("k", []byte("y")) {
		t.Fatal("expected signature to depend on payload")
	}
}
