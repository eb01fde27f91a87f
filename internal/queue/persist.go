// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/adiadia/vault-flow/internal/metrics"
)

// load restores the queue from storage. Missing or unreadable data leaves
// the queue empty.
func (s *Store) load(ctx context.Context) {
	raw, found, err := s.storage.GetItem(ctx, s.txKey)
	if err != nil {
		s.logger.Error("queue load failed", "key", s.txKey, "error", err)
		return
	}
	if !found || raw == "" {
		return
	}

	items, err := decodeItems(raw)
	if err != nil {
		s.logger.Error("queue data corrupt, starting empty", "key", s.txKey, "error", err)
		return
	}

	active, _, err := s.storage.GetItem(ctx, s.activeKey)
	if err != nil {
		s.logger.Warn("active transaction load failed", "key", s.activeKey, "error", err)
	}

	// Nothing survives a restart in flight.
	interrupted := 0
	for i := range items {
		if items[i].Status == domain.TxExecuting {
			items[i].Status = domain.TxFailed
			items[i].Error = interruptedMessage
			items[i].UpdatedAt = s.now().UTC()
			interrupted++
		}
	}

	s.mu.Lock()
	s.items = items
	s.active = ""
	if interrupted > 0 || active != "" {
		s.persistLocked(ctx)
	}
	s.mu.Unlock()

	s.logger.Info("queue loaded", "transactions", len(items), "interrupted", interrupted)
}

// decodeItems keeps numeric call arguments as json.Number so uint256 values
// survive a reload unchanged.
func decodeItems(raw string) ([]domain.QueueTransaction, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var items []domain.QueueTransaction
	if err := dec.Decode(&items); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after queue document")
	}
	return items, nil
}

// persistLocked writes the collection and the active id. Must hold s.mu.
func (s *Store) persistLocked(ctx context.Context) {
	items := s.items
	if items == nil {
		items = []domain.QueueTransaction{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		s.persistFailed("encode transactions", err)
		return
	}
	if err := s.storage.SetItem(ctx, s.txKey, string(data)); err != nil {
		s.persistFailed("save transactions", err)
	}

	if s.active == "" {
		err = s.storage.RemoveItem(ctx, s.activeKey)
	} else {
		err = s.storage.SetItem(ctx, s.activeKey, s.active)
	}
	if err != nil {
		s.persistFailed("save active transaction", err)
	}
}

func (s *Store) persistFailed(op string, err error) {
	metrics.IncPersistFailures()
	s.logger.Error("queue persist failed", "op", op, "error", err)
}
