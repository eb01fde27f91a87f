// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adiadia/vault-flow/internal/chain"
	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/adiadia/vault-flow/internal/metrics"
	"github.com/adiadia/vault-flow/internal/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	DefaultPrefix = "vaultflow"

	// RetentionPeriod is how long terminal entries survive Cleanup.
	RetentionPeriod = 24 * time.Hour
)

const interruptedMessage = "execution interrupted before completion"

var errNoWriter = errors.New("contract writer not configured")

// Notifier is told about every transition into a terminal status.
type Notifier interface {
	Settled(ctx context.Context, tx domain.QueueTransaction, txHash string)
}

type Deps struct {
	Storage  persistence.Storage
	Writer   chain.Writer
	Notifier Notifier
	Validate *validator.Validate
	Logger   *slog.Logger
	Now      func() time.Time
	Prefix   string

	// SkipReceipt marks an entry completed once the relayer accepts it,
	// without waiting for inclusion.
	SkipReceipt bool
}

// Store is the ordered, persisted transaction queue. Every mutation is
// written through to storage; storage failures are logged and the in-memory
// state stays authoritative.
type Store struct {
	mu     sync.Mutex
	execMu sync.Mutex

	storage     persistence.Storage
	writer      chain.Writer
	notifier    Notifier
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
	skipReceipt bool

	txKey     string
	activeKey string

	items  []domain.QueueTransaction
	active string
}

// New builds the store and loads any previously persisted queue.
func New(ctx context.Context, deps Deps) *Store {
	if deps.Storage == nil {
		deps.Storage = persistence.NewMemoryStorage()
	}
	if deps.Validate == nil {
		deps.Validate = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Prefix == "" {
		deps.Prefix = DefaultPrefix
	}

	s := &Store{
		storage:     deps.Storage,
		writer:      deps.Writer,
		notifier:    deps.Notifier,
		validate:    deps.Validate,
		logger:      deps.Logger,
		now:         deps.Now,
		skipReceipt: deps.SkipReceipt,
		txKey:       TransactionsKey(deps.Prefix),
		activeKey:   ActiveKey(deps.Prefix),
	}
	s.load(ctx)
	return s
}

func TransactionsKey(prefix string) string { return prefix + ":queue:transactions" }

func ActiveKey(prefix string) string { return prefix + ":queue:active" }

// Add validates the descriptor and appends a pending entry.
func (s *Store) Add(ctx context.Context, desc domain.TxDescriptor) (domain.QueueTransaction, error) {
	if err := s.validate.Struct(desc); err != nil {
		return domain.QueueTransaction{}, fmt.Errorf("%w: %v", domain.ErrInvalidDescriptor, err)
	}

	now := s.now().UTC()
	tx := domain.QueueTransaction{
		ID:           uuid.NewString(),
		TxDescriptor: desc,
		Status:       domain.TxPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.items = append(s.items, tx)
	s.persistLocked(ctx)
	s.mu.Unlock()

	metrics.IncTransactionStatus(domain.TxPending)
	s.logger.Info("transaction queued",
		"tx_id", tx.ID,
		"type", tx.Type,
		"chain_id", tx.ChainID,
		"contract", tx.ContractAddress,
	)
	return tx, nil
}

// MoveUp swaps the entry with its predecessor. The first entry stays put.
func (s *Store) MoveUp(ctx context.Context, id string) error {
	return s.swap(ctx, id, -1)
}

// MoveDown swaps the entry with its successor. The last entry stays put.
func (s *Store) MoveDown(ctx context.Context, id string) error {
	return s.swap(ctx, id, 1)
}

func (s *Store) swap(ctx context.Context, id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.ErrTransactionNotFound
	}
	j := idx + delta
	if j < 0 || j >= len(s.items) {
		return nil
	}
	s.items[idx], s.items[j] = s.items[j], s.items[idx]
	s.persistLocked(ctx)
	return nil
}

// Remove deletes the entry whatever its status.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.ErrTransactionNotFound
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	if s.active == id {
		s.active = ""
	}
	s.persistLocked(ctx)
	s.logger.Info("transaction removed", "tx_id", id)
	return nil
}

// Cancel moves a pending entry to cancelled.
func (s *Store) Cancel(ctx context.Context, id string) (domain.QueueTransaction, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.QueueTransaction{}, domain.ErrTransactionNotFound
	}
	if s.items[idx].Status != domain.TxPending {
		status := s.items[idx].Status
		s.mu.Unlock()
		return domain.QueueTransaction{}, fmt.Errorf("%w: cannot cancel %s entry", domain.ErrInvalidTransition, status)
	}
	s.items[idx].Status = domain.TxCancelled
	s.items[idx].UpdatedAt = s.now().UTC()
	tx := s.items[idx]
	s.persistLocked(ctx)
	s.mu.Unlock()

	metrics.IncTransactionStatus(domain.TxCancelled)
	s.logger.Info("transaction cancelled", "tx_id", id)
	s.notify(ctx, tx, "")
	return tx, nil
}

// Execute dispatches a pending entry and records the outcome on it. Contract
// failures end in the failed status and are not returned; the error only
// reports a missing entry or an entry that is not pending.
func (s *Store) Execute(ctx context.Context, id string) (domain.QueueTransaction, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	return s.executeLocked(ctx, id)
}

func (s *Store) executeLocked(ctx context.Context, id string) (domain.QueueTransaction, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.QueueTransaction{}, domain.ErrTransactionNotFound
	}
	if s.items[idx].Status != domain.TxPending {
		status := s.items[idx].Status
		s.mu.Unlock()
		return domain.QueueTransaction{}, fmt.Errorf("%w: cannot execute %s entry", domain.ErrInvalidTransition, status)
	}
	s.items[idx].Status = domain.TxExecuting
	s.items[idx].Error = ""
	s.items[idx].UpdatedAt = s.now().UTC()
	s.active = id
	call := s.items[idx].Call()
	s.persistLocked(ctx)
	s.mu.Unlock()

	metrics.IncTransactionStatus(domain.TxExecuting)
	s.logger.Info("transaction executing", "tx_id", id, "function", call.FunctionName)

	start := time.Now()
	txHash, err := s.dispatch(ctx, call)
	metrics.ObserveExecutionDuration(time.Since(start))

	s.mu.Lock()
	if s.active == id {
		s.active = ""
	}
	idx = s.indexLocked(id)
	if idx < 0 {
		s.persistLocked(ctx)
		s.mu.Unlock()
		s.logger.Warn("transaction removed while executing", "tx_id", id, "tx_hash", txHash)
		return domain.QueueTransaction{}, domain.ErrTransactionNotFound
	}
	if err != nil {
		s.items[idx].Status = domain.TxFailed
		s.items[idx].Error = err.Error()
	} else {
		s.items[idx].Status = domain.TxCompleted
	}
	s.items[idx].UpdatedAt = s.now().UTC()
	tx := s.items[idx]
	s.persistLocked(ctx)
	s.mu.Unlock()

	metrics.IncTransactionStatus(tx.Status)
	if err != nil {
		s.logger.Error("transaction failed", "tx_id", id, "tx_hash", txHash, "error", err)
	} else {
		s.logger.Info("transaction completed", "tx_id", id, "tx_hash", txHash)
	}
	s.notify(ctx, tx, txHash)
	return tx, nil
}

func (s *Store) dispatch(ctx context.Context, call domain.ContractCall) (string, error) {
	if s.writer == nil {
		return "", errNoWriter
	}
	txHash, err := s.writer.Write(ctx, call)
	if err != nil {
		return "", err
	}
	if s.skipReceipt {
		return txHash, nil
	}
	if _, err := s.writer.WaitForReceipt(ctx, call.ChainID, txHash); err != nil {
		return txHash, err
	}
	return txHash, nil
}

// Simulate dry-runs the entry's call. The entry is left untouched.
func (s *Store) Simulate(ctx context.Context, id string) (domain.SimulationResult, error) {
	tx, ok := s.Get(id)
	if !ok {
		return domain.SimulationResult{}, domain.ErrTransactionNotFound
	}
	if s.writer == nil {
		return domain.SimulationResult{Error: errNoWriter.Error()}, nil
	}

	out, err := s.writer.Simulate(ctx, tx.Call())
	if err != nil {
		s.logger.Warn("transaction simulation failed", "tx_id", id, "error", err)
		return domain.SimulationResult{Success: false, Simulation: out, Error: err.Error()}, nil
	}
	return domain.SimulationResult{Success: true, Simulation: out}, nil
}

// ExecuteAll runs every pending entry one at a time in queue order. A failed
// entry does not stop the rest. Entries added while the batch runs wait for
// the next call.
func (s *Store) ExecuteAll(ctx context.Context) []domain.QueueTransaction {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	var ids []string
	s.mu.Lock()
	for _, tx := range s.items {
		if tx.Status == domain.TxPending {
			ids = append(ids, tx.ID)
		}
	}
	s.mu.Unlock()

	s.logger.Info("executing queue", "pending", len(ids))

	out := make([]domain.QueueTransaction, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("queue execution stopped", "remaining", len(ids)-len(out), "error", err)
			break
		}
		tx, err := s.executeLocked(ctx, id)
		if err != nil {
			// Removed, cancelled or reordered out of pending since the batch began.
			s.logger.Info("queue entry skipped", "tx_id", id, "error", err)
			continue
		}
		out = append(out, tx)
	}
	return out
}

// ClearAll empties the queue and its storage.
func (s *Store) ClearAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	s.active = ""
	if err := s.storage.RemoveItem(ctx, s.txKey); err != nil {
		s.persistFailed("remove transactions", err)
	}
	if err := s.storage.RemoveItem(ctx, s.activeKey); err != nil {
		s.persistFailed("remove active transaction", err)
	}
	s.logger.Info("queue cleared")
}

// Cleanup purges terminal entries last updated more than RetentionPeriod ago
// and returns how many were removed.
func (s *Store) Cleanup(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	kept := s.items[:0]
	purged := 0
	for _, tx := range s.items {
		if tx.Status.Terminal() && now.Sub(tx.UpdatedAt) > RetentionPeriod {
			purged++
			continue
		}
		kept = append(kept, tx)
	}
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = domain.QueueTransaction{}
	}
	s.items = kept

	if purged > 0 {
		s.persistLocked(ctx)
		metrics.AddCleanupPurged(purged)
		s.logger.Info("queue cleanup", "purged", purged, "remaining", len(kept))
	}
	return purged
}

func (s *Store) List() []domain.QueueTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.QueueTransaction, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Get(id string) (domain.QueueTransaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.QueueTransaction{}, false
	}
	return s.items[idx], true
}

func (s *Store) ByStatus(status domain.TxStatus) []domain.QueueTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.QueueTransaction
	for _, tx := range s.items {
		if tx.Status == status {
			out = append(out, tx)
		}
	}
	return out
}

func (s *Store) PendingCount() int {
	return len(s.ByStatus(domain.TxPending))
}

// ActiveID returns the id of the entry currently executing, if any.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) notify(ctx context.Context, tx domain.QueueTransaction, txHash string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Settled(ctx, tx, txHash)
}
