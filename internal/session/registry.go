// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/adiadia/vault-flow/internal/flow"
	"github.com/google/uuid"
)

const DefaultTTL = 30 * time.Minute

// Enqueuer is the part of the transaction queue a session needs.
type Enqueuer interface {
	Add(ctx context.Context, desc domain.TxDescriptor) (domain.QueueTransaction, error)
}

type Deps struct {
	Queue  Enqueuer
	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

type CreateOptions struct {
	Label string
	// Enqueue is added to the queue once the flow completes without error.
	Enqueue *domain.TxDescriptor
}

// Session is one live flow. Executor is safe for concurrent use.
type Session struct {
	ID        string
	Label     string
	Executor  *flow.Executor
	CreatedAt time.Time

	mu         sync.Mutex
	lastSeen   time.Time
	enqueuedID string
	enqueueErr string
}

type Snapshot struct {
	ID           string     `json:"id"`
	Label        string     `json:"label,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	EnqueuedTxID string     `json:"enqueued_tx_id,omitempty"`
	EnqueueError string     `json:"enqueue_error,omitempty"`
	State        flow.State `json:"state"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	enqueued, enqueueErr := s.enqueuedID, s.enqueueErr
	s.mu.Unlock()

	return Snapshot{
		ID:           s.ID,
		Label:        s.Label,
		CreatedAt:    s.CreatedAt,
		EnqueuedTxID: enqueued,
		EnqueueError: enqueueErr,
		State:        s.Executor.State(),
	}
}

// Registry holds live flows keyed by id and drops the ones left idle longer
// than the TTL.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	queue  Enqueuer
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewRegistry(deps Deps) *Registry {
	if deps.TTL <= 0 {
		deps.TTL = DefaultTTL
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		queue:    deps.Queue,
		ttl:      deps.TTL,
		now:      deps.Now,
		logger:   deps.Logger,
	}
}

func (r *Registry) Create(defs []flow.StepDefinition, opts CreateOptions) (*Session, error) {
	now := r.now()
	s := &Session{
		ID:        uuid.NewString(),
		Label:     opts.Label,
		CreatedAt: now,
		lastSeen:  now,
	}

	flowOpts := flow.Options{
		ID:     s.ID,
		Logger: r.logger,
	}
	if opts.Enqueue != nil {
		desc := *opts.Enqueue
		flowOpts.OnSuccess = func([]domain.StepResult) {
			r.enqueue(s, desc)
		}
	}

	e, err := flow.New(defs, flowOpts)
	if err != nil {
		return nil, err
	}
	s.Executor = e

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.logger.Info("flow session created", "flow_id", s.ID, "label", s.Label, "steps", len(defs))
	return s, nil
}

func (r *Registry) enqueue(s *Session, desc domain.TxDescriptor) {
	if r.queue == nil {
		r.logger.Warn("flow completed but no queue configured", "flow_id", s.ID)
		return
	}
	// The flow outlives the request that finished it.
	tx, err := r.queue.Add(context.Background(), desc)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.enqueueErr = err.Error()
		r.logger.Error("enqueue after flow failed", "flow_id", s.ID, "error", err)
		return
	}
	s.enqueuedID = tx.ID
	r.logger.Info("flow result enqueued", "flow_id", s.ID, "tx_id", tx.ID)
}

// Get returns the session and refreshes its idle timer.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, domain.ErrFlowNotFound
	}

	s.mu.Lock()
	s.lastSeen = r.now()
	s.mu.Unlock()
	return s, nil
}

func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return domain.ErrFlowNotFound
	}
	delete(r.sessions, id)
	r.logger.Info("flow session deleted", "flow_id", id)
	return nil
}

// List returns snapshots ordered by creation time.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	out := make([]Snapshot, len(sessions))
	for i, s := range sessions {
		out[i] = s.Snapshot()
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Prune drops sessions idle for longer than the TTL. A session with a step
// in flight is kept.
func (r *Registry) Prune() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	for id, s := range r.sessions {
		s.mu.Lock()
		idle := s.lastSeen.Before(cutoff)
		s.mu.Unlock()
		if !idle || s.Executor.State().IsExecuting {
			continue
		}
		delete(r.sessions, id)
		pruned++
	}
	if pruned > 0 {
		r.logger.Info("flow sessions pruned", "pruned", pruned, "remaining", len(r.sessions))
	}
	return pruned
}

// Run prunes on every tick until ctx ends.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Prune()
		}
	}
}
