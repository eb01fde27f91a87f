// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/adiadia/vault-flow/internal/flow"
	"github.com/adiadia/vault-flow/internal/session"
)

type QueueService interface {
	Add(ctx context.Context, desc domain.TxDescriptor) (domain.QueueTransaction, error)
	List() []domain.QueueTransaction
	ByStatus(status domain.TxStatus) []domain.QueueTransaction
	Get(id string) (domain.QueueTransaction, bool)
	PendingCount() int
	ActiveID() string
	Execute(ctx context.Context, id string) (domain.QueueTransaction, error)
	ExecuteAll(ctx context.Context) []domain.QueueTransaction
	Simulate(ctx context.Context, id string) (domain.SimulationResult, error)
	Cancel(ctx context.Context, id string) (domain.QueueTransaction, error)
	Remove(ctx context.Context, id string) error
	MoveUp(ctx context.Context, id string) error
	MoveDown(ctx context.Context, id string) error
	ClearAll(ctx context.Context)
	Cleanup(ctx context.Context) int
}

type FlowRegistry interface {
	Create(defs []flow.StepDefinition, opts session.CreateOptions) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Delete(id string) error
	List() []session.Snapshot
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
