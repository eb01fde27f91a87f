// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/adiadia/vault-flow/internal/domain"
)

// Predicate is an async check run before a step executes.
type Predicate func(ctx context.Context) (bool, error)

// ExecutionFunc performs the work of a step, usually a contract write.
type ExecutionFunc func(ctx context.Context) (domain.StepResult, error)

// StepDefinition describes one unit of work. Validation runs first, then
// SkipCondition, then Execution; any of them may be nil.
type StepDefinition struct {
	ID            string
	Title         string
	Description   string
	EstimatedTime time.Duration
	CanSkip       bool

	Validation    Predicate
	SkipCondition Predicate
	Execution     ExecutionFunc
}

// Step is the observable state of a step inside a flow.
type Step struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	EstimatedTime time.Duration     `json:"estimated_time,omitempty"`
	CanSkip       bool              `json:"can_skip"`
	Status        domain.StepStatus `json:"status"`
	Error         string            `json:"error,omitempty"`
	TxHash        string            `json:"tx_hash,omitempty"`
}

func newStep(def StepDefinition, status domain.StepStatus) Step {
	return Step{
		ID:            def.ID,
		Title:         def.Title,
		Description:   def.Description,
		EstimatedTime: def.EstimatedTime,
		CanSkip:       def.CanSkip,
		Status:        status,
	}
}

func validateDefinitions(defs []StepDefinition) error {
	if len(defs) == 0 {
		return fmt.Errorf("%w: no steps", domain.ErrInvalidFlow)
	}

	seen := make(map[string]struct{}, len(defs))
	for i, def := range defs {
		if def.ID == "" {
			return fmt.Errorf("%w: step %d has no id", domain.ErrInvalidFlow, i)
		}
		if _, dup := seen[def.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", domain.ErrInvalidFlow, def.ID)
		}
		seen[def.ID] = struct{}{}
	}
	return nil
}

func initialSteps(defs []StepDefinition) []Step {
	steps := make([]Step, len(defs))
	for i, def := range defs {
		status := domain.StepPending
		if i == 0 {
			status = domain.StepActive
		}
		steps[i] = newStep(def, status)
	}
	return steps
}
