// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/adiadia/vault-flow/internal/metrics"
)

const defaultFailureMessage = "step failed"

type Options struct {
	// ID only labels log lines.
	ID                 string
	Logger             *slog.Logger
	DisableAutoAdvance bool
	OnSuccess          func(results []domain.StepResult)
	OnError            func(message string, stepID string)
}

// State is a point-in-time copy of a flow.
type State struct {
	Steps            []Step              `json:"steps"`
	CurrentStepIndex int                 `json:"current_step_index"`
	IsExecuting      bool                `json:"is_executing"`
	Results          []domain.StepResult `json:"results"`
	IsCompleted      bool                `json:"is_completed"`
	HasError         bool                `json:"has_error"`
}

// Executor drives a fixed ordered list of steps. At most one step executes
// at a time; the mutex is not held while step callbacks run.
type Executor struct {
	mu sync.Mutex

	id          string
	logger      *slog.Logger
	autoAdvance bool
	onSuccess   func(results []domain.StepResult)
	onError     func(message string, stepID string)

	defs      []StepDefinition
	steps     []Step
	current   int
	executing bool
	results   []domain.StepResult
	notified  bool

	// generation changes on Reset so late outcomes of an abandoned run are dropped.
	generation uint64
}

// New initialises a flow with the first step active.
func New(defs []StepDefinition, opts Options) (*Executor, error) {
	if err := validateDefinitions(defs); err != nil {
		return nil, err
	}

	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}

	owned := make([]StepDefinition, len(defs))
	copy(owned, defs)

	return &Executor{
		id:          opts.ID,
		logger:      l,
		autoAdvance: !opts.DisableAutoAdvance,
		onSuccess:   opts.OnSuccess,
		onError:     opts.OnError,
		defs:        owned,
		steps:       initialSteps(owned),
	}, nil
}

// ExecuteStep runs validation, skip condition and execution of the active
// step. Step failures are recorded on the flow and reported through OnError;
// the returned error only signals that the call was ignored.
func (e *Executor) ExecuteStep(ctx context.Context, stepID string) error {
	e.mu.Lock()
	idx, ok := e.indexOf(stepID)
	if !ok {
		e.mu.Unlock()
		e.logger.Warn("execute ignored: unknown step", "flow_id", e.id, "step_id", stepID)
		return domain.ErrStepNotFound
	}
	if e.executing {
		e.mu.Unlock()
		e.logger.Warn("execute ignored: flow busy", "flow_id", e.id, "step_id", stepID)
		return domain.ErrFlowBusy
	}
	if idx != e.current || e.steps[idx].Status != domain.StepActive {
		status := e.steps[idx].Status
		e.mu.Unlock()
		e.logger.Warn("execute ignored: step not active",
			"flow_id", e.id,
			"step_id", stepID,
			"status", status,
		)
		return domain.ErrStepNotActive
	}

	e.executing = true
	gen := e.generation
	def := e.defs[idx]
	e.mu.Unlock()

	settled := false
	defer func() {
		if settled {
			return
		}
		e.mu.Lock()
		if e.generation == gen {
			e.executing = false
		}
		e.mu.Unlock()
	}()

	e.logger.Info("step executing", "flow_id", e.id, "step_id", stepID)

	status, result := runStep(ctx, def)
	settled = true
	e.settle(gen, idx, status, result)
	return nil
}

func runStep(ctx context.Context, def StepDefinition) (domain.StepStatus, domain.StepResult) {
	if def.Validation != nil {
		ok, err := def.Validation(ctx)
		if err != nil {
			return domain.StepError, domain.FailedResult(domain.PhaseValidation, err.Error())
		}
		if !ok {
			return domain.StepError, domain.FailedResult(domain.PhaseValidation, "validation failed")
		}
	}

	if def.SkipCondition != nil {
		skip, err := def.SkipCondition(ctx)
		if err != nil {
			// Skip predicate errors share the execution failure path.
			return domain.StepError, domain.FailedResult(domain.PhaseSkip, err.Error())
		}
		if skip {
			return domain.StepSkipped, domain.SkippedResult()
		}
	}

	if def.Execution == nil {
		return domain.StepCompleted, domain.StepResult{Success: true}
	}

	res, err := def.Execution(ctx)
	if err != nil {
		return domain.StepError, domain.FailedResult(domain.PhaseExecution, err.Error())
	}
	if !res.Success {
		failed := domain.FailedResult(domain.PhaseExecution, res.Error)
		if failed.Error == "" {
			failed.Error = defaultFailureMessage
		}
		failed.TxHash = res.TxHash
		for k, v := range res.Data {
			if _, taken := failed.Data[k]; !taken {
				failed.Data[k] = v
			}
		}
		return domain.StepError, failed
	}
	return domain.StepCompleted, res
}

func (e *Executor) settle(gen uint64, idx int, status domain.StepStatus, result domain.StepResult) {
	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		e.logger.Info("step outcome dropped after reset", "flow_id", e.id, "step_id", e.defs[idx].ID)
		return
	}

	step := &e.steps[idx]
	step.Status = status
	switch status {
	case domain.StepCompleted:
		step.TxHash = result.TxHash
		step.Error = ""
	case domain.StepError:
		step.TxHash = result.TxHash
		step.Error = result.Error
	}

	e.results = append(e.results, result)
	if status.Done() && e.autoAdvance {
		e.advance(idx)
	}
	e.executing = false
	succeeded := e.successLocked()
	e.mu.Unlock()

	metrics.IncStepStatus(status)
	stepID := e.defs[idx].ID

	if status == domain.StepError {
		e.logger.Error("step failed", "flow_id", e.id, "step_id", stepID, "error", result.Error)
		if e.onError != nil {
			e.onError(result.Error, stepID)
		}
	} else {
		e.logger.Info("step finished", "flow_id", e.id, "step_id", stepID, "status", status, "tx_hash", result.TxHash)
	}

	e.notifySuccess(succeeded)
}

// Run executes the active step repeatedly until the flow completes, a step
// fails or ctx ends. A failed step is returned as ErrStepFailed.
func (e *Executor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		st := e.State()
		if st.HasError {
			for _, s := range st.Steps {
				if s.Status == domain.StepError {
					return fmt.Errorf("%w: %s: %s", domain.ErrStepFailed, s.ID, s.Error)
				}
			}
		}
		if st.IsCompleted {
			return nil
		}

		if err := e.ExecuteStep(ctx, st.Steps[st.CurrentStepIndex].ID); err != nil {
			return err
		}
	}
}

// SkipStep marks the active step as skipped without running it. A failed
// step at the pointer may be skipped too. Any other step is rejected.
func (e *Executor) SkipStep(stepID string) error {
	e.mu.Lock()
	idx, ok := e.indexOf(stepID)
	if !ok {
		e.mu.Unlock()
		return domain.ErrStepNotFound
	}
	if !e.steps[idx].CanSkip {
		e.mu.Unlock()
		e.logger.Warn("skip ignored: step not skippable", "flow_id", e.id, "step_id", stepID)
		return domain.ErrStepNotSkippable
	}
	if e.executing {
		e.mu.Unlock()
		return domain.ErrFlowBusy
	}
	if status := e.steps[idx].Status; idx != e.current || (status != domain.StepActive && status != domain.StepError) {
		e.mu.Unlock()
		e.logger.Warn("skip ignored: step not active",
			"flow_id", e.id,
			"step_id", stepID,
			"status", status,
		)
		return domain.ErrStepNotActive
	}

	e.steps[idx].Status = domain.StepSkipped
	e.steps[idx].Error = ""
	e.results = append(e.results, domain.SkippedResult())
	if e.autoAdvance {
		e.advance(idx)
	}
	succeeded := e.successLocked()
	e.mu.Unlock()

	metrics.IncStepStatus(domain.StepSkipped)
	e.logger.Info("step skipped", "flow_id", e.id, "step_id", stepID)
	e.notifySuccess(succeeded)
	return nil
}

// RetryStep makes the step active again with its error cleared. The active
// pointer follows the retried step.
func (e *Executor) RetryStep(stepID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx, ok := e.indexOf(stepID)
	if !ok {
		return domain.ErrStepNotFound
	}
	if e.executing {
		return domain.ErrFlowBusy
	}

	if idx != e.current && e.steps[e.current].Status == domain.StepActive {
		e.steps[e.current].Status = domain.StepPending
	}
	e.steps[idx].Status = domain.StepActive
	e.steps[idx].Error = ""
	e.current = idx

	e.logger.Info("step retry armed", "flow_id", e.id, "step_id", stepID)
	return nil
}

// GoToStep moves the active pointer to index without touching the status of
// other steps. Out-of-range indexes are ignored.
func (e *Executor) GoToStep(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if index < 0 || index >= len(e.steps) {
		e.logger.Warn("goto ignored: index out of range", "flow_id", e.id, "index", index)
		return
	}
	e.current = index
	e.steps[index].Status = domain.StepActive
}

// Reset restores the initial layout and drops all results.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.steps = initialSteps(e.defs)
	e.current = 0
	e.executing = false
	e.results = nil
	e.notified = false
	e.generation++
}

func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	steps := make([]Step, len(e.steps))
	copy(steps, e.steps)
	results := make([]domain.StepResult, len(e.results))
	copy(results, e.results)

	return State{
		Steps:            steps,
		CurrentStepIndex: e.current,
		IsExecuting:      e.executing,
		Results:          results,
		IsCompleted:      e.completedLocked(),
		HasError:         e.hasErrorLocked(),
	}
}

// CurrentStep returns the step under the active pointer.
func (e *Executor) CurrentStep() Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.steps[e.current]
}

func (e *Executor) indexOf(stepID string) (int, bool) {
	for i := range e.steps {
		if e.steps[i].ID == stepID {
			return i, true
		}
	}
	return -1, false
}

// advance moves forward one index when idx is the active pointer.
func (e *Executor) advance(idx int) {
	if idx != e.current || e.current >= len(e.steps)-1 {
		return
	}
	e.current++
	e.steps[e.current].Status = domain.StepActive
}

func (e *Executor) completedLocked() bool {
	for _, s := range e.steps {
		if !s.Status.Done() {
			return false
		}
	}
	return true
}

func (e *Executor) hasErrorLocked() bool {
	for _, s := range e.steps {
		if s.Status == domain.StepError {
			return true
		}
	}
	return false
}

// successLocked latches the success notification for this run and returns
// the results to report, or nil.
func (e *Executor) successLocked() []domain.StepResult {
	if e.notified || len(e.results) == 0 || !e.completedLocked() || e.hasErrorLocked() {
		return nil
	}
	e.notified = true
	out := make([]domain.StepResult, len(e.results))
	copy(out, e.results)
	return out
}

func (e *Executor) notifySuccess(results []domain.StepResult) {
	if results == nil {
		return
	}
	e.logger.Info("flow completed", "flow_id", e.id, "results", len(results))
	if e.onSuccess != nil {
		e.onSuccess(results)
	}
}
