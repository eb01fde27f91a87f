// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/adiadia/vault-flow/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func always(v bool) Predicate {
	return func(ctx context.Context) (bool, error) { return v, nil }
}

func succeedWith(hash string) ExecutionFunc {
	return func(ctx context.Context) (domain.StepResult, error) {
		return domain.StepResult{Success: true, TxHash: hash}, nil
	}
}

type callbackRecorder struct {
	mu        sync.Mutex
	successes [][]domain.StepResult
	errors    []string
	errorIDs  []string
}

func (c *callbackRecorder) options() Options {
	return Options{
		Logger: discardLogger(),
		OnSuccess: func(results []domain.StepResult) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.successes = append(c.successes, results)
		},
		OnError: func(message string, stepID string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.errors = append(c.errors, message)
			c.errorIDs = append(c.errorIDs, stepID)
		},
	}
}

func assertSingleActive(t *testing.T, st State) {
	t.Helper()

	active := 0
	for _, s := range st.Steps {
		if s.Status == domain.StepActive {
			active++
		}
	}
	if st.IsCompleted || st.HasError {
		if active != 0 && !st.HasError {
			t.Fatalf("expected no active step once completed, got %d", active)
		}
		return
	}
	if active != 1 {
		t.Fatalf("expected exactly one active step got %d", active)
	}
	for i, s := range st.Steps {
		switch {
		case i < st.CurrentStepIndex && !s.Status.Done():
			t.Fatalf("step %s before pointer has status %s", s.ID, s.Status)
		case i > st.CurrentStepIndex && s.Status != domain.StepPending:
			t.Fatalf("step %s after pointer has status %s", s.ID, s.Status)
		}
	}
}

func TestNewRejectsEmptyFlow(t *testing.T) {
	_, err := New(nil, Options{})
	if !errors.Is(err, domain.ErrInvalidFlow) {
		t.Fatalf("expected ErrInvalidFlow got %v", err)
	}
}

func TestNewRejectsDuplicateIDs(t *testing.T) {
	_, err := New([]StepDefinition{{ID: "a"}, {ID: "a"}}, Options{})
	if !errors.Is(err, domain.ErrInvalidFlow) {
		t.Fatalf("expected ErrInvalidFlow got %v", err)
	}
}

func TestNewInitialLayout(t *testing.T) {
	ex, err := New([]StepDefinition{{ID: "a"}, {ID: "b"}, {ID: "c"}}, Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st := ex.State()
	if st.CurrentStepIndex != 0 {
		t.Fatalf("expected pointer 0 got %d", st.CurrentStepIndex)
	}
	want := []domain.StepStatus{domain.StepActive, domain.StepPending, domain.StepPending}
	for i, s := range st.Steps {
		if s.Status != want[i] {
			t.Fatalf("step[%d]: expected %s got %s", i, want[i], s.Status)
		}
	}
	if st.IsExecuting || st.IsCompleted || st.HasError || len(st.Results) != 0 {
		t.Fatalf("unexpected initial state: %+v", st)
	}
}

func TestApproveDepositConfirmScenario(t *testing.T) {
	rec := &callbackRecorder{}
	ex, err := New([]StepDefinition{
		{ID: "approve", Validation: always(true), Execution: succeedWith("0xabc")},
		{ID: "deposit", Execution: succeedWith("0xdef")},
		{ID: "confirm"},
	}, rec.options())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ex.ExecuteStep(context.Background(), "approve"); err != nil {
		t.Fatalf("execute approve: %v", err)
	}

	st := ex.State()
	if st.Steps[0].Status != domain.StepCompleted {
		t.Fatalf("expected approve completed got %s", st.Steps[0].Status)
	}
	if st.Steps[0].TxHash != "0xabc" {
		t.Fatalf("expected tx hash 0xabc got %q", st.Steps[0].TxHash)
	}
	if st.CurrentStepIndex != 1 {
		t.Fatalf("expected pointer 1 got %d", st.CurrentStepIndex)
	}
	if st.Steps[1].Status != domain.StepActive {
		t.Fatalf("expected deposit active got %s", st.Steps[1].Status)
	}
	assertSingleActive(t, st)

	if err := ex.ExecuteStep(context.Background(), "deposit"); err != nil {
		t.Fatalf("execute deposit: %v", err)
	}
	if err := ex.ExecuteStep(context.Background(), "confirm"); err != nil {
		t.Fatalf("execute confirm: %v", err)
	}

	st = ex.State()
	if !st.IsCompleted || st.HasError {
		t.Fatalf("expected completed flow got %+v", st)
	}
	if len(st.Results) != 3 {
		t.Fatalf("expected 3 results got %d", len(st.Results))
	}
	if len(rec.successes) != 1 {
		t.Fatalf("expected OnSuccess once got %d", len(rec.successes))
	}
	if len(rec.successes[0]) != 3 {
		t.Fatalf("expected 3 results reported got %d", len(rec.successes[0]))
	}
}

func TestSkipConditionScenario(t *testing.T) {
	executed := false
	ex, err := New([]StepDefinition{
		{
			ID:            "A",
			SkipCondition: always(true),
			Execution: func(ctx context.Context) (domain.StepResult, error) {
				executed = true
				return domain.StepResult{Success: true}, nil
			},
		},
		{ID: "B"},
	}, Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ex.ExecuteStep(context.Background(), "A"); err != nil {
		t.Fatalf("execute A: %v", err)
	}
	if executed {
		t.Fatal("expected execution not to run for skipped step")
	}

	st := ex.State()
	if st.Steps[0].Status != domain.StepSkipped {
		t.Fatalf("expected A skipped got %s", st.Steps[0].Status)
	}
	if len(st.Results) != 1 || !st.Results[0].Success || st.Results[0].Data["skipped"] != true {
		t.Fatalf("unexpected results: %+v", st.Results)
	}
	if st.CurrentStepIndex != 1 {
		t.Fatalf("expected pointer 1 got %d", st.CurrentStepIndex)
	}
}

func TestExecutionErrorScenario(t *testing.T) {
	rec := &callbackRecorder{}
	ex, err := New([]StepDefinition{
		{ID: "A"},
		{ID: "B", Execution: func(ctx context.Context) (domain.StepResult, error) {
			return domain.StepResult{}, errors.New("insufficient balance")
		}},
	}, rec.options())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if err := ex.ExecuteStep(ctx, "A"); err != nil {
		t.Fatalf("execute A: %v", err)
	}
	if err := ex.ExecuteStep(ctx, "B"); err != nil {
		t.Fatalf("step failures must not be returned, got %v", err)
	}

	st := ex.State()
	if st.Steps[1].Status != domain.StepError {
		t.Fatalf("expected B error got %s", st.Steps[1].Status)
	}
	if st.Steps[1].Error != "insufficient balance" {
		t.Fatalf("expected error message got %q", st.Steps[1].Error)
	}
	if st.CurrentStepIndex != 1 {
		t.Fatalf("expected pointer unchanged at 1 got %d", st.CurrentStepIndex)
	}
	if len(rec.errors) != 1 || rec.errors[0] != "insufficient balance" || rec.errorIDs[0] != "B" {
		t.Fatalf("expected OnError(insufficient balance, B) once, got %v %v", rec.errors, rec.errorIDs)
	}
	if !st.HasError || st.IsCompleted {
		t.Fatalf("expected halted flow, got %+v", st)
	}
	if st.IsExecuting {
		t.Fatal("expected executing flag released")
	}
	if len(rec.successes) != 0 {
		t.Fatal("expected no success callback")
	}
}

func TestExecutionReturnsUnsuccessfulResult(t *testing.T) {
	rec := &callbackRecorder{}
	ex, _ := New([]StepDefinition{
		{ID: "deposit", Execution: func(ctx context.Context) (domain.StepResult, error) {
			return domain.StepResult{Success: false, TxHash: "0xdead", Error: "reverted"}, nil
		}},
	}, rec.options())

	_ = ex.ExecuteStep(context.Background(), "deposit")

	st := ex.State()
	if st.Steps[0].Status != domain.StepError || st.Steps[0].Error != "reverted" {
		t.Fatalf("unexpected step: %+v", st.Steps[0])
	}
	if st.Steps[0].TxHash != "0xdead" {
		t.Fatalf("expected tx hash retained on execution failure got %q", st.Steps[0].TxHash)
	}
	if st.Results[0].Data["phase"] != string(domain.PhaseExecution) {
		t.Fatalf("expected execution phase got %v", st.Results[0].Data["phase"])
	}
}

func TestValidationFailureNeverExecutes(t *testing.T) {
	rec := &callbackRecorder{}
	executed := false
	ex, _ := New([]StepDefinition{
		{
			ID:         "deposit",
			Validation: always(false),
			Execution: func(ctx context.Context) (domain.StepResult, error) {
				executed = true
				return domain.StepResult{Success: true, TxHash: "0x1"}, nil
			},
		},
	}, rec.options())

	_ = ex.ExecuteStep(context.Background(), "deposit")

	st := ex.State()
	if executed {
		t.Fatal("expected execution to be skipped after validation failure")
	}
	if st.Steps[0].Status != domain.StepError {
		t.Fatalf("expected error got %s", st.Steps[0].Status)
	}
	if st.Steps[0].TxHash != "" {
		t.Fatal("validation failures never set a tx hash")
	}
	if st.Results[0].Data["phase"] != string(domain.PhaseValidation) {
		t.Fatalf("expected validation phase got %v", st.Results[0].Data["phase"])
	}
	if len(rec.errors) != 1 || rec.errorIDs[0] != "deposit" {
		t.Fatalf("expected one OnError for deposit, got %v", rec.errorIDs)
	}
}

func TestValidationErrorIsReported(t *testing.T) {
	rec := &callbackRecorder{}
	ex, _ := New([]StepDefinition{
		{ID: "a", Validation: func(ctx context.Context) (bool, error) {
			return false, errors.New("rpc unavailable")
		}},
	}, rec.options())

	_ = ex.ExecuteStep(context.Background(), "a")

	if len(rec.errors) != 1 || rec.errors[0] != "rpc unavailable" {
		t.Fatalf("expected rpc unavailable, got %v", rec.errors)
	}
}

func TestSkipConditionErrorUsesFailurePath(t *testing.T) {
	rec := &callbackRecorder{}
	ex, _ := New([]StepDefinition{
		{ID: "a", SkipCondition: func(ctx context.Context) (bool, error) {
			return false, errors.New("allowance lookup failed")
		}},
	}, rec.options())

	_ = ex.ExecuteStep(context.Background(), "a")

	st := ex.State()
	if st.Steps[0].Status != domain.StepError {
		t.Fatalf("expected error got %s", st.Steps[0].Status)
	}
	if st.Results[0].Data["phase"] != string(domain.PhaseSkip) {
		t.Fatalf("expected skip phase got %v", st.Results[0].Data["phase"])
	}
	if len(rec.errors) != 1 {
		t.Fatalf("expected one OnError got %d", len(rec.errors))
	}
}

func TestExecuteStepIgnoresInactiveStep(t *testing.T) {
	called := false
	ex, _ := New([]StepDefinition{
		{ID: "a"},
		{ID: "b", Execution: func(ctx context.Context) (domain.StepResult, error) {
			called = true
			return domain.StepResult{Success: true}, nil
		}},
	}, Options{Logger: discardLogger()})

	if err := ex.ExecuteStep(context.Background(), "b"); !errors.Is(err, domain.ErrStepNotActive) {
		t.Fatalf("expected ErrStepNotActive got %v", err)
	}
	if err := ex.ExecuteStep(context.Background(), "zzz"); !errors.Is(err, domain.ErrStepNotFound) {
		t.Fatalf("expected ErrStepNotFound got %v", err)
	}
	if called {
		t.Fatal("expected inactive step not to run")
	}

	st := ex.State()
	if st.Steps[1].Status != domain.StepPending || len(st.Results) != 0 {
		t.Fatalf("expected untouched flow got %+v", st)
	}
}

func TestExecuteStepSingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	ex, _ := New([]StepDefinition{
		{ID: "a", Execution: func(ctx context.Context) (domain.StepResult, error) {
			close(started)
			<-release
			return domain.StepResult{Success: true}, nil
		}},
		{ID: "b"},
	}, Options{Logger: discardLogger()})

	done := make(chan error, 1)
	go func() {
		done <- ex.ExecuteStep(context.Background(), "a")
	}()
	<-started

	if !ex.State().IsExecuting {
		t.Fatal("expected executing flag while step in flight")
	}
	if err := ex.ExecuteStep(context.Background(), "a"); !errors.Is(err, domain.ErrFlowBusy) {
		t.Fatalf("expected ErrFlowBusy got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.State().IsExecuting {
		t.Fatal("expected executing flag released")
	}
	if ex.State().CurrentStepIndex != 1 {
		t.Fatal("expected flow to advance after in-flight step")
	}
}

func TestExecutingFlagReleasedOnPanic(t *testing.T) {
	ex, _ := New([]StepDefinition{
		{ID: "a", Execution: func(ctx context.Context) (domain.StepResult, error) {
			panic("boom")
		}},
	}, Options{Logger: discardLogger()})

	func() {
		defer func() { _ = recover() }()
		_ = ex.ExecuteStep(context.Background(), "a")
	}()

	if ex.State().IsExecuting {
		t.Fatal("expected executing flag released after panic")
	}
}

func TestDisableAutoAdvance(t *testing.T) {
	ex, _ := New([]StepDefinition{{ID: "a"}, {ID: "b"}}, Options{
		Logger:             discardLogger(),
		DisableAutoAdvance: true,
	})

	_ = ex.ExecuteStep(context.Background(), "a")

	st := ex.State()
	if st.CurrentStepIndex != 0 {
		t.Fatalf("expected pointer to stay at 0 got %d", st.CurrentStepIndex)
	}
	if st.Steps[1].Status != domain.StepPending {
		t.Fatalf("expected b pending got %s", st.Steps[1].Status)
	}
}

func TestSkipStep(t *testing.T) {
	ex, _ := New([]StepDefinition{
		{ID: "approve", CanSkip: true},
		{ID: "deposit"},
	}, Options{Logger: discardLogger()})

	if err := ex.SkipStep("deposit"); !errors.Is(err, domain.ErrStepNotSkippable) {
		t.Fatalf("expected ErrStepNotSkippable got %v", err)
	}
	if err := ex.SkipStep("approve"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st := ex.State()
	if st.Steps[0].Status != domain.StepSkipped {
		t.Fatalf("expected skipped got %s", st.Steps[0].Status)
	}
	if st.CurrentStepIndex != 1 || st.Steps[1].Status != domain.StepActive {
		t.Fatalf("expected deposit to become active got %+v", st)
	}
	if len(st.Results) != 1 || st.Results[0].Data["skipped"] != true {
		t.Fatalf("unexpected results: %+v", st.Results)
	}
}

func TestSkipStepOnlyAppliesToActiveStep(t *testing.T) {
	ex, _ := New([]StepDefinition{
		{ID: "a", CanSkip: true},
		{ID: "b", CanSkip: true},
		{ID: "c"},
	}, Options{Logger: discardLogger()})

	if err := ex.SkipStep("b"); !errors.Is(err, domain.ErrStepNotActive) {
		t.Fatalf("expected ErrStepNotActive for pending step got %v", err)
	}
	if st := ex.State(); st.Steps[1].Status != domain.StepPending || len(st.Results) != 0 {
		t.Fatalf("expected pending step untouched got %+v", st)
	}

	if err := ex.ExecuteStep(context.Background(), "a"); err != nil {
		t.Fatalf("execute a: %v", err)
	}
	if err := ex.SkipStep("a"); !errors.Is(err, domain.ErrStepNotActive) {
		t.Fatalf("expected ErrStepNotActive for completed step got %v", err)
	}

	st := ex.State()
	if st.Steps[0].Status != domain.StepCompleted {
		t.Fatalf("expected a to stay completed got %s", st.Steps[0].Status)
	}
	if len(st.Results) != 1 {
		t.Fatalf("expected 1 result got %d", len(st.Results))
	}
	if st.CurrentStepIndex != 1 || st.Steps[1].Status != domain.StepActive {
		t.Fatalf("expected b active got %+v", st)
	}
}

func TestSkipFailedActiveStep(t *testing.T) {
	ex, _ := New([]StepDefinition{
		{ID: "a", CanSkip: true, Execution: func(context.Context) (domain.StepResult, error) {
			return domain.StepResult{}, errors.New("reverted")
		}},
		{ID: "b"},
	}, Options{Logger: discardLogger()})

	_ = ex.ExecuteStep(context.Background(), "a")
	if err := ex.SkipStep("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := ex.State()
	if st.Steps[0].Status != domain.StepSkipped || st.Steps[0].Error != "" {
		t.Fatalf("expected a skipped with error cleared got %+v", st.Steps[0])
	}
	if st.CurrentStepIndex != 1 || st.Steps[1].Status != domain.StepActive {
		t.Fatalf("expected b active got %+v", st)
	}
}

func TestSkippingLastStepCompletesFlow(t *testing.T) {
	rec := &callbackRecorder{}
	ex, _ := New([]StepDefinition{{ID: "a", CanSkip: true}}, rec.options())

	if err := ex.SkipStep("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.successes) != 1 {
		t.Fatalf("expected success callback once got %d", len(rec.successes))
	}
}

func TestRetryStepAfterFailure(t *testing.T) {
	attempts := 0
	rec := &callbackRecorder{}
	ex, _ := New([]StepDefinition{
		{ID: "deposit", Execution: func(ctx context.Context) (domain.StepResult, error) {
			attempts++
			if attempts == 1 {
				return domain.StepResult{}, errors.New("user rejected")
			}
			return domain.StepResult{Success: true, TxHash: "0x2"}, nil
		}},
	}, rec.options())

	ctx := context.Background()
	_ = ex.ExecuteStep(ctx, "deposit")
	if err := ex.ExecuteStep(ctx, "deposit"); !errors.Is(err, domain.ErrStepNotActive) {
		t.Fatalf("expected failed step to require retry, got %v", err)
	}

	if err := ex.RetryStep("deposit"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	st := ex.State()
	if st.Steps[0].Status != domain.StepActive || st.Steps[0].Error != "" {
		t.Fatalf("expected active step with cleared error got %+v", st.Steps[0])
	}

	_ = ex.ExecuteStep(ctx, "deposit")
	st = ex.State()
	if st.Steps[0].Status != domain.StepCompleted || st.Steps[0].TxHash != "0x2" {
		t.Fatalf("expected completed step got %+v", st.Steps[0])
	}
	if len(st.Results) != 2 {
		t.Fatalf("expected append-only results (2) got %d", len(st.Results))
	}
	if len(rec.successes) != 1 {
		t.Fatalf("expected success callback once got %d", len(rec.successes))
	}
}

func TestGoToStep(t *testing.T) {
	ex, _ := New([]StepDefinition{{ID: "a"}, {ID: "b"}, {ID: "c"}}, Options{Logger: discardLogger()})

	ex.GoToStep(5)
	ex.GoToStep(-1)
	if ex.State().CurrentStepIndex != 0 {
		t.Fatal("expected out-of-range goto to be ignored")
	}

	ex.GoToStep(2)
	st := ex.State()
	if st.CurrentStepIndex != 2 || st.Steps[2].Status != domain.StepActive {
		t.Fatalf("expected step c active got %+v", st)
	}
	if st.Steps[0].Status != domain.StepActive {
		t.Fatal("expected goto not to touch other steps")
	}
	if ex.CurrentStep().ID != "c" {
		t.Fatalf("expected current step c got %s", ex.CurrentStep().ID)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	rec := &callbackRecorder{}
	ex, _ := New([]StepDefinition{
		{ID: "a"},
		{ID: "b", Execution: func(ctx context.Context) (domain.StepResult, error) {
			return domain.StepResult{}, errors.New("nope")
		}},
	}, rec.options())
	initial := ex.State()

	ctx := context.Background()
	_ = ex.ExecuteStep(ctx, "a")
	_ = ex.ExecuteStep(ctx, "b")

	for i := 0; i < 3; i++ {
		ex.Reset()
		st := ex.State()
		if st.CurrentStepIndex != initial.CurrentStepIndex || len(st.Results) != 0 || st.IsExecuting {
			t.Fatalf("reset %d: unexpected state %+v", i, st)
		}
		for j := range st.Steps {
			if st.Steps[j] != initial.Steps[j] {
				t.Fatalf("reset %d: step %d expected %+v got %+v", i, j, initial.Steps[j], st.Steps[j])
			}
		}
	}
}

func TestSuccessFiresOncePerRun(t *testing.T) {
	rec := &callbackRecorder{}
	ex, _ := New([]StepDefinition{{ID: "a"}}, rec.options())
	ctx := context.Background()

	_ = ex.ExecuteStep(ctx, "a")
	ex.GoToStep(0)
	_ = ex.ExecuteStep(ctx, "a")
	if len(rec.successes) != 1 {
		t.Fatalf("expected one success before reset got %d", len(rec.successes))
	}

	ex.Reset()
	_ = ex.ExecuteStep(ctx, "a")
	if len(rec.successes) != 2 {
		t.Fatalf("expected second success after reset got %d", len(rec.successes))
	}
}

func TestResetDropsInFlightOutcome(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	ex, _ := New([]StepDefinition{
		{ID: "a", Execution: func(ctx context.Context) (domain.StepResult, error) {
			close(started)
			<-release
			return domain.StepResult{Success: true}, nil
		}},
		{ID: "b"},
	}, Options{Logger: discardLogger()})

	done := make(chan struct{})
	go func() {
		_ = ex.ExecuteStep(context.Background(), "a")
		close(done)
	}()
	<-started
	ex.Reset()
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not return")
	}

	st := ex.State()
	if st.Steps[0].Status != domain.StepActive || len(st.Results) != 0 {
		t.Fatalf("expected stale outcome to be dropped got %+v", st)
	}
}

func TestMonotonicStepOrder(t *testing.T) {
	var order []string
	mk := func(id string) StepDefinition {
		return StepDefinition{ID: id, Execution: func(ctx context.Context) (domain.StepResult, error) {
			order = append(order, id)
			return domain.StepResult{Success: true}, nil
		}}
	}
	ex, _ := New([]StepDefinition{mk("a"), mk("b"), mk("c")}, Options{Logger: discardLogger()})
	ctx := context.Background()

	for _, id := range []string{"c", "b", "a", "c", "b", "c"} {
		_ = ex.ExecuteStep(ctx, id)
		st := ex.State()
		for i, s := range st.Steps {
			if s.Status == domain.StepCompleted {
				for j := 0; j < i; j++ {
					if !st.Steps[j].Status.Done() {
						t.Fatalf("step %s completed before %s", s.ID, st.Steps[j].ID)
					}
				}
			}
		}
		if !st.IsCompleted {
			assertSingleActive(t, st)
		}
	}

	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("expected order %v got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v got %v", want, order)
		}
	}
}

func TestRunDrivesFlowToCompletion(t *testing.T) {
	rec := &callbackRecorder{}
	e, err := New([]StepDefinition{
		{ID: "a", SkipCondition: always(true)},
		{ID: "b", Execution: succeedWith("0xb")},
		{ID: "c"},
	}, rec.options())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st := e.State(); !st.IsCompleted || len(st.Results) != 3 {
		t.Fatalf("expected completed flow with 3 results got %+v", st)
	}
	if len(rec.successes) != 1 {
		t.Fatalf("expected one success callback got %d", len(rec.successes))
	}
}

func TestRunStopsAtFailedStep(t *testing.T) {
	calls := 0
	e, _ := New([]StepDefinition{
		{ID: "a", Execution: func(ctx context.Context) (domain.StepResult, error) {
			return domain.StepResult{}, errors.New("insufficient balance")
		}},
		{ID: "b", Execution: func(ctx context.Context) (domain.StepResult, error) {
			calls++
			return domain.StepResult{Success: true}, nil
		}},
	}, Options{Logger: discardLogger()})

	err := e.Run(context.Background())
	if !errors.Is(err, domain.ErrStepFailed) {
		t.Fatalf("expected ErrStepFailed got %v", err)
	}
	if calls != 0 {
		t.Fatal("expected later step not to run")
	}
}

func TestRunHonoursContext(t *testing.T) {
	e, _ := New([]StepDefinition{{ID: "a"}}, Options{Logger: discardLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
	if st := e.State(); len(st.Results) != 0 {
		t.Fatal("expected nothing executed")
	}
}

func TestRunWithoutAutoAdvanceStops(t *testing.T) {
	opts := Options{Logger: discardLogger(), DisableAutoAdvance: true}
	e, _ := New([]StepDefinition{{ID: "a"}, {ID: "b"}}, opts)

	if err := e.Run(context.Background()); !errors.Is(err, domain.ErrStepNotActive) {
		t.Fatalf("expected ErrStepNotActive got %v", err)
	}
}
