// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"
	"time"

	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	Init()

	before := testutil.ToFloat64(flowStepsCounter.WithLabelValues(string(domain.StepSkipped)))
	IncStepStatus(domain.StepSkipped)
	after := testutil.ToFloat64(flowStepsCounter.WithLabelValues(string(domain.StepSkipped)))
	if after != before+1 {
		t.Fatalf("expected skipped steps %v got %v", before+1, after)
	}

	before = testutil.ToFloat64(queueTransactionsCounter.WithLabelValues(string(domain.TxCancelled)))
	IncTransactionStatus(domain.TxCancelled)
	after = testutil.ToFloat64(queueTransactionsCounter.WithLabelValues(string(domain.TxCancelled)))
	if after != before+1 {
		t.Fatalf("expected cancelled transitions %v got %v", before+1, after)
	}

	before = testutil.ToFloat64(queueCleanupPurgedCounter)
	AddCleanupPurged(3)
	if got := testutil.ToFloat64(queueCleanupPurgedCounter); got != before+3 {
		t.Fatalf("expected purged %v got %v", before+3, got)
	}

	before = testutil.ToFloat64(queuePersistFailuresCounter)
	IncPersistFailures()
	if got := testutil.ToFloat64(queuePersistFailuresCounter); got != before+1 {
		t.Fatalf("expected persist failures %v got %v", before+1, got)
	}
}

func TestInitPreRegistersStatusLabels(t *testing.T) {
	Init()

	if n := testutil.CollectAndCount(queueTransactionsCounter); n != 5 {
		t.Fatalf("expected 5 transaction status series got %d", n)
	}
	if n := testutil.CollectAndCount(flowStepsCounter); n != 3 {
		t.Fatalf("expected 3 step status series got %d", n)
	}
}

func TestObserveExecutionDuration(t *testing.T) {
	ObserveExecutionDuration(250 * time.Millisecond)

	if n := testutil.CollectAndCount(queueExecutionDurationMetric); n != 1 {
		t.Fatalf("expected histogram to be collected got %d", n)
	}
}
