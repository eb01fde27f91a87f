// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	flowStepsCounter             *prometheus.CounterVec
	queueTransactionsCounter     *prometheus.CounterVec
	queueExecutionDurationMetric prometheus.Histogram
	queuePersistFailuresCounter  prometheus.Counter
	queueCleanupPurgedCounter    prometheus.Counter
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		flowStepsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_steps_total",
				Help: "Total number of flow step outcomes by status.",
			},
			[]string{"status"},
		)

		queueTransactionsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_transactions_total",
				Help: "Total number of queue transaction status transitions by status.",
			},
			[]string{"status"},
		)

		queueExecutionDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "queue_execution_duration_seconds",
				Help:    "Duration of contract write calls issued by the queue in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		queuePersistFailuresCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "queue_persist_failures_total",
				Help: "Total number of failed queue storage reads and writes.",
			},
		)

		queueCleanupPurgedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "queue_cleanup_purged_total",
				Help: "Total number of terminal transactions purged by the cleanup sweep.",
			},
		)

		prometheus.MustRegister(
			flowStepsCounter,
			queueTransactionsCounter,
			queueExecutionDurationMetric,
			queuePersistFailuresCounter,
			queueCleanupPurgedCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.StepStatus{
			domain.StepCompleted,
			domain.StepError,
			domain.StepSkipped,
		} {
			flowStepsCounter.WithLabelValues(string(status))
		}

		for _, status := range []domain.TxStatus{
			domain.TxPending,
			domain.TxExecuting,
			domain.TxCompleted,
			domain.TxFailed,
			domain.TxCancelled,
		} {
			queueTransactionsCounter.WithLabelValues(string(status))
		}
	})
}

func IncStepStatus(status domain.StepStatus) {
	Init()
	flowStepsCounter.WithLabelValues(string(status)).Inc()
}

func IncTransactionStatus(status domain.TxStatus) {
	Init()
	queueTransactionsCounter.WithLabelValues(string(status)).Inc()
}

func ObserveExecutionDuration(d time.Duration) {
	Init()
	queueExecutionDurationMetric.Observe(d.Seconds())
}

func IncPersistFailures() {
	Init()
	queuePersistFailuresCounter.Inc()
}

func AddCleanupPurged(n int) {
	Init()
	queueCleanupPurgedCounter.Add(float64(n))
}
