package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ChainLabel renders a chain id as a label value
func ChainLabel(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}

// Settlement metrics, recorded by the settler contracts
var (
	IntentsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_intents_opened_total",
		Help: "The total number of intents escrowed",
	}, []string{"chain_id"})

	IntentsFinalised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_intents_finalised_total",
		Help: "The total number of intents claimed by solvers",
	}, []string{"chain_id"})

	IntentsRefunded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_intents_refunded_total",
		Help: "The total number of intents refunded after expiry",
	}, []string{"chain_id", "route"})

	PayoutFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payout_failures_total",
		Help: "Payouts that failed after the order reached a terminal state",
	}, []string{"chain_id", "operation"})

	OutputsFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_outputs_filled_total",
		Help: "The total number of outputs delivered",
	}, []string{"chain_id", "mode"})

	WithdrawalsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_withdrawals_processed_total",
		Help: "Cross-chain withdrawals that opened an intent",
	}, []string{"chain_id"})

	WithdrawalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_withdrawals_rejected_total",
		Help: "Cross-chain withdrawals rejected by validation step",
	}, []string{"chain_id", "reason"})

	RefundsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_refunds_recovered_total",
		Help: "Refunds re-inserted into the privacy pool",
	}, []string{"chain_id"})

	AttestationsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_attestations_submitted_total",
		Help: "Attestations submitted by the relayer",
	}, []string{"chain_id", "kind"})

	RelayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_errors_total",
		Help: "Relayer failures by kind",
	}, []string{"chain_id", "kind"})
)

// Solver metrics
var (
	IntentProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "solver_intent_processing_seconds",
		Help:    "Time taken from discovery to claim",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"chain_id"})

	PendingIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solver_pending_intents",
		Help: "The number of pending intents waiting to be processed",
	})

	SolverBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solver_native_balance",
		Help: "Native balance of the solver account",
	}, []string{"chain_id"})

	CircuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solver_circuit_open",
		Help: "1 when the circuit breaker of a destination chain is open",
	}, []string{"chain_id"})

	IntentsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_intents_skipped_total",
		Help: "Intents the solver declined to fill",
	}, []string{"chain_id", "reason"})

	FillErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_errors_total",
		Help: "Total number of errors by type",
	}, []string{"chain_id", "error_type"})

	PermanentErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_permanent_errors_total",
		Help: "Total number of permanent errors that won't be retried",
	}, []string{"chain_id", "error_type"})

	RetryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_retry_count_total",
		Help: "The total number of scheduled retries by chain",
	}, []string{"chain_id"})

	MaxRetriesReached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_max_retries_reached_total",
		Help: "Number of jobs that reached maximum retry attempts",
	}, []string{"chain_id", "error_type"})

	RetryQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solver_retry_queue_size",
		Help: "Current size of the retry queue",
	})

	NextRetryIn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solver_next_retry_seconds",
		Help: "Seconds until the next scheduled retry",
	})

	RetriesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_retries_executed_total",
		Help: "Number of retries that were executed",
	}, []string{"chain_id", "error_type"})

	DroppedRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_retries_dropped_total",
		Help: "Number of retries that were dropped due to queue capacity",
	}, []string{"chain_id"})

	FilledIntents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_filled_intents_total",
		Help: "The total number of intents filled by the solver",
	}, []string{"chain_id"})

	ClaimedIntents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_claimed_intents_total",
		Help: "The total number of intents claimed by the solver",
	}, []string{"chain_id"})

	FailedIntents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_failed_intents_total",
		Help: "The total number of failed intent fills by chain",
	}, []string{"chain_id"})
)
