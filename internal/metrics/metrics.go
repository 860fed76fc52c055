package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoundsTotal counts finalization rounds by outcome ("ok", "error").
	RoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_rounds_total",
			Help: "Total number of finalization rounds run, by outcome",
		},
		[]string{"outcome"},
	)

	// RoundDuration tracks finalization round wall-clock time.
	RoundDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_round_duration_seconds",
			Help:    "Finalization round duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// TasksTotal counts task progressions by destination chain and
	// status ("submitted", "finalized", "retry", "error").
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_tasks_total",
			Help: "Total number of task progressions, by chain and status",
		},
		[]string{"chain", "status"},
	)

	// TaskDuration tracks how long a single task's step takes within a
	// round, by destination chain.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_task_duration_seconds",
			Help:    "Per-task round-step duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// PendingQueueDepth tracks the number of intents awaiting
	// finalization.
	PendingQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_pending_queue_depth",
			Help: "Number of bridge intents currently pending",
		},
	)

	// ErrorRounds mirrors the finalization engine's consecutive
	// error_rounds counter.
	ErrorRounds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_error_rounds",
			Help: "Consecutive finalization rounds that produced at least one task error",
		},
	)

	// CircuitOpen is 1 when intent admission is disabled by the
	// circuit breaker, 0 otherwise.
	CircuitOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_circuit_open",
			Help: "1 if intent admission is currently disabled by the circuit breaker",
		},
	)

	// BridgedAmountTotal accumulates the amount of intents committed as
	// fully finalized, by destination chain.
	BridgedAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_bridged_amount_total",
			Help: "Total native-token-unit amount of finalized bridge intents, by destination chain",
		},
		[]string{"chain"},
	)

	// CollectedFeesTotal accumulates bridge fees collected.
	CollectedFeesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_collected_fees_total",
			Help: "Total bridge fee collected, in native-token units",
		},
	)

	// GasCacheRefreshesTotal counts gas price/tip cache refreshes, by
	// chain.
	GasCacheRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_gas_cache_refreshes_total",
			Help: "Total number of gas price/tip cache refreshes, by chain",
		},
		[]string{"chain"},
	)

	// GasPriceWei tracks the last cached gas price and tip, by chain
	// and field ("gas_price", "tip").
	GasPriceWei = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_gas_price_wei",
			Help: "Last cached gas price/tip in wei, by chain and field",
		},
		[]string{"chain", "field"},
	)

	// QuorumFailuresTotal counts EVM JSON-RPC quorum failures
	// (RpcNoQuorum/RpcProviderError), by chain and method.
	QuorumFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_quorum_failures_total",
			Help: "Total EVM JSON-RPC quorum failures, by chain and method",
		},
		[]string{"chain", "method"},
	)

	// ErrorsTotal counts errors by component and apperrors category.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_errors_total",
			Help: "Total number of errors, by component and category",
		},
		[]string{"component", "category"},
	)

	// LedgerRPCDuration tracks native ledger gRPC call latency, by
	// method ("transfer", "transfer_from").
	LedgerRPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_ledger_rpc_duration_seconds",
			Help:    "Native ledger gRPC call duration in seconds, by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// EvmRPCDuration tracks EVM JSON-RPC call latency, by chain and
	// method.
	EvmRPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_evm_rpc_duration_seconds",
			Help:    "EVM JSON-RPC call duration in seconds, by chain and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "method"},
	)
)
