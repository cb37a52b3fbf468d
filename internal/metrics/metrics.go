package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttempts tracks retry outcomes per policy
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainguard_retry_attempts_total",
			Help: "Retry engine attempt outcomes",
		},
		[]string{"policy", "outcome"},
	)

	// BreakerState tracks circuit breaker phase (0 closed, 1 half-open, 2 open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainguard_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	// BreakerRejections counts calls rejected while a breaker is open
	BreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainguard_breaker_rejections_total",
			Help: "Calls rejected by an open circuit breaker",
		},
		[]string{"breaker"},
	)

	// ErrorsLogged counts records written by the error logger
	ErrorsLogged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainguard_errors_logged_total",
			Help: "Errors recorded by the error logger",
		},
		[]string{"category", "severity"},
	)

	// ErrorStoreFailures counts swallowed error-log store failures
	ErrorStoreFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainguard_errorlog_store_failures_total",
			Help: "Error log store operations that failed and were swallowed",
		},
		[]string{"op"},
	)

	// ChannelState tracks the realtime channel state (0 disconnected, 1 connecting, 2 connected, 3 closing)
	ChannelState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainguard_channel_state",
			Help: "Realtime channel state (0 disconnected, 1 connecting, 2 connected, 3 closing)",
		},
	)

	// ChannelReconnects counts scheduled reconnect attempts
	ChannelReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainguard_channel_reconnects_total",
			Help: "Scheduled realtime channel reconnect attempts",
		},
	)

	// ChannelGiveUps counts terminal reconnect give-ups
	ChannelGiveUps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainguard_channel_give_ups_total",
			Help: "Times the realtime channel stopped reconnecting",
		},
	)

	// ChannelMessages counts inbound messages per type
	ChannelMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainguard_channel_messages_total",
			Help: "Inbound realtime channel messages",
		},
		[]string{"type"},
	)

	// StreamBlockHeight tracks the block height pushed over the realtime feed
	StreamBlockHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainguard_stream_block_height",
			Help: "Latest block height received over the realtime feed",
		},
	)

	// RPCLatestBlock tracks the latest block reported by each RPC provider
	RPCLatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainguard_rpc_latest_block",
			Help: "Latest block height reported by an RPC provider",
		},
		[]string{"provider"},
	)

	// RPCLatency tracks RPC probe latency including retries
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainguard_rpc_latency_seconds",
			Help:    "RPC probe latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)
