package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PeersByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "glusterd",
		Subsystem: "peer",
		Name:      "records",
		Help:      "Number of peer records per friend state",
	}, []string{"state"})

	PeersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "glusterd",
		Subsystem: "peer",
		Name:      "connected",
		Help:      "Number of peers with a live management connection",
	})

	PeerMergesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "glusterd",
		Subsystem: "peer",
		Name:      "merges_total",
		Help:      "Duplicate peer records folded into one",
	})

	FriendEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glusterd",
		Subsystem: "friend",
		Name:      "events_total",
		Help:      "Friend state machine events processed",
	}, []string{"event"})

	FriendEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "glusterd",
		Subsystem: "friend",
		Name:      "events_dropped_total",
		Help:      "Friend events rejected because the queue was full",
	})

	FriendTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glusterd",
		Subsystem: "friend",
		Name:      "transitions_total",
		Help:      "Friend state transitions",
	}, []string{"from", "to"})

	OpTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glusterd",
		Subsystem: "op",
		Name:      "transactions_total",
		Help:      "Cluster transactions finished, by operation and result",
	}, []string{"op", "result"})

	OpTransactionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "glusterd",
		Subsystem: "op",
		Name:      "transaction_duration_seconds",
		Help:      "Time from lock to the last unlock reply",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"op"})

	OpPhaseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glusterd",
		Subsystem: "op",
		Name:      "phase_failures_total",
		Help:      "Peer failures per transaction phase",
	}, []string{"phase"})

	OpReplyTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "glusterd",
		Subsystem: "op",
		Name:      "reply_timeouts_total",
		Help:      "Outstanding peer replies that expired",
	})

	OpPendingReplies = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "glusterd",
		Subsystem: "op",
		Name:      "pending_replies",
		Help:      "Peer replies the originator is still waiting for",
	})

	OpInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "glusterd",
		Subsystem: "op",
		Name:      "in_progress",
		Help:      "Whether this node is originating a transaction (1) or idle (0)",
	})

	ClusterLockHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "glusterd",
		Subsystem: "op",
		Name:      "cluster_lock_held",
		Help:      "Whether the local cluster lock is held",
	})

	GRPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glusterd",
		Subsystem: "grpc",
		Name:      "requests_total",
		Help:      "Total gRPC requests",
	}, []string{"service", "method", "code"})

	GRPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "glusterd",
		Subsystem: "grpc",
		Name:      "request_duration_seconds",
		Help:      "gRPC request duration",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
	}, []string{"service", "method"})

	PeerDialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glusterd",
		Subsystem: "transport",
		Name:      "peer_dials_total",
		Help:      "Outbound peer connections created",
	}, []string{"result"})

	PeerRPCsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glusterd",
		Subsystem: "transport",
		Name:      "peer_rpcs_total",
		Help:      "Outbound peer RPCs, by method and status code",
	}, []string{"method", "code"})

	PeerRPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "glusterd",
		Subsystem: "transport",
		Name:      "peer_rpc_duration_seconds",
		Help:      "Outbound peer RPC latency",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
	}, []string{"method"})

	VolumesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "glusterd",
		Subsystem: "volume",
		Name:      "total",
		Help:      "Volumes committed on this node",
	})
)
