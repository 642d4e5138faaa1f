package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package metrics. Names are wire-stable once shipped; keep them boring.
var (
	metricConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slate_connected_clients",
		Help: "Currently connected websocket clients.",
	})

	metricSyncConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_sync_conflicts_total",
		Help: "Operations that failed during offline-queue replay.",
	})

	metricRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_rate_limited_total",
		Help: "Inbound messages rejected by the per-connection token bucket.",
	})

	metricBroadcastLagged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_broadcast_lagged_total",
		Help: "Broadcast events missed by slow subscribers.",
	})

	metricDirectDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_direct_dropped_total",
		Help: "Direct-delivery messages dropped on a full client queue.",
	})

	metricWatcherDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_mutation_watcher_dropped_total",
		Help: "Mutation events dropped on a full watcher channel.",
	})

	metricSnapshotPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_snapshot_persist_failures_total",
		Help: "Failed write-behind snapshot persists.",
	})
)
