package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store and change-feed metrics, served at /metrics.
var (
	CommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatspace_store_commits_total",
		Help: "Committed multi-key writes.",
	})
	ConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatspace_store_conflicts_total",
		Help: "Commits rejected by a version precondition.",
	})
	DeletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatspace_store_cascade_deletes_total",
		Help: "Committed atomic delete-sets.",
	})
	WatchUpstreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatspace_watch_upstreams",
		Help: "Open upstream key subscriptions in the multiplexer.",
	})
	WatchSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatspace_watch_subscribers",
		Help: "Registered downstream watch subscribers.",
	})
	SubscriberOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatspace_watch_subscriber_overflows_total",
		Help: "Subscribers disconnected because their queue overflowed.",
	})
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatspace_push_frames_total",
		Help: "Push-stream frames written, by stream kind.",
	}, []string{"kind"})
	StoreDiskBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatspace_store_disk_bytes",
		Help: "On-disk size of the store directory (maintenance sweep).",
	})
	StoreKeys = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chatspace_store_keys",
		Help: "Stored keys by namespace (maintenance sweep).",
	}, []string{"namespace"})
)
