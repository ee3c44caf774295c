package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_conversations_created_total",
			Help: "Total conversations created",
		},
	)

	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_appended_total",
			Help: "Total messages appended",
		},
		[]string{"kind"}, // "text" or "media"
	)

	MessagesEdited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_edited_total",
			Help: "Total messages edited",
		},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_deleted_total",
			Help: "Total messages soft-deleted",
		},
	)

	ReadsMarked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_reads_marked_total",
			Help: "Total read watermark advances",
		},
	)

	AppendRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_append_retries_total",
			Help: "Appends replayed after a transient storage error",
		},
	)

	// Fan-out metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_published_total",
			Help: "Total events published",
		},
		[]string{"type"},
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_publish_failures_total",
			Help: "Events that could not be handed to the fan-out",
		},
	)

	EventGaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_event_gaps_total",
			Help: "Held events flushed without their predecessors after the reorder window",
		},
	)

	EventsDroppedLate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_events_dropped_late_total",
			Help: "Events that arrived after a later version of their conversation was delivered",
		},
	)

	SubscribersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_subscribers_dropped_total",
			Help: "Subscribers disconnected because their buffer was full",
		},
	)

	ActiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_subscribers",
			Help: "Currently connected realtime subscribers",
		},
	)
)
