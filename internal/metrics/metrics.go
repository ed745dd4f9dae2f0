package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relay"

// Registry holds every relay metric; served at /metrics.
var Registry = prometheus.NewRegistry()

var ConnectedClients = promauto.With(Registry).NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connected_clients",
		Help:      "WebSocket clients currently connected to this instance",
	},
)

var ActiveRooms = promauto.With(Registry).NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_rooms",
		Help:      "Project rooms with at least one local member",
	},
)

// EventsRelayed counts client events accepted for fan-out, by event type.
var EventsRelayed = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_relayed_total",
		Help:      "Client events accepted and fanned out to a room",
	},
	[]string{"type"},
)

var EventsRejected = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_rejected_total",
		Help:      "Client frames answered with an error, by error code",
	},
	[]string{"code"},
)

var ClientsDropped = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clients_dropped_total",
		Help:      "Clients disconnected because their outbound buffer was full",
	},
)

var BusPublishFailures = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_publish_failures_total",
		Help:      "Envelopes that could not be published to other instances",
	},
)

var NotificationsPushed = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_pushed_total",
		Help:      "Notifications received through the webhook, by notification type",
	},
	[]string{"type"},
)

var NotificationsPruned = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_pruned_total",
		Help:      "Read notifications deleted by the retention job",
	},
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
