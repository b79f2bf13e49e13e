package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_active_connections",
		Help: "Open websocket connections on this instance.",
	})

	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messenger_messages_persisted_total",
		Help: "Messages written to the store.",
	})

	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_events_broadcast_total",
		Help: "Realtime events fanned out, by event type.",
	}, []string{"type"})

	DeliveryUpgrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messenger_delivery_upgrades_total",
		Help: "Message status rows raised to delivered.",
	})

	SlowClientDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messenger_slow_client_drops_total",
		Help: "Connections dropped because their send buffer filled.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
