package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_notifications_total",
			Help: "Events published to chat channels, by event type.",
		},
		[]string{"event"},
	)

	wsSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatbot_ws_subscribers",
			Help: "Currently attached chat channel subscriptions.",
		},
	)
)

func init() {
	prometheus.MustRegister(notificationsTotal, wsSubscribers)
}
