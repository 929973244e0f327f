// Package metrics exposes the broker's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lifestream_mqtt"

// Drop reasons used with MessagesDropped.
const (
	DropQueueFull    = "queue_full"
	DropRetryLimit   = "retry_limit"
	DropIntercepted  = "intercepted"
	DropNoSubscriber = "no_subscriber"
)

var (
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_total",
		Help:      "The total number of accepted transport connections.",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "The number of connections currently open.",
	})

	ConnectRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connect_rejected_total",
		Help:      "CONNECT packets refused, by CONNACK return code.",
	}, []string{"reason"})

	SessionTakeovers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_takeovers_total",
		Help:      "Connections closed because a new connection used the same client identifier.",
	})

	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_received_total",
		Help:      "Messages entering the dispatcher, by origin.",
	}, []string{"origin"})

	MessagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_delivered_total",
		Help:      "PUBLISH packets written to subscribers, by QoS.",
	}, []string{"qos"})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_dropped_total",
		Help:      "Deliveries discarded by the broker, by reason.",
	}, []string{"reason"})

	Retransmissions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retransmissions_total",
		Help:      "QoS 1 deliveries re-sent with the DUP flag.",
	})

	ProtocolViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "protocol_violations_total",
		Help:      "Connections closed because of a malformed or illegal packet.",
	})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
