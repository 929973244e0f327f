// Package dispatcher fans published messages out to the sessions whose subscriptions match.
package dispatcher

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/hook"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/session"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/topic"
)

const (
	OriginClient = "client"
	OriginBroker = "broker"
	OriginWill   = "will"
)

var ErrInvalidQoS = errors.New("qos must be 0 or 1")

type Dispatcher struct {
	registry    *session.Registry
	interceptor hook.PublishInterceptor
}

type Option func(*Dispatcher)

func WithInterceptor(interceptor hook.PublishInterceptor) Option {
	return func(d *Dispatcher) {
		d.interceptor = interceptor
	}
}

func New(registry *session.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{registry: registry}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish queues msg on every matching session at min(message QoS, granted QoS) and returns
// the number of sessions that accepted it. A full queue on one session never affects the others.
func (d *Dispatcher) Publish(msg session.Message, origin string) int {
	metrics.MessagesReceived.WithLabelValues(origin).Inc()

	if d.interceptor != nil {
		if !d.interceptor.InterceptPublish(msg.Sender, &msg) {
			metrics.MessagesDropped.WithLabelValues(metrics.DropIntercepted).Inc()
			logger.DebugF("[%s] Publish to %s dropped by interceptor", msg.Sender, msg.Topic)
			return 0
		}
		if err := topic.ValidateTopicName(msg.Topic); err != nil {
			metrics.MessagesDropped.WithLabelValues(metrics.DropIntercepted).Inc()
			logger.WarnF("[%s] Interceptor produced an invalid topic: %v", msg.Sender, err)
			return 0
		}
	}

	targets := d.registry.SessionsMatching(msg.Topic)
	if len(targets) == 0 {
		metrics.MessagesDropped.WithLabelValues(metrics.DropNoSubscriber).Inc()
		return 0
	}

	delivered := 0
	for _, target := range targets {
		qos := min(msg.QoS, target.QoS)
		err := target.Session.Enqueue(session.Delivery{Message: msg, QoS: qos})
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, session.ErrNoSession):
		default:
			logger.WarnF("[%s] Delivery of %s failed: %v", target.Session.ClientID(), msg.Topic, err)
		}
	}
	return delivered
}

// Inject publishes a message on behalf of the broker itself through the same path as client
// publishes.
func (d *Dispatcher) Inject(topicName string, payload []byte, qos byte, sender string) (int, error) {
	if err := topic.ValidateTopicName(topicName); err != nil {
		return 0, err
	}
	if qos > 1 {
		return 0, fmt.Errorf("%w, got %d", ErrInvalidQoS, qos)
	}
	msg := session.Message{
		Topic:   topicName,
		Payload: append([]byte(nil), payload...),
		QoS:     qos,
		Sender:  sender,
	}
	return d.Publish(msg, OriginBroker), nil
}
