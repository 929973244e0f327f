// Package hook holds the pluggable decisions the broker delegates to the hosting process:
// accepting a CONNECT, filtering a PUBLISH and observing acknowledgements.
package hook

import (
	"context"
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/packet"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/session"
)

var ErrAuthRejected = errors.New("connection rejected by validator")

// RejectError carries the CONNACK return code of a refused connection.
type RejectError struct {
	ClientID string
	Code     packet.ConnectRespType
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("client %q rejected: %s", e.ClientID, e.Code)
}

func (e *RejectError) Unwrap() error {
	return ErrAuthRejected
}

// Validator decides whether a CONNECT is accepted. Any code other than packet.Accepted
// rejects the connection with that code.
type Validator interface {
	Validate(ctx context.Context, clientID, username string, password []byte) packet.ConnectRespType
}

type ValidatorFunc func(ctx context.Context, clientID, username string, password []byte) packet.ConnectRespType

func (f ValidatorFunc) Validate(ctx context.Context, clientID, username string, password []byte) packet.ConnectRespType {
	return f(ctx, clientID, username, password)
}

// AlwaysAccept is the default validator.
var AlwaysAccept Validator = ValidatorFunc(func(context.Context, string, string, []byte) packet.ConnectRespType {
	return packet.Accepted
})

// Chain runs validators in order and returns the first rejection.
type Chain []Validator

func (c Chain) Validate(ctx context.Context, clientID, username string, password []byte) packet.ConnectRespType {
	for _, v := range c {
		if code := v.Validate(ctx, clientID, username, password); code != packet.Accepted {
			return code
		}
	}
	return packet.Accepted
}

// PublishInterceptor sees every message before it is fanned out. Returning false drops it.
type PublishInterceptor interface {
	InterceptPublish(clientID string, msg *session.Message) bool
}

type PublishInterceptorFunc func(clientID string, msg *session.Message) bool

func (f PublishInterceptorFunc) InterceptPublish(clientID string, msg *session.Message) bool {
	return f(clientID, msg)
}

// AckListener is told when a subscriber acknowledged a QoS 1 delivery.
type AckListener interface {
	OnAcknowledged(clientID string, packetID uint16, msg session.Message)
}

type AckListenerFunc func(clientID string, packetID uint16, msg session.Message)

func (f AckListenerFunc) OnAcknowledged(clientID string, packetID uint16, msg session.Message) {
	f(clientID, packetID, msg)
}

// LogAcknowledged records completed QoS 1 deliveries at debug level.
var LogAcknowledged = AckListenerFunc(func(clientID string, packetID uint16, msg session.Message) {
	logger.DebugF("[%s] Packet %d on %s acknowledged by subscriber", clientID, packetID, msg.Topic)
})
