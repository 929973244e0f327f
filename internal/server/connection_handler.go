package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/connection"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/dispatcher"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/hook"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/mqtt"
	pa "github.com/life-stream-dev/life-stream-go-mqtt-core/internal/packet"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/session"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/topic"
)

var (
	ErrTransportFailure = errors.New("transport failure")
	errClientDisconnect = errors.New("client sent DISCONNECT")
)

type State int32

const (
	AwaitingConnect State = iota
	Connected
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingConnect:
		return "AwaitingConnect"
	case Connected:
		return "Connected"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

type ConnectionHandler struct {
	server     *Server
	conn       *connection.Connection
	connId     string
	clientID   string
	session    *session.Session
	keepAlive  time.Duration
	will       *session.Message
	state      atomic.Int32
	writerDone chan struct{}
}

func newConnectionHandler(s *Server, conn *connection.Connection) *ConnectionHandler {
	return &ConnectionHandler{
		server: s,
		conn:   conn,
		connId: conn.ConnID(),
	}
}

func (c *ConnectionHandler) State() State {
	return State(c.state.Load())
}

func (c *ConnectionHandler) setState(state State) {
	c.state.Store(int32(state))
}

func (c *ConnectionHandler) send(data []byte) error {
	if err := c.conn.Send(data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	return nil
}

func (c *ConnectionHandler) reject(clientID string, code pa.ConnectRespType) error {
	metrics.ConnectRejected.WithLabelValues(code.String()).Inc()
	logger.WarnF("[%s] Client %q rejected: %s", c.connId, clientID, code)
	if err := c.send(pa.NewConnectAckPacket(false, code)); err != nil {
		return err
	}
	return &hook.RejectError{ClientID: clientID, Code: code}
}

func (c *ConnectionHandler) handleFirstPacket() error {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.server.opts.ConnectTimeout))
	packet, err := mqtt.ReadPacketLimit(c.conn, min(maxConnectPacketSize, c.server.opts.MaxPacketSize))
	if err != nil {
		if errors.Is(err, mqtt.ErrProtocolViolation) {
			metrics.ProtocolViolations.Inc()
		}
		logger.WarnF("[%s] Fail to read first packet, details: %v", c.connId, err)
		return err
	}

	if packet.Header.Type != mqtt.CONNECT {
		logger.ErrorF("[%s] Invalid first packet type, expected %s packet, but got %s packet", c.connId, mqtt.CONNECT.String(), packet.Header.Type.String())
		metrics.ProtocolViolations.Inc()
		return fmt.Errorf("%w: first packet is %s", mqtt.ErrProtocolViolation, packet.Header.Type)
	}

	clientInfo, resp, err := pa.ParseConnectPacket(packet)
	if resp != nil {
		if err := c.send(resp); err != nil {
			return err
		}
	}
	if err != nil {
		logger.ErrorF("[%s] Fail to parse CONNECT packet, details: %v", c.connId, err)
		metrics.ProtocolViolations.Inc()
		return err
	}

	clientID := clientInfo.ClientIdentifier.String()
	clean := clientInfo.ConnectFlag.CleanSession
	if clientID == "" {
		if !clean {
			return c.reject(clientID, pa.IdentifierRejected)
		}
		clientID = uuid.NewString()
		logger.DebugF("[%s] Assigned client identifier %s", c.connId, clientID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.server.opts.ConnectTimeout)
	code := c.server.validator.Validate(ctx, clientID, clientInfo.UsernamePayload.String(), clientInfo.PasswordPayload.Payload)
	cancel()
	if code != pa.Accepted {
		return c.reject(clientID, code)
	}

	if clientInfo.ConnectFlag.WillMessageFlag {
		willTopic := clientInfo.WillMessageTopic.String()
		if err := topic.ValidateTopicName(willTopic); err != nil {
			metrics.ProtocolViolations.Inc()
			return fmt.Errorf("%w: will %v", mqtt.ErrProtocolViolation, err)
		}
		c.will = &session.Message{
			Topic:   willTopic,
			Payload: clientInfo.WillMessageContent.Payload,
			QoS:     min(clientInfo.ConnectFlag.QoSLevel, 1),
			Retain:  clientInfo.ConnectFlag.RemainFlag,
			Sender:  clientID,
		}
	}

	c.clientID = clientID
	c.keepAlive = time.Duration(clientInfo.KeepAlive) * time.Second

	sess, present := c.server.registry.Connect(clientID, clean, c.conn)
	c.session = sess
	c.server.connections.BindClient(c.connId, clientID)

	if err := c.send(pa.NewConnectAckPacket(present, pa.Accepted)); err != nil {
		c.server.registry.Disconnect(clientID, c.conn, true)
		return err
	}
	c.setState(Connected)

	logger.InfoF("[%s] Client %s connected, clean session: %t, session present: %t, keep alive: %v",
		c.connId, clientID, clean, present, c.keepAlive)
	if c.keepAlive == 0 {
		logger.DebugF("[%s] Keep alive set to 0, heartbeat disable", c.connId)
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	return nil
}

func (c *ConnectionHandler) handlePacket() error {
	for {
		if c.keepAlive != 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.keepAlive + c.keepAlive/2))
		}

		packet, err := mqtt.ReadPacketLimit(c.conn, c.server.opts.MaxPacketSize)
		if err != nil {
			return err
		}

		logger.DebugF("[%s] Receive %s package, remaining length %d", c.connId, packet.Header.Type, packet.Header.RemainingLength)

		switch packet.Header.Type {
		case mqtt.PUBLISH:
			err = c.handlePublish(packet)
		case mqtt.PUBACK:
			err = c.handlePubAck(packet)
		case mqtt.SUBSCRIBE:
			err = c.handleSubscribe(packet)
		case mqtt.UNSUBSCRIBE:
			err = c.handleUnsubscribe(packet)
		case mqtt.PINGREQ:
			if err = pa.ExpectEmpty(packet); err == nil {
				err = c.send(pa.NewPingRespPacket())
			}
		case mqtt.DISCONNECT:
			if err = pa.ExpectEmpty(packet); err == nil {
				err = errClientDisconnect
			}
		case mqtt.CONNECT:
			err = fmt.Errorf("%w: duplicate CONNECT packet", mqtt.ErrProtocolViolation)
		default:
			err = fmt.Errorf("%w: %s packet has not been supported", mqtt.ErrProtocolViolation, packet.Header.Type)
		}
		if err != nil {
			return err
		}
	}
}

func (c *ConnectionHandler) handlePublish(packet *mqtt.Packet) error {
	result, err := pa.ParsePublishPacket(packet)
	if err != nil {
		return err
	}
	if result.PacketFlag.QoS > 1 {
		return fmt.Errorf("%w: QoS %d publish is not supported", mqtt.ErrProtocolViolation, result.PacketFlag.QoS)
	}
	topicName := result.TopicName.String()
	if err := topic.ValidateTopicName(topicName); err != nil {
		return fmt.Errorf("%w: %v", mqtt.ErrProtocolViolation, err)
	}

	n := c.server.dispatcher.Publish(session.Message{
		Topic:   topicName,
		Payload: result.Payload,
		QoS:     result.PacketFlag.QoS,
		Retain:  result.PacketFlag.Retain,
		Sender:  c.clientID,
	}, dispatcher.OriginClient)
	logger.DebugF("[%s] Message on %s queued for %d sessions", c.connId, topicName, n)

	if result.PacketFlag.QoS == 1 {
		return c.send(pa.NewPubAckPacket(result.PacketID))
	}
	return nil
}

func (c *ConnectionHandler) handlePubAck(packet *mqtt.Packet) error {
	packetID, err := pa.ParsePubAckPacket(packet)
	if err != nil {
		return err
	}
	pending, ok := c.session.Ack(packetID)
	if !ok {
		logger.DebugF("[%s] Ignoring PUBACK for unknown packet %d", c.connId, packetID)
		return nil
	}
	if c.server.ackListener != nil {
		c.server.ackListener.OnAcknowledged(c.clientID, packetID, pending.Message)
	}
	return nil
}

func (c *ConnectionHandler) handleSubscribe(packet *mqtt.Packet) error {
	result, err := pa.ParseSubscribePacket(packet)
	if err != nil {
		return err
	}

	states := make([]pa.SubscribeState, 0, len(result.Subscriptions))
	for _, sub := range result.Subscriptions {
		granted, err := c.server.registry.Subscribe(c.clientID, c.conn, sub.Filter, sub.QoS)
		switch {
		case err == nil:
			states = append(states, pa.SubscribeState(granted))
			logger.DebugF("[%s] Subscribed to %s with QoS %d", c.connId, sub.Filter, granted)
		case errors.Is(err, topic.ErrFilterInvalid):
			states = append(states, pa.Failure)
			logger.WarnF("[%s] Rejected subscription: %v", c.connId, err)
		default:
			return err
		}
	}
	return c.send(pa.NewSubAckPacket(result.PacketID, states))
}

func (c *ConnectionHandler) handleUnsubscribe(packet *mqtt.Packet) error {
	result, err := pa.ParseUnSubscribePacket(packet)
	if err != nil {
		return err
	}
	for _, filter := range result.Filters {
		if err := c.server.registry.Unsubscribe(c.clientID, c.conn, filter); err != nil {
			return err
		}
	}
	return c.send(pa.NewUnSubAckPacket(result.PacketID))
}

// writeLoop is the only writer of PUBLISH packets for the connection. It drains the session
// queue whenever the session signals work and re-sends QoS 1 deliveries that are due.
func (c *ConnectionHandler) writeLoop() {
	defer close(c.writerDone)

	wake := c.session.Wake(c.conn)
	if wake == nil {
		return
	}
	ticker := time.NewTicker(c.server.opts.RetryTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.conn.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
		if !c.retransmit(time.Now()) || !c.flush() {
			_ = c.conn.Close()
			return
		}
	}
}

func (c *ConnectionHandler) flush() bool {
	for {
		out, ok := c.session.Next(c.conn)
		if !ok {
			return true
		}
		if err := c.writeOutbound(out); err != nil {
			logger.WarnF("[%s] Fail to deliver message on %s, details: %v", c.connId, out.Message.Topic, err)
			return false
		}
	}
}

func (c *ConnectionHandler) retransmit(now time.Time) bool {
	retries, expired := c.session.DueRetries(c.conn, now)
	for _, pending := range expired {
		metrics.MessagesDropped.WithLabelValues(metrics.DropRetryLimit).Inc()
		logger.WarnF("[%s] Giving up on packet %d to %s after %d attempts", c.connId, pending.PacketID, pending.Message.Topic, pending.Attempts)
	}
	for _, out := range retries {
		metrics.Retransmissions.Inc()
		if err := c.writeOutbound(out); err != nil {
			logger.WarnF("[%s] Fail to retransmit packet %d, details: %v", c.connId, out.PacketID, err)
			return false
		}
	}
	return true
}

func (c *ConnectionHandler) writeOutbound(out *session.Outbound) error {
	data := pa.NewPublishPacket(&pa.PublishPacketPayloads{
		PacketFlag: pa.PublishPacketFlag{RetryFlag: out.Dup, QoS: out.QoS},
		TopicName:  pa.NewFieldPayload(out.Message.Topic),
		PacketID:   out.PacketID,
		Payload:    out.Message.Payload,
	})
	if err := c.send(data); err != nil {
		return err
	}
	metrics.MessagesDelivered.WithLabelValues(strconv.Itoa(int(out.QoS))).Inc()
	return nil
}

// finish applies the session rules for the way the connection ended and publishes the
// will message unless the client disconnected gracefully.
func (c *ConnectionHandler) finish(cause error) {
	graceful := errors.Is(cause, errClientDisconnect)
	switch {
	case graceful:
		logger.InfoF("[%s] Client %s disconnect", c.connId, c.clientID)
	case errors.Is(cause, mqtt.ErrProtocolViolation):
		metrics.ProtocolViolations.Inc()
		logger.ErrorF("[%s] Closing connection of %s, details: %v", c.connId, c.clientID, cause)
	case errors.Is(cause, os.ErrDeadlineExceeded):
		logger.WarnF("[%s] Client %s keep alive timeout", c.connId, c.clientID)
	default:
		connection.HandleReadError(c.connId, cause)
	}

	_ = c.conn.Close()
	<-c.writerDone
	c.server.registry.Disconnect(c.clientID, c.conn, !graceful)

	if !graceful && c.will != nil {
		logger.InfoF("[%s] Publishing will message of %s on %s", c.connId, c.clientID, c.will.Topic)
		c.server.dispatcher.Publish(*c.will, dispatcher.OriginWill)
	}
}

func (c *ConnectionHandler) handleConnection() {
	defer func() {
		c.setState(Closed)
		if err := c.conn.Close(); err != nil {
			logger.WarnF("[%s] Error occured while closing connection, details: %v", c.connId, err)
		}
		logger.DebugF("[%s] Connection closed", c.connId)
	}()

	if err := c.handleFirstPacket(); err != nil {
		c.setState(Closing)
		return
	}

	c.writerDone = make(chan struct{})
	go c.writeLoop()

	err := c.handlePacket()
	c.setState(Closing)
	c.finish(err)
}
