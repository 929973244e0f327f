// Package client is a small MQTT client used by the command line tools and the integration
// tests.
package client

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jpillora/backoff"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
)

const disconnectQuiesce = 250

var (
	ErrNoConnection = errors.New("no connection to broker server")
	ErrNoTopics     = errors.New("no topics provided")
)

var tokenWaitTimeout = 3 * time.Second

// Event is a message received on a subscription.
type Event struct {
	Topic     string
	Payload   []byte
	Duplicate bool
	QoS       byte
}

type Handler func(e Event) error

type will struct {
	topic   string
	payload string
	qos     byte
}

type Client struct {
	uri            *url.URL
	clientID       string
	username       string
	password       string
	cleanSession   bool
	qos            byte
	keepAlive      time.Duration
	will           *will
	connectRetries int

	client mqtt.Client

	subscribeTopics  []string
	subscribeHandler Handler
}

func New(opts ...Option) (*Client, error) {
	c := &Client{
		cleanSession: true,
		qos:          1,
		keepAlive:    30 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.uri == nil {
		return nil, errors.New("broker url is required")
	}
	return c, nil
}

func (c *Client) opts() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + c.uri.Host)
	username := c.username
	if u := c.uri.User.Username(); u != "" {
		username = u
	}
	opts.SetUsername(username)
	password := c.password
	if p, isSet := c.uri.User.Password(); isSet {
		password = p
	}
	opts.SetPassword(password)
	opts.SetClientID(c.clientID)
	opts.SetProtocolVersion(4)
	opts.SetCleanSession(c.cleanSession)
	opts.SetKeepAlive(c.keepAlive)
	opts.SetConnectTimeout(tokenWaitTimeout)
	opts.SetAutoReconnect(!c.cleanSession)

	opts.OnConnect = func(client mqtt.Client) {
		logger.InfoF("[%s] Connected to broker %s", c.clientID, c.uri.Host)
		if c.subscribeHandler != nil && len(c.subscribeTopics) > 0 {
			if err := c.subscribe(client, c.subscribeTopics, c.subscribeHandler); err != nil {
				logger.ErrorF("[%s] Resubscribe to %v failed, details: %v", c.clientID, c.subscribeTopics, err)
			}
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.WarnF("[%s] Connection lost with broker, details: %v", c.clientID, err)
	}
	opts.OnReconnecting = func(mqtt.Client, *mqtt.ClientOptions) {
		logger.InfoF("[%s] Trying reconnect with broker", c.clientID)
	}

	if c.will != nil {
		opts.SetWill(c.will.topic, c.will.payload, c.will.qos, false)
	}
	return opts
}

func wait(token mqtt.Token) error {
	if !token.WaitTimeout(tokenWaitTimeout) {
		return fmt.Errorf("operation did not complete within %s", tokenWaitTimeout)
	}
	return token.Error()
}

// Connect dials the broker, retrying failed attempts with exponential backoff.
func (c *Client) Connect() error {
	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true}
	for {
		client := mqtt.NewClient(c.opts())
		err := wait(client.Connect())
		if err == nil {
			c.client = client
			return nil
		}
		if int(b.Attempt()) >= c.connectRetries {
			return err
		}
		delay := b.Duration()
		logger.WarnF("[%s] Connect failed, retrying in %s, details: %v", c.clientID, delay, err)
		time.Sleep(delay)
	}
}

// ConnectAndSubscribe connects and resubscribes to topics each time the connection is
// established.
func (c *Client) ConnectAndSubscribe(h Handler, topics []string) error {
	c.subscribeHandler = h
	c.subscribeTopics = topics
	return c.Connect()
}

func (c *Client) Disconnect() error {
	if c.client == nil {
		return ErrNoConnection
	}
	c.client.Disconnect(disconnectQuiesce)
	return nil
}

func (c *Client) Publish(topic string, payload any) error {
	if c.client == nil {
		return ErrNoConnection
	}
	return wait(c.client.Publish(topic, c.qos, false, payload))
}

func (c *Client) Subscribe(topics []string, h Handler) error {
	if c.client == nil {
		return ErrNoConnection
	}
	return c.subscribe(c.client, topics, h)
}

func (c *Client) subscribe(client mqtt.Client, topics []string, h Handler) error {
	if len(topics) == 0 {
		return ErrNoTopics
	}
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = c.qos
	}
	return wait(client.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		if err := h(Event{
			Topic:     msg.Topic(),
			Payload:   msg.Payload(),
			Duplicate: msg.Duplicate(),
			QoS:       msg.Qos(),
		}); err != nil {
			logger.ErrorF("[%s] Handler for %s failed, details: %v", c.clientID, msg.Topic(), err)
		}
	}))
}

func (c *Client) Unsubscribe(topics ...string) error {
	if c.client == nil {
		return ErrNoConnection
	}
	return wait(c.client.Unsubscribe(topics...))
}

func (c *Client) String() string {
	return fmt.Sprintf("Client [%s]", c.clientID)
}
