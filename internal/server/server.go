// Package server accepts MQTT connections and runs one ConnectionHandler per connection.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/connection"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/dispatcher"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/hook"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/mqtt"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/session"
)

var ErrServerClosed = errors.New("mqtt server closed")

type Options struct {
	// ConnectTimeout bounds the wait for the first packet; 0 means 10 seconds.
	ConnectTimeout time.Duration
	// MaxConnections caps concurrently served connections; 0 means 10000.
	MaxConnections int
	// RetryTick is how often writers look for QoS 1 deliveries due for retransmission.
	RetryTick time.Duration
	// MaxPacketSize bounds the remaining length of inbound packets; 0 means 1 MiB.
	MaxPacketSize int
	// WriteTimeout bounds each write to a client; 0 means 10 seconds.
	WriteTimeout time.Duration
}

// maxConnectPacketSize bounds packets read before the client is authenticated.
const maxConnectPacketSize = 64 * 1024

type Server struct {
	registry    *session.Registry
	dispatcher  *dispatcher.Dispatcher
	validator   hook.Validator
	ackListener hook.AckListener
	connections *connection.ConnectionManager
	opts        Options

	sem       chan struct{}
	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	handlers  sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

type Option func(*Server)

func WithValidator(validator hook.Validator) Option {
	return func(s *Server) {
		s.validator = validator
	}
}

func WithAckListener(listener hook.AckListener) Option {
	return func(s *Server) {
		s.ackListener = listener
	}
}

func New(registry *session.Registry, d *dispatcher.Dispatcher, opts Options, options ...Option) *Server {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 10000
	}
	if opts.RetryTick <= 0 {
		opts.RetryTick = time.Second
	}
	if opts.MaxPacketSize <= 0 {
		opts.MaxPacketSize = mqtt.DefaultMaxPacketSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	s := &Server{
		registry:    registry,
		dispatcher:  d,
		validator:   hook.AlwaysAccept,
		connections: connection.NewConnectionManager(),
		opts:        opts,
		sem:         make(chan struct{}, opts.MaxConnections),
		listeners:   make(map[net.Listener]struct{}),
		closed:      make(chan struct{}),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *Server) Connections() *connection.ConnectionManager {
	return s.connections
}

// ListenAndServe listens on addr until ctx is cancelled or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Shutdown(context.Background())
		case <-s.closed:
		}
	}()
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	default:
	}
	s.listeners[ln] = struct{}{}
	s.mu.Unlock()

	logger.InfoF("MQTT Server Listen On %s", ln.Addr().String())
	defer func() {
		s.mu.Lock()
		delete(s.listeners, ln)
		s.mu.Unlock()
		if err := ln.Close(); err != nil && !connection.IsNetClosedError(err) {
			logger.ErrorF("Server close error: %v", err)
		}
	}()

	var tempDelay time.Duration
	for {
		select {
		case s.sem <- struct{}{}:
		case <-s.closed:
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			<-s.sem
			select {
			case <-s.closed:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				tempDelay = min(max(tempDelay*2, 5*time.Millisecond), time.Second)
				logger.ErrorF("Accept connection error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		logger.DebugF("Accepted new connection from %s", conn.RemoteAddr().String())
		s.handlers.Add(1)
		go func(c net.Conn) {
			defer func() {
				<-s.sem
				s.handlers.Done()
			}()
			s.handle(c)
		}(conn)
	}
}

// ServeConn runs the handler for an already accepted stream and returns when it is closed.
func (s *Server) ServeConn(conn net.Conn) {
	s.handlers.Add(1)
	defer s.handlers.Done()
	s.handle(conn)
}

func (s *Server) handle(conn net.Conn) {
	c := connection.NewConnection(conn)
	c.SetWriteTimeout(s.opts.WriteTimeout)
	s.connections.AddConnection(c)
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	defer func() {
		s.connections.RemoveConnection(c.ConnID())
		metrics.ConnectionsActive.Dec()
	}()
	select {
	case <-s.closed:
		_ = c.Close()
		return
	default:
	}

	newConnectionHandler(s, c).handleConnection()
}

// Shutdown stops accepting, closes every connection and waits for the handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		for ln := range s.listeners {
			_ = ln.Close()
		}
		s.mu.Unlock()
		s.connections.CloseAll()
	})

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) Invoke(ctx context.Context) error {
	logger.InfoF("Shutting down MQTT server")
	return s.Shutdown(ctx)
}
