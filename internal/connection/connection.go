// Package connection wraps accepted transport streams and tracks the open ones.
package connection

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
)

// Connection is one client transport stream. Writes are serialized and Close is idempotent.
type Connection struct {
	conn       io.ReadWriteCloser
	connID     string
	remoteAddr string
	openedAt   time.Time

	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
	done         chan struct{}
}

func NewConnection(conn io.ReadWriteCloser) *Connection {
	remote := "unknown"
	if nc, ok := conn.(net.Conn); ok && nc.RemoteAddr() != nil {
		remote = nc.RemoteAddr().String()
	}
	return &Connection{
		conn:       conn,
		connID:     remote + "#" + uuid.NewString()[:8],
		remoteAddr: remote,
		openedAt:   time.Now(),
		done:       make(chan struct{}),
	}
}

func (c *Connection) ConnID() string {
	return c.connID
}

func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

func (c *Connection) OpenedAt() time.Time {
	return c.openedAt
}

func (c *Connection) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

// SetReadDeadline is a no-op for streams without deadline support.
func (c *Connection) SetReadDeadline(t time.Time) error {
	if d, ok := c.conn.(interface{ SetReadDeadline(time.Time) error }); ok {
		return d.SetReadDeadline(t)
	}
	return nil
}

// SetWriteTimeout bounds every later Send; 0 disables the bound. Call it before the connection
// is shared.
func (c *Connection) SetWriteTimeout(d time.Duration) {
	c.writeTimeout = d
}

func (c *Connection) setWriteDeadline(t time.Time) error {
	if d, ok := c.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		return d.SetWriteDeadline(t)
	}
	return nil
}

// Send writes the whole of data or fails. A peer that stops reading fails the write once the
// write timeout passes.
func (c *Connection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}

	if c.writeTimeout > 0 {
		if err := c.setWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}

	total := 0
	for total < len(data) {
		n, err := c.conn.Write(data[total:])
		if err != nil {
			return err
		}
		total += n
	}
	logger.DebugF("[%s] Send %d bytes to client", c.connID, total)
	return nil
}

func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.conn.Close()
		if c.closeErr != nil && IsNetClosedError(c.closeErr) {
			c.closeErr = nil
		}
	})
	return c.closeErr
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func IsNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}
