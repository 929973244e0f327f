package connection

import (
	"errors"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
)

// Info describes an open connection.
type Info struct {
	ConnID     string    `json:"conn_id"`
	ClientID   string    `json:"client_id,omitempty"`
	RemoteAddr string    `json:"remote_addr"`
	OpenedAt   time.Time `json:"opened_at"`
}

type entry struct {
	conn     *Connection
	clientID atomic.Value
}

// ConnectionManager tracks open connections by connection id.
type ConnectionManager struct {
	connections sync.Map
	count       atomic.Int64
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{}
}

func (cm *ConnectionManager) AddConnection(conn *Connection) {
	cm.connections.Store(conn.ConnID(), &entry{conn: conn})
	cm.count.Add(1)
	logger.DebugF("[%s] Connection opened", conn.ConnID())
}

// BindClient records the client identifier once the CONNECT was accepted.
func (cm *ConnectionManager) BindClient(connID, clientID string) {
	if value, ok := cm.connections.Load(connID); ok {
		value.(*entry).clientID.Store(clientID)
	}
}

func (cm *ConnectionManager) RemoveConnection(connID string) {
	if _, loaded := cm.connections.LoadAndDelete(connID); loaded {
		cm.count.Add(-1)
		logger.DebugF("[%s] Connection removed", connID)
	}
}

func (cm *ConnectionManager) GetConnection(connID string) (*Connection, bool) {
	if value, ok := cm.connections.Load(connID); ok {
		return value.(*entry).conn, true
	}
	return nil, false
}

func (cm *ConnectionManager) Count() int {
	return int(cm.count.Load())
}

func (cm *ConnectionManager) List() []Info {
	infos := make([]Info, 0, cm.Count())
	cm.connections.Range(func(_, value any) bool {
		e := value.(*entry)
		info := Info{
			ConnID:     e.conn.ConnID(),
			RemoteAddr: e.conn.RemoteAddr(),
			OpenedAt:   e.conn.OpenedAt(),
		}
		if clientID, ok := e.clientID.Load().(string); ok {
			info.ClientID = clientID
		}
		infos = append(infos, info)
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].OpenedAt.Before(infos[j].OpenedAt) })
	return infos
}

// CloseAll closes every tracked connection.
func (cm *ConnectionManager) CloseAll() {
	cm.connections.Range(func(_, value any) bool {
		conn := value.(*entry).conn
		if err := conn.Close(); err != nil {
			logger.WarnF("[%s] Error occured while closing connection, details: %v", conn.ConnID(), err)
		}
		return true
	})
}

// HandleReadError logs why reading from a connection stopped.
func HandleReadError(connID string, err error) {
	switch {
	case errors.Is(err, io.EOF), IsNetClosedError(err) && !os.IsTimeout(err):
		logger.InfoF("[%s] Client close connection", connID)
	case os.IsTimeout(err):
		logger.WarnF("[%s] Reading timeout", connID)
	default:
		logger.ErrorF("[%s] Error occured while reading packet, details: %v", connID, err)
	}
}
