package session

import (
	"errors"
	"sync"
)

var ErrPacketIDsExhausted = errors.New("no free packet identifier")

// PacketIDManager hands out packet identifiers that are unique among the outstanding
// QoS 1 deliveries of one session.
type PacketIDManager struct {
	mu        sync.Mutex
	currentID uint16
	inUse     map[uint16]struct{}
}

func NewPacketIDManager() *PacketIDManager {
	return &PacketIDManager{
		currentID: 1,
		inUse:     make(map[uint16]struct{}),
	}
}

// NextID returns the next identifier not currently in use, wrapping from 65535 to 1.
func (m *PacketIDManager) NextID() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.inUse) >= 65535 {
		return 0, ErrPacketIDsExhausted
	}

	for {
		id := m.currentID
		m.currentID++
		if m.currentID == 0 {
			m.currentID = 1
		}
		if _, used := m.inUse[id]; !used {
			m.inUse[id] = struct{}{}
			return id, nil
		}
	}
}

// ReleaseID frees an identifier once its acknowledgement arrived.
func (m *PacketIDManager) ReleaseID(id uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inUse, id)
}

func (m *PacketIDManager) InUse(id uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inUse[id]
	return ok
}

// Reset releases every identifier.
func (m *PacketIDManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inUse = make(map[uint16]struct{})
	m.currentID = 1
}
