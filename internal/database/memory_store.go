package database

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps client records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	clients map[string]ClientRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clients: make(map[string]ClientRecord)}
}

func (ms *MemoryStore) FindClient(_ context.Context, clientID string) (*ClientRecord, error) {
	if clientID == "" {
		return nil, ErrClientIDEmpty
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	record, ok := ms.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return &record, nil
}

func (ms *MemoryStore) SaveClient(_ context.Context, record *ClientRecord) error {
	if record.ClientID == "" {
		return ErrClientIDEmpty
	}
	record.UpdatedAt = time.Now().UTC()
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.clients[record.ClientID] = *record
	return nil
}

func (ms *MemoryStore) DeleteClient(_ context.Context, clientID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.clients[clientID]; !ok {
		return ErrClientNotFound
	}
	delete(ms.clients, clientID)
	return nil
}
