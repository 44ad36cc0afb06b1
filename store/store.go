// Package store keeps resolved broadcaster ids keyed by channel name.
package store

import (
	"context"
	"strings"
	"sync"
)

// BroadcasterStore maps channel names to broadcaster ids. Implementations
// normalise channel names with Normalize before keying.
type BroadcasterStore interface {
	Get(ctx context.Context, channel string) (id string, ok bool, err error)
	Put(ctx context.Context, channel, id string) error
	All(ctx context.Context) (map[string]string, error)
}

// Normalize lower-cases a channel name and strips a leading '#'.
func Normalize(channel string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
}

// MemoryStore is a process-lifetime BroadcasterStore.
type MemoryStore struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, channel string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.ids[Normalize(channel)]
	return id, ok, nil
}

// Put replaces any id cached for channel.
func (m *MemoryStore) Put(_ context.Context, channel, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids == nil {
		m.ids = make(map[string]string)
	}
	m.ids[Normalize(channel)] = id
	return nil
}

func (m *MemoryStore) All(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.ids))
	for k, v := range m.ids {
		out[k] = v
	}
	return out, nil
}
