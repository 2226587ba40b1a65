package revocation

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store. Expired entries are dropped lazily.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{now: time.Now, entries: make(map[string]time.Time)}
}

// Revoke implements Store.
func (m *Memory) Revoke(_ context.Context, jti string, until time.Time) error {
	if jti == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !until.IsZero() && !until.After(m.now()) {
		return nil
	}
	m.entries[jti] = until
	return nil
}

// IsRevoked implements jwtauth.RevocationList.
func (m *Memory) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.entries[jti]
	if !ok {
		return false, nil
	}
	if !until.IsZero() && !until.After(m.now()) {
		delete(m.entries, jti)
		return false, nil
	}
	return true, nil
}

// Prune removes expired entries and returns how many remain.
func (m *Memory) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for jti, until := range m.entries {
		if !until.IsZero() && !until.After(now) {
			delete(m.entries, jti)
		}
	}
	return len(m.entries)
}
