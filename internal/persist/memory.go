package persist

import (
	"context"
	"sync"
)

// Memory is a process-local Storage, used in tests and when nothing should
// outlive the process.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Load(_ context.Context, name string, v any) (bool, error) {
	m.mu.RLock()
	data, ok := m.data[name]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return decode(data, v)
}

func (m *Memory) Save(_ context.Context, name string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[name] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.data, name)
	m.mu.Unlock()
	return nil
}
