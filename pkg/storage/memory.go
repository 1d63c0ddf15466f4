package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-memory KV used by tests and throwaway boards.
// Values are stored as raw JSON and copied on the way in and out.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
	opts   options
}

// NewMemory creates an empty in-memory KV.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		values: make(map[string][]byte),
		opts:   buildOptions(opts),
	}
}

func (m *Memory) Save(_ context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(resolve(value))
	if err != nil {
		return fmt.Errorf("cannot marshal %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var others int64
	for k, v := range m.values {
		if k != key {
			others += int64(len(v))
		}
	}
	if !m.opts.fits(others, int64(len(raw))) {
		return fmt.Errorf("cannot save %s (%d bytes): %w", key, len(raw), ErrStorageFull)
	}
	m.values[key] = raw
	return nil
}

func (m *Memory) Load(_ context.Context, key string, dst interface{}) (bool, error) {
	if err := checkTarget(dst); err != nil {
		return false, err
	}
	raw, ok := m.Raw(key)
	if !ok {
		return false, nil
	}
	return decodeInto(m.opts.log, key, raw, dst), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// PutRaw stores raw bytes under key without validation or quota checks.
func (m *Memory) PutRaw(key string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), raw...)
}

// Raw returns a copy of the bytes stored under key.
func (m *Memory) Raw(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}
