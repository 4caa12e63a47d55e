package kvstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/macrolens/mealreport/internal/domain"
)

// MemoryMedium is a thread-safe in-memory key-value medium with a hard capacity.
// It behaves like browser local storage: writes that would exceed the capacity
// fail with domain.ErrQuotaExceeded and leave the previous value in place.
type MemoryMedium struct {
	data     map[string]string
	used     int64
	capacity int64
	mutex    sync.RWMutex
}

// NewMemoryMedium creates an in-memory medium. A capacity <= 0 means unlimited.
func NewMemoryMedium(capacity int64) *MemoryMedium {
	return &MemoryMedium{
		data:     make(map[string]string),
		capacity: capacity,
	}
}

// GetItem retrieves a value from the medium
func (m *MemoryMedium) GetItem(ctx context.Context, key string) (string, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	value, exists := m.data[key]
	return value, exists, nil
}

// SetItem stores a value, rejecting it when the capacity would be exceeded
func (m *MemoryMedium) SetItem(ctx context.Context, key, value string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	next := m.used + EstimateSize(key, value)
	if old, exists := m.data[key]; exists {
		next -= EstimateSize(key, old)
	}
	if m.capacity > 0 && next > m.capacity {
		return fmt.Errorf("%w: write of %q needs %d of %d bytes", domain.ErrQuotaExceeded, key, next, m.capacity)
	}

	m.data[key] = value
	m.used = next
	return nil
}

// RemoveItem removes a value; removing a missing key is not an error
func (m *MemoryMedium) RemoveItem(ctx context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if old, exists := m.data[key]; exists {
		m.used -= EstimateSize(key, old)
		delete(m.data, key)
	}
	return nil
}

// Keys returns every key in lexical order
func (m *MemoryMedium) Keys(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Used returns the estimated bytes held by the medium
func (m *MemoryMedium) Used() int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.used
}
