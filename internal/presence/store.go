package presence

import "sync"

// Store is the small key-value store holding the "last session start" per
// activity. Values are RFC 3339 timestamps. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) (string, bool, error)
	// Set overwrites the value for key.
	Set(key, value string) error
}

// SessionKey returns the store key for an activity's last session start.
func SessionKey(activity string) string {
	return activity + "_last_session_start"
}

// MemoryStore is an in-process [Store], used in tests and when persistence
// is disabled.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// Get implements [Store].
func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements [Store].
func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}
