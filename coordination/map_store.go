package coordination

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type mapEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

func (e mapEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// MapStore is an in-process CoordinationService used by tests in place of
// the buntdb-backed Store, per spec.md §9's substitutability requirement.
type MapStore struct {
	mu   sync.Mutex
	data map[string]mapEntry
}

func NewMapStore() *MapStore {
	return &MapStore{data: make(map[string]mapEntry)}
}

func (m *MapStore) Close() error { return nil }

func (m *MapStore) SetValue(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = entryWithTTL(value, ttl)
	return nil
}

func entryWithTTL(value string, ttl time.Duration) mapEntry {
	e := mapEntry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	return e
}

func (m *MapStore) GetValue(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || e.expired(time.Now()) {
		delete(m.data, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MapStore) DeleteValue(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MapStore) PopValue(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	delete(m.data, key)
	if !ok || e.expired(time.Now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MapStore) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := int64(0)
	if e, ok := m.data[key]; ok && !e.expired(time.Now()) {
		n, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "coordination: non-integer value at key %q", key)
		}
		cur = n
	}
	result := cur + delta
	m.data[key] = entryWithTTL(strconv.FormatInt(result, 10), ttl)
	return result, nil
}

func (m *MapStore) AcquireLock(_ context.Context, key, holder string, ttl time.Duration) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if e, ok := m.data[key]; ok && !e.expired(now) && e.value != holder {
		return false, e.value, nil
	}
	m.data[key] = entryWithTTL(holder, ttl)
	return true, holder, nil
}

func (m *MapStore) ReleaseLock(_ context.Context, key, holder string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || e.expired(time.Now()) || e.value != holder {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

var _ Service = (*MapStore)(nil)
