package codec

import (
	"maps"
	"net/url"
	"sync"
)

// Fields is the set of text inputs bound to ev_conf keys. Each key maps to a
// single textual input surface.
type Fields interface {
	// Value returns the text of the input bound to key and whether such an
	// input exists.
	Value(key string) (string, bool)
	// SetValue replaces the text of the input bound to key.
	SetValue(key, text string)
}

// MapFields is an in-memory Fields implementation. The zero value is not
// usable, use NewMapFields.
type MapFields struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMapFields returns an empty set of field bindings.
func NewMapFields() *MapFields {
	return &MapFields{values: make(map[string]string)}
}

// Value implements Fields.
func (m *MapFields) Value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

// SetValue implements Fields.
func (m *MapFields) SetValue(key, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = text
}

// Snapshot returns a copy of every bound value.
func (m *MapFields) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.values)
}

// Len returns how many keys are bound.
func (m *MapFields) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

// Reset removes every binding.
func (m *MapFields) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.values)
}

// FormFields exposes submitted form values as Fields. Only the first value of
// each key is used.
type FormFields url.Values

// Value implements Fields.
func (f FormFields) Value(key string) (string, bool) {
	v, ok := f[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// SetValue implements Fields.
func (f FormFields) SetValue(key, text string) {
	url.Values(f).Set(key, text)
}

// Copy writes every key present in src into dst.
func Copy(dst, src Fields, keys []string) {
	for _, key := range keys {
		if v, ok := src.Value(key); ok {
			dst.SetValue(key, v)
		}
	}
}
