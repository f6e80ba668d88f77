// Package cache holds the in-memory write-back cache of session values. Every write lands in the
// full snapshot as given and in the pending set as encoded JSON; the pending set only shrinks when
// a sync acknowledges the exact versions it carried.
package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// DefaultCriticalKeys are the key fragments that force an immediate sync.
var DefaultCriticalKeys = []string{"shift_saved"}

type pendingEntry struct {
	value   json.RawMessage
	version uint64
}

type Cache struct {
	mu         sync.Mutex
	snapshot   map[string]any
	pending    map[string]pendingEntry
	version    uint64
	critical   []string
	onCritical func(key string)
}

func New(critical []string) *Cache {
	return &Cache{
		snapshot: make(map[string]any),
		pending:  make(map[string]pendingEntry),
		critical: append([]string(nil), critical...),
	}
}

// OnCritical registers the hook called after a write to a critical key.
func (c *Cache) OnCritical(fn func(key string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCritical = fn
}

func (c *Cache) isCritical(key string) bool {
	for _, fragment := range c.critical {
		if fragment != "" && strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}

func encode(key string, value any) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("failed to encode %q: invalid raw json", key)
		}
		return append(json.RawMessage(nil), raw...), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return raw, nil
}

// store must be called with the lock held. It reports whether the key is critical.
func (c *Cache) store(key string, value any, raw json.RawMessage) bool {
	c.version++
	c.snapshot[key] = value
	c.pending[key] = pendingEntry{value: raw, version: c.version}
	return c.isCritical(key)
}

func (c *Cache) Set(key string, value any) error {
	raw, err := encode(key, value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	critical := c.store(key, value, raw)
	hook := c.onCritical
	c.mu.Unlock()
	if critical && hook != nil {
		hook(key)
	}
	return nil
}

// Patch stores every entry of data. Values are encoded up front so a bad value rejects the
// whole call, but once stored each key is pending on its own.
func (c *Cache) Patch(data map[string]any) error {
	encoded := make(map[string]json.RawMessage, len(data))
	for k, v := range data {
		raw, err := encode(k, v)
		if err != nil {
			return err
		}
		encoded[k] = raw
	}

	var criticalKeys []string
	c.mu.Lock()
	for k, raw := range encoded {
		if c.store(k, data[k], raw) {
			criticalKeys = append(criticalKeys, k)
		}
	}
	hook := c.onCritical
	c.mu.Unlock()

	if hook != nil {
		for _, k := range criticalKeys {
			hook(k)
		}
	}
	return nil
}

// Get returns the value last stored under key, exactly as it was passed to Set or Patch.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.snapshot[key]
	return v, ok
}

// GetAll returns a shallow copy of the full snapshot.
func (c *Cache) GetAll() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.snapshot))
	for k, v := range c.snapshot {
		out[k] = v
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snapshot)
}

func (c *Cache) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// IsPending reports whether key has a write that has not been acknowledged yet.
func (c *Cache) IsPending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}
