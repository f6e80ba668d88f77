package cache

import "encoding/json"

// Batch is a point-in-time copy of the pending set, sent as one sync request.
type Batch struct {
	values   map[string]json.RawMessage
	versions map[string]uint64
}

func (b Batch) Len() int {
	return len(b.values)
}

func (b Batch) Empty() bool {
	return len(b.values) == 0
}

// Payload returns the batch as a request body mapping.
func (b Batch) Payload() map[string]any {
	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

func (b Batch) Keys() []string {
	out := make([]string, 0, len(b.values))
	for k := range b.values {
		out = append(out, k)
	}
	return out
}

// Pending snapshots the current pending set.
func (c *Cache) Pending() Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := Batch{
		values:   make(map[string]json.RawMessage, len(c.pending)),
		versions: make(map[string]uint64, len(c.pending)),
	}
	for k, e := range c.pending {
		b.values[k] = e.value
		b.versions[k] = e.version
	}
	return b
}

// Acknowledge clears the batch's keys from the pending set. A key written again after the
// batch was taken keeps its newer pending value. It returns the number of keys cleared.
func (c *Cache) Acknowledge(b Batch) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cleared := 0
	for k, version := range b.versions {
		if e, ok := c.pending[k]; ok && e.version == version {
			delete(c.pending, k)
			cleared++
		}
	}
	return cleared
}
