package cache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Set("shift.operatorId", "op-7"))

	v, ok := c.Get("shift.operatorId")
	require.True(t, ok)
	assert.Equal(t, "op-7", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.PendingLen())
}

func TestSetRejectsUnserializable(t *testing.T) {
	c := New(nil)
	err := c.Set("bad", make(chan int))
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.PendingLen())
}

func TestLastWriteWins(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Set("k", 1))
	require.NoError(t, c.Set("k", 2))

	b := c.Pending()
	require.Equal(t, 1, b.Len())
	assert.JSONEq(t, `2`, string(b.Payload()["k"].(json.RawMessage)))
}

func TestPatchThenSetTransmitsLatest(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Patch(map[string]any{"a": 1, "b": 2}))
	require.NoError(t, c.Set("b", 3))

	body, err := json.Marshal(c.Pending().Payload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":3}`, string(body))
}

func TestPatchRejectsWholeBatchOnBadValue(t *testing.T) {
	c := New(nil)
	err := c.Patch(map[string]any{"a": 1, "b": func() {}})
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestAcknowledgeKeepsWritesMadeInFlight(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.Set("b", 1))
	batch := c.Pending()

	require.NoError(t, c.Set("b", 2))
	require.NoError(t, c.Set("c", 1))

	assert.Equal(t, 1, c.Acknowledge(batch))
	assert.False(t, c.IsPending("a"))
	assert.True(t, c.IsPending("b"))
	assert.True(t, c.IsPending("c"))

	v, _ := c.Get("b")
	assert.Equal(t, 2, v)
}

func TestAcknowledgeClearsBatch(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Set("a", map[string]any{"x": true}))
	assert.Equal(t, 1, c.Acknowledge(c.Pending()))
	assert.Equal(t, 0, c.PendingLen())

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"x": true}, v)
}

func TestCriticalHook(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		critical bool
	}{
		{name: "exact", key: "shift_saved", critical: true},
		{name: "substring", key: "line3.shift_saved_at", critical: true},
		{name: "plain", key: "shift.operatorId", critical: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(DefaultCriticalKeys)
			var fired []string
			c.OnCritical(func(key string) { fired = append(fired, key) })
			require.NoError(t, c.Set(tt.key, true))
			if tt.critical {
				assert.Equal(t, []string{tt.key}, fired)
			} else {
				assert.Empty(t, fired)
			}
		})
	}
}

func TestGetAllIsCopy(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Set("a", "x"))
	all := c.GetAll()
	all["a"] = "mutated"
	v, _ := c.Get("a")
	assert.Equal(t, "x", v)
}

func TestRawMessageStoredVerbatim(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Set("a", json.RawMessage(`{"n":1}`)))
	assert.Error(t, c.Set("b", json.RawMessage(`{`)))
	v, _ := c.Get("a")
	assert.Equal(t, json.RawMessage(`{"n":1}`), v)
}

type rollTally struct {
	Line  int
	Rolls []string
}

func TestGetReturnsStoredValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{name: "int", value: 1},
		{name: "struct", value: rollTally{Line: 3, Rolls: []string{"r-1"}}},
		{name: "pointer", value: &rollTally{Line: 4}},
		{name: "nil", value: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(nil)
			require.NoError(t, c.Set("k", tt.value))
			v, ok := c.Get("k")
			require.True(t, ok)
			assert.Equal(t, tt.value, v)
			assert.Equal(t, tt.value, c.GetAll()["k"])
		})
	}
}

func TestPatchStoresValuesAsGiven(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Patch(map[string]any{"line": 7, "tally": rollTally{Line: 7}}))

	v, _ := c.Get("line")
	assert.Equal(t, 7, v)
	v, _ = c.Get("tally")
	assert.Equal(t, rollTally{Line: 7}, v)

	body, err := json.Marshal(c.Pending().Payload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"line":7,"tally":{"Line":7,"Rolls":null}}`, string(body))
}
