package watch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingPatcher struct {
	mu    sync.Mutex
	calls []map[string]any
	err   error
}

func (r *recordingPatcher) Patch(_ context.Context, data map[string]any) (map[string]json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, data)
	return nil, r.err
}

func (r *recordingPatcher) snapshot() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.calls...)
}

func TestRapidChangesSaveOnce(t *testing.T) {
	p := &recordingPatcher{}
	w := New(p, 50*time.Millisecond)
	defer w.Close()

	f := w.Field("operator")
	f.Set("x")
	f.Set("y")
	f.Set("z")

	require.Eventually(t, func() bool { return len(p.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	calls := p.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"operator": "z"}, calls[0])
}

func TestQuietGapSavesTwice(t *testing.T) {
	p := &recordingPatcher{}
	w := New(p, 20*time.Millisecond)
	defer w.Close()

	f := w.Field("line")
	f.Set(1)
	require.Eventually(t, func() bool { return len(p.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	f.Set(2)
	require.Eventually(t, func() bool { return len(p.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	calls := p.snapshot()
	assert.Equal(t, map[string]any{"line": 1}, calls[0])
	assert.Equal(t, map[string]any{"line": 2}, calls[1])
}

func TestFieldsHaveIndependentTimers(t *testing.T) {
	p := &recordingPatcher{}
	w := New(p, 20*time.Millisecond)
	defer w.Close()

	w.Field("a").Set(1)
	w.Field("b").Set(2)
	assert.Same(t, w.Field("a"), w.Field("a"))

	require.Eventually(t, func() bool { return len(p.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestCloseCancelsPendingSaves(t *testing.T) {
	p := &recordingPatcher{}
	w := New(p, 30*time.Millisecond)

	f := w.Field("a")
	f.Set(1)
	w.Close()
	f.Set(2)

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, p.snapshot())
	assert.Equal(t, 2, f.Value())
}

func TestPatchErrorIsNotFatal(t *testing.T) {
	p := &recordingPatcher{err: errors.New("boom")}
	w := New(p, 10*time.Millisecond)
	defer w.Close()

	w.Field("a").Set(1)
	require.Eventually(t, func() bool { return len(p.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}
