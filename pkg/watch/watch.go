// Package watch persists form fields to the session after they stop changing.
//
// Each field has its own debounce timer. When a timer expires the value the field holds at that
// moment is sent, so intermediate values typed during the window are never saved.
package watch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/astromechza/shiftsession/pkg/debounce"
)

const DefaultDelay = 300 * time.Millisecond

// Patcher is the part of the session client the watcher needs.
type Patcher interface {
	Patch(ctx context.Context, data map[string]any) (map[string]json.RawMessage, error)
}

type Watcher struct {
	patcher Patcher
	timers  *debounce.Group
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	fields map[string]*Field
	closed bool
	wg     sync.WaitGroup
}

func New(patcher Patcher, delay time.Duration) *Watcher {
	if delay <= 0 {
		delay = DefaultDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		patcher: patcher,
		timers:  debounce.New(delay),
		ctx:     ctx,
		cancel:  cancel,
		fields:  make(map[string]*Field),
	}
}

// Field returns the watched field with the given name, creating it on first use.
func (w *Watcher) Field(name string) *Field {
	w.mu.Lock()
	defer w.mu.Unlock()
	if f, ok := w.fields[name]; ok {
		return f
	}
	f := &Field{name: name, watcher: w}
	w.fields[name] = f
	return f
}

// Close cancels every outstanding save and waits for saves already running.
func (w *Watcher) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.timers.Stop()
	w.wg.Wait()
	w.cancel()
}

func (w *Watcher) schedule(f *Field) {
	w.timers.Trigger(f.name, func() {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()
		value := f.Value()
		if _, err := w.patcher.Patch(w.ctx, map[string]any{f.name: value}); err != nil {
			slog.Error("failed to save field", "field", f.name, "err", err)
		}
	})
}

type Field struct {
	name    string
	watcher *Watcher

	mu    sync.Mutex
	value any
}

func (f *Field) Name() string {
	return f.name
}

// Set updates the field and restarts its save timer.
func (f *Field) Set(v any) {
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
	f.watcher.schedule(f)
}

func (f *Field) Value() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}
