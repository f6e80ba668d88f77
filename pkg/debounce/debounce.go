// Package debounce coalesces bursts of calls per key into one call after a quiet period.
package debounce

import (
	"sync"
	"time"
)

type Group struct {
	delay   time.Duration
	mu      sync.Mutex
	timers  map[string]*entry
	stopped bool
}

type entry struct {
	timer *time.Timer
}

func New(delay time.Duration) *Group {
	return &Group{delay: delay, timers: make(map[string]*entry)}
}

func (g *Group) Delay() time.Duration {
	return g.delay
}

// Trigger schedules fn to run once key has been quiet for the group's delay. An outstanding
// timer for the same key is dropped.
func (g *Group) Trigger(key string, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	if old, ok := g.timers[key]; ok {
		old.timer.Stop()
	}
	e := &entry{}
	e.timer = time.AfterFunc(g.delay, func() {
		g.mu.Lock()
		if g.timers[key] != e {
			g.mu.Unlock()
			return
		}
		delete(g.timers, key)
		g.mu.Unlock()
		fn()
	})
	g.timers[key] = e
}

func (g *Group) Cancel(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.timers[key]; ok {
		e.timer.Stop()
		delete(g.timers, key)
	}
}

// Stop cancels all timers; later triggers are ignored.
func (g *Group) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	for key, e := range g.timers {
		e.timer.Stop()
		delete(g.timers, key)
	}
}

func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}
