// Package syncer flushes the cache's pending writes to the session endpoint.
//
// A scheduler ticks on a fixed interval. Each tick, if the tab is online and something is
// pending, it sends exactly the pending snapshot in one patch and acknowledges only that snapshot
// on success. Failures leave everything pending for the next tick; there is no extra backoff.
// After FailureThreshold consecutive failures the notifier fires once and the counter starts over.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/astromechza/shiftsession/pkg/cache"
)

var ErrOffline = errors.New("offline")

const (
	DefaultInterval         = 3 * time.Second
	DefaultFailureThreshold = 3
	DefaultUnloadTimeout    = 2 * time.Second
)

// Remote is where pending writes go.
type Remote interface {
	Patch(ctx context.Context, data map[string]any) (map[string]json.RawMessage, error)
	Beacon(data map[string]any) bool
}

type Config struct {
	Interval         time.Duration
	FailureThreshold int
	UnloadTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.UnloadTimeout <= 0 {
		c.UnloadTimeout = DefaultUnloadTimeout
	}
	return c
}

type Stats struct {
	CacheSize   int       `json:"cacheSize"`
	PendingSize int       `json:"pendingSize"`
	IsOnline    bool      `json:"isOnline"`
	RetryCount  int       `json:"retryCount"`
	LastSync    time.Time `json:"lastSync"`
}

type Scheduler struct {
	cache    *cache.Cache
	remote   Remote
	cfg      Config
	notifier Notifier
	metrics  *Metrics
	kick     chan struct{}

	// cycle keeps sync cycles from overlapping.
	cycle sync.Mutex

	mu         sync.Mutex
	online     bool
	retryCount int
	lastSync   time.Time
}

type Option func(*Scheduler)

func WithConfig(cfg Config) Option {
	return func(s *Scheduler) { s.cfg = cfg.withDefaults() }
}

func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New builds a scheduler for c and hooks the cache's critical keys up to Kick.
func New(c *cache.Cache, remote Remote, opts ...Option) *Scheduler {
	s := &Scheduler{
		cache:    c,
		remote:   remote,
		cfg:      Config{}.withDefaults(),
		notifier: LogNotifier{},
		kick:     make(chan struct{}, 1),
		online:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	c.OnCritical(func(key string) {
		slog.Debug("critical key written, syncing now", "key", key)
		s.Kick()
	})
	return s
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.runCycle(ctx)
		case <-s.kick:
			s.runCycle(ctx)
		case <-ctx.Done():
			slog.Info("stopping scheduled sync")
			return
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if err := s.Sync(ctx); err != nil && !errors.Is(err, ErrOffline) && ctx.Err() == nil {
		slog.Warn("failed to sync", "err", err)
	}
}

// Kick asks Run for an immediate cycle without waiting for the next tick.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Sync runs one cycle. It returns ErrOffline without sending anything while offline.
func (s *Scheduler) Sync(ctx context.Context) error {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	if !s.IsOnline() {
		return ErrOffline
	}
	batch := s.cache.Pending()
	s.metrics.setPending(batch.Len())
	if batch.Empty() {
		return nil
	}

	s.metrics.attempt()
	if _, err := s.remote.Patch(ctx, batch.Payload()); err != nil {
		// a cancelled cycle is shutdown, not a failed sync
		if ctx.Err() == nil {
			s.recordFailure(err)
		}
		return fmt.Errorf("failed to sync %d keys: %w", batch.Len(), err)
	}

	cleared := s.cache.Acknowledge(batch)
	s.metrics.setPending(s.cache.PendingLen())
	s.mu.Lock()
	s.retryCount = 0
	s.lastSync = time.Now()
	s.mu.Unlock()
	slog.Debug("synced", "keys", batch.Len(), "cleared", cleared)
	return nil
}

func (s *Scheduler) recordFailure(err error) {
	s.metrics.failure()
	s.mu.Lock()
	s.retryCount++
	notify := s.retryCount >= s.cfg.FailureThreshold
	if notify {
		s.retryCount = 0
	}
	s.mu.Unlock()
	if notify {
		s.metrics.notification()
		s.notifier.Notify(err)
	}
}

// SetOnline records a connectivity change. Going back online triggers an immediate cycle.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	was := s.online
	s.online = online
	s.mu.Unlock()
	if was == online {
		return
	}
	slog.Info("connectivity changed", "online", online)
	if online {
		s.Kick()
	}
}

func (s *Scheduler) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		CacheSize:   s.cache.Len(),
		PendingSize: s.cache.PendingLen(),
		IsOnline:    s.online,
		RetryCount:  s.retryCount,
		LastSync:    s.lastSync,
	}
}
