package syncer

import (
	"context"
	"log/slog"
)

type FlushMethod string

const (
	FlushNone   FlushMethod = "none"
	FlushBeacon FlushMethod = "beacon"
	FlushSync   FlushMethod = "sync"
)

type FlushResult struct {
	Method FlushMethod
	Keys   int
	Err    error
}

// Flush is the unload path: one best-effort attempt to get pending writes out before the tab
// goes away. A beacon is preferred and is never acknowledged; when the beacon is refused a
// blocking patch bounded by UnloadTimeout is sent instead. Nothing is retried. A cycle already in
// flight is waited for, so its batch is not sent twice.
func (s *Scheduler) Flush(ctx context.Context) FlushResult {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	batch := s.cache.Pending()
	if batch.Empty() {
		return FlushResult{Method: FlushNone}
	}
	payload := batch.Payload()

	if s.remote.Beacon(payload) {
		s.metrics.flush(FlushBeacon)
		slog.Info("flushed pending keys by beacon", "keys", batch.Len())
		return FlushResult{Method: FlushBeacon, Keys: batch.Len()}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.UnloadTimeout)
	defer cancel()
	s.metrics.flush(FlushSync)
	if _, err := s.remote.Patch(ctx, payload); err != nil {
		slog.Error("failed to flush pending keys", "keys", batch.Len(), "err", err)
		return FlushResult{Method: FlushSync, Keys: batch.Len(), Err: err}
	}
	s.cache.Acknowledge(batch)
	slog.Info("flushed pending keys", "keys", batch.Len())
	return FlushResult{Method: FlushSync, Keys: batch.Len()}
}
