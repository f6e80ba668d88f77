package syncer

import (
	"context"
	"net/http"
	"time"
)

const DefaultProbeInterval = 5 * time.Second

// Prober stands in for the browser's online/offline events by polling a health endpoint.
type Prober struct {
	client    *http.Client
	healthURL string
	interval  time.Duration
	scheduler *Scheduler
}

func NewProber(client *http.Client, healthURL string, interval time.Duration, s *Scheduler) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Prober{client: client, healthURL: healthURL, interval: interval, scheduler: s}
}

// Probe reports whether the health endpoint answered 2xx within one interval.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

func (p *Prober) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			ok := p.Probe(ctx)
			if ctx.Err() != nil {
				return
			}
			p.scheduler.SetOnline(ok)
		case <-ctx.Done():
			return
		}
	}
}
