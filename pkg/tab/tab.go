// Package tab assembles the per-tab session components: one cache, one session client, one sync
// scheduler and one field watcher, constructed together and torn down together.
package tab

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/astromechza/shiftsession/pkg/cache"
	"github.com/astromechza/shiftsession/pkg/config"
	"github.com/astromechza/shiftsession/pkg/session"
	"github.com/astromechza/shiftsession/pkg/syncer"
	"github.com/astromechza/shiftsession/pkg/watch"
)

type Config struct {
	BaseURL          string        `env:"SHIFTSESSION_BASE_URL"          envDefault:"http://localhost:8080"`
	SyncInterval     time.Duration `env:"SHIFTSESSION_SYNC_INTERVAL"     envDefault:"3s"`
	FailureThreshold int           `env:"SHIFTSESSION_FAILURE_THRESHOLD" envDefault:"3"`
	Debounce         time.Duration `env:"SHIFTSESSION_DEBOUNCE"          envDefault:"300ms"`
	CriticalKeys     []string      `env:"SHIFTSESSION_CRITICAL_KEYS"     envDefault:"shift_saved" envSeparator:","`
	ProbeInterval    time.Duration `env:"SHIFTSESSION_PROBE_INTERVAL"    envDefault:"5s"`
	UnloadTimeout    time.Duration `env:"SHIFTSESSION_UNLOAD_TIMEOUT"    envDefault:"2s"`
	CSRFToken        string        `env:"SHIFTSESSION_CSRF_TOKEN"`
}

func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type options struct {
	httpClient *http.Client
	notifier   syncer.Notifier
	registerer prometheus.Registerer
}

type Option func(*options)

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

func WithNotifier(n syncer.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

type Tab struct {
	Cache     *cache.Cache
	Client    *session.Client
	Scheduler *syncer.Scheduler
	Watcher   *watch.Watcher

	prober *syncer.Prober
}

func New(cfg Config, opts ...Option) (*Tab, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := cache.New(cfg.CriticalKeys)

	clientOpts := []session.Option{
		session.WithDebounce(cfg.Debounce),
		session.WithRequeue(c.Set),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, session.WithHTTPClient(o.httpClient))
	}
	if cfg.CSRFToken != "" {
		clientOpts = append(clientOpts, session.WithTokenSource(session.StaticToken(cfg.CSRFToken)))
	}
	client, err := session.New(cfg.BaseURL, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session client: %w", err)
	}

	schedOpts := []syncer.Option{
		syncer.WithConfig(syncer.Config{
			Interval:         cfg.SyncInterval,
			FailureThreshold: cfg.FailureThreshold,
			UnloadTimeout:    cfg.UnloadTimeout,
		}),
	}
	if o.notifier != nil {
		schedOpts = append(schedOpts, syncer.WithNotifier(o.notifier))
	}
	if o.registerer != nil {
		schedOpts = append(schedOpts, syncer.WithMetrics(syncer.NewMetrics(o.registerer)))
	}
	scheduler := syncer.New(c, client, schedOpts...)

	return &Tab{
		Cache:     c,
		Client:    client,
		Scheduler: scheduler,
		Watcher:   watch.New(client, cfg.Debounce),
		prober: syncer.NewProber(
			client.HTTPClient(),
			client.BaseURL().JoinPath("/healthz").String(),
			cfg.ProbeInterval,
			scheduler,
		),
	}, nil
}

// Run keeps the scheduler and the connectivity prober going until ctx is done.
func (t *Tab) Run(ctx context.Context) {
	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.Scheduler.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.prober.Run(ctx)
	}()
	wg.Wait()
}

// Unload is the page-unload path: field timers are dropped, pending writes get one best-effort
// flush, and the client waits for its beacon to leave.
func (t *Tab) Unload(ctx context.Context) syncer.FlushResult {
	t.Watcher.Close()
	res := t.Scheduler.Flush(ctx)
	t.Client.Close()
	return res
}
