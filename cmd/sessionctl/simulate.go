package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/astromechza/shiftsession/pkg/tab"
)

type simulateFlags struct {
	maxPause   time.Duration
	saveAfter  int
	fieldNames []string
}

func simulateCmd(g *globals) *cobra.Command {
	f := &simulateFlags{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a tab that keeps editing a shift form until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd.Context(), g, f)
		},
	}
	cmd.Flags().DurationVar(&f.maxPause, "max-pause", 2*time.Second, "longest pause between two edits")
	cmd.Flags().IntVar(&f.saveAfter, "save-after", 10, "mark the shift saved after this many edits, 0 to never")
	cmd.Flags().StringSliceVar(&f.fieldNames, "fields", []string{"shift.operatorId", "shift.line", "shift.notes"}, "form fields to edit")
	return cmd
}

func runSimulate(ctx context.Context, g *globals, f *simulateFlags) error {
	hc, err := g.httpClient()
	if err != nil {
		return err
	}
	tb, err := tab.New(g.cfg, tab.WithHTTPClient(hc))
	if err != nil {
		return err
	}
	if id := sessionCookie(tb.Client); id != "" {
		slog.Info("reusing session", "session", id)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		tb.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		editRandomlyContinuously(ctx, tb, f)
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()
	wg.Wait()

	unloadCtx, unloadCancel := context.WithTimeout(context.Background(), g.cfg.UnloadTimeout+time.Second)
	defer unloadCancel()
	res := tb.Unload(unloadCtx)
	stats := tb.Scheduler.Stats()
	slog.Info("unloaded",
		"method", res.Method, "keys", res.Keys, "err", res.Err,
		"session", sessionCookie(tb.Client), "cache", stats.CacheSize, "pending", stats.PendingSize)
	return nil
}

// editRandomlyContinuously types into the watched fields at random and mirrors every edit into the
// cache, the way a form page feeds both.
func editRandomlyContinuously(ctx context.Context, tb *tab.Tab, f *simulateFlags) {
	if len(f.fieldNames) == 0 {
		return
	}
	pause := f.maxPause
	if pause <= 0 {
		pause = time.Second
	}
	edits := 0
	for {
		t := time.NewTimer(time.Duration(rand.Int63n(int64(pause))) + 50*time.Millisecond)
		select {
		case <-t.C:
			name := f.fieldNames[rand.Intn(len(f.fieldNames))]
			value := fmt.Sprintf("%s-%d", name, rand.Intn(1000))
			tb.Watcher.Field(name).Set(value)
			if err := tb.Cache.Set(name, value); err != nil {
				slog.Error("failed to cache edit", "field", name, "err", err)
				continue
			}
			edits++
			slog.Info("edited", "field", name, "value", value, "pending", tb.Cache.PendingLen())
			if f.saveAfter > 0 && edits%f.saveAfter == 0 {
				if err := tb.Cache.Set("shift_saved", time.Now().UTC().Format(time.RFC3339)); err != nil {
					slog.Error("failed to mark shift saved", "err", err)
				}
			}
		case <-ctx.Done():
			t.Stop()
			slog.Info("stopping scheduled edits")
			return
		}
	}
}
