package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/astromechza/shiftsession/pkg/devserver"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := devserver.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "the address to listen on")
	flag.StringVar(&cfg.Database, "db", cfg.Database, "the sqlite database to back sessions up to")
	flag.DurationVar(&cfg.BackupInterval, "backup-interval", cfg.BackupInterval, "how often changed sessions are written to the database")
	flag.StringVar(&cfg.DumpDir, "dump", cfg.DumpDir, "directory to dump session documents to on shutdown")
	historyKey := flag.String("history-key", "", "render the history of this key next to each dumped document")
	flag.Parse()

	store, err := devserver.OpenStore(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		store.RunBackups(ctx, cfg.BackupInterval)
	}()

	s := devserver.NewServer(store)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", cfg.Addr)
		if err := s.ListenAndServe(ctx, cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
			cancel()
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()

	if n := store.Backup(context.Background()); n > 0 {
		slog.Info("backed up sessions", "count", n)
	}
	if cfg.DumpDir != "" {
		if err := store.Dump(cfg.DumpDir, *historyKey); err != nil {
			return err
		}
	}
	return nil
}
