package devserver

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/astromechza/shiftsession/pkg/viz"
)

// Dump writes every session document to dir as <id>.automerge, and when historyKey is set also
// renders that key's history next to it as <id>.svg.
func (s *Store) Dump(dir, historyKey string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dump dir: %w", err)
	}
	var firstErr error
	s.Range(func(sess *Session) bool {
		path := filepath.Join(dir, sess.ID+".automerge")
		if err := os.WriteFile(path, sess.Save(), 0o644); err != nil {
			slog.Error("failed to dump", "session", sess.ID, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			return true
		}
		slog.Info("dumped", "session", sess.ID, "path", path)
		if historyKey == "" {
			return true
		}
		doc, err := sess.Fork()
		if err != nil {
			slog.Error("failed to fork", "session", sess.ID, "err", err)
			return true
		}
		svgPath := filepath.Join(dir, sess.ID+".svg")
		if err := viz.RenderKeyHistory(doc, historyKey, svgPath); err != nil {
			slog.Error("failed to render", "session", sess.ID, "err", err)
		} else {
			slog.Info("rendered", "session", sess.ID, "path", "file://"+svgPath)
		}
		return true
	})
	return firstErr
}
