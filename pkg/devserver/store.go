package devserver

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store keeps every session in memory and backs the documents up to sqlite.
type Store struct {
	database *sql.DB
	cache    *sync.Map
}

func OpenStore(path string) (*Store, error) {
	slog.Info("Opening database", "path", path)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	s := &Store{database: db, cache: new(sync.Map)}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.database.Exec(
		`CREATE TABLE IF NOT EXISTS sessions (
    	id text not null primary key,
    	token text not null,
        content text not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	res, err := s.database.Query(`SELECT id, token, content FROM sessions`)
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	defer func(res *sql.Rows) {
		if err := res.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(res)
	loaded := 0
	for res.Next() {
		var id, token, rawSave string
		if err := res.Scan(&id, &token, &rawSave); err != nil {
			return fmt.Errorf("failed to scan: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(rawSave)
		if err != nil {
			return fmt.Errorf("failed to decode: %w", err)
		}
		doc, err := automerge.Load(raw)
		if err != nil {
			return fmt.Errorf("failed to load doc: %w", err)
		}
		s.cache.Store(id, newSession(id, token, doc))
		loaded++
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("failed to read sessions: %w", err)
	}
	slog.Info("Loaded sessions", "count", loaded)
	return nil
}

// Create starts a new empty session with a fresh csrf token.
func (s *Store) Create(ctx context.Context) (*Session, error) {
	doc := automerge.New()
	sess := newSession(uuid.NewString(), uuid.NewString(), doc)
	if _, err := s.database.ExecContext(
		ctx, `INSERT INTO sessions (id, token, content) VALUES (?, ?, ?)`,
		sess.ID, sess.Token, base64.StdEncoding.EncodeToString(doc.Save()),
	); err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	s.cache.Store(sess.ID, sess)
	return sess, nil
}

func (s *Store) Get(id string) (*Session, bool) {
	raw, ok := s.cache.Load(id)
	if !ok {
		return nil, false
	}
	sess, ok := raw.(*Session)
	return sess, ok
}

// Range calls fn for every session until fn returns false.
func (s *Store) Range(fn func(sess *Session) bool) {
	s.cache.Range(func(_, raw any) bool {
		return fn(raw.(*Session))
	})
}

// Backup writes every session whose document changed since the last backup and returns how
// many rows were updated.
func (s *Store) Backup(ctx context.Context) int {
	updated := 0
	s.Range(func(sess *Session) bool {
		newContent := base64.StdEncoding.EncodeToString(sess.Save())
		if res, err := s.database.ExecContext(
			ctx, `UPDATE sessions SET content = ? WHERE id = ? AND content != ?`,
			newContent,
			sess.ID,
			newContent,
		); err != nil {
			slog.Error("failed to backup session in database", "session", sess.ID, "err", err)
		} else if r, _ := res.RowsAffected(); r > 0 {
			updated++
			slog.Debug("backed up", "session", sess.ID)
		}
		return true
	})
	return updated
}

// RunBackups calls Backup on every tick until ctx is done.
func (s *Store) RunBackups(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if n := s.Backup(ctx); n > 0 {
				slog.Info("backed up sessions", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) Close() error {
	return s.database.Close()
}
