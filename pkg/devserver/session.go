package devserver

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/automerge/automerge-go"
)

// Session is one browser session's key/value state. Values are kept in an automerge document as
// JSON text so every accepted write is a change in the document's history.
type Session struct {
	ID    string
	Token string

	mu  sync.Mutex
	doc *automerge.Doc
}

func newSession(id, token string, doc *automerge.Doc) *Session {
	return &Session{ID: id, Token: token, doc: doc}
}

// Merge applies values as one change. Keys not mentioned keep their value.
func (s *Session) Merge(values map[string]json.RawMessage) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if err := s.doc.Path(k).Set(string(values[k])); err != nil {
			return fmt.Errorf("failed to set %q: %w", k, err)
		}
	}
	if _, err := s.doc.Commit("set "+strings.Join(keys, ","), automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *Session) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key)
}

func (s *Session) get(key string) (json.RawMessage, bool) {
	value, err := s.doc.Path(key).Get()
	if err != nil {
		return nil, false
	}
	raw, ok := value.Interface().(string)
	if !ok {
		return nil, false
	}
	return json.RawMessage(raw), true
}

// State returns every key of the session.
func (s *Session) State() (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, err := s.doc.RootMap().Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := s.get(k); ok {
			out[k] = v
		}
	}
	return out, nil
}

// Save encodes the document for storage.
func (s *Session) Save() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Save()
}

// Fork returns an independent copy of the document.
func (s *Session) Fork() (*automerge.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Fork()
}
