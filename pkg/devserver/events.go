package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is published for every accepted write.
type Event struct {
	Session string                     `json:"session"`
	Source  string                     `json:"source"`
	Values  map[string]json.RawMessage `json:"values"`
	At      time.Time                  `json:"at"`
}

// hub fans accepted writes out to the websocket subscribers of the same session.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan Event]struct{})}
}

func (h *hub) subscribe(session string) (chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	if h.subs[session] == nil {
		h.subs[session] = make(map[chan Event]struct{})
	}
	h.subs[session][ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[session], ch)
		if len(h.subs[session]) == 0 {
			delete(h.subs, session)
		}
	}
}

func (h *hub) count(session string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[session])
}

// publish never blocks; a subscriber that falls behind misses events.
func (h *hub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[e.Session] {
		select {
		case ch <- e:
		default:
			slog.Warn("dropping event for slow subscriber", "session", e.Session)
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, events <-chan Event) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var err error
	for err == nil {
		select {
		case e := <-events:
			var body []byte
			if body, err = json.Marshal(e); err != nil {
				err = fmt.Errorf("failed to encode event: %w", err)
			} else if werr := conn.WriteMessage(websocket.TextMessage, body); werr != nil {
				err = fmt.Errorf("failed to write message: %w", werr)
			}
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	_ = conn.Close()
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
