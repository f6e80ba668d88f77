// Package devserver is a small stand-in for the application's session endpoints. It gives every
// visitor an anonymous cookie session with a csrf token embedded in the index page, and accepts
// the patch, save, load and beacon requests the client issues.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	SessionCookie = "sessionid"
	TokenHeader   = "X-CSRFToken"
	MaxKeyLength  = 128

	maxBodyBytes = 1 << 20
)

type Server struct {
	store    *Store
	events   *hub
	metrics  *requestMetrics
	registry *prometheus.Registry
}

func NewServer(store *Store) *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		store:    store,
		events:   newHub(),
		metrics:  newRequestMetrics(reg),
		registry: reg,
	}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metrics.middleware)

	r.Methods(http.MethodGet).Path("/").HandlerFunc(s.index)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.healthz)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	api := r.PathPrefix("/api/session").Subrouter()
	api.Methods(http.MethodPatch).Path("/").Handler(s.requireToken(s.patch))
	api.Methods(http.MethodPost).Path("/").HandlerFunc(s.withSession(s.beacon))
	api.Methods(http.MethodPost).Path("/save/").Handler(s.requireToken(s.save))
	api.Methods(http.MethodGet).Path("/load/").HandlerFunc(s.withSession(s.load))
	api.Methods(http.MethodGet).Path("/events").HandlerFunc(s.withSession(s.streamEvents))
	return r
}

type sessionHandler func(writer http.ResponseWriter, request *http.Request, sess *Session)

func (s *Server) sessionFor(request *http.Request) (*Session, bool) {
	c, err := request.Cookie(SessionCookie)
	if err != nil {
		return nil, false
	}
	return s.store.Get(c.Value)
}

func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		sess, ok := s.sessionFor(request)
		if !ok {
			writer.WriteHeader(http.StatusForbidden)
			return
		}
		next(writer, request, sess)
	}
}

func (s *Server) requireToken(next sessionHandler) http.HandlerFunc {
	return s.withSession(func(writer http.ResponseWriter, request *http.Request, sess *Session) {
		if request.Header.Get(TokenHeader) != sess.Token {
			slog.Warn("rejecting request with bad csrf token", "session", sess.ID)
			writer.WriteHeader(http.StatusForbidden)
			return
		}
		next(writer, request, sess)
	})
}

const indexPage = `<!doctype html>
<html>
<head><title>Shift session</title></head>
<body>
<form id="shift-form" method="post">
<input type="hidden" name="csrfmiddlewaretoken" value="%s">
</form>
</body>
</html>
`

func (s *Server) index(writer http.ResponseWriter, request *http.Request) {
	sess, ok := s.sessionFor(request)
	if !ok {
		var err error
		if sess, err = s.store.Create(request.Context()); err != nil {
			slog.Error("failed to create session", "err", err)
			writer.WriteHeader(http.StatusInternalServerError)
			return
		}
		http.SetCookie(writer, &http.Cookie{
			Name:     SessionCookie,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		slog.Info("created session", "session", sess.ID)
	}
	writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprintf(writer, indexPage, html.EscapeString(sess.Token)); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) healthz(writer http.ResponseWriter, _ *http.Request) {
	writer.WriteHeader(http.StatusOK)
}

func validateKeys[V any](values map[string]V) map[string]string {
	errs := make(map[string]string)
	for k := range values {
		switch {
		case k == "":
			errs[k] = "key must not be empty"
		case len(k) > MaxKeyLength:
			errs[k] = fmt.Sprintf("key must be at most %d characters", MaxKeyLength)
		}
	}
	return errs
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func decodeBody(request *http.Request, into any) error {
	return json.NewDecoder(io.LimitReader(request.Body, maxBodyBytes)).Decode(into)
}

// merge validates and applies values, answering the request itself when it fails.
func (s *Server) merge(writer http.ResponseWriter, sess *Session, source string, values map[string]json.RawMessage) bool {
	if errs := validateKeys(values); len(errs) > 0 {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"errors": errs})
		return false
	}
	if err := sess.Merge(values); err != nil {
		slog.Error("failed to merge", "session", sess.ID, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return false
	}
	s.events.publish(Event{Session: sess.ID, Source: source, Values: values, At: time.Now().UTC()})
	return true
}

func (s *Server) patch(writer http.ResponseWriter, request *http.Request, sess *Session) {
	var values map[string]json.RawMessage
	if err := decodeBody(request, &values); err != nil {
		slog.Error("failed to decode body", "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	if !s.merge(writer, sess, "patch", values) {
		return
	}
	state, err := sess.State()
	if err != nil {
		slog.Error("failed to read state", "session", sess.ID, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(writer, http.StatusOK, state)
}

// beacon accepts the unload transmission, which cannot carry the csrf header.
func (s *Server) beacon(writer http.ResponseWriter, request *http.Request, sess *Session) {
	var values map[string]json.RawMessage
	if err := decodeBody(request, &values); err != nil {
		slog.Error("failed to decode beacon", "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	if !s.merge(writer, sess, "beacon", values) {
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Server) save(writer http.ResponseWriter, request *http.Request, sess *Session) {
	var inputs struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := decodeBody(request, &inputs); err != nil {
		slog.Error("failed to decode body", "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(inputs.Value) == 0 {
		inputs.Value = json.RawMessage("null")
	}
	values := map[string]json.RawMessage{inputs.Key: inputs.Value}
	if !s.merge(writer, sess, "save", values) {
		return
	}
	writeJSON(writer, http.StatusOK, values)
}

func (s *Server) load(writer http.ResponseWriter, request *http.Request, sess *Session) {
	key := request.URL.Query().Get("key")
	value, ok := sess.Get(key)
	if !ok {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(writer, http.StatusOK, map[string]json.RawMessage{"value": value})
}

func (s *Server) streamEvents(writer http.ResponseWriter, request *http.Request, sess *Session) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	events, unsubscribe := s.events.subscribe(sess.ID)
	defer unsubscribe()

	slog.Info("streaming events", "session", sess.ID)
	if err := streamEvents(request.Context(), conn, events); err != nil {
		slog.Error("failed to stream events", "session", sess.ID, "err", err)
	}
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{Addr: addr, Handler: s.Router()}
	errs := make(chan error, 1)
	go func() {
		errs <- httpServer.ListenAndServe()
	}()
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		_ = httpServer.Close()
		<-errs
		return nil
	}
}
