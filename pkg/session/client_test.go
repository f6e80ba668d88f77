package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	mu      sync.Mutex
	values  map[string]json.RawMessage
	tokens  []string
	bodies  []string
	methods []string
	status  int
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	f := &fakeServer{values: make(map[string]json.RawMessage)}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><body><form><input type="hidden" name="csrfmiddlewaretoken" value="tok-1"></form></body></html>`)
	})
	mux.HandleFunc(PatchPath, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.tokens = append(f.tokens, r.Header.Get(TokenHeader))
		f.bodies = append(f.bodies, string(body))
		f.methods = append(f.methods, r.Method)
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = io.WriteString(w, `{"errors":{"shift.line":"unknown line"}}`)
			return
		}
		var in map[string]json.RawMessage
		_ = json.Unmarshal(body, &in)
		for k, v := range in {
			f.values[k] = v
		}
		_ = json.NewEncoder(w).Encode(f.values)
	})
	mux.HandleFunc(SavePath, func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.tokens = append(f.tokens, r.Header.Get(TokenHeader))
		f.methods = append(f.methods, r.Method)
		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		f.values[in.Key] = in.Value
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(LoadPath, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		v, ok := f.values[r.URL.Query().Get("key")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{"value": v})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) setStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = code
}

func (f *fakeServer) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.methods {
		if m == http.MethodPost {
			n++
		}
	}
	return n
}

func TestPatchSendsTokenAndReturnsState(t *testing.T) {
	f, srv := newFakeServer(t)
	c, err := New(srv.URL)
	require.NoError(t, err)
	defer c.Close()

	out, err := c.Patch(context.Background(), map[string]any{"shift.operatorId": "op-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `"op-1"`, string(out["shift.operatorId"]))
	f.mu.Lock()
	assert.Equal(t, []string{"tok-1"}, f.tokens)
	assert.Equal(t, []string{http.MethodPatch}, f.methods)
	f.mu.Unlock()

	cached, ok := c.Cached("shift.operatorId")
	require.True(t, ok)
	assert.JSONEq(t, `"op-1"`, string(cached))
}

func TestPatchValidationError(t *testing.T) {
	f, srv := newFakeServer(t)
	f.setStatus(http.StatusBadRequest)
	c, err := New(srv.URL, WithTokenSource(StaticToken("static")))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Patch(context.Background(), map[string]any{"shift.line": 9})
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, map[string]string{"shift.line": "unknown line"}, ve.Fields)
	assert.True(t, IsStatus(err, http.StatusBadRequest))

	_, ok := c.Cached("shift.line")
	assert.False(t, ok)
}

func TestPatchStatusError(t *testing.T) {
	f, srv := newFakeServer(t)
	f.setStatus(http.StatusInternalServerError)
	c, err := New(srv.URL, WithTokenSource(StaticToken("static")))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Patch(context.Background(), map[string]any{"a": 1})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, http.MethodPatch, se.Method)
}

func TestSaveNowAndLoad(t *testing.T) {
	_, srv := newFakeServer(t)
	c, err := New(srv.URL)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SaveNow(context.Background(), "shift.rolls", []int{1, 2}))
	assert.JSONEq(t, `[1,2]`, string(c.Load(context.Background(), "shift.rolls")))
	assert.Nil(t, c.Load(context.Background(), "missing"))
}

func TestLoadSwallowsNetworkErrors(t *testing.T) {
	_, srv := newFakeServer(t)
	c, err := New(srv.URL)
	require.NoError(t, err)
	defer c.Close()
	srv.Close()

	assert.Nil(t, c.Load(context.Background(), "anything"))
}

func TestSaveDebouncesPerKey(t *testing.T) {
	f, srv := newFakeServer(t)
	c, err := New(srv.URL, WithDebounce(40*time.Millisecond))
	require.NoError(t, err)
	defer c.Close()

	c.Save("a", 1)
	c.Save("a", 2)
	c.Save("a", 3)
	require.Eventually(t, func() bool { return f.saveCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, f.saveCount())
	assert.JSONEq(t, `3`, string(c.Load(context.Background(), "a")))
}

func TestSaveRequeuesOnFailure(t *testing.T) {
	f, srv := newFakeServer(t)
	f.setStatus(http.StatusServiceUnavailable)
	var requeued atomic.Value
	c, err := New(srv.URL,
		WithDebounce(10*time.Millisecond),
		WithRequeue(func(key string, value any) error {
			requeued.Store(key)
			return nil
		}),
	)
	require.NoError(t, err)
	defer c.Close()

	c.Save("shift.notes", "late start")
	require.Eventually(t, func() bool { return requeued.Load() == "shift.notes" }, time.Second, 5*time.Millisecond)
}

func TestSaveNowRequeuesAndReturnsError(t *testing.T) {
	f, srv := newFakeServer(t)
	f.setStatus(http.StatusInternalServerError)
	var mu sync.Mutex
	requeued := map[string]any{}
	c, err := New(srv.URL, WithRequeue(func(key string, value any) error {
		mu.Lock()
		defer mu.Unlock()
		requeued[key] = value
		return nil
	}))
	require.NoError(t, err)
	defer c.Close()

	err = c.SaveNow(context.Background(), "shift.line", 4)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusInternalServerError))
	mu.Lock()
	assert.Equal(t, map[string]any{"shift.line": 4}, requeued)
	mu.Unlock()
	_, ok := c.Cached("shift.line")
	assert.False(t, ok)

	f.setStatus(0)
	require.NoError(t, c.SaveNow(context.Background(), "shift.line", 5))
	mu.Lock()
	assert.Len(t, requeued, 1)
	mu.Unlock()
}

func TestBeacon(t *testing.T) {
	f, srv := newFakeServer(t)
	c, err := New(srv.URL, WithBeaconLimit(64))
	require.NoError(t, err)

	assert.True(t, c.Beacon(map[string]any{"a": 1}))
	assert.False(t, c.Beacon(map[string]any{"big": strings.Repeat("x", 100)}))
	c.Close()
	assert.False(t, c.Beacon(map[string]any{"a": 2}))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.methods, 1)
	assert.Equal(t, http.MethodPost, f.methods[0])
	assert.Equal(t, "", f.tokens[0])
	assert.JSONEq(t, `{"a":1}`, f.bodies[0])
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("/api")
	assert.Error(t, err)
}
