package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageTokenSource(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `<!doctype html><html><head><title>Shift</title></head>
<body><div><form method="post"><input type="text" name="operator" value="x">
<input type="hidden" name="csrfmiddlewaretoken" value="abc123"></form></div></body></html>`)
	}))
	defer srv.Close()

	ts := NewPageTokenSource(srv.Client(), srv.URL)
	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)

	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	ts.Reset()
	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestPageTokenSourceMissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><body>nothing here</body></html>`)
	}))
	defer srv.Close()

	_, err := NewPageTokenSource(srv.Client(), srv.URL).Token(context.Background())
	assert.Error(t, err)
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("x").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", tok)

	_, err = StaticToken("").Token(context.Background())
	assert.Error(t, err)
}
