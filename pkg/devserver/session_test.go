package devserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/automerge/automerge-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionMergeAndState(t *testing.T) {
	sess := newSession("s", "t", automerge.New())

	require.NoError(t, sess.Merge(map[string]json.RawMessage{
		"shift.operatorId": json.RawMessage(`"op-1"`),
		"shift.rolls":      json.RawMessage(`[{"id":1}]`),
	}))
	require.NoError(t, sess.Merge(map[string]json.RawMessage{"shift.operatorId": json.RawMessage(`"op-2"`)}))
	require.NoError(t, sess.Merge(nil))

	state, err := sess.State()
	require.NoError(t, err)
	require.Len(t, state, 2)
	assert.JSONEq(t, `"op-2"`, string(state["shift.operatorId"]))
	assert.JSONEq(t, `[{"id":1}]`, string(state["shift.rolls"]))

	_, ok := sess.Get("missing")
	assert.False(t, ok)
}

func TestSessionSurvivesSaveLoad(t *testing.T) {
	sess := newSession("s", "t", automerge.New())
	require.NoError(t, sess.Merge(map[string]json.RawMessage{"a": json.RawMessage(`1`)}))

	doc, err := automerge.Load(sess.Save())
	require.NoError(t, err)
	v, ok := newSession("s", "t", doc).Get("a")
	require.True(t, ok)
	assert.JSONEq(t, `1`, string(v))
}

func TestDump(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "dump.sqlite3"))
	require.NoError(t, err)
	defer store.Close()
	sess, err := store.Create(context.Background())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, store.Dump(dir, ""))

	raw, err := os.ReadFile(filepath.Join(dir, sess.ID+".automerge"))
	require.NoError(t, err)
	_, err = automerge.Load(raw)
	assert.NoError(t, err)
}
