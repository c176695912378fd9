package artifact

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "nothing/here")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "models/a.bin", []byte{1, 2, 3}))
	got, err := s.Get(ctx, "models/a.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	// overwrite
	require.NoError(t, s.Put(ctx, "models/a.bin", []byte{9}))
	got, err = s.Get(ctx, "models/a.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, got)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	testStore(t, s)

	err = s.Put(context.Background(), "../escape", []byte("x"))
	assert.Error(t, err)
}

func TestBadgerStore(t *testing.T) {
	s, err := NewBadger(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	testStore(t, s)
}

func TestBadgerStore_RequiresDir(t *testing.T) {
	_, err := NewBadger(BadgerOptions{})
	assert.Error(t, err)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	type doc struct {
		Name string `json:"name"`
	}
	require.NoError(t, PutJSON(ctx, s, "doc.json", doc{Name: "x"}))

	var out doc
	require.NoError(t, GetJSON(ctx, s, "doc.json", &out))
	assert.Equal(t, "x", out.Name)

	err := GetJSON(ctx, s, "missing.json", &out)
	assert.ErrorIs(t, err, ErrNotFound)
	var perr *PersistenceError
	assert.True(t, errors.As(err, &perr))

	s.Err = errors.New("bucket offline")
	err = PutJSON(ctx, s, "doc.json", doc{})
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "put", perr.Op)
}

func TestEnvelope(t *testing.T) {
	type payload struct {
		Values []float32 `msgpack:"values"`
	}

	data, err := Seal("index", 1, payload{Values: []float32{0.5, -1}})
	require.NoError(t, err)

	var out payload
	require.NoError(t, Open(data, "index", 1, &out))
	assert.Equal(t, []float32{0.5, -1}, out.Values)

	assert.ErrorIs(t, Open(data, "index", 2, &out), ErrIncompatibleVersion)
	assert.ErrorIs(t, Open(data, "cluster_model", 1, &out), ErrIncompatibleVersion)
	assert.ErrorIs(t, Open([]byte("garbage"), "index", 1, &out), ErrIncompatibleVersion)
}
