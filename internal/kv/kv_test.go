package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elkhaled/pos/internal/docstore"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetPutDelete(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	_, ok, err := s.Get(ctx, "pos-store")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "pos-store", []byte(`{"cart":[]}`)))
	require.NoError(t, s.Put(ctx, "pos-store", []byte(`{"cart":[1]}`)))
	value, ok, err := s.Get(ctx, "pos-store")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"cart":[1]}`, string(value))

	require.NoError(t, s.Delete(ctx, "pos-store"))
	_, ok, err = s.Get(ctx, "pos-store")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandleSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(path)
	require.NoError(t, err)
	want := docstore.Handle{Kind: docstore.KindDirectory, Location: "/srv/shop", Name: "shop"}
	require.NoError(t, s.SaveHandle(ctx, want))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, ok, err := s.LoadHandle(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, s.ClearHandle(ctx))
	_, ok, err = s.LoadHandle(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorruptHandleReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	require.NoError(t, s.Put(ctx, HandleKey, []byte("not json")))

	_, ok, err := s.LoadHandle(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryDatabase(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Put(context.Background(), "k", []byte("v")))
}
