package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()
	file, err := NewFile(filepath.Join(dir, "kv"))
	require.NoError(t, err)
	db, err := OpenSQLite(filepath.Join(dir, "navext.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return map[string]Backend{
		KindFile:   file,
		KindSQLite: db,
		KindMemory: NewMemory(),
	}
}

func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := b.Get(ctx, "extensionStates")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, b.Set(ctx, "extensionStates", []byte(`{"a":1}`)))
			require.NoError(t, b.Set(ctx, "extensionStates", []byte(`{"a":2}`)))
			got, ok, err := b.Get(ctx, "extensionStates")
			require.NoError(t, err)
			require.True(t, ok)
			assert.JSONEq(t, `{"a":2}`, string(got))

			require.NoError(t, b.Delete(ctx, "extensionStates"))
			require.NoError(t, b.Delete(ctx, "extensionStates"))
			_, ok, err = b.Get(ctx, "extensionStates")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestBackendRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, b.Set(ctx, "../escape", []byte("{}")))
			_, _, err := b.Get(ctx, "")
			assert.Error(t, err)
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	type doc struct {
		Names []string `json:"names"`
	}
	require.NoError(t, SetJSON(ctx, m, "doc", doc{Names: []string{"a", "b"}}))
	var out doc
	ok, err := GetJSON(ctx, m, "doc", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, out.Names)

	require.NoError(t, m.Set(ctx, "broken", []byte("{")))
	_, err = GetJSON(ctx, m, "broken", &out)
	assert.Error(t, err)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "navext.db")
	db, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.Set(ctx, "communicationLog", []byte(`{"x":[]}`)))
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()
	got, ok, err := db.Get(ctx, "communicationLog")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"x":[]}`, string(got))
}

func TestMemoryFailureInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("disk full")
	m.SetFailure(boom)
	assert.ErrorIs(t, m.Set(ctx, "k", []byte("1")), boom)
	m.SetFailure(nil)
	require.NoError(t, m.Set(ctx, "k", []byte("1")))
	assert.Equal(t, 1, m.Writes())
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("etcd", t.TempDir())
	assert.Error(t, err)
}

func TestLockExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()
	first, err := NewFile(dir)
	require.NoError(t, err)
	// A second handle on the same root stands in for another process.
	second, err := NewFile(dir)
	require.NoError(t, err)

	unlock, err := first.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = second.Lock(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock2, err := second.Lock(context.Background())
	require.NoError(t, err)
	unlock2()
}

func TestLockWaitsOnEveryBackend(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			unlock, err := b.Lock(context.Background())
			require.NoError(t, err)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()
			_, err = b.Lock(ctx)
			assert.Error(t, err)
			unlock()
			unlock, err = b.Lock(context.Background())
			require.NoError(t, err)
			unlock()
		})
	}
}
