package fs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authadapters/adaptertest"
	"github.com/panyam/authadapters/kv"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "authdata"))
	require.NoError(t, err)
	return s
}

func TestFSAdapter(t *testing.T) {
	s := newStore(t)
	adaptertest.RunBasicTests(t, adaptertest.Options{
		Adapter: kv.New(s),
		DB:      adaptertest.KVDB{Store: s},
	})

	// no temp or claimed files left behind
	entries, err := os.ReadDir(s.StoragePath)
	require.NoError(t, err)
	for _, e := range entries {
		_, ok := KeyFromFileName(e.Name())
		assert.True(t, ok, "unexpected file %s", e.Name())
	}
}

func TestFileNames(t *testing.T) {
	keys := []string{
		"user:u1",
		"user:email:a_at_b.com",
		"user:session:a/b",
		"user:token:x%2Fy:t",
		"authenticator:by-user-id:u 1",
	}
	seen := map[string]string{}
	for _, key := range keys {
		name := FileName(key)
		assert.NotContains(t, name, "/")
		back, ok := KeyFromFileName(name)
		require.True(t, ok)
		assert.Equal(t, key, back)
		if prev, dup := seen[name]; dup {
			t.Fatalf("%q and %q share file %q", prev, key, name)
		}
		seen[name] = key
	}
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte(`{"a":1}`)))
	require.NoError(t, s.Set(ctx, "k", []byte(`{"a":2}`)))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(v))

	keys, err := s.Keys("")
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestTakeSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Set(ctx, "user:token:a:b", []byte(`{}`)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Take(ctx, "user:token:a:b"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())

	_, err := s.Take(ctx, "user:token:a:b")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}
