package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aa "github.com/panyam/authadapters"
	"github.com/panyam/authadapters/adaptertest"
	"github.com/panyam/authadapters/kv"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { c.Close() })
	return New(c), mr
}

func TestRedisAdapter(t *testing.T) {
	s, _ := newStore(t)
	adaptertest.RunBasicTests(t, adaptertest.Options{
		Adapter: kv.New(s),
		DB:      adaptertest.KVDB{Store: s},
	})
}

func TestSessionTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)
	a := kv.New(s)

	_, err := a.CreateUser(ctx, &aa.User{ID: "u1", Email: "a@b.com"})
	require.NoError(t, err)
	_, err = a.CreateSession(ctx, &aa.Session{SessionToken: "tok1", UserID: "u1", Expires: time.Now().Add(time.Minute)})
	require.NoError(t, err)

	ttl := mr.TTL("user:session:tok1")
	assert.Greater(t, ttl, 50*time.Second)
	assert.Zero(t, mr.TTL("user:u1"), "users must not expire")

	mr.FastForward(2 * time.Minute)
	su, err := a.GetSessionAndUser(ctx, "tok1")
	require.NoError(t, err)
	assert.Nil(t, su)
}

func TestExpiredValueIsNotStored(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)
	require.NoError(t, s.SetWithExpiry(ctx, "k", []byte("v"), time.Now().Add(-time.Second)))
	assert.False(t, mr.Exists("k"))
}

func TestTake(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)
	require.NoError(t, mr.Set("k", "v"))

	v, err := s.Take(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	_, err = s.Take(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestBackendErrorsAreWrapped(t *testing.T) {
	s, mr := newStore(t)
	mr.Close()

	_, err := kv.New(s).GetUser(context.Background(), "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, aa.ErrBackend)
}
