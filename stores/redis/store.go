// Package redis is a kv.Store on Redis.
//
// Verification tokens are used with GETDEL, and sessions and tokens carry a
// TTL matching their expiry, so Redis drops them on its own.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/panyam/authadapters/kv"
)

// Store adapts a go-redis client. The client is owned by the caller.
type Store struct {
	C goredis.UniversalClient
}

var (
	_ kv.Store         = (*Store)(nil)
	_ kv.Taker         = (*Store)(nil)
	_ kv.ExpiringStore = (*Store)(nil)
)

func New(client goredis.UniversalClient) *Store {
	return &Store{C: client}
}

// Dial connects to addr and pings it. The returned release func closes the
// client, for use with authadapters.Using.
func Dial(ctx context.Context, addr string) (*Store, func() error, error) {
	c := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, nil, err
	}
	return New(c), c.Close, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.C.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, kv.ErrNotFound
	}
	return v, err
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.C.Set(ctx, key, value, 0).Err()
}

// SetWithExpiry stores value with a TTL. A value that is already expired is
// removed instead, since a zero TTL means "keep forever" to Redis.
func (s *Store) SetWithExpiry(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl < time.Millisecond {
		return s.Delete(ctx, key)
	}
	return s.C.Set(ctx, key, value, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.C.Del(ctx, key).Err()
}

func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	v, err := s.C.GetDel(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, kv.ErrNotFound
	}
	return v, err
}
