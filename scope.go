package authadapters

import (
	"context"
	"errors"
)

// Using acquires a resource, runs fn with it and always releases it, also when
// fn panics. A release error is joined with fn's error.
//
//	err := authadapters.Using(ctx, openRedis, func(s *redis.Store) error {
//	    _, err := kv.New(s).GetUser(ctx, id)
//	    return err
//	})
func Using[R any](ctx context.Context, acquire func(ctx context.Context) (R, func() error, error), fn func(R) error) (err error) {
	res, release, err := acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if release == nil {
			return
		}
		if p := recover(); p != nil {
			_ = release()
			panic(p)
		}
		if rerr := release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return fn(res)
}
