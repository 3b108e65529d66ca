package authadapters

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	closed   bool
	closeErr error
}

func open(conn *fakeConn, openErr error) func(context.Context) (*fakeConn, func() error, error) {
	return func(context.Context) (*fakeConn, func() error, error) {
		if openErr != nil {
			return nil, nil, openErr
		}
		return conn, func() error {
			conn.closed = true
			return conn.closeErr
		}, nil
	}
}

func TestUsingReleases(t *testing.T) {
	conn := &fakeConn{}
	err := Using(context.Background(), open(conn, nil), func(c *fakeConn) error {
		assert.False(t, c.closed)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, conn.closed)
}

func TestUsingJoinsErrors(t *testing.T) {
	fnErr := errors.New("fn failed")
	closeErr := errors.New("close failed")
	conn := &fakeConn{closeErr: closeErr}
	err := Using(context.Background(), open(conn, nil), func(*fakeConn) error { return fnErr })
	assert.ErrorIs(t, err, fnErr)
	assert.ErrorIs(t, err, closeErr)
}

func TestUsingReleasesOnPanic(t *testing.T) {
	conn := &fakeConn{}
	assert.PanicsWithValue(t, "boom", func() {
		_ = Using(context.Background(), open(conn, nil), func(*fakeConn) error { panic("boom") })
	})
	assert.True(t, conn.closed)
}

func TestUsingAcquireFailure(t *testing.T) {
	openErr := errors.New("dial failed")
	called := false
	err := Using(context.Background(), open(nil, openErr), func(*fakeConn) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, openErr)
	assert.False(t, called)
}
