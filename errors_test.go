package authadapters

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageErrorMatching(t *testing.T) {
	cause := errors.New("connection refused")
	err := Backend("GetUser", cause)

	assert.True(t, errors.Is(err, ErrBackend))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindBackend, KindOf(err))

	var se *StorageError
	require.True(t, errors.As(fmt.Errorf("outer: %w", err), &se))
	assert.Equal(t, "GetUser", se.Op)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewErrorKeepsKind(t *testing.T) {
	inner := NewError("Decode", KindCodec, errors.New("bad json"))
	outer := NewError("GetUser", KindBackend, inner)

	assert.Equal(t, KindCodec, KindOf(outer))
	assert.True(t, errors.Is(outer, ErrCodec))
	assert.Nil(t, Backend("GetUser", nil))
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("boom")))
}
