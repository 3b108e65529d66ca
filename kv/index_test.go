package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aa "github.com/panyam/authadapters"
)

func TestIndexSets(t *testing.T) {
	ctx := context.Background()
	ix := &index{store: NewMemoryStore()}

	require.NoError(t, ix.add(ctx, "set", "a"))
	require.NoError(t, ix.add(ctx, "set", "b"))
	require.NoError(t, ix.add(ctx, "set", "a"))

	members, err := ix.members(ctx, "set")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)

	require.NoError(t, ix.remove(ctx, "set", "a", "missing"))
	members, err = ix.members(ctx, "set")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)

	require.NoError(t, ix.remove(ctx, "set", "b"))
	_, err = ix.store.Get(ctx, "set")
	assert.ErrorIs(t, err, ErrNotFound)

	members, err = ix.members(ctx, "set")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestIndexPointers(t *testing.T) {
	ctx := context.Background()
	ix := &index{store: NewMemoryStore()}

	target, err := ix.pointer(ctx, "ptr")
	require.NoError(t, err)
	assert.Equal(t, "", target)

	require.NoError(t, ix.setPointer(ctx, "ptr", "u1"))
	target, err = ix.pointer(ctx, "ptr")
	require.NoError(t, err)
	assert.Equal(t, "u1", target)
}

func TestIndexCorruptSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ix := &index{store: store}
	require.NoError(t, store.Set(ctx, "set", []byte("u1")))

	_, err := ix.members(ctx, "set")
	assert.ErrorIs(t, err, aa.ErrCodec)
}
