package kv

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	aa "github.com/panyam/authadapters"
)

// index maintains the secondary entries next to the primary records:
// scalar pointers (email -> user id) and pointer sets (user -> primary keys).
type index struct {
	store Store
}

// pointer reads a scalar pointer. Returns "" when absent.
func (ix *index) pointer(ctx context.Context, key string) (string, error) {
	data, err := ix.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (ix *index) setPointer(ctx context.Context, key, target string) error {
	return ix.store.Set(ctx, key, []byte(target))
}

// members returns the primary keys in the set stored at key.
func (ix *index) members(ctx context.Context, key string) ([]string, error) {
	data, err := ix.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, aa.NewError("index", aa.KindCodec, err)
	}
	return keys, nil
}

func (ix *index) writeMembers(ctx context.Context, key string, keys []string) error {
	if len(keys) == 0 {
		return ix.store.Delete(ctx, key)
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return aa.NewError("index", aa.KindCodec, err)
	}
	return ix.store.Set(ctx, key, data)
}

// add inserts target into the set at key.
func (ix *index) add(ctx context.Context, key, target string) error {
	keys, err := ix.members(ctx, key)
	if err != nil {
		return err
	}
	if slices.Contains(keys, target) {
		return nil
	}
	return ix.writeMembers(ctx, key, append(keys, target))
}

// remove drops targets from the set at key, deleting the set when it empties.
func (ix *index) remove(ctx context.Context, key string, targets ...string) error {
	keys, err := ix.members(ctx, key)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(slices.Clone(keys), func(k string) bool {
		return slices.Contains(targets, k)
	})
	if len(kept) == len(keys) {
		return nil
	}
	return ix.writeMembers(ctx, key, kept)
}
