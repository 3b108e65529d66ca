// Package kv implements the authadapters contract on top of any key-value
// medium.
//
// A medium only has to provide Get, Set and Delete on byte values (Store).
// Media that can atomically read-and-delete a key implement Taker, which makes
// UseVerificationToken race free; media with native expiry implement
// ExpiringStore so sessions and verification tokens disappear after they expire.
//
// # Key Layout
//
// Keys come from an authadapters.KeyEncoder. Besides the primary records the
// adapter keeps secondary entries:
//
//	user:email:<email>                 -> user id
//	user:account:by-user-id:<userId>   -> ["user:account:<provider>:<id>", ...]
//	user:session:by-user-id:<userId>   -> ["user:session:<token>", ...]
//	authenticator:by-user-id:<userId>  -> ["authenticator:<credentialID>", ...]
//
// # Consistency
//
// Primary records are written before the pointers that reference them and
// deleted after them, so an interrupted operation leaves at worst a missing
// pointer, never a dangling one. There is no transaction across keys and the
// pointer sets are updated read-modify-write; two concurrent writers for the
// same user can lose one pointer. Readers treat pointers to missing records
// as absent.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get and Taker.Take for absent keys.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal medium contract.
type Store interface {
	// Get returns the value stored at key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set creates or replaces the value at key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Taker is implemented by media that can read and delete a key in one step.
// Of several concurrent Take calls for one key at most one gets the value.
type Taker interface {
	Take(ctx context.Context, key string) ([]byte, error)
}

// ExpiringStore is implemented by media that can drop a key at a given time.
type ExpiringStore interface {
	SetWithExpiry(ctx context.Context, key string, value []byte, expiresAt time.Time) error
}

