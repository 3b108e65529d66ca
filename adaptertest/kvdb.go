package adaptertest

import (
	"context"
	"errors"

	aa "github.com/panyam/authadapters"
	"github.com/panyam/authadapters/kv"
)

// KVDB is a RawDB for key-value media. It reads the primary keys directly.
type KVDB struct {
	Store kv.Store
	Keys  aa.KeyEncoder
}

func (db KVDB) read(ctx context.Context, key string, v any) (bool, error) {
	data, err := db.Store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, aa.Decode(data, v)
}

func (db KVDB) User(ctx context.Context, id string) (*aa.User, error) {
	var u aa.User
	if ok, err := db.read(ctx, db.Keys.User(id), &u); !ok || err != nil {
		return nil, err
	}
	return &u, nil
}

func (db KVDB) Account(ctx context.Context, ref aa.AccountRef) (*aa.Account, error) {
	var a aa.Account
	if ok, err := db.read(ctx, db.Keys.Account(ref), &a); !ok || err != nil {
		return nil, err
	}
	return &a, nil
}

func (db KVDB) Session(ctx context.Context, sessionToken string) (*aa.Session, error) {
	var s aa.Session
	if ok, err := db.read(ctx, db.Keys.Session(sessionToken), &s); !ok || err != nil {
		return nil, err
	}
	return &s, nil
}

func (db KVDB) VerificationToken(ctx context.Context, ref aa.VerificationTokenRef) (*aa.VerificationToken, error) {
	var v aa.VerificationToken
	if ok, err := db.read(ctx, db.Keys.VerificationToken(ref), &v); !ok || err != nil {
		return nil, err
	}
	return &v, nil
}

func (db KVDB) Authenticator(ctx context.Context, credentialID string) (*aa.Authenticator, error) {
	var a aa.Authenticator
	if ok, err := db.read(ctx, db.Keys.Authenticator(credentialID), &a); !ok || err != nil {
		return nil, err
	}
	return &a, nil
}
