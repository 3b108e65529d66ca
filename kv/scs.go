package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/alexedwards/scs/v2"

	aa "github.com/panyam/authadapters"
)

// scsNamespace is the key namespace for session manager blobs.
const scsNamespace = "scs"

type scsEnvelope struct {
	Data   []byte    `json:"data"`
	Expiry time.Time `json:"expiry"`
}

// SCSStore stores scs session blobs in a kv Store next to the adapter's records.
type SCSStore struct {
	store Store
	keys  aa.KeyEncoder
	now   func() time.Time
}

var (
	_ scs.Store    = (*SCSStore)(nil)
	_ scs.CtxStore = (*SCSStore)(nil)
)

// NewSCSStore creates an scs store on store. Keys live under "scs:" in the
// given encoder's layout.
func NewSCSStore(store Store, keys aa.KeyEncoder) *SCSStore {
	return &SCSStore{store: store, keys: keys, now: time.Now}
}

func (s *SCSStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

func (s *SCSStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

func (s *SCSStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

// FindCtx returns the blob for token. Expired blobs are deleted and reported
// as not found.
func (s *SCSStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	key := s.keys.Namespaced(scsNamespace, token)
	data, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var env scsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, aa.NewError("scs.Find", aa.KindCodec, err)
	}
	if !s.now().Before(env.Expiry) {
		if err := s.store.Delete(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return env.Data, true, nil
}

func (s *SCSStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	data, err := json.Marshal(scsEnvelope{Data: b, Expiry: expiry.UTC()})
	if err != nil {
		return aa.NewError("scs.Commit", aa.KindCodec, err)
	}
	key := s.keys.Namespaced(scsNamespace, token)
	if es, ok := s.store.(ExpiringStore); ok {
		return es.SetWithExpiry(ctx, key, data, expiry)
	}
	return s.store.Set(ctx, key, data)
}

func (s *SCSStore) DeleteCtx(ctx context.Context, token string) error {
	return s.store.Delete(ctx, s.keys.Namespaced(scsNamespace, token))
}
