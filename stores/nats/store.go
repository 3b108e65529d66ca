// Package nats is a kv.Store on a NATS JetStream key-value bucket.
//
// Keys must be built with KeyEncoder, which produces keys in the bucket's
// alphabet. UseVerificationToken is atomic: Take deletes with the revision it
// read, and a concurrent Take loses on the revision check.
package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/panyam/authadapters/kv"
)

// DefaultBucket is the bucket name used by the CLI.
const DefaultBucket = "authadapters"

// Store adapts a JetStream KV bucket.
type Store struct {
	KV jetstream.KeyValue
}

var (
	_ kv.Store = (*Store)(nil)
	_ kv.Taker = (*Store)(nil)
)

func New(bucket jetstream.KeyValue) *Store {
	return &Store{KV: bucket}
}

// EnsureBucket creates the bucket or updates its config. One revision of
// history is enough, records are never read at older revisions.
func EnsureBucket(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	kvb, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "authentication records",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure bucket %s: %w", bucket, err)
	}
	return kvb, nil
}

// Dial connects to url and opens (creating if needed) the bucket. The returned
// release func drains the connection.
func Dial(ctx context.Context, url, bucket string) (*Store, func() error, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	kvb, err := EnsureBucket(ctx, js, bucket)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return New(kvb), nc.Drain, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.KV.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if !ValidKey(key) {
		return fmt.Errorf("invalid nats kv key %q", key)
	}
	_, err := s.KV.Put(ctx, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.KV.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.KV.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	err = s.KV.Delete(ctx, key, jetstream.LastRevision(entry.Revision()))
	if isWrongRevision(err) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

func isWrongRevision(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
