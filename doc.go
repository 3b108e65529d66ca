// Package authadapters provides storage adapters for an authentication framework.
//
// The framework persists five entities: users, accounts (links to OAuth/OIDC
// providers), sessions, single use verification tokens and WebAuthn
// authenticators. Each adapter maps them onto one datastore and exposes the
// same operations through the Adapter and WebAuthnAdapter interfaces.
//
// # Adapter Families
//
// Key-value media share one implementation, kv.Adapter, which composes three
// pieces from this package:
//
//   - KeyEncoder: builds collision free keys ("user:<id>", "user:email:<email>", ...)
//     and escapes characters the medium cannot store.
//   - Encode/DecodeRecord: JSON values whose ISO-8601 strings come back as time.Time.
//   - a secondary index of reverse pointers (email -> user, user -> sessions, ...)
//     kept next to the primary records.
//
// The media live under stores/: fs (files), redis, nats (JetStream KV) and s3.
// Datastores with their own query model get native adapters: stores/gorm
// (SQL), stores/gae (Cloud Datastore) and stores/mongo. Package instrument
// wraps any of them with Prometheus metrics.
//
// # Basic Usage
//
//	rdb := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	adapter := kv.New(redis.New(rdb), kv.WithLogger(logger))
//
//	user, err := adapter.CreateUser(ctx, &authadapters.User{Email: "a@b.com"})
//	...
//	found, err := adapter.GetUserByEmail(ctx, "a@b.com") // nil, nil when absent
//
// # Errors
//
// Lookups that find nothing return nil without an error. Everything else is a
// *StorageError whose Kind tells validation failures, unique key conflicts
// and medium failures apart:
//
//	if errors.Is(err, authadapters.ErrConflict) { ... }
//
// # Testing
//
// Package adaptertest contains the conformance suite every adapter in this
// module passes. New adapters call adaptertest.RunBasicTests with a raw reader
// that inspects the medium directly.
package authadapters
