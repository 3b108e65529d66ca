//go:build !wasm
// +build !wasm

// Package gae is a native authadapters adapter on Google Cloud Datastore. It
// supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - User: users, keyed by user id
//   - UserEmail: email reservations, keyed by email, making emails unique
//   - Account: provider links, keyed by provider and provider account id
//   - Session: database sessions, keyed by session token
//   - VerificationToken: single use tokens, keyed by identifier and token
//   - Authenticator: WebAuthn credentials, keyed by credential id
//
// Lookups by key are strongly consistent. Per-user queries (sessions,
// accounts and authenticators of a user) rely on the user_id property index.
//
// # Namespacing
//
// Pass a namespace to isolate data between tenants:
//
//	adapter := gae.New(client, gae.WithNamespace("tenant-123"))
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	adapter := gae.New(client)
package gae
