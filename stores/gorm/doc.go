//go:build !wasm
// +build !wasm

// Package gorm is a native authadapters adapter on GORM. It supports any
// database GORM supports (PostgreSQL, MySQL, SQLite, etc.).
//
// # Database Schema
//
// AutoMigrate creates the following tables:
//   - users: one row per user, unique email
//   - accounts: provider links, primary key (provider, provider_account_id)
//   - sessions: database sessions keyed by token
//   - verification_tokens: single use tokens, primary key (identifier, token)
//   - authenticators: WebAuthn credentials keyed by credential id
//
// Multi-row operations (DeleteUser, UseVerificationToken) run in a transaction.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	_ = gormstore.AutoMigrate(db)
//	adapter := gormstore.New(db, gormstore.WithLogger(logger))
package gorm
