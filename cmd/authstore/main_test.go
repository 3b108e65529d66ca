package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	aa "github.com/panyam/authadapters"
	"github.com/panyam/authadapters/internal/config"
	"github.com/panyam/authadapters/kv"
	fsstore "github.com/panyam/authadapters/stores/fs"
)

func fsConfig(t *testing.T) *config.Config {
	return &config.Config{Backend: config.BackendFS, FSPath: t.TempDir(), LogLevel: "debug"}
}

func seed(t *testing.T, cfg *config.Config) {
	t.Helper()
	store, err := fsstore.New(cfg.FSPath)
	require.NoError(t, err)
	_, err = kv.New(store).CreateUser(context.Background(), &aa.User{ID: "u1", Email: "a@b.com", Name: "Ada"})
	require.NoError(t, err)
}

func TestUserCommand(t *testing.T) {
	ctx := context.Background()
	cfg := fsConfig(t)
	seed(t, cfg)
	logger := zaptest.NewLogger(t)

	for _, args := range [][]string{{"user", "-email", "a@b.com"}, {"user", "-id", "u1"}} {
		var out bytes.Buffer
		require.NoError(t, run(ctx, cfg, logger, args, &out))
		var u aa.User
		require.NoError(t, json.Unmarshal(out.Bytes(), &u))
		assert.Equal(t, "u1", u.ID)
		assert.Equal(t, "Ada", u.Name)
	}

	var out bytes.Buffer
	require.NoError(t, run(ctx, cfg, logger, []string{"user", "-id", "nobody"}, &out))
	assert.Equal(t, "null\n", out.String())
}

func TestDeleteUserCommand(t *testing.T) {
	ctx := context.Background()
	cfg := fsConfig(t)
	seed(t, cfg)
	logger := zaptest.NewLogger(t)

	require.NoError(t, run(ctx, cfg, logger, []string{"delete-user", "-id", "u1"}, &bytes.Buffer{}))

	var out bytes.Buffer
	require.NoError(t, run(ctx, cfg, logger, []string{"user", "-email", "a@b.com"}, &out))
	assert.Equal(t, "null\n", out.String())
}

func TestProvisionMemory(t *testing.T) {
	cfg := &config.Config{Backend: config.BackendMemory}
	assert.NoError(t, run(context.Background(), cfg, zaptest.NewLogger(t), []string{"provision"}, &bytes.Buffer{}))
}

func TestUsageErrors(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Backend: config.BackendMemory}
	logger := zaptest.NewLogger(t)

	cases := [][]string{
		nil,
		{"frobnicate"},
		{"user"},
		{"user", "-email", "a@b.com", "-id", "u1"},
		{"delete-user"},
	}
	for _, args := range cases {
		assert.Error(t, run(ctx, cfg, logger, args, &bytes.Buffer{}), "args=%v", args)
	}
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger(&config.Config{LogLevel: "debug", LogDev: true})
	assert.NoError(t, err)
	_, err = newLogger(&config.Config{LogLevel: "loud"})
	assert.Error(t, err)
}

func TestUnknownBackend(t *testing.T) {
	cfg := &config.Config{Backend: "etcd"}
	err := run(context.Background(), cfg, zaptest.NewLogger(t), []string{"provision"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown backend")
}
