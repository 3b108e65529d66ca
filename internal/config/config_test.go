package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTHSTORE_BACKEND", "")
	os.Unsetenv("AUTHSTORE_BACKEND")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendFS, cfg.Backend)
	assert.Equal(t, "./authdata", cfg.FSPath)
	assert.Equal(t, "authadapters", cfg.NATSBucket)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogDev)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTHSTORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("AUTHSTORE_LOG_DEV", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.True(t, cfg.LogDev)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MONGO_DB=fromfile\n"), 0o644))
	// godotenv does not override variables already present
	t.Setenv("MONGO_DB", "")
	os.Unsetenv("MONGO_DB")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "fromfile", cfg.MongoDB)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Backend: BackendMemory}, false},
		{"unknown", Config{Backend: "etcd"}, true},
		{"s3 without bucket", Config{Backend: BackendS3}, true},
		{"s3", Config{Backend: BackendS3, S3Bucket: "b"}, false},
		{"datastore without project", Config{Backend: BackendDatastore}, true},
		{"datastore", Config{Backend: BackendDatastore, DatastoreProject: "p"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTHSTORE_BACKEND", "etcd")
	_, err := Load()
	assert.Error(t, err)
}
