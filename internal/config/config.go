// Package config loads authstore settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"log"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Backends understood by the authstore CLI.
const (
	BackendMemory    = "memory"
	BackendFS        = "fs"
	BackendRedis     = "redis"
	BackendNATS      = "nats"
	BackendS3        = "s3"
	BackendGorm      = "gorm"
	BackendMongo     = "mongo"
	BackendDatastore = "datastore"
)

var backends = map[string]bool{
	BackendMemory: true, BackendFS: true, BackendRedis: true, BackendNATS: true,
	BackendS3: true, BackendGorm: true, BackendMongo: true, BackendDatastore: true,
}

type Config struct {
	Backend   string `env:"AUTHSTORE_BACKEND" envDefault:"fs"`
	KeyPrefix string `env:"AUTHSTORE_KEY_PREFIX"`

	LogLevel string `env:"AUTHSTORE_LOG_LEVEL" envDefault:"info"`
	LogDev   bool   `env:"AUTHSTORE_LOG_DEV" envDefault:"false"`

	FSPath string `env:"AUTHSTORE_FS_PATH" envDefault:"./authdata"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	NATSURL    string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSBucket string `env:"NATS_KV_BUCKET" envDefault:"authadapters"`

	S3Bucket    string `env:"S3_BUCKET"`
	S3Prefix    string `env:"S3_PREFIX"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3PathStyle bool   `env:"S3_PATH_STYLE" envDefault:"false"`

	PostgresDSN string `env:"POSTGRES_DSN" envDefault:"host=localhost user=app password=app_password dbname=authdb port=5432 sslmode=disable"`

	MongoURI string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDB  string `env:"MONGO_DB" envDefault:"authadapters"`

	DatastoreProject   string `env:"DATASTORE_PROJECT_ID"`
	DatastoreNamespace string `env:"DATASTORE_NAMESPACE"`
}

// Validate checks settings that depend on the chosen backend.
func (c *Config) Validate() error {
	if !backends[c.Backend] {
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.Backend {
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
	case BackendDatastore:
		if c.DatastoreProject == "" {
			return fmt.Errorf("DATASTORE_PROJECT_ID is required for the datastore backend")
		}
	}
	return nil
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
