package main

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/datastore"
	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	aa "github.com/panyam/authadapters"
	"github.com/panyam/authadapters/internal/config"
	"github.com/panyam/authadapters/kv"
	fsstore "github.com/panyam/authadapters/stores/fs"
	gaestore "github.com/panyam/authadapters/stores/gae"
	gormstore "github.com/panyam/authadapters/stores/gorm"
	mongostore "github.com/panyam/authadapters/stores/mongo"
	natsstore "github.com/panyam/authadapters/stores/nats"
	redisstore "github.com/panyam/authadapters/stores/redis"
	s3store "github.com/panyam/authadapters/stores/s3"
)

// backend is an open adapter plus the one-time setup its medium needs.
type backend struct {
	Adapter aa.WebAuthnAdapter

	// Provision creates tables, indexes or buckets. Nil when the medium needs
	// nothing beyond what opening it already did.
	Provision func(ctx context.Context) error
}

// withBackend opens the configured backend, runs fn and releases the
// connection.
func withBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger, fn func(*backend) error) error {
	return aa.Using(ctx, func(ctx context.Context) (*backend, func() error, error) {
		return openBackend(ctx, cfg, logger)
	}, fn)
}

func noop() error { return nil }

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, func() error, error) {
	logger = logger.With(zap.String("backend", cfg.Backend))
	kvOpts := []kv.Option{kv.WithLogger(logger), kv.WithKeys(aa.KeyEncoder{Prefix: cfg.KeyPrefix})}

	switch cfg.Backend {
	case config.BackendMemory:
		return &backend{Adapter: kv.New(kv.NewMemoryStore(), kvOpts...)}, noop, nil

	case config.BackendFS:
		store, err := fsstore.New(cfg.FSPath)
		if err != nil {
			return nil, nil, err
		}
		return &backend{Adapter: kv.New(store, kvOpts...)}, noop, nil

	case config.BackendRedis:
		store, release, err := redisstore.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return &backend{Adapter: kv.New(store, kvOpts...)}, release, nil

	case config.BackendNATS:
		store, release, err := natsstore.Dial(ctx, cfg.NATSURL, cfg.NATSBucket)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		a := kv.New(store, kv.WithLogger(logger), kv.WithKeys(natsstore.KeyEncoder(cfg.KeyPrefix)))
		return &backend{Adapter: a}, release, nil

	case config.BackendS3:
		client, err := s3store.NewClient(ctx, s3store.ClientConfig{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure s3: %w", err)
		}
		b := &backend{
			Adapter:   kv.New(s3store.New(client, cfg.S3Bucket, cfg.S3Prefix), kvOpts...),
			Provision: func(ctx context.Context) error { return ensureS3Bucket(ctx, client, cfg.S3Bucket) },
		}
		return b, noop, nil

	case config.BackendGorm:
		db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
			Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
			TranslateError: true,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		b := &backend{
			Adapter:   gormstore.New(db, gormstore.WithLogger(logger)),
			Provision: func(ctx context.Context) error { return gormstore.AutoMigrate(db.WithContext(ctx)) },
		}
		return b, sqlDB.Close, nil

	case config.BackendMongo:
		cli, release, err := mongostore.Dial(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		db := cli.Database(cfg.MongoDB)
		b := &backend{
			Adapter:   mongostore.New(db, mongostore.WithLogger(logger)),
			Provision: func(ctx context.Context) error { return mongostore.EnsureIndexes(ctx, db) },
		}
		return b, release, nil

	case config.BackendDatastore:
		client, err := datastore.NewClient(ctx, cfg.DatastoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		a := gaestore.New(client, gaestore.WithNamespace(cfg.DatastoreNamespace), gaestore.WithLogger(logger))
		return &backend{Adapter: a}, client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// ensureS3Bucket creates bucket unless it already exists.
func ensureS3Bucket(ctx context.Context, client *awss3.Client, bucket string) error {
	if _, err := client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}
	_, err := client.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create bucket %s", bucket), err)
	}
	return nil
}
