package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-preserve/pkg/preserve"
	queuememory "github.com/tendant/simple-preserve/pkg/preserve/queue/memory"
	queuenats "github.com/tendant/simple-preserve/pkg/preserve/queue/nats"
	repomemory "github.com/tendant/simple-preserve/pkg/preserve/repo/memory"
	repopg "github.com/tendant/simple-preserve/pkg/preserve/repo/postgres"
	storagememory "github.com/tendant/simple-preserve/pkg/preserve/storage/memory"
	storages3 "github.com/tendant/simple-preserve/pkg/preserve/storage/s3"
)

// ServerConfig represents server configuration for the preservation service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"

	// Storage configuration
	StorageType string // "memory", "s3"
	S3          S3Config

	// Queue configuration
	QueueType string // "memory", "nats"
	NATS      NATSConfig

	// Institutions with their queue pairs. At least one is required.
	Institutions []preserve.Institution
}

// S3Config represents configuration for the S3 storage backend
type S3Config struct {
	Region                 string
	Bucket                 string
	AccessKeyID            string
	SecretAccessKey        string
	Endpoint               string
	UseSSL                 bool
	UsePathStyle           bool
	CreateBucketIfNotExist bool
}

// NATSConfig represents configuration for the NATS transport
type NATSConfig struct {
	URL        string
	Name       string
	QueueGroup string
}

// Defaults returns a development configuration: everything in memory.
func Defaults() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		DatabaseType: "memory",
		StorageType:  "memory",
		QueueType:    "memory",
		Institutions: []preserve.Institution{
			{
				ID:            uuid.New(),
				Key:           "default",
				OutgoingQueue: "default_to_medusa",
				IncomingQueue: "medusa_to_default",
			},
		},
	}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	if c.StorageType != "memory" && c.StorageType != "s3" {
		return errors.New("storage_type must be 'memory' or 's3'")
	}
	if c.StorageType == "s3" && c.S3.Bucket == "" {
		return errors.New("s3 bucket is required when using s3 storage")
	}

	if c.QueueType != "memory" && c.QueueType != "nats" {
		return errors.New("queue_type must be 'memory' or 'nats'")
	}
	if c.QueueType == "nats" && c.NATS.URL == "" {
		return errors.New("nats url is required when using nats queue")
	}

	if len(c.Institutions) == 0 {
		return errors.New("at least one institution is required")
	}
	seen := make(map[string]bool)
	for _, inst := range c.Institutions {
		if inst.Key == "" || inst.OutgoingQueue == "" || inst.IncomingQueue == "" {
			return fmt.Errorf("institution %q must have key and both queue names", inst.Key)
		}
		if seen[inst.Key] {
			return fmt.Errorf("duplicate institution key %q", inst.Key)
		}
		seen[inst.Key] = true
	}

	return nil
}

// BuildRepository creates a Repository from the configuration
func (c *ServerConfig) BuildRepository(ctx context.Context) (preserve.Repository, error) {
	switch c.DatabaseType {
	case "postgres":
		pool, err := pgxpool.New(ctx, c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return repopg.NewWithPool(pool), nil
	default:
		return repomemory.New(), nil
	}
}

// BuildBlobStore creates a BlobStore from the configuration
func (c *ServerConfig) BuildBlobStore() (preserve.BlobStore, error) {
	switch c.StorageType {
	case "s3":
		return storages3.New(storages3.Config{
			Region:                 c.S3.Region,
			Bucket:                 c.S3.Bucket,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UseSSL:                 c.S3.UseSSL,
			UsePathStyle:           c.S3.UsePathStyle,
			CreateBucketIfNotExist: c.S3.CreateBucketIfNotExist,
		})
	default:
		return storagememory.New(), nil
	}
}

// BuildQueue creates a MessageQueue from the configuration
func (c *ServerConfig) BuildQueue() (preserve.MessageQueue, error) {
	switch c.QueueType {
	case "nats":
		queue, err := queuenats.New(queuenats.Config{
			URL:        c.NATS.URL,
			Name:       c.NATS.Name,
			QueueGroup: c.NATS.QueueGroup,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return queuememory.New(), nil
	}
}

// BuildService creates a Service instance from the server configuration.
// The returned repository is shared with the caller so the message
// handler and ledger can be built over the same persistence.
func (c *ServerConfig) BuildService(ctx context.Context) (preserve.Service, preserve.Repository, preserve.MessageQueue, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, nil, err
	}

	repo, err := c.BuildRepository(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := c.BuildBlobStore()
	if err != nil {
		return nil, nil, nil, err
	}
	queue, err := c.BuildQueue()
	if err != nil {
		return nil, nil, nil, err
	}

	options := []preserve.Option{
		preserve.WithRepository(repo),
		preserve.WithBlobStore(store),
		preserve.WithQueue(queue),
	}
	for _, inst := range c.Institutions {
		options = append(options, preserve.WithInstitution(inst))
	}

	svc, err := preserve.New(options...)
	if err != nil {
		return nil, nil, nil, err
	}

	return svc, repo, queue, nil
}
