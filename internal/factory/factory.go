// Package factory builds storages from configuration. Backends are looked up
// by their type name in a registry.
package factory

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"asto/internal/config"
	"asto/internal/fs"
	"asto/internal/s3"
	"asto/pkg/storage"
)

// Constructor builds a storage from its configuration.
type Constructor func(cfg config.Storage) (storage.Storage, error)

var (
	mu       sync.RWMutex
	registry = map[string]Constructor{
		"fs": NewFileStorage,
		"s3": NewS3Storage,
	}
)

// Register makes a backend available under name, replacing any previous
// registration.
func Register(name string, c Constructor) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = c
}

// Types returns the registered type names, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the storage described by cfg.
func New(cfg config.Storage) (storage.Storage, error) {
	mu.RLock()
	c, ok := registry[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, storage.InvalidArgument("unknown storage type %q", cfg.Type)
	}

	s, err := c(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s storage: %w", cfg.Type, err)
	}

	if cfg.Logging {
		return storage.WithLogger(s, slog.With("storage", cfg.Type)), nil
	}
	return s, nil
}

func NewFileStorage(cfg config.Storage) (storage.Storage, error) {
	if cfg.Path == "" {
		return nil, storage.InvalidArgument("path is required")
	}
	return fs.New(cfg.Path), nil
}

func NewS3Storage(cfg config.Storage) (storage.Storage, error) {
	if cfg.Bucket == "" {
		return nil, storage.InvalidArgument("bucket is required")
	}
	if cfg.PartSize > 0 && cfg.PartSize < s3.MinPartSize {
		return nil, storage.InvalidArgument("part-size %d is below the S3 minimum of %d", cfg.PartSize, s3.MinPartSize)
	}
	if cfg.Credentials.Type != "basic" {
		return nil, storage.InvalidArgument("unsupported S3 credentials type: %q", cfg.Credentials.Type)
	}

	client, err := s3.Dial(s3.Endpoint{
		URL:             cfg.Endpoint,
		Region:          cfg.Region,
		AccessKeyID:     cfg.Credentials.AccessKeyID,
		SecretAccessKey: cfg.Credentials.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}

	return s3.New(client, cfg.Bucket,
		s3.WithMultipart(cfg.MultipartEnabled()),
		s3.WithPartSize(cfg.PartSize),
		s3.WithConcurrency(cfg.Concurrency),
	), nil
}
