package gateway

import (
	"asto/internal/auth"
	"asto/pkg/storage"
)

const (
	DefaultRegion          = "us-east-1"
	DefaultAccessKeyID     = "astoadmin"
	DefaultSecretAccessKey = "astoadmin"
)

type Config struct {
	// DataDir holds the metadata database and in-progress multipart parts.
	DataDir string
	Region  string

	// Storage receives object payloads. Defaults to a filesystem storage
	// under DataDir/objects.
	Storage       storage.Storage
	Authenticator auth.AuthEngine
}

type ConfigOption func(*Config)

func WithStorage(s storage.Storage) ConfigOption {
	return func(cfg *Config) {
		cfg.Storage = s
	}
}

func WithAuthEngine(authenticator auth.AuthEngine) ConfigOption {
	return func(cfg *Config) {
		cfg.Authenticator = authenticator
	}
}

func WithRegion(region string) ConfigOption {
	return func(cfg *Config) {
		cfg.Region = region
	}
}

func WithDataDir(dataDir string) ConfigOption {
	return func(cfg *Config) {
		cfg.DataDir = dataDir
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
