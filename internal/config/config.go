// Package config loads the YAML configuration shared by the asto binaries.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Credentials selects how the object-storage client authenticates. Only the
// "basic" type is supported.
type Credentials struct {
	Type            string `yaml:"type"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
}

// Storage describes one storage backend. Which fields apply depends on Type.
type Storage struct {
	Type string `yaml:"type"`

	// fs
	Path string `yaml:"path"`

	// s3
	Bucket      string      `yaml:"bucket"`
	Region      string      `yaml:"region"`
	Endpoint    string      `yaml:"endpoint"`
	Multipart   *bool       `yaml:"multipart"`
	PartSize    int         `yaml:"part-size"`
	Concurrency int         `yaml:"concurrency"`
	Credentials Credentials `yaml:"credentials"`

	// Logging wraps the backend in the debug logging decorator.
	Logging bool `yaml:"logging"`
}

// MultipartEnabled reports whether multipart uploads are on. They are unless
// explicitly disabled.
func (s Storage) MultipartEnabled() bool {
	return s.Multipart == nil || *s.Multipart
}

// Gateway configures the S3 compatible gateway daemon.
type Gateway struct {
	Listen          string `yaml:"listen"`
	DataDir         string `yaml:"data-dir"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access-key-id"`
	SecretAccessKey string `yaml:"secret-access-key"`
}

type Config struct {
	Storage Storage `yaml:"storage"`
	Gateway Gateway `yaml:"gateway"`
}

const (
	DefaultListen  = ":9000"
	DefaultDataDir = "./data"
	DefaultRegion  = "us-east-1"
)

// Load reads the configuration file at path. A .env file in the working
// directory is loaded into the environment first, and ${VAR} references in
// the file are expanded from the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	slog.Debug("Loaded configuration", "path", path, "storage", cfg.Storage.Type)
	return cfg, nil
}

// Parse decodes a YAML document after expanding environment references.
// Missing gateway settings get their defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	if cfg.Gateway.Listen == "" {
		cfg.Gateway.Listen = DefaultListen
	}
	if cfg.Gateway.DataDir == "" {
		cfg.Gateway.DataDir = DefaultDataDir
	}
	if cfg.Gateway.Region == "" {
		cfg.Gateway.Region = DefaultRegion
	}
	return &cfg, nil
}
