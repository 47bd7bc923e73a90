package s3

const (
	// MultipartThreshold is the smallest known length saved with a
	// multipart upload.
	MultipartThreshold = 10 << 20

	// MinPartSize is the smallest part S3 accepts, except for the last part
	// of an upload.
	MinPartSize = 5 << 20

	DefaultPartSize    = MinPartSize
	DefaultConcurrency = 4
)

// Config tunes how a Storage saves values.
type Config struct {
	// Multipart enables multipart uploads for large or unsized values. When
	// disabled, unsized values are buffered in memory to learn their
	// length.
	Multipart   bool
	PartSize    int
	Concurrency int
}

type ConfigOption func(*Config)

func WithMultipart(enabled bool) ConfigOption {
	return func(cfg *Config) {
		cfg.Multipart = enabled
	}
}

// WithPartSize sets the multipart chunk size. Stores following S3 reject
// parts below MinPartSize with EntityTooSmall, so smaller sizes only suit
// stores that do not enforce it.
func WithPartSize(size int) ConfigOption {
	return func(cfg *Config) {
		cfg.PartSize = size
	}
}

func WithConcurrency(n int) ConfigOption {
	return func(cfg *Config) {
		cfg.Concurrency = n
	}
}

// NewConfig applies opts over the defaults. Non-positive sizes fall back to
// the defaults.
func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		Multipart:   true,
		PartSize:    DefaultPartSize,
		Concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = DefaultPartSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return cfg
}
