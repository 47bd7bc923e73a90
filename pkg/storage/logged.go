package storage

import (
	"context"
	"log/slog"
)

var _ Storage = &Logged{}

// Logged decorates a Storage with debug logging of every operation and its
// outcome.
type Logged struct {
	s      Storage
	logger *slog.Logger
}

// WithLogger wraps s. A nil logger uses slog.Default().
func WithLogger(s Storage, logger *slog.Logger) *Logged {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logged{s: s, logger: logger}
}

func (l *Logged) Exists(ctx context.Context, key Key) (bool, error) {
	exists, err := l.s.Exists(ctx, key)
	if err != nil {
		l.logger.DebugContext(ctx, "Failed to check existence", "key", key.String(), "err", err)
		return false, err
	}
	l.logger.DebugContext(ctx, "Checked existence", "key", key.String(), "exists", exists)
	return exists, nil
}

func (l *Logged) List(ctx context.Context, prefix Key) ([]Key, error) {
	keys, err := l.s.List(ctx, prefix)
	if err != nil {
		l.logger.DebugContext(ctx, "Failed to list", "prefix", prefix.String(), "err", err)
		return nil, err
	}
	l.logger.DebugContext(ctx, "Listed", "prefix", prefix.String(), "count", len(keys))
	return keys, nil
}

func (l *Logged) Save(ctx context.Context, key Key, content *Content) error {
	size, _ := content.Size()
	if err := l.s.Save(ctx, key, content); err != nil {
		l.logger.DebugContext(ctx, "Failed to save", "key", key.String(), "size", size, "err", err)
		return err
	}
	l.logger.DebugContext(ctx, "Saved", "key", key.String(), "size", size)
	return nil
}

func (l *Logged) Value(ctx context.Context, key Key) (*Content, error) {
	content, err := l.s.Value(ctx, key)
	if err != nil {
		l.logger.DebugContext(ctx, "Failed to load", "key", key.String(), "err", err)
		return nil, err
	}
	size, _ := content.Size()
	l.logger.DebugContext(ctx, "Loaded", "key", key.String(), "size", size)
	return content, nil
}

func (l *Logged) Move(ctx context.Context, source Key, destination Key) error {
	if err := l.s.Move(ctx, source, destination); err != nil {
		l.logger.DebugContext(ctx, "Failed to move", "source", source.String(), "destination", destination.String(), "err", err)
		return err
	}
	l.logger.DebugContext(ctx, "Moved", "source", source.String(), "destination", destination.String())
	return nil
}

func (l *Logged) Delete(ctx context.Context, key Key) error {
	if err := l.s.Delete(ctx, key); err != nil {
		l.logger.DebugContext(ctx, "Failed to delete", "key", key.String(), "err", err)
		return err
	}
	l.logger.DebugContext(ctx, "Deleted", "key", key.String())
	return nil
}

func (l *Logged) Transaction(ctx context.Context, keys []Key) (Transaction, error) {
	tx, err := l.s.Transaction(ctx, keys)
	if err != nil {
		l.logger.DebugContext(ctx, "Failed to start transaction", "keys", len(keys), "err", err)
		return nil, err
	}
	return tx, nil
}
