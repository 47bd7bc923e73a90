package storage

import "context"

// Storage defines the operation set every backend implements. Values are
// addressed by Key and transferred as single-consumption Content streams.
//
// Implementations must be safe for concurrent use. Operations on the same key
// are not serialized: concurrent writers race and the backend decides which
// write wins.
type Storage interface {
	// Exists reports whether a value is currently stored under key. Absence
	// is reported as false, never as an error.
	Exists(ctx context.Context, key Key) (bool, error)

	// List returns every key stored under prefix. The prefix must either be
	// the root key or end with the separator, otherwise ErrInvalidArgument
	// is returned. The order of the result is not defined.
	List(ctx context.Context, prefix Key) ([]Key, error)

	// Save stores content under key. The content is consumed before Save
	// returns, whether it succeeds or not.
	Save(ctx context.Context, key Key, content *Content) error

	// Value opens the value stored under key. It fails with ErrNotFound if
	// the key is absent. The caller owns the returned Content and must
	// consume or close it.
	Value(ctx context.Context, key Key) (*Content, error)

	// Move renames the value at source to destination. It is not atomic.
	Move(ctx context.Context, source Key, destination Key) error

	// Delete removes the value at key, failing with ErrNotFound if absent.
	Delete(ctx context.Context, key Key) error

	// Transaction starts an atomic operation over keys. Backends without
	// multi-key atomicity return ErrUnsupportedOperation.
	Transaction(ctx context.Context, keys []Key) (Transaction, error)
}

// Transaction is a Storage view whose changes become visible together on
// Commit.
type Transaction interface {
	Storage

	// Commit applies every change made through the transaction.
	Commit(ctx context.Context) error

	// Rollback discards every change made through the transaction.
	Rollback(ctx context.Context) error
}
