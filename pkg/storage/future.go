package storage

import "context"

// Future is the pending result of an operation started with Go.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Go runs fn on a new goroutine and returns a handle to its result.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = fn()
	}()
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx ends. Giving up on a
// future does not stop the operation behind it.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Async exposes a Storage through futures: every call returns immediately
// and completes on its own goroutine.
type Async struct {
	storage Storage
}

// NewAsync wraps s.
func NewAsync(s Storage) *Async {
	return &Async{storage: s}
}

func (a *Async) Exists(ctx context.Context, key Key) *Future[bool] {
	return Go(func() (bool, error) {
		return a.storage.Exists(ctx, key)
	})
}

func (a *Async) List(ctx context.Context, prefix Key) *Future[[]Key] {
	return Go(func() ([]Key, error) {
		return a.storage.List(ctx, prefix)
	})
}

func (a *Async) Save(ctx context.Context, key Key, content *Content) *Future[struct{}] {
	return Go(func() (struct{}, error) {
		return struct{}{}, a.storage.Save(ctx, key, content)
	})
}

func (a *Async) Value(ctx context.Context, key Key) *Future[*Content] {
	return Go(func() (*Content, error) {
		return a.storage.Value(ctx, key)
	})
}

func (a *Async) Move(ctx context.Context, source Key, destination Key) *Future[struct{}] {
	return Go(func() (struct{}, error) {
		return struct{}{}, a.storage.Move(ctx, source, destination)
	})
}

func (a *Async) Delete(ctx context.Context, key Key) *Future[struct{}] {
	return Go(func() (struct{}, error) {
		return struct{}{}, a.storage.Delete(ctx, key)
	})
}

func (a *Async) Transaction(ctx context.Context, keys []Key) *Future[Transaction] {
	return Go(func() (Transaction, error) {
		return a.storage.Transaction(ctx, keys)
	})
}
