// Package s3 implements storage.Storage on an S3 compatible object store.
package s3

import (
	"context"
	"errors"
	"log/slog"

	"asto/pkg/storage"

	"golang.org/x/sync/errgroup"
)

var _ storage.Storage = &Storage{}

// Storage keeps every value as one object of a bucket. Saves replace
// existing objects. Move is a copy followed by a delete and is not atomic.
type Storage struct {
	bucket *Bucket
	cfg    Config
}

// New returns a Storage over the named bucket.
func New(client Client, bucket string, opts ...ConfigOption) *Storage {
	return &Storage{
		bucket: NewBucket(client, bucket),
		cfg:    NewConfig(opts...),
	}
}

// Bucket returns the bucket the storage writes to.
func (s *Storage) Bucket() *Bucket {
	return s.bucket
}

func (s *Storage) Exists(ctx context.Context, key storage.Key) (bool, error) {
	_, err := s.bucket.Head(ctx, key)
	if errors.Is(err, ErrNoSuchKey) {
		return false, nil
	}
	if err != nil {
		return false, &storage.IOError{Op: "exists", Key: key, Err: err}
	}
	return true, nil
}

func (s *Storage) List(ctx context.Context, prefix storage.Key) ([]storage.Key, error) {
	if err := storage.ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	keys, err := s.bucket.List(ctx, prefix)
	if err != nil {
		return nil, &storage.IOError{Op: "list", Key: prefix, Err: err}
	}
	return keys, nil
}

// Save uploads content in one request when its length is known and below
// MultipartThreshold, and as a multipart upload otherwise.
func (s *Storage) Save(ctx context.Context, key storage.Key, content *storage.Content) error {
	defer content.Close()

	if key.IsRoot() {
		return storage.InvalidArgument("cannot save to the root key")
	}

	size, known := content.Size()
	switch {
	case !s.cfg.Multipart && !known:
		data, err := content.Bytes()
		if err != nil {
			return &storage.IOError{Op: "save", Key: key, Err: err}
		}
		return s.put(ctx, key, storage.FromBytes(data))
	case !s.cfg.Multipart, known && size < MultipartThreshold:
		return s.put(ctx, key, content)
	default:
		return s.putMultipart(ctx, key, content)
	}
}

func (s *Storage) put(ctx context.Context, key storage.Key, content *storage.Content) error {
	body, size, err := Outbound(content)
	if err != nil {
		return err
	}
	if err := s.bucket.Put(ctx, key, body, size); err != nil {
		return &storage.IOError{Op: "save", Key: key, Err: err}
	}
	return nil
}

// putMultipart streams content as parts of one upload. On any failure the
// upload is aborted and the original error returned; abort failures are
// only logged.
func (s *Storage) putMultipart(ctx context.Context, key storage.Key, content *storage.Content) error {
	upload, err := s.bucket.StartUpload(ctx, key)
	if err != nil {
		return &storage.IOError{Op: "save", Key: key, Err: err}
	}

	log := slog.With("bucket", s.bucket.Name(), "key", key.String(), "upload_id", upload.ID())
	log.Debug("Started multipart upload")

	err = s.uploadParts(ctx, upload, content)
	if err == nil {
		err = upload.Complete(ctx)
	}
	if err != nil {
		if abortErr := upload.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			log.Warn("Failed to abort multipart upload", "err", abortErr)
		}
		return &storage.IOError{Op: "save", Key: key, Err: err}
	}

	log.Debug("Completed multipart upload", "parts", len(upload.Parts()))
	return nil
}

// uploadParts reads content in PartSize chunks and uploads up to
// Concurrency of them at once. Reading stops as soon as an upload fails or
// ctx ends; a stream that was not read to the end is always an error.
func (s *Storage) uploadParts(ctx context.Context, upload *MultipartUpload, content *storage.Content) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	var (
		number  int
		readErr error
	)
	for chunk, err := range content.Chunks(s.cfg.PartSize) {
		if err != nil {
			readErr = err
			break
		}
		if gctx.Err() != nil {
			readErr = context.Cause(gctx)
			break
		}
		number++
		n := number
		g.Go(func() error {
			return upload.Upload(gctx, n, chunk)
		})
	}

	// An empty value still needs one part to complete the upload.
	if number == 0 && readErr == nil {
		g.Go(func() error {
			return upload.Upload(gctx, 1, nil)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if readErr == nil {
		// Uploads may have finished before noticing a cancellation.
		readErr = ctx.Err()
	}
	return readErr
}

func (s *Storage) Value(ctx context.Context, key storage.Key) (*storage.Content, error) {
	resp, err := s.bucket.Get(ctx, key)
	if errors.Is(err, ErrNoSuchKey) {
		return nil, storage.NotFound(key)
	}
	if err != nil {
		return nil, &storage.IOError{Op: "value", Key: key, Err: err}
	}
	return Inbound(resp), nil
}

// Move copies source to destination and then deletes source. If the delete
// fails both keys hold the value and the error is returned.
func (s *Storage) Move(ctx context.Context, source storage.Key, destination storage.Key) error {
	if err := s.bucket.Copy(ctx, source, destination); err != nil {
		if errors.Is(err, ErrNoSuchKey) {
			return storage.NotFound(source)
		}
		return &storage.IOError{Op: "move", Key: source, Err: err}
	}
	if err := s.bucket.Delete(ctx, source); err != nil {
		return &storage.IOError{Op: "move", Key: source, Err: err}
	}
	return nil
}

// Delete checks that key exists before removing it, since object stores
// report success for deleting absent objects.
func (s *Storage) Delete(ctx context.Context, key storage.Key) error {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return storage.NotFound(key)
	}
	if err := s.bucket.Delete(ctx, key); err != nil {
		return &storage.IOError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *Storage) Transaction(context.Context, []storage.Key) (storage.Transaction, error) {
	return nil, storage.Unsupported("transactions on object storage")
}
