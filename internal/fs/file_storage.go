// Package fs implements storage.Storage on a local directory tree.
package fs

import (
	"context"
	"errors"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"asto/pkg/storage"
)

var _ storage.Storage = &FileStorage{}

// FileStorage maps every key onto a file below root. Keys are stored
// verbatim, so "a/b/c" lives at root/a/b/c.
type FileStorage struct {
	root string
}

// New creates a FileStorage rooted at root. The directory is created on the
// first save.
func New(root string) *FileStorage {
	return &FileStorage{root: filepath.Clean(root)}
}

// Root returns the directory backing the storage.
func (s *FileStorage) Root() string {
	return s.root
}

func (s *FileStorage) path(key storage.Key) (string, error) {
	segments := key.Segments()
	for _, segment := range segments {
		if segment == "." || segment == ".." {
			return "", storage.InvalidArgument("key %q escapes the storage root", key.String())
		}
	}
	return filepath.Join(append([]string{s.root}, segments...)...), nil
}

func (s *FileStorage) Exists(ctx context.Context, key storage.Key) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if missing(err) {
		return false, nil
	}
	if err != nil {
		return false, &storage.IOError{Op: "exists", Key: key, Err: err}
	}
	return info.Mode().IsRegular(), nil
}

func (s *FileStorage) List(ctx context.Context, prefix storage.Key) ([]storage.Key, error) {
	if err := storage.ValidatePrefix(prefix); err != nil {
		return nil, err
	}

	dir, err := s.path(prefix)
	if err != nil {
		return nil, err
	}

	keys := make([]storage.Key, 0)
	err = filepath.WalkDir(dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, storage.NewKey(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, &storage.IOError{Op: "list", Key: prefix, Err: err}
	}
	return keys, nil
}

// Save refuses to replace an existing value.
func (s *FileStorage) Save(ctx context.Context, key storage.Key, content *storage.Content) error {
	defer content.Close()

	if key.IsRoot() {
		return storage.InvalidArgument("cannot save to the root key")
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r, err := content.Reader()
	if err != nil {
		return err
	}

	n, err := WriteExclusive(path, r)
	if err != nil {
		return &storage.IOError{Op: "save", Key: key, Err: err}
	}

	slog.Debug("Saved file", "key", key.String(), "path", path, "size", n)
	return nil
}

func (s *FileStorage) Value(ctx context.Context, key storage.Key) (*storage.Content, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if missing(err) {
		return nil, storage.NotFound(key)
	}
	if err != nil {
		return nil, &storage.IOError{Op: "value", Key: key, Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &storage.IOError{Op: "value", Key: key, Err: err}
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, storage.NotFound(key)
	}

	return storage.NewContent(f, info.Size()), nil
}

// Move replaces any value already stored under destination.
func (s *FileStorage) Move(ctx context.Context, source storage.Key, destination storage.Key) error {
	srcPath, err := s.path(source)
	if err != nil {
		return err
	}
	destPath, err := s.path(destination)
	if err != nil {
		return err
	}
	if destination.IsRoot() {
		return storage.InvalidArgument("cannot move to the root key")
	}

	exists, err := s.Exists(ctx, source)
	if err != nil {
		return err
	}
	if !exists {
		return storage.NotFound(source)
	}

	if err := MoveFile(srcPath, destPath); err != nil {
		return &storage.IOError{Op: "move", Key: source, Err: err}
	}
	return nil
}

// Delete removes the file behind key. Emptied parent directories are left
// in place.
func (s *FileStorage) Delete(ctx context.Context, key storage.Key) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return storage.NotFound(key)
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.NotFound(key)
		}
		return &storage.IOError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *FileStorage) Transaction(context.Context, []storage.Key) (storage.Transaction, error) {
	return nil, storage.Unsupported("transactions on the file storage")
}

// missing reports whether err means nothing is stored at a path, including
// when a parent segment is a regular file.
func missing(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
