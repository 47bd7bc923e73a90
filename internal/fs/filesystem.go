package fs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// CopyFile copies the contents of srcPath into a new file at destPath. An
// existing destination is truncated.
func CopyFile(srcPath string, destPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}

	if _, err := destFile.ReadFrom(srcFile); err != nil {
		destFile.Close()
		os.Remove(destPath)
		return err
	}
	return destFile.Close()
}

// MoveFile renames srcPath to destPath, creating the parent directories of
// destPath. When the two live on different devices the file is copied and
// the source removed.
func MoveFile(srcPath string, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}

	err := os.Rename(srcPath, destPath)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if err := CopyFile(srcPath, destPath); err != nil {
		return err
	}

	// ignore ENOENT in case something else already removed it
	if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteExclusive creates path and streams r into it. It fails with an error
// wrapping os.ErrExist when path is already present. A partially written
// file is removed.
func WriteExclusive(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(path)
		return n, err
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return n, err
	}
	return n, nil
}
