package s3

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"

	"asto/pkg/storage"
)

// ErrUploadClosed is returned when a committed or aborted upload is used.
var ErrUploadClosed = errors.New("multipart upload already closed")

type uploadState int

const (
	uploadOpen uploadState = iota
	uploadCommitted
	uploadAborted
)

// MultipartUpload is one multipart upload session. Parts may be uploaded
// concurrently; Complete and Abort each succeed at most once and exclude one
// another.
type MultipartUpload struct {
	bucket *Bucket
	key    storage.Key
	id     string

	mu    sync.Mutex
	parts []Part
	state uploadState
}

func (u *MultipartUpload) ID() string {
	return u.id
}

func (u *MultipartUpload) Key() storage.Key {
	return u.key
}

func (u *MultipartUpload) request() UploadRequest {
	return UploadRequest{Bucket: u.bucket.name, Key: u.key.String(), UploadID: u.id}
}

// Parts returns the acknowledged parts ordered by number.
func (u *MultipartUpload) Parts() []Part {
	u.mu.Lock()
	defer u.mu.Unlock()
	parts := slices.Clone(u.parts)
	slices.SortFunc(parts, func(a, b Part) int { return a.Number - b.Number })
	return parts
}

// Upload sends data as part number and records the acknowledgement.
func (u *MultipartUpload) Upload(ctx context.Context, number int, data []byte) error {
	u.mu.Lock()
	closed := u.state != uploadOpen
	u.mu.Unlock()
	if closed {
		return ErrUploadClosed
	}

	part, err := u.bucket.client.UploadPart(ctx, PartRequest{
		UploadRequest: u.request(),
		PartNumber:    number,
		Body:          bytes.NewReader(data),
		Size:          int64(len(data)),
	})
	if err != nil {
		return err
	}

	u.mu.Lock()
	u.parts = append(u.parts, part)
	u.mu.Unlock()
	return nil
}

// Complete assembles the acknowledged parts into the final object. A failed
// Complete leaves the upload open so that it can still be aborted.
func (u *MultipartUpload) Complete(ctx context.Context) error {
	u.mu.Lock()
	if u.state != uploadOpen {
		u.mu.Unlock()
		return ErrUploadClosed
	}
	u.state = uploadCommitted
	parts := slices.Clone(u.parts)
	u.mu.Unlock()

	slices.SortFunc(parts, func(a, b Part) int { return a.Number - b.Number })
	err := u.bucket.client.CompleteMultipartUpload(ctx, CompleteRequest{
		UploadRequest: u.request(),
		Parts:         parts,
	})
	if err != nil {
		u.mu.Lock()
		u.state = uploadOpen
		u.mu.Unlock()
	}
	return err
}

// Abort discards the upload and its parts.
func (u *MultipartUpload) Abort(ctx context.Context) error {
	u.mu.Lock()
	if u.state != uploadOpen {
		u.mu.Unlock()
		return ErrUploadClosed
	}
	u.state = uploadAborted
	u.mu.Unlock()

	return u.bucket.client.AbortMultipartUpload(ctx, u.request())
}
