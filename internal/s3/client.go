package s3

import (
	"context"
	"errors"
	"io"
)

// ErrNoSuchKey is wrapped by Client errors when the remote object does not
// exist.
var ErrNoSuchKey = errors.New("no such key")

// ObjectRequest addresses a single object.
type ObjectRequest struct {
	Bucket string
	Key    string
}

// ListRequest selects every object whose key starts with Prefix.
type ListRequest struct {
	Bucket string
	Prefix string
}

// PutRequest uploads Body as a single object. Size must be known.
type PutRequest struct {
	Bucket string
	Key    string
	Body   io.Reader
	Size   int64
}

// CopyRequest copies Source to Destination within Bucket.
type CopyRequest struct {
	Bucket      string
	Source      string
	Destination string
}

// UploadRequest addresses an open multipart upload.
type UploadRequest struct {
	Bucket   string
	Key      string
	UploadID string
}

// PartRequest uploads one part of a multipart upload.
type PartRequest struct {
	UploadRequest
	PartNumber int
	Body       io.Reader
	Size       int64
}

// CompleteRequest finishes a multipart upload from its acknowledged parts.
type CompleteRequest struct {
	UploadRequest
	Parts []Part
}

// Part is an acknowledged part of a multipart upload.
type Part struct {
	Number int
	ETag   string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// GetResponse is a streaming object body. ContentLength is -1 when the
// server did not report it.
type GetResponse struct {
	Body          io.ReadCloser
	ContentLength int64
}

// Client is the subset of the S3 API the storage needs. Every method takes
// a plain request value and is safe for concurrent use.
type Client interface {
	HeadObject(ctx context.Context, req ObjectRequest) (ObjectInfo, error)
	ListObjects(ctx context.Context, req ListRequest) ([]ObjectInfo, error)
	PutObject(ctx context.Context, req PutRequest) error
	GetObject(ctx context.Context, req ObjectRequest) (*GetResponse, error)
	CopyObject(ctx context.Context, req CopyRequest) error
	DeleteObject(ctx context.Context, req ObjectRequest) error

	CreateMultipartUpload(ctx context.Context, req ObjectRequest) (string, error)
	UploadPart(ctx context.Context, req PartRequest) (Part, error)
	CompleteMultipartUpload(ctx context.Context, req CompleteRequest) error
	AbortMultipartUpload(ctx context.Context, req UploadRequest) error
}
