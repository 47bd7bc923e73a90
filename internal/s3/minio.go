package s3

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultHost is used when no endpoint is configured.
const DefaultHost = "s3.amazonaws.com"

// Endpoint describes how to reach an S3 compatible service.
type Endpoint struct {
	// URL overrides the AWS endpoint, e.g. "http://localhost:9000". A URL
	// without scheme is treated as https.
	URL             string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

var _ Client = &MinioClient{}

// MinioClient implements Client on top of the low level minio Core API.
type MinioClient struct {
	core *minio.Core
}

// NewMinioClient wraps an existing Core client.
func NewMinioClient(core *minio.Core) *MinioClient {
	return &MinioClient{core: core}
}

// Dial creates a MinioClient for e. Custom endpoints are addressed with
// path-style bucket lookup.
func Dial(e Endpoint) (*MinioClient, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(e.AccessKeyID, e.SecretAccessKey, ""),
		Region: e.Region,
		Secure: true,
	}

	host := DefaultHost
	if e.URL != "" {
		raw := e.URL
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint %q: %w", e.URL, err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("endpoint %q has no host", e.URL)
		}
		host = u.Host
		opts.Secure = u.Scheme == "https"
		opts.BucketLookup = minio.BucketLookupPath
	}

	core, err := minio.NewCore(host, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create core client: %w", err)
	}
	return NewMinioClient(core), nil
}

// translate tags "NoSuchKey" responses with ErrNoSuchKey and leaves every
// other error as it is.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %w", ErrNoSuchKey, err)
	}
	return err
}

func (c *MinioClient) HeadObject(ctx context.Context, req ObjectRequest) (ObjectInfo, error) {
	info, err := c.core.StatObject(ctx, req.Bucket, req.Key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, translate(err)
	}
	return ObjectInfo{Key: info.Key, Size: info.Size}, nil
}

// ListObjects goes through the embedded Client; Core.ListObjects is the
// single-page V1 call.
func (c *MinioClient) ListObjects(ctx context.Context, req ListRequest) ([]ObjectInfo, error) {
	objects := make([]ObjectInfo, 0)
	for info := range c.core.Client.ListObjects(ctx, req.Bucket, minio.ListObjectsOptions{Prefix: req.Prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, translate(info.Err)
		}
		objects = append(objects, ObjectInfo{Key: info.Key, Size: info.Size})
	}
	return objects, nil
}

func (c *MinioClient) PutObject(ctx context.Context, req PutRequest) error {
	_, err := c.core.PutObject(ctx, req.Bucket, req.Key, req.Body, req.Size, "", "", minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return translate(err)
}

func (c *MinioClient) GetObject(ctx context.Context, req ObjectRequest) (*GetResponse, error) {
	body, info, _, err := c.core.GetObject(ctx, req.Bucket, req.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	return &GetResponse{Body: body, ContentLength: info.Size}, nil
}

func (c *MinioClient) CopyObject(ctx context.Context, req CopyRequest) error {
	_, err := c.core.Client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: req.Bucket, Object: req.Destination},
		minio.CopySrcOptions{Bucket: req.Bucket, Object: req.Source},
	)
	return translate(err)
}

func (c *MinioClient) DeleteObject(ctx context.Context, req ObjectRequest) error {
	return translate(c.core.RemoveObject(ctx, req.Bucket, req.Key, minio.RemoveObjectOptions{}))
}

func (c *MinioClient) CreateMultipartUpload(ctx context.Context, req ObjectRequest) (string, error) {
	uploadID, err := c.core.NewMultipartUpload(ctx, req.Bucket, req.Key, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return uploadID, translate(err)
}

func (c *MinioClient) UploadPart(ctx context.Context, req PartRequest) (Part, error) {
	part, err := c.core.PutObjectPart(ctx, req.Bucket, req.Key, req.UploadID, req.PartNumber, req.Body, req.Size, minio.PutObjectPartOptions{})
	if err != nil {
		return Part{}, translate(err)
	}
	return Part{Number: req.PartNumber, ETag: part.ETag}, nil
}

func (c *MinioClient) CompleteMultipartUpload(ctx context.Context, req CompleteRequest) error {
	parts := make([]minio.CompletePart, 0, len(req.Parts))
	for _, p := range req.Parts {
		parts = append(parts, minio.CompletePart{PartNumber: p.Number, ETag: p.ETag})
	}
	_, err := c.core.CompleteMultipartUpload(ctx, req.Bucket, req.Key, req.UploadID, parts, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return translate(err)
}

func (c *MinioClient) AbortMultipartUpload(ctx context.Context, req UploadRequest) error {
	return translate(c.core.AbortMultipartUpload(ctx, req.Bucket, req.Key, req.UploadID))
}
