package s3

import (
	"context"
	"io"

	"asto/pkg/storage"
)

// Bucket binds a Client to one remote bucket and translates keys into
// object names.
type Bucket struct {
	client Client
	name   string
}

// NewBucket returns a Bucket named name served by client.
func NewBucket(client Client, name string) *Bucket {
	return &Bucket{client: client, name: name}
}

// Name returns the remote bucket name.
func (b *Bucket) Name() string {
	return b.name
}

func (b *Bucket) object(key storage.Key) ObjectRequest {
	return ObjectRequest{Bucket: b.name, Key: key.String()}
}

func (b *Bucket) Head(ctx context.Context, key storage.Key) (ObjectInfo, error) {
	return b.client.HeadObject(ctx, b.object(key))
}

// List returns the keys of every object under prefix.
func (b *Bucket) List(ctx context.Context, prefix storage.Key) ([]storage.Key, error) {
	objects, err := b.client.ListObjects(ctx, ListRequest{Bucket: b.name, Prefix: prefix.String()})
	if err != nil {
		return nil, err
	}
	keys := make([]storage.Key, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, storage.NewKey(obj.Key))
	}
	return keys, nil
}

func (b *Bucket) Put(ctx context.Context, key storage.Key, body io.Reader, size int64) error {
	return b.client.PutObject(ctx, PutRequest{Bucket: b.name, Key: key.String(), Body: body, Size: size})
}

func (b *Bucket) Get(ctx context.Context, key storage.Key) (*GetResponse, error) {
	return b.client.GetObject(ctx, b.object(key))
}

func (b *Bucket) Copy(ctx context.Context, source storage.Key, destination storage.Key) error {
	return b.client.CopyObject(ctx, CopyRequest{Bucket: b.name, Source: source.String(), Destination: destination.String()})
}

func (b *Bucket) Delete(ctx context.Context, key storage.Key) error {
	return b.client.DeleteObject(ctx, b.object(key))
}

// StartUpload opens a multipart upload for key.
func (b *Bucket) StartUpload(ctx context.Context, key storage.Key) (*MultipartUpload, error) {
	id, err := b.client.CreateMultipartUpload(ctx, b.object(key))
	if err != nil {
		return nil, err
	}
	return &MultipartUpload{bucket: b, key: key, id: id}, nil
}
