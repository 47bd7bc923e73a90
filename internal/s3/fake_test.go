package s3_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"asto/internal/s3"
)

// fakeClient is an in-memory s3.Client that counts calls and can be told to
// fail specific operations.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads map[string]map[int][]byte
	nextID  int

	heads, puts, gets, copies, deletes atomic.Int32
	creates, parts, completes, aborts  atomic.Int32

	headErr error
	// partErr fails every part, or only part failPart when it is set.
	partErr     error
	failPart    int
	completeErr error
	abortErr    error
	deleteErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		objects: make(map[string][]byte),
		uploads: make(map[string]map[int][]byte),
	}
}

func (f *fakeClient) object(bucket, key string) string {
	return bucket + "/" + key
}

func (f *fakeClient) HeadObject(_ context.Context, req s3.ObjectRequest) (s3.ObjectInfo, error) {
	f.heads.Add(1)
	if f.headErr != nil {
		return s3.ObjectInfo{}, f.headErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[f.object(req.Bucket, req.Key)]
	if !ok {
		return s3.ObjectInfo{}, s3.ErrNoSuchKey
	}
	return s3.ObjectInfo{Key: req.Key, Size: int64(len(data))}, nil
}

func (f *fakeClient) ListObjects(_ context.Context, req s3.ListRequest) ([]s3.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []s3.ObjectInfo
	for name, data := range f.objects {
		key, ok := strings.CutPrefix(name, req.Bucket+"/")
		if ok && strings.HasPrefix(key, req.Prefix) {
			out = append(out, s3.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (f *fakeClient) PutObject(_ context.Context, req s3.PutRequest) error {
	f.puts.Add(1)
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	if int64(len(data)) != req.Size {
		return fmt.Errorf("declared %d bytes, got %d", req.Size, len(data))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[f.object(req.Bucket, req.Key)] = data
	return nil
}

func (f *fakeClient) GetObject(_ context.Context, req s3.ObjectRequest) (*s3.GetResponse, error) {
	f.gets.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[f.object(req.Bucket, req.Key)]
	if !ok {
		return nil, s3.ErrNoSuchKey
	}
	return &s3.GetResponse{Body: io.NopCloser(strings.NewReader(string(data))), ContentLength: int64(len(data))}, nil
}

func (f *fakeClient) CopyObject(_ context.Context, req s3.CopyRequest) error {
	f.copies.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[f.object(req.Bucket, req.Source)]
	if !ok {
		return s3.ErrNoSuchKey
	}
	f.objects[f.object(req.Bucket, req.Destination)] = data
	return nil
}

func (f *fakeClient) DeleteObject(_ context.Context, req s3.ObjectRequest) error {
	f.deletes.Add(1)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, f.object(req.Bucket, req.Key))
	return nil
}

func (f *fakeClient) CreateMultipartUpload(_ context.Context, req s3.ObjectRequest) (string, error) {
	f.creates.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = make(map[int][]byte)
	return id, nil
}

func (f *fakeClient) UploadPart(_ context.Context, req s3.PartRequest) (s3.Part, error) {
	f.parts.Add(1)
	if f.partErr != nil && (f.failPart == 0 || f.failPart == req.PartNumber) {
		return s3.Part{}, f.partErr
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return s3.Part{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	upload, ok := f.uploads[req.UploadID]
	if !ok {
		return s3.Part{}, fmt.Errorf("no such upload %q", req.UploadID)
	}
	upload[req.PartNumber] = data
	return s3.Part{Number: req.PartNumber, ETag: fmt.Sprintf("etag-%d", req.PartNumber)}, nil
}

func (f *fakeClient) CompleteMultipartUpload(_ context.Context, req s3.CompleteRequest) error {
	f.completes.Add(1)
	if f.completeErr != nil {
		return f.completeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var data []byte
	for i, part := range req.Parts {
		if part.Number != i+1 {
			return fmt.Errorf("part %d out of order at %d", part.Number, i)
		}
		data = append(data, f.uploads[req.UploadID][part.Number]...)
	}
	f.objects[f.object(req.Bucket, req.Key)] = data
	delete(f.uploads, req.UploadID)
	return nil
}

func (f *fakeClient) AbortMultipartUpload(_ context.Context, req s3.UploadRequest) error {
	f.aborts.Add(1)
	if f.abortErr != nil {
		return f.abortErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, req.UploadID)
	return nil
}

func (f *fakeClient) has(bucket, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[f.object(bucket, key)]
	return ok
}
