package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"asto/pkg/storage"
)

// ------ Dispatchers for object-level HTTP handlers ------

// handleObjectPost implements POST /bucket/key[?subresource] for the
// multipart create and complete calls.
func (s *Server) handleObjectPost(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("uploads"):
		s.handleCreateMultipartUpload(ctx, w, r, bucket, key)
	case q.Has("uploadId"):
		s.handleCompleteMultipartUpload(ctx, w, r, bucket, key, q.Get("uploadId"))
	case q.Has("restore"):
		s.writeNotImplemented(w, r, "RestoreObject")
	case q.Has("select"):
		s.writeNotImplemented(w, r, "SelectObjectContent")
	default:
		s.writeNotImplemented(w, r, "ObjectPost")
	}
}

// handleObjectGet implements GET /bucket/key to retrieve an object.
func (s *Server) handleObjectGet(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "GetObjectTagging")
	case q.Has("attributes"):
		s.writeNotImplemented(w, r, "GetObjectAttributes")
	case q.Has("uploadId"):
		s.handleListParts(ctx, w, r, bucket, key, q.Get("uploadId"))
	default:
		s.handleGetObject(ctx, w, r, bucket, key, true)
	}
}

// handleObjectHead implements HEAD /bucket/key, returning metadata headers
// compatible with S3 but without a response body.
func (s *Server) handleObjectHead(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	s.handleGetObject(ctx, w, r, bucket, key, false)
}

// handleObjectDelete implements DELETE /bucket/key to delete an object.
func (s *Server) handleObjectDelete(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "DeleteObjectTagging")
	case q.Has("uploadId"):
		s.handleAbortMultipartUpload(ctx, w, r, bucket, key, q.Get("uploadId"))
	default:
		s.handleDeleteObject(ctx, w, r, bucket, key)
	}
}

// handleObjectPut implements PUT /bucket/key to store an object.
func (s *Server) handleObjectPut(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	q := r.URL.Query()

	if uploadID := q.Get("uploadId"); uploadID != "" {
		if r.Header.Get("x-amz-copy-source") != "" {
			s.writeNotImplemented(w, r, "UploadPartCopy")
			return
		}

		partNum, err := strconv.Atoi(q.Get("partNumber"))
		if err != nil || partNum < 1 || partNum > maxPartNumber {
			writeS3Error(w, "InvalidArgument", "Part number must be an integer between 1 and 10000, inclusive.", r.URL.Path, http.StatusBadRequest)
			return
		}

		s.handleUploadPart(ctx, w, r, bucket, key, uploadID, partNum)
		return
	}

	if q.Has("tagging") {
		s.writeNotImplemented(w, r, "PutObjectTagging")
		return
	}

	if copySource := r.Header.Get("x-amz-copy-source"); copySource != "" {
		s.handleCopyObject(ctx, w, r, bucket, key, copySource)
		return
	}

	s.handlePutObject(ctx, w, r, bucket, key)
}

// ------ Individual API HTTP handlers ------

func (s *Server) handlePutObject(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	defer r.Body.Close()

	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	content, err := requestContent(r)
	if err != nil {
		writeS3Error(w, "InvalidRequest", err.Error(), r.URL.Path, http.StatusBadRequest)
		return
	}

	meta, err := s.storeObject(ctx, bucket, key, content, r.Header.Get("Content-Type"), "")
	if err != nil {
		writeBodyError(w, r, "Put object", err)
		return
	}

	w.Header().Set("ETag", createETag(meta.ETag))
	w.WriteHeader(http.StatusOK)
}

// writeBodyError reports a failed write, blaming the client when its body
// could not be read.
func writeBodyError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, errMalformedChunk) || errors.Is(err, io.ErrUnexpectedEOF) {
		slog.Debug(op, "path", r.URL.Path, "err", err)
		writeS3Error(w, "IncompleteBody", "You did not provide the number of bytes specified by the Content-Length HTTP header.", r.URL.Path, http.StatusBadRequest)
		return
	}
	writeStorageError(w, r, op, err)
}

// handleGetObject serves GET and HEAD. Objects stored without going through
// the gateway have no metadata row; they are served with the storage's size
// and the current time.
func (s *Server) handleGetObject(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string, withBody bool) {
	meta, found, err := s.lookupObjectMetadata(ctx, bucket, key)
	if err != nil {
		slog.Error("Lookup object metadata", "bucket", bucket, "key", key, "err", err)
		writeInternalError(w, r)
		return
	}

	content, err := s.Config.Storage.Value(ctx, objectKey(bucket, key))
	if err != nil {
		writeStorageError(w, r, "Get object", err)
		return
	}
	defer content.Close()

	size, known := content.Size()
	if !found {
		meta = objectMeta{
			Size:        size,
			ContentType: "application/octet-stream",
			ModifiedAt:  time.Now().UTC(),
		}
	}

	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if known {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.Header().Set("Last-Modified", meta.ModifiedAt.UTC().Format(http.TimeFormat))
	if meta.ETag != "" {
		w.Header().Set("ETag", createETag(meta.ETag))
	}
	w.Header().Set("Accept-Ranges", "bytes")

	w.WriteHeader(http.StatusOK)
	if !withBody {
		return
	}

	body, err := content.Reader()
	if err != nil {
		slog.Error("Claim object stream", "bucket", bucket, "key", key, "err", err)
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		slog.Error("Stream object", "bucket", bucket, "key", key, "err", err)
	}
}

func (s *Server) handleDeleteObject(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	if err := s.deleteObject(ctx, bucket, key); err != nil {
		writeStorageError(w, r, "Delete object", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// deleteObject removes the payload and metadata of an object. Deleting a
// missing object succeeds, as in S3.
func (s *Server) deleteObject(ctx context.Context, bucket string, key string) error {
	if err := s.Config.Storage.Delete(ctx, objectKey(bucket, key)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return s.deleteObjectMetadata(ctx, bucket, key)
}

// parseCopySource splits x-amz-copy-source, typically "/bucket/key" or
// "bucket/key", possibly URL-encoded and with a version query.
func parseCopySource(copySource string) (string, string, bool) {
	src := copySource
	if i := strings.Index(src, "?"); i != -1 {
		src = src[:i]
	}
	src = strings.TrimPrefix(src, "/")
	decoded, err := url.PathUnescape(src)
	if err != nil {
		return "", "", false
	}

	bucket, key, ok := strings.Cut(decoded, "/")
	if !ok || !isValidBucketName(bucket) || !isValidObjectKey(key) {
		return "", "", false
	}
	return bucket, key, true
}

// handleCopyObject implements CopyObject without conditional headers. The
// payload is streamed from the source key into the destination.
func (s *Server) handleCopyObject(ctx context.Context, w http.ResponseWriter, r *http.Request, destBucket string, destKey string, copySource string) {
	srcBucket, srcKey, ok := parseCopySource(copySource)
	if !ok {
		writeS3Error(w, "InvalidArgument", "Invalid copy source.", r.URL.Path, http.StatusBadRequest)
		return
	}

	if !s.requireBucket(ctx, w, r, destBucket) {
		return
	}
	if !s.requireBucket(ctx, w, r, srcBucket) {
		return
	}

	srcMeta, found, err := s.lookupObjectMetadata(ctx, srcBucket, srcKey)
	if err != nil {
		slog.Error("Lookup source object for copy", "bucket", srcBucket, "key", srcKey, "err", err)
		writeInternalError(w, r)
		return
	}

	content, err := s.Config.Storage.Value(ctx, objectKey(srcBucket, srcKey))
	if err != nil {
		writeStorageError(w, r, "Copy object source", err)
		return
	}

	contentType := r.Header.Get("Content-Type")
	etag := ""
	if found {
		if r.Header.Get("x-amz-metadata-directive") != "REPLACE" {
			contentType = srcMeta.ContentType
		}
		etag = srcMeta.ETag
	}

	meta, err := s.storeObject(ctx, destBucket, destKey, content, contentType, etag)
	if err != nil {
		writeStorageError(w, r, "Copy object", err)
		return
	}

	resp := CopyObjectResult{
		XMLNS:        S3XMLNamespace,
		LastModified: meta.ModifiedAt.Format(time.RFC3339),
		ETag:         createETag(meta.ETag),
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode copy object XML", "bucket", destBucket, "key", destKey, "err", err)
	}
}
