package gateway

import (
	"context"
	"database/sql"
	"encoding/xml"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"asto/pkg/storage"
)

// ------ Dispatchers for bucket-level HTTP handlers ------

// handleBucketPut dispatches PUT /bucket[?subresource].
func (s *Server) handleBucketPut(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "PutBucketTagging")
	case q.Has("versioning"):
		s.writeNotImplemented(w, r, "PutBucketVersioning")
	case q.Has("policy"):
		s.writeNotImplemented(w, r, "PutBucketPolicy")
	default:
		s.handleCreateBucket(ctx, w, r, bucket)
	}
}

// handleBucketPost implements POST /bucket[?subresource], such as DeleteObjects.
func (s *Server) handleBucketPost(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("delete"):
		s.handleDeleteObjects(ctx, w, r, bucket)
	default:
		s.writeNotImplemented(w, r, "BucketPost")
	}
}

// handleBucketGet dispatches GET /bucket[?subresource] between the listing
// APIs and GetBucketLocation.
func (s *Server) handleBucketGet(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("location"):
		s.handleGetBucketLocation(ctx, w, r, bucket)
	case q.Has("versions"):
		s.writeNotImplemented(w, r, "ListObjectVersions")
	case q.Has("uploads"):
		s.handleListMultipartUploads(ctx, w, r, bucket)
	case q.Get("list-type") == "2":
		s.handleListObjectsV2(ctx, w, r, bucket)
	default:
		s.handleListObjects(ctx, w, r, bucket)
	}
}

// handleBucketDelete implements DELETE /bucket[?subresource].
func (s *Server) handleBucketDelete(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "DeleteBucketTagging")
	case q.Has("policy"):
		s.writeNotImplemented(w, r, "DeleteBucketPolicy")
	default:
		s.handleDeleteBucket(ctx, w, r, bucket)
	}
}

// handleBucketHead implements HEAD /bucket.
func (s *Server) handleBucketHead(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ------ Bucket API handlers ------

func (s *Server) handleListBuckets(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	rows, err := s.Db.QueryContext(ctx, `SELECT name, created_at FROM buckets ORDER BY name`)
	if err != nil {
		slog.Error("List buckets", "err", err)
		writeInternalError(w, r)
		return
	}
	defer rows.Close()

	buckets := make([]BucketEntry, 0)
	for rows.Next() {
		var (
			name      string
			createdAt time.Time
		)
		if err := rows.Scan(&name, &createdAt); err != nil {
			slog.Error("Scan bucket", "err", err)
			continue
		}
		buckets = append(buckets, BucketEntry{
			Name:         name,
			CreationDate: createdAt.UTC().Format(time.RFC3339),
		})
	}
	if err := rows.Err(); err != nil {
		slog.Error("List buckets", "err", err)
		writeInternalError(w, r)
		return
	}

	owner := s.owner(ctx)
	resp := ListAllMyBucketsResult{
		XMLNS:   S3XMLNamespace,
		Owner:   owner,
		Buckets: buckets,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list buckets XML", "err", err)
	}
}

// owner reports the authenticated user as the owner of every resource.
func (s *Server) owner(ctx context.Context) Owner {
	owner := Owner{ID: "asto", DisplayName: "asto"}
	if user := currentUser(ctx); user != nil {
		owner.ID = user.AccessKeyID
		owner.DisplayName = user.AccessKeyID
	}
	return owner
}

// handleCreateBucket implements PUT /bucket to create a new bucket.
func (s *Server) handleCreateBucket(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {

	if created, err := s.ensureBucket(ctx, bucket); err != nil {
		slog.Error("Create bucket", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	} else if !created {
		writeS3Error(w, "BucketAlreadyOwnedByYou", "Your previous request to create the named bucket succeeded and you already own it.", r.URL.Path, http.StatusConflict)
		return
	}

	slog.Info("Created bucket", "bucket", bucket)
	w.Header().Set("Location", "/"+bucket)
	w.WriteHeader(http.StatusOK)
}

// handleGetBucketLocation implements GET /bucket?location
func (s *Server) handleGetBucketLocation(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	resp := LocationConstraint{
		XMLNS:  S3XMLNamespace,
		Region: s.Config.Region,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode bucket location XML", "bucket", bucket, "err", err)
	}
}

// handleDeleteBucket removes an empty bucket together with any multipart
// uploads still in progress for it.
func (s *Server) handleDeleteBucket(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	keys, err := s.Config.Storage.List(ctx, storage.NewKey(bucket).Dir())
	if err != nil {
		writeStorageError(w, r, "Delete bucket list", err)
		return
	}
	if len(keys) > 0 {
		writeS3Error(w, "BucketNotEmpty", "The bucket you tried to delete is not empty.", r.URL.Path, http.StatusConflict)
		return
	}

	var uploads []string
	err = withTransaction(ctx, s.Db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM uploads WHERE bucket = ?`, bucket)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			uploads = append(uploads, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		// Foreign-key cascade removes objects, uploads and parts.
		_, err = tx.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, bucket)
		return err
	})
	if err != nil {
		slog.Error("Delete bucket metadata", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	}

	for _, id := range uploads {
		if err := os.RemoveAll(s.uploadDir(id)); err != nil {
			slog.Warn("Failed to remove upload directory", "upload_id", id, "err", err)
		}
	}

	slog.Info("Deleted bucket", "bucket", bucket)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteObjects implements POST /bucket?delete. Missing keys count as
// deleted.
func (s *Server) handleDeleteObjects(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	defer r.Body.Close()
	var req DeleteObjectsRequest
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Debug("Decode DeleteObjects XML", "bucket", bucket, "err", err)
		writeS3Error(w, "MalformedXML", "The XML you provided was not well-formed or did not validate against our published schema.", r.URL.Path, http.StatusBadRequest)
		return
	}

	if len(req.Objects) == 0 {
		writeS3Error(w, "InvalidRequest", "You must specify at least one object to delete.", r.URL.Path, http.StatusBadRequest)
		return
	}

	resp := DeleteResult{XMLNS: S3XMLNamespace}
	for _, obj := range req.Objects {
		if !isValidObjectKey(obj.Key) {
			resp.Errors = append(resp.Errors, DeleteError{Key: obj.Key, Code: "InvalidObjectName", Message: "The specified key is not valid."})
			continue
		}

		if err := s.deleteObject(ctx, bucket, obj.Key); err != nil {
			slog.Error("DeleteObjects delete", "bucket", bucket, "key", obj.Key, "err", err)
			resp.Errors = append(resp.Errors, DeleteError{Key: obj.Key, Code: "InternalError", Message: err.Error()})
			continue
		}

		if !req.Quiet {
			resp.Deleted = append(resp.Deleted, obj)
		}
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode DeleteObjects XML", "bucket", bucket, "err", err)
	}
}

// ------ Listing ------

// listObjects returns the objects of bucket whose key starts with prefix,
// sorted by key. Only the deepest directory covering prefix is listed.
func (s *Server) listObjects(ctx context.Context, bucket string, prefix string) ([]ObjectSummary, error) {
	scope := bucket + storage.Separator
	if idx := strings.LastIndex(prefix, storage.Separator); idx != -1 {
		scope += prefix[:idx+1]
	}

	keys, err := s.Config.Storage.List(ctx, storage.ParseKey(scope))
	if err != nil {
		return nil, err
	}

	meta, err := s.bucketMetadata(ctx, bucket)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	objects := make([]ObjectSummary, 0, len(keys))
	for _, k := range keys {
		key, ok := strings.CutPrefix(k.String(), bucket+storage.Separator)
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}

		summary := ObjectSummary{
			Key:          key,
			LastModified: now.Format(time.RFC3339),
			StorageClass: "STANDARD",
		}
		if m, ok := meta[key]; ok {
			summary.ETag = createETag(m.ETag)
			summary.Size = m.Size
			summary.LastModified = m.ModifiedAt.UTC().Format(time.RFC3339)
		}
		objects = append(objects, summary)
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Key < objects[j].Key
	})
	return objects, nil
}

// bucketMetadata loads the metadata rows of every object in bucket.
func (s *Server) bucketMetadata(ctx context.Context, bucket string) (map[string]objectMeta, error) {
	rows, err := s.Db.QueryContext(ctx, `SELECT key, etag, size, modified_at FROM objects WHERE bucket = ?`, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := make(map[string]objectMeta)
	for rows.Next() {
		var (
			key string
			m   objectMeta
		)
		if err := rows.Scan(&key, &m.ETag, &m.Size, &m.ModifiedAt); err != nil {
			return nil, err
		}
		meta[key] = m
	}
	return meta, rows.Err()
}

// page is one page of a listing.
type page struct {
	Contents       []ObjectSummary
	CommonPrefixes []CommonPrefix
	IsTruncated    bool
	// Last is the last key or common prefix returned.
	Last  string
	Count int
}

// paginate groups objects by delimiter and cuts the listing after maxKeys
// entries, skipping everything up to and including after.
func paginate(objects []ObjectSummary, prefix string, delimiter string, after string, maxKeys int) page {
	var (
		p    page
		seen = make(map[string]struct{})
	)

	for _, obj := range objects {
		if after != "" && obj.Key <= after {
			continue
		}

		if delimiter != "" {
			rel := strings.TrimPrefix(obj.Key, prefix)
			if idx := strings.Index(rel, delimiter); idx != -1 {
				cp := prefix + rel[:idx+len(delimiter)]
				if _, ok := seen[cp]; ok || (after != "" && cp <= after) {
					continue
				}
				if p.Count == maxKeys {
					p.IsTruncated = true
					break
				}
				seen[cp] = struct{}{}
				p.CommonPrefixes = append(p.CommonPrefixes, CommonPrefix{Prefix: cp})
				p.Count++
				p.Last = cp
				continue
			}
		}

		if p.Count == maxKeys {
			p.IsTruncated = true
			break
		}
		p.Contents = append(p.Contents, obj)
		p.Count++
		p.Last = obj.Key
	}

	return p
}

func parseMaxKeys(raw string) int {
	maxKeys := 1000
	if v, err := strconv.Atoi(raw); err == nil && v > 0 && v < maxKeys {
		maxKeys = v
	}
	return maxKeys
}

// handleListObjects implements the original ListObjects API with markers.
func (s *Server) handleListObjects(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	q := r.URL.Query()
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	marker := q.Get("marker")
	maxKeys := parseMaxKeys(q.Get("max-keys"))

	objects, err := s.listObjects(ctx, bucket, prefix)
	if err != nil {
		writeStorageError(w, r, "List objects", err)
		return
	}

	p := paginate(objects, prefix, delimiter, marker, maxKeys)
	resp := ListBucketResult{
		XMLNS:          S3XMLNamespace,
		Name:           bucket,
		Prefix:         prefix,
		Marker:         marker,
		Delimiter:      delimiter,
		MaxKeys:        maxKeys,
		IsTruncated:    p.IsTruncated,
		Contents:       p.Contents,
		CommonPrefixes: p.CommonPrefixes,
	}
	if p.IsTruncated {
		resp.NextMarker = p.Last
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list objects XML", "bucket", bucket, "err", err)
	}
}

// handleListObjectsV2 implements ListObjectsV2. The continuation token is
// the last key or common prefix of the previous page.
func (s *Server) handleListObjectsV2(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	q := r.URL.Query()
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	continuationToken := q.Get("continuation-token")
	startAfter := q.Get("start-after")
	maxKeys := parseMaxKeys(q.Get("max-keys"))

	after := startAfter
	if continuationToken != "" {
		after = continuationToken
	}

	objects, err := s.listObjects(ctx, bucket, prefix)
	if err != nil {
		writeStorageError(w, r, "List objects v2", err)
		return
	}

	p := paginate(objects, prefix, delimiter, after, maxKeys)
	resp := ListBucketResultV2{
		XMLNS:             S3XMLNamespace,
		Name:              bucket,
		Prefix:            prefix,
		Delimiter:         delimiter,
		KeyCount:          p.Count,
		MaxKeys:           maxKeys,
		IsTruncated:       p.IsTruncated,
		ContinuationToken: continuationToken,
		StartAfter:        startAfter,
		Contents:          p.Contents,
		CommonPrefixes:    p.CommonPrefixes,
	}
	if p.IsTruncated {
		resp.NextContinuationToken = p.Last
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list objects v2 XML", "bucket", bucket, "err", err)
	}
}

// uploadDir is where the parts of a multipart upload are kept.
func (s *Server) uploadDir(uploadID string) string {
	return filepath.Join(s.Config.DataDir, "uploads", uploadID)
}
