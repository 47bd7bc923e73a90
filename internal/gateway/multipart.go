package gateway

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"asto/pkg/storage"

	"github.com/google/uuid"
)

const maxPartNumber = 10000

// upload is an in-progress multipart upload row.
type upload struct {
	ID          string
	Bucket      string
	Key         string
	ContentType string
	CreatedAt   time.Time
}

// partRecord is an uploaded part row.
type partRecord struct {
	Number     int
	ETag       string
	Size       int64
	ModifiedAt time.Time
}

func partPath(dir string, number int) string {
	return filepath.Join(dir, fmt.Sprintf("part-%06d", number))
}

func (s *Server) lookupUpload(ctx context.Context, uploadID string) (upload, bool, error) {
	var (
		u           upload
		contentType sql.NullString
	)
	err := s.Db.QueryRowContext(ctx,
		`SELECT id, bucket, key, content_type, created_at FROM uploads WHERE id = ?`,
		uploadID,
	).Scan(&u.ID, &u.Bucket, &u.Key, &contentType, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return upload{}, false, nil
	}
	if err != nil {
		return upload{}, false, err
	}
	u.ContentType = contentType.String
	return u, true, nil
}

// requireUpload writes the matching error and returns false unless uploadID
// names an upload for bucket/key.
func (s *Server) requireUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string, uploadID string) (upload, bool) {
	if !s.requireBucket(ctx, w, r, bucket) {
		return upload{}, false
	}

	u, found, err := s.lookupUpload(ctx, uploadID)
	if err != nil {
		slog.Error("Lookup multipart upload", "upload_id", uploadID, "err", err)
		writeInternalError(w, r)
		return upload{}, false
	}
	if !found || u.Bucket != bucket || u.Key != key {
		writeNoSuchUploadError(w, r)
		return upload{}, false
	}
	return u, true
}

// listPartRecords returns the parts of an upload ordered by number, starting
// after marker. A non-positive limit returns all of them.
func (s *Server) listPartRecords(ctx context.Context, uploadID string, marker int, limit int) ([]partRecord, error) {
	query := `SELECT number, etag, size, modified_at FROM parts WHERE upload_id = ? AND number > ? ORDER BY number`
	args := []any{uploadID, marker}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.Db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []partRecord
	for rows.Next() {
		var p partRecord
		if err := rows.Scan(&p.Number, &p.ETag, &p.Size, &p.ModifiedAt); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// removeUpload forgets an upload and deletes its parts.
func (s *Server) removeUpload(ctx context.Context, uploadID string) error {
	if _, err := s.Db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, uploadID); err != nil {
		return err
	}
	return os.RemoveAll(s.uploadDir(uploadID))
}

// ------ Multipart upload handlers ------

func (s *Server) handleCreateMultipartUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	uploadID := uuid.NewString()
	dir := s.uploadDir(uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("Create multipart upload dir", "path", dir, "err", err)
		writeInternalError(w, r)
		return
	}

	_, err := s.Db.ExecContext(ctx,
		`INSERT INTO uploads(id, bucket, key, content_type, created_at) VALUES(?, ?, ?, ?, ?)`,
		uploadID, bucket, key, r.Header.Get("Content-Type"), time.Now().UTC(),
	)
	if err != nil {
		slog.Error("Record multipart upload", "bucket", bucket, "key", key, "err", err)
		_ = os.RemoveAll(dir)
		writeInternalError(w, r)
		return
	}

	slog.Debug("Created multipart upload", "bucket", bucket, "key", key, "upload_id", uploadID)

	resp := InitiateMultipartUploadResult{
		XMLNS:    S3XMLNamespace,
		Bucket:   bucket,
		Key:      key,
		UploadID: uploadID,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode create multipart upload XML", "bucket", bucket, "key", key, "err", err)
	}
}

// handleUploadPart implements UploadPart: PUT /bucket/key?partNumber=N&uploadId=ID.
// Uploading the same part number again replaces it.
func (s *Server) handleUploadPart(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string, uploadID string, partNumber int) {
	defer r.Body.Close()

	if _, ok := s.requireUpload(ctx, w, r, bucket, key, uploadID); !ok {
		return
	}

	content, err := requestContent(r)
	if err != nil {
		writeS3Error(w, "InvalidRequest", err.Error(), r.URL.Path, http.StatusBadRequest)
		return
	}

	dir := s.uploadDir(uploadID)
	etag, size, err := writePart(dir, partNumber, content)
	if err != nil {
		writeBodyError(w, r, "Upload part", err)
		return
	}

	_, err = s.Db.ExecContext(ctx,
		`INSERT INTO parts(upload_id, number, etag, size, modified_at) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(upload_id, number) DO UPDATE SET
		 	etag=excluded.etag,
		 	size=excluded.size,
		 	modified_at=excluded.modified_at`,
		uploadID, partNumber, etag, size, time.Now().UTC(),
	)
	if err != nil {
		slog.Error("Record upload part", "upload_id", uploadID, "part", partNumber, "err", err)
		writeInternalError(w, r)
		return
	}

	w.Header().Set("ETag", createETag(etag))
	w.WriteHeader(http.StatusOK)
}

// writePart stores content as part number in dir and returns its MD5 and
// size. The part file is replaced only once it has been fully written.
func writePart(dir string, number int, content *storage.Content) (string, int64, error) {
	body, err := content.Reader()
	if err != nil {
		return "", 0, err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(dir, "part-*.tmp")
	if err != nil {
		return "", 0, err
	}
	defer func() {
		// Best-effort cleanup; after the rename this fails with ENOENT.
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			slog.Debug("Failed to remove temp part file", "path", tmp.Name(), "err", err)
		}
	}()

	h := md5.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", 0, err
	}

	if declared, ok := content.Size(); ok && declared != size {
		return "", 0, fmt.Errorf("part has %d bytes, declared %d: %w", size, declared, io.ErrUnexpectedEOF)
	}

	if err := os.Rename(tmp.Name(), partPath(dir, number)); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// handleCompleteMultipartUpload implements CompleteMultipartUpload:
// POST /bucket/key?uploadId=ID. The listed parts are concatenated in order
// into the final object.
func (s *Server) handleCompleteMultipartUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string, uploadID string) {
	defer r.Body.Close()

	u, ok := s.requireUpload(ctx, w, r, bucket, key, uploadID)
	if !ok {
		return
	}

	var req CompleteMultipartUpload
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Parts) == 0 {
		slog.Debug("Decode CompleteMultipartUpload XML", "upload_id", uploadID, "err", err)
		writeS3Error(w, "MalformedXML", "The XML you provided was not well-formed or did not validate against our published schema.", r.URL.Path, http.StatusBadRequest)
		return
	}

	records, err := s.listPartRecords(ctx, uploadID, 0, 0)
	if err != nil {
		slog.Error("List upload parts", "upload_id", uploadID, "err", err)
		writeInternalError(w, r)
		return
	}
	known := make(map[int]partRecord, len(records))
	for _, p := range records {
		known[p.Number] = p
	}

	var (
		total int64
		sums  []byte
		paths = make([]string, 0, len(req.Parts))
	)
	for i, p := range req.Parts {
		if i > 0 && p.PartNumber <= req.Parts[i-1].PartNumber {
			writeS3Error(w, "InvalidPartOrder", "The list of parts was not in ascending order.", r.URL.Path, http.StatusBadRequest)
			return
		}
		record, ok := known[p.PartNumber]
		if !ok || trimETag(p.ETag) != record.ETag {
			writeS3Error(w, "InvalidPart", "One or more of the specified parts could not be found.", r.URL.Path, http.StatusBadRequest)
			return
		}
		sum, err := hex.DecodeString(record.ETag)
		if err != nil {
			slog.Error("Decode part ETag", "upload_id", uploadID, "part", p.PartNumber, "err", err)
			writeInternalError(w, r)
			return
		}
		sums = append(sums, sum...)
		total += record.Size
		paths = append(paths, partPath(s.uploadDir(uploadID), p.PartNumber))
	}

	body, err := openParts(paths)
	if err != nil {
		slog.Error("Open upload parts", "upload_id", uploadID, "err", err)
		writeS3Error(w, "InvalidPart", "One or more of the specified parts could not be found.", r.URL.Path, http.StatusBadRequest)
		return
	}

	digest := md5.Sum(sums)
	etag := hex.EncodeToString(digest[:]) + "-" + strconv.Itoa(len(req.Parts))

	meta, err := s.storeObject(ctx, bucket, key, storage.NewContent(body, total), u.ContentType, etag)
	if err != nil {
		writeStorageError(w, r, "Complete multipart upload", err)
		return
	}

	if err := s.removeUpload(ctx, uploadID); err != nil {
		slog.Warn("Failed to remove completed upload", "upload_id", uploadID, "err", err)
	}

	slog.Debug("Completed multipart upload", "bucket", bucket, "key", key, "upload_id", uploadID, "parts", len(req.Parts), "size", meta.Size)

	resp := CompleteMultipartUploadResult{
		XMLNS:    S3XMLNamespace,
		Location: "/" + bucket + "/" + key,
		Bucket:   bucket,
		Key:      key,
		ETag:     createETag(meta.ETag),
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode complete multipart upload XML", "bucket", bucket, "key", key, "err", err)
	}
}

// multiFile reads a sequence of files as one stream.
type multiFile struct {
	io.Reader
	files []*os.File
}

func openParts(paths []string) (*multiFile, error) {
	m := &multiFile{}
	readers := make([]io.Reader, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m.files = append(m.files, f)
		readers = append(readers, f)
	}
	m.Reader = io.MultiReader(readers...)
	return m, nil
}

func (m *multiFile) Close() error {
	var errs []error
	for _, f := range m.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

// handleAbortMultipartUpload implements AbortMultipartUpload:
// DELETE /bucket/key?uploadId=ID
func (s *Server) handleAbortMultipartUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string, uploadID string) {
	if _, ok := s.requireUpload(ctx, w, r, bucket, key, uploadID); !ok {
		return
	}

	if err := s.removeUpload(ctx, uploadID); err != nil {
		slog.Error("Abort multipart upload", "upload_id", uploadID, "err", err)
		writeInternalError(w, r)
		return
	}

	slog.Debug("Aborted multipart upload", "bucket", bucket, "key", key, "upload_id", uploadID)
	w.WriteHeader(http.StatusNoContent)
}

// handleListParts implements the ListParts API:
// GET /bucket/key?uploadId=ID[&part-number-marker=N][&max-parts=M]
func (s *Server) handleListParts(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string, uploadID string) {
	if _, ok := s.requireUpload(ctx, w, r, bucket, key, uploadID); !ok {
		return
	}

	q := r.URL.Query()
	partNumberMarker := 0
	if raw := q.Get("part-number-marker"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeS3Error(w, "InvalidArgument", "Invalid part-number-marker.", r.URL.Path, http.StatusBadRequest)
			return
		}
		partNumberMarker = v
	}

	maxParts := 1000
	if raw := q.Get("max-parts"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v < maxParts {
			maxParts = v
		}
	}

	// Fetch one extra record to learn whether the listing is truncated.
	records, err := s.listPartRecords(ctx, uploadID, partNumberMarker, maxParts+1)
	if err != nil {
		slog.Error("List parts", "upload_id", uploadID, "err", err)
		writeInternalError(w, r)
		return
	}

	isTruncated := len(records) > maxParts
	if isTruncated {
		records = records[:maxParts]
	}

	nextPartNumberMarker := partNumberMarker
	parts := make([]ListPartsPart, 0, len(records))
	for _, p := range records {
		parts = append(parts, ListPartsPart{
			PartNumber:   p.Number,
			LastModified: p.ModifiedAt.UTC().Format(time.RFC3339),
			ETag:         createETag(p.ETag),
			Size:         p.Size,
		})
		nextPartNumberMarker = p.Number
	}

	resp := ListPartsResult{
		XMLNS:                S3XMLNamespace,
		Bucket:               bucket,
		Key:                  key,
		UploadID:             uploadID,
		PartNumberMarker:     partNumberMarker,
		NextPartNumberMarker: nextPartNumberMarker,
		MaxParts:             maxParts,
		IsTruncated:          isTruncated,
		Parts:                parts,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode ListParts XML", "bucket", bucket, "key", key, "err", err)
	}
}

// handleListMultipartUploads implements ListMultipartUploads:
// GET /bucket?uploads[&prefix=P][&max-uploads=N]
func (s *Server) handleListMultipartUploads(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	q := r.URL.Query()
	prefix := q.Get("prefix")
	maxUploads := 1000
	if raw := q.Get("max-uploads"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v < maxUploads {
			maxUploads = v
		}
	}

	rows, err := s.Db.QueryContext(ctx,
		`SELECT id, key, created_at FROM uploads WHERE bucket = ? ORDER BY key, created_at`,
		bucket,
	)
	if err != nil {
		slog.Error("List multipart uploads", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	}
	defer rows.Close()

	owner := s.owner(ctx)
	var (
		uploads     []MultipartUploadInfo
		isTruncated bool
	)
	for rows.Next() {
		var u upload
		if err := rows.Scan(&u.ID, &u.Key, &u.CreatedAt); err != nil {
			slog.Error("Scan multipart upload", "bucket", bucket, "err", err)
			continue
		}
		if !strings.HasPrefix(u.Key, prefix) {
			continue
		}
		if len(uploads) == maxUploads {
			isTruncated = true
			break
		}
		uploads = append(uploads, MultipartUploadInfo{
			Key:          u.Key,
			UploadID:     u.ID,
			Initiator:    owner,
			Owner:        owner,
			StorageClass: "STANDARD",
			Initiated:    u.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	resp := ListMultipartUploadsResult{
		XMLNS:       S3XMLNamespace,
		Bucket:      bucket,
		Prefix:      prefix,
		MaxUploads:  maxUploads,
		IsTruncated: isTruncated,
		Uploads:     uploads,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode ListMultipartUploads XML", "bucket", bucket, "err", err)
	}
}
