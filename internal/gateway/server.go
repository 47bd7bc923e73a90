// Package gateway serves a storage.Storage over a subset of the S3 API.
//
// Buckets are the top-level key segments of the storage. Bucket records,
// object metadata and in-progress multipart uploads are tracked in a SQLite
// database under the data directory; payloads live in the storage.
package gateway

import (
	"context"
	"crypto/md5"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"asto/internal/auth"
	localfs "asto/internal/fs"
	"asto/pkg/storage"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// stagingDir holds payloads until they are moved over their final key. No
// valid bucket name starts with a dot.
const stagingDir = ".staging"

var (
	//go:embed migrations
	migrationsFS embed.FS

	// Regex for validating S3 bucket names.
	// matches lowercase letters, digits, dots, and hyphens,
	// must start and end with a letter or digit, and must be between 3 and 63 characters long.
	bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
)

// Server provides a minimal S3-compatible HTTP API.
type Server struct {
	Config Config
	Db     *sql.DB
}

// initSchema applies all SQL files in the embedded migrations in
// lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		_, execError := db.ExecContext(ctx, string(content))
		return execError
	})
}

// NewServer initializes the metadata database and returns a new Server.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {

	if cfg.DataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}

	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := "file:" + filepath.Join(cfg.DataDir, "metadata.sqlite") + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.Storage == nil {
		cfg.Storage = localfs.New(filepath.Join(cfg.DataDir, "objects"))
	}

	if cfg.Authenticator == nil {
		cfg.Authenticator = auth.NewDefaultAuthEngine(auth.Credentials{
			AccessKeyID:     DefaultAccessKeyID,
			SecretAccessKey: DefaultSecretAccessKey,
		})
	}

	return &Server{Config: cfg, Db: db}, nil
}

// Close closes any resources held by the Server.
func (s *Server) Close() error {
	return s.Db.Close()
}

// withTransaction runs a function within a database transaction.
func withTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("error executing transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

// bucketExists checks whether a bucket with the given name exists.
func (s *Server) bucketExists(ctx context.Context, bucket string) (bool, error) {
	var count int
	if err := s.Db.QueryRowContext(ctx, `SELECT COUNT(*) FROM buckets WHERE name = ?`, bucket).Scan(&count); err != nil {
		return false, err
	}

	return count > 0, nil
}

// ensureBucket makes sure the given bucket exists, creating it if necessary.
// It returns true if the bucket was created, false if it already existed.
func (s *Server) ensureBucket(ctx context.Context, name string) (bool, error) {
	res, err := s.Db.ExecContext(ctx,
		`INSERT OR IGNORE INTO buckets(name, created_at) VALUES(?, ?)`,
		name, time.Now().UTC(),
	)

	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	return rows > 0, err
}

// requireBucket writes NoSuchBucket and returns false when bucket is missing.
func (s *Server) requireBucket(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) bool {
	exists, err := s.bucketExists(ctx, bucket)
	if err != nil {
		slog.Error("Bucket lookup", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return false
	}
	if !exists {
		writeNoSuchBucketError(w, r)
		return false
	}
	return true
}

// objectKey maps an S3 bucket and object key onto a storage key.
func objectKey(bucket string, key string) storage.Key {
	return storage.NewKey(bucket, key)
}

// objectMeta is the metadata row kept for each object written through the
// gateway.
type objectMeta struct {
	ETag        string
	Size        int64
	ContentType string
	ModifiedAt  time.Time
}

// upsertObjectMetadata inserts or updates an object's metadata row.
func (s *Server) upsertObjectMetadata(ctx context.Context, bucket string, key string, meta objectMeta) error {
	_, err := s.Db.ExecContext(ctx,
		`INSERT INTO objects(bucket, key, etag, size, content_type, modified_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bucket, key) DO UPDATE SET
		 	etag=excluded.etag,
		 	size=excluded.size,
		 	content_type=excluded.content_type,
		 	modified_at=excluded.modified_at`,
		bucket, key, meta.ETag, meta.Size, meta.ContentType, meta.ModifiedAt,
	)
	return err
}

// lookupObjectMetadata loads the metadata row for an object. The second
// result is false when no row exists.
func (s *Server) lookupObjectMetadata(ctx context.Context, bucket string, key string) (objectMeta, bool, error) {
	var (
		meta        objectMeta
		contentType sql.NullString
	)
	err := s.Db.QueryRowContext(ctx,
		`SELECT etag, size, content_type, modified_at FROM objects WHERE bucket = ? AND key = ?`,
		bucket, key,
	).Scan(&meta.ETag, &meta.Size, &contentType, &meta.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return objectMeta{}, false, nil
	}
	if err != nil {
		return objectMeta{}, false, err
	}
	meta.ContentType = contentType.String
	return meta, true, nil
}

func (s *Server) deleteObjectMetadata(ctx context.Context, bucket string, key string) error {
	_, err := s.Db.ExecContext(ctx, `DELETE FROM objects WHERE bucket = ? AND key = ?`, bucket, key)
	return err
}

// storeObject saves content under bucket/key, replacing any previous value.
// The payload is first saved under a staging key and then moved into place
// so that backends without overwrite still accept the write. The ETag is the
// hex MD5 of the payload unless etag is set.
func (s *Server) storeObject(ctx context.Context, bucket string, key string, content *storage.Content, contentType string, etag string) (objectMeta, error) {
	body, err := content.Reader()
	if err != nil {
		return objectMeta{}, err
	}

	size, _ := content.Size()
	h := md5.New()
	counter := &countingReader{r: io.TeeReader(body, h)}
	staged := storage.NewKey(stagingDir, uuid.NewString())

	if err := s.Config.Storage.Save(ctx, staged, storage.NewContent(readCloser{counter, body}, size)); err != nil {
		return objectMeta{}, err
	}

	if err := s.Config.Storage.Move(ctx, staged, objectKey(bucket, key)); err != nil {
		if delErr := s.Config.Storage.Delete(context.WithoutCancel(ctx), staged); delErr != nil && !errors.Is(delErr, storage.ErrNotFound) {
			slog.Warn("Failed to remove staged object", "key", staged, "err", delErr)
		}
		return objectMeta{}, err
	}

	if etag == "" {
		etag = hex.EncodeToString(h.Sum(nil))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	meta := objectMeta{
		ETag:        etag,
		Size:        counter.n,
		ContentType: contentType,
		ModifiedAt:  time.Now().UTC(),
	}
	if err := s.upsertObjectMetadata(ctx, bucket, key, meta); err != nil {
		return objectMeta{}, err
	}
	return meta, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type readCloser struct {
	io.Reader
	io.Closer
}

// writeNotImplemented is a helper for stubbing unsupported S3 operations.
func (s *Server) writeNotImplemented(w http.ResponseWriter, r *http.Request, op string) {
	message := op + " is not implemented."
	writeS3Error(w, "NotImplemented", message, r.URL.Path, http.StatusNotImplemented)
}

// writeS3Error writes a minimal S3-style XML error response.
func writeS3Error(w http.ResponseWriter, code string, message string, resource string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(S3Error{
		Code:     code,
		Message:  message,
		Resource: resource,
	})
}

// writeInternalError writes a generic S3 InternalError response.
func writeInternalError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
}

// writeNoSuchBucketError writes a generic S3 NoSuchBucket error response.
func writeNoSuchBucketError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, "NoSuchBucket", "The specified bucket does not exist.", r.URL.Path, http.StatusNotFound)
}

// writeNoSuchKeyError writes a generic S3 NoSuchKey error response.
func writeNoSuchKeyError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, "NoSuchKey", "The specified key does not exist.", r.URL.Path, http.StatusNotFound)
}

func writeNoSuchUploadError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, "NoSuchUpload", "The specified multipart upload does not exist.", r.URL.Path, http.StatusNotFound)
}

// writeStorageError maps a storage failure onto the closest S3 error.
func writeStorageError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeNoSuchKeyError(w, r)
	case errors.Is(err, storage.ErrInvalidArgument):
		writeS3Error(w, "InvalidArgument", err.Error(), r.URL.Path, http.StatusBadRequest)
	case errors.Is(err, storage.ErrUnsupportedOperation):
		writeS3Error(w, "NotImplemented", err.Error(), r.URL.Path, http.StatusNotImplemented)
	default:
		slog.Error(op, "path", r.URL.Path, "err", err)
		writeInternalError(w, r)
	}
}

// isValidBucketName implements the standard S3 bucket naming rules for
// "virtual hosted-style" buckets.
func isValidBucketName(name string) bool {

	// Must consist only of lowercase letters, digits, dots, or hyphens,
	// and must start and end with a letter or digit.
	if !bucketNamePattern.MatchString(name) {
		return false
	}

	// Disallow patterns like "..", ".-", "-.".
	if strings.Contains(name, "..") {
		return false
	}

	for i := 1; i < len(name); i++ {
		if (name[i-1] == '.' && name[i] == '-') || (name[i-1] == '-' && name[i] == '.') {
			return false
		}
	}

	// Bucket name must not be formatted as an IPv4 address.
	ip := net.ParseIP(name)
	return ip == nil
}

// isValidObjectKey enforces basic S3 object key constraints: non-empty,
// at most 1024 bytes, and no control characters. Keys must also be in the
// normalized storage form so that two S3 keys never share a storage key.
func isValidObjectKey(key string) bool {
	if len(key) == 0 || len(key) > 1024 {
		return false
	}

	if strings.ContainsFunc(key, func(c rune) bool {
		return c < 0x20 || c == 0x7f
	}) {
		return false
	}

	return storage.NewKey(key).String() == key
}

// validateBucketNameOrError writes an S3 InvalidBucketName error and returns
// false if the provided name does not meet S3 bucket naming rules.
func validateBucketNameOrError(w http.ResponseWriter, r *http.Request, bucket string) bool {
	if !isValidBucketName(bucket) {
		writeS3Error(w, "InvalidBucketName", "The specified bucket is not valid.", r.URL.Path, http.StatusBadRequest)
		return false
	}
	return true
}

// validateObjectKeyOrError writes an S3-style error for invalid object keys.
func validateObjectKeyOrError(w http.ResponseWriter, r *http.Request, key string) bool {
	if !isValidObjectKey(key) {
		writeS3Error(w, "InvalidObjectName", "The specified key is not valid.", r.URL.Path, http.StatusBadRequest)
		return false
	}
	return true
}

// writeXMLResponse encodes v as XML and writes it to w with a 200 OK status.
func writeXMLResponse(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	return xml.NewEncoder(w).Encode(v)
}

// createETag formats a hash hex string as an ETag value.
func createETag(hashHex string) string {
	return fmt.Sprintf("\"%s\"", hashHex)
}

// trimETag strips the quotes clients may or may not send.
func trimETag(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), "\"")
}

// currentUser returns the authenticated user stored by RequireAuthentication.
func currentUser(ctx context.Context) *auth.User {
	user, _ := ctx.Value(userKey{}).(*auth.User)
	return user
}
