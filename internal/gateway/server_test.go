package gateway_test

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"asto/internal/gateway"

	"github.com/stretchr/testify/require"
)

const (
	AccessKeyID     = gateway.DefaultAccessKeyID
	SecretAccessKey = gateway.DefaultSecretAccessKey
)

// NewTestServer creates a Server backed by a temporary data directory and
// returns it along with an httptest.Server wrapping its handler.
func NewTestServer(t *testing.T) (*gateway.Server, *httptest.Server) {
	t.Helper()

	srv, err := gateway.NewServer(t.Context(), gateway.NewConfig(gateway.WithDataDir(t.TempDir())))
	require.NoError(t, err, "NewServer error")

	httpSrv := httptest.NewServer(srv.Handler())

	t.Cleanup(func() { _ = srv.Close() })
	t.Cleanup(httpSrv.Close)

	return srv, httpSrv
}

type RequestOption func(*http.Request)

func WithContentType(contentType string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set("Content-Type", contentType)
	}
}

func WithContent(body []byte) RequestOption {
	return func(req *http.Request) {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/octet-stream")
		}
	}
}

func WithHeader(key string, value string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set(key, value)
	}
}

// WithXMLBody encodes v as XML and attaches it as the request body.
func WithXMLBody(t *testing.T, v any) RequestOption {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, xml.NewEncoder(&buf).Encode(v), "encoding XML body")
	body := buf.Bytes()
	return func(req *http.Request) {
		WithContent(body)(req)
		WithContentType("application/xml")(req)
	}
}

func WithoutAuth() RequestOption {
	return func(req *http.Request) {
		req.Header.Del("Authorization")
	}
}

func DoMethod(t *testing.T, method string, url string, opts ...RequestOption) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, url, nil)
	require.NoError(t, err, "creating "+method+" request")
	req.SetBasicAuth(AccessKeyID, SecretAccessKey)
	for _, opt := range opts {
		opt(req)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoErrorf(t, err, "%s %s error", method, url)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func DoPut(t *testing.T, url string, opts ...RequestOption) *http.Response {
	return DoMethod(t, http.MethodPut, url, opts...)
}

func DoGet(t *testing.T, url string, opts ...RequestOption) *http.Response {
	return DoMethod(t, http.MethodGet, url, opts...)
}

func DoHead(t *testing.T, url string, opts ...RequestOption) *http.Response {
	return DoMethod(t, http.MethodHead, url, opts...)
}

func DoDelete(t *testing.T, url string, opts ...RequestOption) *http.Response {
	return DoMethod(t, http.MethodDelete, url, opts...)
}

// DecodeS3Error decodes a minimal S3 error response and returns its Code.
func DecodeS3Error(t *testing.T, r io.Reader) string {
	t.Helper()
	var s3Err struct {
		Code string `xml:"Code"`
	}
	require.NoError(t, xml.NewDecoder(r).Decode(&s3Err), "decoding S3 error XML")
	return s3Err.Code
}

func ReadBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "reading response body")
	return data
}

func CreateBucket(t *testing.T, httpSrv *httptest.Server, bucket string) {
	t.Helper()
	resp := DoPut(t, httpSrv.URL+"/"+bucket)
	require.Equal(t, http.StatusOK, resp.StatusCode, "create bucket %s", bucket)
}

func TestCreateAndListBuckets(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	CreateBucket(t, httpSrv, "beta")
	CreateBucket(t, httpSrv, "alpha")

	resp := DoPut(t, httpSrv.URL+"/alpha")
	require.Equal(t, http.StatusConflict, resp.StatusCode, "duplicate bucket status")
	require.Equal(t, "BucketAlreadyOwnedByYou", DecodeS3Error(t, resp.Body))

	resp = DoGet(t, httpSrv.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode, "list buckets status")

	var result gateway.ListAllMyBucketsResult
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&result), "decoding ListAllMyBucketsResult")
	require.Len(t, result.Buckets, 2)
	require.Equal(t, "alpha", result.Buckets[0].Name)
	require.Equal(t, "beta", result.Buckets[1].Name)
	require.NotEmpty(t, result.Buckets[0].CreationDate)
	require.Equal(t, AccessKeyID, result.Owner.ID)
}

func TestInvalidBucketName(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	for _, name := range []string{"ab", "Upper", "192.168.1.1", "a..b", "a.-b"} {
		resp := DoPut(t, httpSrv.URL+"/"+name)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "bucket %q", name)
		require.Equal(t, "InvalidBucketName", DecodeS3Error(t, resp.Body))
	}
}

func TestRequestsRequireAuthentication(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	resp := DoGet(t, httpSrv.URL+"/", WithoutAuth())
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "AccessDenied", DecodeS3Error(t, resp.Body))

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, httpSrv.URL+"/", nil)
	require.NoError(t, err)
	req.SetBasicAuth(AccessKeyID, "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPutGetHeadDeleteObject(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)
	CreateBucket(t, httpSrv, "objects")

	url := httpSrv.URL + "/objects/dir/hello.txt"
	payload := []byte("hello, world")

	resp := DoPut(t, url, WithContentType("text/plain"), WithContent(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode, "put status")
	etag := resp.Header.Get("ETag")
	require.Equal(t, `"e4d7f1b4ed2e42d15898f4b27b019da4"`, etag, "ETag is the MD5 of the payload")

	resp = DoHead(t, url)
	require.Equal(t, http.StatusOK, resp.StatusCode, "head status")
	require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	require.Equal(t, "12", resp.Header.Get("Content-Length"))
	require.Equal(t, etag, resp.Header.Get("ETag"))
	require.NotEmpty(t, resp.Header.Get("Last-Modified"))

	resp = DoGet(t, url)
	require.Equal(t, http.StatusOK, resp.StatusCode, "get status")
	require.Equal(t, payload, ReadBody(t, resp))

	resp = DoDelete(t, url)
	require.Equal(t, http.StatusNoContent, resp.StatusCode, "delete status")

	resp = DoGet(t, url)
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "get after delete status")
	require.Equal(t, "NoSuchKey", DecodeS3Error(t, resp.Body))

	resp = DoDelete(t, url)
	require.Equal(t, http.StatusNoContent, resp.StatusCode, "deleting a missing object succeeds")
}

func TestPutObjectReplacesExistingValue(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)
	CreateBucket(t, httpSrv, "objects")

	url := httpSrv.URL + "/objects/key.bin"
	require.Equal(t, http.StatusOK, DoPut(t, url, WithContent([]byte("first"))).StatusCode)
	require.Equal(t, http.StatusOK, DoPut(t, url, WithContent([]byte("second value"))).StatusCode)

	resp := DoGet(t, url)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "second value", string(ReadBody(t, resp)))

	data, err := os.ReadFile(filepath.Join(srv.Config.DataDir, "objects", "objects", "key.bin"))
	require.NoError(t, err, "payload lives in the backing storage")
	require.Equal(t, "second value", string(data))

	staged, err := os.ReadDir(filepath.Join(srv.Config.DataDir, "objects", ".staging"))
	if err == nil {
		require.Empty(t, staged, "staging area is drained")
	}
}

func TestPutObjectMissingBucket(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	resp := DoPut(t, httpSrv.URL+"/missing/key", WithContent([]byte("x")))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NoSuchBucket", DecodeS3Error(t, resp.Body))
}

func TestStreamingPayloadIsDecoded(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)
	CreateBucket(t, httpSrv, "objects")

	body := "5;chunk-signature=abc\r\nhello\r\n6;chunk-signature=def\r\n world\r\n0;chunk-signature=0\r\n\r\n"
	resp := DoPut(t, httpSrv.URL+"/objects/streamed.txt",
		WithContent([]byte(body)),
		WithHeader("X-Amz-Content-Sha256", "STREAMING-AWS4-HMAC-SHA256-PAYLOAD"),
		WithHeader("X-Amz-Decoded-Content-Length", "11"),
		WithHeader("Content-Encoding", "aws-chunked"),
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = DoGet(t, httpSrv.URL+"/objects/streamed.txt")
	require.Equal(t, "hello world", string(ReadBody(t, resp)))
}

func TestDeleteBucket(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)
	CreateBucket(t, httpSrv, "doomed")
	require.Equal(t, http.StatusOK, DoPut(t, httpSrv.URL+"/doomed/a", WithContent([]byte("a"))).StatusCode)

	resp := DoDelete(t, httpSrv.URL+"/doomed")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "BucketNotEmpty", DecodeS3Error(t, resp.Body))

	require.Equal(t, http.StatusNoContent, DoDelete(t, httpSrv.URL+"/doomed/a").StatusCode)
	require.Equal(t, http.StatusNoContent, DoDelete(t, httpSrv.URL+"/doomed").StatusCode)

	resp = DoHead(t, httpSrv.URL+"/doomed")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetBucketLocation(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)
	CreateBucket(t, httpSrv, "located")

	resp := DoGet(t, httpSrv.URL+"/located?location")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var loc gateway.LocationConstraint
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&loc))
	require.Equal(t, gateway.DefaultRegion, loc.Region)
}

func TestListObjectsV2(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)
	CreateBucket(t, httpSrv, "listing")

	for _, key := range []string{"a.txt", "dir/b.txt", "dir/sub/c.txt", "dirt/d.txt", "e.txt"} {
		require.Equal(t, http.StatusOK, DoPut(t, httpSrv.URL+"/listing/"+key, WithContent([]byte(key))).StatusCode)
	}

	list := func(query string) gateway.ListBucketResultV2 {
		t.Helper()
		resp := DoGet(t, httpSrv.URL+"/listing?list-type=2&"+query)
		require.Equal(t, http.StatusOK, resp.StatusCode, "list %s", query)
		var result gateway.ListBucketResultV2
		require.NoError(t, xml.NewDecoder(resp.Body).Decode(&result))
		return result
	}

	keys := func(result gateway.ListBucketResultV2) []string {
		var out []string
		for _, c := range result.Contents {
			out = append(out, c.Key)
		}
		return out
	}

	result := list("")
	require.Equal(t, []string{"a.txt", "dir/b.txt", "dir/sub/c.txt", "dirt/d.txt", "e.txt"}, keys(result))
	require.Equal(t, int64(len("dir/b.txt")), result.Contents[1].Size)

	result = list("prefix=dir/")
	require.Equal(t, []string{"dir/b.txt", "dir/sub/c.txt"}, keys(result))

	result = list("prefix=dir")
	require.Equal(t, []string{"dir/b.txt", "dir/sub/c.txt", "dirt/d.txt"}, keys(result))

	result = list("delimiter=/")
	require.Equal(t, []string{"a.txt", "e.txt"}, keys(result))
	require.Equal(t, []gateway.CommonPrefix{{Prefix: "dir/"}, {Prefix: "dirt/"}}, result.CommonPrefixes)

	result = list("max-keys=2")
	require.True(t, result.IsTruncated)
	require.Equal(t, []string{"a.txt", "dir/b.txt"}, keys(result))
	require.Equal(t, "dir/b.txt", result.NextContinuationToken)

	result = list("max-keys=2&continuation-token=" + result.NextContinuationToken)
	require.Equal(t, []string{"dir/sub/c.txt", "dirt/d.txt"}, keys(result))

	result = list("start-after=dirt/d.txt")
	require.Equal(t, []string{"e.txt"}, keys(result))
	require.False(t, result.IsTruncated)
}

func TestListObjectsV1(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)
	CreateBucket(t, httpSrv, "listing")

	for _, key := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusOK, DoPut(t, httpSrv.URL+"/listing/"+key, WithContent([]byte(key))).StatusCode)
	}

	resp := DoGet(t, httpSrv.URL+"/listing?marker=a&max-keys=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result gateway.ListBucketResult
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Contents, 1)
	require.Equal(t, "b", result.Contents[0].Key)
	require.True(t, result.IsTruncated)
	require.Equal(t, "b", result.NextMarker)
}

func TestCopyObject(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)
	CreateBucket(t, httpSrv, "source")
	CreateBucket(t, httpSrv, "target")

	resp := DoPut(t, httpSrv.URL+"/source/original.txt", WithContentType("text/plain"), WithContent([]byte("copy me")))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	etag := resp.Header.Get("ETag")

	resp = DoPut(t, httpSrv.URL+"/target/copy.txt", WithHeader("x-amz-copy-source", "/source/original.txt"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result gateway.CopyObjectResult
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, etag, result.ETag)

	resp = DoGet(t, httpSrv.URL+"/target/copy.txt")
	require.Equal(t, "copy me", string(ReadBody(t, resp)))
	require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

	resp = DoPut(t, httpSrv.URL+"/target/other.txt", WithHeader("x-amz-copy-source", "/source/missing.txt"))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NoSuchKey", DecodeS3Error(t, resp.Body))
}

func TestDeleteObjects(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)
	CreateBucket(t, httpSrv, "bulk")

	for _, key := range []string{"one", "two"} {
		require.Equal(t, http.StatusOK, DoPut(t, httpSrv.URL+"/bulk/"+key, WithContent([]byte(key))).StatusCode)
	}

	req := gateway.DeleteObjectsRequest{
		Objects: []gateway.DeleteObject{{Key: "one"}, {Key: "two"}, {Key: "absent"}},
	}
	resp := DoMethod(t, http.MethodPost, httpSrv.URL+"/bulk?delete", WithXMLBody(t, req))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result gateway.DeleteResult
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Deleted, 3)
	require.Empty(t, result.Errors)

	resp = DoGet(t, httpSrv.URL+"/bulk?list-type=2")
	var listing gateway.ListBucketResultV2
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&listing))
	require.Empty(t, listing.Contents)
}

func TestMultipartUploadOverHTTP(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)
	CreateBucket(t, httpSrv, "parts")

	resp := DoMethod(t, http.MethodPost, httpSrv.URL+"/parts/big.bin?uploads")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var initiated gateway.InitiateMultipartUploadResult
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&initiated))
	require.NotEmpty(t, initiated.UploadID)

	uploadURL := httpSrv.URL + "/parts/big.bin?uploadId=" + initiated.UploadID
	var complete gateway.CompleteMultipartUpload
	for i, chunk := range []string{"first-", "second-", "third"} {
		number := i + 1
		resp := DoPut(t, uploadURL+"&partNumber="+strconv.Itoa(number), WithContent([]byte(chunk)))
		require.Equal(t, http.StatusOK, resp.StatusCode, "upload part %d", number)
		complete.Parts = append(complete.Parts, gateway.CompletePart{PartNumber: number, ETag: resp.Header.Get("ETag")})
	}

	resp = DoGet(t, uploadURL)
	require.Equal(t, http.StatusOK, resp.StatusCode, "list parts status")
	var parts gateway.ListPartsResult
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&parts))
	require.Len(t, parts.Parts, 3)
	require.Equal(t, int64(len("second-")), parts.Parts[1].Size)

	resp = DoGet(t, httpSrv.URL+"/parts?uploads")
	require.Equal(t, http.StatusOK, resp.StatusCode, "list uploads status")
	var uploads gateway.ListMultipartUploadsResult
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&uploads))
	require.Len(t, uploads.Uploads, 1)
	require.Equal(t, initiated.UploadID, uploads.Uploads[0].UploadID)

	reversed := gateway.CompleteMultipartUpload{Parts: []gateway.CompletePart{complete.Parts[1], complete.Parts[0]}}
	resp = DoMethod(t, http.MethodPost, uploadURL, WithXMLBody(t, reversed))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "InvalidPartOrder", DecodeS3Error(t, resp.Body))

	wrong := gateway.CompleteMultipartUpload{Parts: []gateway.CompletePart{{PartNumber: 1, ETag: `"deadbeef"`}}}
	resp = DoMethod(t, http.MethodPost, uploadURL, WithXMLBody(t, wrong))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "InvalidPart", DecodeS3Error(t, resp.Body))

	resp = DoMethod(t, http.MethodPost, uploadURL, WithXMLBody(t, complete))
	require.Equal(t, http.StatusOK, resp.StatusCode, "complete status")
	var completed gateway.CompleteMultipartUploadResult
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&completed))
	require.True(t, strings.HasSuffix(completed.ETag, `-3"`), "multipart ETag %s", completed.ETag)

	resp = DoGet(t, httpSrv.URL+"/parts/big.bin")
	require.Equal(t, "first-second-third", string(ReadBody(t, resp)))

	_, err := os.Stat(filepath.Join(srv.Config.DataDir, "uploads", initiated.UploadID))
	require.True(t, os.IsNotExist(err), "upload directory removed after completion")

	resp = DoGet(t, uploadURL)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NoSuchUpload", DecodeS3Error(t, resp.Body))
}
