package auth_test

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"asto/internal/auth"

	"github.com/stretchr/testify/require"
)

var testCreds = auth.Credentials{
	AccessKeyID:     "astoadmin",
	SecretAccessKey: "astoadmin",
}

func signRequestSigV4(t *testing.T, r *http.Request, creds auth.Credentials) {
	t.Helper()

	const (
		region  = "us-east-1"
		service = "s3"
	)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	if r.Header.Get("X-Amz-Content-Sha256") == "" {
		r.Header.Set("X-Amz-Content-Sha256", "UNSIGNED-PAYLOAD")
	}
	r.Header.Set("X-Amz-Date", amzDate)

	signedHeaders := []string{"host", "x-amz-content-sha256", "x-amz-date"}
	canonicalReq := auth.BuildCanonicalRequest(r, signedHeaders, r.Header.Get("X-Amz-Content-Sha256"))
	credentialScope := strings.Join([]string{dateStamp, region, service, "aws4_request"}, "/")
	sig := auth.HmacSHA256(
		auth.SigningKey(creds.SecretAccessKey, dateStamp, region, service),
		auth.StringToSign(amzDate, credentialScope, canonicalReq),
	)

	cred := strings.Join([]string{creds.AccessKeyID, dateStamp, region, service, "aws4_request"}, "/")
	r.Header.Set("Authorization", strings.Join([]string{
		"AWS4-HMAC-SHA256 Credential=" + cred,
		"SignedHeaders=" + strings.Join(signedHeaders, ";"),
		"Signature=" + hex.EncodeToString(sig),
	}, ", "))
}

func TestAWSSigV4Succeeds(t *testing.T) {
	t.Parallel()

	e := auth.NewAwsHmacAuthEngine(testCreds)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/test-bucket/a%20b/c.txt?list-type=2&prefix=x", nil)
	signRequestSigV4(t, req, testCreds)

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.NoError(t, err, "expected AWS SigV4 authentication to succeed")
	require.NotNil(t, user, "expected non-nil user from successful AWS SigV4 authentication")
	require.Equal(t, testCreds.AccessKeyID, user.AccessKeyID, "user access key")
}

func TestAWSSigV4InvalidSignature(t *testing.T) {
	t.Parallel()

	e := auth.NewAwsHmacAuthEngine(testCreds)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/test-bucket", nil)
	signRequestSigV4(t, req, testCreds)

	// Corrupt the signature.
	req.Header.Set("Authorization", req.Header.Get("Authorization")+"0")

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.ErrorIs(t, err, auth.ErrInvalidCredentials, "expected AWS SigV4 authentication to fail with invalid signature")
	require.Nil(t, user, "expected nil user from failed AWS SigV4 authentication")
}

func TestAWSSigV4WrongSecret(t *testing.T) {
	t.Parallel()

	e := auth.NewAwsHmacAuthEngine(testCreds)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodPut, "http://example.com/bucket/key", nil)
	signRequestSigV4(t, req, auth.Credentials{AccessKeyID: testCreds.AccessKeyID, SecretAccessKey: "wrong"})

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.ErrorIs(t, err, auth.ErrInvalidCredentials, "signature made with another secret")
	require.Nil(t, user, "no user")
}

func TestAWSSigV4IgnoresOtherSchemes(t *testing.T) {
	t.Parallel()

	e := auth.NewAwsHmacAuthEngine(testCreds)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.SetBasicAuth("astoadmin", "astoadmin")

	user, err := e.AuthenticateRequest(t.Context(), req)
	require.NoError(t, err, "other schemes are not an error")
	require.Nil(t, user, "no user")
}

func TestBasicAuth(t *testing.T) {
	t.Parallel()

	e := auth.NewBasicAuthEngine(testCreds)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.SetBasicAuth(testCreds.AccessKeyID, testCreds.SecretAccessKey)
	user, err := e.AuthenticateRequest(t.Context(), req)
	require.NoError(t, err, "valid basic credentials")
	require.Equal(t, testCreds.AccessKeyID, user.AccessKeyID, "user access key")

	req = httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.SetBasicAuth(testCreds.AccessKeyID, "nope")
	user, err = e.AuthenticateRequest(t.Context(), req)
	require.ErrorIs(t, err, auth.ErrInvalidCredentials, "wrong password")
	require.Nil(t, user, "no user")
}

func TestCompoundAuth(t *testing.T) {
	t.Parallel()

	e := auth.NewDefaultAuthEngine(testCreds)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.SetBasicAuth(testCreds.AccessKeyID, testCreds.SecretAccessKey)
	user, err := e.AuthenticateRequest(t.Context(), req)
	require.NoError(t, err, "basic credentials through the compound engine")
	require.NotNil(t, user, "user")

	req = httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	user, err = e.AuthenticateRequest(t.Context(), req)
	require.NoError(t, err, "anonymous request is not an error")
	require.Nil(t, user, "anonymous request has no user")
}
