package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	AWSv4Prefix = "AWS4-HMAC-SHA256 "
)

// AwsHmacAuthEngine verifies AWS Signature Version 4 Authorization headers.
// Streaming chunk signatures are not verified.
type AwsHmacAuthEngine struct {
	creds Credentials
}

func NewAwsHmacAuthEngine(creds Credentials) *AwsHmacAuthEngine {
	return &AwsHmacAuthEngine{creds: creds}
}

func awsURLEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
			continue
		}
		if c == '/' && !encodeSlash {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func canonicalQueryString(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}

	values := u.Query()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, awsURLEncode(k, true)+"="+awsURLEncode(v, true))
		}
	}

	return strings.Join(parts, "&")
}

func canonicalHeaderValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// BuildCanonicalRequest renders r in the SigV4 canonical form. The path is
// encoded once from its decoded form, as S3 clients do.
func BuildCanonicalRequest(r *http.Request, signedHeaderNames []string, payloadHash string) string {
	canonicalURI := awsURLEncode(r.URL.Path, false)
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	lowerNames := make([]string, 0, len(signedHeaderNames))
	for _, h := range signedHeaderNames {
		if name := strings.ToLower(strings.TrimSpace(h)); name != "" {
			lowerNames = append(lowerNames, name)
		}
	}

	var headers strings.Builder
	for _, name := range lowerNames {
		var value string
		if name == "host" {
			value = r.Host
			if value == "" {
				value = r.URL.Host
			}
		} else {
			value = r.Header.Get(name)
			if value == "" && name == "content-length" && r.ContentLength >= 0 {
				value = strconv.FormatInt(r.ContentLength, 10)
			}
		}
		headers.WriteString(name)
		headers.WriteString(":")
		headers.WriteString(canonicalHeaderValue(value))
		headers.WriteString("\n")
	}

	return strings.Join([]string{
		r.Method,
		canonicalURI,
		canonicalQueryString(r.URL),
		headers.String(),
		strings.Join(lowerNames, ";"),
		payloadHash,
	}, "\n")
}

func HmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

// SigningKey derives the SigV4 signing key for one day, region and service.
func SigningKey(secret string, dateStamp string, region string, service string) []byte {
	kDate := HmacSHA256([]byte("AWS4"+secret), dateStamp)
	kRegion := HmacSHA256(kDate, region)
	kService := HmacSHA256(kRegion, service)
	return HmacSHA256(kService, "aws4_request")
}

// StringToSign builds the SigV4 string to sign for a canonical request.
func StringToSign(amzDate string, credentialScope string, canonicalRequest string) string {
	crHash := sha256.Sum256([]byte(canonicalRequest))
	return strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		hex.EncodeToString(crHash[:]),
	}, "\n")
}

func parseAuthorization(header string) map[string]string {
	params := strings.TrimSpace(strings.TrimPrefix(header, AWSv4Prefix))
	kv := make(map[string]string)
	for _, p := range strings.Split(params, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || k == "" {
			continue
		}
		kv[k] = strings.TrimSpace(v)
	}
	return kv
}

// AuthenticateRequest checks the Authorization header for a valid SigV4
// signature made with the engine's credentials.
func (e *AwsHmacAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, AWSv4Prefix) {
		return nil, nil
	}

	kv := parseAuthorization(header)
	credStr, okCred := kv["Credential"]
	signedHeadersStr, okSigned := kv["SignedHeaders"]
	signatureHex, okSig := kv["Signature"]
	if !okCred || !okSigned || !okSig {
		return nil, fmt.Errorf("%w: malformed authorization header", ErrInvalidCredentials)
	}

	credParts := strings.Split(credStr, "/")
	if len(credParts) != 5 || credParts[4] != "aws4_request" {
		return nil, fmt.Errorf("%w: malformed credential scope", ErrInvalidCredentials)
	}
	accessKeyID, dateStamp, region, service := credParts[0], credParts[1], credParts[2], credParts[3]
	if region == "" || service == "" {
		return nil, fmt.Errorf("%w: malformed credential scope", ErrInvalidCredentials)
	}
	if accessKeyID != e.creds.AccessKeyID {
		return nil, fmt.Errorf("%w: unknown access key %q", ErrInvalidCredentials, accessKeyID)
	}

	amzDate := r.Header.Get("X-Amz-Date")
	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	if amzDate == "" || payloadHash == "" {
		return nil, fmt.Errorf("%w: missing signed headers", ErrInvalidCredentials)
	}

	canonicalReq := BuildCanonicalRequest(r, strings.Split(signedHeadersStr, ";"), payloadHash)
	credentialScope := strings.Join([]string{dateStamp, region, service, "aws4_request"}, "/")
	stringToSign := StringToSign(amzDate, credentialScope, canonicalReq)

	computed := HmacSHA256(SigningKey(e.creds.SecretAccessKey, dateStamp, region, service), stringToSign)
	decoded, err := hex.DecodeString(signatureHex)
	if err != nil || !hmac.Equal(computed, decoded) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidCredentials)
	}

	return &User{
		AccessKeyID: accessKeyID,
	}, nil
}
