package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkedReader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "signed",
			body: "3;chunk-signature=aa\r\nabc\r\n2;chunk-signature=bb\r\nde\r\n0;chunk-signature=cc\r\n\r\n",
			want: "abcde",
		},
		{
			name: "unsigned with trailer",
			body: "4\r\nwxyz\r\n0\r\nx-amz-checksum-crc32c:AAAAAA==\r\n\r\n",
			want: "wxyz",
		},
		{
			name: "empty",
			body: "0;chunk-signature=cc\r\n\r\n",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := io.ReadAll(newChunkedReader(strings.NewReader(tt.body)))
			require.NoError(t, err)
			require.Equal(t, tt.want, string(got))
		})
	}
}

func TestChunkedReaderMalformed(t *testing.T) {
	t.Parallel()

	_, err := io.ReadAll(newChunkedReader(strings.NewReader("zz\r\nabc\r\n")))
	require.ErrorIs(t, err, errMalformedChunk)

	_, err = io.ReadAll(newChunkedReader(strings.NewReader("3\r\nabcXY0\r\n\r\n")))
	require.ErrorIs(t, err, errMalformedChunk)

	_, err = io.ReadAll(newChunkedReader(strings.NewReader("5\r\nab")))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRequestContent(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequestWithContext(t.Context(), http.MethodPut, "/b/k", strings.NewReader("plain"))
	content, err := requestContent(r)
	require.NoError(t, err)
	size, known := content.Size()
	require.True(t, known)
	require.Equal(t, int64(5), size)

	r = httptest.NewRequestWithContext(t.Context(), http.MethodPut, "/b/k", strings.NewReader("2\r\nhi\r\n0\r\n\r\n"))
	r.Header.Set("X-Amz-Content-Sha256", "STREAMING-UNSIGNED-PAYLOAD-TRAILER")
	r.Header.Set("X-Amz-Decoded-Content-Length", "2")
	content, err = requestContent(r)
	require.NoError(t, err)
	size, _ = content.Size()
	require.Equal(t, int64(2), size)
	data, err := content.Bytes()
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))

	r = httptest.NewRequestWithContext(t.Context(), http.MethodPut, "/b/k", strings.NewReader(""))
	r.Header.Set("Content-Encoding", "aws-chunked")
	_, err = requestContent(r)
	require.Error(t, err, "decoded length is required")
}

func TestPaginate(t *testing.T) {
	t.Parallel()

	objects := []ObjectSummary{
		{Key: "a/1"}, {Key: "a/2"}, {Key: "b"}, {Key: "c/1"},
	}

	p := paginate(objects, "", "/", "", 1000)
	require.Equal(t, []CommonPrefix{{Prefix: "a/"}, {Prefix: "c/"}}, p.CommonPrefixes)
	require.Len(t, p.Contents, 1)
	require.Equal(t, 3, p.Count)
	require.False(t, p.IsTruncated)

	p = paginate(objects, "", "/", "", 1)
	require.True(t, p.IsTruncated)
	require.Equal(t, "a/", p.Last)

	p = paginate(objects, "", "/", p.Last, 1)
	require.Equal(t, "b", p.Contents[0].Key)
	require.True(t, p.IsTruncated)

	p = paginate(objects, "a/", "", "a/1", 10)
	require.Len(t, p.Contents, 3)
	require.Equal(t, "a/2", p.Contents[0].Key)
}

func TestIsValidObjectKey(t *testing.T) {
	t.Parallel()

	require.True(t, isValidObjectKey("dir/file.txt"))
	require.False(t, isValidObjectKey(""))
	require.False(t, isValidObjectKey("dir//file"))
	require.False(t, isValidObjectKey("dir/"))
	require.False(t, isValidObjectKey("bad\x01key"))
	require.False(t, isValidObjectKey(strings.Repeat("k", 1025)))
}
