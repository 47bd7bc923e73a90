package gateway

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"asto/pkg/storage"
)

// chunkedReader decodes an aws-chunked body as sent with the
// STREAMING-* payload hashes:
//
//	<size-hex>[;chunk-signature=...]\r\n<data>\r\n ... 0[;...]\r\n[trailers]\r\n
//
// Chunk signatures and trailing checksums are not verified.
type chunkedReader struct {
	br        *bufio.Reader
	remaining int64
	done      bool
	err       error
}

func newChunkedReader(body io.Reader) *chunkedReader {
	return &chunkedReader{br: bufio.NewReader(body)}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	for c.remaining == 0 {
		if c.err != nil {
			return 0, c.err
		}
		if c.done {
			return 0, io.EOF
		}
		c.err = c.nextChunk()
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.br.Read(p)
	c.remaining -= int64(n)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err == nil && c.remaining == 0 {
		err = c.chunkEnd()
	}
	if err != nil {
		c.err = err
	}
	return n, err
}

// nextChunk reads a chunk header. A zero sized chunk ends the payload.
func (c *chunkedReader) nextChunk() error {
	line, err := c.readLine()
	if err != nil {
		return fmt.Errorf("read chunk header: %w", err)
	}

	// Strip any chunk extensions (e.g. ";chunk-signature=...").
	if idx := strings.IndexByte(line, ';'); idx != -1 {
		line = line[:idx]
	}

	sizeHex := strings.TrimSpace(line)
	size, err := strconv.ParseInt(sizeHex, 16, 64)
	if err != nil || size < 0 {
		return fmt.Errorf("parse chunk size %q: %w", sizeHex, errMalformedChunk)
	}

	if size == 0 {
		c.done = true
		return nil
	}
	c.remaining = size
	return nil
}

// chunkEnd consumes the CRLF that follows each chunk body.
func (c *chunkedReader) chunkEnd() error {
	var crlf [2]byte
	if _, err := io.ReadFull(c.br, crlf[:]); err != nil {
		return fmt.Errorf("read chunk terminator: %w", err)
	}
	if crlf != [2]byte{'\r', '\n'} {
		return fmt.Errorf("expected CRLF after chunk, got %q: %w", crlf[:], errMalformedChunk)
	}
	return nil
}

func (c *chunkedReader) readLine() (string, error) {
	for {
		line, err := c.br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			return line, nil
		}
	}
}

var errMalformedChunk = errors.New("malformed chunk")

// isStreamingPayload reports whether r carries an aws-chunked body.
func isStreamingPayload(r *http.Request) bool {
	sha := strings.ToUpper(r.Header.Get("X-Amz-Content-Sha256"))
	if strings.HasPrefix(sha, "STREAMING-") {
		return true
	}
	for _, enc := range strings.Split(r.Header.Get("Content-Encoding"), ",") {
		if strings.TrimSpace(enc) == "aws-chunked" {
			return true
		}
	}
	return false
}

// requestContent exposes the request body as Content. Streaming payloads
// are decoded on the fly and declare X-Amz-Decoded-Content-Length.
func requestContent(r *http.Request) (*storage.Content, error) {
	if !isStreamingPayload(r) {
		return storage.NewContent(r.Body, r.ContentLength), nil
	}

	decodedLenStr := r.Header.Get("X-Amz-Decoded-Content-Length")
	if decodedLenStr == "" {
		return nil, errors.New("missing X-Amz-Decoded-Content-Length for streaming payload")
	}

	decodedLen, err := strconv.ParseInt(decodedLenStr, 10, 64)
	if err != nil || decodedLen < 0 {
		return nil, fmt.Errorf("invalid X-Amz-Decoded-Content-Length %q", decodedLenStr)
	}

	return storage.NewContent(readCloser{newChunkedReader(r.Body), r.Body}, decodedLen), nil
}
