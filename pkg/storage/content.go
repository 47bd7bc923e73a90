package storage

import (
	"bytes"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"
)

// Content is a single-consumption byte stream with an optional declared
// length. Whoever holds a Content owns it: it is claimed exactly once through
// Reader, Bytes or Chunks, and must be closed if it is never claimed.
type Content struct {
	rc      io.ReadCloser
	size    int64
	claimed atomic.Bool
	close   sync.Once
	err     error
}

// NewContent wraps r. A negative size means the length is unknown. If r is
// also an io.Closer it is closed together with the Content.
func NewContent(r io.Reader, size int64) *Content {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	if size < 0 {
		size = -1
	}
	return &Content{rc: rc, size: size}
}

// FromBytes returns a Content over data with a known length.
func FromBytes(data []byte) *Content {
	return NewContent(bytes.NewReader(data), int64(len(data)))
}

// FromString returns a Content over s with a known length.
func FromString(s string) *Content {
	return FromBytes([]byte(s))
}

// Size returns the declared length and whether it is known.
func (c *Content) Size() (int64, bool) {
	return c.size, c.size >= 0
}

// Reader claims the stream. Only the first call succeeds; later calls
// return ErrContentConsumed. Closing the reader closes the Content.
func (c *Content) Reader() (io.ReadCloser, error) {
	if !c.claimed.CompareAndSwap(false, true) {
		return nil, ErrContentConsumed
	}
	return contentReader{c}, nil
}

// Close releases the underlying stream. It is safe to call more than once.
func (c *Content) Close() error {
	c.close.Do(func() {
		c.err = c.rc.Close()
	})
	return c.err
}

// Bytes claims and drains the stream.
func (c *Content) Bytes() ([]byte, error) {
	r, err := c.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	if size, ok := c.Size(); ok && size > 0 {
		buf.Grow(int(size))
	}
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Chunks claims the stream and yields it in freshly allocated chunks of at
// most size bytes. Only the final chunk may be shorter. Reading happens on
// demand, so a consumer that stops pulling stops the producer. The stream is
// closed when iteration ends.
func (c *Content) Chunks(size int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		r, err := c.Reader()
		if err != nil {
			yield(nil, err)
			return
		}
		defer r.Close()

		for {
			chunk := make([]byte, size)
			n, err := io.ReadFull(r, chunk)
			switch {
			case errors.Is(err, io.EOF):
				return
			case errors.Is(err, io.ErrUnexpectedEOF):
				yield(chunk[:n], nil)
				return
			case err != nil:
				yield(nil, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

type contentReader struct {
	c *Content
}

func (r contentReader) Read(p []byte) (int, error) {
	return r.c.rc.Read(p)
}

func (r contentReader) Close() error {
	return r.c.Close()
}
