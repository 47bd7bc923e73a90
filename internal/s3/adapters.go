package s3

import (
	"io"

	"asto/pkg/storage"
)

// Outbound claims content as a request body. The returned size is -1 when
// the length of content is unknown.
func Outbound(content *storage.Content) (io.Reader, int64, error) {
	r, err := content.Reader()
	if err != nil {
		return nil, 0, err
	}
	size, ok := content.Size()
	if !ok {
		size = -1
	}
	return r, size, nil
}

// Inbound exposes a GET response as Content. The reported length, when
// present, becomes the declared size.
func Inbound(resp *GetResponse) *storage.Content {
	return storage.NewContent(resp.Body, resp.ContentLength)
}
