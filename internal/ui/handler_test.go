package ui_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"asto/internal/fs"
	"asto/internal/ui"
	"asto/pkg/storage"
	"asto/pkg/storage/storagetest"

	"github.com/stretchr/testify/require"
)

func newBrowser(t *testing.T) *httptest.Server {
	t.Helper()

	s := fs.New(t.TempDir())
	storagetest.Save(t, s, storage.ParseKey("docs/readme.txt"), []byte("read me"))
	storagetest.Save(t, s, storage.ParseKey("docs/guide/intro.md"), []byte("# intro"))
	storagetest.Save(t, s, storage.ParseKey("docs/guide/setup.md"), []byte("# setup"))
	storagetest.Save(t, s, storage.ParseKey("top.bin"), []byte{1, 2, 3})

	srv := httptest.NewServer(ui.NewServer(s).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestEntries(t *testing.T) {
	t.Parallel()

	keys := []storage.Key{
		storage.ParseKey("docs/readme.txt"),
		storage.ParseKey("docs/guide/intro.md"),
		storage.ParseKey("docs/guide/setup.md"),
		storage.ParseKey("docs/api/v1.json"),
	}

	require.Equal(t, []ui.Entry{
		{Name: "api", Path: "docs/api/", Dir: true, Count: 1},
		{Name: "guide", Path: "docs/guide/", Dir: true, Count: 2},
		{Name: "readme.txt", Path: "docs/readme.txt"},
	}, ui.Entries("docs/", keys))
}

func TestBrowse(t *testing.T) {
	t.Parallel()

	srv := newBrowser(t)

	resp, body := get(t, srv.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode, "root redirects to the listing")
	require.Contains(t, body, `href="/browse/docs/"`)
	require.Contains(t, body, `href="/value/top.bin"`)

	resp, body = get(t, srv.URL+"/browse/docs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `href="/browse/docs/guide/"`)
	require.Contains(t, body, `href="/value/docs/readme.txt"`)
	require.Contains(t, body, `href="/browse/"`, "link up to the root")
}

func TestValue(t *testing.T) {
	t.Parallel()

	srv := newBrowser(t)

	resp, body := get(t, srv.URL+"/value/docs/guide/intro.md")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "# intro", body)
	require.Equal(t, `attachment; filename="intro.md"`, resp.Header.Get("Content-Disposition"))

	resp, _ = get(t, srv.URL+"/value/docs/missing.txt")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
