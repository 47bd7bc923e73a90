// Package ui renders a read-only HTML browser over a storage.Storage.
package ui

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/url"

	"github.com/a-h/templ"
)

// Entry is one row of a listing: either a value or a directory of values.
type Entry struct {
	Name string
	// Path is the key, or the listing prefix for directories.
	Path string
	Dir  bool
	// Count is the number of values below a directory.
	Count int
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\">")
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(w, "<head><meta charset=\"utf-8\"><meta name=\"viewport\" content=\"width=device-width, initial-scale=1\"><title>%s</title>", html.EscapeString(title))
		if err != nil {
			return err
		}
		// Minimal modern CSS framework (Pico.css) via CDN.
		_, err = io.WriteString(w, "<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\"></head>")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<body><main class=\"container\">")
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</main></body></html>")
		return err
	})
}

// ListingPage renders the entries directly below prefix.
func ListingPage(prefix string, entries []Entry) templ.Component {
	title := "/" + prefix
	return Layout("asto - "+title, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<section><header><h1>%s</h1>", html.EscapeString(title))
		if err != nil {
			return err
		}
		if prefix != "" {
			_, err = fmt.Fprintf(w, "<p><a href=\"%s\">&larr; Up</a></p>", BrowseURL(parentPrefix(prefix)))
			if err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, "</header>")
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			_, err = io.WriteString(w, "<p>Nothing stored here.</p></section>")
			return err
		}

		_, err = io.WriteString(w, "<table><thead><tr><th>Name</th><th>Values</th></tr></thead><tbody>")
		if err != nil {
			return err
		}

		for _, e := range entries {
			var row string
			if e.Dir {
				row = fmt.Sprintf("<tr><td><a href=\"%s\">%s/</a></td><td>%d</td></tr>", BrowseURL(e.Path), html.EscapeString(e.Name), e.Count)
			} else {
				row = fmt.Sprintf("<tr><td><a href=\"%s\">%s</a></td><td></td></tr>", ValueURL(e.Path), html.EscapeString(e.Name))
			}
			_, err = io.WriteString(w, row)
			if err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, "</tbody></table></section>")
		return err
	}))
}

// BrowseURL links to the listing of prefix.
func BrowseURL(prefix string) string {
	return html.EscapeString("/browse/" + escapePath(prefix))
}

// ValueURL links to the raw value of key.
func ValueURL(key string) string {
	return html.EscapeString("/value/" + escapePath(key))
}

func escapePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}
