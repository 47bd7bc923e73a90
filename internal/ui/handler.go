package ui

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"

	"asto/pkg/storage"
)

type Server struct {
	storage storage.Storage
}

func NewServer(s storage.Storage) *Server {
	return &Server{storage: s}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/browse/", http.StatusSeeOther)
	})
	mux.HandleFunc("GET /browse/{prefix...}", s.Browse)
	mux.HandleFunc("GET /value/{key...}", s.Value)
	return mux
}

// Browse lists the values and directories directly below a prefix.
func (s *Server) Browse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prefix := r.PathValue("prefix")
	if prefix != "" && !strings.HasSuffix(prefix, storage.Separator) {
		http.Redirect(w, r, "/browse/"+escapePath(prefix)+"/", http.StatusSeeOther)
		return
	}

	keys, err := s.storage.List(ctx, storage.ParseKey(prefix))
	if err != nil {
		writeError(w, err)
		return
	}

	if err := ListingPage(prefix, Entries(prefix, keys)).Render(ctx, w); err != nil {
		slog.Error("Failed to render listing", "prefix", prefix, "err", err)
	}
}

// Value streams a stored value as an attachment.
func (s *Server) Value(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := storage.ParseKey(r.PathValue("key"))
	if key.IsRoot() || key.IsDir() {
		http.Error(w, "not a value", http.StatusBadRequest)
		return
	}

	content, err := s.storage.Value(ctx, key)
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := content.Reader()
	if err != nil {
		writeError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key.String())))
	if size, ok := content.Size(); ok {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("Failed to stream value", "key", key.String(), "err", err)
	}
}

// Entries folds a recursive key listing into the rows directly below prefix.
// Directories come first, then values, each sorted by name.
func Entries(prefix string, keys []storage.Key) []Entry {
	dirs := map[string]*Entry{}
	var entries []Entry
	for _, key := range keys {
		rest := strings.TrimPrefix(key.String(), prefix)
		name, _, nested := strings.Cut(rest, storage.Separator)
		if !nested {
			entries = append(entries, Entry{Name: name, Path: key.String()})
			continue
		}
		if d, ok := dirs[name]; ok {
			d.Count++
			continue
		}
		dirs[name] = &Entry{Name: name, Path: prefix + name + storage.Separator, Dir: true, Count: 1}
	}

	out := make([]Entry, 0, len(dirs)+len(entries))
	for _, d := range dirs {
		out = append(out, *d)
	}
	out = append(out, entries...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dir != out[j].Dir {
			return out[i].Dir
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func parentPrefix(prefix string) string {
	trimmed := strings.TrimSuffix(prefix, storage.Separator)
	i := strings.LastIndex(trimmed, storage.Separator)
	if i < 0 {
		return ""
	}
	return trimmed[:i+1]
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, storage.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Storage request failed", "err", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
	}
}
