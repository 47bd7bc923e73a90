package storage

import "strings"

// Separator joins the segments of a Key.
const Separator = "/"

// Root is the empty key. It is a prefix of every other key.
var Root = Key{}

// Key identifies a stored value. It is an immutable value type; two keys are
// equal exactly when their string forms are equal.
type Key struct {
	path string
}

// NewKey joins segments into a key. Each segment may itself contain
// separators; empty segments are dropped.
func NewKey(segments ...string) Key {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		for _, p := range strings.Split(s, Separator) {
			if p != "" {
				parts = append(parts, p)
			}
		}
	}
	return Key{path: strings.Join(parts, Separator)}
}

// ParseKey keeps s verbatim apart from leading separators, so a trailing
// separator survives. Use it for listing prefixes such as "a/b/".
func ParseKey(s string) Key {
	return Key{path: strings.TrimLeft(s, Separator)}
}

func (k Key) String() string {
	return k.path
}

// IsRoot reports whether k is the root key.
func (k Key) IsRoot() bool {
	return k.path == ""
}

// IsDir reports whether k denotes a directory-like scope: the root or a key
// ending with the separator.
func (k Key) IsDir() bool {
	return k.IsRoot() || strings.HasSuffix(k.path, Separator)
}

// Dir returns k with a trailing separator.
func (k Key) Dir() Key {
	if k.IsDir() {
		return k
	}
	return Key{path: k.path + Separator}
}

// Segments returns the non-empty segments of k.
func (k Key) Segments() []string {
	if k.IsRoot() {
		return nil
	}
	parts := strings.Split(strings.TrimSuffix(k.path, Separator), Separator)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Join appends segments to k.
func (k Key) Join(segments ...string) Key {
	return NewKey(append([]string{k.path}, segments...)...)
}

// Parent returns the key one level up. The root has no parent.
func (k Key) Parent() (Key, bool) {
	segs := k.Segments()
	if len(segs) == 0 {
		return Root, false
	}
	return NewKey(segs[:len(segs)-1]...), true
}

// HasPrefix reports whether prefix is a prefix of k.
func (k Key) HasPrefix(prefix Key) bool {
	if prefix.IsRoot() {
		return true
	}
	return strings.HasPrefix(k.path, prefix.Dir().path)
}

// TrimPrefix returns k relative to prefix, or k unchanged when prefix is not
// a prefix of it.
func (k Key) TrimPrefix(prefix Key) Key {
	if prefix.IsRoot() || !k.HasPrefix(prefix) {
		return k
	}
	return Key{path: strings.TrimPrefix(k.path, prefix.Dir().path)}
}
