// Package bids models the parts of the Brain Imaging Data Structure the
// pipeline relies on: entity-based filenames, a walked index of a dataset
// root, and JSON sidecars.
package bids

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotBIDS is returned by [ParseName] for names that are not key-value
// entity chains followed by a suffix.
var ErrNotBIDS = errors.New("not a BIDS filename")

// Entity is one key-value pair of a filename, e.g. {"ses", "GLIO01"}.
type Entity struct {
	Key   string
	Value string
}

// Name is a parsed BIDS filename such as
// sub-GBM001_ses-GLIO01_acq-fs_ce-gd_run-02_T1w.nii.gz.
// Entities keep their on-disk order.
type Name struct {
	Entities  []Entity
	Suffix    string
	Extension string // From the first dot, e.g. ".nii.gz"; empty for stems.
}

// ParseName parses a basename. The stem (text before the first dot) is split
// on underscores; every token but the last must be key-value and the last is
// the suffix. At least one entity is required.
func ParseName(base string) (Name, error) {
	stem, ext := base, ""
	if i := strings.IndexByte(base, '.'); i >= 0 {
		stem, ext = base[:i], base[i:]
	}
	tokens := strings.Split(stem, "_")
	if len(tokens) < 2 {
		return Name{}, fmt.Errorf("%w: %q", ErrNotBIDS, base)
	}
	n := Name{Suffix: tokens[len(tokens)-1], Extension: ext}
	if n.Suffix == "" || strings.Contains(n.Suffix, "-") {
		return Name{}, fmt.Errorf("%w: %q has no suffix", ErrNotBIDS, base)
	}
	for _, tok := range tokens[:len(tokens)-1] {
		key, value, ok := strings.Cut(tok, "-")
		if !ok || key == "" || value == "" {
			return Name{}, fmt.Errorf("%w: %q has malformed entity %q", ErrNotBIDS, base, tok)
		}
		n.Entities = append(n.Entities, Entity{Key: key, Value: value})
	}
	return n, nil
}

// Stem renders the name without its extension.
func (n Name) Stem() string {
	var b strings.Builder
	for _, e := range n.Entities {
		b.WriteString(e.Key)
		b.WriteByte('-')
		b.WriteString(e.Value)
		b.WriteByte('_')
	}
	b.WriteString(n.Suffix)
	return b.String()
}

// String renders the full basename. ParseName(s).String() == s.
func (n Name) String() string {
	return n.Stem() + n.Extension
}

// Get returns the value of key, or "" when absent.
func (n Name) Get(key string) string {
	for _, e := range n.Entities {
		if e.Key == key {
			return e.Value
		}
	}
	return ""
}

// Has reports whether key is present.
func (n Name) Has(key string) bool {
	for _, e := range n.Entities {
		if e.Key == key {
			return true
		}
	}
	return false
}

// Subject and Session are shorthands for Get("sub") and Get("ses").
func (n Name) Subject() string { return n.Get("sub") }
func (n Name) Session() string { return n.Get("ses") }

// With returns a copy with key set to value: replaced in place when present,
// appended just before the suffix otherwise.
func (n Name) With(key, value string) Name {
	out := n.clone()
	for i := range out.Entities {
		if out.Entities[i].Key == key {
			out.Entities[i].Value = value
			return out
		}
	}
	out.Entities = append(out.Entities, Entity{Key: key, Value: value})
	return out
}

// InsertBeforeSuffix returns a copy with key-value appended as the last
// entity, whether or not key already exists.
func (n Name) InsertBeforeSuffix(key, value string) Name {
	out := n.clone()
	out.Entities = append(out.Entities, Entity{Key: key, Value: value})
	return out
}

// Without returns a copy with every key entity removed.
func (n Name) Without(key string) Name {
	out := n.clone()
	out.Entities = out.Entities[:0]
	for _, e := range n.Entities {
		if e.Key != key {
			out.Entities = append(out.Entities, e)
		}
	}
	return out
}

// WithSuffix returns a copy with a different suffix.
func (n Name) WithSuffix(suffix string) Name {
	out := n.clone()
	out.Suffix = suffix
	return out
}

// WithExtension returns a copy with a different extension (leading dot
// optional).
func (n Name) WithExtension(ext string) Name {
	out := n.clone()
	out.Extension = normalizeExt(ext)
	return out
}

func (n Name) clone() Name {
	out := n
	out.Entities = append([]Entity(nil), n.Entities...)
	return out
}

func normalizeExt(ext string) string {
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}
