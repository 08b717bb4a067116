package bids

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Scopes reported on [File].
const (
	ScopeRaw         = "raw"
	ScopeDerivatives = "derivatives"
)

// File is one indexed dataset file.
type File struct {
	Path      string
	Scope     string // "raw" or "derivatives/<pipeline>".
	Datatype  string // Parent directory, e.g. "anat" or "dwi".
	Subject   string
	Session   string
	Entities  map[string]string
	Suffix    string
	Extension string
}

// Name rebuilds the parsed name from the file's basename.
func (f File) Name() Name {
	n, _ := ParseName(filepath.Base(f.Path))
	return n
}

// Options controls what [Index] walks.
type Options struct {
	Derivatives bool // Also index derivatives/<pipeline>/ trees.
}

// Layout is an in-memory index of a dataset root.
type Layout struct {
	Root  string
	Files []File
}

// Index walks root and records every file whose basename parses as a BIDS
// name carrying a sub entity. Hidden directories, sourcedata/ and code/ are
// never entered; derivatives/ only when opts.Derivatives is set.
func Index(root string, opts Options) (*Layout, error) {
	l := &Layout{Root: filepath.Clean(root)}
	err := filepath.WalkDir(l.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == l.Root {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") || name == "sourcedata" || name == "code" {
				return filepath.SkipDir
			}
			if name == "derivatives" && filepath.Dir(path) == l.Root && !opts.Derivatives {
				return filepath.SkipDir
			}
			return nil
		}
		if f, ok := l.fileFor(path); ok {
			l.Files = append(l.Files, f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", root, err)
	}
	sort.Slice(l.Files, func(i, j int) bool { return l.Files[i].Path < l.Files[j].Path })
	return l, nil
}

// fileFor classifies path; ok is false for names that do not parse.
func (l *Layout) fileFor(path string) (File, bool) {
	n, err := ParseName(filepath.Base(path))
	if err != nil || n.Subject() == "" {
		return File{}, false
	}
	f := File{
		Path:      path,
		Scope:     ScopeRaw,
		Datatype:  filepath.Base(filepath.Dir(path)),
		Subject:   n.Subject(),
		Session:   n.Session(),
		Entities:  make(map[string]string, len(n.Entities)),
		Suffix:    n.Suffix,
		Extension: n.Extension,
	}
	for _, e := range n.Entities {
		f.Entities[e.Key] = e.Value
	}
	if rel, err := filepath.Rel(l.Root, path); err == nil {
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) > 2 && parts[0] == "derivatives" {
			f.Scope = ScopeDerivatives + "/" + parts[1]
		}
	}
	return f, true
}

// Query filters [Layout.Get]. Empty fields match anything.
type Query struct {
	Subject     string
	Session     string
	Suffix      string
	Extension   string // With or without the leading dot.
	Acquisition string
	Run         string
	Datatype    string
	Scope       string // "raw", "derivatives", or "derivatives/<pipeline>".
}

func (q Query) match(f File) bool {
	switch {
	case q.Subject != "" && f.Subject != q.Subject,
		q.Session != "" && f.Session != q.Session,
		q.Suffix != "" && f.Suffix != q.Suffix,
		q.Extension != "" && f.Extension != normalizeExt(q.Extension),
		q.Acquisition != "" && f.Entities["acq"] != q.Acquisition,
		q.Run != "" && f.Entities["run"] != q.Run,
		q.Datatype != "" && f.Datatype != q.Datatype:
		return false
	}
	switch q.Scope {
	case "":
		return true
	case ScopeDerivatives:
		return strings.HasPrefix(f.Scope, ScopeDerivatives+"/")
	default:
		return f.Scope == q.Scope
	}
}

// Find returns matching files sorted by path.
func (l *Layout) Find(q Query) []File {
	var out []File
	for _, f := range l.Files {
		if q.match(f) {
			out = append(out, f)
		}
	}
	return out
}

// Get returns matching paths sorted lexicographically.
func (l *Layout) Get(q Query) []string {
	files := l.Find(q)
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

// Subjects lists subject labels, sorted and unique.
func (l *Layout) Subjects() []string {
	return l.unique(func(f File) (string, bool) { return f.Subject, true })
}

// Sessions lists the sessions of subject, sorted and unique.
func (l *Layout) Sessions(subject string) []string {
	return l.unique(func(f File) (string, bool) {
		return f.Session, f.Subject == subject && f.Session != ""
	})
}

func (l *Layout) unique(key func(File) (string, bool)) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range l.Files {
		k, ok := key(f)
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Relative returns path relative to the dataset root it lives in: raw files
// sit three directories below the root (sub/ses/datatype), derivatives five
// (derivatives/pipeline/sub/ses/datatype).
func Relative(path string, derived bool) string {
	n := 3
	if derived {
		n = 5
	}
	parts := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
	if len(parts) < n+2 {
		return path
	}
	return strings.Join(parts[len(parts)-n-1:], "/")
}
