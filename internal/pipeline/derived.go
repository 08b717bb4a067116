package pipeline

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/backmassage/neuroprep/internal/bids"
	"github.com/backmassage/neuroprep/internal/naming"
	"github.com/backmassage/neuroprep/internal/tables"
)

// derived indexes one derivatives pipeline. It is walked fresh every time
// since earlier stages of the same run add files to it. A missing pipeline
// directory yields an empty layout.
func (e *Env) derived(pipeline string) (*bids.Layout, error) {
	root := filepath.Join(e.Cfg.DerivativesDir(), pipeline)
	if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
		return &bids.Layout{Root: root}, nil
	}
	return bids.Index(root, bids.Options{})
}

// references resolves reference volumes, preferring the written reference
// list over choosing again.
type references struct {
	e      *Env
	l      *bids.Layout
	listed map[string]string
}

func newReferences(e *Env, l *bids.Layout) *references {
	r := &references{e: e, l: l}
	path := e.Cfg.ReferenceListPath()
	if !tables.Exists(path) {
		return r
	}
	refs, err := tables.ReadReferenceList(path)
	if err != nil {
		e.Log.Warn("Reference list unreadable, choosing references again: %v", err)
		return r
	}
	r.listed = tables.ReferenceMap(refs)
	return r
}

// path returns the reference volume of subject.
func (r *references) path(subject string) (string, error) {
	if name, ok := r.listed[subject]; ok && name != "" {
		return naming.ReferencePath(r.e.Cfg.BIDSDir, subject, name), nil
	}
	return chooseReference(r.e.Cfg, r.l, subject)
}
