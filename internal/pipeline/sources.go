package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/backmassage/neuroprep/internal/bids"
	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/naming"
	"github.com/backmassage/neuroprep/internal/probe"
)

// Reference keys.
const (
	keyT1wPre  = "t1w_pre"
	keyT1wPost = "t1w_post"
)

// Sources are the raw volumes of one session registered to the reference.
type Sources struct {
	T1wPre  string
	T1wPost string
	DWI     []string
	FLAIR   string
}

// Get returns the T1w for a reference key.
func (s Sources) Get(key string) string {
	switch key {
	case keyT1wPre:
		return s.T1wPre
	case keyT1wPost:
		return s.T1wPost
	}
	return ""
}

// All lists the volumes in registration order: pre, post, DWI runs, then
// FLAIR.
func (s Sources) All() []string {
	var out []string
	for _, p := range []string{s.T1wPre, s.T1wPost} {
		if p != "" {
			out = append(out, p)
		}
	}
	out = append(out, s.DWI...)
	if s.FLAIR != "" {
		out = append(out, s.FLAIR)
	}
	return out
}

// contrast splits the configured contrast tag ("ce-gd") into its entity.
func contrast(cfg *config.Config) (key, value string) {
	key, value, _ = strings.Cut(cfg.ContrastTag, "-")
	return key, value
}

// isPost reports whether a T1w carries the contrast tag.
func isPost(cfg *config.Config, f bids.File) bool {
	k, v := contrast(cfg)
	return f.Entities[k] == v
}

// selectSources picks a session's volumes. T1w acquisitions are tried in
// order and the search stops at the first one that has both a pre- and a
// post-contrast scan; otherwise the last acquisition tried wins. Within an
// acquisition the latest run is used. Every DWI run is included, along with
// the latest FLAIR run that is not an RGB capture.
func selectSources(cfg *config.Config, l *bids.Layout, subject, session string) Sources {
	var src Sources
	for _, acq := range cfg.Acquisitions {
		var pre, post []string
		for _, f := range l.Find(bids.Query{
			Subject: subject, Session: session, Suffix: "T1w",
			Extension: naming.NiftiExt, Acquisition: acq, Scope: bids.ScopeRaw,
		}) {
			if isPost(cfg, f) {
				post = append(post, f.Path)
			} else {
				pre = append(pre, f.Path)
			}
		}
		src.T1wPre, src.T1wPost = last(pre), last(post)
		if src.T1wPre != "" && src.T1wPost != "" {
			break
		}
	}

	dwiQuery := bids.Query{Subject: subject, Session: session, Suffix: "dwi", Extension: naming.NiftiExt, Scope: bids.ScopeRaw}
	o, hasOverride := cfg.Override(subject, session)
	if hasOverride && o.DWIRun != "" {
		dwiQuery.Run = o.DWIRun
	}
	src.DWI = l.Get(dwiQuery)
	src.FLAIR = pickFLAIR(l.Get(bids.Query{
		Subject: subject, Session: session, Suffix: "FLAIR", Extension: naming.NiftiExt, Scope: bids.ScopeRaw,
	}))

	if hasOverride {
		anat := filepath.Join(cfg.BIDSDir, "sub-"+subject, "ses-"+session, "anat")
		if o.T1wPre != "" {
			src.T1wPre = filepath.Join(anat, o.T1wPre)
		}
		if o.T1wPost != "" {
			src.T1wPost = filepath.Join(anat, o.T1wPost)
		}
	}
	return src
}

// pickFLAIR returns the highest run whose header is not RGB. Unreadable
// headers are accepted; FLIRT reports them.
func pickFLAIR(paths []string) string {
	for i := len(paths) - 1; i >= 0; i-- {
		if h, err := probe.ReadHeader(paths[i]); err == nil && h.IsRGB() {
			continue
		}
		return paths[i]
	}
	return ""
}

func last(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	return paths[len(paths)-1]
}

// chooseReference returns the subject's reference volume: the first
// configured key (t1w_pre, then t1w_post) available in the reference
// session. A subject-level reference_date override picks the session
// acquired that day; reference_run restricts the candidates to that run.
func chooseReference(cfg *config.Config, l *bids.Layout, subject string) (string, error) {
	session := cfg.ReferenceSessionFor(subject)
	o, hasOverride := cfg.Override(subject, "")
	if hasOverride && o.ReferenceDate != "" {
		s, err := bids.DateToSession(l, subject, strings.ReplaceAll(o.ReferenceDate, "-", ""))
		if err != nil {
			return "", err
		}
		session = s
	}
	src := selectSources(cfg, l, subject, session)

	if hasOverride && o.ReferenceRun != "" {
		src = Sources{}
		for _, f := range l.Find(bids.Query{
			Subject: subject, Session: session, Suffix: "T1w",
			Extension: naming.NiftiExt, Run: o.ReferenceRun, Scope: bids.ScopeRaw,
		}) {
			if isPost(cfg, f) {
				src.T1wPost = f.Path
			} else {
				src.T1wPre = f.Path
			}
		}
	}

	for _, key := range cfg.ReferenceKeys {
		if p := src.Get(key); p != "" {
			return p, nil
		}
	}
	return "", fmt.Errorf("no reference T1w for sub-%s in ses-%s", subject, session)
}
