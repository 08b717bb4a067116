package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/backmassage/neuroprep/internal/bids"
	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/display"
	"github.com/backmassage/neuroprep/internal/logging"
	"github.com/backmassage/neuroprep/internal/naming"
	"github.com/backmassage/neuroprep/internal/registration"
	"github.com/backmassage/neuroprep/internal/tables"
	"github.com/backmassage/neuroprep/internal/tools"
)

// ROINamesFile maps CT subjects to their GTV and CTV volume names.
const ROINamesFile = "roi_names.csv"

// contourSet describes where the contours of a source live and where their
// registered copies go.
type contourSet struct {
	folder string   // derivatives pipeline holding the contours
	out    string   // derivatives pipeline receiving the registered copies
	labels []string // label entities, in output order
}

func contoursFor(cfg *config.Config) contourSet {
	if cfg.ContourSource == config.ContourAIAA {
		var labels []string
		for _, l := range naming.AIAALabels(cfg.AIAA.NumOutputs) {
			labels = append(labels, l[1])
		}
		return contourSet{folder: naming.AIAAPipeline(cfg.AIAA.NumOutputs), out: naming.PipelineCoregAIAASeg, labels: labels}
	}
	return contourSet{folder: naming.PipelineContours, out: naming.PipelineCoregContours, labels: []string{"GTV", "CTV"}}
}

// PropagateContours moves contours into each subject's reference space.
// Manual and AIAA contours reuse the session's T1w registration matrix; CT
// contours are carried by registering the planning CT to the reference, and
// GLIO contours by registering the T1c they were drawn on.
func PropagateContours(ctx context.Context, e *Env, subjects []string) Stats {
	stats := Stats{Stage: config.StagePropagate}
	e.Log.Stage(config.StagePropagate, logging.StageStart)
	defer e.Log.Stage(config.StagePropagate, logging.StageEnd)
	e.Log.Info("Contour source = %s", e.Cfg.ContourSource)

	l, err := e.Layout(ctx)
	if err != nil {
		e.Log.Error("%v", err)
		return stats
	}
	refs := newReferences(e, l)

	switch e.Cfg.ContourSource {
	case config.ContourCT:
		propagateCT(ctx, e, refs, subjects, &stats)
		return stats
	case config.ContourGLIO:
		propagateGlio(ctx, e, refs, subjects, &stats)
		return stats
	}

	coreg, err := e.derived(naming.PipelineCoreg)
	if err != nil {
		e.Log.Error("%v", err)
		return stats
	}
	set := contoursFor(e.Cfg)
	for _, subject := range subjects {
		if ctx.Err() != nil {
			e.Log.Warn("Interrupted")
			break
		}
		e.Log.Info("Processing: %s", subject)
		ref, err := refs.path(subject)
		if err != nil {
			stats.add(e.finish(ctx, item{stage: config.StagePropagate, subject: subject}, err, false))
			continue
		}
		for _, session := range l.Sessions(subject) {
			propagateSession(ctx, e, coreg, set, &stats, subject, session, ref)
		}
	}
	return stats
}

func propagateSession(ctx context.Context, e *Env, coreg *bids.Layout, set contourSet, stats *Stats, subject, session, ref string) {
	contours := existingContours(e.Cfg, set, subject, session)
	if len(contours) == 0 {
		e.Log.Info("There are no contours: sub-%s_ses-%s", subject, session)
		return
	}

	desc := e.Cfg.CoregDesc
	outDir := naming.DerivativeDir(e.Cfg.BIDSDir, set.out, subject, session, "anat")
	it := item{stage: config.StagePropagate, subject: subject, session: session, output: outDir}
	if err := e.mkdir(outDir); err != nil {
		stats.add(e.finish(ctx, it, err, false))
		return
	}

	if session == naming.SessionOf(naming.ReferenceName(ref)) && refIsPost(e.Cfg, ref) {
		skipped, err := linkContours(e, contours, outDir)
		stats.add(e.finish(ctx, it, err, skipped && err == nil))
		return
	}

	t1w := registeredT1w(e.Cfg, coreg, subject, session)
	if t1w == "" {
		stats.add(e.finish(ctx, it, fmt.Errorf("no registered T1w with a matrix: %w", tools.ErrMissingInput), false))
		return
	}
	outs := make([]string, len(contours))
	for i, c := range contours {
		outs[i] = naming.Coreg(c, outDir, desc).Volume
	}
	if !e.Cfg.Overwrite && allExist(outs) {
		stats.add(e.finish(ctx, it, nil, true))
		return
	}

	e.Log.Info("Propagating %s", display.Plural(len(contours), "contour"))
	_, err := e.registrar().Apply(ctx, registration.ApplyRequest{
		Inputs: contours,
		Ref:    ref,
		Matrix: matrixOf(t1w),
		OutDir: outDir,
		Desc:   desc,
		Interp: tools.InterpNearestNeighbour,
	})
	if err == nil {
		err = writeContourSidecars(e, t1w, ref, contours, outs)
	}
	stats.add(e.finish(ctx, it, err, false))
}

// existingContours lists the session's contour files that are present.
func existingContours(cfg *config.Config, set contourSet, subject, session string) []string {
	dir := naming.DerivativeDir(cfg.BIDSDir, set.folder, subject, session, "anat")
	var out []string
	for _, label := range set.labels {
		p := filepath.Join(dir, naming.Contour(subject, session, label)+naming.NiftiExt)
		if exists(p) {
			out = append(out, p)
		}
	}
	return out
}

// registeredT1w returns the session's coreg T1w whose matrix exists,
// preferring post-contrast and then the configured acquisition order.
func registeredT1w(cfg *config.Config, coreg *bids.Layout, subject, session string) string {
	files := coreg.Find(bids.Query{Subject: subject, Session: session, Suffix: "T1w", Extension: naming.NiftiExt})
	for _, post := range []bool{true, false} {
		for _, acq := range cfg.Acquisitions {
			for _, f := range files {
				if post && !isPost(cfg, f) {
					continue
				}
				if f.Entities["acq"] == acq && exists(matrixOf(f.Path)) {
					return f.Path
				}
			}
		}
	}
	return ""
}

func matrixOf(volume string) string {
	return strings.TrimSuffix(volume, naming.NiftiExt) + ".mat"
}

func refIsPost(cfg *config.Config, ref string) bool {
	n, err := bids.ParseName(filepath.Base(ref))
	if err != nil {
		return false
	}
	k, v := contrast(cfg)
	return n.Get(k) == v
}

// linkContours symlinks contours drawn on the reference itself. skipped is
// true when every link already existed.
func linkContours(e *Env, contours []string, outDir string) (skipped bool, err error) {
	skipped = true
	for _, c := range contours {
		link := naming.ContourLink(outDir, c, e.Cfg.CoregDesc)
		if exists(link) && !e.Cfg.Overwrite {
			e.Log.Debug(e.Cfg.Verbose, "Symlink already exists: %s", link)
			continue
		}
		skipped = false
		if e.Cfg.DryRun {
			e.Log.Info("[dry-run] link %s -> %s", link, c)
			continue
		}
		removeIfExists(e, link)
		if err := os.Symlink(c, link); err != nil {
			return false, err
		}
		e.Log.Info("Symlink created: %s", link)
	}
	return skipped, nil
}

// writeContourSidecars records the raw T1w the contours were drawn on, the
// contour itself and the reference for each registered contour.
func writeContourSidecars(e *Env, t1wCoreg, ref string, contours, outs []string) error {
	if e.Cfg.DryRun {
		return nil
	}
	raw, err := naming.SourceFromCoreg(e.Cfg.BIDSDir, t1wCoreg, e.Cfg.CoregDesc)
	if err != nil {
		return err
	}
	for i, c := range contours {
		d := bids.Derived{
			RawSources:       []string{bids.Relative(raw, false)},
			Sources:          []string{bids.Relative(c, true)},
			SpatialReference: bids.Relative(ref, false),
		}
		if err := bids.WriteSidecar(sidecarOf(outs[i]), d); err != nil {
			return err
		}
	}
	return nil
}

// propagateCT registers each subject's planning CT to the reference T1w
// (estimated reference -> CT, then inverted) and carries its GTV and CTV.
func propagateCT(ctx context.Context, e *Env, refs *references, subjects []string, stats *Stats) {
	namesPath := filepath.Join(e.Cfg.ContoursDir, ROINamesFile)
	roiNames, err := tables.ReadROINames(namesPath)
	if err != nil {
		e.Log.Error("ROI names: %v", err)
		return
	}

	for _, subject := range subjects {
		if ctx.Err() != nil {
			e.Log.Warn("Interrupted")
			return
		}
		e.Log.Info("Processing: %s", subject)
		it := item{stage: config.StagePropagate, subject: subject}

		ref, err := refs.path(subject)
		if err != nil {
			stats.add(e.finish(ctx, it, err, false))
			continue
		}
		session := naming.SessionOf(naming.ReferenceName(ref))
		it.session = session

		ct, rois, err := ctInputs(e.Cfg, roiNames, subject)
		if err != nil {
			stats.add(e.finish(ctx, it, err, false))
			continue
		}
		outDir := naming.DerivativeDir(e.Cfg.BIDSDir, naming.PipelineCTContours, subject, session, "anat")
		it.output = outDir

		outs := []string{naming.Coreg(ct, outDir, e.Cfg.CoregDesc).Volume}
		for _, r := range rois {
			outs = append(outs, naming.Coreg(r, outDir, e.Cfg.CoregDesc).Volume)
		}
		if !e.Cfg.Overwrite && allExist(outs) {
			stats.add(e.finish(ctx, it, nil, true))
			continue
		}

		err = e.mkdir(outDir)
		if err == nil {
			_, err = e.registrar().Propagate(ctx, registration.Request{
				In:       ct,
				Ref:      ref,
				OutDir:   outDir,
				Desc:     e.Cfg.CoregDesc,
				Resample: e.Cfg.ResampleMM,
				Inverse:  true,
				ROIs:     rois,
			})
		}
		stats.add(e.finish(ctx, it, err, false))
	}
}

// ctInputs returns the CT reference volume and ROI volumes of subject.
func ctInputs(cfg *config.Config, roiNames map[string]tables.ROINames, subject string) (string, []string, error) {
	dir := filepath.Join(cfg.ContoursDir, subject)
	if o, ok := cfg.Override(subject, ""); ok && o.CTDir != "" {
		dir = o.CTDir
	}
	ct := filepath.Join(dir, "REFERENCE"+naming.NiftiExt)
	if !exists(ct) {
		return "", nil, fmt.Errorf("%w: %s", tools.ErrMissingInput, ct)
	}
	names, ok := roiNames[subject]
	if !ok || len(names.Names()) == 0 {
		return "", nil, fmt.Errorf("no ROI names for %s in %s", subject, ROINamesFile)
	}
	var rois []string
	for _, n := range names.Names() {
		p := filepath.Join(dir, n+naming.NiftiExt)
		if !exists(p) {
			return "", nil, fmt.Errorf("%w: %s", tools.ErrMissingInput, p)
		}
		rois = append(rois, p)
	}
	return ct, rois, nil
}

var (
	gtvPattern = regexp.MustCompile(`(?i)gtv`)
	ctvPattern = regexp.MustCompile(`(?i)ctv`)
)

// propagateGlio walks <glio dir>/sub-<s>/ses-<t>/ folders, each holding the
// T1c a contour set was drawn on (reference.nii.gz) and its GTV and CTV
// volumes.
func propagateGlio(ctx context.Context, e *Env, refs *references, subjects []string, stats *Stats) {
	for _, subject := range subjects {
		if ctx.Err() != nil {
			e.Log.Warn("Interrupted")
			return
		}
		dir := filepath.Join(e.Cfg.GlioDir, "sub-"+subject)
		if !exists(dir) {
			e.Log.Info("Directory of GLIO contours does not exist, skipping: %s", dir)
			continue
		}
		e.Log.Info("Processing: %s", subject)

		ref, err := refs.path(subject)
		if err != nil {
			stats.add(e.finish(ctx, item{stage: config.StagePropagate, subject: subject}, err, false))
			continue
		}
		sessions, err := filepath.Glob(filepath.Join(dir, "ses-*"))
		if err != nil {
			stats.add(e.finish(ctx, item{stage: config.StagePropagate, subject: subject}, err, false))
			continue
		}
		for _, sesDir := range sessions {
			propagateGlioSession(ctx, e, stats, subject, sesDir, ref)
		}
	}
}

func propagateGlioSession(ctx context.Context, e *Env, stats *Stats, subject, sesDir, ref string) {
	session := strings.TrimPrefix(filepath.Base(sesDir), "ses-")
	outDir := naming.DerivativeDir(e.Cfg.BIDSDir, naming.PipelineGlioContours, subject, session, "anat")
	it := item{stage: config.StagePropagate, subject: subject, session: session, output: outDir}

	t1c, contours, err := glioInputs(sesDir)
	if err != nil {
		stats.add(e.finish(ctx, it, err, false))
		return
	}
	outs := []string{naming.Coreg(t1c, outDir, e.Cfg.CoregDesc).Volume}
	for _, c := range contours {
		outs = append(outs, naming.Coreg(c, outDir, e.Cfg.CoregDesc).Volume)
	}
	if !e.Cfg.Overwrite && allExist(outs) {
		stats.add(e.finish(ctx, it, nil, true))
		return
	}

	e.Log.Info("Propagating %s", display.Plural(len(contours), "contour"))
	err = e.mkdir(outDir)
	if err == nil {
		_, err = e.registrar().Propagate(ctx, registration.Request{
			In:       t1c,
			Ref:      ref,
			OutDir:   outDir,
			Desc:     e.Cfg.CoregDesc,
			Resample: e.Cfg.ResampleMM,
			ROIs:     contours,
		})
	}
	stats.add(e.finish(ctx, it, err, false))
}

// glioInputs returns the session's T1c and its contour volumes, GTVs before
// CTVs. Names are matched case-insensitively.
func glioInputs(dir string) (string, []string, error) {
	t1c := filepath.Join(dir, "reference"+naming.NiftiExt)
	if !exists(t1c) {
		return "", nil, fmt.Errorf("%w: %s", tools.ErrMissingInput, t1c)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, err
	}
	var gtv, ctv []string
	for _, en := range entries {
		name := en.Name()
		if en.IsDir() || !strings.HasSuffix(name, naming.NiftiExt) {
			continue
		}
		switch {
		case gtvPattern.MatchString(name):
			gtv = append(gtv, filepath.Join(dir, name))
		case ctvPattern.MatchString(name):
			ctv = append(ctv, filepath.Join(dir, name))
		}
	}
	return t1c, append(gtv, ctv...), nil
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if !exists(p) {
			return false
		}
	}
	return true
}
