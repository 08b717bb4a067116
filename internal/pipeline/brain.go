package pipeline

import (
	"context"
	"fmt"

	"github.com/backmassage/neuroprep/internal/bids"
	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/logging"
	"github.com/backmassage/neuroprep/internal/naming"
	"github.com/backmassage/neuroprep/internal/tools"
)

// ExtractBrain skull-strips each subject's reference T1w with HD-BET and
// renames the outputs to their BIDS brain and mask names. A subject whose
// mask exists is skipped.
func ExtractBrain(ctx context.Context, e *Env, subjects []string) Stats {
	stats := Stats{Stage: config.StageExtractBrain}
	e.Log.Stage(config.StageExtractBrain, logging.StageStart)
	defer e.Log.Stage(config.StageExtractBrain, logging.StageEnd)

	l, err := e.Layout(ctx)
	if err != nil {
		e.Log.Error("%v", err)
		return stats
	}
	refs := newReferences(e, l)

	for _, subject := range subjects {
		if ctx.Err() != nil {
			e.Log.Warn("Interrupted")
			break
		}
		e.Log.Info("Processing: %s", subject)
		it := item{stage: config.StageExtractBrain, subject: subject}
		t1w, err := refs.path(subject)
		if err == nil && !exists(t1w) {
			err = fmt.Errorf("T1w file not found: %w", tools.ErrMissingInput)
		}
		if err != nil {
			stats.add(e.finish(ctx, it, err, false))
			continue
		}
		it.session = naming.SessionOf(naming.ReferenceName(t1w))
		skipped, err := extractBrain(ctx, e, subject, it.session, t1w, &it)
		stats.add(e.finish(ctx, it, err, skipped))
	}
	return stats
}

func extractBrain(ctx context.Context, e *Env, subject, session, t1w string, it *item) (bool, error) {
	outDir := naming.DerivativeDir(e.Cfg.BIDSDir, naming.PipelineHDBET, subject, session, "anat")
	brain := naming.BrainVolume(outDir, t1w)
	mask, err := naming.BrainMask(outDir, t1w)
	if err != nil {
		return false, err
	}
	it.output = mask
	if !e.needs(mask) {
		e.Log.Debug(e.Cfg.Verbose, "Brain mask already exists: %s", mask)
		return true, nil
	}
	if err := e.mkdir(outDir); err != nil {
		return false, err
	}

	base := naming.HDBETBase(outDir, t1w)
	e.Log.Info("Calling HD-BET for brain extraction")
	if err := e.run(ctx, tools.HDBET(e.Cfg.Tools, t1w, base)); err != nil {
		return false, err
	}
	if e.Cfg.DryRun {
		return false, nil
	}
	if err := rename(base+naming.NiftiExt, brain); err != nil {
		return false, err
	}
	if err := rename(base+"_mask"+naming.NiftiExt, mask); err != nil {
		return false, err
	}
	raw := bids.Derived{RawSources: []string{bids.Relative(t1w, false)}}
	for _, p := range []string{brain, mask} {
		if err := bids.WriteSidecar(sidecarOf(p), raw); err != nil {
			return false, err
		}
	}
	return false, nil
}

// SegmentTissue runs FSL FAST on each subject's extracted brain and renames
// the partial volume maps to csf, gm and wm. A subject whose hard
// segmentation exists is skipped.
func SegmentTissue(ctx context.Context, e *Env, subjects []string) Stats {
	stats := Stats{Stage: config.StageSegmentTissue}
	e.Log.Stage(config.StageSegmentTissue, logging.StageStart)
	defer e.Log.Stage(config.StageSegmentTissue, logging.StageEnd)

	l, err := e.Layout(ctx)
	if err != nil {
		e.Log.Error("%v", err)
		return stats
	}
	refs := newReferences(e, l)

	for _, subject := range subjects {
		if ctx.Err() != nil {
			e.Log.Warn("Interrupted")
			break
		}
		e.Log.Info("Processing: %s", subject)
		it := item{stage: config.StageSegmentTissue, subject: subject}
		t1w, err := refs.path(subject)
		if err != nil {
			stats.add(e.finish(ctx, it, err, false))
			continue
		}
		it.session = naming.SessionOf(naming.ReferenceName(t1w))
		skipped, err := segmentTissue(ctx, e, subject, it.session, t1w, &it)
		stats.add(e.finish(ctx, it, err, skipped))
	}
	return stats
}

func segmentTissue(ctx context.Context, e *Env, subject, session, t1w string, it *item) (bool, error) {
	hdbet := naming.DerivativeDir(e.Cfg.BIDSDir, naming.PipelineHDBET, subject, session, "anat")
	brain := naming.BrainVolume(hdbet, t1w)
	outDir := naming.DerivativeDir(e.Cfg.BIDSDir, naming.PipelineFAST, subject, session, "anat")
	base := naming.TissueBase(outDir, brain)
	seg := naming.TissueSeg(base)
	it.output = seg

	if !e.needs(seg) {
		e.Log.Debug(e.Cfg.Verbose, "Segmentation volume already exists: %s", seg)
		return true, nil
	}
	if !exists(brain) && !e.Cfg.DryRun {
		return false, fmt.Errorf("brain volume %s: %w", brain, tools.ErrMissingInput)
	}
	if err := e.mkdir(outDir); err != nil {
		return false, err
	}

	e.Log.Info("Calling FSL FAST for segmentation")
	if err := e.run(ctx, tools.FAST(e.Cfg.Tools, base, brain)); err != nil {
		return false, err
	}
	if e.Cfg.DryRun {
		return false, nil
	}
	d := bids.Derived{
		RawSources: []string{bids.Relative(t1w, false)},
		Sources:    []string{bids.Relative(brain, true)},
	}
	for _, c := range naming.TissueClasses(base) {
		if exists(c.PVE) {
			if err := rename(c.PVE, c.Label); err != nil {
				return false, err
			}
		}
		if err := bids.WriteSidecar(sidecarOf(c.Label), d); err != nil {
			return false, err
		}
	}
	return false, bids.WriteSidecar(sidecarOf(seg), d)
}
