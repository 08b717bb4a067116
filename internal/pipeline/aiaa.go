package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/backmassage/neuroprep/internal/bids"
	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/logging"
	"github.com/backmassage/neuroprep/internal/naming"
	"github.com/backmassage/neuroprep/internal/probe"
	"github.com/backmassage/neuroprep/internal/tools"
)

// aiaaInputs are the registered volumes one segmentation needs.
type aiaaInputs struct {
	T1ce, T1, FLAIR string
}

func (in aiaaInputs) valid() bool {
	return in.T1ce != "" && in.T1 != "" && in.FLAIR != ""
}

// AIAASegment segments tumours on every registered session: aiaa-preproc
// merges the T1ce, T1 and FLAIR volumes, then aiaa-segment asks the server's
// model for the masks. Each step is skipped when its outputs exist.
func AIAASegment(ctx context.Context, e *Env, subjects []string) Stats {
	stats := Stats{Stage: config.StageAIAA}
	e.Log.Stage(config.StageAIAA, logging.StageStart)
	defer e.Log.Stage(config.StageAIAA, logging.StageEnd)

	model := e.Cfg.AIAAModel()
	e.Log.Info("Model = %s, server = %s", model, e.Cfg.AIAA.Server)

	coreg, err := e.derived(naming.PipelineCoreg)
	if err != nil {
		e.Log.Error("%v", err)
		return stats
	}
	for _, subject := range subjects {
		if ctx.Err() != nil {
			e.Log.Warn("Interrupted")
			break
		}
		for _, session := range coreg.Sessions(subject) {
			e.Log.Info("Processing: sub-%s_ses-%s", subject, session)
			in := findAIAAInputs(e, coreg, subject, session)
			work := naming.DerivativeDir(e.Cfg.BIDSDir, naming.AIAAPipeline(e.Cfg.AIAA.NumOutputs), subject, session, "anat")
			it := item{stage: config.StageAIAA, subject: subject, session: session, output: work}
			if !in.valid() {
				err := fmt.Errorf("not valid for AIAA segmentation (t1ce=%q t1=%q flair=%q): %w",
					baseOrMissing(in.T1ce), baseOrMissing(in.T1), baseOrMissing(in.FLAIR), tools.ErrMissingInput)
				stats.add(e.finish(ctx, it, err, false))
				continue
			}
			skipped, err := segmentSession(ctx, e, in, model, subject, session, work)
			stats.add(e.finish(ctx, it, err, skipped))
		}
	}
	return stats
}

// findAIAAInputs picks the first post-contrast T1w, the first other T1w and
// the first FLAIR of a registered session. FLAIR volumes stored as RGB
// screenshots are passed over.
func findAIAAInputs(e *Env, coreg *bids.Layout, subject, session string) aiaaInputs {
	var in aiaaInputs
	for _, f := range coreg.Find(bids.Query{Subject: subject, Session: session, Extension: naming.NiftiExt}) {
		switch f.Suffix {
		case "T1w":
			if isPost(e.Cfg, f) {
				if in.T1ce == "" {
					in.T1ce = f.Path
				}
			} else if in.T1 == "" {
				in.T1 = f.Path
			}
		case "FLAIR":
			if in.FLAIR != "" {
				continue
			}
			if h, err := probe.ReadHeader(f.Path); err == nil && h.IsRGB() {
				e.Log.Warn("Skipping RGB FLAIR: %s", filepath.Base(f.Path))
				continue
			}
			in.FLAIR = f.Path
		}
	}
	return in
}

func segmentSession(ctx context.Context, e *Env, in aiaaInputs, model, subject, session, work string) (bool, error) {
	merged := naming.AIAAMerged(work, subject, session)
	masks := naming.AIAAMasks(work, subject, session, e.Cfg.AIAA.NumOutputs)
	skipped := true

	if err := e.mkdir(work); err != nil {
		return false, err
	}

	if e.needs(merged) {
		skipped = false
		if err := e.run(ctx, tools.AIAAPreproc(e.Cfg.Tools, e.Cfg.AIAA, in.T1ce, in.T1, in.FLAIR, work)); err != nil {
			return false, err
		}
		if !e.Cfg.DryRun {
			if err := rename(naming.AIAAPreprocOutput(work), merged); err != nil {
				return false, err
			}
		}
	} else {
		e.Log.Debug(e.Cfg.Verbose, "sub-%s_ses-%s: aiaa-preproc already run", subject, session)
	}

	if !e.Cfg.Overwrite && masksExist(masks) {
		e.Log.Debug(e.Cfg.Verbose, "sub-%s_ses-%s: aiaa-segment already run", subject, session)
		return skipped, nil
	}
	output := naming.AIAASegOutput(work, subject, session)
	if err := e.run(ctx, tools.AIAASegment(e.Cfg.Tools, e.Cfg.AIAA, merged, model, filepath.Base(output), work)); err != nil {
		return false, err
	}
	if e.Cfg.DryRun {
		return false, nil
	}
	for _, m := range masks {
		if err := rename(m.Output, m.Mask); err != nil {
			return false, err
		}
	}
	removeIfExists(e, output)
	return false, nil
}

func baseOrMissing(path string) string {
	if path == "" {
		return "<missing>"
	}
	return filepath.Base(path)
}

func masksExist(masks []naming.MaskRename) bool {
	for _, m := range masks {
		if !exists(m.Mask) {
			return false
		}
	}
	return true
}
