package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/display"
)

// StageFunc is the signature every stage shares.
type StageFunc func(ctx context.Context, e *Env, subjects []string) Stats

// StageFuncs maps stage names to their implementation.
var StageFuncs = map[string]StageFunc{
	config.StageAlign:         Align,
	config.StageSessionTable:  SessionTable,
	config.StagePropagate:     PropagateContours,
	config.StageExtractBrain:  ExtractBrain,
	config.StageSegmentTissue: SegmentTissue,
	config.StageAIAA:          AIAASegment,
}

// Run executes the requested stages over subjects in the fixed stage order,
// whatever order they were requested in, then prints the summary table to w.
func Run(ctx context.Context, e *Env, stages []string, subjects []string, w io.Writer) ([]Stats, error) {
	want := make(map[string]bool, len(stages))
	for _, s := range stages {
		if _, ok := StageFuncs[s]; !ok {
			return nil, fmt.Errorf("unknown stage %q", s)
		}
		want[s] = true
	}

	start := time.Now()
	e.Log.Info("Processing %s", display.Plural(len(subjects), "subject"))
	if e.Cfg.DryRun {
		e.Log.Warn("DRY RUN: commands are printed, nothing is written")
	}

	var all []Stats
	for _, name := range config.Stages {
		if !want[name] {
			continue
		}
		if ctx.Err() != nil {
			e.Log.Warn("Interrupted")
			break
		}
		all = append(all, StageFuncs[name](ctx, e, subjects))
	}

	logSummary(e, all, time.Since(start))
	rows := make([]display.SummaryRow, len(all))
	for i, s := range all {
		rows[i] = s.Row()
	}
	if len(rows) > 0 {
		display.PrintSummary(w, rows)
	}
	return all, nil
}

func logSummary(e *Env, all []Stats, elapsed time.Duration) {
	var done, skipped, failed int
	for _, s := range all {
		done += s.Done
		skipped += s.Skipped
		failed += s.Failed
	}
	e.Log.Info("==============================")
	e.Log.Info("Done: %d completed, %d skipped, %d failed in %s", done, skipped, failed, display.FormatDuration(elapsed))
	if failed > 0 {
		e.Log.Warn("%s failed; see the log above", display.Plural(failed, "item"))
	} else {
		e.Log.Success("No failures")
	}
}
