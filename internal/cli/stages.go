package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backmassage/neuroprep/internal/check"
	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/display"
	"github.com/backmassage/neuroprep/internal/pipeline"
)

// ErrFailures is returned when a run finished with failed items. Every
// item was still attempted.
var ErrFailures = errors.New("some items failed")

// newStageCommand builds the command that runs a single stage.
func newStageCommand(a *app, stage, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   stage,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStages(cmd, []string{stage})
		},
	}
	switch stage {
	case config.StageAlign:
		cmd.Flags().BoolVar(&a.cfg.RefNamesOnly, "refnames", false, "Only write the subject reference list")
	case config.StagePropagate:
		config.BindContourSource(cmd.Flags(), &a.cfg)
	case config.StageAIAA:
		config.BindNumOutputs(cmd.Flags(), &a.cfg)
	}
	return cmd
}

// runFlags selects stages for the run command.
type runFlags struct {
	align, sessionTable, propagate, brain, tissue, aiaa bool
}

func (f runFlags) stages() []string {
	var out []string
	for _, s := range []struct {
		on   bool
		name string
	}{
		{f.align, config.StageAlign},
		{f.sessionTable, config.StageSessionTable},
		{f.propagate, config.StagePropagate},
		{f.brain, config.StageExtractBrain},
		{f.tissue, config.StageSegmentTissue},
		{f.aiaa, config.StageAIAA},
	} {
		if s.on {
			out = append(out, s.name)
		}
	}
	return out
}

func newRunCommand(a *app) *cobra.Command {
	var f runFlags
	var all bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run several stages in pipeline order",
		Long: `Run the selected stages in their fixed order:
align, session-table, propagate, extract-brain, segment-tissue, aiaa.

Example:
  neuroprep run --config project.yaml --align --prop-contours
  neuroprep run --all --subjects GBM001,GBM004 --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stages := f.stages()
			if all {
				stages = config.Stages
			}
			if len(stages) == 0 {
				return errors.New("no stages selected (see --help)")
			}
			return a.runStages(cmd, stages)
		},
	}
	fs := cmd.Flags()
	fs.BoolVar(&f.align, "align", false, "Register sessions to the reference")
	fs.BoolVar(&f.sessionTable, "session-table", false, "Write the session-day table")
	fs.BoolVar(&f.propagate, "prop-contours", false, "Propagate contours")
	fs.BoolVar(&f.brain, "do-bet", false, "Extract the brain with HD-BET")
	fs.BoolVar(&f.tissue, "fast", false, "Segment tissue with FSL FAST")
	fs.BoolVar(&f.aiaa, "run-aiaa", false, "Segment tumours with AIAA")
	fs.BoolVar(&all, "all", false, "Run every stage")
	fs.BoolVar(&a.cfg.RefNamesOnly, "refnames", false, "Align: only write the subject reference list")
	config.BindContourSource(fs, &a.cfg)
	config.BindNumOutputs(fs, &a.cfg)
	return cmd
}

// runStages checks the tools, selects subjects and runs stages under one
// ledger entry.
func (a *app) runStages(cmd *cobra.Command, stages []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	display.PrintBanner(out)
	a.log.Info("=== neuroprep v%s ===", Version)
	a.log.Info("BIDS:    %s", a.cfg.BIDSDir)
	a.log.Info("Results: %s", a.cfg.ResultsDir)

	if !a.cfg.DryRun {
		if err := check.CheckDeps(&a.cfg, stages); err != nil {
			return err
		}
	}

	env := pipeline.NewEnv(&a.cfg, a.log, a.store)
	l, err := env.Layout(ctx)
	if err != nil {
		return err
	}
	subjects, err := pipeline.SelectSubjects(&a.cfg, l)
	if err != nil {
		return err
	}
	if len(subjects) == 0 {
		a.log.Warn("No subjects to process")
		return nil
	}

	if a.store != nil {
		id, err := a.store.BeginRun(ctx, cmd.CommandPath())
		if err != nil {
			return err
		}
		env.RunID = id
		a.log.Debug(a.cfg.Verbose, "Run %s", id)
		defer func() {
			if err := a.store.EndRun(ctx, id); err != nil {
				a.log.Warn("ledger: %v", err)
			}
		}()
	}

	all, err := pipeline.Run(ctx, env, stages, subjects, out)
	if err != nil {
		return err
	}
	failed := 0
	for _, s := range all {
		failed += s.Failed
	}
	if failed > 0 {
		return fmt.Errorf("%w: %s", ErrFailures, display.Plural(failed, "item"))
	}
	return ctx.Err()
}
