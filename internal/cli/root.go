// Package cli wires the neuroprep commands: one per pipeline stage, a
// combined run, and inspection commands over the dataset and run ledger.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/logging"
	"github.com/backmassage/neuroprep/internal/store"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0-dev"

// app is the state shared by every command of one invocation.
type app struct {
	cfg   config.Config
	neg   config.NegatedFlags
	log   *logging.Logger
	store *store.Store
}

// NewRootCommand creates the neuroprep command tree.
func NewRootCommand() *cobra.Command {
	a := &app{cfg: config.DefaultConfig()}

	cmd := &cobra.Command{
		Use:   "neuroprep",
		Short: "Preprocess a longitudinal BIDS neuro-oncology dataset",
		Long: `neuroprep aligns every session of a subject to a reference T1w,
propagates contours into that space, extracts the brain, segments tissue and
tumour, and keeps BIDS-style names and sidecars for everything it writes.

Registration, skull stripping and segmentation run in FSL, HD-BET and the
AIAA client tools; outputs that already exist are skipped unless --force.`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}
	config.BindPersistentFlags(cmd.PersistentFlags(), &a.cfg, &a.neg)

	cmd.AddCommand(newStageCommand(a, config.StageAlign, "Register every session to the subject's reference T1w"))
	cmd.AddCommand(newStageCommand(a, config.StageSessionTable, "Write the session to treatment-day table"))
	cmd.AddCommand(newStageCommand(a, config.StagePropagate, "Carry contours into the reference space"))
	cmd.AddCommand(newStageCommand(a, config.StageExtractBrain, "Skull-strip the reference T1w with HD-BET"))
	cmd.AddCommand(newStageCommand(a, config.StageSegmentTissue, "Segment CSF, GM and WM with FSL FAST"))
	cmd.AddCommand(newStageCommand(a, config.StageAIAA, "Segment tumours with the AIAA server"))
	cmd.AddCommand(newRunCommand(a))
	cmd.AddCommand(newSubjectsCommand(a))
	cmd.AddCommand(newLayoutCommand(a))
	cmd.AddCommand(newCheckCommand(a))
	cmd.AddCommand(newReportCommand(a))
	cmd.AddCommand(newHistoryCommand(a))
	return cmd
}

// setup merges the project file under the flags, then opens the logger and
// the optional store.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if a.cfg.ConfigFile != "" {
		if err := a.loadProjectFile(cmd); err != nil {
			return err
		}
	}
	config.ApplyNegatedFlags(&a.cfg, &a.neg)
	if cmd.Name() == "check" {
		a.cfg.CheckOnly = true
	}
	a.cfg.Resolve()
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.NewLogger(&a.cfg)
	if err != nil {
		return err
	}
	log.SetOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())
	a.log = log

	if a.cfg.IndexDB != "" {
		st, err := store.Open(a.cfg.IndexDB)
		if err != nil {
			return fmt.Errorf("open %s: %w", a.cfg.IndexDB, err)
		}
		a.store = st
	}
	return nil
}

// loadProjectFile reads the YAML project file. Flags given on the command
// line win over keys in the file: their values are captured before the file
// is decoded and set again afterwards.
func (a *app) loadProjectFile(cmd *cobra.Command) error {
	type given struct {
		flag  *pflag.Flag
		value string
		slice []string
	}
	var keep []given
	cmd.Flags().Visit(func(f *pflag.Flag) {
		g := given{flag: f, value: f.Value.String()}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			g.slice = append([]string(nil), sv.GetSlice()...)
		}
		keep = append(keep, g)
	})

	if err := config.Load(&a.cfg, a.cfg.ConfigFile); err != nil {
		return err
	}

	for _, g := range keep {
		var err error
		if sv, ok := g.flag.Value.(pflag.SliceValue); ok {
			err = sv.Replace(g.slice)
		} else {
			err = g.flag.Value.Set(g.value)
		}
		if err != nil {
			return fmt.Errorf("--%s: %w", g.flag.Name, err)
		}
	}
	return nil
}

func (a *app) teardown() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	if a.log != nil {
		if cerr := a.log.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
