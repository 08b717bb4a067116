package config

// This file binds CLI flags onto Config. Commands register the persistent
// group on the root and stage-specific flags on each subcommand.
// Negated flags (--force, --no-color) are applied after Parse so Config
// defaults hold unless set.

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// NegatedFlags holds boolean flags applied after Parse. They either invert a
// default (force -> Overwrite) or override the color mode.
type NegatedFlags struct {
	Force      bool
	ForceColor bool
	NoColor    bool
}

// BindPersistentFlags registers the flags shared by every subcommand.
func BindPersistentFlags(fs *pflag.FlagSet, cfg *Config, n *NegatedFlags) {
	fs.StringVar(&cfg.ConfigFile, "config", "", "Project file (YAML)")
	fs.StringVar(&cfg.ProjectDir, "project", cfg.ProjectDir, "Project root; relative paths resolve against it")
	fs.StringVar(&cfg.BIDSDir, "bids", "", "BIDS dataset directory (default: <project>/bids)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Verbose output")
	fs.BoolVarP(&cfg.DryRun, "dry-run", "d", false, "Preview only; do not run external tools")
	fs.BoolVarP(&n.Force, "force", "f", false, "Re-run steps whose outputs already exist")
	fs.BoolVar(&n.ForceColor, "color", false, "Force colored logs")
	fs.BoolVar(&n.NoColor, "no-color", false, "Disable colored logs")
	fs.StringVarP(&cfg.LogFile, "log", "l", "", "Append logs to file")
	fs.StringSliceVar(&cfg.Subjects, "subjects", nil, "Subjects to process, or a CSV file with a Subject column")
	fs.StringVar(&cfg.StartFrom, "start-from", "", "Skip subjects before this one")
	fs.StringVar(&cfg.IndexDB, "db", "", "SQLite layout index and run ledger")
	fs.BoolVar(&cfg.Reindex, "reindex", false, "Rebuild the layout index from disk")
}

// BindContourSource registers --source on the propagate and run commands.
func BindContourSource(fs *pflag.FlagSet, cfg *Config) {
	fs.Var(&contourSourceValue{&cfg.ContourSource}, "source", "Contour source: manual | aiaa | ct | glio")
}

// BindNumOutputs registers --num-outputs on the aiaa and run commands.
func BindNumOutputs(fs *pflag.FlagSet, cfg *Config) {
	fs.Var(&numOutputsValue{&cfg.AIAA.NumOutputs}, "num-outputs", "AIAA model outputs: 1 (tumour core) | 3")
}

// ApplyNegatedFlags copies negated and override flag values into cfg.
func ApplyNegatedFlags(cfg *Config, n *NegatedFlags) {
	if n.Force {
		cfg.Overwrite = true
	}
	if n.NoColor {
		cfg.ColorMode = ColorNever
	} else if n.ForceColor {
		cfg.ColorMode = ColorAlways
	}
}

// pflag.Value adapters so enum types can be used with fs.Var.

type contourSourceValue struct{ p *ContourSource }

func (c *contourSourceValue) String() string { return string(*c.p) }
func (c *contourSourceValue) Type() string   { return "source" }
func (c *contourSourceValue) Set(s string) error {
	switch strings.ToLower(s) {
	case "manual":
		*c.p = ContourManual
	case "aiaa":
		*c.p = ContourAIAA
	case "ct":
		*c.p = ContourCT
	case "glio":
		*c.p = ContourGLIO
	default:
		return fmt.Errorf("invalid contour source %q (use 'manual', 'aiaa', 'ct' or 'glio')", s)
	}
	return nil
}

type numOutputsValue struct{ p *int }

func (v *numOutputsValue) String() string { return fmt.Sprint(*v.p) }
func (v *numOutputsValue) Type() string   { return "int" }
func (v *numOutputsValue) Set(s string) error {
	switch strings.TrimSpace(s) {
	case "1":
		*v.p = 1
	case "3":
		*v.p = 3
	default:
		return fmt.Errorf("invalid number of outputs %q (use 1 or 3)", s)
	}
	return nil
}
