// Package config holds runtime configuration: defaults, the YAML project
// file, CLI flag overrides, and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// --- Enum types for validated string fields ---

// ContourSource selects which contours the propagate stage moves into the
// reference space.
type ContourSource string

const (
	ContourManual ContourSource = "manual" // GTV/CTV drawn by radiation oncologists (default).
	ContourAIAA   ContourSource = "aiaa"   // Tumour masks created by the AIAA segmentation stage.
	ContourCT     ContourSource = "ct"     // Planning-CT contours, registered CT -> reference T1w.
	ContourGLIO   ContourSource = "glio"   // GLIO trial contours drawn on their own T1c, registered to the reference.
)

// ColorMode controls ANSI color output.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"   // Enable colors when stdout is a TTY (default).
	ColorAlways ColorMode = "always" // Force colors on.
	ColorNever  ColorMode = "never"  // Disable colors entirely.
)

// Stage names, in the order `run` executes them.
const (
	StageAlign         = "align"
	StageSessionTable  = "session-table"
	StagePropagate     = "propagate"
	StageExtractBrain  = "extract-brain"
	StageSegmentTissue = "segment-tissue"
	StageAIAA          = "aiaa"
)

// Stages lists every stage in run order.
var Stages = []string{
	StageAlign,
	StageSessionTable,
	StagePropagate,
	StageExtractBrain,
	StageSegmentTissue,
	StageAIAA,
}

// Override captures one irregular subject/session. Zero-valued fields leave
// the default behavior untouched.
type Override struct {
	Subject string `yaml:"subject"`
	Session string `yaml:"session"`

	// Basenames inside the session's anat directory.
	T1wPre  string `yaml:"t1w_pre"`
	T1wPost string `yaml:"t1w_post"`

	// Reference selection (subject level, Session ignored).
	ReferenceSession string `yaml:"reference_session"`
	ReferenceDate    string `yaml:"reference_date"` // YYYY-MM-DD; resolved to a session from the T1w sidecars.
	ReferenceRun     string `yaml:"reference_run"`

	// Explicit DWI run to register instead of every run.
	DWIRun string `yaml:"dwi_run"`

	// Treatment start date (YYYY-MM-DD) when the tracker lacks one.
	TxStart string `yaml:"tx_start"`

	// Directory holding REFERENCE.nii.gz and ROI volumes for CT propagation.
	CTDir string `yaml:"ct_dir"`
}

// Linac describes the MR-Linac dataset whose sessions are aligned to the
// same subject reference. An empty BIDSDir disables it.
type Linac struct {
	BIDSDir    string `yaml:"bids"`
	QMTDir     string `yaml:"qmt"`         // Holds nii/MRL_BRAIN_<subject>_<YYYYMMDD>/m0b.nii.gz.
	FLAIR      bool   `yaml:"flair"`       // Also align each session's FLAIR.
	KeepPhase1 bool   `yaml:"keep_phase1"` // Keep DWI/FLAIR/M0b resampled into the session T1w space.
}

// Tools names the external executables. Bare names are looked up on PATH.
type Tools struct {
	FSLDir      string `yaml:"fsl_dir"` // Prefix for FSL binaries; empty uses PATH.
	HDBET       string `yaml:"hd_bet"`
	HDBETDevice string `yaml:"hd_bet_device"` // "cpu" or a GPU index.
	HDBETMode   string `yaml:"hd_bet_mode"`
	HDBETTTA    int    `yaml:"hd_bet_tta"`
	AIAAPreproc string `yaml:"aiaa_preproc"`
	AIAASegment string `yaml:"aiaa_segment"`
}

// AIAA configures the tumour segmentation service.
type AIAA struct {
	Server     string `yaml:"server"`
	Model      string `yaml:"model"`       // Three-output model.
	ModelCore  string `yaml:"model_core"`  // Single-output (tumour core) model.
	VoxelSize  int    `yaml:"voxel_size"`  // aiaa-preproc -vs.
	NumOutputs int    `yaml:"num_outputs"` // 1 or 3.
}

// Config holds all runtime settings. It is populated by [DefaultConfig],
// merged with the project file by [Load], then mutated by CLI flags before
// being passed (by pointer) to packages that need it.
type Config struct {
	// Project layout. Relative paths resolve against ProjectDir.
	ProjectDir  string `yaml:"project"`
	BIDSDir     string `yaml:"bids"`          // Default: <project>/bids.
	ResultsDir  string `yaml:"results"`       // Default: <project>/interim.
	ContoursDir string `yaml:"contours"`      // Default: <project>/data/contours.
	GlioDir     string `yaml:"glio_contours"` // Default: <project>/data/glio_t1c_contours.
	TrackerFile string `yaml:"tracker"`       // Default: <project>/data/tracker.csv.
	SubjectList string `yaml:"subject_list"`
	IndexDB     string `yaml:"index_db"`      // Optional sqlite layout cache / run ledger.

	// Naming and selection conventions.
	ReferenceSession string   `yaml:"reference_session"` // Default: "GLIO01".
	ReferenceKeys    []string `yaml:"reference_keys"`    // Default: t1w_pre, t1w_post.
	Acquisitions     []string `yaml:"acquisitions"`      // Default: fs, ip.
	ContrastTag      string   `yaml:"contrast_tag"`      // Default: "ce-gd".
	CoregDesc        string   `yaml:"coreg_desc"`        // Default: "coreg".
	ResampleMM       int      `yaml:"resample_mm"`       // Default: 2. 0 disables.
	Exclude          []string `yaml:"exclude"`
	Overrides        []Override `yaml:"overrides"`

	Tools Tools `yaml:"tools"`
	AIAA  AIAA  `yaml:"aiaa"`
	Linac Linac `yaml:"linac"`

	// Runtime flags (never read from the project file).
	ConfigFile    string        `yaml:"-"`
	Subjects      []string      `yaml:"-"`
	StartFrom     string        `yaml:"-"`
	ContourSource ContourSource `yaml:"-"`
	RefNamesOnly  bool          `yaml:"-"`
	DryRun        bool          `yaml:"-"`
	Overwrite     bool          `yaml:"-"` // Cleared skip-existing; set by --force.
	Reindex       bool          `yaml:"-"`
	Verbose       bool          `yaml:"-"`
	ColorMode     ColorMode     `yaml:"-"`
	LogFile       string        `yaml:"-"`
	CheckOnly     bool          `yaml:"-"`
}

// DefaultConfig returns a Config with the conventions of the MR-sim glioma
// dataset. Used as the base before [Load] and flag parsing.
func DefaultConfig() Config {
	return Config{
		ProjectDir:       ".",
		ReferenceSession: "GLIO01",
		ReferenceKeys:    []string{"t1w_pre", "t1w_post"},
		Acquisitions:     []string{"fs", "ip"},
		ContrastTag:      "ce-gd",
		CoregDesc:        "coreg",
		ResampleMM:       2,
		ContourSource:    ContourManual,
		ColorMode:        ColorAuto,
		Tools: Tools{
			HDBET:       "hd-bet",
			HDBETDevice: "cpu",
			HDBETMode:   "fast",
			HDBETTTA:    0,
			AIAAPreproc: "aiaa-preproc",
			AIAASegment: "aiaa-segment",
		},
		AIAA: AIAA{
			Server:     "http://localhost:5000",
			Model:      "clara_pt_brain_mri_segmentation_inputs_t1ce_t1_flair",
			ModelCore:  "seg_tc_inputs_t1ce_t1_flair_v5",
			VoxelSize:  1,
			NumOutputs: 3,
		},
	}
}

// Load merges the YAML project file at path into cfg. Keys absent from the
// file keep their current values.
func Load(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read project file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse project file %s: %w", path, err)
	}
	cfg.ConfigFile = path
	switch {
	case cfg.ProjectDir == "" || cfg.ProjectDir == ".":
		cfg.ProjectDir = filepath.Dir(path)
	case !filepath.IsAbs(cfg.ProjectDir):
		cfg.ProjectDir = filepath.Join(filepath.Dir(path), cfg.ProjectDir)
	}
	return nil
}

// Resolve fills in derived paths and makes every path absolute-or-rooted at
// ProjectDir. Call after Load and flag parsing.
func (c *Config) Resolve() {
	c.ProjectDir = NormalizeDirArg(c.ProjectDir)
	c.BIDSDir = c.under(c.BIDSDir, "bids")
	c.ResultsDir = c.under(c.ResultsDir, "interim")
	c.ContoursDir = c.under(c.ContoursDir, filepath.Join("data", "contours"))
	c.TrackerFile = c.under(c.TrackerFile, filepath.Join("data", "tracker.csv"))
	c.GlioDir = c.under(c.GlioDir, filepath.Join("data", "glio_t1c_contours"))
	if c.Linac.BIDSDir != "" {
		c.Linac.BIDSDir = c.under(c.Linac.BIDSDir, "")
	}
	if c.Linac.QMTDir != "" {
		c.Linac.QMTDir = c.under(c.Linac.QMTDir, "")
	}
	if c.SubjectList != "" {
		c.SubjectList = c.under(c.SubjectList, "")
	}
	if c.IndexDB != "" {
		c.IndexDB = c.under(c.IndexDB, "")
	}
	for i := range c.Overrides {
		if c.Overrides[i].CTDir != "" {
			c.Overrides[i].CTDir = c.under(c.Overrides[i].CTDir, "")
		}
	}
}

func (c *Config) under(path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return NormalizeDirArg(path)
	}
	return filepath.Join(c.ProjectDir, path)
}

// DerivativesDir is the BIDS derivatives root.
func (c *Config) DerivativesDir() string {
	return filepath.Join(c.BIDSDir, "derivatives")
}

// ReferenceListPath is the CSV mapping subjects to reference volumes.
func (c *Config) ReferenceListPath() string {
	return filepath.Join(c.ResultsDir, "subject_reference_list.csv")
}

// Override returns the override for subject/session. An empty session
// matches subject-level overrides only.
func (c *Config) Override(subject, session string) (Override, bool) {
	for _, o := range c.Overrides {
		if o.Subject == subject && o.Session == session {
			return o, true
		}
	}
	return Override{}, false
}

// ReferenceSessionFor returns the subject's reference session.
func (c *Config) ReferenceSessionFor(subject string) string {
	if o, ok := c.Override(subject, ""); ok && o.ReferenceSession != "" {
		return o.ReferenceSession
	}
	return c.ReferenceSession
}

// AIAAModel returns the model name for the configured number of outputs.
func (c *Config) AIAAModel() string {
	if c.AIAA.NumOutputs == 1 {
		return c.AIAA.ModelCore
	}
	return c.AIAA.Model
}

// NormalizeDirArg strips trailing slashes from a directory path.
// The filesystem root "/" is returned unchanged so we don't produce an empty string.
func NormalizeDirArg(path string) string {
	if path == "/" {
		return "/"
	}
	return strings.TrimRight(path, "/")
}

// Validate checks enum fields and conventions. When not in CheckOnly mode it
// also requires a BIDS directory.
func (c *Config) Validate() error {
	switch c.ContourSource {
	case ContourManual, ContourAIAA, ContourCT, ContourGLIO:
		// valid
	default:
		return fmt.Errorf("invalid contour source %q (use 'manual', 'aiaa', 'ct' or 'glio')", c.ContourSource)
	}

	switch c.ColorMode {
	case ColorAuto, ColorAlways, ColorNever:
		// valid
	default:
		return errors.New("invalid color mode (use 'auto', 'always' or 'never')")
	}

	if c.AIAA.NumOutputs != 1 && c.AIAA.NumOutputs != 3 {
		return fmt.Errorf("num outputs must be 1 or 3 (got %d)", c.AIAA.NumOutputs)
	}
	if c.ResampleMM < 0 {
		return errors.New("resample must be non-negative")
	}
	if len(c.Acquisitions) == 0 {
		return errors.New("need at least one T1w acquisition label")
	}
	if len(c.ReferenceKeys) == 0 {
		return errors.New("need at least one reference key")
	}
	for _, k := range c.ReferenceKeys {
		if k != "t1w_pre" && k != "t1w_post" {
			return fmt.Errorf("invalid reference key %q (use 't1w_pre' or 't1w_post')", k)
		}
	}
	if c.CoregDesc == "" || strings.ContainsAny(c.CoregDesc, "_-") {
		return fmt.Errorf("invalid coreg desc %q", c.CoregDesc)
	}
	for _, o := range c.Overrides {
		if o.Subject == "" {
			return errors.New("override without subject")
		}
		if o.ReferenceDate != "" && o.ReferenceSession != "" {
			return fmt.Errorf("override for %s sets both reference_session and reference_date", o.Subject)
		}
	}

	if c.CheckOnly {
		return nil
	}
	if c.BIDSDir == "" {
		return errors.New("need a BIDS dataset directory")
	}
	return nil
}
