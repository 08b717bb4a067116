// Package check provides system diagnostics (the check command) and
// pre-pipeline dependency validation (CheckDeps) for FSL, HD-BET and the
// AIAA client scripts.
package check

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/display"
	"github.com/backmassage/neuroprep/internal/tools"
)

// Sentinel errors returned by CheckDeps when a required tool is missing.
var (
	ErrFSLNotFound   = errors.New("FSL binary not found")
	ErrHDBETNotFound = errors.New("hd-bet not found")
	ErrAIAANotFound  = errors.New("AIAA client script not found")
)

// Logger is the minimal logging interface needed by RunCheck.
type Logger interface {
	Info(string, ...interface{})
	Success(string, ...interface{})
	Warn(string, ...interface{})
	Error(string, ...interface{})
	Debug(bool, string, ...interface{})
}

// requirement is one executable a stage shells out to.
type requirement struct {
	bin     string
	missing error
}

// requirements lists what each stage needs, resolved against cfg.
func requirements(cfg *config.Config, stage string) []requirement {
	fsl := func(names ...string) []requirement {
		out := make([]requirement, len(names))
		for i, n := range names {
			out[i] = requirement{tools.FSLBinary(cfg.Tools, n), ErrFSLNotFound}
		}
		return out
	}
	switch stage {
	case config.StageAlign, config.StagePropagate:
		return fsl("flirt", "convert_xfm", "fslsplit")
	case config.StageExtractBrain:
		return []requirement{{cfg.Tools.HDBET, ErrHDBETNotFound}}
	case config.StageSegmentTissue:
		return fsl("fast")
	case config.StageAIAA:
		return []requirement{
			{cfg.Tools.AIAAPreproc, ErrAIAANotFound},
			{cfg.Tools.AIAASegment, ErrAIAANotFound},
		}
	}
	return nil
}

// CheckDeps verifies that every executable the given stages run is
// available. Returns a wrapped sentinel error naming the first missing one.
func CheckDeps(cfg *config.Config, stages []string) error {
	seen := make(map[string]bool)
	for _, stage := range stages {
		for _, req := range requirements(cfg, stage) {
			if seen[req.bin] {
				continue
			}
			seen[req.bin] = true
			if _, err := exec.LookPath(req.bin); err != nil {
				return fmt.Errorf("%w: %s (needed by %s)", req.missing, req.bin, stage)
			}
		}
	}
	return nil
}

// RunCheck prints tool availability for every stage, the FSL version, and
// the models the AIAA server offers. Informational only; it does not stop
// on failure.
func RunCheck(ctx context.Context, cfg *config.Config, log Logger, out io.Writer) {
	log.Info("=== System Check ===")

	checkTools(cfg, log)
	checkFSLVersion(cfg, log)
	checkAIAAServer(ctx, cfg, log, out)
}

func checkTools(cfg *config.Config, log Logger) {
	seen := make(map[string]bool)
	for _, stage := range config.Stages {
		for _, req := range requirements(cfg, stage) {
			if seen[req.bin] {
				continue
			}
			seen[req.bin] = true
			path, err := exec.LookPath(req.bin)
			if err != nil {
				log.Error("%s not found (needed by %s)", req.bin, stage)
				continue
			}
			log.Success("%s: %s", filepath.Base(req.bin), path)
		}
	}
}

// checkFSLVersion reads $FSLDIR/etc/fslversion.
func checkFSLVersion(cfg *config.Config, log Logger) {
	dir := cfg.Tools.FSLDir
	if dir == "" {
		dir = os.Getenv("FSLDIR")
	}
	if dir == "" {
		log.Warn("FSLDIR not set; FSL binaries are taken from PATH")
		return
	}
	data, err := os.ReadFile(filepath.Join(dir, "etc", "fslversion"))
	if err != nil {
		log.Warn("FSL version unknown: %v", err)
		return
	}
	version := strings.TrimSpace(string(data))
	if i := strings.IndexByte(version, ':'); i > 0 {
		version = version[:i]
	}
	log.Success("FSL %s (%s)", version, dir)
}

func checkAIAAServer(ctx context.Context, cfg *config.Config, log Logger, out io.Writer) {
	if cfg.AIAA.Server == "" {
		log.Info("No AIAA server configured")
		return
	}
	models, err := NewAIAAClient(cfg.AIAA.Server, nil).Models(ctx)
	if err != nil {
		log.Error("AIAA server %s: %v", cfg.AIAA.Server, err)
		return
	}
	log.Success("AIAA server %s: %s", cfg.AIAA.Server, display.Plural(len(models), "model"))

	rows := make([][]string, len(models))
	for i, m := range models {
		rows[i] = []string{m.Name, m.Type, strings.Join(m.Labels, ", "), m.Version}
	}
	display.PrintTable(out, []string{"Model", "Type", "Labels", "Version"}, rows)

	want := cfg.AIAAModel()
	if HasModel(models, want) {
		log.Success("Configured model %s is available", want)
	} else {
		log.Warn("Configured model %s is not loaded on the server", want)
	}
}
