package pipeline

import (
	"context"
	"errors"
	"os"

	"github.com/backmassage/neuroprep/internal/bids"
	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/logging"
	"github.com/backmassage/neuroprep/internal/naming"
	"github.com/backmassage/neuroprep/internal/registration"
	"github.com/backmassage/neuroprep/internal/store"
	"github.com/backmassage/neuroprep/internal/tools"
)

// Env carries what every stage needs.
type Env struct {
	Cfg    *config.Config
	Log    *logging.Logger
	Runner tools.Runner
	Store  *store.Store // optional run ledger and index cache
	RunID  string
	Claims *naming.Claims

	layout      *bids.Layout
	linacLayout *bids.Layout
}

// NewEnv wires an Env with a host executor.
func NewEnv(cfg *config.Config, log *logging.Logger, st *store.Store) *Env {
	return &Env{
		Cfg:    cfg,
		Log:    log,
		Runner: &tools.Executor{Log: log, Verbose: cfg.Verbose, DryRun: cfg.DryRun},
		Store:  st,
		Claims: naming.NewClaims(),
	}
}

// Layout returns the raw dataset index, loading it on first use.
func (e *Env) Layout(ctx context.Context) (*bids.Layout, error) {
	if e.layout != nil {
		return e.layout, nil
	}
	l, err := LoadLayout(ctx, e.Cfg, e.Log, e.Store, bids.Options{})
	if err != nil {
		return nil, err
	}
	e.layout = l
	return l, nil
}

// LinacLayout returns the index of the MR-Linac dataset, loading it on
// first use.
func (e *Env) LinacLayout(ctx context.Context) (*bids.Layout, error) {
	if e.linacLayout != nil {
		return e.linacLayout, nil
	}
	l, err := loadLayout(ctx, e.Cfg, e.Log, e.Store, e.Cfg.Linac.BIDSDir, bids.Options{})
	if err != nil {
		return nil, err
	}
	e.linacLayout = l
	return l, nil
}

// SetLayout installs a prepared index (tests, or callers that already
// walked the dataset).
func (e *Env) SetLayout(l *bids.Layout) { e.layout = l }

func (e *Env) registrar() *registration.Registrar {
	return &registration.Registrar{
		Runner:    e.Runner,
		Tools:     e.Cfg.Tools,
		Log:       e.Log,
		Verbose:   e.Cfg.Verbose,
		Overwrite: e.Cfg.Overwrite,
		DryRun:    e.Cfg.DryRun,
	}
}

// run executes one tool invocation.
func (e *Env) run(ctx context.Context, argv []string) error {
	return e.Runner.Run(ctx, argv).Err
}

// exists reports whether path is present (a dangling symlink counts).
func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// needs reports whether an output has to be (re)built.
func (e *Env) needs(path string) bool {
	return e.Cfg.Overwrite || !exists(path)
}

// item identifies one unit of work for logs and the ledger.
type item struct {
	stage   string
	subject string
	session string
	output  string
}

// finish logs and records the outcome of it, and returns it for Stats.
func (e *Env) finish(ctx context.Context, it item, err error, skipped bool) outcome {
	status, o := store.StatusDone, outcomeDone
	msg := ""
	switch {
	case err != nil:
		status, o, msg = store.StatusFailed, outcomeFailed, err.Error()
		e.Log.Error("sub-%s ses-%s: %v", it.subject, it.session, err)
		var te *tools.ToolError
		if errors.As(err, &te) && te.Hint() != "" {
			e.Log.Warn("  hint: %s", te.Hint())
		}
	case skipped:
		status, o = store.StatusSkipped, outcomeSkipped
		e.Log.Debug(e.Cfg.Verbose, "Skip (exists): %s", it.output)
	case e.Cfg.DryRun:
		status = store.StatusDryRun
	}

	if e.Store != nil && e.RunID != "" {
		rerr := e.Store.Record(ctx, store.Step{
			RunID:   e.RunID,
			Stage:   it.stage,
			Subject: it.subject,
			Session: it.session,
			Output:  it.output,
			Status:  status,
			Message: msg,
		})
		if rerr != nil {
			e.Log.Warn("ledger: %v", rerr)
		}
	}
	return o
}
