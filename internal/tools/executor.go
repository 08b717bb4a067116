package tools

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Result holds the outcome of one invocation.
type Result struct {
	Stderr string
	Err    error // nil, or a *ToolError
}

// Runner executes an argv.
type Runner interface {
	Run(ctx context.Context, argv []string) Result
}

// Logger is the subset of the logging API the executor uses.
type Logger interface {
	Info(format string, args ...interface{})
	Debug(verbose bool, format string, args ...interface{})
}

// Executor runs commands on the host. In dry-run mode it logs the command
// line and returns success without running anything.
type Executor struct {
	Log     Logger
	Verbose bool
	DryRun  bool
	Stderr  io.Writer // tee target when Verbose; defaults to os.Stderr
}

// Run executes argv. stderr is captured for error reporting and tee'd when
// verbose.
func (e *Executor) Run(ctx context.Context, argv []string) Result {
	line := strings.Join(argv, " ")
	if e.DryRun {
		e.Log.Info("[dry-run] %s", line)
		return Result{}
	}
	e.Log.Debug(e.Verbose, "exec: %s", line)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stderrBuf bytes.Buffer
	if e.Verbose {
		tee := e.Stderr
		if tee == nil {
			tee = os.Stderr
		}
		cmd.Stdout = tee
		cmd.Stderr = io.MultiWriter(&stderrBuf, tee)
	} else {
		cmd.Stderr = &stderrBuf
	}

	if err := cmd.Run(); err != nil {
		stderr := stderrBuf.String()
		return Result{
			Stderr: stderr,
			Err:    &ToolError{Tool: Name(argv), Stderr: tail(stderr), Err: err},
		}
	}
	return Result{Stderr: stderrBuf.String()}
}

// Recorder is a Runner that records argv slices instead of executing them.
// Effect, when set, runs for every call so tests can create the files a
// tool would have written.
type Recorder struct {
	mu     sync.Mutex
	Calls  [][]string
	Effect func(argv []string) error
}

func (r *Recorder) Run(_ context.Context, argv []string) Result {
	r.mu.Lock()
	r.Calls = append(r.Calls, append([]string(nil), argv...))
	r.mu.Unlock()
	if r.Effect != nil {
		if err := r.Effect(argv); err != nil {
			return Result{Err: &ToolError{Tool: Name(argv), Err: err}}
		}
	}
	return Result{}
}

// Commands returns the recorded calls joined with spaces.
func (r *Recorder) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = strings.Join(c, " ")
	}
	return out
}

// Tools returns the basenames of the recorded executables, in order.
func (r *Recorder) Tools() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = Name(c)
	}
	return out
}
