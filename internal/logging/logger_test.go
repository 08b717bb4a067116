package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/backmassage/neuroprep/internal/config"
)

func TestNewLogger_NoFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogFile = ""
	l, err := NewLogger(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	l.Info("test message")
}

func TestNewLogger_WithFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.LogFile = filepath.Join(dir, "logs", "neuroprep.log")
	l, err := NewLogger(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	l.SetOutput(&bytes.Buffer{}, &bytes.Buffer{})
	l.Info("to file")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(cfg.LogFile)
	if !bytes.Contains(b, []byte("[INFO] to file")) {
		t.Errorf("log file content: %s", string(b))
	}
}

func TestLogger_ErrorsGoToErrOut(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ColorMode = config.ColorNever
	l, err := NewLogger(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	l.SetOutput(&out, &errOut)

	l.Warn("skip")
	l.Error("boom")
	l.Debug(false, "hidden")
	l.Debug(true, "shown")

	if !strings.Contains(out.String(), "[WARN] skip") {
		t.Errorf("stdout = %q", out.String())
	}
	if strings.Contains(out.String(), "boom") || !strings.Contains(errOut.String(), "[ERROR] boom") {
		t.Errorf("error routing: stdout=%q stderr=%q", out.String(), errOut.String())
	}
	if strings.Contains(out.String(), "hidden") || !strings.Contains(out.String(), "[DEBUG] shown") {
		t.Errorf("debug gating: %q", out.String())
	}
}

func TestLogger_Stage(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ColorMode = config.ColorNever
	l, err := NewLogger(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	l.SetOutput(&out, &out)

	l.Stage("align", StageStart)
	l.Stage("align", StageEnd)

	got := out.String()
	for _, want := range []string{
		"##########  Starting procedure: align  ##########",
		"##########  Finished procedure: align  ##########",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
