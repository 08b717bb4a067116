package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dataset writes an empty-file BIDS tree under dir/bids.
func dataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, rel := range []string{
		"sub-GBM001/ses-GLIO01/anat/sub-GBM001_ses-GLIO01_acq-fs_T1w.nii.gz",
		"sub-GBM001/ses-GLIO02/anat/sub-GBM001_ses-GLIO02_acq-fs_T1w.nii.gz",
		"sub-GBM002/ses-GLIO01/anat/sub-GBM002_ses-GLIO01_acq-ip_T1w.nii.gz",
	} {
		path := filepath.Join(dir, "bids", rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	return dir
}

// execute runs the command line and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--no-color"))
	err := cmd.Execute()
	return out.String(), err
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "neuroprep", cmd.Use)

	for _, name := range []string{
		"align", "session-table", "propagate", "extract-brain", "segment-tissue", "aiaa",
		"run", "subjects", "layout", "check", "report", "history",
	} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	for _, flag := range []string{"config", "project", "bids", "dry-run", "force", "subjects", "start-from", "db", "no-color"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestStageFlags(t *testing.T) {
	cmd := NewRootCommand()
	tests := []struct {
		command string
		flags   []string
	}{
		{"align", []string{"refnames"}},
		{"propagate", []string{"source"}},
		{"aiaa", []string{"num-outputs"}},
		{"run", []string{"align", "session-table", "prop-contours", "do-bet", "fast", "run-aiaa", "all", "source", "num-outputs", "refnames"}},
		{"history", []string{"limit"}},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{tt.command})
			require.NoError(t, err)
			for _, f := range tt.flags {
				assert.NotNil(t, sub.Flags().Lookup(f), f)
			}
		})
	}
}

func TestRun_NoStages(t *testing.T) {
	dir := dataset(t)
	_, err := execute(t, "run", "--project", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stages selected")
}

func TestRun_InvalidSource(t *testing.T) {
	dir := dataset(t)
	_, err := execute(t, "propagate", "--project", dir, "--source", "atlas")
	require.Error(t, err)
}

func TestSubjects(t *testing.T) {
	dir := dataset(t)
	out, err := execute(t, "subjects", "--project", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "GBM001\n")
	assert.Contains(t, out, "GBM002\n")

	out, err = execute(t, "subjects", "--project", dir, "--start-from", "GBM002")
	require.NoError(t, err)
	assert.NotContains(t, out, "GBM001\n")
	assert.Contains(t, out, "GBM002\n")
}

func TestProjectFile(t *testing.T) {
	dir := dataset(t)
	cfgPath := filepath.Join(dir, "project.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("bids: missing\nexclude: [GBM002]\n"), 0o644))

	// Project root comes from the file's directory; --bids overrides the file.
	out, err := execute(t, "subjects", "--config", cfgPath, "--bids", filepath.Join(dir, "bids"))
	require.NoError(t, err)
	assert.Contains(t, out, "GBM001\n")
	assert.NotContains(t, out, "GBM002\n")

	_, err = execute(t, "subjects", "--config", cfgPath)
	assert.Error(t, err, "bids dir from the file does not exist")
}

func TestProjectFile_FlagsWin(t *testing.T) {
	dir := dataset(t)
	cfgPath := filepath.Join(dir, "project.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("aiaa:\n  num_outputs: 3\n"), 0o644))

	out, err := execute(t, "aiaa", "--config", cfgPath, "--num-outputs", "1", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "seg_tc_inputs_t1ce_t1_flair_v5")
	assert.NotContains(t, out, "clara_pt")

	out, err = execute(t, "aiaa", "--config", cfgPath, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "clara_pt")

	// Slice flags keep exactly the values given.
	out, err = execute(t, "subjects", "--config", cfgPath, "--subjects", "GBM002")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "GBM002\n"))
	assert.NotContains(t, out, "GBM001\n")
}

func TestLayout(t *testing.T) {
	dir := dataset(t)
	out, err := execute(t, "layout", "--project", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "GBM001")
	assert.Contains(t, out, "GLIO01 GLIO02")
	assert.Contains(t, out, "2 B")
}

func TestHistory(t *testing.T) {
	dir := dataset(t)
	_, err := execute(t, "history", "--project", dir)
	require.Error(t, err)

	db := filepath.Join(dir, "index.db")
	_, err = execute(t, "run", "--session-table", "--dry-run", "--project", dir, "--db", db)
	require.NoError(t, err)

	out, err := execute(t, "history", "--project", dir, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "neuroprep run")
}
