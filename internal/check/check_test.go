package check

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/neuroprep/internal/config"
)

type mockLog struct {
	lines []string
}

func (m *mockLog) add(level, format string, args ...interface{}) {
	m.lines = append(m.lines, level+" "+fmt.Sprintf(format, args...))
}
func (m *mockLog) Info(f string, a ...interface{})    { m.add("INFO", f, a...) }
func (m *mockLog) Success(f string, a ...interface{}) { m.add("OK", f, a...) }
func (m *mockLog) Warn(f string, a ...interface{})    { m.add("WARN", f, a...) }
func (m *mockLog) Error(f string, a ...interface{})   { m.add("ERROR", f, a...) }
func (m *mockLog) Debug(v bool, f string, a ...interface{}) {
	if v {
		m.add("DEBUG", f, a...)
	}
}

func (m *mockLog) has(prefix string) bool {
	for _, l := range m.lines {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

// fakeBin creates an executable script at dir/name.
func fakeBin(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return p
}

// fakeInstall lays out an FSL tree with the given binaries and points the
// non-FSL tools into a separate bin directory.
func fakeInstall(t *testing.T, fslBins ...string) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Tools.FSLDir = filepath.Join(root, "fsl")
	for _, b := range fslBins {
		fakeBin(t, filepath.Join(cfg.Tools.FSLDir, "bin"), b)
	}
	bin := filepath.Join(root, "bin")
	cfg.Tools.HDBET = fakeBin(t, bin, "hd-bet")
	cfg.Tools.AIAAPreproc = fakeBin(t, bin, "aiaa-preproc")
	cfg.Tools.AIAASegment = filepath.Join(bin, "aiaa-segment") // not installed
	return &cfg
}

func TestCheckDeps(t *testing.T) {
	cfg := fakeInstall(t, "flirt", "convert_xfm", "fslsplit")

	tests := []struct {
		name   string
		stages []string
		want   error
	}{
		{"no external tools", []string{config.StageSessionTable}, nil},
		{"registration", []string{config.StageAlign, config.StagePropagate}, nil},
		{"brain extraction", []string{config.StageExtractBrain}, nil},
		{"fast missing", []string{config.StageAlign, config.StageSegmentTissue}, ErrFSLNotFound},
		{"aiaa segment missing", []string{config.StageAIAA}, ErrAIAANotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDeps(cfg, tt.stages)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "err = %v", err)
		})
	}

	cfg.Tools.HDBET = filepath.Join(t.TempDir(), "hd-bet")
	assert.True(t, errors.Is(CheckDeps(cfg, []string{config.StageExtractBrain}), ErrHDBETNotFound))
}

func aiaaServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const modelsJSON = `[
  {"name": "clara_pt_brain_mri_segmentation_inputs_t1ce_t1_flair", "type": "segmentation",
   "labels": ["tumor_core", "whole_tumor", "enhancing_tumor"], "version": "1"},
  {"name": "clara_pt_spleen_ct_segmentation", "type": "segmentation", "labels": ["spleen"], "version": "2"}
]`

func TestAIAAClient_Models(t *testing.T) {
	srv := aiaaServer(t, modelsJSON, http.StatusOK)
	models, err := NewAIAAClient(srv.URL, srv.Client()).Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, []string{"tumor_core", "whole_tumor", "enhancing_tumor"}, models[0].Labels)
	assert.True(t, HasModel(models, "clara_pt_spleen_ct_segmentation"))
	assert.False(t, HasModel(models, "seg_tc_inputs_t1ce_t1_flair_v5"))
}

func TestAIAAClient_Error(t *testing.T) {
	srv := aiaaServer(t, `{"message": "model store unavailable", "status_code": 503}`, http.StatusServiceUnavailable)
	_, err := NewAIAAClient(srv.URL+"/", srv.Client()).Models(context.Background())
	require.Error(t, err)
	assert.Equal(t, "model store unavailable", err.Error())
}

func TestRunCheck(t *testing.T) {
	cfg := fakeInstall(t, "flirt", "convert_xfm", "fslsplit", "fast")
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Tools.FSLDir, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Tools.FSLDir, "etc", "fslversion"), []byte("6.0.7.4:abc123\n"), 0o644))
	srv := aiaaServer(t, modelsJSON, http.StatusOK)
	cfg.AIAA.Server = srv.URL

	log := &mockLog{}
	var out bytes.Buffer
	RunCheck(context.Background(), cfg, log, &out)

	assert.True(t, log.has("OK flirt: "))
	assert.True(t, log.has("OK hd-bet: "))
	assert.True(t, log.has("ERROR "+cfg.Tools.AIAASegment+" not found"))
	assert.True(t, log.has("OK FSL 6.0.7.4 ("))
	assert.True(t, log.has("OK AIAA server "+srv.URL+": 2 models"))
	assert.True(t, log.has("OK Configured model clara_pt_brain_mri_segmentation_inputs_t1ce_t1_flair is available"))
	assert.Contains(t, out.String(), "clara_pt_spleen_ct_segmentation")

	cfg.AIAA.NumOutputs = 1
	log = &mockLog{}
	RunCheck(context.Background(), cfg, log, &bytes.Buffer{})
	assert.True(t, log.has("WARN Configured model seg_tc_inputs_t1ce_t1_flair_v5"))
}
