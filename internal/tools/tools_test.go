package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/neuroprep/internal/config"
)

func testTools() (config.Tools, config.AIAA) {
	cfg := config.DefaultConfig()
	cfg.Tools.FSLDir = "/opt/fsl"
	return cfg.Tools, cfg.AIAA
}

func TestBuilders_Golden(t *testing.T) {
	tl, a := testTools()
	anat := "/bids/sub-GBM001/ses-GLIO02/anat"
	coreg := "/bids/derivatives/coreg/sub-GBM001/ses-GLIO02/anat"
	ref := "/bids/sub-GBM001/ses-GLIO01/anat/sub-GBM001_ses-GLIO01_acq-fs_T1w.nii.gz"
	work := "/bids/derivatives/aiaa_seg/sub-GBM001/ses-GLIO02/anat"

	cases := []struct {
		name string
		argv []string
	}{
		{"flirt_estimate", FlirtEstimate(tl,
			anat+"/sub-GBM001_ses-GLIO02_acq-fs_T1w.nii.gz", ref,
			coreg+"/sub-GBM001_ses-GLIO02_acq-fs_desc-coreg_T1w.mat")},
		{"flirt_apply_nn", FlirtApply(tl,
			"/bids/derivatives/contours/sub-GBM001/ses-GLIO02/anat/sub-GBM001_ses-GLIO02_label-GTV_mask.nii.gz", ref,
			coreg+"/sub-GBM001_ses-GLIO02_acq-fs_ce-gd_desc-coreg_T1w.mat",
			"/bids/derivatives/coreg_contours/sub-GBM001/ses-GLIO02/anat/sub-GBM001_ses-GLIO02_label-GTV_desc-coreg_mask.nii.gz",
			InterpNearestNeighbour)},
		{"flirt_isotropic", FlirtIsotropic(tl, "/tmp/in.nii.gz", "/tmp/in_iso2.nii.gz", "/tmp/in_iso2.mat", 2)},
		{"convert_xfm_concat", ConvertXFMConcat(tl, "/o/other.mat", "/o/in2ref.mat", "/o/other_phase1.mat")},
		{"hd_bet", HDBET(tl, anat+"/sub-GBM001_ses-GLIO02_acq-fs_T1w.nii.gz",
			"/bids/derivatives/hdbet/sub-GBM001/ses-GLIO02/anat/sub-GBM001_ses-GLIO02_acq-fs_T1w")},
		{"fast", FAST(tl, "/f/sub-GBM001_ses-GLIO02_desc-brain_T1w", "/h/sub-GBM001_ses-GLIO02_desc-brain_T1w.nii.gz")},
		{"aiaa_preproc", AIAAPreproc(tl, a, "/c/t1ce.nii.gz", "/c/t1.nii.gz", "/c/flair.nii.gz", work)},
		{"aiaa_segment", AIAASegment(tl, a, work+"/sub-GBM001_ses-GLIO02_desc-merged_T1w.nii.gz", a.Model,
			"sub-GBM001_ses-GLIO02_label-tumour_masks.nii.gz", work)},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g.Assert(t, tc.name, []byte(strings.Join(tc.argv, "\n")+"\n"))
		})
	}
}

func TestBuilders_FSLOnPath(t *testing.T) {
	cfg := config.DefaultConfig()
	argv := FslSplit(cfg.Tools, "/d/dwi.nii.gz", "/o/dwi_")
	assert.Equal(t, []string{"fslsplit", "/d/dwi.nii.gz", "/o/dwi_", "-t"}, argv)

	argv = ConvertXFMInverse(cfg.Tools, "/o/a.mat", "/o/a_inverse.mat")
	assert.Equal(t, []string{"convert_xfm", "-omat", "/o/a.mat", "-inverse", "/o/a_inverse.mat"}, argv)

	argv = FlirtQForm(cfg.Tools, "/d/m0b.nii.gz", "/d/mt.nii.gz", "/o/m0b_coreg_phase1.mat")
	assert.Equal(t, "flirt", Name(argv))
	assert.Contains(t, argv, "-usesqform")
	assert.NotContains(t, argv, "-out")

	argv = FlirtApply(cfg.Tools, "/i", "/r", "/m", "/o", "")
	assert.NotContains(t, argv, "-interp")
}

func TestToolError(t *testing.T) {
	err := &ToolError{
		Tool:   "flirt",
		Stderr: "Image Exception : #22 :: Failed to read volume /x.nii.gz\nCould not open image /x.nii.gz",
		Err:    errors.New("exit status 1"),
	}
	assert.True(t, errors.Is(err, ErrMissingInput))
	assert.Contains(t, err.Error(), "flirt: exit status 1")
	assert.Equal(t, "an input volume is missing or unreadable", err.Hint())

	wrapped := fmt.Errorf("register: %w", err)
	var te *ToolError
	require.True(t, errors.As(wrapped, &te))
	assert.Equal(t, "flirt", te.Tool)

	server := &ToolError{Tool: "aiaa-segment", Stderr: "requests.exceptions.ConnectionError: [Errno 111] Connection refused", Err: errors.New("exit status 1")}
	assert.False(t, errors.Is(server, ErrMissingInput))
	assert.Contains(t, server.Hint(), "AIAA server")
}

func TestTail(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 8; i++ {
		fmt.Fprintf(&b, "line %d\n\n", i)
	}
	assert.Equal(t, "line 4\nline 5\nline 6\nline 7\nline 8", tail(b.String()))
	assert.Equal(t, "", tail(""))
}

type fakeLog struct{ lines []string }

func (f *fakeLog) Info(format string, args ...interface{}) {
	f.lines = append(f.lines, fmt.Sprintf(format, args...))
}

func (f *fakeLog) Debug(verbose bool, format string, args ...interface{}) {
	if verbose {
		f.lines = append(f.lines, fmt.Sprintf(format, args...))
	}
}

func TestExecutor_DryRun(t *testing.T) {
	log := &fakeLog{}
	e := &Executor{Log: log, DryRun: true}
	res := e.Run(context.Background(), []string{"flirt", "-in", "a", "-ref", "b"})
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"[dry-run] flirt -in a -ref b"}, log.lines)
}

func TestExecutor_Run(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	log := &fakeLog{}
	var tee bytes.Buffer
	e := &Executor{Log: log, Verbose: true, Stderr: &tee}

	res := e.Run(context.Background(), []string{"sh", "-c", "echo working >&2"})
	require.NoError(t, res.Err)
	assert.Equal(t, "working\n", res.Stderr)
	assert.Equal(t, "working\n", tee.String())
	assert.Equal(t, []string{"exec: sh -c echo working >&2"}, log.lines)

	e.Verbose = false
	res = e.Run(context.Background(), []string{"sh", "-c", "echo 'No such file or directory' >&2; exit 3"})
	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, ErrMissingInput))
	var te *ToolError
	require.True(t, errors.As(res.Err, &te))
	assert.Equal(t, "sh", te.Tool)
}

func TestRecorder(t *testing.T) {
	dir := t.TempDir()
	r := &Recorder{Effect: func(argv []string) error {
		if Name(argv) == "fail" {
			return errors.New("boom")
		}
		return os.WriteFile(dir+"/"+argv[1], nil, 0o644)
	}}
	ctx := context.Background()

	require.NoError(t, r.Run(ctx, []string{"/opt/fsl/bin/flirt", "out.mat"}).Err)
	res := r.Run(ctx, []string{"fail", "x"})
	require.Error(t, res.Err)

	assert.Equal(t, []string{"flirt", "fail"}, r.Tools())
	assert.Equal(t, []string{"/opt/fsl/bin/flirt out.mat", "fail x"}, r.Commands())
	assert.FileExists(t, dir+"/out.mat")
}
