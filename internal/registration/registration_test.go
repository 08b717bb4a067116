package registration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/tools"
)

const identity = "1 0 0 0\n0 1 0 0\n0 0 1 0\n0 0 0 1\n"

type nopLog struct{}

func (nopLog) Info(string, ...interface{})        {}
func (nopLog) Debug(bool, string, ...interface{}) {}

// fakeFSL creates the files each FSL call would write. Matrices are written
// with contents matrix.
func fakeFSL(matrix string) func(argv []string) error {
	return func(argv []string) error {
		if tools.Name(argv) == "fslsplit" {
			return os.WriteFile(argv[2]+"0000.nii.gz", nil, 0o644)
		}
		for i := 0; i+1 < len(argv); i++ {
			switch argv[i] {
			case "-omat":
				if err := os.WriteFile(argv[i+1], []byte(matrix), 0o644); err != nil {
					return err
				}
			case "-out":
				if err := os.WriteFile(argv[i+1], nil, 0o644); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

func newRegistrar(rec *tools.Recorder) *Registrar {
	return &Registrar{Runner: rec, Tools: config.DefaultConfig().Tools, Log: nopLog{}}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestRegister_ResampledEstimate(t *testing.T) {
	out := t.TempDir()
	rec := &tools.Recorder{Effect: fakeFSL(identity)}
	r := newRegistrar(rec)

	req := Request{
		In:       "/bids/sub-M001/ses-MRL003/dwi/sub-M001_ses-MRL003_dwi.nii.gz",
		Ref:      "/bids/sub-M001/ses-MRL001/anat/sub-M001_ses-MRL001_acq-fs_T1w.nii.gz",
		OutDir:   out,
		Desc:     "coreg",
		Resample: 2,
	}
	got, err := r.Register(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"fslsplit", "flirt", "fslsplit", "flirt", "flirt", "flirt"}, rec.Tools())
	cmds := rec.Commands()
	assert.Contains(t, cmds[1], "-applyisoxfm 2")
	assert.Contains(t, cmds[4], "-cost mutualinfo -dof 6 -nosearch")
	assert.Contains(t, cmds[1], "sub-M001_ses-MRL003_dwi_0000.nii.gz")
	assert.Contains(t, cmds[1], "sub-M001_ses-MRL003_dwi_iso2.nii.gz")
	assert.Contains(t, cmds[4], "sub-M001_ses-MRL003_dwi_iso2.nii.gz")
	assert.NotContains(t, cmds[4], "_0000_iso2")
	assert.Contains(t, cmds[5], "-applyxfm -init "+got.Primary.Matrix)

	// Interim splits and isotropic copies are gone.
	assert.Equal(t, []string{
		"sub-M001_ses-MRL003_desc-coreg_dwi.mat",
		"sub-M001_ses-MRL003_desc-coreg_dwi.nii.gz",
	}, listDir(t, out))

	// A second run finds every output and does nothing.
	rec.Calls = nil
	_, err = r.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, rec.Calls)

	// Overwrite redoes the work.
	r.Overwrite = true
	_, err = r.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, rec.Calls, 6)
}

func TestRegister_Others(t *testing.T) {
	out := t.TempDir()
	rec := &tools.Recorder{Effect: fakeFSL(identity)}
	r := newRegistrar(rec)

	got, err := r.Register(context.Background(), Request{
		In:          "/bids/sub-M001/ses-MRL002/anat/sub-M001_ses-MRL002_MTw.nii.gz",
		Ref:         "/bids/sub-M001/ses-MRL001/anat/sub-M001_ses-MRL001_acq-fs_T1w.nii.gz",
		OutDir:      out,
		Desc:        "coreg",
		Others:      []string{"/bids/derivatives/qmt/sub-M001/ses-MRL002/anat/m0b.nii.gz"},
		OthersQForm: true,
		KeepPhase1:  true,
	})
	require.NoError(t, err)
	require.Len(t, got.Others, 1)

	assert.Equal(t, []string{"flirt", "flirt", "flirt", "convert_xfm", "flirt", "flirt"}, rec.Tools())
	cmds := rec.Commands()
	assert.Contains(t, cmds[2], "-usesqform")
	other := got.Others[0]
	assert.Equal(t, filepath.Join(out, "m0b_coreg.nii.gz"), other.Volume)
	assert.Equal(t, "convert_xfm -omat "+other.Matrix+" -concat "+got.Primary.Matrix+" "+other.Phase1Matrix, cmds[3])
	assert.Contains(t, cmds[4], "-init "+other.Matrix)
	assert.Contains(t, cmds[5], "-out "+other.Phase1Volume)
}

func TestRegister_OthersReusePhase1Matrix(t *testing.T) {
	out := t.TempDir()
	rec := &tools.Recorder{Effect: fakeFSL(identity)}
	r := newRegistrar(rec)

	req := Request{
		In:          "/bids/sub-M001/ses-MRL002/anat/sub-M001_ses-MRL002_MTw.nii.gz",
		Ref:         "/bids/sub-M001/ses-MRL001/anat/sub-M001_ses-MRL001_acq-fs_T1w.nii.gz",
		OutDir:      out,
		Desc:        "coreg",
		Others:      []string{"/bids/derivatives/qmt/sub-M001/ses-MRL002/anat/m0b.nii.gz"},
		OthersQForm: true,
	}
	got, err := r.Register(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, got.Others, 1)
	other := got.Others[0]
	require.FileExists(t, other.Phase1Matrix)

	// Only the resampled volume is missing: the saved phase-1 matrix is
	// concatenated again without a new header or estimation step.
	require.NoError(t, os.Remove(other.Volume))
	rec.Calls = nil
	_, err = r.Register(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"convert_xfm", "flirt"}, rec.Tools())
	for _, cmd := range rec.Commands() {
		assert.NotContains(t, cmd, "-usesqform")
		assert.NotContains(t, cmd, "-cost mutualinfo")
	}
	assert.FileExists(t, other.Volume)
}

func TestPropagate_Inverse(t *testing.T) {
	out := t.TempDir()
	ct := t.TempDir()
	rec := &tools.Recorder{Effect: fakeFSL(identity)}
	r := newRegistrar(rec)

	ref := "/bids/sub-M174/ses-MRL001/anat/sub-M174_ses-MRL001_acq-fs_T1w.nii.gz"
	got, err := r.Propagate(context.Background(), Request{
		In:      filepath.Join(ct, "REFERENCE.nii.gz"),
		Ref:     ref,
		OutDir:  out,
		Desc:    "coreg",
		Inverse: true,
		ROIs:    []string{filepath.Join(ct, "GTV.nii.gz"), filepath.Join(ct, "CTV.nii.gz")},
	})
	require.NoError(t, err)

	cmds := rec.Commands()
	require.Len(t, cmds, 5)
	assert.True(t, strings.HasPrefix(cmds[0], "flirt -in "+ref+" -ref "+filepath.Join(ct, "REFERENCE.nii.gz")+" -omat "+got.Primary.Inverse))
	assert.Equal(t, "convert_xfm -omat "+got.Primary.Matrix+" -inverse "+got.Primary.Inverse, cmds[1])
	assert.NotContains(t, cmds[2], "-interp")
	assert.Contains(t, cmds[3], "-interp nearestneighbour")
	assert.Equal(t, []string{filepath.Join(out, "GTV_coreg.nii.gz"), filepath.Join(out, "CTV_coreg.nii.gz")}, got.ROIs)

	dest, err := os.Readlink(filepath.Join(out, ReferenceLink))
	require.NoError(t, err)
	assert.Equal(t, ref, dest)

	// Idempotent, including the existing link.
	rec.Calls = nil
	_, err = r.Propagate(context.Background(), Request{In: filepath.Join(ct, "REFERENCE.nii.gz"), Ref: ref, OutDir: out, Desc: "coreg", Inverse: true})
	require.NoError(t, err)
	assert.Empty(t, rec.Calls)
}

func TestApply(t *testing.T) {
	out := t.TempDir()
	rec := &tools.Recorder{Effect: fakeFSL(identity)}
	r := newRegistrar(rec)

	outs, err := r.Apply(context.Background(), ApplyRequest{
		Inputs: []string{"/c/sub-GBM001_ses-GLIO02_label-GTV_mask.nii.gz"},
		Ref:    "/r.nii.gz",
		Matrix: "/m.mat",
		OutDir: out,
		Desc:   "coreg",
		Interp: tools.InterpNearestNeighbour,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(out, "sub-GBM001_ses-GLIO02_label-GTV_desc-coreg_mask.nii.gz")}, outs)
	assert.Len(t, rec.Calls, 1)
}

func TestRegister_RejectsSingularMatrix(t *testing.T) {
	out := t.TempDir()
	rec := &tools.Recorder{Effect: fakeFSL("0 0 0 0\n0 0 0 0\n0 0 0 0\n0 0 0 1\n")}
	r := newRegistrar(rec)

	_, err := r.Register(context.Background(), Request{In: "/a/sub-X_T1w.nii.gz", Ref: "/b/sub-X_T2w.nii.gz", OutDir: out, Desc: "coreg"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadMatrix))
	assert.Len(t, rec.Calls, 1, "no apply after a bad estimate")
}

func TestRegister_ToolFailure(t *testing.T) {
	rec := &tools.Recorder{Effect: func([]string) error { return errors.New("exit status 1") }}
	r := newRegistrar(rec)

	_, err := r.Register(context.Background(), Request{In: "/a/sub-X_T1w.nii.gz", Ref: "/b/sub-X_T2w.nii.gz", OutDir: t.TempDir(), Desc: "coreg"})
	var te *tools.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "flirt", te.Tool)
}

func TestReadMatrix(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	rigid := write("rigid.mat", "0.999  -0.0349  0  1.5  \n0.0349  0.999  0  -2.0  \n0  0  1  0.25  \n0  0  0  1  \n")
	m, err := ReadMatrix(rigid)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, m.At(0, 3), 1e-9)
	require.NoError(t, CheckRigid(m))
	assert.InDelta(t, 1.0, Scale(m), 0.01)
	assert.InDelta(t, 2.5125, Translation(m), 1e-3)

	_, err = ReadMatrix(write("short.mat", "1 0 0\n"))
	assert.True(t, errors.Is(err, ErrBadMatrix))
	_, err = ReadMatrix(write("text.mat", "a b c d\n"))
	assert.True(t, errors.Is(err, ErrBadMatrix))

	perspective := mat.NewDense(4, 4, []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0.1, 0, 0, 1})
	assert.True(t, errors.Is(CheckRigid(perspective), ErrBadMatrix))
	assert.True(t, errors.Is(CheckRigid(mat.NewDense(3, 3, nil)), ErrBadMatrix))
}
