package registration

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/naming"
	"github.com/backmassage/neuroprep/internal/probe"
	"github.com/backmassage/neuroprep/internal/tools"
)

// Registrar runs FLIRT workflows through a tools.Runner.
type Registrar struct {
	Runner    tools.Runner
	Tools     config.Tools
	Log       tools.Logger
	Verbose   bool
	Overwrite bool
	DryRun    bool // Runner only logs; no links are made either
}

// Request describes one registration of In to Ref.
type Request struct {
	In       string // primary source volume
	Ref      string // reference volume
	OutDir   string
	Desc     string // desc entity of the outputs, e.g. "coreg"
	Resample int    // isotropic voxel size in mm for estimation; 0 disables

	// Others share In's acquisition space. Each is registered to In
	// (phase 1) and the result concatenated with In -> Ref.
	Others      []string
	OthersQForm bool // phase-1 matrices from the scanner headers instead of estimation
	KeepPhase1  bool // also write each other volume resampled into In space

	// Propagate only.
	Inverse bool     // estimate Ref -> In and invert it
	ROIs    []string // volumes in In space to carry into Ref space
}

// Outputs lists what a registration wrote (or would have written).
type Outputs struct {
	Primary naming.Paths
	Others  []naming.Paths
	ROIs    []string
}

// ReferenceLink is the name of the symlink Propagate leaves next to its
// outputs, pointing at the reference volume.
const ReferenceLink = "reference" + naming.NiftiExt

// Register estimates In -> Ref, resamples In into Ref space and carries any
// other volumes along through In.
func (r *Registrar) Register(ctx context.Context, req Request) (Outputs, error) {
	out := Outputs{Primary: naming.Coreg(req.In, req.OutDir, req.Desc)}
	p := out.Primary

	if r.needs(p.Matrix) {
		if err := r.estimate(ctx, req.In, req.Ref, p.Matrix, req.OutDir, req.Resample); err != nil {
			return out, err
		}
	}
	if err := verify(p.Matrix); err != nil {
		return out, err
	}
	if err := r.apply(ctx, req.In, req.Ref, p.Matrix, p.Volume, ""); err != nil {
		return out, err
	}

	for _, other := range req.Others {
		op, err := r.registerOther(ctx, req, other, p.Matrix)
		out.Others = append(out.Others, op)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func (r *Registrar) registerOther(ctx context.Context, req Request, other, in2ref string) (naming.Paths, error) {
	op := naming.Coreg(other, req.OutDir, req.Desc)
	if !r.needs(op.Volume) && !r.needs(op.Matrix) {
		r.Log.Debug(r.Verbose, "skip existing: %s", op.Volume)
		return op, nil
	}

	switch {
	case !r.needs(op.Phase1Matrix):
		r.Log.Debug(r.Verbose, "phase 1 matrix exists: %s", op.Phase1Matrix)
	case req.OthersQForm:
		if err := r.run(ctx, tools.FlirtQForm(r.Tools, other, req.In, op.Phase1Matrix)); err != nil {
			return op, err
		}
	default:
		if err := r.estimate(ctx, other, req.In, op.Phase1Matrix, req.OutDir, req.Resample); err != nil {
			return op, err
		}
	}
	if err := r.run(ctx, tools.ConvertXFMConcat(r.Tools, op.Matrix, in2ref, op.Phase1Matrix)); err != nil {
		return op, err
	}
	if err := verify(op.Matrix); err != nil {
		return op, err
	}
	if err := r.run(ctx, tools.FlirtApply(r.Tools, other, req.Ref, op.Matrix, op.Volume, "")); err != nil {
		return op, err
	}
	if req.KeepPhase1 {
		if err := r.apply(ctx, other, req.In, op.Phase1Matrix, op.Phase1Volume, ""); err != nil {
			return op, err
		}
	}
	return op, nil
}

// Propagate estimates In -> Ref (optionally by inverting Ref -> In) and
// resamples In and every ROI into Ref space with nearest-neighbour
// interpolation.
func (r *Registrar) Propagate(ctx context.Context, req Request) (Outputs, error) {
	out := Outputs{Primary: naming.Coreg(req.In, req.OutDir, req.Desc)}
	p := out.Primary

	if r.needs(p.Matrix) {
		if req.Inverse {
			if err := r.estimate(ctx, req.Ref, req.In, p.Inverse, req.OutDir, req.Resample); err != nil {
				return out, err
			}
			if err := r.run(ctx, tools.ConvertXFMInverse(r.Tools, p.Matrix, p.Inverse)); err != nil {
				return out, err
			}
		} else if err := r.estimate(ctx, req.In, req.Ref, p.Matrix, req.OutDir, req.Resample); err != nil {
			return out, err
		}
	}
	if err := verify(p.Matrix); err != nil {
		return out, err
	}
	if err := r.apply(ctx, req.In, req.Ref, p.Matrix, p.Volume, ""); err != nil {
		return out, err
	}

	rois, err := r.Apply(ctx, ApplyRequest{
		Inputs: req.ROIs,
		Ref:    req.Ref,
		Matrix: p.Matrix,
		OutDir: req.OutDir,
		Desc:   req.Desc,
		Interp: tools.InterpNearestNeighbour,
	})
	out.ROIs = rois
	if err != nil {
		return out, err
	}

	link := filepath.Join(req.OutDir, ReferenceLink)
	if r.DryRun {
		return out, nil
	}
	if _, err := os.Lstat(link); errors.Is(err, os.ErrNotExist) {
		if err := os.Symlink(req.Ref, link); err != nil {
			return out, err
		}
	}
	return out, nil
}

// ApplyRequest applies one saved matrix to several inputs.
type ApplyRequest struct {
	Inputs []string
	Ref    string
	Matrix string
	OutDir string
	Desc   string
	Interp string
}

// Apply writes each input resampled into Ref space as
// <OutDir>/<desc-inserted name>.nii.gz and returns the output paths.
func (r *Registrar) Apply(ctx context.Context, req ApplyRequest) ([]string, error) {
	outs := make([]string, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		dst := naming.Coreg(in, req.OutDir, req.Desc).Volume
		outs = append(outs, dst)
		if err := r.apply(ctx, in, req.Ref, req.Matrix, dst, req.Interp); err != nil {
			return outs, err
		}
	}
	return outs, nil
}

func (r *Registrar) apply(ctx context.Context, in, ref, matrix, out, interp string) error {
	if !r.needs(out) {
		r.Log.Debug(r.Verbose, "skip existing: %s", out)
		return nil
	}
	return r.run(ctx, tools.FlirtApply(r.Tools, in, ref, matrix, out, interp))
}

// estimate writes the in -> ref matrix to omat. With resample > 0 both
// volumes are first reduced to their first time point and resampled to
// isotropic voxels; the interim files are removed afterwards.
func (r *Registrar) estimate(ctx context.Context, in, ref, omat, workDir string, resample int) error {
	if resample <= 0 {
		return r.run(ctx, tools.FlirtEstimate(r.Tools, in, ref, omat))
	}

	var interim []string
	defer func() {
		for _, f := range interim {
			if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
				r.Log.Debug(r.Verbose, "remove %s: %v", f, err)
			}
		}
	}()

	isoIn, err := r.isotropic(ctx, in, workDir, resample, &interim)
	if err != nil {
		return err
	}
	isoRef, err := r.isotropic(ctx, ref, workDir, resample, &interim)
	if err != nil {
		return err
	}
	return r.run(ctx, tools.FlirtEstimate(r.Tools, isoIn, isoRef, omat))
}

// isotropic resamples the first volume of src into workDir and returns the
// resampled path, named after src. Every file it creates is appended to
// interim.
func (r *Registrar) isotropic(ctx context.Context, src, workDir string, mm int, interim *[]string) (string, error) {
	first := src
	if !is3D(src) {
		base := naming.SplitBase(src, workDir)
		if err := r.run(ctx, tools.FslSplit(r.Tools, src, base)); err != nil {
			return "", err
		}
		splits, _ := filepath.Glob(base + "[0-9][0-9][0-9][0-9]" + naming.NiftiExt)
		*interim = append(*interim, splits...)
		first = naming.SplitVolume(base, 0)
	}

	vol, matrix := naming.Iso(src, workDir, mm)
	*interim = append(*interim, vol, matrix)
	if err := r.run(ctx, tools.FlirtIsotropic(r.Tools, first, vol, matrix, mm)); err != nil {
		return "", err
	}
	return vol, nil
}

// is3D reports whether the header of path says it holds a single volume.
// Unreadable headers are treated as 4D so the volume is split first.
func is3D(path string) bool {
	h, err := probe.ReadHeader(path)
	if err != nil {
		return false
	}
	return !h.Is4D()
}

func (r *Registrar) needs(path string) bool {
	if r.Overwrite {
		return true
	}
	_, err := os.Stat(path)
	return err != nil
}

func (r *Registrar) run(ctx context.Context, argv []string) error {
	return r.Runner.Run(ctx, argv).Err
}
