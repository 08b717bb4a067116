package tools

import (
	"path/filepath"
	"strconv"

	"github.com/backmassage/neuroprep/internal/config"
)

// Interpolation methods accepted by flirt -interp.
const (
	InterpTrilinear        = "trilinear"
	InterpNearestNeighbour = "nearestneighbour"
)

// FSLBinary resolves an FSL binary under FSLDir/bin, or leaves it to PATH.
func FSLBinary(t config.Tools, name string) string {
	if t.FSLDir == "" {
		return name
	}
	return filepath.Join(t.FSLDir, "bin", name)
}

// FlirtEstimate estimates a rigid in -> ref matrix into omat: mutual
// information cost, 6 degrees of freedom, no angular search.
func FlirtEstimate(t config.Tools, in, ref, omat string) []string {
	return []string{
		FSLBinary(t, "flirt"),
		"-in", in,
		"-ref", ref,
		"-omat", omat,
		"-cost", "mutualinfo",
		"-dof", "6",
		"-nosearch",
	}
}

// FlirtApply resamples in into ref space with the saved matrix init. An empty
// interp keeps flirt's default (trilinear).
func FlirtApply(t config.Tools, in, ref, init, out, interp string) []string {
	args := []string{
		FSLBinary(t, "flirt"),
		"-in", in,
		"-ref", ref,
		"-applyxfm",
		"-init", init,
		"-out", out,
	}
	if interp != "" {
		args = append(args, "-interp", interp)
	}
	return args
}

// FlirtQForm derives the in -> ref matrix from the scanner qform/sform
// headers alone, without estimation.
func FlirtQForm(t config.Tools, in, ref, omat string) []string {
	return []string{
		FSLBinary(t, "flirt"),
		"-in", in,
		"-ref", ref,
		"-applyxfm",
		"-usesqform",
		"-omat", omat,
	}
}

// FlirtIsotropic resamples in to mm isotropic voxels.
func FlirtIsotropic(t config.Tools, in, out, omat string, mm int) []string {
	return []string{
		FSLBinary(t, "flirt"),
		"-in", in,
		"-ref", in,
		"-applyisoxfm", strconv.Itoa(mm),
		"-out", out,
		"-omat", omat,
	}
}

// FslSplit splits a 4D volume along time into <base>0000.nii.gz, ...
func FslSplit(t config.Tools, in, base string) []string {
	return []string{FSLBinary(t, "fslsplit"), in, base, "-t"}
}

// ConvertXFMInverse writes the inverse of in to out.
func ConvertXFMInverse(t config.Tools, out, in string) []string {
	return []string{FSLBinary(t, "convert_xfm"), "-omat", out, "-inverse", in}
}

// ConvertXFMConcat writes second∘first to out: with first A->B and second
// B->C the result maps A->C.
func ConvertXFMConcat(t config.Tools, out, second, first string) []string {
	return []string{FSLBinary(t, "convert_xfm"), "-omat", out, "-concat", second, first}
}

// HDBET runs brain extraction on in, writing <base>.nii.gz and
// <base>_mask.nii.gz.
func HDBET(t config.Tools, in, base string) []string {
	return []string{
		t.HDBET,
		"-i", in,
		"-o", base,
		"-device", t.HDBETDevice,
		"-mode", t.HDBETMode,
		"-tta", strconv.Itoa(t.HDBETTTA),
	}
}

// FAST runs three-class T1 tissue segmentation of brain with outputs
// prefixed by base.
func FAST(t config.Tools, base, brain string) []string {
	return []string{
		FSLBinary(t, "fast"),
		"-t", "1",
		"-n", "3",
		"-H", "0.1",
		"-I", "4",
		"-l", "20.0",
		"-o", base,
		brain,
	}
}

// AIAAPreproc reorients, resamples, skull-strips and merges the T1ce, T1
// and FLAIR inputs into <work>/merged.nii.gz.
func AIAAPreproc(t config.Tools, a config.AIAA, t1ce, t1, flair, work string) []string {
	return []string{
		t.AIAAPreproc,
		"-i", t1ce, t1, flair,
		"-od", work,
		"-r",
		"-vs", strconv.Itoa(a.VoxelSize),
		"--bet",
		"--merge",
	}
}

// AIAASegment sends merged to the AIAA server for segmentation with model.
// output is a basename written inside work.
func AIAASegment(t config.Tools, a config.AIAA, merged, model, output, work string) []string {
	return []string{
		t.AIAASegment,
		"-i", merged,
		"-m", model,
		"-o", output,
		"-od", work,
		"-s", a.Server,
	}
}

// Name returns the executable's basename, used in logs and errors.
func Name(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return filepath.Base(argv[0])
}
