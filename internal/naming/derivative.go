package naming

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/backmassage/neuroprep/internal/bids"
)

// NiftiExt is the extension of every volume the pipeline reads or writes.
const NiftiExt = ".nii.gz"

// Derivative pipeline folders under <bids>/derivatives.
const (
	PipelineCoreg         = "coreg"
	PipelineContours      = "contours"
	PipelineCoregContours = "coreg_contours"
	PipelineAIAASeg       = "aiaa_seg"
	PipelineAIAASegCore   = "aiaa_seg_tc"
	PipelineCoregAIAASeg  = "coreg_aiaa_seg"
	PipelineCTContours    = "ct_contours"
	PipelineGlioContours  = "glio_contours"
	PipelineQMT           = "qmt"
	PipelineHDBET         = "hdbet"
	PipelineFAST          = "fast"
)

// Stem returns the basename of path up to its first dot.
func Stem(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

// DescName inserts desc-<desc> before the suffix of a BIDS stem. Stems that
// are not BIDS names (GTV, REFERENCE, m0b) get "_<desc>" appended.
func DescName(stem, desc string) string {
	n, err := bids.ParseName(stem)
	if err != nil {
		return stem + "_" + desc
	}
	return n.InsertBeforeSuffix("desc", desc).Stem()
}

// Paths are the files one registration writes for a source volume.
type Paths struct {
	Volume       string // <DescName>.nii.gz
	Matrix       string // <DescName>.mat (source -> reference)
	Inverse      string // <DescName>_inverse.mat (reference -> source, before inversion)
	Sidecar      string // <DescName>.json
	Phase1Matrix string // <DescName>_phase1.mat (other -> primary input)
	Phase1Volume string // <DescName>_phase1.nii.gz
}

// Coreg returns the registration outputs for src written into outDir.
func Coreg(src, outDir, desc string) Paths {
	base := filepath.Join(outDir, DescName(Stem(src), desc))
	return Paths{
		Volume:       base + NiftiExt,
		Matrix:       base + ".mat",
		Inverse:      base + "_inverse.mat",
		Sidecar:      base + ".json",
		Phase1Matrix: base + "_phase1.mat",
		Phase1Volume: base + "_phase1" + NiftiExt,
	}
}

// Iso returns the isotropically resampled copy of src and its matrix.
func Iso(src, outDir string, mm int) (volume, matrix string) {
	base := filepath.Join(outDir, fmt.Sprintf("%s_iso%d", Stem(src), mm))
	return base + NiftiExt, base + ".mat"
}

// SplitBase is the output prefix handed to fslsplit for src.
func SplitBase(src, outDir string) string {
	return filepath.Join(outDir, Stem(src)+"_")
}

// SplitVolume is the i-th volume fslsplit writes for base.
func SplitVolume(base string, i int) string {
	return fmt.Sprintf("%s%04d%s", base, i, NiftiExt)
}

// M0bSource is the qMT M0b map acquired for subject on date (YYYYMMDD).
func M0bSource(qmtDir, subject, date string) string {
	return filepath.Join(qmtDir, "nii", fmt.Sprintf("MRL_BRAIN_%s_%s", subject, date), "m0b"+NiftiExt)
}

// M0b is where the registered M0b map of a session is kept:
// <bidsRoot>/derivatives/qmt/sub-<s>/ses-<t>/sub-<s>_ses-<t>_m0b.nii.gz.
func M0b(bidsRoot, subject, session string) string {
	name := fmt.Sprintf("sub-%s_ses-%s_m0b%s", subject, session, NiftiExt)
	return filepath.Join(DerivativeDir(bidsRoot, PipelineQMT, subject, session, ""), name)
}

// SourceFromCoreg maps a co-registered volume back to its raw source:
// the desc-<desc> entity is dropped and the file is placed under
// <bidsRoot>/sub-<s>/ses-<t>/<datatype>/.
func SourceFromCoreg(bidsRoot, coregPath, desc string) (string, error) {
	n, err := bids.ParseName(Stem(coregPath))
	if err != nil {
		return "", err
	}
	n = dropEntity(n, "desc", desc)
	datatype := filepath.Base(filepath.Dir(coregPath))
	return filepath.Join(bidsRoot, "sub-"+n.Subject(), "ses-"+n.Session(), datatype, n.Stem()+NiftiExt), nil
}

// In2RefMatrix is the saved source -> reference matrix of a raw volume:
// <bids>/derivatives/coreg/sub-<s>/ses-<t>/<datatype>/<DescName>.mat.
func In2RefMatrix(bidsRoot, volume, desc string) (string, error) {
	n, err := bids.ParseName(Stem(volume))
	if err != nil {
		return "", err
	}
	dir := DerivativeDir(bidsRoot, PipelineCoreg, n.Subject(), n.Session(), filepath.Base(filepath.Dir(volume)))
	return filepath.Join(dir, DescName(n.Stem(), desc)+".mat"), nil
}

// DerivativeDir is <bidsRoot>/derivatives/<pipeline>/sub-<s>/ses-<t>/<datatype>.
// An empty datatype stops at the session directory.
func DerivativeDir(bidsRoot, pipeline, subject, session, datatype string) string {
	return filepath.Join(bidsRoot, "derivatives", pipeline, "sub-"+subject, "ses-"+session, datatype)
}

// ReferenceName is the basename of a reference volume without .nii.gz, the
// form stored in the reference list.
func ReferenceName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), NiftiExt)
}

// SessionOf returns the session label of a reference name (its second
// entity).
func SessionOf(refName string) string {
	parts := strings.Split(refName, "_")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimPrefix(parts[1], "ses-")
}

// ReferencePath rebuilds the raw path of a reference name.
func ReferencePath(bidsRoot, subject, refName string) string {
	return filepath.Join(bidsRoot, "sub-"+subject, "ses-"+SessionOf(refName), "anat", refName+NiftiExt)
}

func dropEntity(n bids.Name, key, value string) bids.Name {
	out := bids.Name{Suffix: n.Suffix, Extension: n.Extension}
	for _, e := range n.Entities {
		if e.Key == key && e.Value == value {
			continue
		}
		out.Entities = append(out.Entities, e)
	}
	return out
}
