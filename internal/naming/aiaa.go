package naming

import (
	"fmt"
	"path/filepath"
)

// AIAAPreprocOutput is the file aiaa-preproc --merge writes into work.
func AIAAPreprocOutput(work string) string {
	return filepath.Join(work, "merged"+NiftiExt)
}

// AIAAMerged is the renamed merged input: sub-<s>_ses-<t>_desc-merged_T1w.nii.gz.
func AIAAMerged(work, subject, session string) string {
	return filepath.Join(work, fmt.Sprintf("sub-%s_ses-%s_desc-merged_T1w%s", subject, session, NiftiExt))
}

// AIAASegOutput is the combined output name passed to aiaa-segment -o.
func AIAASegOutput(work, subject, session string) string {
	return filepath.Join(work, fmt.Sprintf("sub-%s_ses-%s_label-tumour_masks%s", subject, session, NiftiExt))
}

// MaskRename maps one aiaa-segment label file to its mask name.
type MaskRename struct {
	Output string // <work>/<model label>.nii.gz
	Mask   string // <work>/sub-<s>_ses-<t>_label-<label>_mask.nii.gz
	Label  string
}

// AIAALabels returns the model label -> mask label pairs in output order.
// Three-output models segment enhancing tumour, tumour core and whole
// tumour; the single-output model segments the tumour core.
func AIAALabels(numOutputs int) [][2]string {
	if numOutputs == 1 {
		return [][2]string{{"tumor", "tumourcore"}}
	}
	return [][2]string{
		{"enhancing_tumor", "enhancingtumour"},
		{"tumor_core", "tumourcore"},
		{"whole_tumor", "wholetumour"},
	}
}

// AIAAMasks lists the renames for one session's segmentation.
func AIAAMasks(work, subject, session string, numOutputs int) []MaskRename {
	labels := AIAALabels(numOutputs)
	out := make([]MaskRename, len(labels))
	for i, l := range labels {
		out[i] = MaskRename{
			Output: filepath.Join(work, l[0]+NiftiExt),
			Mask:   filepath.Join(work, Contour(subject, session, l[1])+NiftiExt),
			Label:  l[1],
		}
	}
	return out
}

// AIAAPipeline is the derivatives folder for a model's masks.
func AIAAPipeline(numOutputs int) string {
	if numOutputs == 1 {
		return PipelineAIAASegCore
	}
	return PipelineAIAASeg
}
