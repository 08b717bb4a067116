package naming

import (
	"fmt"
	"path/filepath"

	"github.com/backmassage/neuroprep/internal/bids"
)

// Contour is the stem of a subject/session mask: sub-<s>_ses-<t>_label-<l>_mask.
func Contour(subject, session, label string) string {
	return fmt.Sprintf("sub-%s_ses-%s_label-%s_mask", subject, session, label)
}

// ContourLink is where a contour already in reference space is linked as
// its desc-<desc> name.
func ContourLink(outDir, contour, desc string) string {
	return filepath.Join(outDir, DescName(Stem(contour), desc)+NiftiExt)
}

// BrainVolume is the skull-stripped T1w: desc-brain inserted before the suffix.
func BrainVolume(outDir, t1w string) string {
	return filepath.Join(outDir, DescName(Stem(t1w), "brain")+NiftiExt)
}

// BrainMask is sub-<s>_ses-<t>_label-brain_mask.nii.gz for the T1w's subject
// and session.
func BrainMask(outDir, t1w string) (string, error) {
	n, err := bids.ParseName(Stem(t1w))
	if err != nil {
		return "", err
	}
	return filepath.Join(outDir, Contour(n.Subject(), n.Session(), "brain")+NiftiExt), nil
}

// HDBETBase is the output prefix passed to hd-bet. It writes <base>.nii.gz
// and <base>_mask.nii.gz.
func HDBETBase(outDir, t1w string) string {
	return filepath.Join(outDir, Stem(t1w))
}

// TissueBase is the output prefix passed to fast -o.
func TissueBase(outDir, brain string) string {
	return filepath.Join(outDir, Stem(brain))
}

// TissueSeg is the hard segmentation FAST writes for base.
func TissueSeg(base string) string {
	return base + "_seg" + NiftiExt
}

// TissueClass pairs a FAST partial-volume map with its relabelled name.
type TissueClass struct {
	PVE   string // <base>_pve_<i>.nii.gz as written by FAST.
	Label string // <base>_<csf|gm|wm>.nii.gz
}

// TissueClasses lists the three T1 classes in FAST's intensity order.
func TissueClasses(base string) []TissueClass {
	labels := []string{"csf", "gm", "wm"}
	out := make([]TissueClass, len(labels))
	for i, l := range labels {
		out[i] = TissueClass{
			PVE:   fmt.Sprintf("%s_pve_%d%s", base, i, NiftiExt),
			Label: base + "_" + l + NiftiExt,
		}
	}
	return out
}
