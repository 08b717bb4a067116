// Package naming derives every output path of the pipeline from its source
// path. Functions are pure: no filesystem access.
//
// Derived names are entity edits of the source name:
//
//	sub-M001_ses-MRL003_acq-fs_T1w        -> sub-M001_ses-MRL003_acq-fs_desc-coreg_T1w
//	sub-M001_ses-MRL003_acq-fs_T1w        -> sub-M001_ses-MRL003_label-brain_mask
//	GTV (non-BIDS ROI)                    -> GTV_coreg
//
// The layout of the derivatives tree is
// <bids>/derivatives/<pipeline>/sub-<s>/ses-<t>/<datatype>/.
package naming
