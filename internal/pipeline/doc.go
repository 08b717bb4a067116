// Package pipeline runs the preprocessing stages over a BIDS dataset:
// longitudinal alignment, the session-day table, contour propagation, brain
// extraction, tissue segmentation and AIAA tumour segmentation.
//
// Stages walk subjects and sessions sequentially. A failure on one item is
// logged, counted and recorded in the run ledger; the stage then moves on.
// Every output that already exists is left alone unless overwrite is set.
package pipeline
