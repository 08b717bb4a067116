// Package registration runs the FLIRT workflows: rigid co-registration of a
// volume (and volumes that share its space) to a reference, propagation of
// regions of interest through an estimated matrix, and application of saved
// matrices.
//
// Every step checks for its output first and is skipped when the file is
// already there, unless the Registrar is told to overwrite.
package registration
