// Package tools builds and executes the external neuroimaging commands:
// FSL (flirt, convert_xfm, fslsplit, fast), HD-BET and the NVIDIA AIAA
// client scripts.
//
// Builders are pure and return argv slices. A [Runner] executes them; the
// [Executor] shells out and the [Recorder] captures calls in tests.
package tools
