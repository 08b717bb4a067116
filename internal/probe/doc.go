// Package probe reads NIfTI-1 headers. A 348-byte header read per file
// replaces loading whole volumes when the pipeline only needs the datatype
// or the number of volumes.
package probe
