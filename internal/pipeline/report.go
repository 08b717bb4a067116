package pipeline

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/backmassage/neuroprep/internal/bids"
	"github.com/backmassage/neuroprep/internal/display"
	"github.com/backmassage/neuroprep/internal/naming"
	"github.com/backmassage/neuroprep/internal/registration"
	"github.com/backmassage/neuroprep/internal/term"
)

// matrixRow holds one registration matrix for the QA table.
type matrixRow struct {
	Subject     string
	Session     string
	Name        string
	Scale       float64
	Translation float64
	Invalid     error
}

// Report reads every coreg matrix of the selected subjects and prints a
// table of their scale and translation, flagging statistical outliers.
// A failed registration usually shows up as an outlying translation.
func Report(ctx context.Context, e *Env, subjects []string, w io.Writer) error {
	coreg, err := e.derived(naming.PipelineCoreg)
	if err != nil {
		return err
	}

	var files []bids.File
	for _, subject := range subjects {
		files = append(files, coreg.Find(bids.Query{Subject: subject, Extension: ".mat"})...)
	}
	if len(files) == 0 {
		e.Log.Warn("No registration matrices found in %s", coreg.Root)
		return nil
	}

	isTTY := term.IsTerminal(os.Stdout)
	rows := make([]matrixRow, 0, len(files))
	var translations []float64
	for i, f := range files {
		if ctx.Err() != nil {
			if isTTY {
				clearProgress()
			}
			return ctx.Err()
		}
		printProgress(isTTY, i+1, len(files), filepath.Base(f.Path))

		row := matrixRow{Subject: f.Subject, Session: f.Session, Name: strings.TrimSuffix(filepath.Base(f.Path), ".mat")}
		m, err := registration.ReadMatrix(f.Path)
		if err == nil {
			err = registration.CheckRigid(m)
		}
		if err != nil {
			row.Invalid = err
		} else {
			row.Scale = registration.Scale(m)
			row.Translation = registration.Translation(m)
			translations = append(translations, row.Translation)
		}
		rows = append(rows, row)
	}
	if isTTY {
		clearProgress()
	}

	bounds := computeStats(translations)
	printMatrixTable(w, rows, bounds)
	summarizeMatrices(e, rows, bounds)
	return nil
}

// iqrBounds holds the Tukey fences of a sample.
type iqrBounds struct {
	q1, q3    float64
	outlierLo float64 // Q1 - 1.5*IQR
	outlierHi float64 // Q3 + 1.5*IQR
	extremeLo float64 // Q1 - 3.0*IQR
	extremeHi float64 // Q3 + 3.0*IQR
	valid     bool
}

// computeStats needs at least four values and a non-zero spread.
func computeStats(vals []float64) iqrBounds {
	if len(vals) < 4 {
		return iqrBounds{}
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	b := iqrBounds{
		q1: stat.Quantile(0.25, stat.LinInterp, sorted, nil),
		q3: stat.Quantile(0.75, stat.LinInterp, sorted, nil),
	}
	iqr := b.q3 - b.q1
	b.outlierLo, b.outlierHi = b.q1-1.5*iqr, b.q3+1.5*iqr
	b.extremeLo, b.extremeHi = b.q1-3*iqr, b.q3+3*iqr
	b.valid = iqr > 0
	return b
}

// Outlier classes.
const (
	classNormal  = ""
	classOutlier = "outlier"
	classExtreme = "extreme"
)

// classify places v against the fences. Translations are lengths, so zero
// is a real value (an identity matrix) and is classified like any other.
func (b *iqrBounds) classify(v float64) string {
	if !b.valid {
		return classNormal
	}
	if v < b.extremeLo || v > b.extremeHi {
		return classExtreme
	}
	if v < b.outlierLo || v > b.outlierHi {
		return classOutlier
	}
	return classNormal
}

// classifyRow also flags unreadable matrices and rigid matrices whose
// scale drifted from 1.
func classifyRow(r matrixRow, b iqrBounds) string {
	if r.Invalid != nil || math.Abs(r.Scale-1) > 0.05 {
		return classExtreme
	}
	return b.classify(r.Translation)
}

func printMatrixTable(w io.Writer, rows []matrixRow, b iqrBounds) {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		scale, trans := "n/a", "n/a"
		if r.Invalid == nil {
			scale = fmt.Sprintf("%.3f", r.Scale)
			trans = fmt.Sprintf("%.1f", r.Translation)
		}
		out = append(out, []string{r.Subject, r.Session, r.Name, scale, trans, formatFlag(classifyRow(r, b))})
	}
	display.PrintTable(w, []string{"Subject", "Session", "Matrix", "Scale", "Translation (mm)", ""}, out)
}

func summarizeMatrices(e *Env, rows []matrixRow, b iqrBounds) {
	var outliers, extremes int
	for _, r := range rows {
		if r.Invalid != nil {
			e.Log.Error("%s: %v", r.Name, r.Invalid)
		}
		switch classifyRow(r, b) {
		case classExtreme:
			extremes++
		case classOutlier:
			outliers++
		}
	}

	e.Log.Info("Read %s", display.Plural(len(rows), "matrix file"))
	if b.valid {
		e.Log.Info("  Translation IQR: %.1f to %.1f mm (outlier < %.1f or > %.1f)", b.q1, b.q3, b.outlierLo, b.outlierHi)
	}
	if outliers > 0 {
		e.Log.Warn("  %d outlier(s) flagged [*]", outliers)
	}
	if extremes > 0 {
		e.Log.Error("  %d extreme outlier(s) flagged [!]", extremes)
	}
	if outliers == 0 && extremes == 0 {
		e.Log.Success("  No outliers detected")
	}
}

func formatFlag(class string) string {
	switch class {
	case classExtreme:
		return term.Red("[!]")
	case classOutlier:
		return term.Yellow("[*]")
	default:
		return ""
	}
}

// printProgress shows a live counter on a TTY; it is a no-op otherwise.
func printProgress(isTTY bool, current, total int, name string) {
	if !isTTY {
		return
	}
	status := fmt.Sprintf("  Reading [%d/%d] %d%% ", current, total, current*100/total)
	if len(name) > 40 {
		name = name[:39] + "…"
	}
	status += name
	if len(status) < 80 {
		status += strings.Repeat(" ", 80-len(status))
	}
	fmt.Fprintf(os.Stdout, "\r%s", status)
}

func clearProgress() {
	fmt.Fprintf(os.Stdout, "\r%s\r", strings.Repeat(" ", 80))
}
