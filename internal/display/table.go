package display

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// SummaryRow is one stage's counters in the end-of-run table.
type SummaryRow struct {
	Stage   string
	Total   int
	Done    int
	Skipped int
	Failed  int
}

// PrintSummary renders per-stage counters.
func PrintSummary(w io.Writer, rows []SummaryRow) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Stage", "Total", "Done", "Skipped", "Failed"})
	for _, r := range rows {
		table.Append([]string{
			r.Stage,
			strconv.Itoa(r.Total),
			strconv.Itoa(r.Done),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Failed),
		})
	}
	table.Render()
}

// PrintTable renders an arbitrary header and rows (layout listings, check
// results).
func PrintTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}
