package pipeline

import "github.com/backmassage/neuroprep/internal/display"

// Stats counts the items a stage handled.
type Stats struct {
	Stage   string
	Total   int
	Done    int
	Skipped int
	Failed  int
}

// Row converts s for the summary table.
func (s Stats) Row() display.SummaryRow {
	return display.SummaryRow{
		Stage:   s.Stage,
		Total:   s.Total,
		Done:    s.Done,
		Skipped: s.Skipped,
		Failed:  s.Failed,
	}
}

// add folds an item outcome into the counters.
func (s *Stats) add(o outcome) {
	s.Total++
	switch o {
	case outcomeDone:
		s.Done++
	case outcomeSkipped:
		s.Skipped++
	case outcomeFailed:
		s.Failed++
	}
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeSkipped
	outcomeFailed
)
