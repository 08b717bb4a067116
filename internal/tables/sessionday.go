package tables

import (
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the compact date form used in sidecar-derived dates and the
// session-day table.
const DateLayout = "20060102"

const (
	colStudyID = "Study ID"
	colTxStart = "TX START DATE"
)

// trackerLayouts are the date forms seen in tracker exports.
var trackerLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
	DateLayout,
}

// ParseDate parses a tracker or sidecar date.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range trackerLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// ReadTracker maps study IDs to treatment start dates. Rows without a
// parseable date are returned in skipped.
func ReadTracker(path string) (starts map[string]time.Time, skipped []string, err error) {
	t, err := readTable(path, colStudyID, colTxStart)
	if err != nil {
		return nil, nil, err
	}
	starts = make(map[string]time.Time, len(t.rows))
	for _, row := range t.rows {
		id := t.get(row, colStudyID)
		if id == "" {
			continue
		}
		d, err := ParseDate(t.get(row, colTxStart))
		if err != nil {
			skipped = append(skipped, id)
			continue
		}
		starts[id] = d
	}
	return starts, skipped, nil
}

// SessionDay is one row of the session-day table.
type SessionDay struct {
	Subject string
	Session string
	TxStart time.Time
	Date    time.Time
}

// TxDay is the number of days from treatment start to the session.
func (s SessionDay) TxDay() int {
	return int(s.Date.Sub(s.TxStart).Hours() / 24)
}

// SessionDayHeader is the header of the session-day table.
var SessionDayHeader = []string{"Subject", "Session", "TxStartDate", "Date", "TxDay"}

// WriteSessionDays writes the table; it refuses to replace an existing one.
func WriteSessionDays(path string, rows []SessionDay) error {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{
			r.Subject,
			r.Session,
			r.TxStart.Format(DateLayout),
			r.Date.Format(DateLayout),
			strconv.Itoa(r.TxDay()),
		}
	}
	return writeTable(path, SessionDayHeader, out)
}

// Unmatched is a subject/session whose treatment start is unknown.
type Unmatched struct {
	Subject string
	Session string
	Reason  string
}

// WriteUnmatched writes the debug table listing sessions left out of the
// session-day table.
func WriteUnmatched(path string, rows []Unmatched) error {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{r.Subject, r.Session, r.Reason}
	}
	return writeTable(path, []string{"Subject", "Session", "Reason"}, out)
}
