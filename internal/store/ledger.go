package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Step statuses.
const (
	StatusDone    = "done"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusDryRun  = "dry-run"
)

// Step is the outcome of one processed item.
type Step struct {
	RunID   string
	Stage   string
	Subject string
	Session string
	Output  string
	Status  string
	Message string
	At      time.Time
}

// Run is a ledger entry for one invocation.
type Run struct {
	ID         string
	Command    string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
}

// BeginRun records a new run and returns its id (a UUIDv7, so ids sort by
// start time).
func (s *Store) BeginRun(ctx context.Context, command string) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, started_at) VALUES (?, ?, ?)`,
		id, command, formatTime(time.Now()))
	if err != nil {
		return "", err
	}
	return id, nil
}

// EndRun stamps the run's finish time.
func (s *Store) EndRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE id = ?`, formatTime(time.Now()), runID)
	return err
}

// Record appends a step to its run.
func (s *Store) Record(ctx context.Context, st Step) error {
	if st.At.IsZero() {
		st.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO steps (run_id, stage, subject, session, output, status, message, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		st.RunID, st.Stage, st.Subject, st.Session, st.Output, st.Status, st.Message, formatTime(st.At))
	return err
}

// Steps returns a run's steps in recording order.
func (s *Store) Steps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, stage, subject, session, output, status, message, at
		 FROM steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var st Step
		var at string
		if err := rows.Scan(&st.RunID, &st.Stage, &st.Subject, &st.Session, &st.Output, &st.Status, &st.Message, &at); err != nil {
			return nil, err
		}
		st.At = parseTime(at)
		out = append(out, st)
	}
	return out, rows.Err()
}

// Runs lists the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, started_at, COALESCE(finished_at, '') FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Command, &started, &finished); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
