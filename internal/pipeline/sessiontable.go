package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/backmassage/neuroprep/internal/bids"
	"github.com/backmassage/neuroprep/internal/config"
	"github.com/backmassage/neuroprep/internal/logging"
	"github.com/backmassage/neuroprep/internal/tables"
)

// SessionDayPath is where the session-day table is written.
func SessionDayPath(cfg *config.Config) string {
	return filepath.Join(cfg.ResultsDir, "session_day.csv")
}

// SessionDebugPath lists sessions left out of the table.
func SessionDebugPath(cfg *config.Config) string {
	return filepath.Join(cfg.ResultsDir, "debug_session_day.csv")
}

// SessionTable maps every session to its day of radiotherapy: the session
// date comes from the first T1w sidecar and the treatment start from the
// tracker (or a tx_start override). Sessions without either are written to
// the debug table instead. Nothing is done when the table exists.
func SessionTable(ctx context.Context, e *Env, subjects []string) Stats {
	stats := Stats{Stage: config.StageSessionTable}
	e.Log.Stage(config.StageSessionTable, logging.StageStart)
	defer e.Log.Stage(config.StageSessionTable, logging.StageEnd)

	path := SessionDayPath(e.Cfg)
	if tables.Exists(path) && !e.Cfg.Overwrite {
		e.Log.Info("Session-day table already exists: %s", path)
		stats.add(e.finish(ctx, item{stage: config.StageSessionTable, output: path}, nil, true))
		return stats
	}

	l, err := e.Layout(ctx)
	if err != nil {
		e.Log.Error("%v", err)
		return stats
	}
	starts, err := txStarts(e)
	if err != nil {
		e.Log.Error("Treatment tracker: %v", err)
		return stats
	}

	var rows []tables.SessionDay
	var unmatched []tables.Unmatched
	for _, subject := range subjects {
		if ctx.Err() != nil {
			e.Log.Warn("Interrupted")
			return stats
		}
		e.Log.Info("Processing: %s", subject)
		for _, session := range l.Sessions(subject) {
			it := item{stage: config.StageSessionTable, subject: subject, session: session, output: path}
			row, reason := sessionDay(l, starts, subject, session)
			if reason != "" {
				e.Log.Warn("sub-%s ses-%s: %s", subject, session, reason)
				unmatched = append(unmatched, tables.Unmatched{Subject: subject, Session: session, Reason: reason})
				stats.add(e.finish(ctx, it, nil, true))
				continue
			}
			rows = append(rows, row)
			stats.add(e.finish(ctx, it, nil, false))
		}
	}

	if e.Cfg.DryRun {
		e.Log.Info("[dry-run] would write %d rows to %s", len(rows), path)
		return stats
	}
	if e.Cfg.Overwrite {
		removeIfExists(e, path, SessionDebugPath(e.Cfg))
	}
	if err := tables.WriteSessionDays(path, rows); err != nil {
		e.Log.Error("Write session-day table: %v", err)
		return stats
	}
	e.Log.Success("Session-day table written: %s", path)
	if err := tables.WriteUnmatched(SessionDebugPath(e.Cfg), unmatched); err != nil {
		e.Log.Warn("Write debug table: %v", err)
	}
	return stats
}

// txStarts merges the tracker with tx_start overrides.
func txStarts(e *Env) (map[string]time.Time, error) {
	starts := make(map[string]time.Time)
	if tables.Exists(e.Cfg.TrackerFile) {
		tracked, skipped, err := tables.ReadTracker(e.Cfg.TrackerFile)
		if err != nil {
			return nil, err
		}
		for _, id := range skipped {
			e.Log.Warn("Tracker row %s has no usable TX START DATE", id)
		}
		starts = tracked
	} else {
		e.Log.Warn("Tracker not found: %s", e.Cfg.TrackerFile)
	}

	for _, o := range e.Cfg.Overrides {
		if o.TxStart == "" || o.Session != "" {
			continue
		}
		d, err := tables.ParseDate(o.TxStart)
		if err != nil {
			return nil, fmt.Errorf("override for %s: %w", o.Subject, err)
		}
		starts[o.Subject] = d
	}
	return starts, nil
}

// sessionDay builds one row; reason is non-empty when it cannot.
func sessionDay(l *bids.Layout, starts map[string]time.Time, subject, session string) (tables.SessionDay, string) {
	start, ok := starts[subject]
	if !ok {
		return tables.SessionDay{}, "no treatment start date"
	}
	ds, err := bids.SessionToDate(l, subject, session)
	if err != nil {
		return tables.SessionDay{}, err.Error()
	}
	date, err := tables.ParseDate(ds)
	if err != nil {
		return tables.SessionDay{}, err.Error()
	}
	return tables.SessionDay{Subject: subject, Session: session, TxStart: start, Date: date}, ""
}
