package bids

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned by [DateToSession] when no T1w sidecar of
// the subject carries the requested date.
var ErrSessionNotFound = errors.New("no session acquired on date")

// SessionToDate returns the YYYYMMDD acquisition date of a session, read from
// the first T1w sidecar of that session.
func SessionToDate(l *Layout, subject, session string) (string, error) {
	paths := l.Get(Query{Subject: subject, Session: session, Suffix: "T1w", Extension: "json", Scope: ScopeRaw})
	if len(paths) == 0 {
		return "", fmt.Errorf("no T1w sidecar for sub-%s ses-%s", subject, session)
	}
	s, err := ReadSidecar(paths[0])
	if err != nil {
		return "", err
	}
	date, err := s.AcquisitionDate()
	if err != nil {
		return "", fmt.Errorf("%s: %w", paths[0], err)
	}
	return date, nil
}

// DateToSession returns the session whose T1w sidecar was acquired on date
// (YYYYMMDD). Unreadable sidecars are skipped.
func DateToSession(l *Layout, subject, date string) (string, error) {
	for _, f := range l.Find(Query{Subject: subject, Suffix: "T1w", Extension: "json", Scope: ScopeRaw}) {
		s, err := ReadSidecar(f.Path)
		if err != nil {
			continue
		}
		if d, err := s.AcquisitionDate(); err == nil && d == date {
			return f.Session, nil
		}
	}
	return "", fmt.Errorf("%w: sub-%s %s", ErrSessionNotFound, subject, date)
}
