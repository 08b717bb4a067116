package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/backmassage/neuroprep/internal/bids"
)

// SaveLayout replaces the cached index of l.
func (s *Store) SaveLayout(ctx context.Context, l *bids.Layout, opts bids.Options) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM files WHERE root = ? AND derivatives = ?`, l.Root, flag(opts.Derivatives)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO layouts (root, derivatives, indexed_at) VALUES (?, ?, ?)
			 ON CONFLICT (root, derivatives) DO UPDATE SET indexed_at = excluded.indexed_at`,
			l.Root, flag(opts.Derivatives), time.Now().UTC().Format(time.RFC3339)); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO files (root, derivatives, path, scope, datatype, subject, session, entities, suffix, extension)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, f := range l.Files {
			entities, err := json.Marshal(f.Entities)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, l.Root, flag(opts.Derivatives), f.Path, f.Scope, f.Datatype,
				f.Subject, f.Session, string(entities), f.Suffix, f.Extension); err != nil {
				return fmt.Errorf("save %s: %w", f.Path, err)
			}
		}
		return nil
	})
}

// LoadLayout returns the cached index of root. ok is false when the root has
// never been saved with these options.
func (s *Store) LoadLayout(ctx context.Context, root string, opts bids.Options) (l *bids.Layout, ok bool, err error) {
	var indexedAt string
	err = s.db.QueryRowContext(ctx,
		`SELECT indexed_at FROM layouts WHERE root = ? AND derivatives = ?`, root, flag(opts.Derivatives)).Scan(&indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, scope, datatype, subject, session, entities, suffix, extension
		 FROM files WHERE root = ? AND derivatives = ? ORDER BY path`, root, flag(opts.Derivatives))
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	l = &bids.Layout{Root: root}
	for rows.Next() {
		var f bids.File
		var entities string
		if err := rows.Scan(&f.Path, &f.Scope, &f.Datatype, &f.Subject, &f.Session, &entities, &f.Suffix, &f.Extension); err != nil {
			return nil, false, err
		}
		if err := json.Unmarshal([]byte(entities), &f.Entities); err != nil {
			return nil, false, fmt.Errorf("decode entities of %s: %w", f.Path, err)
		}
		l.Files = append(l.Files, f)
	}
	return l, true, rows.Err()
}

// flag stores a bool as the INTEGER the schema declares.
func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
