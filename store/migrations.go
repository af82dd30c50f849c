package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
)

type migration struct {
	version     int
	description string
	apply       func(ctx context.Context, tx *sql.Tx) error
}

// migrations run in order after the base schema. Append only.
var migrations = []migration{
	{
		version:     1,
		description: "base schema",
		apply:       func(context.Context, *sql.Tx) error { return nil },
	},
	{
		version:     2,
		description: "reconciler provenance on edges",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			// Skips columns an earlier partial run already added.
			have, err := columns(ctx, tx, "edges")
			if err != nil {
				return err
			}
			for _, c := range []struct{ name, typ string }{
				{"converted_from", "TEXT"},
				{"converted_at", "DATETIME"},
			} {
				if have[c.name] {
					continue
				}
				if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE edges ADD COLUMN %s %s", c.name, c.typ)); err != nil {
					return fmt.Errorf("adding edges.%s: %w", c.name, err)
				}
			}
			return nil
		},
	},
	{
		version:     3,
		description: "index edges by filing",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_edges_filing ON edges(filing_id)")
			return err
		},
	},
}

const schemaVersionSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version     INTEGER PRIMARY KEY,
	description TEXT,
	applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// Migrate applies every migration newer than the recorded schema version.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaVersionSQL); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	start := time.Now()
	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
		applied++
	}
	if applied > 0 {
		slog.Info("store: schema migrated",
			"from", current, "to", migrations[len(migrations)-1].version,
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	if err := m.apply(ctx, tx); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
	}
	query, args, err := sq.Insert("schema_version").
		Columns("version", "description").
		Values(m.version, m.description).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("recording migration %d: %w", m.version, err)
	}
	return tx.Commit()
}

// columns returns the column names of table.
func columns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("reading %s columns: %w", table, err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}
