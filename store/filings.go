package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Filing statuses.
const (
	FilingPending   = "pending"
	FilingProcessed = "processed"
	FilingFailed    = "failed"
)

// Filing represents a row in the filings table.
type Filing struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	CompanyID   string `json:"company_id"`
	Format      string `json:"format"`
	ContentHash string `json:"content_hash"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// UpsertFiling inserts or updates a filing by path and returns its id.
func (s *Store) UpsertFiling(ctx context.Context, f Filing) (int64, error) {
	status := f.Status
	if status == "" {
		status = FilingPending
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO filings (path, company_id, format, content_hash, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			company_id = excluded.company_id,
			format = excluded.format,
			content_hash = excluded.content_hash,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`, f.Path, f.CompanyID, f.Format, f.ContentHash, status).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting filing %s: %w", f.Path, err)
	}
	return id, nil
}

// GetFilingByPath retrieves a filing by its file path.
func (s *Store) GetFilingByPath(ctx context.Context, path string) (*Filing, error) {
	f := &Filing{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, company_id, format, content_hash, status, created_at, updated_at
		FROM filings WHERE path = ?
	`, path).Scan(&f.ID, &f.Path, &f.CompanyID, &f.Format, &f.ContentHash, &f.Status,
		&f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("filing %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// UpdateFilingStatus sets the processing status of a filing.
func (s *Store) UpdateFilingStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE filings SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("filing %d: %w", id, ErrNotFound)
	}
	return nil
}
