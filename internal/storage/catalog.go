package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
)

// BeginStaging clears the staging table so a new ingestion run can fill it.
func (s *Store) BeginStaging(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM catalog_staging`); err != nil {
		return fmt.Errorf("clearing catalog staging: %w", err)
	}
	return nil
}

// DiscardStaging drops whatever a failed or interrupted run left behind.
func (s *Store) DiscardStaging(ctx context.Context) error {
	return s.BeginStaging(ctx)
}

// StageEntries appends entries to the staging table. Entries whose id is
// already staged are ignored, and the first occurrence keeps its position.
func (s *Store) StageEntries(ctx context.Context, entries []CatalogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning staging transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM catalog_staging`).Scan(&next); err != nil {
		return fmt.Errorf("reading staging position: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO catalog_staging (id, title, author, genres, description, cover_url, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing staging insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		genres, err := json.Marshal(e.Genres)
		if err != nil {
			return fmt.Errorf("encoding genres for %s: %w", e.ID, err)
		}
		res, err := stmt.ExecContext(ctx, e.ID, e.Title, e.Author, string(genres), e.Description, e.CoverURL, next)
		if err != nil {
			return fmt.Errorf("staging %s: %w", e.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			next++
		}
	}

	return tx.Commit()
}

// StagedCount returns the number of rows waiting in staging.
func (s *Store) StagedCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_staging`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting staged entries: %w", err)
	}
	return n, nil
}

// SwapCatalog replaces the catalog with the staged rows in one transaction
// and empties staging. It returns the size of the new catalog.
func (s *Store) SwapCatalog(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning swap transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_books`); err != nil {
		return 0, fmt.Errorf("clearing catalog: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO catalog_books (id, title, author, genres, description, cover_url, position)
		SELECT id, title, author, genres, description, cover_url, position FROM catalog_staging`)
	if err != nil {
		return 0, fmt.Errorf("copying staged catalog: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_staging`); err != nil {
		return 0, fmt.Errorf("clearing catalog staging: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing catalog swap: %w", err)
	}
	return int(n), nil
}

// ListCatalog returns every catalog entry in ingestion order.
func (s *Store) ListCatalog(ctx context.Context) ([]CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, author, genres, description, cover_url
		FROM catalog_books ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying catalog: %w", err)
	}
	defer rows.Close()

	var entries []CatalogEntry
	for rows.Next() {
		var e CatalogEntry
		var genres string
		if err := rows.Scan(&e.ID, &e.Title, &e.Author, &genres, &e.Description, &e.CoverURL); err != nil {
			return nil, fmt.Errorf("scanning catalog row: %w", err)
		}
		if err := json.Unmarshal([]byte(genres), &e.Genres); err != nil {
			return nil, fmt.Errorf("decoding genres for %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetCatalogEntry returns a single entry by id.
func (s *Store) GetCatalogEntry(ctx context.Context, id string) (CatalogEntry, error) {
	var e CatalogEntry
	var genres string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, author, genres, description, cover_url
		FROM catalog_books WHERE id = ?`, id,
	).Scan(&e.ID, &e.Title, &e.Author, &genres, &e.Description, &e.CoverURL)
	if err == sql.ErrNoRows {
		return CatalogEntry{}, ErrNotFound
	}
	if err != nil {
		return CatalogEntry{}, err
	}
	if err := json.Unmarshal([]byte(genres), &e.Genres); err != nil {
		return CatalogEntry{}, fmt.Errorf("decoding genres for %s: %w", e.ID, err)
	}
	return e, nil
}

// CatalogCount returns the number of entries in the catalog.
func (s *Store) CatalogCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_books`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting catalog: %w", err)
	}
	return n, nil
}
