package storage

import (
	"context"
	"fmt"
	"time"
)

// RecordIndexBuild appends a published index to the build history.
func (s *Store) RecordIndexBuild(ctx context.Context, b IndexBuild) error {
	created := b.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_builds (version, path, entries, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.Version, b.Path, b.Entries, b.Model, b.Dimensions, created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording index build %s: %w", b.Version, err)
	}
	return nil
}

// ListIndexBuilds returns up to limit builds, newest first.
func (s *Store) ListIndexBuilds(ctx context.Context, limit int) ([]IndexBuild, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, path, entries, model, dimensions, created_at
		FROM index_builds ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying index builds: %w", err)
	}
	defer rows.Close()

	var builds []IndexBuild
	for rows.Next() {
		var b IndexBuild
		var createdAt string
		if err := rows.Scan(&b.Version, &b.Path, &b.Entries, &b.Model, &b.Dimensions, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for build %s: %w", b.Version, err)
		}
		b.CreatedAt = t
		builds = append(builds, b)
	}
	return builds, rows.Err()
}
