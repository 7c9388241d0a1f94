package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetPreferences returns the stored preference row for userID, or
// ErrNotFound when the user never saved any.
func (s *Store) GetPreferences(ctx context.Context, userID string) (Preferences, error) {
	p := Preferences{UserID: userID}
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT liked_books, liked_authors, liked_genres, updated_at
		FROM preferences WHERE user_id = ?`, userID,
	).Scan(&p.LikedBooks, &p.LikedAuthors, &p.LikedGenres, &updatedAt)
	if err == sql.ErrNoRows {
		return Preferences{}, ErrNotFound
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("reading preferences for %s: %w", userID, err)
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return Preferences{}, fmt.Errorf("parsing updated_at for %s: %w", userID, err)
	}
	p.UpdatedAt = t
	return p, nil
}

// PutPreferences inserts or replaces the preference row for p.UserID.
// Empty list columns are stored as "[]".
func (s *Store) PutPreferences(ctx context.Context, p Preferences) error {
	orEmpty := func(v string) string {
		if v == "" {
			return "[]"
		}
		return v
	}
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, liked_books, liked_authors, liked_genres, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			liked_books = excluded.liked_books,
			liked_authors = excluded.liked_authors,
			liked_genres = excluded.liked_genres,
			updated_at = excluded.updated_at`,
		p.UserID, orEmpty(p.LikedBooks), orEmpty(p.LikedAuthors), orEmpty(p.LikedGenres),
		updated.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving preferences for %s: %w", p.UserID, err)
	}
	return nil
}

// LogSearch appends a free-text query to the user's search history.
func (s *Store) LogSearch(ctx context.Context, userID, query string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_logs (user_id, query, searched_at) VALUES (?, ?, ?)`,
		userID, query, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("logging search for %s: %w", userID, err)
	}
	return nil
}

// RecentSearches returns up to limit distinct queries for userID, most recent
// first. Queries of two characters or fewer after trimming are skipped.
func (s *Store) RecentSearches(ctx context.Context, userID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT TRIM(query) AS q, MAX(id) AS last_id
		FROM search_logs
		WHERE user_id = ? AND LENGTH(TRIM(query)) > 2
		GROUP BY q
		ORDER BY last_id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying searches for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var q string
		var lastID int64
		if err := rows.Scan(&q, &lastID); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
