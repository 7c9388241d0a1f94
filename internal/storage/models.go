package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CatalogEntry is one candidate book. Entries are written by catalog
// ingestion and never modified afterwards; a new ingestion run replaces the
// whole set.
type CatalogEntry struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Genres      []string `json:"genres"`
	Description string   `json:"description"`
	CoverURL    string   `json:"cover_url,omitempty"`
}

// Preferences is the stored row for one user. List columns hold JSON arrays
// as text, exactly as written by the application.
type Preferences struct {
	UserID       string
	LikedBooks   string
	LikedAuthors string
	LikedGenres  string
	UpdatedAt    time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
	ResultJSON  string
}

// IndexBuild records one published feature index.
type IndexBuild struct {
	Version    string
	Path       string
	Entries    int
	Model      string
	Dimensions int
	CreatedAt  time.Time
}
