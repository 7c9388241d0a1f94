package index

import (
	"strings"
	"time"

	"github.com/kalambet/shelfrec/internal/storage"
)

// Entry is one catalog book with its feature vector and the display fields
// needed to render a recommendation without another catalog lookup.
type Entry struct {
	CatalogID string
	Title     string
	Author    string
	Genres    []string
	CoverURL  string
	Vector    []float32
}

// Snapshot is an immutable, fully built feature index. It is safe for
// concurrent readers.
type Snapshot struct {
	Version    string
	Model      string
	Dimensions int
	BuiltAt    time.Time

	entries []Entry
	byID    map[string]int
}

// NewSnapshot builds a Snapshot over entries. Later duplicates of a catalog
// id are dropped.
func NewSnapshot(version, model string, builtAt time.Time, entries []Entry) *Snapshot {
	s := &Snapshot{
		Version: version,
		Model:   model,
		BuiltAt: builtAt,
		entries: make([]Entry, 0, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if _, dup := s.byID[e.CatalogID]; dup {
			continue
		}
		s.byID[e.CatalogID] = len(s.entries)
		s.entries = append(s.entries, e)
		if s.Dimensions == 0 {
			s.Dimensions = len(e.Vector)
		}
	}
	return s
}

// Len returns the number of entries. A nil Snapshot is empty.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns the entries in build order. Callers must not modify them.
func (s *Snapshot) Entries() []Entry {
	if s == nil {
		return nil
	}
	return s.entries
}

// Lookup returns the entry for a catalog id.
func (s *Snapshot) Lookup(id string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	i, ok := s.byID[id]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Blob is the text a catalog entry is embedded from: title, author, genre
// tags and description separated by spaces. Empty parts are skipped.
func Blob(e storage.CatalogEntry) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{e.Title, e.Author, strings.Join(e.Genres, " "), e.Description} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
