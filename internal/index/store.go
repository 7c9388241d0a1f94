package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/kalambet/shelfrec/internal/embedding"
)

// ErrNoIndex is returned by LoadCurrent when no index was ever published.
var ErrNoIndex = errors.New("no index published")

const (
	currentFile = "CURRENT"
	filePrefix  = "index-"
	fileSuffix  = ".db"
)

const snapshotSchema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE entries (
	position  INTEGER PRIMARY KEY,
	id        TEXT NOT NULL UNIQUE,
	title     TEXT NOT NULL,
	author    TEXT NOT NULL,
	genres    TEXT NOT NULL,
	cover_url TEXT NOT NULL,
	vector    BLOB NOT NULL
);`

// Store keeps published snapshots as one SQLite file per version under dir.
// A CURRENT file names the version being served; it is only ever replaced by
// rename, so a crash leaves either the old or the new pointer.
type Store struct {
	dir    string
	logger *slog.Logger
}

// OpenStore creates dir if needed and removes leftovers of interrupted writes.
func OpenStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	s := &Store{dir: dir, logger: logger}
	tmps, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	for _, p := range tmps {
		if err := os.Remove(p); err != nil {
			logger.Warn("removing stale index temp file", "path", p, "error", err)
		}
	}
	return s, nil
}

// Dir returns the directory snapshots are stored in.
func (s *Store) Dir() string { return s.dir }

// Path returns the file a version is stored at.
func (s *Store) Path(version string) string {
	return filepath.Join(s.dir, filePrefix+version+fileSuffix)
}

// Publish writes snap to its own file and then points CURRENT at it. It
// returns the path of the written file.
func (s *Store) Publish(ctx context.Context, snap *Snapshot) (string, error) {
	if snap == nil || snap.Version == "" {
		return "", errors.New("publishing index: snapshot has no version")
	}
	final := s.Path(snap.Version)
	tmp := final + ".tmp"
	os.Remove(tmp)

	if err := writeSnapshot(ctx, tmp, snap); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := syncFile(tmp); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("renaming index file: %w", err)
	}
	if err := s.setCurrent(snap.Version); err != nil {
		return "", err
	}
	s.logger.Info("index published", "version", snap.Version, "entries", snap.Len(), "path", final)
	return final, nil
}

func writeSnapshot(ctx context.Context, path string, snap *Snapshot) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, snapshotSchema); err != nil {
		return fmt.Errorf("creating index schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning index write: %w", err)
	}
	defer tx.Rollback()

	meta := map[string]string{
		"version":    snap.Version,
		"model":      snap.Model,
		"dimensions": strconv.Itoa(snap.Dimensions),
		"built_at":   snap.BuiltAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("writing index meta %s: %w", k, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (position, id, title, author, genres, cover_url, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing index insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range snap.Entries() {
		genres, err := json.Marshal(e.Genres)
		if err != nil {
			return fmt.Errorf("encoding genres for %s: %w", e.CatalogID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, e.CatalogID, e.Title, e.Author, string(genres), e.CoverURL, embedding.EncodeVector(e.Vector)); err != nil {
			return fmt.Errorf("writing index entry %s: %w", e.CatalogID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index: %w", err)
	}
	return db.Close()
}

func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	return nil
}

func (s *Store) setCurrent(version string) error {
	path := filepath.Join(s.dir, currentFile)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("writing index pointer: %w", err)
	}
	if _, err := f.WriteString(version + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("writing index pointer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing index pointer: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// CurrentVersion returns the version CURRENT points at, or ErrNoIndex.
func (s *Store) CurrentVersion() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoIndex
	}
	if err != nil {
		return "", fmt.Errorf("reading index pointer: %w", err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", ErrNoIndex
	}
	return v, nil
}

// LoadCurrent reads the snapshot CURRENT points at.
func (s *Store) LoadCurrent(ctx context.Context) (*Snapshot, error) {
	version, err := s.CurrentVersion()
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, version)
}

// Load reads a published snapshot by version.
func (s *Store) Load(ctx context.Context, version string) (*Snapshot, error) {
	path := s.Path(version)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("index %s: %w", version, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", version, err)
	}
	defer db.Close()

	meta := make(map[string]string)
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("reading index meta: %w", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, err
		}
		meta[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dims, err := strconv.Atoi(meta["dimensions"])
	if err != nil {
		return nil, fmt.Errorf("index %s: bad dimensions %q", version, meta["dimensions"])
	}
	builtAt, _ := time.Parse(time.RFC3339Nano, meta["built_at"])

	rows, err = db.QueryContext(ctx, `
		SELECT id, title, author, genres, cover_url, vector
		FROM entries ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("reading index entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var genres string
		var blob []byte
		if err := rows.Scan(&e.CatalogID, &e.Title, &e.Author, &genres, &e.CoverURL, &blob); err != nil {
			return nil, fmt.Errorf("scanning index entry: %w", err)
		}
		if err := json.Unmarshal([]byte(genres), &e.Genres); err != nil {
			return nil, fmt.Errorf("decoding genres for %s: %w", e.CatalogID, err)
		}
		if e.Vector, err = embedding.DecodeVector(blob); err != nil {
			return nil, fmt.Errorf("decoding vector for %s: %w", e.CatalogID, err)
		}
		if len(e.Vector) != dims {
			return nil, fmt.Errorf("index %s: entry %s has %d dimensions, want %d", version, e.CatalogID, len(e.Vector), dims)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snap := NewSnapshot(meta["version"], meta["model"], builtAt, entries)
	snap.Dimensions = dims
	return snap, nil
}

// Versions lists published versions, oldest first.
func (s *Store) Versions() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(matches))
	for _, m := range matches {
		name := filepath.Base(m)
		versions = append(versions, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
	}
	sort.Strings(versions)
	return versions, nil
}

// Prune deletes all but the newest keep versions. The current version is
// never deleted. It returns the number of files removed.
func (s *Store) Prune(keep int) (int, error) {
	versions, err := s.Versions()
	if err != nil {
		return 0, err
	}
	current, err := s.CurrentVersion()
	if err != nil && !errors.Is(err, ErrNoIndex) {
		return 0, err
	}
	if keep < 1 {
		keep = 1
	}
	removed := 0
	for i, v := range versions {
		if i >= len(versions)-keep || v == current {
			continue
		}
		if err := os.Remove(s.Path(v)); err != nil {
			return removed, fmt.Errorf("removing index %s: %w", v, err)
		}
		removed++
	}
	return removed, nil
}
