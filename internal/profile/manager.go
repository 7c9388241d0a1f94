package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/kalambet/shelfrec/internal/storage"
	"github.com/kalambet/shelfrec/internal/validation"
)

// MaxSearches is how many distinct recent searches feed a profile.
const MaxSearches = 10

// MinSearchLen is the shortest (trimmed) query that is kept.
const MinSearchLen = 3

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	GetPreferences(ctx context.Context, userID string) (storage.Preferences, error)
	PutPreferences(ctx context.Context, p storage.Preferences) error
	LogSearch(ctx context.Context, userID, query string) error
	RecentSearches(ctx context.Context, userID string, limit int) ([]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	profile  Profile
	cachedAt time.Time
}

// Manager provides cached read access to user profiles and the write paths
// that change them.
type Manager struct {
	store  Store
	clock  Clock
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store, logger *slog.Logger) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second, logger)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		logger: logger,
		cache:  make(map[string]cacheEntry),
	}
}

// Get returns the profile for userID. A user with no stored data gets an
// empty profile, not an error.
func (m *Manager) Get(ctx context.Context, userID string) (Profile, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if e, ok := m.cache[userID]; ok && m.fresh(e) {
		p := copyProfile(e.profile)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.cache[userID]; ok && m.fresh(e) {
		return copyProfile(e.profile), nil
	}

	p, err := m.load(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	m.cache[userID] = cacheEntry{profile: p, cachedAt: m.clock.Now()}
	return copyProfile(p), nil
}

func (m *Manager) fresh(e cacheEntry) bool {
	return m.clock.Now().Before(e.cachedAt.Add(m.ttl))
}

func (m *Manager) load(ctx context.Context, userID string) (Profile, error) {
	p := Profile{
		UserID:       userID,
		LikedBooks:   []string{},
		LikedAuthors: []string{},
		LikedGenres:  []string{},
		Searches:     []string{},
	}

	row, err := m.store.GetPreferences(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return Profile{}, fmt.Errorf("loading preferences: %w", err)
	default:
		p.LikedBooks = m.decodeList(userID, "liked_books", row.LikedBooks)
		p.LikedAuthors = m.decodeList(userID, "liked_authors", row.LikedAuthors)
		p.LikedGenres = m.decodeList(userID, "liked_genres", row.LikedGenres)
	}

	searches, err := m.store.RecentSearches(ctx, userID, MaxSearches)
	if err != nil {
		return Profile{}, fmt.Errorf("loading searches: %w", err)
	}
	p.Searches = NormalizeSearches(searches)
	return p, nil
}

// decodeList reads a stored JSON array. Elements may be strings or numbers;
// both become strings. Malformed JSON is logged and treated as empty.
func (m *Manager) decodeList(userID, column, raw string) []string {
	out := []string{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		m.logger.Warn("malformed preference list, treating as empty", "user", userID, "column", column, "error", err)
		return out
	}
	for _, it := range items {
		var s string
		switch v := it.(type) {
		case string:
			s = v
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			s = v.String()
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SavePreferences replaces the user's liked lists. Entries are trimmed,
// empties dropped and duplicates removed, keeping first occurrence order.
func (m *Manager) SavePreferences(ctx context.Context, userID string, prefs Preferences) (Preferences, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Preferences{}, errors.New("user id is required")
	}
	prefs = Preferences{
		LikedBooks:   dedupe(prefs.LikedBooks),
		LikedAuthors: dedupe(prefs.LikedAuthors),
		LikedGenres:  dedupe(prefs.LikedGenres),
	}
	if err := validation.Struct(prefs); err != nil {
		return Preferences{}, fmt.Errorf("invalid preferences: %w", err)
	}

	encode := func(list []string) (string, error) {
		b, err := json.Marshal(list)
		return string(b), err
	}
	row := storage.Preferences{UserID: userID, UpdatedAt: m.clock.Now()}
	var err error
	if row.LikedBooks, err = encode(prefs.LikedBooks); err != nil {
		return Preferences{}, err
	}
	if row.LikedAuthors, err = encode(prefs.LikedAuthors); err != nil {
		return Preferences{}, err
	}
	if row.LikedGenres, err = encode(prefs.LikedGenres); err != nil {
		return Preferences{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.PutPreferences(ctx, row); err != nil {
		return Preferences{}, fmt.Errorf("saving preferences: %w", err)
	}
	delete(m.cache, userID)
	return prefs, nil
}

// KeepSearch reports whether a trimmed query is long enough to feed a profile.
func KeepSearch(query string) bool {
	return len([]rune(strings.TrimSpace(query))) >= MinSearchLen
}

// NormalizeSearches applies the profile rule to a most-recent-first list:
// trimmed, at least MinSearchLen characters, distinct, at most MaxSearches.
func NormalizeSearches(in []string) []string {
	out := make([]string, 0, min(len(in), MaxSearches))
	for _, q := range dedupe(in) {
		if len(out) == MaxSearches {
			break
		}
		if KeepSearch(q) {
			out = append(out, q)
		}
	}
	return out
}

// LogSearch records a search query. Queries shorter than MinSearchLen after
// trimming are ignored and report false.
func (m *Manager) LogSearch(ctx context.Context, userID, query string) (bool, error) {
	query = strings.TrimSpace(query)
	if !KeepSearch(query) {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.LogSearch(ctx, userID, query); err != nil {
		return false, fmt.Errorf("logging search: %w", err)
	}
	delete(m.cache, userID)
	return true, nil
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func copyProfile(p Profile) Profile {
	cp := p
	cp.LikedBooks = copyList(p.LikedBooks)
	cp.LikedAuthors = copyList(p.LikedAuthors)
	cp.LikedGenres = copyList(p.LikedGenres)
	cp.Searches = copyList(p.Searches)
	return cp
}

func copyList(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
