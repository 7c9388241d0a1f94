package profile

import (
	"fmt"
	"strings"
)

// Profile is everything known about a reader's taste: the books, authors
// and genres they marked as liked plus their recent free-text searches,
// most recent first.
type Profile struct {
	UserID       string   `json:"user_id"`
	LikedBooks   []string `json:"liked_books"`
	LikedAuthors []string `json:"liked_authors"`
	LikedGenres  []string `json:"liked_genres"`
	Searches     []string `json:"searches"`
}

// IsEmpty reports whether the profile carries no signal at all.
func (p Profile) IsEmpty() bool {
	return len(p.LikedBooks) == 0 && len(p.LikedAuthors) == 0 &&
		len(p.LikedGenres) == 0 && len(p.Searches) == 0
}

// Preferences is the writable part of a profile.
type Preferences struct {
	LikedBooks   []string `json:"liked_books" validate:"max=1000,dive,max=64"`
	LikedAuthors []string `json:"liked_authors" validate:"max=200,dive,max=200"`
	LikedGenres  []string `json:"liked_genres" validate:"max=200,dive,max=100"`
}

// maxSummaryChars keeps Summary readable in a terminal or a tool response.
const maxSummaryChars = 2000

// Summary renders p as a short human-readable paragraph.
func Summary(p Profile) string {
	var parts []string
	if n := len(p.LikedBooks); n > 0 {
		parts = append(parts, fmt.Sprintf("Likes %d book(s): %s.", n, strings.Join(p.LikedBooks, ", ")))
	}
	if len(p.LikedAuthors) > 0 {
		parts = append(parts, fmt.Sprintf("Authors: %s.", strings.Join(p.LikedAuthors, ", ")))
	}
	if len(p.LikedGenres) > 0 {
		parts = append(parts, fmt.Sprintf("Genres: %s.", strings.Join(p.LikedGenres, ", ")))
	}
	if len(p.Searches) > 0 {
		parts = append(parts, fmt.Sprintf("Recent searches: %s.", strings.Join(p.Searches, ", ")))
	}
	if len(parts) == 0 {
		return "No preferences recorded yet."
	}
	s := strings.Join(parts, " ")
	if len(s) > maxSummaryChars {
		cut := strings.LastIndex(s[:maxSummaryChars], " ")
		if cut <= 0 {
			cut = maxSummaryChars
		}
		s = s[:cut] + " ..."
	}
	return s
}
