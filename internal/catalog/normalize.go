package catalog

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/shelfrec/internal/hardcover"
	"github.com/kalambet/shelfrec/internal/storage"
)

const (
	maxTagLen  = 20
	maxTags    = 8
	defaultTag = "General"
)

var (
	nonSlug  = regexp.MustCompile(`[^a-z0-9]+`)
	newlines = regexp.MustCompile(`[\r\n]+`)
)

// Slugify turns a genre display name into the upstream tag slug:
// "Graphic Design & Product Design" becomes "graphic-design-and-product-design".
func Slugify(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "&", "and")
	s = nonSlug.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Normalize flattens an upstream record into a catalog entry.
func Normalize(b hardcover.RawBook) storage.CatalogEntry {
	e := storage.CatalogEntry{
		ID:          string(b.ID),
		Title:       cleanText(b.Title),
		Author:      "Unknown",
		Description: cleanText(b.Description),
	}
	if e.Title == "" {
		e.Title = "Untitled"
	}
	if len(b.Contributions) > 0 && b.Contributions[0].Author != nil {
		if name := cleanText(b.Contributions[0].Author.Name); name != "" {
			e.Author = name
		}
	}
	if b.Image != nil {
		e.CoverURL = strings.TrimSpace(b.Image.URL)
	}

	seen := make(map[string]bool, len(b.Taggings))
	for _, t := range b.Taggings {
		if t.Tag == nil {
			continue
		}
		tag := t.Tag.Tag
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		if utf8.RuneCountInString(tag) >= maxTagLen {
			continue
		}
		e.Genres = append(e.Genres, tag)
		if len(e.Genres) == maxTags {
			break
		}
	}
	if len(e.Genres) == 0 {
		e.Genres = []string{defaultTag}
	}
	return e
}

func cleanText(s string) string {
	return strings.TrimSpace(newlines.ReplaceAllString(s, " "))
}
