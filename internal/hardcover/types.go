package hardcover

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// BookID is a book identifier. Upstream sends ids as JSON numbers; some
// mirrors send strings. Both decode to the same text.
type BookID string

func (id *BookID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = BookID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*id = BookID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = BookID(n.String())
	return nil
}

// RawBook is one record as returned by the books query.
type RawBook struct {
	ID            BookID         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Image         *Image         `json:"image"`
	Contributions []Contribution `json:"contributions"`
	Taggings      []Tagging      `json:"taggings"`
}

type Image struct {
	URL string `json:"url"`
}

type Contribution struct {
	Author *Author `json:"author"`
}

type Author struct {
	Name string `json:"name"`
}

type Tagging struct {
	Tag *Tag `json:"tag"`
}

type Tag struct {
	Tag string `json:"tag"`
}

// Page selects one slice of a genre's books.
type Page struct {
	Limit     int
	Offset    int
	GenreSlug string
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type booksResponse struct {
	Data *struct {
		Books []RawBook `json:"books"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}
