package pinboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/bookmark-archiver/internal/bookmark"
)

// apiPost is one bookmark as the Pinboard v1 API returns it.
type apiPost struct {
	Href        string `json:"href"`
	Description string `json:"description"`
	Extended    string `json:"extended"`
	Meta        string `json:"meta"`
	Hash        string `json:"hash"`
	Time        string `json:"time"`
	Shared      string `json:"shared"`
	ToRead      string `json:"toread"`
	Tags        string `json:"tags"`
}

// getResponse is the envelope of posts/get.
type getResponse struct {
	Date  string    `json:"date"`
	User  string    `json:"user"`
	Posts []apiPost `json:"posts"`
}

func convertPost(p apiPost) (bookmark.Bookmark, error) {
	created, err := time.Parse(time.RFC3339, p.Time)
	if err != nil {
		return bookmark.Bookmark{}, fmt.Errorf("parse time %q for %s: %w", p.Time, p.Href, err)
	}
	return bookmark.Bookmark{
		URL:         p.Href,
		Hash:        p.Hash,
		Time:        created.UTC(),
		Description: p.Description,
		Extended:    p.Extended,
		Tags:        strings.Fields(p.Tags),
	}, nil
}
