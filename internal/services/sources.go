package services

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/RPLaine/newsroom-processor/internal/models"
)

// SearchProvider looks up web results for a query.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

// FeedReader fetches items of an RSS feed.
type FeedReader interface {
	Read(ctx context.Context, feedURL string) ([]models.RSSItem, error)
}

// StubSearch returns one canned result per query. No network access.
type StubSearch struct{}

func (StubSearch) Search(_ context.Context, query string) ([]models.SearchResult, error) {
	return []models.SearchResult{{
		Title:   fmt.Sprintf("Search result for '%s'", query),
		URL:     "https://example.com/search?q=" + url.QueryEscape(query),
		Snippet: fmt.Sprintf("This is a sample search result for the query '%s'.", query),
	}}, nil
}

// StubFeedReader returns one canned item per feed. No network access.
type StubFeedReader struct {
	Now func() time.Time
}

func (r StubFeedReader) Read(_ context.Context, feedURL string) ([]models.RSSItem, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return []models.RSSItem{{
		Title:       "Sample RSS item",
		Link:        feedURL,
		Description: fmt.Sprintf("This is a sample RSS item from %s.", feedURL),
		Published:   now().UTC().Format(time.RFC1123Z),
	}}, nil
}
