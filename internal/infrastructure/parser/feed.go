package parser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mmcdole/gofeed"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

// FeedAdapter lists an RSS/Atom feed and extracts items with portal selectors.
type FeedAdapter struct {
	http    *HTTPClient
	feedURL string
	detail  detailSelectors
	logger  *slog.Logger
}

var _ ports.SourceAdapter = (*FeedAdapter)(nil)

// NewFeedAdapter wires a feed URL; detail selectors come from the portal option set.
func NewFeedAdapter(client *HTTPClient, feedURL string, opts map[string]string, logger *slog.Logger) (*FeedAdapter, error) {
	if strings.TrimSpace(feedURL) == "" {
		return nil, fmt.Errorf("feed source requires listUrl")
	}
	withItem := map[string]string{"listItem": "item"}
	for k, v := range opts {
		withItem[k] = v
	}
	parsed, err := ParsePortalOptions(withItem)
	if err != nil {
		return nil, err
	}
	return &FeedAdapter{http: client, feedURL: feedURL, detail: parsed.Detail, logger: logger}, nil
}

// ListCandidates parses the feed; entries without a usable link are skipped.
func (f *FeedAdapter) ListCandidates(ctx context.Context) ([]domain.Candidate, error) {
	body, err := f.http.List(ctx, f.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		link := feedLink(entry)
		if link == "" {
			continue
		}
		cand := domain.Candidate{URL: resolveURL(f.feedURL, link), Title: strings.TrimSpace(entry.Title)}
		switch {
		case entry.PublishedParsed != nil:
			cand.PublishedAt = *entry.PublishedParsed
		case entry.UpdatedParsed != nil:
			cand.PublishedAt = *entry.UpdatedParsed
		}
		candidates = append(candidates, cand)
	}
	if f.logger != nil {
		f.logger.Debug("feed listed", "url", f.feedURL, "count", len(candidates))
	}
	return candidates, nil
}

// FetchDetail downloads an item page.
func (f *FeedAdapter) FetchDetail(ctx context.Context, pageURL string) (domain.RawPage, error) {
	return f.http.Detail(ctx, pageURL)
}

// Extract applies the detail selectors with the readability fallback.
func (f *FeedAdapter) Extract(_ context.Context, page domain.RawPage) (domain.Extraction, error) {
	return extractDetail(page, f.detail)
}

func feedLink(entry *gofeed.Item) string {
	if link := strings.TrimSpace(entry.Link); link != "" {
		return link
	}
	if strings.HasPrefix(entry.GUID, "http") {
		return entry.GUID
	}
	return ""
}
