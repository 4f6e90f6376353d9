package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
	"PageHarvester/internal/textutil"
)

const maxPortalPages = 50

var (
	// ErrEmptyListing is returned when the first listing page has no links.
	ErrEmptyListing = errors.New("listing has no links")
	// ErrUnsupportedDetail marks detail links the portal strategy does not fetch.
	ErrUnsupportedDetail = errors.New("unsupported detail link")
)

// PortalOptions are the selector options of a government portal source.
type PortalOptions struct {
	ListItem     string
	ListLink     string
	ListDate     string
	NextPage     string
	MaxPages     int
	DetailSuffix string
	Detail       detailSelectors
}

// ParsePortalOptions reads the portal option map of a source.
func ParsePortalOptions(opts map[string]string) (PortalOptions, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(opts[key]); v != "" {
			return v
		}
		return def
	}

	parsed := PortalOptions{
		ListItem:     get("listItem", ""),
		ListLink:     get("listLink", "a"),
		ListDate:     get("listDate", ""),
		NextPage:     get("nextPage", ""),
		MaxPages:     1,
		DetailSuffix: get("detailSuffix", ""),
		Detail: detailSelectors{
			Root:        get("detailRoot", ""),
			Title:       get("title", "h1"),
			Date:        get("date", ""),
			Source:      get("source", ""),
			SourceName:  get("sourceName", ""),
			Content:     get("content", "p"),
			Attachments: get("attachments", ""),
			Images:      get("images", ""),
		},
	}
	if parsed.ListItem == "" {
		return PortalOptions{}, errors.New("portal option listItem is required")
	}
	if raw := get("maxPages", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return PortalOptions{}, fmt.Errorf("portal option maxPages %q is not a positive integer", raw)
		}
		parsed.MaxPages = min(n, maxPortalPages)
	}
	if parsed.DetailSuffix != "" && !strings.HasPrefix(parsed.DetailSuffix, ".") {
		parsed.DetailSuffix = "." + parsed.DetailSuffix
	}
	return parsed, nil
}

// PortalAdapter lists a government portal column and extracts its documents.
type PortalAdapter struct {
	http     *HTTPClient
	listURL  string
	opts     PortalOptions
	location *time.Location
	logger   *slog.Logger
}

var _ ports.SourceAdapter = (*PortalAdapter)(nil)

// NewPortalAdapter wires a listing URL with its selector options.
func NewPortalAdapter(client *HTTPClient, listURL string, opts PortalOptions, loc *time.Location, logger *slog.Logger) (*PortalAdapter, error) {
	if _, err := url.ParseRequestURI(listURL); err != nil {
		return nil, fmt.Errorf("portal list url %q: %w", listURL, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &PortalAdapter{http: client, listURL: listURL, opts: opts, location: loc, logger: logger}, nil
}

// ListCandidates walks up to MaxPages listing pages following the next-page link.
func (p *PortalAdapter) ListCandidates(ctx context.Context) ([]domain.Candidate, error) {
	var candidates []domain.Candidate
	visited := map[string]struct{}{}
	pageURL := p.listURL

	for page := 1; page <= p.opts.MaxPages && pageURL != ""; page++ {
		if _, ok := visited[pageURL]; ok {
			break
		}
		visited[pageURL] = struct{}{}

		body, err := p.http.ListHTML(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("list page %d: %w", page, err)
		}
		doc, err := newDocument(body)
		if err != nil {
			return nil, fmt.Errorf("list page %d: %w", page, err)
		}

		found := p.parseListing(doc, pageURL)
		p.debug("portal page listed", "page", page, "url", pageURL, "count", len(found))
		if len(found) == 0 {
			if page == 1 {
				return nil, fmt.Errorf("%w: %s", ErrEmptyListing, pageURL)
			}
			break
		}
		candidates = append(candidates, found...)

		current := pageURL
		pageURL = ""
		if p.opts.NextPage != "" {
			if href := strings.TrimSpace(doc.Find(p.opts.NextPage).First().AttrOr("href", "")); href != "" && !strings.HasPrefix(href, "javascript:") {
				pageURL = resolveURL(current, href)
			}
		}
	}
	return candidates, nil
}

func (p *PortalAdapter) parseListing(doc *goquery.Document, pageURL string) []domain.Candidate {
	var found []domain.Candidate
	doc.Find(p.opts.ListItem).Each(func(_ int, item *goquery.Selection) {
		link := item
		if !item.Is("a") {
			link = item.Find(p.opts.ListLink).First()
		}
		href := strings.TrimSpace(link.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "javascript:") {
			return
		}

		title := cleanText(link.AttrOr("title", ""))
		if title == "" {
			title = cleanText(link.Text())
		}

		cand := domain.Candidate{URL: resolveURL(pageURL, href), Title: title}
		if p.opts.ListDate != "" {
			if published, ok := textutil.ParseDate(item.Find(p.opts.ListDate).First().Text(), p.location); ok {
				cand.PublishedAt = published
			}
		}
		found = append(found, cand)
	})
	return found
}

// FetchDetail downloads a document page. Links without the configured suffix
// are refused so that they degrade without a request.
func (p *PortalAdapter) FetchDetail(ctx context.Context, pageURL string) (domain.RawPage, error) {
	if p.opts.DetailSuffix != "" {
		u, err := url.Parse(pageURL)
		if err != nil || !strings.EqualFold(path.Ext(u.Path), p.opts.DetailSuffix) {
			return domain.RawPage{}, fmt.Errorf("%w: %s", ErrUnsupportedDetail, pageURL)
		}
	}
	return p.http.Detail(ctx, pageURL)
}

// Extract applies the configured detail selectors.
func (p *PortalAdapter) Extract(_ context.Context, page domain.RawPage) (domain.Extraction, error) {
	return extractDetail(page, p.opts.Detail)
}

func (p *PortalAdapter) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
