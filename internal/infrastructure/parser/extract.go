package parser

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"PageHarvester/internal/domain"
)

var (
	// ErrDetailRootMissing marks a detail page without its main container.
	ErrDetailRootMissing = errors.New("detail root not found")
	// ErrEmptyExtraction marks a detail page that yielded neither title nor content.
	ErrEmptyExtraction = errors.New("nothing extracted")
)

var labelPrefix = regexp.MustCompile(`^\s*(\[[^\]]*\]|【[^】]*】|来源[:：]|发布机构[:：]|发文机构[:：])\s*`)

// detailSelectors drive selector-based extraction of a detail page.
type detailSelectors struct {
	Root        string
	Title       string
	Date        string
	Source      string
	SourceName  string
	Content     string
	Attachments string
	Images      string
}

func newDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func extractDetail(page domain.RawPage, sel detailSelectors) (domain.Extraction, error) {
	doc, err := newDocument(page.Body)
	if err != nil {
		return domain.Extraction{}, err
	}

	root := doc.Selection
	if sel.Root != "" {
		root = doc.Find(sel.Root).First()
		if root.Length() == 0 {
			return domain.Extraction{}, fmt.Errorf("%w: %q", ErrDetailRootMissing, sel.Root)
		}
	}

	var ext domain.Extraction
	ext.Title = firstText(root, sel.Title)
	ext.ReleaseDateText = firstText(root, sel.Date)
	ext.Source = sel.SourceName
	if ext.Source == "" {
		ext.Source = labelPrefix.ReplaceAllString(firstText(root, sel.Source), "")
	}
	if sel.Content != "" {
		ext.Content = visibleText(root.Find(sel.Content))
	}

	if ext.Content == "" {
		title, text := readabilityText(page)
		ext.Content = text
		if ext.Title == "" {
			ext.Title = title
		}
	}
	if ext.Title == "" {
		ext.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if ext.Title == "" && ext.Content == "" {
		return domain.Extraction{}, ErrEmptyExtraction
	}

	if sel.Attachments != "" {
		ext.Attachments = append(ext.Attachments, linkAttachments(root.Find(sel.Attachments), page.URL)...)
	}
	if sel.Images != "" {
		ext.Attachments = append(ext.Attachments, imageAttachments(root.Find(sel.Images), page.URL)...)
	}
	return ext, nil
}

func firstText(root *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return cleanText(root.Find(selector).First().Text())
}

func cleanText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
}

// visibleText joins the non-empty, visible elements of sel with newlines.
func visibleText(sel *goquery.Selection) string {
	var parts []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if hidden(s) {
			return
		}
		if text := cleanText(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n")
}

func hidden(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	style := strings.ToLower(strings.ReplaceAll(s.AttrOr("style", ""), " ", ""))
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func linkAttachments(sel *goquery.Selection, pageURL string) []domain.AttachmentRef {
	var refs []domain.AttachmentRef
	sel.Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		name := cleanText(a.Text())
		if href == "" || name == "" {
			return
		}
		abs := resolveURL(pageURL, href)
		refs = append(refs, domain.AttachmentRef{
			URL:           abs,
			SuggestedName: name,
			Extension:     extensionOf(abs),
			Naming:        domain.NameSuggested,
		})
	})
	return refs
}

func imageAttachments(sel *goquery.Selection, pageURL string) []domain.AttachmentRef {
	var refs []domain.AttachmentRef
	sel.Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(img.AttrOr("data-src", ""))
		if src == "" {
			src = strings.TrimSpace(img.AttrOr("src", ""))
		}
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		abs := resolveURL(pageURL, src)
		ext := domain.NormalizeExtension(img.AttrOr("data-type", ""))
		if ext == "" {
			ext = extensionOf(abs)
		}
		refs = append(refs, domain.AttachmentRef{URL: abs, Extension: ext, Naming: domain.NameSequential})
	})
	return refs
}

func readabilityText(page domain.RawPage) (string, string) {
	if len(bytes.TrimSpace(page.Body)) == 0 {
		return "", ""
	}
	parsed, err := url.Parse(page.URL)
	if err != nil {
		return "", ""
	}
	article, err := readability.FromReader(bytes.NewReader(page.Body), parsed)
	if err != nil {
		return "", ""
	}
	return strings.TrimSpace(article.Title), strings.TrimSpace(article.TextContent)
}

func resolveURL(base, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil || base == "" {
		return refURL.String()
	}
	return baseURL.ResolveReference(refURL).String()
}

// extensionOf returns the normalized extension of a URL path, falling back to
// the WeChat "wx_fmt" query parameter.
func extensionOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return domain.NormalizeExtension(path.Ext(rawURL))
	}
	if ext := domain.NormalizeExtension(path.Ext(u.Path)); ext != "" {
		return ext
	}
	return domain.NormalizeExtension(u.Query().Get("wx_fmt"))
}
