package domain

import "time"

// Candidate is a listing entry discovered during a run. It is never persisted directly.
type Candidate struct {
	URL         string
	Title       string
	PublishedAt time.Time // zero when the listing carried no usable date
}

// HasPublishedAt reports whether the listing supplied a publish time.
func (c Candidate) HasPublishedAt() bool {
	return !c.PublishedAt.IsZero()
}

// NamingPolicy decides how downloaded attachments are named on disk.
type NamingPolicy int

const (
	// NameSequential numbers inline images: img_1.png, img_2.jpg, ...
	NameSequential NamingPolicy = iota
	// NameSuggested keeps the extractor-provided filename.
	NameSuggested
)

// AttachmentRef describes a downloadable file found on a detail page.
type AttachmentRef struct {
	URL           string
	SuggestedName string
	Extension     string // lower-case, without the leading dot
	Naming        NamingPolicy
}

// RawPage is a fetched detail page, already decoded to UTF-8.
type RawPage struct {
	URL        string
	Body       []byte
	Screenshot []byte // only browser-backed adapters fill this
	FetchedAt  time.Time
}

// Extraction holds the fields an adapter pulled out of a RawPage.
type Extraction struct {
	Title           string
	Source          string
	Content         string
	ReleaseDateText string
	Attachments     []AttachmentRef
}
