package usecase

import (
	"strings"
	"time"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/textutil"
)

// RecordFiles are the stored, output-relative locations of an item.
type RecordFiles struct {
	RecordPath     string
	AttachmentPath string
	Attachments    []string
}

// RecordBuilder assembles page records.
type RecordBuilder struct {
	location *time.Location
}

// NewRecordBuilder returns a builder parsing release dates in loc (UTC when nil).
func NewRecordBuilder(loc *time.Location) RecordBuilder {
	if loc == nil {
		loc = time.UTC
	}
	return RecordBuilder{location: loc}
}

// Full builds a record from a successful extraction. The release date comes
// from the extracted date text and falls back to the listing's publish time.
func (b RecordBuilder) Full(meta domain.SourceMeta, cand domain.Candidate, ext domain.Extraction, files RecordFiles, now time.Time) domain.PageRecord {
	rec := b.Invalid(meta, cand.URL, now)

	title := textutil.Normalize(ext.Title)
	if title == "" {
		title = textutil.Normalize(cand.Title)
	}
	rec.Title = domain.StringPtr(textutil.Flatten(title))
	rec.PageSource = domain.StringPtr(textutil.Flatten(textutil.Normalize(ext.Source)))
	rec.Content = domain.StringPtr(textutil.Normalize(ext.Content))

	if released, ok := textutil.ParseDate(ext.ReleaseDateText, b.location); ok {
		rec.PageReleaseDate = &released
	} else if cand.HasPublishedAt() {
		released := cand.PublishedAt.In(b.location)
		rec.PageReleaseDate = &released
	}

	rec.RecordPath = domain.StringPtr(files.RecordPath)
	if len(files.Attachments) > 0 {
		rec.AttachmentName = domain.StringPtr(strings.Join(files.Attachments, ", "))
		rec.AttachmentPath = domain.StringPtr(files.AttachmentPath)
	}
	return rec
}

// Invalid builds the degraded variant: identity, URL and creation time only.
func (b RecordBuilder) Invalid(meta domain.SourceMeta, pageURL string, now time.Time) domain.PageRecord {
	return domain.PageRecord{
		Province:    meta.Province,
		City:        meta.City,
		Site:        meta.Site,
		Category:    meta.Category,
		PageURL:     pageURL,
		CreatedTime: now,
	}
}
