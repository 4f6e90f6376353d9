package domain

import "time"

// SourceMeta carries the descriptive identity attached to every record of a source.
type SourceMeta struct {
	Name     string
	Province string
	City     string
	Site     string
	Category string
}

// PageRecord is the persisted entity, unique on PageURL.
type PageRecord struct {
	Province        string     `db:"province"`
	City            string     `db:"city"`
	Site            string     `db:"site"`
	Category        string     `db:"category"`
	PageURL         string     `db:"page_url"`
	PageReleaseDate *time.Time `db:"page_release_date"`
	PageSource      *string    `db:"page_source"`
	Title           *string    `db:"title"`
	Content         *string    `db:"content"`
	AttachmentName  *string    `db:"attachment_name"`
	RecordPath      *string    `db:"record_path"`
	AttachmentPath  *string    `db:"attachment_path"`
	CreatedTime     time.Time  `db:"created_time"`
}

// IsDegraded reports whether the record carries no content-bearing fields.
func (r PageRecord) IsDegraded() bool {
	return r.Title == nil && r.Content == nil && r.PageSource == nil &&
		r.PageReleaseDate == nil && r.AttachmentName == nil && r.RecordPath == nil
}

// StringPtr returns nil for empty strings so that nullable columns stay NULL.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
