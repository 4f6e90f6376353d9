package ports

import (
	"context"

	"PageHarvester/internal/domain"
)

// SourceAdapter lists candidates for one source and extracts detail pages.
// Implementations may be HTTP or browser backed; the pipeline does not care.
type SourceAdapter interface {
	ListCandidates(ctx context.Context) ([]domain.Candidate, error)
	FetchDetail(ctx context.Context, url string) (domain.RawPage, error)
	Extract(ctx context.Context, page domain.RawPage) (domain.Extraction, error)
}

// RecordStore is the durable page table.
type RecordStore interface {
	Exists(ctx context.Context, pageURL string) (bool, error)
	SaveBatch(ctx context.Context, records []domain.PageRecord) (int, error)
}

// SeenCache is an optional positive cache in front of RecordStore.Exists.
type SeenCache interface {
	Seen(ctx context.Context, pageURL string) (bool, error)
	Remember(ctx context.Context, pageURLs ...string) error
}

// AttachmentFetcher downloads one attachment to destPath and returns the saved filename.
type AttachmentFetcher interface {
	Fetch(ctx context.Context, url, extension, destPath string) (string, error)
}

// Mirror copies every file below dir to secondary storage under prefix.
type Mirror interface {
	MirrorDir(ctx context.Context, dir, prefix string) error
}

// Recorder observes finished runs (metrics).
type Recorder interface {
	ObserveRun(summary domain.RunSummary)
}

// Notifier streams run reports to Telegram or other channels.
type Notifier interface {
	PublishReport(ctx context.Context, report string) error
}
