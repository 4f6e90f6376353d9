package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

// DedupGate decides whether a page URL was already ingested. The store is
// authoritative; the optional cache only short-circuits positive answers.
type DedupGate struct {
	store  ports.RecordStore
	cache  ports.SeenCache
	logger *slog.Logger
}

// NewDedupGate wires the gate. cache may be nil.
func NewDedupGate(store ports.RecordStore, cache ports.SeenCache, logger *slog.Logger) *DedupGate {
	return &DedupGate{store: store, cache: cache, logger: logger}
}

// Seen reports whether pageURL is already stored. A store failure is fatal
// for the run and is never reported as "not seen".
func (g *DedupGate) Seen(ctx context.Context, pageURL string) (bool, error) {
	if g.cache != nil {
		hit, err := g.cache.Seen(ctx, pageURL)
		switch {
		case err != nil:
			g.warn("seen cache lookup failed", "url", pageURL, "error", err)
		case hit:
			return true, nil
		}
	}

	exists, err := g.store.Exists(ctx, pageURL)
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return false, domain.Fatal(domain.StageDedup, err)
	}

	if exists && g.cache != nil {
		g.Remember(ctx, pageURL)
	}
	return exists, nil
}

// Remember records committed URLs in the cache. Failures are logged only.
func (g *DedupGate) Remember(ctx context.Context, pageURLs ...string) {
	if g.cache == nil || len(pageURLs) == 0 {
		return
	}
	if err := g.cache.Remember(ctx, pageURLs...); err != nil {
		g.warn("seen cache update failed", "urls", len(pageURLs), "error", err)
	}
}

func (g *DedupGate) warn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}
