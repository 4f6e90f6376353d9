package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/layout"
	"PageHarvester/internal/ports"
)

const defaultFlushTimeout = 2 * time.Minute

// Source is one configured source bound to its adapter.
type Source struct {
	Meta    domain.SourceMeta
	Adapter ports.SourceAdapter
	Recency bool
}

// RunOptions carries the per-run controls handed out by the runner.
type RunOptions struct {
	RunID    string
	Shutdown *Shutdown
	Deadline time.Time // zero means no soft deadline
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Store        ports.RecordStore
	Cache        ports.SeenCache
	Fetcher      ports.AttachmentFetcher
	Mirror       ports.Mirror
	Output       layout.Tree
	Location     *time.Location
	FlushTimeout time.Duration
	Clock        func() time.Time
	Logger       *slog.Logger
}

// Pipeline runs one source through list, filter, per-candidate processing and
// a single batch flush.
type Pipeline struct {
	store        ports.RecordStore
	gate         *DedupGate
	fetcher      ports.AttachmentFetcher
	mirror       ports.Mirror
	output       layout.Tree
	builder      RecordBuilder
	location     *time.Location
	flushTimeout time.Duration
	clock        func() time.Time
	logger       *slog.Logger
}

type candidateOutcome struct {
	record      domain.PageRecord
	degradation *domain.Degradation
	saved       int
	failed      int
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	flushTimeout := deps.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}

	return &Pipeline{
		store:        deps.Store,
		gate:         NewDedupGate(deps.Store, deps.Cache, logger),
		fetcher:      deps.Fetcher,
		mirror:       deps.Mirror,
		output:       deps.Output,
		builder:      NewRecordBuilder(loc),
		location:     loc,
		flushTimeout: flushTimeout,
		clock:        clock,
		logger:       logger,
	}
}

// Run executes one source run. Per-candidate failures become degraded records;
// the returned error is non-nil only for a *domain.FatalError, in which case
// nothing is flushed.
func (p *Pipeline) Run(ctx context.Context, src Source, opts RunOptions) (domain.RunSummary, error) {
	summary := domain.RunSummary{
		RunID:     opts.RunID,
		Source:    src.Meta.Name,
		StartedAt: p.now(),
	}
	logger := p.logger.With("source", src.Meta.Name, "run_id", opts.RunID)

	if opts.Shutdown.Raised() {
		logger.Info("shutdown requested, run not started")
		summary.State = domain.StateSkipped
		summary.Interrupted = true
		return p.finish(logger, summary, nil)
	}
	if src.Adapter == nil {
		err := fmt.Errorf("%w: source %q has no adapter", domain.ErrContractViolation, src.Meta.Name)
		return p.abort(logger, summary, domain.Fatal(domain.StageList, err))
	}

	summary.State = domain.StateListing
	candidates, err := src.Adapter.ListCandidates(ctx)
	if err != nil {
		return p.abort(logger, summary, domain.Fatal(domain.StageList, err))
	}
	summary.Listed = len(candidates)
	logger.Info("candidates listed", "count", len(candidates))

	summary.State = domain.StateFiltering
	survivors, err := p.filter(ctx, logger, src, candidates, &summary)
	if err != nil {
		return p.abort(logger, summary, err)
	}

	summary.State = domain.StatePerCandidate
	batch := make([]domain.PageRecord, 0, len(survivors))
	for _, cand := range survivors {
		if err := ctx.Err(); err != nil {
			return p.abort(logger, summary, domain.Fatal(domain.StageDetail, err))
		}
		if opts.Shutdown.Raised() {
			logger.Info("shutdown requested, stopping after current candidate", "remaining", len(survivors)-len(batch))
			summary.Interrupted = true
			break
		}
		if !opts.Deadline.IsZero() && !p.now().Before(opts.Deadline) {
			logger.Warn("run deadline reached", "remaining", len(survivors)-len(batch))
			summary.Interrupted = true
			break
		}

		outcome := p.processCandidate(ctx, logger, src, cand)
		if err := ctx.Err(); err != nil {
			return p.abort(logger, summary, domain.Fatal(domain.StageDetail, err))
		}

		batch = append(batch, outcome.record)
		summary.AttachmentsSaved += outcome.saved
		summary.AttachmentsFailed += outcome.failed
		if outcome.degradation != nil {
			summary.IngestedDegraded++
		} else {
			summary.IngestedFull++
		}
	}

	summary.State = domain.StateFlush
	inserted, err := p.flush(ctx, batch)
	if err != nil {
		return p.abort(logger, summary, err)
	}
	summary.Inserted = inserted

	summary.State = domain.StateDone
	return p.finish(logger, summary, nil)
}

func (p *Pipeline) filter(ctx context.Context, logger *slog.Logger, src Source, candidates []domain.Candidate, summary *domain.RunSummary) ([]domain.Candidate, error) {
	now := p.now().In(p.location)
	inRun := make(map[string]struct{}, len(candidates))
	survivors := make([]domain.Candidate, 0, len(candidates))

	for _, cand := range candidates {
		cand.URL = strings.TrimSpace(cand.URL)
		if cand.URL == "" {
			err := fmt.Errorf("%w: candidate %q has an empty url", domain.ErrContractViolation, cand.Title)
			return nil, domain.Fatal(domain.StageList, err)
		}
		if _, dup := inRun[cand.URL]; dup {
			summary.SkippedDuplicate++
			continue
		}
		inRun[cand.URL] = struct{}{}

		if src.Recency && !IsRecent(cand.PublishedAt, now) {
			if !cand.HasPublishedAt() {
				logger.Warn("candidate without publish time treated as old", "url", cand.URL, "title", cand.Title)
			} else {
				logger.Debug("posted in the past", "url", cand.URL, "published_at", cand.PublishedAt)
			}
			summary.SkippedOld++
			continue
		}

		seen, err := p.gate.Seen(ctx, cand.URL)
		if err != nil {
			return nil, err
		}
		if seen {
			logger.Debug("duplicate link", "url", cand.URL)
			summary.SkippedDuplicate++
			continue
		}
		survivors = append(survivors, cand)
	}
	return survivors, nil
}

func (p *Pipeline) processCandidate(ctx context.Context, logger *slog.Logger, src Source, cand domain.Candidate) candidateOutcome {
	now := p.now()
	logger = logger.With("url", cand.URL)

	degrade := func(stage domain.Stage, err error) candidateOutcome {
		d := domain.Degradation{Stage: stage, Err: err}
		logger.Warn("candidate degraded", "stage", stage, "error", err)
		return candidateOutcome{record: p.builder.Invalid(src.Meta, cand.URL, now), degradation: &d}
	}

	page, err := src.Adapter.FetchDetail(ctx, cand.URL)
	if err != nil {
		return degrade(domain.StageDetail, err)
	}
	extraction, err := src.Adapter.Extract(ctx, page)
	if err != nil {
		return degrade(domain.StageExtract, err)
	}

	item := p.output.Item(src.Meta.Site, src.Meta.Category, layout.Basename(cand.URL))
	if err := p.output.Prepare(item); err != nil {
		return degrade(domain.StageRecord, err)
	}
	recordFile := filepath.Join(item.RecordDir, item.Basename+".html")
	if err := layout.WriteFileAtomic(recordFile, page.Body); err != nil {
		return degrade(domain.StageRecord, err)
	}
	if len(page.Screenshot) > 0 {
		shot := filepath.Join(item.RecordDir, item.Basename+".png")
		if err := layout.WriteFileAtomic(shot, page.Screenshot); err != nil {
			logger.Warn("screenshot not saved", "error", err)
		}
	}

	names, failed := p.fetchAttachments(ctx, logger, item.AttachmentDir, extraction.Attachments)
	files := RecordFiles{
		RecordPath:     p.output.Rel(item.RecordDir),
		AttachmentPath: p.output.Rel(item.AttachmentDir),
		Attachments:    names,
	}
	record := p.builder.Full(src.Meta, cand, extraction, files, now)

	if p.mirror != nil {
		if err := p.mirror.MirrorDir(ctx, item.Dir, p.output.Rel(item.Dir)); err != nil {
			logger.Warn("mirror upload failed", "error", err)
		}
	}

	logger.Info("candidate ingested", "title", cand.Title, "attachments", len(names))
	return candidateOutcome{record: record, saved: len(names), failed: failed}
}

// fetchAttachments downloads refs in order. Disallowed extensions are skipped
// without consuming a sequence number; failed downloads do consume one.
func (p *Pipeline) fetchAttachments(ctx context.Context, logger *slog.Logger, dir string, refs []domain.AttachmentRef) ([]string, int) {
	if p.fetcher == nil || len(refs) == 0 {
		return nil, 0
	}

	var (
		saved  []string
		failed int
		seq    int
		used   = map[string]int{}
	)
	for _, ref := range refs {
		ext := domain.NormalizeExtension(ref.Extension)
		if !domain.AttachmentAllowed(ext) {
			logger.Debug("attachment skipped", "attachment", ref.URL, "extension", ref.Extension)
			continue
		}

		var name string
		if ref.Naming == domain.NameSequential {
			seq++
			name = fmt.Sprintf("img_%d.%s", seq, ext)
		} else {
			name = suggestedName(ref, ext)
		}
		name = uniqueName(name, used)

		savedName, err := p.fetcher.Fetch(ctx, ref.URL, ext, filepath.Join(dir, name))
		if err != nil {
			failed++
			logger.Warn("attachment failed", "attachment", ref.URL, "error", err)
			continue
		}
		saved = append(saved, savedName)
	}
	return saved, failed
}

func (p *Pipeline) flush(ctx context.Context, batch []domain.PageRecord) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.flushTimeout)
	defer cancel()

	inserted, err := p.store.SaveBatch(flushCtx, batch)
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) && !errors.Is(err, domain.ErrContractViolation) {
			err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return 0, domain.Fatal(domain.StageFlush, err)
	}

	urls := make([]string, len(batch))
	for i, rec := range batch {
		urls[i] = rec.PageURL
	}
	p.gate.Remember(flushCtx, urls...)
	return inserted, nil
}

func (p *Pipeline) abort(logger *slog.Logger, summary domain.RunSummary, err error) (domain.RunSummary, error) {
	summary.State = domain.StateAborted
	summary.AbortReason = err.Error()
	return p.finish(logger, summary, err)
}

func (p *Pipeline) finish(logger *slog.Logger, summary domain.RunSummary, err error) (domain.RunSummary, error) {
	summary.FinishedAt = p.now()

	attrs := []any{
		"state", summary.State,
		"listed", summary.Listed,
		"skipped_old", summary.SkippedOld,
		"skipped_duplicate", summary.SkippedDuplicate,
		"ingested_full", summary.IngestedFull,
		"ingested_degraded", summary.IngestedDegraded,
		"inserted", summary.Inserted,
		"attachments_saved", summary.AttachmentsSaved,
		"attachments_failed", summary.AttachmentsFailed,
		"interrupted", summary.Interrupted,
		"duration", summary.Duration(),
	}
	if err != nil {
		logger.Error("run aborted", append(attrs, "reason", summary.AbortReason)...)
	} else {
		logger.Info("run finished", attrs...)
	}
	return summary, err
}

func (p *Pipeline) now() time.Time {
	return p.clock()
}

func suggestedName(ref domain.AttachmentRef, ext string) string {
	name := strings.TrimSpace(ref.SuggestedName)
	if name == "" {
		if u, err := url.Parse(ref.URL); err == nil {
			name = path.Base(u.Path)
		}
	}
	name = layout.SanitizeName(name)
	if !strings.EqualFold(strings.TrimPrefix(filepath.Ext(name), "."), ext) {
		name += "." + ext
	}
	return name
}

// uniqueName returns name, or name_N.ext for the lowest free N, and marks the
// result as used.
func uniqueName(name string, used map[string]int) string {
	candidate := name
	if used[name] > 0 {
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for n := used[name] + 1; ; n++ {
			candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
			if used[candidate] == 0 {
				used[name] = n
				break
			}
		}
	}
	used[candidate]++
	return candidate
}
