package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

const (
	defaultWorkers       = 10
	defaultReportTimeout = 15 * time.Second
)

// RunnerDeps wires the pool around the pipeline.
type RunnerDeps struct {
	Pipeline   *Pipeline
	Recorder   ports.Recorder
	Notifier   ports.Notifier
	Shutdown   *Shutdown
	Workers    int
	RunTimeout time.Duration
	NewRunID   func() string
	Logger     *slog.Logger
}

// Runner executes source runs on a bounded worker pool. Runs are independent:
// one aborted run never cancels the others.
type Runner struct {
	pipeline   *Pipeline
	recorder   ports.Recorder
	notifier   ports.Notifier
	shutdown   *Shutdown
	workers    int
	runTimeout time.Duration
	newRunID   func() string
	logger     *slog.Logger
}

// NewRunner returns a runner with at least one worker.
func NewRunner(deps RunnerDeps) *Runner {
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	newRunID := deps.NewRunID
	if newRunID == nil {
		newRunID = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Runner{
		pipeline:   deps.Pipeline,
		recorder:   deps.Recorder,
		notifier:   deps.Notifier,
		shutdown:   deps.Shutdown,
		workers:    workers,
		runTimeout: deps.RunTimeout,
		newRunID:   newRunID,
		logger:     logger,
	}
}

// Shutdown returns the signal shared with every run.
func (r *Runner) Shutdown() *Shutdown {
	return r.shutdown
}

// RunAll runs every source and returns the summaries in source order together
// with the joined fatal errors of aborted runs.
func (r *Runner) RunAll(ctx context.Context, sources []Source) ([]domain.RunSummary, error) {
	summaries := make([]domain.RunSummary, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	g.SetLimit(r.workers)

	r.logger.Info("starting runs", "sources", len(sources), "workers", r.workers)
	for i, src := range sources {
		g.Go(func() error {
			summaries[i], errs[i] = r.runOne(ctx, src)
			if r.recorder != nil {
				r.recorder.ObserveRun(summaries[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	r.publish(ctx, summaries)
	return summaries, errors.Join(errs...)
}

func (r *Runner) runOne(ctx context.Context, src Source) (summary domain.RunSummary, err error) {
	opts := RunOptions{
		RunID:    r.newRunID(),
		Shutdown: r.shutdown,
	}
	started := time.Now()
	if r.runTimeout > 0 {
		opts.Deadline = started.Add(r.runTimeout)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("run panicked", "source", src.Meta.Name, "panic", rec, "stack", string(debug.Stack()))
			err = domain.Fatal(domain.StageList, fmt.Errorf("%w: panic: %v", domain.ErrContractViolation, rec))
			summary = domain.RunSummary{
				RunID:       opts.RunID,
				Source:      src.Meta.Name,
				State:       domain.StateAborted,
				AbortReason: err.Error(),
				StartedAt:   started,
				FinishedAt:  time.Now(),
			}
		}
	}()

	summary, err = r.pipeline.Run(ctx, src, opts)
	if err != nil {
		err = fmt.Errorf("source %s: %w", src.Meta.Name, err)
	}
	return summary, err
}

func (r *Runner) publish(ctx context.Context, summaries []domain.RunSummary) {
	if r.notifier == nil || len(summaries) == 0 {
		return
	}

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultReportTimeout)
	defer cancel()

	if err := r.notifier.PublishReport(reportCtx, BuildReport(summaries)); err != nil {
		r.logger.Warn("run report not delivered", "error", err)
	}
}

// BuildReport renders run summaries as a plain-text digest.
func BuildReport(summaries []domain.RunSummary) string {
	var b strings.Builder
	var inserted, degraded, aborted int
	for _, s := range summaries {
		inserted += s.Inserted
		degraded += s.IngestedDegraded
		if s.State == domain.StateAborted {
			aborted++
		}
	}
	fmt.Fprintf(&b, "Harvest: %d sources, %d inserted, %d degraded, %d aborted\n\n", len(summaries), inserted, degraded, aborted)

	for _, s := range summaries {
		fmt.Fprintf(&b, "- %s [%s] listed %d, old %d, dup %d, full %d, degraded %d, inserted %d",
			s.Source, s.State, s.Listed, s.SkippedOld, s.SkippedDuplicate, s.IngestedFull, s.IngestedDegraded, s.Inserted)
		if s.AbortReason != "" {
			fmt.Fprintf(&b, "\n  reason: %s", s.AbortReason)
		}
		b.WriteString("\n")
	}
	return b.String()
}
