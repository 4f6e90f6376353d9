package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"PageHarvester/internal/app"
	"PageHarvester/internal/config"
	"PageHarvester/internal/domain"
	"PageHarvester/internal/logging"
	"PageHarvester/pkg/logger"
)

func runCommand() *cobra.Command {
	var (
		names       []string
		workers     int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every configured source (or the selected ones) once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load(configPath)
			if workers > 0 {
				cfg.Runner.Workers = workers
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			application, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer application.Close()

			stop := watchSignals(log, application, cancel)
			defer stop()

			if cfg.Metrics.Addr != "" {
				srv := serveMetrics(cfg.Metrics.Addr, application.MetricsHandler(), log)
				defer func() {
					shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
					defer done()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			summaries, err := application.Run(ctx, names...)
			renderSummaries(summaries)
			return err
		},
	}

	cmd.Flags().StringArrayVar(&names, "source", nil, "source name to run (repeatable)")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel source runs (overrides runner.workers)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	return cmd
}

func sourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources and whether their adapters can be built",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := config.Load(configPath)
			catalogue := app.NewSources(cfg, nil)

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Name", "Strategy", "Site", "Category", "Recency", "Status"})

			var failed int
			for _, src := range cfg.Sources {
				status := "ok"
				if _, err := catalogue.Sources(src.Name); err != nil {
					status = err.Error()
					failed++
				}
				t.AppendRow(table.Row{src.Name, src.Strategy, src.Site, src.Category, src.RecencyEnabled(), status})
			}
			t.Render()

			if failed > 0 {
				return fmt.Errorf("%d of %d sources cannot be built", failed, len(cfg.Sources))
			}
			return nil
		},
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the page table and its page_url unique constraint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load(configPath)
			if err := app.Migrate(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", cfg.Database.Table)
			return nil
		},
	}
}

// watchSignals raises the cooperative shutdown on the first SIGINT/SIGTERM and
// cancels the context on the second.
func watchSignals(log *slog.Logger, application *app.Application, cancel context.CancelFunc) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		count := 0
		for {
			select {
			case sig := <-sigs:
				count++
				if count == 1 {
					log.Warn("shutdown requested, finishing current items", "signal", sig.String())
					application.Shutdown().Raise()
					continue
				}
				log.Error("second signal, aborting runs", "signal", sig.String())
				cancel()
				return
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func serveMetrics(addr string, handler http.Handler, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logger.Std(log, "metrics"),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
	return srv
}

func renderSummaries(summaries []domain.RunSummary) {
	if len(summaries) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Source", "State", "Listed", "Old", "Dup", "Full", "Degraded", "Inserted", "Files", "Duration", "Reason"})

	var inserted int
	for _, s := range summaries {
		state := string(s.State)
		if s.Interrupted {
			state += " (interrupted)"
		}
		t.AppendRow(table.Row{
			s.Source, state, s.Listed, s.SkippedOld, s.SkippedDuplicate,
			s.IngestedFull, s.IngestedDegraded, s.Inserted,
			fmt.Sprintf("%d/%d", s.AttachmentsSaved, s.AttachmentsSaved+s.AttachmentsFailed),
			s.Duration().Round(time.Millisecond), s.AbortReason,
		})
		inserted += s.Inserted
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "total", inserted})
	t.Render()
}
