package parser

import (
	"errors"
	"fmt"
	"log/slog"

	"PageHarvester/internal/config"
	"PageHarvester/internal/domain"
	"PageHarvester/internal/scanner"
	"PageHarvester/internal/usecase"
)

// StrategySource binds configured sources to adapters via registered strategies.
type StrategySource struct {
	registry *scanner.Registry
	sources  []config.SourceConfig
	logger   *slog.Logger
}

// NewStrategySource wires the strategy registry with config-defined sources.
func NewStrategySource(reg *scanner.Registry, sources []config.SourceConfig, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sources:  sources,
		logger:   log,
	}
}

// Sources builds the selected sources, or all of them when names is empty.
// Unknown names and adapters that cannot be built are reported together.
func (s *StrategySource) Sources(names ...string) ([]usecase.Source, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("strategy registry is not configured")
	}

	wanted := map[string]bool{}
	for _, name := range names {
		wanted[name] = false
	}

	var (
		built []usecase.Source
		errs  []error
	)
	for _, cfg := range s.sources {
		if len(wanted) > 0 {
			if _, ok := wanted[cfg.Name]; !ok {
				continue
			}
			wanted[cfg.Name] = true
		}

		s.debug("build source", "source", cfg.Name, "strategy", cfg.Strategy)
		adapter, err := s.registry.Build(cfg.Strategy, scanner.Request{
			SourceName: cfg.Name,
			ListURL:    cfg.ListURL,
			Biz:        cfg.Biz,
			Options:    cfg.Options,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", cfg.Name, err))
			continue
		}

		built = append(built, usecase.Source{
			Meta: domain.SourceMeta{
				Name:     cfg.Name,
				Province: cfg.Province,
				City:     cfg.City,
				Site:     cfg.Site,
				Category: cfg.Category,
			},
			Adapter: adapter,
			Recency: cfg.RecencyEnabled(),
		})
	}

	for _, name := range names {
		if !wanted[name] {
			errs = append(errs, fmt.Errorf("source %s is not configured", name))
		}
	}

	s.debug("strategy source done", "sources", len(built))
	return built, errors.Join(errs...)
}

func (s *StrategySource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
