package parser

import (
	"log/slog"
	"time"

	"PageHarvester/internal/ports"
	"PageHarvester/internal/scanner"
)

// WeChatStrategy builds official-account adapters.
type WeChatStrategy struct {
	HTTP     *HTTPClient
	Config   WeChatConfig
	Location *time.Location
	Logger   *slog.Logger
}

// Name identifies the strategy inside the registry.
func (WeChatStrategy) Name() string { return "wechat" }

// Build creates an adapter for one account.
func (s WeChatStrategy) Build(req scanner.Request) (ports.SourceAdapter, error) {
	return NewWeChatAdapter(s.HTTP, s.Config, req.Biz, s.Location, s.Logger)
}

// PortalStrategy builds selector-driven government portal adapters.
type PortalStrategy struct {
	HTTP     *HTTPClient
	Location *time.Location
	Logger   *slog.Logger
}

// Name identifies the strategy inside the registry.
func (PortalStrategy) Name() string { return "portal" }

// Build parses the selector options and creates the adapter.
func (s PortalStrategy) Build(req scanner.Request) (ports.SourceAdapter, error) {
	opts, err := ParsePortalOptions(req.Options)
	if err != nil {
		return nil, err
	}
	return NewPortalAdapter(s.HTTP, req.ListURL, opts, s.Location, s.Logger)
}

// FeedStrategy builds RSS/Atom adapters.
type FeedStrategy struct {
	HTTP   *HTTPClient
	Logger *slog.Logger
}

// Name identifies the strategy inside the registry.
func (FeedStrategy) Name() string { return "feed" }

// Build creates a feed adapter.
func (s FeedStrategy) Build(req scanner.Request) (ports.SourceAdapter, error) {
	return NewFeedAdapter(s.HTTP, req.ListURL, req.Options, s.Logger)
}

// NewRegistry registers every built-in strategy around one shared HTTP client.
func NewRegistry(client *HTTPClient, wechat WeChatConfig, loc *time.Location, logger *slog.Logger) *scanner.Registry {
	return scanner.NewRegistry(
		WeChatStrategy{HTTP: client, Config: wechat, Location: loc, Logger: logger},
		PortalStrategy{HTTP: client, Location: loc, Logger: logger},
		FeedStrategy{HTTP: client, Logger: logger},
	)
}
