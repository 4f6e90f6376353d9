package scanner

import (
	"errors"
	"fmt"
	"sort"

	"PageHarvester/internal/ports"
)

// ErrUnknownStrategy is returned for strategy names nobody registered.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Request carries the per-source parameters a strategy needs to build an adapter.
type Request struct {
	SourceName string
	ListURL    string
	Biz        string
	Options    map[string]string
}

// Strategy builds source adapters of one kind (wechat, portal, feed, ...).
type Strategy interface {
	Name() string
	Build(req Request) (ports.SourceAdapter, error)
}

// Registry keeps a mapping from strategy names to their implementations.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds a registry holding the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: map[string]Strategy{}}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a strategy implementation.
func (r *Registry) Register(strategy Strategy) {
	if r.strategies == nil {
		r.strategies = map[string]Strategy{}
	}
	r.strategies[strategy.Name()] = strategy
}

// Resolve returns a strategy by name or ErrUnknownStrategy.
func (r *Registry) Resolve(name string) (Strategy, error) {
	if strategy, ok := r.strategies[name]; ok {
		return strategy, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Build resolves the strategy and builds the adapter in one step.
func (r *Registry) Build(name string, req Request) (ports.SourceAdapter, error) {
	strategy, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	adapter, err := strategy.Build(req)
	if err != nil {
		return nil, fmt.Errorf("%s strategy: %w", name, err)
	}
	return adapter, nil
}

// Names lists registered strategies in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
