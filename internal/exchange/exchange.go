// Package exchange defines the uniform adapter contract every venue
// integration implements, and the compile-time registry that maps venue
// names to adapter constructors.
package exchange

import (
	"context"
	"sort"
	"sync"

	"github.com/foggle/foggle/config"
	"github.com/foggle/foggle/errs"
	"github.com/foggle/foggle/internal/schema"
)

// TradesCallback receives normalized trades for one subscription.
type TradesCallback func(trades []schema.Trade)

// BookCallback receives normalized order-book snapshots.
type BookCallback func(snapshot schema.BookSnapshot)

// CandlesCallback receives the full merge-cache window on every bar update.
type CandlesCallback func(window schema.CandleWindow)

// Adapter is the uniform per-venue contract. Venues lacking a capability
// implement the corresponding method as a no-op returning nil.
type Adapter interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SubscribeTrades(ctx context.Context, contract schema.Contract, cb TradesCallback) error
	SubscribeOrderBook(ctx context.Context, contract schema.Contract, cb BookCallback) error
	SubscribeCandles(ctx context.Context, contract schema.Contract, interval string, cb CandlesCallback) error
}

// Factory constructs an adapter from its venue settings.
type Factory func(settings config.VenueSettings) (Adapter, error)

// Registry maps venue names to adapter factories at compile time.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory under the given venue name.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return errs.New(name, errs.CodeInvalid, errs.WithMessage("registry requires a name and factory"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return errs.New(name, errs.CodeInvalid, errs.WithMessage("adapter already registered"))
	}
	r.factories[name] = factory
	return nil
}

// New constructs the adapter registered under name.
func (r *Registry) New(name string, settings config.VenueSettings) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(name, errs.CodeNotFound, errs.WithMessage("no adapter registered for venue"))
	}
	return factory(settings)
}

// Names returns the registered venue names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
