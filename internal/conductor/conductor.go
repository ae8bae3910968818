// Package conductor coordinates venue adapters: it owns the adapter set,
// fans out stream subscriptions and routes normalized records into a sink
// through a bounded worker pool so a slow sink never stalls a stream.
package conductor

import (
	"context"
	"errors"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/foggle/foggle/errs"
	"github.com/foggle/foggle/internal/exchange"
	"github.com/foggle/foggle/internal/observability"
	"github.com/foggle/foggle/internal/schema"
	"github.com/foggle/foggle/lib/async"
)

// Sink consumes normalized market data records.
type Sink interface {
	OnTrades(ctx context.Context, trades []schema.Trade) error
	OnOrderBook(ctx context.Context, snapshot schema.BookSnapshot) error
	OnCandles(ctx context.Context, window schema.CandleWindow) error
}

// Request names the streams wanted for one contract.
type Request struct {
	Contract        schema.Contract
	Trades          bool
	OrderBook       bool
	CandleIntervals []string
}

// Conductor wires adapters to a sink.
type Conductor struct {
	mu       sync.Mutex
	adapters map[string]exchange.Adapter
	sink     Sink
	workers  *async.Pool
}

// New creates a conductor delivering records to sink through a worker pool
// of the given size and queue depth.
func New(sink Sink, workers, queue int) (*Conductor, error) {
	if sink == nil {
		return nil, errs.New("conductor", errs.CodeInvalid, errs.WithMessage("sink required"))
	}
	p, err := async.NewPool(workers, queue)
	if err != nil {
		return nil, err
	}
	return &Conductor{
		adapters: make(map[string]exchange.Adapter),
		sink:     sink,
		workers:  p,
	}, nil
}

// AddExchange registers an adapter under its own name.
func (c *Conductor) AddExchange(adapter exchange.Adapter) error {
	if adapter == nil {
		return errs.New("conductor", errs.CodeInvalid, errs.WithMessage("adapter required"))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	name := adapter.Name()
	if _, exists := c.adapters[name]; exists {
		return errs.New(name, errs.CodeInvalid, errs.WithMessage("exchange already added"))
	}
	c.adapters[name] = adapter
	return nil
}

// Adapter returns the registered adapter for a venue.
func (c *Conductor) Adapter(venue string) (exchange.Adapter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	adapter, ok := c.adapters[venue]
	return adapter, ok
}

func (c *Conductor) snapshot() []exchange.Adapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	adapters := make([]exchange.Adapter, 0, len(c.adapters))
	for _, a := range c.adapters {
		adapters = append(adapters, a)
	}
	return adapters
}

// Connect connects every registered adapter concurrently and joins their
// failures. One venue failing to connect does not stop the others.
func (c *Conductor) Connect(ctx context.Context) error {
	adapters := c.snapshot()

	var mu sync.Mutex
	var failures []error
	p := pool.New().WithMaxGoroutines(len(adapters) + 1)
	for _, adapter := range adapters {
		a := adapter
		p.Go(func() {
			if err := a.Connect(ctx); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				observability.Log().Error("venue connect failed",
					observability.F("venue", a.Name()),
					observability.F("error", err))
			}
		})
	}
	p.Wait()
	return errors.Join(failures...)
}

// SubscribeAll opens every requested stream on one venue. Stream failures
// are isolated; siblings proceed and all failures come back joined.
func (c *Conductor) SubscribeAll(ctx context.Context, venue string, requests []Request) error {
	adapter, ok := c.Adapter(venue)
	if !ok {
		return errs.New(venue, errs.CodeNotFound, errs.WithMessage("exchange not added"))
	}

	var mu sync.Mutex
	var failures []error
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}

	p := pool.New().WithMaxGoroutines(8)
	for _, request := range requests {
		req := request
		if req.Trades {
			p.Go(func() {
				record(adapter.SubscribeTrades(ctx, req.Contract, c.tradesCallback()))
			})
		}
		if req.OrderBook {
			p.Go(func() {
				record(adapter.SubscribeOrderBook(ctx, req.Contract, c.bookCallback()))
			})
		}
		for _, interval := range req.CandleIntervals {
			iv := interval
			p.Go(func() {
				record(adapter.SubscribeCandles(ctx, req.Contract, iv, c.candlesCallback()))
			})
		}
	}
	p.Wait()
	return errors.Join(failures...)
}

func (c *Conductor) tradesCallback() exchange.TradesCallback {
	return func(trades []schema.Trade) {
		c.submit("trades", func(ctx context.Context) error {
			return c.sink.OnTrades(ctx, trades)
		})
	}
}

func (c *Conductor) bookCallback() exchange.BookCallback {
	return func(snapshot schema.BookSnapshot) {
		c.submit("order_book", func(ctx context.Context) error {
			return c.sink.OnOrderBook(ctx, snapshot)
		})
	}
}

func (c *Conductor) candlesCallback() exchange.CandlesCallback {
	return func(window schema.CandleWindow) {
		c.submit("candles", func(ctx context.Context) error {
			return c.sink.OnCandles(ctx, window)
		})
	}
}

// submit hands a sink delivery to the worker pool. A saturated pool drops
// the batch with a warning; streams must keep flowing.
func (c *Conductor) submit(stream string, task async.Task) {
	if err := c.workers.Submit(context.Background(), task); err != nil {
		observability.Log().Warn("sink delivery dropped",
			observability.F("stream", stream),
			observability.F("error", err))
	}
}

// Close disconnects every adapter and drains the worker pool.
func (c *Conductor) Close(ctx context.Context) error {
	adapters := c.snapshot()

	var failures []error
	for _, adapter := range adapters {
		if err := adapter.Disconnect(ctx); err != nil {
			failures = append(failures, err)
		}
	}
	if err := c.workers.Shutdown(ctx); err != nil {
		failures = append(failures, err)
	}
	return errors.Join(failures...)
}
