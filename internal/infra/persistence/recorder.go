// Package persistence wires the storage-facing side of the ingestion
// pipeline: the sink that turns normalized records into idempotent database
// writes, feed updates and metrics.
package persistence

import (
	"context"
	"strings"

	"github.com/foggle/foggle/internal/feed"
	"github.com/foggle/foggle/internal/infra/persistence/postgres"
	"github.com/foggle/foggle/internal/schema"
	"github.com/foggle/foggle/internal/telemetry"
)

// MarketWriter is the storage surface the recorder writes market data to.
type MarketWriter interface {
	UpsertTrades(ctx context.Context, trades []schema.Trade) error
	UpsertOrderBook(ctx context.Context, snapshot schema.BookSnapshot) error
	UpsertCandles(ctx context.Context, window schema.CandleWindow) error
}

// ContractCache resolves already-persisted contracts to their ids without a
// database roundtrip.
type ContractCache interface {
	Cached(contract schema.Contract) (int64, bool)
}

// Recorder persists normalized records and mirrors them into the in-process
// feed. It satisfies the conductor's sink contract.
type Recorder struct {
	market    MarketWriter
	contracts ContractCache
	feed      *feed.Feed
	metrics   *telemetry.Metrics
}

// NewRecorder constructs a recorder over a postgres store. The feed and
// metrics are optional.
func NewRecorder(store *postgres.Store, f *feed.Feed, metrics *telemetry.Metrics) *Recorder {
	return &Recorder{
		market:    store.Market,
		contracts: store.Contracts,
		feed:      f,
		metrics:   metrics,
	}
}

func venueOf(contract schema.Contract) string {
	return strings.ToLower(contract.Exchange)
}

// OnTrades persists a trade batch and appends it to the feed.
func (r *Recorder) OnTrades(ctx context.Context, trades []schema.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	if err := r.market.UpsertTrades(ctx, trades); err != nil {
		r.metrics.RecordSinkFailure(ctx, "trades")
		return err
	}
	if r.feed != nil {
		for _, trade := range trades {
			if id, ok := r.contracts.Cached(trade.Contract); ok {
				r.feed.PushTrades(id, trade)
			}
		}
	}
	r.metrics.RecordTrades(ctx, venueOf(trades[0].Contract), len(trades))
	return nil
}

// OnOrderBook persists one snapshot and updates the feed's latest book.
func (r *Recorder) OnOrderBook(ctx context.Context, snapshot schema.BookSnapshot) error {
	if err := r.market.UpsertOrderBook(ctx, snapshot); err != nil {
		r.metrics.RecordSinkFailure(ctx, "order_book")
		return err
	}
	if r.feed != nil {
		if id, ok := r.contracts.Cached(snapshot.Contract); ok {
			r.feed.PushBook(id, snapshot)
		}
	}
	r.metrics.RecordBookSnapshot(ctx, venueOf(snapshot.Contract))
	return nil
}

// OnCandles persists the closed bars of a window and appends them to the
// feed.
func (r *Recorder) OnCandles(ctx context.Context, window schema.CandleWindow) error {
	closed := window.Closed()
	if len(closed) == 0 {
		return nil
	}
	if err := r.market.UpsertCandles(ctx, window); err != nil {
		r.metrics.RecordSinkFailure(ctx, "candles")
		return err
	}
	if r.feed != nil {
		for _, bar := range closed {
			if id, ok := r.contracts.Cached(bar.Contract); ok {
				r.feed.PushCandle(id, bar)
			}
		}
	}
	r.metrics.RecordCandles(ctx, venueOf(closed[0].Contract), len(closed))
	return nil
}
