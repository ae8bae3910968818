package feed

import (
	"sync"

	"github.com/foggle/foggle/internal/schema"
)

// DefaultCapacity bounds each per-contract ring when no capacity is given.
const DefaultCapacity = 256

type candleKey struct {
	contractID int64
	interval   string
}

// Feed is a concurrency-safe view of recent market data keyed by resolved
// contract id.
type Feed struct {
	mu       sync.RWMutex
	capacity int
	trades   map[int64]*Ring[schema.Trade]
	books    map[int64]*Ring[schema.BookSnapshot]
	candles  map[candleKey]*Ring[schema.Candle]
}

// New creates a feed whose per-contract rings hold capacity entries.
func New(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{
		capacity: capacity,
		trades:   make(map[int64]*Ring[schema.Trade]),
		books:    make(map[int64]*Ring[schema.BookSnapshot]),
		candles:  make(map[candleKey]*Ring[schema.Candle]),
	}
}

// PushTrades appends trades to the contract's ring.
func (f *Feed) PushTrades(contractID int64, trades ...schema.Trade) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ring, ok := f.trades[contractID]
	if !ok {
		ring = NewRing[schema.Trade](f.capacity)
		f.trades[contractID] = ring
	}
	for _, trade := range trades {
		ring.Push(trade)
	}
}

// PushBook appends one book snapshot to the contract's ring.
func (f *Feed) PushBook(contractID int64, snapshot schema.BookSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ring, ok := f.books[contractID]
	if !ok {
		ring = NewRing[schema.BookSnapshot](f.capacity)
		f.books[contractID] = ring
	}
	ring.Push(snapshot)
}

// PushCandle appends one bar to the contract and interval ring.
func (f *Feed) PushCandle(contractID int64, bar schema.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := candleKey{contractID: contractID, interval: bar.Interval}
	ring, ok := f.candles[key]
	if !ok {
		ring = NewRing[schema.Candle](f.capacity)
		f.candles[key] = ring
	}
	ring.Push(bar)
}

// Trades returns the retained trades for a contract, oldest first.
func (f *Feed) Trades(contractID int64) []schema.Trade {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ring, ok := f.trades[contractID]
	if !ok {
		return nil
	}
	return ring.Snapshot()
}

// LatestBook returns the most recent book snapshot for a contract.
func (f *Feed) LatestBook(contractID int64) (schema.BookSnapshot, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ring, ok := f.books[contractID]
	if !ok {
		return schema.BookSnapshot{}, false
	}
	return ring.Latest()
}

// Candles returns the retained bars for a contract and interval, oldest
// first.
func (f *Feed) Candles(contractID int64, interval string) []schema.Candle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ring, ok := f.candles[candleKey{contractID: contractID, interval: interval}]
	if !ok {
		return nil
	}
	return ring.Snapshot()
}
