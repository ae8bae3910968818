package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foggle/foggle/internal/schema"
)

const (
	tradeInsertSQL = `
INSERT INTO trades (time, contract_id, price, qty, side, trade_id, hash)
VALUES (@time, @contract_id, @price, @qty, @side, @trade_id, @hash)
ON CONFLICT (time, contract_id, trade_id) DO NOTHING;
`

	bookLevelInsertSQL = `
INSERT INTO orderbook (time, contract_id, side, level, price, qty, orders)
VALUES (@time, @contract_id, @side, @level, @price, @qty, @orders)
ON CONFLICT (time, contract_id, side, level) DO NOTHING;
`

	candleUpsertSQL = `
INSERT INTO candles (time, contract_id, "interval", open, high, low, close, volume, trades)
VALUES (@time, @contract_id, @interval, @open, @high, @low, @close, @volume, @trades)
ON CONFLICT (time, contract_id, "interval") DO UPDATE SET
    open = EXCLUDED.open,
    high = EXCLUDED.high,
    low = EXCLUDED.low,
    close = EXCLUDED.close,
    volume = EXCLUDED.volume,
    trades = EXCLUDED.trades;
`
)

const (
	sideBuy = "BUY"
	sideSell = "SELL"
	sideBid = "BID"
	sideAsk = "ASK"
)

// canonicalSide maps venue wire side codes onto the stored vocabulary.
// Unknown codes pass through upper-cased rather than being dropped.
func canonicalSide(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "B", "BUY":
		return sideBuy
	case "A", "S", "SELL":
		return sideSell
	default:
		return strings.ToUpper(strings.TrimSpace(raw))
	}
}

// MarketStore persists trades, order book snapshots and candles keyed by
// resolved contract ids.
type MarketStore struct {
	db        querier
	contracts *ContractStore
}

// NewMarketStore constructs a MarketStore backed by the provided pool.
func NewMarketStore(pool *pgxpool.Pool, contracts *ContractStore) *MarketStore {
	return newMarketStore(pool, contracts)
}

func newMarketStore(db querier, contracts *ContractStore) *MarketStore {
	return &MarketStore{db: db, contracts: contracts}
}

// UpsertTrades inserts a batch of trades. Replayed trades hit the
// (time, contract_id, trade_id) key and are dropped by the database.
func (s *MarketStore) UpsertTrades(ctx context.Context, trades []schema.Trade) error {
	if s.db == nil {
		return fmt.Errorf("market store: nil pool")
	}
	for _, trade := range trades {
		contractID, err := s.contracts.Resolve(ctx, trade.Contract)
		if err != nil {
			return err
		}
		price, err := numericFromDecimal(trade.Price)
		if err != nil {
			return fmt.Errorf("market store: trade price: %w", err)
		}
		qty, err := numericFromDecimal(trade.Qty)
		if err != nil {
			return fmt.Errorf("market store: trade qty: %w", err)
		}
		args := pgx.NamedArgs{
			"time":        trade.Timestamp,
			"contract_id": contractID,
			"price":       price,
			"qty":         qty,
			"side":        canonicalSide(trade.Side),
			"trade_id":    trade.TradeID,
			"hash":        nullableText(trade.Hash),
		}
		if _, err := s.db.Exec(ctx, tradeInsertSQL, args); err != nil {
			return fmt.Errorf("market store: insert trade: %w", err)
		}
	}
	return nil
}

// UpsertOrderBook inserts one two-sided snapshot, a row per price level.
func (s *MarketStore) UpsertOrderBook(ctx context.Context, snapshot schema.BookSnapshot) error {
	if s.db == nil {
		return fmt.Errorf("market store: nil pool")
	}
	contractID, err := s.contracts.Resolve(ctx, snapshot.Contract)
	if err != nil {
		return err
	}
	if err := s.insertLevels(ctx, contractID, snapshot, sideBid, snapshot.Bids); err != nil {
		return err
	}
	return s.insertLevels(ctx, contractID, snapshot, sideAsk, snapshot.Asks)
}

func (s *MarketStore) insertLevels(ctx context.Context, contractID int64, snapshot schema.BookSnapshot, side string, levels []schema.BookLevel) error {
	for depth, level := range levels {
		price, err := numericFromDecimal(level.Price)
		if err != nil {
			return fmt.Errorf("market store: book price: %w", err)
		}
		qty, err := numericFromDecimal(level.Qty)
		if err != nil {
			return fmt.Errorf("market store: book qty: %w", err)
		}
		args := pgx.NamedArgs{
			"time":        snapshot.Timestamp,
			"contract_id": contractID,
			"side":        side,
			"level":       depth,
			"price":       price,
			"qty":         qty,
			"orders":      level.Orders,
		}
		if _, err := s.db.Exec(ctx, bookLevelInsertSQL, args); err != nil {
			return fmt.Errorf("market store: insert book level: %w", err)
		}
	}
	return nil
}

// UpsertCandles writes the closed portion of a merge-cache window. The
// still-forming bar is withheld until a newer bar proves it closed, except
// in a single-bar window where no such proof can ever arrive.
func (s *MarketStore) UpsertCandles(ctx context.Context, window schema.CandleWindow) error {
	if s.db == nil {
		return fmt.Errorf("market store: nil pool")
	}
	for _, bar := range window.Closed() {
		contractID, err := s.contracts.Resolve(ctx, bar.Contract)
		if err != nil {
			return err
		}
		if err := s.upsertCandle(ctx, contractID, bar); err != nil {
			return err
		}
	}
	return nil
}

func (s *MarketStore) upsertCandle(ctx context.Context, contractID int64, bar schema.Candle) error {
	open, err := numericFromDecimal(bar.Open)
	if err != nil {
		return fmt.Errorf("market store: candle open: %w", err)
	}
	high, err := numericFromDecimal(bar.High)
	if err != nil {
		return fmt.Errorf("market store: candle high: %w", err)
	}
	low, err := numericFromDecimal(bar.Low)
	if err != nil {
		return fmt.Errorf("market store: candle low: %w", err)
	}
	closePx, err := numericFromDecimal(bar.Close)
	if err != nil {
		return fmt.Errorf("market store: candle close: %w", err)
	}
	volume, err := numericFromDecimal(bar.Volume)
	if err != nil {
		return fmt.Errorf("market store: candle volume: %w", err)
	}
	args := pgx.NamedArgs{
		"time":        bar.Timestamp,
		"contract_id": contractID,
		"interval":    bar.Interval,
		"open":        open,
		"high":        high,
		"low":         low,
		"close":       closePx,
		"volume":      volume,
		"trades":      bar.Trades,
	}
	if _, err := s.db.Exec(ctx, candleUpsertSQL, args); err != nil {
		return fmt.Errorf("market store: upsert candle: %w", err)
	}
	return nil
}
