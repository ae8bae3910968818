package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foggle/foggle/internal/schema"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func TestUpsertTradesMapsWireSides(t *testing.T) {
	db := newFakeDB()
	store := newMarketStore(db, newContractStore(db))
	now := time.Now().UTC()

	trades := []schema.Trade{
		{Contract: perpContract("ETH"), Timestamp: now, Price: dec(t, "2500"), Qty: dec(t, "1"), Side: "A", TradeID: 1},
		{Contract: perpContract("ETH"), Timestamp: now, Price: dec(t, "2501"), Qty: dec(t, "2"), Side: "B", TradeID: 2},
		{Contract: perpContract("ETH"), Timestamp: now, Price: dec(t, "2502"), Qty: dec(t, "3"), Side: "SELL", TradeID: 3},
	}
	if err := store.UpsertTrades(context.Background(), trades); err != nil {
		t.Fatalf("upsert trades: %v", err)
	}

	args := db.argsFor("INSERT INTO trades")
	if len(args) != 3 {
		t.Fatalf("trade inserts = %d, want 3", len(args))
	}
	if args[0]["side"] != "SELL" || args[1]["side"] != "BUY" || args[2]["side"] != "SELL" {
		t.Fatalf("sides = %v, %v, %v", args[0]["side"], args[1]["side"], args[2]["side"])
	}
	if args[0]["trade_id"] != int64(1) {
		t.Fatalf("trade_id = %v", args[0]["trade_id"])
	}
}

func TestUpsertTradesSharesResolvedContract(t *testing.T) {
	db := newFakeDB()
	contracts := newContractStore(db)
	store := newMarketStore(db, contracts)
	now := time.Now().UTC()

	trades := []schema.Trade{
		{Contract: perpContract("BTC"), Timestamp: now, Price: dec(t, "64000"), Qty: dec(t, "1"), Side: "B", TradeID: 10},
		{Contract: perpContract("BTC"), Timestamp: now, Price: dec(t, "64001"), Qty: dec(t, "1"), Side: "B", TradeID: 11},
	}
	if err := store.UpsertTrades(context.Background(), trades); err != nil {
		t.Fatalf("upsert trades: %v", err)
	}
	if db.begins != 1 {
		t.Fatalf("begins = %d, want single contract resolution", db.begins)
	}
	args := db.argsFor("INSERT INTO trades")
	if args[0]["contract_id"] != args[1]["contract_id"] {
		t.Fatal("same contract resolved to different ids")
	}
}

func TestUpsertOrderBookWritesLeveledRows(t *testing.T) {
	db := newFakeDB()
	store := newMarketStore(db, newContractStore(db))

	snapshot := schema.BookSnapshot{
		Contract:  perpContract("ETH"),
		Timestamp: time.Now().UTC(),
		Bids: []schema.BookLevel{
			{Price: dec(t, "2500"), Qty: dec(t, "1"), Orders: 3},
			{Price: dec(t, "2499"), Qty: dec(t, "5"), Orders: 1},
		},
		Asks: []schema.BookLevel{
			{Price: dec(t, "2501"), Qty: dec(t, "2"), Orders: 2},
		},
	}
	if err := store.UpsertOrderBook(context.Background(), snapshot); err != nil {
		t.Fatalf("upsert order book: %v", err)
	}

	args := db.argsFor("INSERT INTO orderbook")
	if len(args) != 3 {
		t.Fatalf("book rows = %d, want 3", len(args))
	}
	if args[0]["side"] != "BID" || args[0]["level"] != 0 {
		t.Fatalf("first row = %v", args[0])
	}
	if args[1]["side"] != "BID" || args[1]["level"] != 1 {
		t.Fatalf("second row = %v", args[1])
	}
	if args[2]["side"] != "ASK" || args[2]["level"] != 0 {
		t.Fatalf("third row = %v", args[2])
	}
}

func TestUpsertCandlesWithholdsFormingBar(t *testing.T) {
	db := newFakeDB()
	store := newMarketStore(db, newContractStore(db))

	bar := func(openMillis int64) schema.Candle {
		return schema.Candle{
			Contract:  perpContract("SOL"),
			Timestamp: time.UnixMilli(openMillis).UTC(),
			Interval:  "1m",
			Open:      dec(t, "100"),
			High:      dec(t, "101"),
			Low:       dec(t, "99"),
			Close:     dec(t, "100.5"),
			Volume:    dec(t, "10"),
			Trades:    5,
		}
	}

	window := schema.CandleWindow{bar(60000), bar(120000)}
	if err := store.UpsertCandles(context.Background(), window); err != nil {
		t.Fatalf("upsert candles: %v", err)
	}
	args := db.argsFor("INSERT INTO candles")
	if len(args) != 1 {
		t.Fatalf("candle writes = %d, want only the closed bar", len(args))
	}
	if got := args[0]["time"].(time.Time); !got.Equal(time.UnixMilli(60000).UTC()) {
		t.Fatalf("wrote bar at %v, want the older one", got)
	}
}

func TestUpsertCandlesSingleBarWindowIsWritten(t *testing.T) {
	db := newFakeDB()
	store := newMarketStore(db, newContractStore(db))

	window := schema.CandleWindow{{
		Contract:  perpContract("SOL"),
		Timestamp: time.UnixMilli(60000).UTC(),
		Interval:  "1m",
		Open:      dec(t, "1"), High: dec(t, "1"), Low: dec(t, "1"), Close: dec(t, "1"),
		Volume: dec(t, "0"),
	}}
	if err := store.UpsertCandles(context.Background(), window); err != nil {
		t.Fatalf("upsert candles: %v", err)
	}
	if got := db.execCount("INSERT INTO candles"); got != 1 {
		t.Fatalf("candle writes = %d, want 1", got)
	}
}

func TestMarketStoreNilPool(t *testing.T) {
	store := newMarketStore(nil, newContractStore(nil))
	ctx := context.Background()
	if err := store.UpsertTrades(ctx, []schema.Trade{{Contract: perpContract("ETH")}}); err == nil {
		t.Fatal("expected error with nil pool")
	}
	if err := store.UpsertOrderBook(ctx, schema.BookSnapshot{Contract: perpContract("ETH")}); err == nil {
		t.Fatal("expected error with nil pool")
	}
	if err := store.UpsertCandles(ctx, schema.CandleWindow{{Contract: perpContract("ETH")}}); err == nil {
		t.Fatal("expected error with nil pool")
	}
}
