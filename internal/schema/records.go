package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a normalized execution report from a venue. Side carries the raw
// wire code unchanged ("B" for buy, "A" for ask/sell on Hyperliquid); mapping
// to the canonical BUY/SELL vocabulary happens at the persistence boundary.
type Trade struct {
	Contract  Contract
	Timestamp time.Time
	Price     decimal.Decimal
	Qty       decimal.Decimal
	Side      string
	TradeID   int64
	Hash      string
	Users     []string
}

// BookLevel is a single price level on one side of the book.
type BookLevel struct {
	Price  decimal.Decimal
	Qty    decimal.Decimal
	Orders int
}

// BookSnapshot is a normalized two-sided order book observation.
type BookSnapshot struct {
	Contract  Contract
	Timestamp time.Time
	Bids      []BookLevel
	Asks      []BookLevel
}

// Candle is a single OHLCV bar. Timestamp is the bar open time.
type Candle struct {
	Contract  Contract
	Timestamp time.Time
	Interval  string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Trades    int
}

// CandleWindow is the rolling window handed to candle callbacks. The last
// element is the most recent (possibly still open) bar.
type CandleWindow []Candle

// Closed returns the bars proven closed by the presence of a newer bar. A
// single-bar window is treated as closed since no newer bar proves it open.
func (w CandleWindow) Closed() []Candle {
	switch len(w) {
	case 0:
		return nil
	case 1:
		return []Candle{w[0]}
	default:
		return w[:len(w)-1]
	}
}

// NewsItem is a scraped news record prior to de-duplication.
type NewsItem struct {
	Time     time.Time
	Title    string
	Content  string
	Source   string
	Category string
	Parent   string
}
