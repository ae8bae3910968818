package hyperliquid

// WireTrade is a single trade as delivered on the trades channel.
type WireTrade struct {
	Coin  string   `json:"coin"`
	Side  string   `json:"side"`
	Px    string   `json:"px"`
	Sz    string   `json:"sz"`
	Time  int64    `json:"time"`
	Hash  string   `json:"hash"`
	Tid   int64    `json:"tid"`
	Users []string `json:"users"`
}

// WireLevel is one price level of an order book snapshot.
type WireLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

// WireBook is an l2Book snapshot. Levels is positional: index 0 holds bids,
// index 1 holds asks.
type WireBook struct {
	Coin   string        `json:"coin"`
	Time   int64         `json:"time"`
	Levels [][]WireLevel `json:"levels"`
}

// WireCandle is a candle update or snapshot row.
type WireCandle struct {
	OpenMillis  int64  `json:"t"`
	CloseMillis int64  `json:"T"`
	Symbol      string `json:"s"`
	Interval    string `json:"i"`
	Open        string `json:"o"`
	Close       string `json:"c"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Volume      string `json:"v"`
	Trades      int64  `json:"n"`
}
