package hyperliquid

import (
	"context"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/foggle/foggle/errs"
	"github.com/foggle/foggle/internal/ws"
)

// spotAssetOffset shifts spot pair indices into a range disjoint from
// perpetual asset indices.
const spotAssetOffset = 10000

// AssetInfo describes a perpetual universe entry.
type AssetInfo struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
	IsDelisted  bool   `json:"isDelisted"`
}

// Meta is the perpetuals metadata response.
type Meta struct {
	Universe []AssetInfo `json:"universe"`
}

// SpotTokenInfo describes a token referenced by spot pairs.
type SpotTokenInfo struct {
	Name       string `json:"name"`
	SzDecimals int    `json:"szDecimals"`
	Index      int    `json:"index"`
}

// SpotPairInfo describes a tradable spot pair.
type SpotPairInfo struct {
	Name   string `json:"name"`
	Tokens []int  `json:"tokens"`
	Index  int    `json:"index"`
}

// SpotMeta is the spot metadata response.
type SpotMeta struct {
	Universe []SpotPairInfo  `json:"universe"`
	Tokens   []SpotTokenInfo `json:"tokens"`
}

// MarginSummary summarizes account-level perpetuals margin.
type MarginSummary struct {
	AccountValue    string `json:"accountValue"`
	TotalNtlPos     string `json:"totalNtlPos"`
	TotalRawUsd     string `json:"totalRawUsd"`
	TotalMarginUsed string `json:"totalMarginUsed"`
}

// UserState is the perpetuals clearinghouse state for one account.
type UserState struct {
	MarginSummary      MarginSummary     `json:"marginSummary"`
	CrossMarginSummary MarginSummary     `json:"crossMarginSummary"`
	Withdrawable       string            `json:"withdrawable"`
	AssetPositions     []json.RawMessage `json:"assetPositions"`
}

// SpotBalance is a single token balance in the spot clearinghouse.
type SpotBalance struct {
	Coin  string `json:"coin"`
	Token int    `json:"token"`
	Total string `json:"total"`
	Hold  string `json:"hold"`
}

// SpotUserState is the spot clearinghouse state for one account.
type SpotUserState struct {
	Balances []SpotBalance `json:"balances"`
}

// Info serves public venue queries and multiplexes websocket subscriptions.
// Asset lookup tables are built once and guarded for concurrent readers.
type Info struct {
	client *Client
	ws     *ws.Manager

	mu              sync.RWMutex
	initialized     bool
	coinToAsset     map[string]int
	nameToCoin      map[string]string
	assetSzDecimals map[int]int
	coinMaxLeverage map[string]int
}

// NewInfo creates an info service backed by client. The websocket manager is
// optional; query-only callers may pass nil.
func NewInfo(client *Client, wsManager *ws.Manager) *Info {
	return &Info{client: client, ws: wsManager}
}

// EnsureInitialized builds the asset lookup tables from venue metadata and
// starts the websocket manager when one is attached. Safe to call more than
// once; subsequent calls are no-ops.
func (i *Info) EnsureInitialized(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.initialized {
		return nil
	}

	meta, err := i.Meta(ctx)
	if err != nil {
		return err
	}
	spotMeta, err := i.SpotMeta(ctx)
	if err != nil {
		return err
	}

	coinToAsset := make(map[string]int, len(meta.Universe)+len(spotMeta.Universe))
	nameToCoin := make(map[string]string, len(meta.Universe)+len(spotMeta.Universe))
	szDecimals := make(map[int]int, len(meta.Universe)+len(spotMeta.Universe))
	maxLeverage := make(map[string]int, len(meta.Universe))

	for asset, entry := range meta.Universe {
		coinToAsset[entry.Name] = asset
		nameToCoin[entry.Name] = entry.Name
		szDecimals[asset] = entry.SzDecimals
		maxLeverage[entry.Name] = entry.MaxLeverage
	}
	tokensByIndex := make(map[int]SpotTokenInfo, len(spotMeta.Tokens))
	for _, token := range spotMeta.Tokens {
		tokensByIndex[token.Index] = token
	}
	for _, pair := range spotMeta.Universe {
		asset := pair.Index + spotAssetOffset
		coinToAsset[pair.Name] = asset
		nameToCoin[pair.Name] = pair.Name
		if len(pair.Tokens) > 0 {
			if base, ok := tokensByIndex[pair.Tokens[0]]; ok {
				szDecimals[asset] = base.SzDecimals
				alias := base.Name + "/USDC"
				if _, taken := nameToCoin[alias]; !taken {
					nameToCoin[alias] = pair.Name
					coinToAsset[alias] = asset
				}
			}
		}
	}

	i.coinToAsset = coinToAsset
	i.nameToCoin = nameToCoin
	i.assetSzDecimals = szDecimals
	i.coinMaxLeverage = maxLeverage
	i.initialized = true

	if i.ws != nil {
		return i.ws.Start(ctx)
	}
	return nil
}

// CoinFor resolves a symbol or display alias to the venue coin identifier.
func (i *Info) CoinFor(symbol string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	coin, ok := i.nameToCoin[symbol]
	return coin, ok
}

// AssetFor resolves a coin to its asset index. Spot pairs sit at or above
// the spot offset.
func (i *Info) AssetFor(coin string) (int, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	asset, ok := i.coinToAsset[coin]
	return asset, ok
}

// SzDecimals returns the size precision for an asset index.
func (i *Info) SzDecimals(asset int) (int, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	d, ok := i.assetSzDecimals[asset]
	return d, ok
}

// MaxLeverage returns the maximum leverage allowed for a perpetual coin.
func (i *Info) MaxLeverage(coin string) (int, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	lev, ok := i.coinMaxLeverage[coin]
	return lev, ok
}

// Subscribe registers a websocket callback through the attached manager.
func (i *Info) Subscribe(ctx context.Context, topic ws.Topic, cb ws.Callback) (int64, error) {
	if i.ws == nil {
		return 0, errs.New(VenueName, errs.CodeUnavailable,
			errs.WithMessage("no websocket manager attached"))
	}
	return i.ws.Subscribe(ctx, topic, cb)
}

// Unsubscribe removes a websocket callback through the attached manager.
func (i *Info) Unsubscribe(ctx context.Context, topic ws.Topic, subscriptionID int64) (bool, error) {
	if i.ws == nil {
		return false, errs.New(VenueName, errs.CodeUnavailable,
			errs.WithMessage("no websocket manager attached"))
	}
	return i.ws.Unsubscribe(ctx, topic, subscriptionID)
}

func (i *Info) query(ctx context.Context, payload any, out any) error {
	raw, err := i.client.Post(ctx, "/info", payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.New(VenueName, errs.CodeDecode,
			errs.WithMessage("decode info response"),
			errs.WithRawMessage(string(raw)),
			errs.WithCause(err))
	}
	return nil
}

// Meta fetches the perpetuals universe.
func (i *Info) Meta(ctx context.Context) (*Meta, error) {
	var out Meta
	if err := i.query(ctx, map[string]any{"type": "meta"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SpotMeta fetches the spot universe and token table.
func (i *Info) SpotMeta(ctx context.Context) (*SpotMeta, error) {
	var out SpotMeta
	if err := i.query(ctx, map[string]any{"type": "spotMeta"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserState fetches the perpetuals clearinghouse state for an address.
func (i *Info) UserState(ctx context.Context, address string) (*UserState, error) {
	var out UserState
	payload := map[string]any{"type": "clearinghouseState", "user": strings.ToLower(address)}
	if err := i.query(ctx, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SpotUserState fetches the spot clearinghouse state for an address.
func (i *Info) SpotUserState(ctx context.Context, address string) (*SpotUserState, error) {
	var out SpotUserState
	payload := map[string]any{"type": "spotClearinghouseState", "user": strings.ToLower(address)}
	if err := i.query(ctx, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AllMids fetches the current mid price for every coin.
func (i *Info) AllMids(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	if err := i.query(ctx, map[string]any{"type": "allMids"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenOrders fetches the open orders for an address.
func (i *Info) OpenOrders(ctx context.Context, address string) (json.RawMessage, error) {
	payload := map[string]any{"type": "openOrders", "user": strings.ToLower(address)}
	return i.client.Post(ctx, "/info", payload)
}

// UserFills fetches recent fills for an address.
func (i *Info) UserFills(ctx context.Context, address string) (json.RawMessage, error) {
	payload := map[string]any{"type": "userFills", "user": strings.ToLower(address)}
	return i.client.Post(ctx, "/info", payload)
}

// CandleSnapshot fetches historical candles for a coin over [start, end] in
// epoch milliseconds.
func (i *Info) CandleSnapshot(ctx context.Context, coin, interval string, startMillis, endMillis int64) ([]WireCandle, error) {
	payload := map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":      coin,
			"interval":  interval,
			"startTime": startMillis,
			"endTime":   endMillis,
		},
	}
	var out []WireCandle
	if err := i.query(ctx, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}
