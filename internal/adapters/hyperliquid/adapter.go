package hyperliquid

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/foggle/foggle/config"
	"github.com/foggle/foggle/errs"
	"github.com/foggle/foggle/internal/exchange"
	"github.com/foggle/foggle/internal/observability"
	"github.com/foggle/foggle/internal/schema"
	"github.com/foggle/foggle/internal/telemetry"
	"github.com/foggle/foggle/internal/ws"
)

// Adapter is the Hyperliquid implementation of the uniform venue contract.
// Connect performs the full identity handshake: derive the wallet, verify
// the account is funded, approve a throwaway agent key and re-home all
// subsequent signing onto it.
type Adapter struct {
	settings config.VenueSettings

	mu        sync.Mutex
	connected bool
	client    *Client
	stream    *ws.Manager
	info      *Info
	exchange  *Exchange
	address   string
	candles   *candleCache
}

// New constructs an unconnected Hyperliquid adapter from venue settings.
func New(settings config.VenueSettings) (exchange.Adapter, error) {
	return &Adapter{settings: settings, candles: newCandleCache()}, nil
}

// Register installs the Hyperliquid factory into an adapter registry.
func Register(reg *exchange.Registry) error {
	return reg.Register(config.VenueHyperliquid, New)
}

// Name implements exchange.Adapter.
func (a *Adapter) Name() string { return VenueName }

// Connect implements exchange.Adapter. It is idempotent; a connected adapter
// returns nil without repeating the handshake.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}

	key := strings.TrimSpace(a.settings.PrivateKey)
	if key == "" {
		return errs.New(VenueName, errs.CodeIdentity,
			errs.WithMessage("signing key required; set the configured key env var"))
	}
	wallet, err := crypto.HexToECDSA(strings.TrimPrefix(key, "0x"))
	if err != nil {
		return errs.New(VenueName, errs.CodeIdentity,
			errs.WithMessage("parse signing key"), errs.WithCause(err))
	}
	walletAddress := crypto.PubkeyToAddress(wallet.PublicKey).Hex()
	address := strings.TrimSpace(a.settings.Address)
	if address == "" {
		address = walletAddress
	}
	if !strings.EqualFold(address, walletAddress) {
		return errs.New(VenueName, errs.CodeIdentity,
			errs.WithMessage("configured address does not match the signing wallet; an agent key cannot approve another agent"))
	}

	client := NewClient(a.settings.BaseURL)
	stream := ws.NewManager(VenueName, ws.EndpointFromREST(client.BaseURL()), ws.WithMetrics(telemetry.Default()))
	info := NewInfo(client, stream)

	if err := a.checkEquity(ctx, info, address); err != nil {
		client.Close()
		return err
	}

	primary := NewExchange(client, wallet, address, "")
	result, agentKey, err := primary.ApproveAgent(ctx, "")
	if err != nil {
		client.Close()
		return err
	}
	if status := ActionStatus(result); status != "ok" {
		client.Close()
		return errs.New(VenueName, errs.CodeIdentity,
			errs.WithMessage("agent approval rejected"),
			errs.WithRawMessage(string(result)))
	}
	agent, err := crypto.HexToECDSA(agentKey[2:])
	if err != nil {
		client.Close()
		return errs.New(VenueName, errs.CodeIdentity,
			errs.WithMessage("parse approved agent key"), errs.WithCause(err))
	}

	if vault := strings.TrimSpace(a.settings.Vault); vault != "" {
		a.exchange = NewExchange(client, agent, "", vault)
		a.address = vault
	} else {
		a.exchange = NewExchange(client, agent, address, "")
		a.address = address
	}

	// The stream outlives the connect call; its lifetime ends at Disconnect.
	if err := info.EnsureInitialized(context.WithoutCancel(ctx)); err != nil {
		client.Close()
		return err
	}

	a.client = client
	a.stream = stream
	a.info = info
	a.connected = true
	observability.Log().Info("venue connected",
		observability.F("venue", VenueName),
		observability.F("address", a.address))
	return nil
}

// checkEquity fails fast when the account shows neither perpetuals equity
// nor spot balances, which would make every data subscription pointless.
func (a *Adapter) checkEquity(ctx context.Context, info *Info, address string) error {
	state, err := info.UserState(ctx, address)
	if err != nil {
		return err
	}
	equity, err := decimal.NewFromString(strings.TrimSpace(state.MarginSummary.AccountValue))
	if err != nil {
		equity = decimal.Zero
	}
	if equity.IsPositive() {
		return nil
	}
	spot, err := info.SpotUserState(ctx, address)
	if err != nil {
		return err
	}
	for _, balance := range spot.Balances {
		total, err := decimal.NewFromString(strings.TrimSpace(balance.Total))
		if err == nil && total.IsPositive() {
			return nil
		}
	}
	return errs.New(VenueName, errs.CodeIdentity,
		errs.WithMessage("account "+address+" holds no equity on "+a.settingsBaseURL()+"; fund it or fix the configured address"))
}

func (a *Adapter) settingsBaseURL() string {
	if strings.TrimSpace(a.settings.BaseURL) == "" {
		return MainnetAPIURL
	}
	return a.settings.BaseURL
}

// Disconnect implements exchange.Adapter.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil
	}
	if a.stream != nil {
		a.stream.Stop()
	}
	if a.client != nil {
		a.client.Close()
	}
	a.connected = false
	observability.Log().Info("venue disconnected", observability.F("venue", VenueName))
	return nil
}

// Exchange returns the signed action client. Nil before Connect succeeds.
func (a *Adapter) Exchange() *Exchange {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exchange
}

// Info returns the info service. Nil before Connect succeeds.
func (a *Adapter) Info() *Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

func (a *Adapter) subscriber() (*Info, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected || a.info == nil {
		return nil, errs.New(VenueName, errs.CodeUnavailable,
			errs.WithMessage("adapter not connected"))
	}
	return a.info, nil
}

// SubscribeTrades implements exchange.Adapter.
func (a *Adapter) SubscribeTrades(ctx context.Context, contract schema.Contract, cb exchange.TradesCallback) error {
	info, err := a.subscriber()
	if err != nil {
		return err
	}
	coin := a.coinFor(contract)
	topic := ws.Topic{Kind: ws.KindTrades, Coin: coin}
	_, err = info.Subscribe(ctx, topic, func(frame ws.Frame) {
		trades := a.normalizeTrades(contract, frame)
		if len(trades) > 0 {
			cb(trades)
		}
	})
	if err != nil {
		observability.Log().Error("trade subscription failed",
			observability.F("venue", VenueName),
			observability.F("coin", coin),
			observability.F("error", err))
	}
	return err
}

// SubscribeOrderBook implements exchange.Adapter.
func (a *Adapter) SubscribeOrderBook(ctx context.Context, contract schema.Contract, cb exchange.BookCallback) error {
	info, err := a.subscriber()
	if err != nil {
		return err
	}
	coin := a.coinFor(contract)
	topic := ws.Topic{Kind: ws.KindL2Book, Coin: coin}
	_, err = info.Subscribe(ctx, topic, func(frame ws.Frame) {
		snapshot, ok := a.normalizeBook(contract, frame)
		if ok {
			cb(snapshot)
		}
	})
	if err != nil {
		observability.Log().Error("order book subscription failed",
			observability.F("venue", VenueName),
			observability.F("coin", coin),
			observability.F("error", err))
	}
	return err
}

// SubscribeCandles implements exchange.Adapter.
func (a *Adapter) SubscribeCandles(ctx context.Context, contract schema.Contract, interval string, cb exchange.CandlesCallback) error {
	info, err := a.subscriber()
	if err != nil {
		return err
	}
	coin := a.coinFor(contract)
	venueInterval := translateInterval(interval)
	topic := ws.Topic{Kind: ws.KindCandle, Coin: coin, Interval: venueInterval}
	stream := topic.Identifier()
	_, err = info.Subscribe(ctx, topic, func(frame ws.Frame) {
		bar, ok := a.normalizeCandle(contract, venueInterval, frame)
		if !ok {
			return
		}
		cb(a.candles.update(stream, bar))
	})
	if err != nil {
		observability.Log().Error("candle subscription failed",
			observability.F("venue", VenueName),
			observability.F("coin", coin),
			observability.F("interval", venueInterval),
			observability.F("error", err))
	}
	return err
}

// coinFor resolves a contract symbol to the venue coin identifier, falling
// back to the raw symbol when metadata has no alias for it.
func (a *Adapter) coinFor(contract schema.Contract) string {
	a.mu.Lock()
	info := a.info
	a.mu.Unlock()
	if info != nil {
		if coin, ok := info.CoinFor(contract.Symbol); ok {
			return coin
		}
	}
	return contract.Symbol
}

// contractFor labels records with the canonical contract for a coin.
func (a *Adapter) contractFor(coin string) schema.Contract {
	secType := schema.SecurityPerpetual
	a.mu.Lock()
	info := a.info
	a.mu.Unlock()
	if info != nil {
		if asset, ok := info.AssetFor(coin); ok && asset >= spotAssetOffset {
			secType = schema.SecurityCrypto
		}
	}
	return schema.Contract{
		Symbol:   coin,
		SecType:  secType,
		Exchange: ExchangeCode,
		Currency: "USD",
	}
}

func (a *Adapter) normalizeTrades(fallback schema.Contract, frame ws.Frame) []schema.Trade {
	var wire []WireTrade
	if err := json.Unmarshal(frame.Data, &wire); err != nil {
		observability.Log().Warn("malformed trade frame dropped",
			observability.F("venue", VenueName),
			observability.F("error", err))
		return nil
	}
	trades := make([]schema.Trade, 0, len(wire))
	for _, t := range wire {
		price, perr := decimal.NewFromString(t.Px)
		qty, qerr := decimal.NewFromString(t.Sz)
		if perr != nil || qerr != nil {
			observability.Log().Warn("trade with unparseable price or size dropped",
				observability.F("venue", VenueName),
				observability.F("coin", t.Coin),
				observability.F("tid", t.Tid))
			continue
		}
		contract := fallback
		if t.Coin != "" && !strings.EqualFold(t.Coin, fallback.Symbol) {
			contract = a.contractFor(t.Coin)
		}
		trades = append(trades, schema.Trade{
			Contract:  contract,
			Timestamp: time.UnixMilli(t.Time).UTC(),
			Price:     price,
			Qty:       qty,
			Side:      t.Side,
			TradeID:   t.Tid,
			Hash:      t.Hash,
			Users:     t.Users,
		})
	}
	return trades
}

// normalizeBook converts an l2Book frame. Levels are positional, bids first.
// A payload without both sides yields an empty two-sided snapshot rather
// than a partial or crossed one.
func (a *Adapter) normalizeBook(contract schema.Contract, frame ws.Frame) (schema.BookSnapshot, bool) {
	var wire WireBook
	if err := json.Unmarshal(frame.Data, &wire); err != nil {
		observability.Log().Warn("malformed book frame dropped",
			observability.F("venue", VenueName),
			observability.F("error", err))
		return schema.BookSnapshot{}, false
	}
	snapshot := schema.BookSnapshot{
		Contract:  contract,
		Timestamp: time.UnixMilli(wire.Time).UTC(),
		Bids:      []schema.BookLevel{},
		Asks:      []schema.BookLevel{},
	}
	if len(wire.Levels) != 2 {
		return snapshot, true
	}
	snapshot.Bids = convertLevels(wire.Levels[0])
	snapshot.Asks = convertLevels(wire.Levels[1])
	return snapshot, true
}

func convertLevels(wire []WireLevel) []schema.BookLevel {
	levels := make([]schema.BookLevel, 0, len(wire))
	for _, lvl := range wire {
		price, perr := decimal.NewFromString(lvl.Px)
		qty, qerr := decimal.NewFromString(lvl.Sz)
		if perr != nil || qerr != nil {
			continue
		}
		levels = append(levels, schema.BookLevel{Price: price, Qty: qty, Orders: lvl.N})
	}
	return levels
}

func (a *Adapter) normalizeCandle(contract schema.Contract, interval string, frame ws.Frame) (schema.Candle, bool) {
	var wire WireCandle
	if err := json.Unmarshal(frame.Data, &wire); err != nil {
		observability.Log().Warn("malformed candle frame dropped",
			observability.F("venue", VenueName),
			observability.F("error", err))
		return schema.Candle{}, false
	}
	open, oerr := decimal.NewFromString(wire.Open)
	high, herr := decimal.NewFromString(wire.High)
	low, lerr := decimal.NewFromString(wire.Low)
	closePx, cerr := decimal.NewFromString(wire.Close)
	volume, verr := decimal.NewFromString(wire.Volume)
	if oerr != nil || herr != nil || lerr != nil || cerr != nil || verr != nil {
		observability.Log().Warn("candle with unparseable fields dropped",
			observability.F("venue", VenueName),
			observability.F("coin", wire.Symbol))
		return schema.Candle{}, false
	}
	return schema.Candle{
		Contract:  contract,
		Timestamp: time.UnixMilli(wire.OpenMillis).UTC(),
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
		Trades:    int(wire.Trades),
	}, true
}
