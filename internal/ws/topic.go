// Package ws owns the duplex streaming connection to a venue: reconnect,
// keepalive, subscription multiplexing and inbound frame routing.
package ws

import (
	"strings"

	json "github.com/goccy/go-json"
)

// Kind names a streaming channel on the venue.
type Kind string

const (
	// KindAllMids streams mid prices for every traded coin.
	KindAllMids Kind = "allMids"
	// KindTrades streams executions for one coin.
	KindTrades Kind = "trades"
	// KindL2Book streams order-book snapshots for one coin.
	KindL2Book Kind = "l2Book"
	// KindCandle streams bar updates for one coin and interval.
	KindCandle Kind = "candle"
	// KindUserEvents streams account events; at most one subscriber.
	KindUserEvents Kind = "userEvents"
	// KindOrderUpdates streams order state changes; at most one subscriber.
	KindOrderUpdates Kind = "orderUpdates"
	// KindUserFills streams fills for one account.
	KindUserFills Kind = "userFills"
	// KindUserFundings streams funding payments for one account.
	KindUserFundings Kind = "userFundings"
	// KindUserLedger streams non-funding ledger updates for one account.
	KindUserLedger Kind = "userNonFundingLedgerUpdates"
	// KindWebData streams aggregate frontend state for one account.
	KindWebData Kind = "webData2"
)

// Topic identifies a logical stream: kind plus coin, interval or user scope.
type Topic struct {
	Kind     Kind   `json:"type"`
	Coin     string `json:"coin,omitempty"`
	Interval string `json:"interval,omitempty"`
	User     string `json:"user,omitempty"`
}

// Identifier derives the canonical routing key for the topic.
func (t Topic) Identifier() string {
	switch t.Kind {
	case KindAllMids, KindUserEvents, KindOrderUpdates:
		return string(t.Kind)
	case KindTrades, KindL2Book:
		return string(t.Kind) + ":" + strings.ToLower(t.Coin)
	case KindCandle:
		return string(KindCandle) + ":" + strings.ToLower(t.Coin) + "," + t.Interval
	case KindUserFills, KindUserFundings, KindUserLedger, KindWebData:
		return string(t.Kind) + ":" + strings.ToLower(t.User)
	default:
		return string(t.Kind)
	}
}

// Exclusive reports whether the topic admits at most one subscriber.
func (t Topic) Exclusive() bool {
	return t.Kind == KindUserEvents || t.Kind == KindOrderUpdates
}

// Frame is a decoded inbound data message.
type Frame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

const pongIdentifier = "pong"

// frameIdentifier derives the routing key from an inbound frame envelope.
// An empty string means the frame is unroutable and should be dropped.
func frameIdentifier(frame Frame) string {
	switch frame.Channel {
	case "pong":
		return pongIdentifier
	case string(KindAllMids), string(KindOrderUpdates):
		return frame.Channel
	case "user":
		return string(KindUserEvents)
	case string(KindTrades):
		var trades []struct {
			Coin string `json:"coin"`
		}
		if err := json.Unmarshal(frame.Data, &trades); err != nil || len(trades) == 0 {
			return ""
		}
		return string(KindTrades) + ":" + strings.ToLower(trades[0].Coin)
	case string(KindL2Book):
		var book struct {
			Coin string `json:"coin"`
		}
		if err := json.Unmarshal(frame.Data, &book); err != nil || book.Coin == "" {
			return ""
		}
		return string(KindL2Book) + ":" + strings.ToLower(book.Coin)
	case string(KindCandle):
		var bar struct {
			Symbol   string `json:"s"`
			Interval string `json:"i"`
		}
		if err := json.Unmarshal(frame.Data, &bar); err != nil || bar.Symbol == "" {
			return ""
		}
		return string(KindCandle) + ":" + strings.ToLower(bar.Symbol) + "," + bar.Interval
	case string(KindUserFills), string(KindUserFundings), string(KindUserLedger), string(KindWebData):
		var scoped struct {
			User string `json:"user"`
		}
		if err := json.Unmarshal(frame.Data, &scoped); err != nil || scoped.User == "" {
			return ""
		}
		return frame.Channel + ":" + strings.ToLower(scoped.User)
	default:
		return ""
	}
}
