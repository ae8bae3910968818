package hyperliquid

import (
	"strings"

	"github.com/foggle/foggle/internal/observability"
)

// venueIntervals is the set of candle intervals the venue accepts.
var venueIntervals = map[string]struct{}{
	"1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {}, "1M": {},
}

// intervalAliases maps spelled-out bar sizes to venue interval tokens.
var intervalAliases = map[string]string{
	"1 min":    "1m",
	"3 mins":   "3m",
	"5 mins":   "5m",
	"15 mins":  "15m",
	"30 mins":  "30m",
	"1 hour":   "1h",
	"2 hours":  "2h",
	"4 hours":  "4h",
	"8 hours":  "8h",
	"12 hours": "12h",
	"1 day":    "1d",
	"3 days":   "3d",
	"1 week":   "1w",
	"1 month":  "1M",
}

// translateInterval maps a requested bar size onto a venue interval token.
// Unsupported inputs degrade to 1m with a warning instead of failing the
// subscription.
func translateInterval(requested string) string {
	trimmed := strings.TrimSpace(requested)
	if _, ok := venueIntervals[trimmed]; ok {
		return trimmed
	}
	if alias, ok := intervalAliases[strings.ToLower(trimmed)]; ok {
		return alias
	}
	observability.Log().Warn("unsupported candle interval, defaulting to 1m",
		observability.F("venue", VenueName),
		observability.F("requested", requested))
	return "1m"
}
