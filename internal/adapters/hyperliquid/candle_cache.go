package hyperliquid

import (
	"sync"

	"github.com/foggle/foggle/internal/schema"
)

// candleWindowSize bounds the per-stream merge cache: the previous closed
// bar plus the currently forming one.
const candleWindowSize = 2

// candleCache merges in-place candle revisions per stream. The venue resends
// the forming bar on every update; a bar with a known open time replaces the
// cached copy, a newer open time rolls the window forward.
type candleCache struct {
	mu      sync.Mutex
	windows map[string][]schema.Candle
}

func newCandleCache() *candleCache {
	return &candleCache{windows: make(map[string][]schema.Candle)}
}

// update merges bar into the stream's window and returns a copy of the
// window with the freshest bar last.
func (c *candleCache) update(stream string, bar schema.Candle) schema.CandleWindow {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.windows[stream]
	replaced := false
	for idx := range window {
		if window[idx].Timestamp.Equal(bar.Timestamp) {
			window[idx] = bar
			replaced = true
			break
		}
	}
	if !replaced {
		window = append(window, bar)
		if len(window) > candleWindowSize {
			window = window[len(window)-candleWindowSize:]
		}
	}
	c.windows[stream] = window

	out := make(schema.CandleWindow, len(window))
	copy(out, window)
	return out
}

// drop discards the cached window for a stream.
func (c *candleCache) drop(stream string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.windows, stream)
}
