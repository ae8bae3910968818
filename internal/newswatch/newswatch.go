// Package newswatch periodically collects news items from pluggable
// scrapers and hands them to the persistence layer, which deduplicates.
package newswatch

import (
	"context"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/foggle/foggle/config"
	"github.com/foggle/foggle/internal/observability"
	"github.com/foggle/foggle/internal/schema"
	"github.com/foggle/foggle/internal/telemetry"
)

// Scraper produces news items for a named source. Fetch receives the topics
// configured for that source; an empty slice means scrape everything the
// source offers.
type Scraper interface {
	Source() string
	Fetch(ctx context.Context, topics []string) ([]schema.NewsItem, error)
}

// ItemWriter is the storage surface items are written to.
type ItemWriter interface {
	UpsertItem(ctx context.Context, item schema.NewsItem) (bool, error)
}

const (
	defaultInterval = time.Hour
	maxConcurrent   = 4
)

// Watcher drives the scrape loop.
type Watcher struct {
	store    ItemWriter
	metrics  *telemetry.Metrics
	interval time.Duration
	topics   map[string][]string
	scrapers []Scraper
}

// New builds a watcher over the given scrapers. Metrics may be nil.
func New(store ItemWriter, metrics *telemetry.Metrics, settings config.NewsSettings, scrapers ...Scraper) *Watcher {
	interval := settings.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Watcher{
		store:    store,
		metrics:  metrics,
		interval: interval,
		topics:   settings.Topics,
		scrapers: scrapers,
	}
}

// Run scrapes immediately and then on every interval tick until the context
// is cancelled. It always returns the context's error.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.scrapers) == 0 {
		observability.Log().Info("newswatch disabled, no scrapers registered")
		<-ctx.Done()
		return ctx.Err()
	}

	w.scrapeOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.scrapeOnce(ctx)
		}
	}
}

func (w *Watcher) scrapeOnce(ctx context.Context) {
	p := pool.New().WithMaxGoroutines(maxConcurrent)
	for _, scraper := range w.scrapers {
		scraper := scraper
		p.Go(func() {
			w.collect(ctx, scraper)
		})
	}
	p.Wait()
}

func (w *Watcher) collect(ctx context.Context, scraper Scraper) {
	source := scraper.Source()
	items, err := scraper.Fetch(ctx, w.topics[source])
	if err != nil {
		observability.Log().Warn("news scrape failed",
			observability.F("source", source),
			observability.F("error", err.Error()))
		return
	}

	var written, suppressed int
	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		if strings.TrimSpace(item.Source) == "" {
			item.Source = source
		}
		stored, err := w.store.UpsertItem(ctx, item)
		if err != nil {
			observability.Log().Warn("news item write failed",
				observability.F("source", source),
				observability.F("title", item.Title),
				observability.F("error", err.Error()))
			continue
		}
		w.metrics.RecordNews(ctx, source, stored)
		if stored {
			written++
		} else {
			suppressed++
		}
	}
	observability.Log().Debug("news scrape complete",
		observability.F("source", source),
		observability.F("written", written),
		observability.F("suppressed", suppressed))
}
