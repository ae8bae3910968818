// Package telemetry defines the metric instruments emitted by the ingestion
// pipeline and the shared attribute vocabulary.
package telemetry

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	envMu             sync.RWMutex
	globalEnvironment string
)

// SetEnvironment stores the environment name used in metric labels.
func SetEnvironment(env string) {
	envMu.Lock()
	globalEnvironment = strings.ToLower(strings.TrimSpace(env))
	envMu.Unlock()
}

// Environment returns the configured environment name, defaulting to
// "development".
func Environment() string {
	envMu.RLock()
	defer envMu.RUnlock()
	if globalEnvironment == "" {
		return "development"
	}
	return globalEnvironment
}

// Metrics is the instrument set for the ingestion pipeline.
type Metrics struct {
	tradesPersisted  metric.Int64Counter
	bookSnapshots    metric.Int64Counter
	candlesPersisted metric.Int64Counter
	newsPersisted    metric.Int64Counter
	newsSuppressed   metric.Int64Counter
	sinkFailures     metric.Int64Counter
	framesRouted     metric.Int64Counter
	decodeFailures   metric.Int64Counter
	reconnects       metric.Int64Counter
}

// NewMetrics registers the ingestion instruments on a meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.tradesPersisted, err = meter.Int64Counter("foggle_trades_persisted_total",
		metric.WithDescription("Trades written to storage"),
		metric.WithUnit("{trade}")); err != nil {
		return nil, err
	}
	if m.bookSnapshots, err = meter.Int64Counter("foggle_book_snapshots_persisted_total",
		metric.WithDescription("Order book snapshots written to storage"),
		metric.WithUnit("{snapshot}")); err != nil {
		return nil, err
	}
	if m.candlesPersisted, err = meter.Int64Counter("foggle_candles_persisted_total",
		metric.WithDescription("Closed candles written to storage"),
		metric.WithUnit("{candle}")); err != nil {
		return nil, err
	}
	if m.newsPersisted, err = meter.Int64Counter("foggle_news_items_persisted_total",
		metric.WithDescription("News items written to storage"),
		metric.WithUnit("{item}")); err != nil {
		return nil, err
	}
	if m.newsSuppressed, err = meter.Int64Counter("foggle_news_items_suppressed_total",
		metric.WithDescription("News items dropped as near-duplicates"),
		metric.WithUnit("{item}")); err != nil {
		return nil, err
	}
	if m.sinkFailures, err = meter.Int64Counter("foggle_sink_failures_total",
		metric.WithDescription("Persistence failures by stream"),
		metric.WithUnit("{failure}")); err != nil {
		return nil, err
	}
	if m.framesRouted, err = meter.Int64Counter("foggle_ws_frames_routed_total",
		metric.WithDescription("Inbound websocket frames delivered to a subscriber"),
		metric.WithUnit("{frame}")); err != nil {
		return nil, err
	}
	if m.decodeFailures, err = meter.Int64Counter("foggle_ws_decode_failures_total",
		metric.WithDescription("Inbound frames dropped as undecodable or unroutable"),
		metric.WithUnit("{frame}")); err != nil {
		return nil, err
	}
	if m.reconnects, err = meter.Int64Counter("foggle_ws_reconnects_total",
		metric.WithDescription("Websocket reconnect attempts"),
		metric.WithUnit("{reconnect}")); err != nil {
		return nil, err
	}
	return m, nil
}

// Default builds the instrument set on the globally registered meter
// provider; with no provider configured the instruments are noops.
func Default() *Metrics {
	m, err := NewMetrics(otel.Meter("foggle.ingest"))
	if err != nil {
		return &Metrics{}
	}
	return m
}

func baseAttributes(venue string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("environment", Environment()),
		attribute.String("venue", venue),
	}
}

// RecordTrades counts persisted trades for a venue.
func (m *Metrics) RecordTrades(ctx context.Context, venue string, count int) {
	if m == nil || m.tradesPersisted == nil {
		return
	}
	m.tradesPersisted.Add(ctx, int64(count), metric.WithAttributes(baseAttributes(venue)...))
}

// RecordBookSnapshot counts one persisted order book snapshot.
func (m *Metrics) RecordBookSnapshot(ctx context.Context, venue string) {
	if m == nil || m.bookSnapshots == nil {
		return
	}
	m.bookSnapshots.Add(ctx, 1, metric.WithAttributes(baseAttributes(venue)...))
}

// RecordCandles counts persisted closed candles.
func (m *Metrics) RecordCandles(ctx context.Context, venue string, count int) {
	if m == nil || m.candlesPersisted == nil {
		return
	}
	m.candlesPersisted.Add(ctx, int64(count), metric.WithAttributes(baseAttributes(venue)...))
}

// RecordNews counts one news item as persisted or suppressed.
func (m *Metrics) RecordNews(ctx context.Context, source string, written bool) {
	if m == nil {
		return
	}
	counter := m.newsPersisted
	if !written {
		counter = m.newsSuppressed
	}
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("environment", Environment()),
		attribute.String("source", source)))
}

// RecordFrameRouted counts one inbound frame handed to a subscriber.
func (m *Metrics) RecordFrameRouted(ctx context.Context, venue string) {
	if m == nil || m.framesRouted == nil {
		return
	}
	m.framesRouted.Add(ctx, 1, metric.WithAttributes(baseAttributes(venue)...))
}

// RecordDecodeFailure counts one dropped undecodable or unroutable frame.
func (m *Metrics) RecordDecodeFailure(ctx context.Context, venue string) {
	if m == nil || m.decodeFailures == nil {
		return
	}
	m.decodeFailures.Add(ctx, 1, metric.WithAttributes(baseAttributes(venue)...))
}

// RecordReconnect counts one reconnect attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, venue string) {
	if m == nil || m.reconnects == nil {
		return
	}
	m.reconnects.Add(ctx, 1, metric.WithAttributes(baseAttributes(venue)...))
}

// RecordSinkFailure counts one failed persistence delivery.
func (m *Metrics) RecordSinkFailure(ctx context.Context, stream string) {
	if m == nil || m.sinkFailures == nil {
		return
	}
	m.sinkFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("environment", Environment()),
		attribute.String("stream", stream)))
}
