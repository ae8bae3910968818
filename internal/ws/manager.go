package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/foggle/foggle/errs"
	"github.com/foggle/foggle/internal/observability"
	"github.com/foggle/foggle/internal/telemetry"
)

const (
	defaultKeepaliveInterval = 50 * time.Second
	// Venues throttle control frames; subscription sends are paced to stay
	// well under the documented per-connection limits.
	defaultControlInterval = 100 * time.Millisecond
	writeTimeout           = 5 * time.Second
	maxFrameBytes          = 1 << 22

	connectAck = "Websocket connection established."
)

// Callback receives every inbound frame routed to its topic identifier.
type Callback func(Frame)

type subscriberEntry struct {
	id int64
	cb Callback
}

type queuedSub struct {
	topic Topic
	entry subscriberEntry
}

// Manager multiplexes subscriptions over a single venue websocket connection.
// It reconnects on failure, replays subscriptions queued while disconnected
// and routes inbound frames to registered callbacks by topic identifier.
type Manager struct {
	venue     string
	url       string
	keepalive time.Duration
	control   *rate.Limiter
	metrics   *telemetry.Metrics

	mu      sync.Mutex
	ready   bool
	conn    *websocket.Conn
	nextID  int64
	active  map[string][]subscriberEntry
	topics  map[string]Topic
	queued  []queuedSub
	started bool

	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithKeepaliveInterval overrides the keepalive send interval.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.keepalive = d
		}
	}
}

// WithMetrics attaches the instrument set; nil leaves counting disabled.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithControlInterval overrides the minimum spacing between control frames.
func WithControlInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.control = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// NewManager creates a multiplexer for the given venue streaming endpoint.
func NewManager(venue, wsURL string, opts ...Option) *Manager {
	m := &Manager{
		venue:     venue,
		url:       wsURL,
		keepalive: defaultKeepaliveInterval,
		control:   rate.NewLimiter(rate.Every(defaultControlInterval), 1),
		active:    make(map[string][]subscriberEntry),
		topics:    make(map[string]Topic),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// EndpointFromREST derives the streaming endpoint from a venue REST base URL.
func EndpointFromREST(base string) string {
	return "ws" + strings.TrimPrefix(strings.TrimRight(base, "/"), "http") + "/ws"
}

// Start launches the connection and keepalive loops. It returns immediately;
// subscriptions issued before the first connect are queued and replayed.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errs.New(m.venue, errs.CodeInvalid, errs.WithMessage("manager already started"))
	}
	m.started = true
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(2)
	go m.run(runCtx)
	go m.keepaliveLoop(runCtx)
	return nil
}

// Stop cancels the connection and keepalive loops, closes the underlying
// connection and waits for both loops to drain before returning.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	m.wg.Wait()
}

// Ready reports whether the connection is established and serving.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Subscribe registers the callback for the topic and returns its subscription
// id. While disconnected the subscription is queued and replayed, in order,
// immediately after the next (re)connect. A second subscriber on an exclusive
// topic fails fast without altering the existing registration.
func (m *Manager) Subscribe(ctx context.Context, topic Topic, cb Callback) (int64, error) {
	if cb == nil {
		return 0, errs.New(m.venue, errs.CodeInvalid, errs.WithMessage("subscription callback required"))
	}
	identifier := topic.Identifier()
	m.mu.Lock()
	// The registry keeps its entries across a connection drop, so a second
	// exclusive subscriber is refused even while reconnecting.
	if topic.Exclusive() && len(m.active[identifier]) > 0 {
		m.mu.Unlock()
		return 0, errs.New(m.venue, errs.CodeExclusive,
			errs.WithMessage(fmt.Sprintf("cannot subscribe to %s multiple times", identifier)))
	}
	m.nextID++
	entry := subscriberEntry{id: m.nextID, cb: cb}

	if !m.ready {
		m.queued = append(m.queued, queuedSub{topic: topic, entry: entry})
		m.mu.Unlock()
		observability.Log().Debug("subscription queued",
			observability.F("venue", m.venue),
			observability.F("topic", topic.Identifier()))
		return entry.id, nil
	}
	m.active[identifier] = append(m.active[identifier], entry)
	m.topics[identifier] = topic
	conn := m.conn
	m.mu.Unlock()

	// The callback is registered before the wire send so the first inbound
	// frame cannot be lost.
	if err := m.sendControl(ctx, conn, controlMessage{Method: "subscribe", Subscription: &topic}); err != nil {
		return entry.id, fmt.Errorf("send subscribe %s: %w", identifier, err)
	}
	return entry.id, nil
}

// Unsubscribe removes the (callback, id) registration for the topic. Only
// when the topic's subscriber set becomes empty is an unsubscribe frame sent
// to the venue. It reports whether a registration was removed.
func (m *Manager) Unsubscribe(ctx context.Context, topic Topic, subscriptionID int64) (bool, error) {
	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		return false, errs.New(m.venue, errs.CodeUnavailable,
			errs.WithMessage("cannot unsubscribe before websocket connected"))
	}
	identifier := topic.Identifier()
	subs := m.active[identifier]
	remaining := subs[:0:0]
	for _, s := range subs {
		if s.id != subscriptionID {
			remaining = append(remaining, s)
		}
	}
	removed := len(remaining) != len(subs)
	drained := removed && len(remaining) == 0
	if drained {
		delete(m.active, identifier)
		delete(m.topics, identifier)
	} else if removed {
		m.active[identifier] = remaining
	}
	conn := m.conn
	m.mu.Unlock()

	if drained {
		if err := m.sendControl(ctx, conn, controlMessage{Method: "unsubscribe", Subscription: &topic}); err != nil {
			return removed, fmt.Errorf("send unsubscribe %s: %w", identifier, err)
		}
	}
	return removed, nil
}

type controlMessage struct {
	Method       string `json:"method"`
	Subscription *Topic `json:"subscription,omitempty"`
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	bo := backoff.NewExponentialBackOff()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.Dial(ctx, m.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			observability.Log().Error("websocket dial failed",
				observability.F("venue", m.venue),
				observability.F("error", err))
			m.metrics.RecordReconnect(ctx, m.venue)
			if !sleepOrDone(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}
		conn.SetReadLimit(maxFrameBytes)

		m.mu.Lock()
		m.conn = conn
		m.ready = true
		queued := m.queued
		m.queued = nil
		m.mu.Unlock()
		bo.Reset()
		observability.Log().Info("websocket connected", observability.F("venue", m.venue))

		flushed := m.flushQueued(ctx, conn, queued)
		m.resubscribeActive(ctx, conn, flushed)

		m.readLoop(ctx, conn)

		m.mu.Lock()
		m.ready = false
		m.conn = nil
		m.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil {
			return
		}
		observability.Log().Warn("websocket disconnected, reconnecting",
			observability.F("venue", m.venue))
		m.metrics.RecordReconnect(ctx, m.venue)
		if !sleepOrDone(ctx, bo.NextBackOff()) {
			return
		}
	}
}

// flushQueued replays subscriptions queued while disconnected, in arrival
// order, before any inbound frame is read. Returns the set of identifiers
// subscribed on the wire.
func (m *Manager) flushQueued(ctx context.Context, conn *websocket.Conn, queued []queuedSub) map[string]struct{} {
	flushed := make(map[string]struct{}, len(queued))
	for _, q := range queued {
		identifier := q.topic.Identifier()

		m.mu.Lock()
		if q.topic.Exclusive() && len(m.active[identifier]) > 0 {
			m.mu.Unlock()
			observability.Log().Error("dropping queued duplicate of exclusive topic",
				observability.F("venue", m.venue),
				observability.F("topic", identifier))
			continue
		}
		m.active[identifier] = append(m.active[identifier], q.entry)
		m.topics[identifier] = q.topic
		m.mu.Unlock()

		if _, sent := flushed[identifier]; sent {
			continue
		}
		topic := q.topic
		if err := m.sendControl(ctx, conn, controlMessage{Method: "subscribe", Subscription: &topic}); err != nil {
			observability.Log().Error("queued subscription replay failed",
				observability.F("venue", m.venue),
				observability.F("topic", identifier),
				observability.F("error", err))
			continue
		}
		flushed[identifier] = struct{}{}
	}
	return flushed
}

// resubscribeActive restores streams that were live before a reconnect.
func (m *Manager) resubscribeActive(ctx context.Context, conn *websocket.Conn, flushed map[string]struct{}) {
	m.mu.Lock()
	pending := make([]Topic, 0, len(m.topics))
	for identifier, topic := range m.topics {
		if _, sent := flushed[identifier]; sent {
			continue
		}
		pending = append(pending, topic)
	}
	m.mu.Unlock()

	for i := range pending {
		topic := pending[i]
		if err := m.sendControl(ctx, conn, controlMessage{Method: "subscribe", Subscription: &topic}); err != nil {
			observability.Log().Error("resubscribe after reconnect failed",
				observability.F("venue", m.venue),
				observability.F("topic", topic.Identifier()),
				observability.F("error", err))
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && ctx.Err() == nil {
				observability.Log().Warn("websocket read failed",
					observability.F("venue", m.venue),
					observability.F("error", err))
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		m.dispatch(data)
	}
}

// dispatch decodes and routes one inbound frame. Decode failures, unknown
// identifiers and callback panics are isolated; only I/O failures in the
// read loop tear the connection down.
func (m *Manager) dispatch(data []byte) {
	if string(data) == connectAck {
		observability.Log().Debug("websocket connect acknowledgement", observability.F("venue", m.venue))
		return
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		observability.Log().Warn("dropping undecodable frame",
			observability.F("venue", m.venue),
			observability.F("error", err))
		m.metrics.RecordDecodeFailure(context.Background(), m.venue)
		return
	}

	identifier := frameIdentifier(frame)
	if identifier == pongIdentifier {
		observability.Log().Debug("websocket received pong", observability.F("venue", m.venue))
		return
	}
	if identifier == "" {
		observability.Log().Debug("websocket not handling empty message",
			observability.F("venue", m.venue),
			observability.F("channel", frame.Channel))
		m.metrics.RecordDecodeFailure(context.Background(), m.venue)
		return
	}

	m.mu.Lock()
	subs := append([]subscriberEntry(nil), m.active[identifier]...)
	m.mu.Unlock()

	if len(subs) == 0 {
		observability.Log().Warn("frame from an unexpected subscription",
			observability.F("venue", m.venue),
			observability.F("identifier", identifier))
		return
	}
	m.metrics.RecordFrameRouted(context.Background(), m.venue)
	for _, sub := range subs {
		m.invoke(identifier, sub, frame)
	}
}

func (m *Manager) invoke(identifier string, sub subscriberEntry, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			observability.Log().Error("subscriber callback panicked",
				observability.F("venue", m.venue),
				observability.F("identifier", identifier),
				observability.F("subscription_id", sub.id),
				observability.F("panic", r))
		}
	}()
	sub.cb(frame)
}

func (m *Manager) keepaliveLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.keepalive)
	defer ticker.Stop()

	ping, _ := json.Marshal(controlMessage{Method: "ping"})
	for {
		select {
		case <-ctx.Done():
			observability.Log().Debug("keepalive loop stopped", observability.F("venue", m.venue))
			return
		case <-ticker.C:
			m.mu.Lock()
			conn := m.conn
			ready := m.ready
			m.mu.Unlock()
			if !ready || conn == nil {
				continue
			}
			// Keepalive failures are logged only; the read loop owns
			// connection teardown.
			if err := m.write(ctx, conn, ping); err != nil {
				observability.Log().Error("keepalive send failed",
					observability.F("venue", m.venue),
					observability.F("error", err))
			}
		}
	}
}

func (m *Manager) sendControl(ctx context.Context, conn *websocket.Conn, msg controlMessage) error {
	if conn == nil {
		return errs.New(m.venue, errs.CodeUnavailable, errs.WithMessage("websocket not connected"))
	}
	if err := m.control.Wait(ctx); err != nil {
		return fmt.Errorf("pace control frame: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal control frame: %w", err)
	}
	return m.write(ctx, conn, data)
}

func (m *Manager) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return errs.New(m.venue, errs.CodeNetwork, errs.WithMessage("websocket write failed"), errs.WithCause(err))
	}
	return nil
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
