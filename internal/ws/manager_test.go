package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/foggle/foggle/errs"
)

type serverConn struct {
	conn *websocket.Conn
	ctx  context.Context
}

// fakeVenue upgrades inbound connections and records every control frame the
// client sends, in arrival order.
type fakeVenue struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	controls []controlMessage
	conns    chan serverConn
}

func newFakeVenue(t *testing.T) *fakeVenue {
	t.Helper()
	fv := &fakeVenue{t: t, conns: make(chan serverConn, 4)}
	fv.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		fv.conns <- serverConn{conn: conn, ctx: ctx}
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Method == "ping" {
				continue
			}
			fv.mu.Lock()
			fv.controls = append(fv.controls, msg)
			fv.mu.Unlock()
		}
	}))
	t.Cleanup(fv.srv.Close)
	return fv
}

func (fv *fakeVenue) url() string {
	return strings.Replace(fv.srv.URL, "http", "ws", 1)
}

func (fv *fakeVenue) waitConn(t *testing.T) serverConn {
	t.Helper()
	select {
	case sc := <-fv.conns:
		return sc
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for websocket connection")
		return serverConn{}
	}
}

func (fv *fakeVenue) waitControls(t *testing.T, n int) []controlMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		fv.mu.Lock()
		if len(fv.controls) >= n {
			out := append([]controlMessage(nil), fv.controls...)
			fv.mu.Unlock()
			return out
		}
		fv.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	fv.mu.Lock()
	defer fv.mu.Unlock()
	t.Fatalf("timed out waiting for %d control frames, got %d", n, len(fv.controls))
	return nil
}

func (fv *fakeVenue) push(t *testing.T, sc serverConn, frame any) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := sc.conn.Write(sc.ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("push frame: %v", err)
	}
}

func waitReady(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.Ready() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("manager never became ready")
}

func waitNotReady(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !m.Ready() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("manager never observed the disconnect")
}

func TestQueuedSubscriptionsReplayInOrder(t *testing.T) {
	fv := newFakeVenue(t)
	m := NewManager("test", fv.url(), WithControlInterval(time.Millisecond))

	var order []int64
	for _, coin := range []string{"ETH", "BTC", "SOL"} {
		id, err := m.Subscribe(context.Background(), Topic{Kind: KindTrades, Coin: coin}, func(Frame) {})
		if err != nil {
			t.Fatalf("Subscribe(%s) error = %v", coin, err)
		}
		order = append(order, id)
	}
	if order[0] >= order[1] || order[1] >= order[2] {
		t.Fatalf("queued subscription ids not monotonically allocated: %v", order)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()
	fv.waitConn(t)

	controls := fv.waitControls(t, 3)
	wantCoins := []string{"ETH", "BTC", "SOL"}
	for i, ctl := range controls[:3] {
		if ctl.Method != "subscribe" {
			t.Fatalf("control %d method = %q, want subscribe", i, ctl.Method)
		}
		if ctl.Subscription == nil || ctl.Subscription.Coin != wantCoins[i] {
			t.Fatalf("control %d subscription = %+v, want coin %s", i, ctl.Subscription, wantCoins[i])
		}
	}
}

func TestInboundFramesRouteToSubscribers(t *testing.T) {
	fv := newFakeVenue(t)
	m := NewManager("test", fv.url(), WithControlInterval(time.Millisecond))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()
	sc := fv.waitConn(t)
	waitReady(t, m)

	frames := make(chan Frame, 4)
	if _, err := m.Subscribe(context.Background(), Topic{Kind: KindTrades, Coin: "ETH"}, func(f Frame) {
		frames <- f
	}); err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	fv.waitControls(t, 1)

	// An undecodable frame and an unroutable frame must both be isolated.
	if err := sc.conn.Write(sc.ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	fv.push(t, sc, map[string]any{"channel": "mystery", "data": map[string]any{}})
	fv.push(t, sc, map[string]any{
		"channel": "trades",
		"data":    []map[string]any{{"coin": "ETH", "px": "3000", "sz": "1.5"}},
	})

	select {
	case f := <-frames:
		if f.Channel != "trades" {
			t.Fatalf("routed frame channel = %q", f.Channel)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("trade frame never reached subscriber")
	}
}

func TestExclusiveTopicRejectsSecondSubscriber(t *testing.T) {
	fv := newFakeVenue(t)
	m := NewManager("test", fv.url(), WithControlInterval(time.Millisecond))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()
	sc := fv.waitConn(t)
	waitReady(t, m)

	got := make(chan Frame, 2)
	if _, err := m.Subscribe(context.Background(), Topic{Kind: KindUserEvents}, func(f Frame) {
		got <- f
	}); err != nil {
		t.Fatalf("first Subscribe error = %v", err)
	}

	_, err := m.Subscribe(context.Background(), Topic{Kind: KindUserEvents}, func(Frame) {})
	if !errs.HasCode(err, errs.CodeExclusive) {
		t.Fatalf("second Subscribe error = %v, want exclusive_subscription", err)
	}

	// The original registration must be intact.
	fv.push(t, sc, map[string]any{"channel": "user", "data": map[string]any{"fills": []any{}}})
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatalf("existing exclusive subscriber stopped receiving after rejected subscribe")
	}
}

func TestExclusiveTopicRejectedWhileReconnecting(t *testing.T) {
	fv := newFakeVenue(t)
	m := NewManager("test", fv.url(), WithControlInterval(time.Millisecond))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()
	fv.waitConn(t)
	waitReady(t, m)

	if _, err := m.Subscribe(context.Background(), Topic{Kind: KindUserEvents}, func(Frame) {}); err != nil {
		t.Fatalf("first Subscribe error = %v", err)
	}
	fv.waitControls(t, 1)

	// Kill the venue so the manager stays in its reconnect window.
	fv.srv.CloseClientConnections()
	fv.srv.Close()
	waitNotReady(t, m)

	_, err := m.Subscribe(context.Background(), Topic{Kind: KindUserEvents}, func(Frame) {})
	if !errs.HasCode(err, errs.CodeExclusive) {
		t.Fatalf("Subscribe while reconnecting error = %v, want exclusive_subscription", err)
	}

	m.mu.Lock()
	queued := len(m.queued)
	active := len(m.active[Topic{Kind: KindUserEvents}.Identifier()])
	m.mu.Unlock()
	if queued != 0 {
		t.Fatalf("rejected exclusive subscription was queued anyway, queue=%d", queued)
	}
	if active != 1 {
		t.Fatalf("existing registration altered, active=%d", active)
	}
}

func TestUnsubscribeSendsFrameOnlyWhenLastSubscriberLeaves(t *testing.T) {
	fv := newFakeVenue(t)
	m := NewManager("test", fv.url(), WithControlInterval(time.Millisecond))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()
	fv.waitConn(t)
	waitReady(t, m)

	topic := Topic{Kind: KindTrades, Coin: "ETH"}
	id1, err := m.Subscribe(context.Background(), topic, func(Frame) {})
	if err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	id2, err := m.Subscribe(context.Background(), topic, func(Frame) {})
	if err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	fv.waitControls(t, 2)

	removed, err := m.Unsubscribe(context.Background(), topic, id1)
	if err != nil || !removed {
		t.Fatalf("Unsubscribe(id1) = (%v, %v), want removal without error", removed, err)
	}
	time.Sleep(50 * time.Millisecond)
	if ctls := fv.waitControls(t, 2); len(ctls) != 2 {
		t.Fatalf("unexpected unsubscribe frame while subscribers remain: %v", ctls)
	}

	removed, err = m.Unsubscribe(context.Background(), topic, id2)
	if err != nil || !removed {
		t.Fatalf("Unsubscribe(id2) = (%v, %v), want removal without error", removed, err)
	}
	controls := fv.waitControls(t, 3)
	last := controls[len(controls)-1]
	if last.Method != "unsubscribe" || last.Subscription == nil || last.Subscription.Coin != "ETH" {
		t.Fatalf("final control = %+v, want unsubscribe for ETH", last)
	}
}

func TestResubscribeAfterReconnect(t *testing.T) {
	fv := newFakeVenue(t)
	m := NewManager("test", fv.url(), WithControlInterval(time.Millisecond))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()
	sc := fv.waitConn(t)
	waitReady(t, m)

	if _, err := m.Subscribe(context.Background(), Topic{Kind: KindL2Book, Coin: "ETH"}, func(Frame) {}); err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	fv.waitControls(t, 1)

	_ = sc.conn.Close(websocket.StatusGoingAway, "venue restart")
	fv.waitConn(t)

	controls := fv.waitControls(t, 2)
	last := controls[len(controls)-1]
	if last.Method != "subscribe" || last.Subscription == nil || last.Subscription.Kind != KindL2Book {
		t.Fatalf("expected l2Book resubscribe after reconnect, got %+v", last)
	}
}

func TestStopDrainsLoops(t *testing.T) {
	fv := newFakeVenue(t)
	m := NewManager("test", fv.url(), WithKeepaliveInterval(20*time.Millisecond))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fv.waitConn(t)
	waitReady(t, m)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Stop did not drain connection and keepalive loops")
	}
}
