package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer: на каждое подключение вызывает session, потом рвёт соединение.
func wsServer(t *testing.T, session func(conn *websocket.Conn)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if session != nil {
			session(conn)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

type retryLog struct {
	mu      sync.Mutex
	retries []int
}

func (l *retryLog) wait(d time.Duration) func(int) time.Duration {
	return func(retry int) time.Duration {
		l.mu.Lock()
		l.retries = append(l.retries, retry)
		l.mu.Unlock()
		return d
	}
}

func (l *retryLog) get() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.retries...)
}

func testClient(srv *httptest.Server, log *retryLog) *BybitClient {
	c := NewBybitClient(Config{})
	c.wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	c.wsBackoff = log.wait(50 * time.Millisecond)
	return c
}

func TestStreamTickersBacksOffWhenSessionDrops(t *testing.T) {
	srv, conns := wsServer(t, nil)
	log := &retryLog{}
	c := testClient(srv, log)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	for tick := range c.StreamTickers(ctx, "BTCUSDT") {
		t.Fatalf("unexpected tick %+v", tick)
	}

	if n := conns.Load(); n < 2 || n > 10 {
		t.Fatalf("connections = %d, want a paced reconnect loop", n)
	}
	for i, r := range log.get() {
		if r != i+1 {
			t.Fatalf("retry counter reset without ticks: %v", log.get())
		}
	}
}

func TestStreamTickersResetsBackoffAfterTick(t *testing.T) {
	srv, _ := wsServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil { // subscribe
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"100000.5"},"ts":1700000000000}`))
	})
	log := &retryLog{}
	c := testClient(srv, log)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	var ticks int
	for tick := range c.StreamTickers(ctx, "BTCUSDT") {
		if tick.Price != 100000.5 || tick.Symbol != "BTCUSDT" || tick.At.UnixMilli() != 1700000000000 {
			t.Fatalf("tick = %+v", tick)
		}
		ticks++
	}

	if ticks < 2 {
		t.Fatalf("ticks = %d, want reconnects to keep streaming", ticks)
	}
	for _, r := range log.get() {
		if r != 1 {
			t.Fatalf("retry counter not reset after tick: %v", log.get())
		}
	}
}
