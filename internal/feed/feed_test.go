package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
)

type captureSink struct {
	mu    sync.Mutex
	ticks []event.Market
}

func (c *captureSink) InjectMarket(m event.Market) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = append(c.ticks, m)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ticks)
}

func (c *captureSink) first() event.Market {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks[0]
}

func TestFeedSubscribesAndDeliversTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotSub subscribeFrame

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.ReadJSON(&gotSub))

		require.NoError(t, conn.WriteJSON(map[string]any{
			"symbol":     "BTC/USD",
			"last":       "105.5",
			"volume":     "1200",
			"bid":        "105.4",
			"ask":        "105.6",
			"indicators": map[string]float64{"EMA_9": 104.2},
		}))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	sink := &captureSink{}
	f := New(Config{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols: []string{"BTC/USD"},
		UserID:  7,
	}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	assert.Eventually(t, func() bool { return sink.count() == 1 },
		2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "subscribe", gotSub.Method)
	assert.Equal(t, "ticker", gotSub.Params.Channel)
	assert.Equal(t, []string{"BTC/USD"}, gotSub.Params.Symbols)

	m := sink.first()
	assert.Equal(t, "BTC/USD", m.Symbol)
	assert.Equal(t, int64(7), m.UserID)
	assert.Equal(t, "105.5", m.LastPrice.String())
	assert.Equal(t, "105.4", m.Bid.String())
	assert.Equal(t, 104.2, m.Indicators["EMA_9"])
}

func TestFeedSkipsHeartbeats(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub subscribeFrame
		require.NoError(t, conn.ReadJSON(&sub))

		// A frame without a symbol (subscription ack) must be ignored.
		require.NoError(t, conn.WriteJSON(map[string]any{"status": "subscribed"}))
		require.NoError(t, conn.WriteJSON(map[string]any{
			"symbol": "ETH/USD",
			"last":   "2000",
		}))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	sink := &captureSink{}
	f := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	assert.Eventually(t, func() bool { return sink.count() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ETH/USD", sink.first().Symbol)
}

func TestFeedStopsOnContextCancel(t *testing.T) {
	sink := &captureSink{}
	f := New(Config{URL: "ws://127.0.0.1:1"}, sink) // nothing listens here

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop on context cancel")
	}
}
