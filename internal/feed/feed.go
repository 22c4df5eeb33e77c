// Package feed streams market ticks from an external websocket source
// into the pipeline.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
)

// Sink receives the ticks the feed decodes. The orchestrator satisfies
// this.
type Sink interface {
	InjectMarket(m event.Market)
}

// Config selects the upstream and the symbols to subscribe.
type Config struct {
	URL     string
	Symbols []string
	// UserID is stamped on every injected tick.
	UserID int64
}

// Feed maintains one websocket connection with reconnect backoff.
type Feed struct {
	cfg  Config
	sink Sink
}

// New creates a feed writing into sink.
func New(cfg Config, sink Sink) *Feed {
	return &Feed{cfg: cfg, sink: sink}
}

// subscribeFrame is the upstream subscription request.
type subscribeFrame struct {
	Method string `json:"method"`
	Params struct {
		Channel string   `json:"channel"`
		Symbols []string `json:"symbols"`
	} `json:"params"`
}

// tickMsg is one upstream ticker message.
type tickMsg struct {
	Symbol     string             `json:"symbol"`
	Last       decimal.Decimal    `json:"last"`
	Volume     decimal.Decimal    `json:"volume"`
	Bid        decimal.Decimal    `json:"bid"`
	Ask        decimal.Decimal    `json:"ask"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Run connects and pumps ticks until the context is cancelled. Each
// connection failure backs off, doubling from 1s up to 30s, resetting
// after a healthy session.
func (f *Feed) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		err := f.session(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).
			Str("url", f.cfg.URL).
			Dur("backoff", backoff).
			Msg("feed disconnected, reconnecting")

		if time.Since(start) > time.Minute {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// session runs one connection to completion.
func (f *Feed) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()

	// Unblock the read loop when the context dies.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sub := subscribeFrame{Method: "subscribe"}
	sub.Params.Channel = "ticker"
	sub.Params.Symbols = f.cfg.Symbols
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	log.Info().Str("url", f.cfg.URL).Strs("symbols", f.cfg.Symbols).Msg("feed connected")

	for {
		var msg tickMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		if msg.Symbol == "" {
			continue // subscription ack or heartbeat
		}
		f.sink.InjectMarket(event.Market{
			Base:       event.NewBase(event.TypeMarket, f.cfg.UserID, "", msg.Symbol),
			LastPrice:  msg.Last,
			Volume:     msg.Volume,
			Bid:        msg.Bid,
			Ask:        msg.Ask,
			Indicators: msg.Indicators,
		})
	}
}
