package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsWriteWait is the time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// wsPongWait is the time allowed to read the next pong message.
	wsPongWait = 30 * time.Second

	// wsPingPeriod sends pings at this interval. Must be less than pongWait.
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsReconnectDelay is the base delay before attempting to reconnect.
	wsReconnectDelay = 2 * time.Second

	// wsMaxReconnectDelay caps the exponential backoff.
	wsMaxReconnectDelay = 60 * time.Second
)

// OrderbookHandler is called for every orderbook update received on the feed.
type OrderbookHandler func(Orderbook)

// WSClient is a WebSocket client for real-time Kalshi market data. It pings
// the peer, reconnects with exponential backoff, and restores subscriptions
// after a reconnect.
type WSClient struct {
	wsURL   string
	handler OrderbookHandler
	logger  *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	// Per-ticker ladder state. Snapshots replace it, deltas merge into it,
	// and the handler only ever sees the merged book.
	bookMu sync.Mutex
	books  map[string]*bookState

	// Tracked subscriptions for reconnection.
	subscribedTickers []string
	cmdID             int64

	// done is closed when the client shuts down.
	done chan struct{}
}

// NewWSClient creates a Kalshi WebSocket client that delivers every
// orderbook update to handler.
//
// wsURL is the WebSocket endpoint, e.g. "wss://api.elections.kalshi.com/trade-api/ws/v2".
func NewWSClient(wsURL string, handler OrderbookHandler, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:   wsURL,
		handler: handler,
		logger:  logger.With("component", "kalshi_ws"),
		books:   make(map[string]*bookState),
		done:    make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Previously tracked subscriptions are restored.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("kalshi/ws: client is closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("kalshi/ws: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	if len(w.subscribedTickers) > 0 {
		if err := w.sendSubscribe(w.subscribedTickers); err != nil {
			return fmt.Errorf("kalshi/ws: restore subscriptions: %w", err)
		}
		w.logger.Info("subscriptions restored", "tickers", len(w.subscribedTickers))
	}

	return nil
}

// Subscribe subscribes to orderbook updates for the given market tickers.
func (w *WSClient) Subscribe(ctx context.Context, tickers []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("kalshi/ws: not connected")
	}

	if err := w.sendSubscribe(tickers); err != nil {
		return fmt.Errorf("kalshi/ws: subscribe: %w", err)
	}

	// Track subscriptions for reconnection.
	existing := make(map[string]struct{}, len(w.subscribedTickers))
	for _, t := range w.subscribedTickers {
		existing[t] = struct{}{}
	}
	for _, t := range tickers {
		if _, ok := existing[t]; !ok {
			w.subscribedTickers = append(w.subscribedTickers, t)
		}
	}

	return nil
}

// Close shuts down the WebSocket connection.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendSubscribe sends a subscribe command. Caller must hold w.mu.
func (w *WSClient) sendSubscribe(tickers []string) error {
	w.cmdID++

	cmd := wsSubscribeCmd{
		ID:  w.cmdID,
		Cmd: "subscribe",
		Params: wsSubscribeParams{
			Channels: []string{"orderbook_delta"},
			Tickers:  tickers,
		},
	}

	w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages from conn and dispatches them until the connection
// drops, then hands off to reconnect.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.logger.Warn("read failed, reconnecting", "error", err)
			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop keeps the connection alive. It exits when a write fails; the read
// loop will notice the dead connection and reconnect.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket message and routes orderbook updates
// to the handler.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope wsMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.Type {
	case "orderbook_snapshot":
		var ob wsOrderbook
		if err := json.Unmarshal(envelope.Msg, &ob); err != nil {
			w.logger.Warn("malformed orderbook snapshot", "error", err)
			return
		}
		w.applySnapshot(ob)
		if w.handler != nil {
			w.handler(ob.toOrderbook())
		}
	case "orderbook_delta":
		var d wsDelta
		if err := json.Unmarshal(envelope.Msg, &d); err != nil {
			w.logger.Warn("malformed orderbook delta", "error", err)
			return
		}
		ob, ok := w.applyDelta(d)
		if !ok {
			// No snapshot for this ticker yet; one arrives at subscribe
			// time, so an early delta is safe to skip.
			return
		}
		if w.handler != nil {
			w.handler(ob.toOrderbook())
		}
	}
}

// bookState holds the resting quantity per price level for both outcomes of
// one market.
type bookState struct {
	yes map[int64]int64
	no  map[int64]int64
}

// applySnapshot replaces the cached ladders for the ticker.
func (w *WSClient) applySnapshot(ob wsOrderbook) {
	st := &bookState{
		yes: make(map[int64]int64, len(ob.Yes)),
		no:  make(map[int64]int64, len(ob.No)),
	}
	for _, l := range ob.Yes {
		if l.Quantity > 0 {
			st.yes[l.Price] = l.Quantity
		}
	}
	for _, l := range ob.No {
		if l.Quantity > 0 {
			st.no[l.Price] = l.Quantity
		}
	}

	w.bookMu.Lock()
	w.books[ob.Ticker] = st
	w.bookMu.Unlock()
}

// applyDelta merges one level change into the cached ladder and returns the
// merged book. Reports false when no snapshot has been seen for the ticker
// or the side is unrecognized.
func (w *WSClient) applyDelta(d wsDelta) (wsOrderbook, bool) {
	w.bookMu.Lock()
	defer w.bookMu.Unlock()

	st, ok := w.books[d.Ticker]
	if !ok {
		return wsOrderbook{}, false
	}

	var side map[int64]int64
	switch d.Side {
	case "yes":
		side = st.yes
	case "no":
		side = st.no
	default:
		w.logger.Warn("orderbook delta with unknown side", "side", d.Side)
		return wsOrderbook{}, false
	}

	if q := side[d.Price] + d.Delta; q > 0 {
		side[d.Price] = q
	} else {
		delete(side, d.Price)
	}

	return wsOrderbook{
		Ticker: d.Ticker,
		Yes:    ladderLevels(st.yes),
		No:     ladderLevels(st.no),
	}, true
}

func ladderLevels(side map[int64]int64) []PriceLevel {
	out := make([]PriceLevel, 0, len(side))
	for price, qty := range side {
		out = append(out, PriceLevel{Price: price, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// reconnect re-establishes the connection with exponential backoff.
func (w *WSClient) reconnect() {
	delay := wsReconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			w.logger.Info("reconnected")
			return
		}
		w.logger.Warn("reconnect failed", "error", err, "next_delay", delay.String())

		delay *= 2
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
	}
}
