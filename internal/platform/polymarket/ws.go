package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsWriteWait is the time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// wsPongWait is the time allowed to read the next pong message.
	wsPongWait = 60 * time.Second

	// wsPingPeriod sends pings at this interval. Must be less than pongWait.
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsReconnectDelay is the base delay before attempting to reconnect.
	wsReconnectDelay = 2 * time.Second

	// wsMaxReconnectDelay caps the exponential backoff.
	wsMaxReconnectDelay = 60 * time.Second
)

// BookHandler is called for every full book snapshot received on the feed.
type BookHandler func(Book)

// WSClient is a WebSocket client for the Polymarket CLOB market channel. It
// pings the peer, reconnects with exponential backoff, and restores
// subscriptions after a reconnect.
type WSClient struct {
	wsURL   string
	handler BookHandler
	logger  *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	// Tracked asset subscriptions for reconnection.
	subscribedAssets []string

	// done is closed when the client shuts down.
	done chan struct{}
}

// NewWSClient creates a Polymarket WebSocket client that delivers every book
// snapshot to handler.
//
// wsURL is the market channel endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string, handler BookHandler, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:   wsURL,
		handler: handler,
		logger:  logger.With("component", "polymarket_ws"),
		done:    make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Previously tracked subscriptions are restored.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: client is closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	if len(w.subscribedAssets) > 0 {
		if err := w.sendSubscribe(w.subscribedAssets); err != nil {
			return fmt.Errorf("polymarket/ws: restore subscriptions: %w", err)
		}
		w.logger.Info("subscriptions restored", "assets", len(w.subscribedAssets))
	}

	return nil
}

// Subscribe subscribes to book updates for the given outcome token IDs.
func (w *WSClient) Subscribe(ctx context.Context, assetIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	if err := w.sendSubscribe(assetIDs); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}

	// Track subscriptions for reconnection.
	existing := make(map[string]struct{}, len(w.subscribedAssets))
	for _, a := range w.subscribedAssets {
		existing[a] = struct{}{}
	}
	for _, a := range assetIDs {
		if _, ok := existing[a]; !ok {
			w.subscribedAssets = append(w.subscribedAssets, a)
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

// sendSubscribe sends a market-channel subscription. Caller must hold w.mu.
func (w *WSClient) sendSubscribe(assetIDs []string) error {
	cmd := wsSubscribeCmd{
		Type:   "market",
		Assets: assetIDs,
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

// handleMessage parses a raw WebSocket frame and routes book snapshots to the
// handler. The market channel batches events into JSON arrays; single-object
// frames also occur.
func (w *WSClient) handleMessage(raw []byte) {
	var batch []wsBookMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		var single wsBookMessage
		if err := json.Unmarshal(raw, &single); err != nil {
			return
		}
		batch = []wsBookMessage{single}
	}

	for i := range batch {
		if batch[i].EventType != "book" || batch[i].AssetID == "" {
			continue
		}
		if w.handler != nil {
			w.handler(batch[i].toBook())
		}
	}
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
