// ws.go implements a single WebSocket connection to the exchange's market
// data channel. It is deliberately a thin per-connection primitive: the
// connection pool (internal/connpool) owns the sharding, redundancy,
// staggered lifetimes, and deduplication built on top of many of these.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"arbengine/pkg/types"
)

const (
	PingInterval    = 50 * time.Second
	ReadTimeout     = 90 * time.Second
	WriteTimeout    = 10 * time.Second
	eventBufferSize = 256
)

// EventKind discriminates the messages a Conn emits.
type EventKind int

const (
	EventBookUpdate EventKind = iota
	EventSubscribed
	EventUnsubscribed
	EventDisconnected
	EventError
)

// RawEvent is the wire-level message a Conn hands to its owner (a
// connpool shard). BookUpdate fields are populated only for EventBookUpdate.
type RawEvent struct {
	Kind      EventKind
	TokenId   types.TokenId
	Bids      []types.PriceLevel
	Asks      []types.PriceLevel
	Sequence  string
	Timestamp time.Time
	Reason    string
}

// wireBookMessage mirrors the exchange's book/price_change payload shape.
type wireBookMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Sequence  string `json:"sequence"`
	Bids      []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
}

// Conn is one long-lived WebSocket connection carrying book updates for a
// set of subscribed token ids. It auto-reconnects with exponential backoff
// until its context is cancelled or Close is called.
type Conn struct {
	url    string
	logger *slog.Logger

	conn *websocket.Conn

	subscribed map[string]bool

	events chan RawEvent
	cancel context.CancelFunc
	ctx    context.Context
}

// NewConn creates an unconnected Conn. Call Run to start it.
func NewConn(url string, logger *slog.Logger) *Conn {
	return &Conn{
		url:        url,
		logger:     logger.With("component", "exchange_conn"),
		subscribed: make(map[string]bool),
		events:     make(chan RawEvent, eventBufferSize),
	}
}

// Events returns the channel of messages this connection has produced.
func (c *Conn) Events() <-chan RawEvent { return c.events }

// Run connects and maintains the connection with exponential backoff,
// blocking until ctx is cancelled.
func (c *Conn) Run(ctx context.Context, tokens []types.TokenId) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.ctx = ctx

	for _, t := range tokens {
		c.subscribed[string(t)] = true
	}

	backoff := time.Second
	for {
		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.emit(RawEvent{Kind: EventDisconnected, Reason: err.Error(), Timestamp: time.Now()})
		c.logger.Warn("connection dropped, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

// Subscribe adds token ids to this connection's subscription set.
func (c *Conn) Subscribe(ids []types.TokenId) error {
	for _, id := range ids {
		c.subscribed[string(id)] = true
	}
	return c.writeSubscribe(ids, "subscribe")
}

// Unsubscribe removes token ids.
func (c *Conn) Unsubscribe(ids []types.TokenId) error {
	for _, id := range ids {
		delete(c.subscribed, string(id))
	}
	return c.writeSubscribe(ids, "unsubscribe")
}

// Close tears down the connection and stops its Run loop.
func (c *Conn) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Conn) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.conn = conn
	defer func() {
		conn.Close()
		c.conn = nil
	}()

	ids := make([]types.TokenId, 0, len(c.subscribed))
	for id := range c.subscribed {
		ids = append(ids, types.TokenId(id))
	}
	if err := c.writeSubscribe(ids, "subscribe"); err != nil {
		return fmt.Errorf("initial subscribe: %w", err)
	}
	for _, id := range ids {
		c.emit(RawEvent{Kind: EventSubscribed, TokenId: id, Timestamp: time.Now()})
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go c.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(data []byte) {
	var msg wireBookMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("ignoring non-json message", "data", string(data))
		return
	}
	if msg.EventType != "book" && msg.EventType != "price_change" {
		return
	}

	bids := make([]types.PriceLevel, 0, len(msg.Bids))
	for _, b := range msg.Bids {
		bids = append(bids, parseLevel(b.Price, b.Size))
	}
	asks := make([]types.PriceLevel, 0, len(msg.Asks))
	for _, a := range msg.Asks {
		asks = append(asks, parseLevel(a.Price, a.Size))
	}

	c.emit(RawEvent{
		Kind:      EventBookUpdate,
		TokenId:   types.TokenId(msg.AssetID),
		Bids:      bids,
		Asks:      asks,
		Sequence:  msg.Sequence,
		Timestamp: time.Now(),
	})
}

func parseLevel(priceStr, sizeStr string) types.PriceLevel {
	price, _ := decimal.NewFromString(priceStr)
	size, _ := decimal.NewFromString(sizeStr)
	return types.PriceLevel{Price: price, Size: size}
}

// emit delivers e to the events channel, blocking under backpressure rather
// than dropping it: a full channel is congestion the governor needs to see
// as rising latency, not data the consumer silently never gets.
func (c *Conn) emit(e RawEvent) {
	ctx := c.ctx
	if ctx == nil {
		c.events <- e
		return
	}
	select {
	case c.events <- e:
	case <-ctx.Done():
	}
}

func (c *Conn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.conn == nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

type subscribeMsg struct {
	Operation string   `json:"operation"`
	AssetIDs  []string `json:"assets_ids"`
}

func (c *Conn) writeSubscribe(ids []types.TokenId, op string) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	assetIDs := make([]string, len(ids))
	for i, id := range ids {
		assetIDs[i] = string(id)
	}
	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return c.conn.WriteJSON(subscribeMsg{Operation: op, AssetIDs: assetIDs})
}
