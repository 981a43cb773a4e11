package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"PerpCast/internal/domain/models"
	drepo "PerpCast/internal/domain/repository"
	applogger "PerpCast/pkg/logger"

	"github.com/gorilla/websocket"
)

// Client is a SnapshotSource backed by the Hyperliquid WebSocket feed. It
// subscribes to the L2 book and trade stream for one coin and keeps the
// latest book plus a rolling trade-flow accumulator; Snapshot assembles a
// point-in-time MarketSnapshot from that state without ever blocking on the
// network.
type Client struct {
	url            string
	coin           string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	staleAfter     time.Duration
	ofiHalfLife    time.Duration
	depthLevels    int

	logger *applogger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	bid, ask           float64
	bidDepth, askDepth float64
	bookTime           time.Time

	// Trade flow accumulated since the last Snapshot call, plus a
	// continuously decayed signed-flow estimate (OFI).
	volume    float64
	imbalance float64
	ofi       float64
	ofiTime   time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithStaleAfter sets how old the book may be before Snapshot reports a gap.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

// WithOFIHalfLife sets the decay half-life of the signed-flow estimate.
func WithOFIHalfLife(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.ofiHalfLife = d
		}
	}
}

// WithDepthLevels sets how many book levels per side feed the depth summary.
func WithDepthLevels(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.depthLevels = n
		}
	}
}

// New creates a Hyperliquid snapshot source for one coin.
func New(url, coin string, reconnectDelay, pingInterval time.Duration, logger *applogger.Logger, opts ...Option) drepo.SnapshotSource {
	c := &Client{
		url:            url,
		coin:           coin,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		staleAfter:     5 * time.Second,
		ofiHalfLife:    10 * time.Second,
		depthLevels:    5,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type wsSubscription struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

type wsRequest struct {
	Method       string         `json:"method"`
	Subscription wsSubscription `json:"subscription"`
}

type wsLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

type wsBook struct {
	Coin   string       `json:"coin"`
	Time   int64        `json:"time"`
	Levels [2][]wsLevel `json:"levels"` // [bids, asks], best first
}

type wsTrade struct {
	Coin string `json:"coin"`
	Side string `json:"side"` // "B" buyer-initiated, "A" seller-initiated
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Time int64  `json:"time"` // ms
}

type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Start connects, subscribes, and launches the read and ping loops. The
// loops reconnect with a fixed delay until ctx is cancelled.
func (c *Client) Start(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	go c.readLoop(ctx)
	go c.pingLoop(ctx)
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("hyperliquid connect: %w", err)
	}
	for _, sub := range []string{"l2Book", "trades"} {
		req := wsRequest{Method: "subscribe", Subscription: wsSubscription{Type: sub, Coin: c.coin}}
		if err := conn.WriteJSON(req); err != nil {
			_ = conn.Close()
			return fmt.Errorf("hyperliquid subscribe %s: %w", sub, err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("hyperliquid connected",
		applogger.String("coin", c.coin), applogger.String("url", c.url))
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, b, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("hyperliquid read failed, reconnecting", applogger.Error(err))
			select {
			case <-time.After(c.reconnectDelay):
			case <-ctx.Done():
				return
			}
			if err := c.connect(ctx); err != nil {
				c.logger.Error("hyperliquid reconnect failed", applogger.Error(err))
			}
			continue
		}

		var m wsMessage
		if err := json.Unmarshal(b, &m); err != nil {
			continue // ignore non-JSON frames
		}
		switch m.Channel {
		case "l2Book":
			c.handleBook(m.Data)
		case "trades":
			c.handleTrades(m.Data)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn != nil {
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}
}

func (c *Client) handleBook(data json.RawMessage) {
	var book wsBook
	if err := json.Unmarshal(data, &book); err != nil || book.Coin != c.coin {
		return
	}
	bids, asks := book.Levels[0], book.Levels[1]
	if len(bids) == 0 || len(asks) == 0 {
		return
	}
	bid := parseFloat(bids[0].Px)
	ask := parseFloat(asks[0].Px)
	if bid <= 0 || ask <= 0 || ask < bid {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bid, c.ask = bid, ask
	c.bidDepth = sumDepth(bids, c.depthLevels)
	c.askDepth = sumDepth(asks, c.depthLevels)
	c.bookTime = time.UnixMilli(book.Time)
}

func (c *Client) handleTrades(data json.RawMessage) {
	var trades []wsTrade
	if err := json.Unmarshal(data, &trades); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range trades {
		if t.Coin != c.coin {
			continue
		}
		sz := parseFloat(t.Sz)
		if sz <= 0 {
			continue
		}
		signed := sz
		if t.Side == "A" {
			signed = -sz
		}
		ts := time.UnixMilli(t.Time)
		c.decayOFI(ts)
		c.ofi += signed
		c.volume += sz
		c.imbalance += signed
	}
}

// decayOFI decays the signed-flow estimate to ts. Caller holds mu.
func (c *Client) decayOFI(ts time.Time) {
	if !c.ofiTime.IsZero() && ts.After(c.ofiTime) {
		elapsed := ts.Sub(c.ofiTime).Seconds()
		halfLife := c.ofiHalfLife.Seconds()
		c.ofi *= math.Exp(-math.Ln2 * elapsed / halfLife)
	}
	c.ofiTime = ts
}

// Snapshot assembles the current market state. It returns
// models.ErrStaleFeed when the book has not updated within staleAfter, and
// resets the per-snapshot trade accumulators on success.
func (c *Client) Snapshot(ctx context.Context) (*models.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bookTime.IsZero() || now.Sub(c.bookTime) > c.staleAfter {
		return nil, fmt.Errorf("hyperliquid: %w: book age %s",
			models.ErrStaleFeed, now.Sub(c.bookTime))
	}

	c.decayOFI(now)
	snap := &models.MarketSnapshot{
		Time:           now,
		Mid:            (c.bid + c.ask) / 2,
		Bid:            c.bid,
		Ask:            c.ask,
		Spread:         c.ask - c.bid,
		BidDepth:       c.bidDepth,
		AskDepth:       c.askDepth,
		TradeVolume:    c.volume,
		TradeImbalance: c.imbalance,
		OFI:            c.ofi,
	}
	c.volume, c.imbalance = 0, 0
	return snap, nil
}

// IsConnected reports the socket state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close closes the socket; the loops exit on the resulting read error.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func sumDepth(levels []wsLevel, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	total := 0.0
	for _, l := range levels[:n] {
		total += parseFloat(l.Sz)
	}
	return total
}
