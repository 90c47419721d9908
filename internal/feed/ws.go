package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// WSClient — push subscription channel
// ---------------------------------------------------------------------------

// WSConfig configures the push subscription client.
type WSConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	ReconnectBase    time.Duration
	MaxReconnects    int
}

// WSClient maintains the live push subscription. It reconnects with
// exponential backoff, re-subscribes tracked tokens after a reconnect
// and delivers parsed ticks through the OnTick callback. The callback
// runs on the read goroutine and must not block.
type WSClient struct {
	cfg WSConfig

	mu         sync.RWMutex
	conn       *websocket.Conn
	connected  bool
	subscribed map[string]struct{}
	onTick     func(Tick)
	onTrade    func(Trade)

	// writeMu serializes data frames; gorilla supports one concurrent
	// writer, and Subscribe can race the resubscribe loop after a
	// reconnect. Control frames (ping) have their own serialization.
	writeMu sync.Mutex
}

// NewWSClient creates a push subscription client.
func NewWSClient(cfg WSConfig) *WSClient {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 45 * time.Second
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 2 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 20
	}
	return &WSClient{
		cfg:        cfg,
		subscribed: make(map[string]struct{}),
	}
}

// SetOnTick installs the tick callback. Must be set before Run.
func (c *WSClient) SetOnTick(fn func(Tick)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTick = fn
}

// SetOnTrade installs the large-transaction callback. Optional; trade
// messages are dropped when unset.
func (c *WSClient) SetOnTrade(fn func(Trade)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrade = fn
}

// Connected reports whether the subscription is currently live.
func (c *WSClient) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Subscribe registers a token. If the connection is live the
// subscription message is sent immediately; either way the token is
// re-subscribed after every reconnect.
func (c *WSClient) Subscribe(token string) error {
	c.mu.Lock()
	c.subscribed[token] = struct{}{}
	conn := c.conn
	live := c.connected
	c.mu.Unlock()

	if !live {
		return nil
	}
	return c.sendSubscribe(conn, token)
}

// Unsubscribe stops tracking a token across reconnects.
func (c *WSClient) Unsubscribe(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribed, token)
}

// Run drives the connect/read/reconnect loop until the context is done
// or the reconnect budget is exhausted.
func (c *WSClient) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= c.cfg.MaxReconnects {
			return fmt.Errorf("ws: gave up after %d reconnect attempts", attempt)
		}

		if err := c.connectAndRead(ctx); err != nil {
			attempt++
			// Exponential backoff, capped at 2^6 * base.
			shift := attempt
			if shift > 6 {
				shift = 6
			}
			delay := c.cfg.ReconnectBase * time.Duration(1<<uint(shift-1))
			log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).
				Msg("ws: connection lost, reconnecting")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		// Clean shutdown.
		return nil
	}
}

func (c *WSClient) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	tokens := make([]string, 0, len(c.subscribed))
	for t := range c.subscribed {
		tokens = append(tokens, t)
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connected = false
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	log.Info().Str("url", c.cfg.URL).Int("tokens", len(tokens)).Msg("ws: connected")

	for _, t := range tokens {
		if err := c.sendSubscribe(conn, t); err != nil {
			log.Error().Err(err).Str("token", t).Msg("ws: resubscribe failed")
		}
	}

	// Heartbeat keeps idle connections alive.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		c.handleMessage(msg)
	}
}

func (c *WSClient) sendSubscribe(conn *websocket.Conn, token string) error {
	sub := map[string]any{
		"method": "subscribe",
		"params": map[string]any{"token": token},
	}
	c.writeMu.Lock()
	err := conn.WriteJSON(sub)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", token, err)
	}
	log.Debug().Str("token", token).Msg("ws: subscribed")
	return nil
}

type wsMessage struct {
	Token     string  `json:"token"`
	Price     string  `json:"price"`
	Volume    float64 `json:"volume"`
	Liquidity float64 `json:"liquidity"`
	Side      string  `json:"side"`
	AmountSOL float64 `json:"amount_sol"`
}

func (c *WSClient) handleMessage(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Token == "" {
		return // subscription ack, heartbeat, ...
	}

	if msg.Price != "" {
		c.handleTick(msg)
		return
	}
	if msg.Side != "" && msg.AmountSOL > 0 {
		c.handleTrade(msg)
	}
}

func (c *WSClient) handleTick(msg wsMessage) {
	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		log.Debug().Str("token", msg.Token).Str("price", msg.Price).
			Msg("ws: unparseable tick price")
		return
	}

	c.mu.RLock()
	fn := c.onTick
	c.mu.RUnlock()
	if fn == nil {
		return
	}

	fn(Tick{
		Token:     msg.Token,
		Price:     price,
		Volume:    decimal.NewFromFloat(msg.Volume),
		Liquidity: decimal.NewFromFloat(msg.Liquidity),
		At:        time.Now(),
	})
}

func (c *WSClient) handleTrade(msg wsMessage) {
	c.mu.RLock()
	fn := c.onTrade
	c.mu.RUnlock()
	if fn == nil {
		return
	}

	fn(Trade{
		Token:     msg.Token,
		Side:      msg.Side,
		AmountSOL: msg.AmountSOL,
		At:        time.Now(),
	})
}
