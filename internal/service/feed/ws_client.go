package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/domain/repository"
	"GateKeeper/pkg/logger"
)

type Config struct {
	URL            string
	Symbols        []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	BufferSize     int
}

type subscribeMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// frame is one feed message. Only "snapshot" frames carry data.
type frame struct {
	Type string              `json:"type"`
	Data []models.CycleInput `json:"data"`
}

// WSClient implements SnapshotStream over a WebSocket feature feed.
type WSClient struct {
	cfg Config
	l   *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

func NewWSClient(cfg Config, l *logger.Logger) *WSClient {
	if l == nil {
		l = logger.Nop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &WSClient{cfg: cfg, l: l}
}

// Connect dials the feed and subscribes to the configured symbols.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	for _, s := range c.cfg.Symbols {
		if err := conn.WriteJSON(subscribeMsg{Type: "subscribe", Symbol: s}); err != nil {
			_ = conn.Close()
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.l.Info("feed connected", logger.String("url", c.cfg.URL), logger.Strings("symbols", c.cfg.Symbols))
	return nil
}

// Read streams cycle inputs until ctx ends or the connection fails. Inputs
// are dropped when the consumer falls behind.
func (c *WSClient) Read(ctx context.Context) (<-chan *models.CycleInput, <-chan error) {
	out := make(chan *models.CycleInput, c.cfg.BufferSize)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		errs <- errors.New("feed not connected")
		close(out)
		close(errs)
		return out, errs
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	go func() {
		defer close(out)
		defer close(errs)
		defer close(done)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.markDown()
					errs <- fmt.Errorf("feed read: %w", err)
				}
				return
			}
			var f frame
			if err := json.Unmarshal(b, &f); err != nil || f.Type != "snapshot" {
				continue
			}
			for i := range f.Data {
				in := f.Data[i]
				select {
				case out <- &in:
				case <-ctx.Done():
					return
				default:
					c.l.Warn("feed backpressure, dropping snapshot", logger.String("symbol", in.Snapshot.Symbol))
				}
			}
		}
	}()

	return out, errs
}

// Reconnect closes the connection, waits ReconnectDelay and connects again.
func (c *WSClient) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-time.After(c.cfg.ReconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.Connect(ctx)
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *WSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *WSClient) markDown() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

var _ repository.SnapshotStream = (*WSClient)(nil)
