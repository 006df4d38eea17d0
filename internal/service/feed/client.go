package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	applogger "StockPulse/pkg/logger"
)

var errNotConnected = errors.New("feed not connected")

// Client implements MarketStream over a bar websocket. Frames are JSON:
//
//	{"type":"bar","data":[{"s":"005930","t":1709510460000,"o":..,"h":..,"l":..,"c":..,"v":..,"es":1.12}]}
//
// t is the bar's open time in unix milliseconds; es is optional.
type Client struct {
	apiKey         string
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	buffer         int
	dialer         *websocket.Dialer
	log            *applogger.Logger

	mu          sync.Mutex // guards conn and writes
	conn        *websocket.Conn
	instruments []string
	connected   atomic.Bool
}

type Option func(*Client)

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// New creates a feed MarketStream.
func New(apiKey, wsURL string, reconnectDelay, pingInterval time.Duration, opts ...Option) *Client {
	c := &Client{
		apiKey:         apiKey,
		url:            wsURL,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		buffer:         1024,
		dialer:         websocket.DefaultDialer,
		log:            applogger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ drepo.MarketStream = (*Client)(nil)

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("feed url: %w", err)
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("token", c.apiKey)
		u.RawQuery = q.Encode()
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.log.Info("feed connected", applogger.String("host", u.Host))
	return nil
}

type subscribeMsg struct {
	Type        string   `json:"type"`
	Instruments []string `json:"instruments"`
}

// Subscribe asks for bars of instruments. They are re-sent after Reconnect.
func (c *Client) Subscribe(ctx context.Context, instruments []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected.Load() {
		return errNotConnected
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if err := c.conn.WriteJSON(subscribeMsg{Type: "subscribe", Instruments: instruments}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.instruments = append(c.instruments[:0], instruments...)
	c.log.Info("feed subscribed", applogger.Strings("instruments", instruments))
	return nil
}

type wireBar struct {
	S  string   `json:"s"`
	T  int64    `json:"t"` // ms
	O  float64  `json:"o"`
	H  float64  `json:"h"`
	L  float64  `json:"l"`
	C  float64  `json:"c"`
	V  float64  `json:"v"`
	ES *float64 `json:"es,omitempty"`
}

type wireMessage struct {
	Type string    `json:"type"`
	Data []wireBar `json:"data"`
	Msg  string    `json:"msg,omitempty"`
}

// Read streams bars until the connection fails or ctx ends. Both channels
// are closed when reading stops; a failure is sent on the error channel
// first.
func (c *Client) Read(ctx context.Context) (<-chan models.MarketEvent, <-chan error) {
	bars := make(chan models.MarketEvent, c.buffer)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		errs <- errNotConnected
		close(errs)
		close(bars)
		return bars, errs
	}

	readCtx, stop := context.WithCancel(ctx)
	go c.pingLoop(readCtx, conn)

	go func() {
		defer close(bars)
		defer close(errs)
		defer stop()

		// unblock ReadMessage on cancellation
		go func() {
			<-readCtx.Done()
			_ = conn.SetReadDeadline(time.Now())
		}()

		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.connected.Store(false)
					errs <- fmt.Errorf("feed read: %w", err)
				}
				return
			}
			var m wireMessage
			if err := json.Unmarshal(b, &m); err != nil {
				c.log.Debug("feed frame skipped", applogger.Error(err))
				continue
			}
			switch m.Type {
			case "bar":
			case "error":
				c.log.Warn("feed error frame", applogger.String("msg", m.Msg))
				continue
			default:
				continue
			}
			for _, d := range m.Data {
				select {
				case bars <- d.event():
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return bars, errs
}

func (b wireBar) event() models.MarketEvent {
	return models.MarketEvent{
		InstrumentID:      b.S,
		Timestamp:         time.UnixMilli(b.T),
		Open:              b.O,
		High:              b.H,
		Low:               b.L,
		Close:             b.C,
		Volume:            b.V,
		ExecutionStrength: b.ES,
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	if c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// WriteControl may run concurrently with other writers
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pingInterval)); err != nil {
				c.log.Debug("feed ping failed", applogger.Error(err))
			}
		}
	}
}

// Reconnect closes, waits reconnectDelay and reconnects, restoring the
// previous subscription.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()

	t := time.NewTimer(c.reconnectDelay)
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-t.C:
	}

	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	instruments := append([]string(nil), c.instruments...)
	c.mu.Unlock()
	if len(instruments) == 0 {
		return nil
	}
	return c.Subscribe(ctx, instruments)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected.Load() }
