package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	"StockPulse/internal/service/ratelimit"
	xhttp "StockPulse/pkg/http"
	applogger "StockPulse/pkg/logger"
)

const orderLimiterKey = "orders"

// Config is the REST and notice stream endpoint set of a securities broker.
type Config struct {
	BaseURL       string
	WebSocketURL  string
	AppKey        string
	AppSecret     string
	AccountNo     string
	RequestsPerS  int
	Burst         int
	Timeout       time.Duration
	PlaceAttempts int
}

// Client implements Broker. Order requests are throttled by a token
// bucket; a request the broker answers with 429 was not accepted and is
// retried up to PlaceAttempts times, anything else is returned as is.
type Client struct {
	cfg     Config
	http    *xhttp.Client
	limiter *ratelimit.Limiter
	dialer  *websocket.Dialer
	log     *applogger.Logger
	now     func() time.Time

	tokenMu sync.Mutex
	token   string
	expires time.Time

	wsMu sync.Mutex
	ws   *websocket.Conn
}

type Option func(*Client)

func WithHTTPClient(c *xhttp.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(cl *Client) { cl.dialer = d }
}

func WithLogger(l *applogger.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.RequestsPerS <= 0 {
		cfg.RequestsPerS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.PlaceAttempts <= 0 {
		cfg.PlaceAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:     cfg,
		limiter: ratelimit.New(),
		dialer:  websocket.DefaultDialer,
		log:     applogger.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout))
	}
	return c
}

var _ drepo.Broker = (*Client)(nil)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// accessToken returns a cached token, renewing it a minute before expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && c.now().Before(c.expires.Add(-time.Minute)) {
		return c.token, nil
	}

	var out tokenResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    c.cfg.BaseURL + "/oauth2/token",
		Body: map[string]string{
			"grant_type": "client_credentials",
			"appkey":     c.cfg.AppKey,
			"appsecret":  c.cfg.AppSecret,
		},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("broker token: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("broker token: empty access_token")
	}
	c.token = out.AccessToken
	c.expires = c.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	return c.token, nil
}

func (c *Client) headers(token string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + token,
		"appkey":        c.cfg.AppKey,
		"appsecret":     c.cfg.AppSecret,
	}
}

type orderRequest struct {
	Account       string `json:"account"`
	ClientOrderID string `json:"client_order_id"`
	Instrument    string `json:"instrument"`
	Side          string `json:"side"`
	OrderType     string `json:"order_type"`
	Quantity      int64  `json:"quantity"`
	Price         string `json:"price,omitempty"`
}

type orderResponse struct {
	OrderNo string `json:"order_no"`
	Message string `json:"message,omitempty"`
}

// PlaceOrder submits the order and returns the broker's order number. The
// client order id is the scheduler's handle, so the broker can drop a
// duplicate.
func (c *Client) PlaceOrder(ctx context.Context, order models.Order) (string, error) {
	req := orderRequest{
		Account:       c.cfg.AccountNo,
		ClientOrderID: string(order.ID),
		Instrument:    order.InstrumentID,
		Side:          strings.ToLower(string(order.Side)),
		OrderType:     strings.ToLower(string(order.Kind)),
		Quantity:      order.Quantity,
	}
	if order.Kind == models.OrderLimit {
		req.Price = strconv.FormatFloat(order.RefPrice, 'f', -1, 64)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.PlaceAttempts; attempt++ {
		var out orderResponse
		lastErr = c.send(ctx, xhttp.MethodPost, "/orders", req, &out)
		if lastErr == nil {
			if out.OrderNo == "" {
				return "", fmt.Errorf("place order: empty order_no (%s)", out.Message)
			}
			return out.OrderNo, nil
		}
		var se *xhttp.StatusError
		if !errors.As(lastErr, &se) || se.Code != http.StatusTooManyRequests {
			break
		}
		c.log.Warn("broker throttled order", applogger.String("instrument", order.InstrumentID), applogger.Int("attempt", attempt))
	}
	return "", fmt.Errorf("place order: %w", lastErr)
}

func (c *Client) CancelOrder(ctx context.Context, brokerOrderID, instrumentID string) error {
	body := map[string]string{"account": c.cfg.AccountNo, "instrument": instrumentID}
	if err := c.send(ctx, xhttp.MethodPost, "/orders/"+brokerOrderID+"/cancel", body, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", brokerOrderID, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body, dest interface{}) error {
	if err := c.limiter.Wait(ctx, orderLimiterKey, float64(c.cfg.Burst), float64(c.cfg.RequestsPerS)); err != nil {
		return err
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	return c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  method,
		URL:     c.cfg.BaseURL + path,
		Headers: c.headers(token),
		Body:    body,
	}, dest)
}

type noticeFrame struct {
	Type string `json:"type"`
	Data struct {
		OrderNo    string  `json:"order_no"`
		Instrument string  `json:"instrument"`
		Status     string  `json:"status"`
		Price      float64 `json:"price"`
		Quantity   int64   `json:"quantity"`
		Reason     string  `json:"reason"`
		Time       int64   `json:"time"` // ms
	} `json:"data"`
}

var noticeStatus = map[string]models.ReportStatus{
	"filled":    models.ReportFilled,
	"partial":   models.ReportPartiallyFilled,
	"rejected":  models.ReportRejected,
	"cancelled": models.ReportCancelConfirmed,
	"canceled":  models.ReportCancelConfirmed,
}

// Notices streams execution notices for the account until the socket
// fails or ctx ends. Both channels close when the stream stops.
func (c *Client) Notices(ctx context.Context) (<-chan models.BrokerNotice, <-chan error) {
	out := make(chan models.BrokerNotice, 256)
	errs := make(chan error, 1)

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.WebSocketURL, http.Header{"appkey": {c.cfg.AppKey}})
	if err != nil {
		errs <- fmt.Errorf("notice stream: %w", err)
		close(errs)
		close(out)
		return out, errs
	}
	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "account": c.cfg.AccountNo}); err != nil {
		_ = conn.Close()
		errs <- fmt.Errorf("notice subscribe: %w", err)
		close(errs)
		close(out)
		return out, errs
	}
	c.wsMu.Lock()
	c.ws = conn
	c.wsMu.Unlock()

	go func() {
		defer close(out)
		defer close(errs)
		go func() {
			<-ctx.Done()
			_ = conn.SetReadDeadline(time.Now())
		}()

		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("notice read: %w", err)
				}
				return
			}
			var f noticeFrame
			if err := json.Unmarshal(b, &f); err != nil {
				continue
			}
			if f.Type != "execution" {
				continue
			}
			n, ok := toNotice(f)
			if !ok {
				c.log.Warn("broker notice with unknown status",
					applogger.String("order_no", f.Data.OrderNo),
					applogger.String("status", f.Data.Status),
				)
				continue
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errs
}

func toNotice(f noticeFrame) (models.BrokerNotice, bool) {
	st, ok := noticeStatus[strings.ToLower(f.Data.Status)]
	if !ok {
		return models.BrokerNotice{}, false
	}
	return models.BrokerNotice{
		BrokerOrderID: f.Data.OrderNo,
		InstrumentID:  f.Data.Instrument,
		Status:        st,
		FillPrice:     f.Data.Price,
		FilledQty:     f.Data.Quantity,
		Reason:        f.Data.Reason,
		At:            time.UnixMilli(f.Data.Time),
	}, true
}

// Close shuts the notice stream.
func (c *Client) Close() error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws == nil {
		return nil
	}
	err := c.ws.Close()
	c.ws = nil
	return err
}
