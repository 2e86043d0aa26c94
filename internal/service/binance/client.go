package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"TrustGate/internal/domain/models"
	domrepo "TrustGate/internal/domain/repository"
	applogger "TrustGate/pkg/logger"
	"TrustGate/pkg/util"
)

const (
	DefaultBaseURL        = "wss://fstream.binance.com/stream"
	DefaultRecvTimeout    = 5 * time.Second
	DefaultReconnectDelay = time.Second
	DefaultPingInterval   = 30 * time.Second
)

// DefaultStreams are the per-symbol futures streams subscribed when none are configured.
var DefaultStreams = []string{"trade", "depth@100ms", "forceOrder", "ticker"}

// Client is an EventSource over the Binance futures combined-stream websocket.
// It reconnects until ctx is done.
type Client struct {
	baseURL        string
	symbol         string
	streams        []string
	recvTimeout    time.Duration
	reconnectDelay time.Duration
	pingInterval   time.Duration
	dialer         *websocket.Dialer
	limiter        *rate.Limiter
	clock          func() time.Time
	log            *applogger.Logger
}

var _ domrepo.EventSource = (*Client)(nil)

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithStreams sets stream suffixes such as "trade" or "depth@100ms".
func WithStreams(streams []string) Option {
	return func(c *Client) {
		if len(streams) > 0 {
			c.streams = streams
		}
	}
}

func WithRecvTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.recvTimeout = d
		}
	}
}

// WithReconnectDelay sets the minimum spacing between dial attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a client for symbol (case-insensitive).
func New(symbol string, opts ...Option) (*Client, error) {
	symbol = strings.ToLower(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("binance: symbol is required")
	}
	c := &Client{
		baseURL:        DefaultBaseURL,
		symbol:         symbol,
		streams:        DefaultStreams,
		recvTimeout:    DefaultRecvTimeout,
		reconnectDelay: DefaultReconnectDelay,
		pingInterval:   DefaultPingInterval,
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		clock:          time.Now,
		log:            applogger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.limiter = rate.NewLimiter(rate.Every(c.reconnectDelay), 1)
	c.log = c.log.With(applogger.String("source", c.Name()), applogger.String("symbol", c.symbol))
	return c, nil
}

func (c *Client) Name() string { return "binance" }

// URL is the combined-stream endpoint for the configured symbol and streams.
func (c *Client) URL() string {
	names := make([]string, 0, len(c.streams))
	for _, s := range c.streams {
		names = append(names, c.symbol+"@"+s)
	}
	return c.baseURL + "?streams=" + strings.Join(names, "/")
}

// Stream dials, reads and re-dials until ctx is done. Transport and decode
// failures are reported on the error channel and never end the stream.
func (c *Client) Stream(ctx context.Context) (<-chan *models.Event, <-chan error) {
	events := make(chan *models.Event, 1024)
	errs := make(chan error, 16)

	go func() {
		defer close(events)
		defer close(errs)
		for {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			conn, _, err := c.dialer.DialContext(ctx, c.URL(), nil)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.report(errs, fmt.Errorf("binance dial: %w", err))
				continue
			}
			c.log.Info("binance connected")
			err = c.readLoop(ctx, conn, events, errs)
			if ctx.Err() != nil {
				return
			}
			c.report(errs, err)
			c.log.Warn("binance reconnecting", applogger.Error(err))
		}
	}()

	return events, errs
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, events chan<- *models.Event, errs chan<- error) error {
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = conn.Close()
		})
	}
	defer stop()

	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.recvTimeout))
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.recvTimeout)); err != nil {
			return fmt.Errorf("binance set deadline: %w", err)
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return fmt.Errorf("binance closed by peer: %w", err)
			}
			return fmt.Errorf("binance read: %w", err)
		}
		if len(raw) == 0 {
			continue
		}
		ev, err := ParseMessage(raw, util.UnixSeconds(c.clock()))
		if err != nil {
			c.report(errs, err)
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) report(errs chan<- error, err error) {
	if err == nil {
		return
	}
	select {
	case errs <- err:
	default:
		c.log.Warn("binance error dropped", applogger.Error(err))
	}
}

// ErrMalformed marks a frame that is not a JSON object.
var ErrMalformed = errors.New("binance: malformed message")

// ParseMessage converts one combined-stream frame into an Event received at receiveTime.
func ParseMessage(raw []byte, receiveTime float64) (*models.Event, error) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg == nil {
		return nil, ErrMalformed
	}

	payload := msg
	if d, ok := msg["data"]; ok {
		obj, ok := d.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: data is not an object", ErrMalformed)
		}
		payload = obj
	}
	name, _ := msg["stream"].(string)

	return &models.Event{
		Stream:      MapStream(name),
		EventTime:   ExtractEventTime(payload, receiveTime),
		ReceiveTime: receiveTime,
		Payload:     payload,
	}, nil
}

// MapStream maps a combined-stream name like "btcusdt@depth@100ms" to a gate stream.
func MapStream(name string) string {
	s := strings.ToLower(name)
	switch {
	case strings.Contains(s, "@trade"):
		return models.StreamTrade
	case strings.Contains(s, "@depth"):
		return models.StreamOrderbook
	case strings.Contains(s, "@forceorder"):
		return models.StreamLiquidation
	case strings.Contains(s, "@ticker"):
		return models.StreamTicker
	default:
		return name
	}
}

// ExtractEventTime reads T, then E, in seconds; zero, missing or unparsable values fall back.
func ExtractEventTime(payload map[string]any, fallback float64) float64 {
	for _, key := range []string{"T", "E"} {
		v, ok := payload[key]
		if !ok || v == nil || v == "" {
			continue
		}
		ts, ok := util.EpochFromAny(v)
		if !ok {
			return fallback
		}
		if ts == 0 {
			continue
		}
		return ts
	}
	return fallback
}
