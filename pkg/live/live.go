// Package live consumes the messaging SDK's push stream. The SDK transport
// itself is an external collaborator; this package only adapts its websocket
// feed into models.LiveEvent callbacks with reconnect and token-renewal
// hooks. Everything downstream (classification, merge) is the engine's job.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"log/slog"

	"nhooyr.io/websocket"

	"fpchat/pkg/models"
	"fpchat/pkg/telemetry"
)

// State of the stream connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Handlers are the push callbacks a consumer client registers. Nil handlers
// are skipped.
type Handlers struct {
	OnEvent        func(models.LiveEvent)
	OnConnected    func()
	OnDisconnected func()
	// TokenSource is consulted on (re)connect and when the server signals
	// an expiring token.
	TokenSource func(ctx context.Context) (string, error)
}

// envelope is the wire format: either a message event or a control frame.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Consumer maintains the websocket connection to the SDK edge.
type Consumer struct {
	url      string
	handlers Handlers

	mu    sync.Mutex
	state State

	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewConsumer builds a Consumer for the given stream URL.
func NewConsumer(url string, h Handlers) *Consumer {
	return &Consumer{
		url:       url,
		handlers:  h,
		state:     StateDisconnected,
		baseDelay: time.Second,
		maxDelay:  30 * time.Second,
	}
}

// State returns the current connection state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run connects and reads events until the context is cancelled, reconnecting
// with jittered exponential backoff on failure.
func (c *Consumer) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		connectedAt, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			slog.Warn("live_stream_disconnected", "error", err)
		}
		// A connection that held for a minute resets the backoff.
		if !connectedAt.IsZero() && time.Since(connectedAt) > time.Minute {
			attempt = 0
		}
		delay := c.nextDelay(attempt)
		attempt++
		slog.Info("live_stream_reconnect_wait", "attempt", attempt, "delay", delay.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Consumer) runOnce(ctx context.Context) (time.Time, error) {
	c.setState(StateConnecting)

	url := c.url
	if c.handlers.TokenSource != nil {
		token, err := c.handlers.TokenSource(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			return time.Time{}, fmt.Errorf("token source: %w", err)
		}
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "token=" + token
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return time.Time{}, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c.setState(StateConnected)
	connectedAt := time.Now()
	if c.handlers.OnConnected != nil {
		c.handlers.OnConnected()
	}
	defer func() {
		c.setState(StateDisconnected)
		if c.handlers.OnDisconnected != nil {
			c.handlers.OnDisconnected()
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return connectedAt, fmt.Errorf("websocket read: %w", err)
		}
		c.dispatch(data)
	}
}

func (c *Consumer) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("live_stream_bad_frame", "error", err)
		return
	}
	telemetry.LiveEvents.WithLabelValues(env.Type).Inc()
	switch env.Type {
	case "message":
		var ev models.LiveEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			slog.Warn("live_stream_bad_event", "error", err)
			return
		}
		if c.handlers.OnEvent != nil {
			c.handlers.OnEvent(ev)
		}
	case "token_will_expire":
		// Renewal happens on the next reconnect; nothing to do mid-stream
		// beyond noting the signal.
		slog.Info("live_stream_token_expiring")
	default:
		slog.Debug("live_stream_frame_ignored", "type", env.Type)
	}
}

func (c *Consumer) nextDelay(attempt int) time.Duration {
	jitter := time.Duration(rand.Float64() * float64(c.baseDelay) * 0.5)
	d := time.Duration(math.Min(
		float64(c.baseDelay)*math.Pow(2, float64(attempt))+float64(jitter),
		float64(c.maxDelay),
	))
	return d
}
