package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/SvelteTick/Impostr/internal/dependencies/random"
	"github.com/SvelteTick/Impostr/internal/metrics"
	"github.com/SvelteTick/Impostr/internal/model"
	"github.com/SvelteTick/Impostr/internal/transport"
)

const (
	frameEvent = "event"
	frameAck   = "ack"

	ackIDLength = 12
)

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    string          `json:"id,omitempty"`
}

type ackResult struct {
	data json.RawMessage
	err  error
}

var errDropped = errors.New("connection dropped before acknowledgement")

// Channel is a reconnecting websocket event channel
type Channel struct {
	dialer   *Dialer
	token    string
	clientID string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan transport.Event
	done   chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan ackResult
	closed  bool
	err     error

	closeOnce sync.Once
}

var _ transport.Channel = (*Channel)(nil)

func newChannel(d *Dialer, conn *websocket.Conn, token, clientID string, logger *slog.Logger) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		dialer:   d,
		token:    token,
		clientID: clientID,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan transport.Event, d.cfg.EventBuffer),
		done:     make(chan struct{}),
		conn:     conn,
		pending:  make(map[string]chan ackResult),
	}
	go c.run(conn)
	return c
}

// Events returns the inbound event stream
func (c *Channel) Events() <-chan transport.Event {
	return c.events
}

// Err reports why the event stream ended
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Emit sends an event without waiting for acknowledgement
func (c *Channel) Emit(ctx context.Context, event string, payload any) error {
	return c.write(ctx, event, payload, "")
}

// EmitWithAck sends an event and waits for its acknowledgement
func (c *Channel) EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	id := c.dialer.random.String(ackIDLength, random.IDAlphabet)
	wait := make(chan ackResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.ErrClosed
	}
	c.pending[id] = wait
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, event, payload, id); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.dialer.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case res := <-wait:
		return res.data, res.err
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", transport.ErrAckTimeout, event)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, transport.ErrClosed
	}
}

func (c *Channel) write(ctx context.Context, event string, payload any, id string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	msg, err := json.Marshal(frame{Type: frameEvent, Event: event, Data: data, ID: id})
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed || conn == nil {
		return transport.ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, c.dialer.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}
	return nil
}

// Close closes the connection and ends the event stream
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()

		c.cancel()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
		}
		<-c.done
		c.logger.Debug("channel closed")
	})
	return nil
}

// run reads until the channel is closed, reconnecting after drops
func (c *Channel) run(conn *websocket.Conn) {
	defer close(c.done)
	defer close(c.events)

	for {
		err := c.readLoop(conn)
		c.failPending(errDropped)
		if c.ctx.Err() != nil {
			return
		}

		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			c.finish(fmt.Errorf("%w: closed by server", model.ErrConnectionLost))
			return
		}

		c.logger.Warn("channel dropped, reconnecting", slog.String("error", err.Error()))
		c.setConn(nil)

		next, err := c.reconnect()
		if err != nil {
			if c.ctx.Err() == nil {
				c.finish(fmt.Errorf("%w: %w", model.ErrConnectionLost, err))
			}
			return
		}
		c.setConn(next)
		conn = next

		if !c.deliver(transport.Event{Name: transport.EventReconnected}) {
			return
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return err
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("discarding undecodable frame", slog.String("error", err.Error()))
			continue
		}

		switch f.Type {
		case frameAck:
			c.resolve(f.ID, f.Data)
		case frameEvent:
			if f.Event == "" {
				continue
			}
			if !c.deliver(transport.Event{Name: f.Event, Data: f.Data}) {
				return c.ctx.Err()
			}
		default:
			c.logger.Debug("ignoring frame", slog.String("type", f.Type))
		}
	}
}

func (c *Channel) deliver(ev transport.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Channel) resolve(id string, data json.RawMessage) {
	c.mu.Lock()
	wait, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("acknowledgement for unknown id", slog.String("id", id))
		return
	}
	wait <- ackResult{data: data}
}

func (c *Channel) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, wait := range c.pending {
		wait <- ackResult{err: err}
		delete(c.pending, id)
	}
}

func (c *Channel) reconnect() (*websocket.Conn, error) {
	cfg := c.dialer.cfg
	if cfg.ReconnectAttempts <= 0 {
		return nil, errors.New("reconnect disabled")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ReconnectBaseDelay
	bo.MaxInterval = cfg.ReconnectMaxDelay

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= cfg.ReconnectAttempts; attempt++ {
		attempts = attempt
		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil, c.ctx.Err()
		case <-timer.C:
		}

		conn, err := c.dialer.connect(c.ctx, c.token, c.clientID)
		if err == nil {
			metrics.RecordReconnect("success")
			c.logger.Info("channel reconnected", slog.Int("attempt", attempt))
			return conn, nil
		}
		metrics.RecordReconnect("failure")
		lastErr = err
		c.logger.Warn("reconnect attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, transport.ErrUnauthorized) {
			break
		}
	}
	return nil, fmt.Errorf("gave up after %d of %d attempts: %w", attempts, cfg.ReconnectAttempts, lastErr)
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed && conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		return
	}
	c.conn = conn
}

func (c *Channel) finish(err error) {
	c.mu.Lock()
	c.err = err
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.CloseNow()
	}
	c.logger.Warn("channel lost", slog.String("error", err.Error()))
}
