package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/SvelteTick/Impostr/internal/transport"
)

// EmittedEvent records an event sent through a MockChannel
type EmittedEvent struct {
	Name    string
	Payload json.RawMessage
	Ack     bool
}

// AckReply is a scripted acknowledgement
type AckReply struct {
	Data json.RawMessage
	Err  error
}

// MockChannel is an in-memory transport.Channel for testing. Tests push
// inbound events and script acknowledgements per event name.
type MockChannel struct {
	// AckFunc, when set, answers every EmitWithAck instead of the scripted
	// replies. It runs without the channel lock held, so it may Push.
	AckFunc func(event string, payload json.RawMessage) (json.RawMessage, error)

	mu           sync.Mutex
	events       chan transport.Event
	emitted      []EmittedEvent
	acks         map[string][]AckReply
	emitErr      error
	err          error
	streamClosed bool
	closed       bool
	closeCount   int
}

var _ transport.Channel = (*MockChannel)(nil)

// NewMockChannel creates an open MockChannel
func NewMockChannel() *MockChannel {
	return &MockChannel{
		events: make(chan transport.Event, 64),
		acks:   make(map[string][]AckReply),
	}
}

// QueueAck scripts the next acknowledgement for event. Without a scripted
// reply an acknowledgement carries no data.
func (c *MockChannel) QueueAck(event string, data any, err error) {
	var raw json.RawMessage
	if data != nil {
		raw = mustJSON(data)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks[event] = append(c.acks[event], AckReply{Data: raw, Err: err})
}

// FailEmits makes every subsequent emit return err
func (c *MockChannel) FailEmits(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitErr = err
}

// Push delivers an inbound event. A string payload holding valid JSON is
// sent verbatim. Pushing to a closed stream is a no-op.
func (c *MockChannel) Push(event string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		raw = mustJSON(payload)
	}
	c.PushRaw(event, raw)
}

// PushRaw delivers an inbound event with a literal payload
func (c *MockChannel) PushRaw(event string, raw json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamClosed {
		return
	}
	c.events <- transport.Event{Name: event, Data: raw}
}

// Fail ends the event stream with err, as a transport that gave up would
func (c *MockChannel) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	c.closeStream()
}

func (c *MockChannel) closeStream() {
	if !c.streamClosed {
		c.streamClosed = true
		close(c.events)
	}
}

// Emit records a fire-and-forget event
func (c *MockChannel) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.streamClosed {
		return transport.ErrClosed
	}
	c.emitted = append(c.emitted, EmittedEvent{Name: event, Payload: mustJSON(payload)})
	return c.emitErr
}

// EmitWithAck records the event and returns its acknowledgement
func (c *MockChannel) EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	raw := mustJSON(payload)

	c.mu.Lock()
	if c.closed || c.streamClosed {
		c.mu.Unlock()
		return nil, transport.ErrClosed
	}
	c.emitted = append(c.emitted, EmittedEvent{Name: event, Payload: raw, Ack: true})
	if c.emitErr != nil {
		err := c.emitErr
		c.mu.Unlock()
		return nil, err
	}
	fn := c.AckFunc
	var reply AckReply
	if queue := c.acks[event]; len(queue) > 0 {
		reply = queue[0]
		c.acks[event] = queue[1:]
	}
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(event, raw)
	}
	return reply.Data, reply.Err
}

// Events returns the inbound stream
func (c *MockChannel) Events() <-chan transport.Event {
	return c.events
}

// Err returns the error passed to Fail
func (c *MockChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the channel
func (c *MockChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	c.closed = true
	c.closeStream()
	return nil
}

// Emitted returns a copy of every emitted event
func (c *MockChannel) Emitted() []EmittedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EmittedEvent, len(c.emitted))
	copy(out, c.emitted)
	return out
}

// EmittedNames returns the names of every emitted event in order
func (c *MockChannel) EmittedNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.emitted))
	for i, e := range c.emitted {
		names[i] = e.Name
	}
	return names
}

// Closed reports whether Close has been called
func (c *MockChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCount returns how many times Close was called
func (c *MockChannel) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

func mustJSON(v any) json.RawMessage {
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	if s, ok := v.(string); ok && json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// MockDialer hands out a prepared MockChannel
type MockDialer struct {
	Channel *MockChannel
	Err     error

	mu     sync.Mutex
	tokens []string
}

var _ transport.Dialer = (*MockDialer)(nil)

// NewMockDialer creates a dialer returning ch
func NewMockDialer(ch *MockChannel) *MockDialer {
	return &MockDialer{Channel: ch}
}

// Dial records the token and returns the prepared channel
func (d *MockDialer) Dial(ctx context.Context, token string) (transport.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Channel, nil
}

// Tokens returns the tokens passed to Dial
func (d *MockDialer) Tokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}
