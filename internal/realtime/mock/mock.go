// Package mock provides test doubles for the realtime package interfaces.
//
// Use Dialer to verify Connect calls and feed a controlled Channel. Use
// Channel to drive the turn stream and inspect which methods the orchestrator
// invoked.
//
// Example:
//
//	ch := mock.NewChannel()
//	d := &mock.Dialer{Channel: ch}
//	handle, _ := d.Connect(ctx, cfg)
//	ch.TurnsCh <- model.Turn{Role: model.RoleUser, Content: "hello"}
package mock

import (
	"context"
	"sync"

	"github.com/lingora/lingora/internal/model"
	"github.com/lingora/lingora/internal/realtime"
)

// ConnectCall records a single invocation of Dialer.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg realtime.Config
}

// Dialer is a mock implementation of realtime.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Channel is returned by Connect. If nil, Connect returns a new default
	// Channel with a buffered turn stream.
	Channel realtime.Channel

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Channel, ConnectErr.
func (d *Dialer) Connect(ctx context.Context, cfg realtime.Config) (realtime.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ConnectCalls = append(d.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if d.ConnectErr != nil {
		return nil, d.ConnectErr
	}
	if d.Channel != nil {
		return d.Channel, nil
	}
	return NewChannel(), nil
}

var _ realtime.Dialer = (*Dialer)(nil)

// TokenSource is a mock implementation of realtime.TokenSource.
type TokenSource struct {
	mu sync.Mutex

	// Value is returned by Token when Err is nil.
	Value string

	// Err, if non-nil, is returned by every Token call.
	Err error

	// TokenCallCount is the number of times Token was called.
	TokenCallCount int
}

// Token records the call and returns Value, Err.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TokenCallCount++
	if t.Err != nil {
		return "", t.Err
	}
	return t.Value, nil
}

var _ realtime.TokenSource = (*TokenSource)(nil)

// Channel is a mock implementation of realtime.Channel. Tests feed turns into
// TurnsCh; Close closes it to signal end-of-stream.
type Channel struct {
	mu sync.Mutex

	// TurnsCh is the channel returned by Turns(). Callers own this channel
	// until Close, which closes it exactly once.
	TurnsCh chan model.Turn

	// --- Configurable errors ---

	// SendUserTextErr, if non-nil, is returned by every SendUserText call.
	SendUserTextErr error

	// RequestResponseErr, if non-nil, is returned by every RequestResponse call.
	RequestResponseErr error

	// InterruptErr, if non-nil, is returned by every Interrupt call.
	InterruptErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// ErrVal is returned by Err.
	ErrVal error

	// --- Call records ---

	// SentTexts records the text of every SendUserText call in order.
	SentTexts []string

	// RequestResponseCallCount is the number of times RequestResponse was called.
	RequestResponseCallCount int

	// InterruptCallCount is the number of times Interrupt was called.
	InterruptCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	turnsClosed bool
}

// NewChannel returns a Channel with a buffered turn stream.
func NewChannel() *Channel {
	return &Channel{TurnsCh: make(chan model.Turn, 16)}
}

// SendUserText records the call and returns SendUserTextErr.
func (c *Channel) SendUserText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SentTexts = append(c.SentTexts, text)
	return c.SendUserTextErr
}

// RequestResponse records the call and returns RequestResponseErr.
func (c *Channel) RequestResponse() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RequestResponseCallCount++
	return c.RequestResponseErr
}

// Interrupt records the call and returns InterruptErr.
func (c *Channel) Interrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InterruptCallCount++
	return c.InterruptErr
}

// Turns returns TurnsCh.
func (c *Channel) Turns() <-chan model.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.TurnsCh
}

// Err returns ErrVal.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ErrVal
}

// Close records the call, closes TurnsCh exactly once, and returns CloseErr.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	if !c.turnsClosed {
		c.turnsClosed = true
		close(c.TurnsCh)
	}
	return c.CloseErr
}

var _ realtime.Channel = (*Channel)(nil)
