package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/lingora/lingora/internal/model"
)

// Compile-time assertions.
var _ Dialer = (*OpenAIDialer)(nil)
var _ Channel = (*openaiChannel)(nil)

const (
	defaultRealtimeModel = "gpt-4o-realtime-preview"
	defaultRealtimeURL   = "wss://api.openai.com/v1/realtime"
)

// DialOption is a functional option for configuring an OpenAIDialer.
type DialOption func(*OpenAIDialer)

// WithModel sets the realtime model used for new channels.
func WithModel(model string) DialOption {
	return func(d *OpenAIDialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) DialOption {
	return func(d *OpenAIDialer) { d.baseURL = url }
}

// OpenAIDialer connects Channels to the OpenAI Realtime API over WebSocket.
type OpenAIDialer struct {
	model   string
	baseURL string
}

// NewOpenAIDialer creates a dialer with the given options.
func NewOpenAIDialer(opts ...DialOption) *OpenAIDialer {
	d := &OpenAIDialer{
		model:   defaultRealtimeModel,
		baseURL: defaultRealtimeURL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Connect dials the realtime endpoint with cfg.Token as bearer credential and
// configures the session. The returned Channel is live once Connect returns.
func (d *OpenAIDialer) Connect(ctx context.Context, cfg Config) (Channel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: no token supplied for connect", ErrCredentialUnavailable)
	}

	wsURL := fmt.Sprintf("%s?model=%s", d.baseURL, d.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + cfg.Token},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	chCtx, chCancel := context.WithCancel(context.Background())
	ch := &openaiChannel{
		conn:   conn,
		turns:  make(chan model.Turn, 16),
		ctx:    chCtx,
		cancel: chCancel,
	}

	if err := ch.sendSessionUpdate(cfg.Voice, cfg.Instructions); err != nil {
		chCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}

	go ch.receiveLoop()

	return ch, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice             string `json:"voice,omitempty"`
	Instructions      string `json:"instructions,omitempty"`
	InputAudioFormat  string `json:"input_audio_format"`
	OutputAudioFormat string `json:"output_audio_format"`
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── openaiChannel ──────────────────────────────────────────────────────────────

type openaiChannel struct {
	conn  *websocket.Conn
	turns chan model.Turn

	mu     sync.Mutex
	errVal error
	closed bool

	// currentTutorText accumulates response.audio_transcript.delta events
	// until response.audio_transcript.done is received.
	currentTutorText string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *openaiChannel) sendSessionUpdate(voice, instructions string) error {
	return c.writeJSON(sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Voice:             voice,
			Instructions:      instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
		},
	})
}

func (c *openaiChannel) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and translates transcript
// events into Turns. It owns turns and closes it when it exits.
func (c *openaiChannel) receiveLoop() {
	defer c.closeTurns()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		c.handleServerEvent(&evt)
	}
}

func (c *openaiChannel) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		c.mu.Lock()
		c.currentTutorText += evt.Delta
		c.mu.Unlock()

	case "response.audio_transcript.done":
		c.mu.Lock()
		text := c.currentTutorText
		c.currentTutorText = ""
		c.mu.Unlock()

		if text == "" {
			return
		}
		c.deliver(model.Turn{Role: model.RoleAssistant, Content: text})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		c.deliver(model.Turn{Role: model.RoleUser, Content: evt.Transcript})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		c.setErr(fmt.Errorf("realtime: server error: %s", msg))
	}
}

func (c *openaiChannel) deliver(turn model.Turn) {
	select {
	case c.turns <- turn:
	case <-c.ctx.Done():
	}
}

func (c *openaiChannel) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

func (c *openaiChannel) closeTurns() {
	c.closeOnce.Do(func() {
		close(c.turns)
	})
}

// ── Channel methods ────────────────────────────────────────────────────────────

// SendUserText injects a learner message as a conversation item.
func (c *openaiChannel) SendUserText(text string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("realtime: channel closed")
	}
	c.mu.Unlock()

	return c.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []conversationPart{
				{Type: "input_text", Text: text},
			},
		},
	})
}

// RequestResponse triggers the tutor's next response.
func (c *openaiChannel) RequestResponse() error {
	return c.writeJSON(map[string]string{"type": "response.create"})
}

// Interrupt sends a response.cancel event to stop the current tutor response.
func (c *openaiChannel) Interrupt() error {
	return c.writeJSON(map[string]string{"type": "response.cancel"})
}

// Turns returns the channel on which completed conversation turns arrive.
func (c *openaiChannel) Turns() <-chan model.Turn { return c.turns }

// Err returns the first non-nil error that terminated the stream.
func (c *openaiChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close terminates the channel and releases all resources. Idempotent.
func (c *openaiChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "session ended")
	return nil
}
