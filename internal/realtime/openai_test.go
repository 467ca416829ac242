package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lingora/lingora/internal/model"
	"github.com/lingora/lingora/internal/realtime"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startRealtimeServer launches a test WebSocket server. The handler receives
// the accepted conn. The server is closed when the test finishes.
func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func testConfig() realtime.Config {
	return realtime.Config{
		Token:        "ephemeral-secret",
		Instructions: "You are a friendly English tutor.",
		Voice:        "alloy",
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsAuthHeadersAndModel(t *testing.T) {
	t.Parallel()

	type handshake struct {
		auth  string
		beta  string
		model string
	}
	got := make(chan handshake, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		got <- handshake{
			auth:  r.Header.Get("Authorization"),
			beta:  r.Header.Get("OpenAI-Beta"),
			model: r.URL.Query().Get("model"),
		}
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	d := realtime.NewOpenAIDialer(
		realtime.WithBaseURL(wsURL(srv)),
		realtime.WithModel("gpt-4o-mini-realtime"),
	)
	ch, err := d.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	select {
	case h := <-got:
		if h.auth != "Bearer ephemeral-secret" {
			t.Errorf("Authorization = %q; want Bearer ephemeral-secret", h.auth)
		}
		if h.beta != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q; want realtime=v1", h.beta)
		}
		if h.model != "gpt-4o-mini-realtime" {
			t.Errorf("model in URL = %q; want gpt-4o-mini-realtime", h.model)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_SendsSessionUpdate(t *testing.T) {
	t.Parallel()

	type sessionUpdateMsg struct {
		Type    string `json:"type"`
		Session struct {
			Voice             string `json:"voice"`
			Instructions      string `json:"instructions"`
			InputAudioFormat  string `json:"input_audio_format"`
			OutputAudioFormat string `json:"output_audio_format"`
		} `json:"session"`
	}

	received := make(chan sessionUpdateMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg sessionUpdateMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	d := realtime.NewOpenAIDialer(realtime.WithBaseURL(wsURL(srv)))
	ch, err := d.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	select {
	case msg := <-received:
		if msg.Type != "session.update" {
			t.Errorf("type = %q; want session.update", msg.Type)
		}
		if msg.Session.Voice != "alloy" {
			t.Errorf("voice = %q; want alloy", msg.Session.Voice)
		}
		if msg.Session.Instructions != "You are a friendly English tutor." {
			t.Errorf("instructions = %q", msg.Session.Instructions)
		}
		if msg.Session.InputAudioFormat != "pcm16" || msg.Session.OutputAudioFormat != "pcm16" {
			t.Errorf("audio formats = %q/%q; want pcm16/pcm16",
				msg.Session.InputAudioFormat, msg.Session.OutputAudioFormat)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}
}

func TestConnect_EmptyToken_ReturnsCredentialError(t *testing.T) {
	t.Parallel()

	d := realtime.NewOpenAIDialer()
	_, err := d.Connect(context.Background(), realtime.Config{})
	if !errors.Is(err, realtime.ErrCredentialUnavailable) {
		t.Fatalf("Connect with empty token = %v; want ErrCredentialUnavailable", err)
	}
}

// ── Turns ─────────────────────────────────────────────────────────────────────

func TestTurns_AssemblesTutorTranscriptFromDeltas(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "Hello, "})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "ready when you are."})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.done"})

		<-conn.CloseRead(context.Background()).Done()
	})

	d := realtime.NewOpenAIDialer(realtime.WithBaseURL(wsURL(srv)))
	ch, err := d.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	select {
	case turn, ok := <-ch.Turns():
		if !ok {
			t.Fatal("Turns channel closed unexpectedly")
		}
		if turn.Role != model.RoleAssistant {
			t.Errorf("role = %q; want assistant", turn.Role)
		}
		if turn.Content != "Hello, ready when you are." {
			t.Errorf("content = %q; want %q", turn.Content, "Hello, ready when you are.")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for tutor turn")
	}
}

func TestTurns_UserSpeechTranscription(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "I think renewable energy is important.",
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	d := realtime.NewOpenAIDialer(realtime.WithBaseURL(wsURL(srv)))
	ch, err := d.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	select {
	case turn, ok := <-ch.Turns():
		if !ok {
			t.Fatal("Turns channel closed unexpectedly")
		}
		if turn.Role != model.RoleUser {
			t.Errorf("role = %q; want user", turn.Role)
		}
		if turn.Content != "I think renewable energy is important." {
			t.Errorf("content = %q", turn.Content)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for user turn")
	}
}

// ── Outgoing events ───────────────────────────────────────────────────────────

func TestSendUserText_SendsConversationItem(t *testing.T) {
	t.Parallel()

	type itemMsg struct {
		Type string `json:"type"`
		Item struct {
			Type    string `json:"type"`
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"item"`
	}

	items := make(chan itemMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		var msg itemMsg
		readJSON(t, conn, &msg)
		items <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	d := realtime.NewOpenAIDialer(realtime.WithBaseURL(wsURL(srv)))
	ch, err := d.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	if err := ch.SendUserText("hi"); err != nil {
		t.Fatalf("SendUserText: %v", err)
	}

	select {
	case msg := <-items:
		if msg.Type != "conversation.item.create" {
			t.Errorf("type = %q; want conversation.item.create", msg.Type)
		}
		if msg.Item.Role != "user" {
			t.Errorf("role = %q; want user", msg.Item.Role)
		}
		if len(msg.Item.Content) == 0 || msg.Item.Content[0].Text != "hi" {
			t.Errorf("content = %+v; want one input_text part %q", msg.Item.Content, "hi")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for conversation item")
	}
}

func TestSendUserText_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	d := realtime.NewOpenAIDialer(realtime.WithBaseURL(wsURL(srv)))
	ch, err := d.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = ch.Close()

	if err := ch.SendUserText("hi"); err == nil {
		t.Fatal("SendUserText after Close should return an error")
	}
}

func TestRequestResponseAndInterrupt(t *testing.T) {
	t.Parallel()

	types := make(chan string, 2)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		for i := 0; i < 2; i++ {
			var msg struct {
				Type string `json:"type"`
			}
			readJSON(t, conn, &msg)
			types <- msg.Type
		}

		<-conn.CloseRead(context.Background()).Done()
	})

	d := realtime.NewOpenAIDialer(realtime.WithBaseURL(wsURL(srv)))
	ch, err := d.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	if err := ch.RequestResponse(); err != nil {
		t.Fatalf("RequestResponse: %v", err)
	}
	if err := ch.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	for _, want := range []string{"response.create", "response.cancel"} {
		select {
		case got := <-types:
			if got != want {
				t.Errorf("event type = %q; want %q", got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

// ── Errors and Close ──────────────────────────────────────────────────────────

func TestErr_RecordsServerError(t *testing.T) {
	t.Parallel()

	errorSent := make(chan struct{})

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "invalid_request_error",
				"message": "Could not understand audio.",
			},
		})
		close(errorSent)

		<-conn.CloseRead(context.Background()).Done()
	})

	d := realtime.NewOpenAIDialer(realtime.WithBaseURL(wsURL(srv)))
	ch, err := d.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	select {
	case <-errorSent:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}

	deadline := time.After(3 * time.Second)
	for ch.Err() == nil {
		select {
		case <-deadline:
			t.Fatal("Err() never reported the server error")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if !strings.Contains(ch.Err().Error(), "Could not understand audio") {
		t.Errorf("Err() = %v; want audio error", ch.Err())
	}
}

func TestClose_IdempotentAndClosesTurns(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	d := realtime.NewOpenAIDialer(realtime.WithBaseURL(wsURL(srv)))
	ch, err := d.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}

	select {
	case _, open := <-ch.Turns():
		if open {
			t.Error("Turns channel should be closed after Close()")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for Turns channel to close")
	}
}
