// Package transcribe streams microphone PCM to the AssemblyAI realtime
// service and hands back finalized speech turns. The websocket client is
// deliberately thin; reconnection, backoff, and turn deduplication live in
// Streamer.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultBaseURL is the AssemblyAI streaming endpoint.
	DefaultBaseURL = "https://streaming.assemblyai.com"

	// DefaultSampleRate is 16kHz 16-bit mono PCM.
	DefaultSampleRate = 16000

	handshakeTimeout = 10 * time.Second
)

// Message is one JSON frame off the streaming socket.
type Message struct {
	Type string `json:"type"` // "Begin", "Turn", "Termination", "Error"

	// Begin fields.
	SessionID string `json:"id,omitempty"`

	// Turn fields.
	TurnOrder       int64  `json:"turn_order"`
	EndOfTurn       bool   `json:"end_of_turn"`
	TurnIsFormatted bool   `json:"turn_is_formatted"`
	Transcript      string `json:"transcript"`

	Error string `json:"error,omitempty"`
}

// Conn is one live streaming session. Implementations must close Messages
// and then Done when the session ends, however it ends.
type Conn interface {
	Messages() <-chan Message
	Done() <-chan struct{}
	SendAudio(pcm []byte) error
	Terminate() error
	Close() error
}

// DialConfig shapes the websocket connection.
type DialConfig struct {
	BaseURL    string
	Token      string // short-lived streaming token, sent as a query param
	SampleRate int
}

type wsConn struct {
	conn     *websocket.Conn
	messages chan Message
	done     chan struct{}
	closed   atomic.Bool
	writeMu  sync.Mutex
}

// Dial opens a streaming session. Authentication is a query-string token;
// audio is sent as binary frames and transcripts arrive as JSON text frames.
func Dial(ctx context.Context, cfg DialConfig) (Conn, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https", "":
		u.Scheme = "wss"
	}
	u.Path = "/v3/ws"

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("encoding", "pcm_s16le")
	q.Set("format_turns", "true")
	if cfg.Token != "" {
		q.Set("token", cfg.Token)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	c := &wsConn{
		conn:     conn,
		messages: make(chan Message, 64),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *wsConn) readLoop() {
	defer func() {
		close(c.messages)
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		select {
		case c.messages <- msg:
		default:
			// Slow consumer: drop rather than stall the socket.
		}
		if msg.Type == "Termination" {
			return
		}
	}
}

func (c *wsConn) Messages() <-chan Message { return c.messages }

func (c *wsConn) Done() <-chan struct{} { return c.done }

// SendAudio writes one raw PCM frame.
func (c *wsConn) SendAudio(pcm []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("transcribe: session closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Terminate asks the service to flush and end the session gracefully.
func (c *wsConn) Terminate() error {
	if c.closed.Load() {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Terminate"}`))
}

func (c *wsConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// TokenSource mints short-lived streaming tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// APITokenSource exchanges a server-side API key for streaming tokens via the
// token endpoint.
type APITokenSource struct {
	APIKey     string
	BaseURL    string
	TTLSeconds int
	HTTPClient *http.Client
}

// TokenResponse is the token endpoint's reply.
type TokenResponse struct {
	Token            string `json:"token"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

func (t *APITokenSource) Token(ctx context.Context) (string, error) {
	resp, err := t.Fetch(ctx)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Fetch returns the full token response, for proxying to browser clients.
func (t *APITokenSource) Fetch(ctx context.Context) (*TokenResponse, error) {
	if t.APIKey == "" {
		return nil, fmt.Errorf("transcribe: api key not configured")
	}
	base := t.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	ttl := t.TTLSeconds
	if ttl <= 0 {
		ttl = 60
	}
	client := t.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	u := fmt.Sprintf("%s/v3/token?expires_in_seconds=%d", base, ttl)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Authorization", t.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("token endpoint status %d: %s", resp.StatusCode, string(body))
	}

	var out TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if out.Token == "" {
		return nil, fmt.Errorf("token endpoint returned empty token")
	}
	return &out, nil
}
