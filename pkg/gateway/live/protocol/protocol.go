// Package protocol defines the wire frames of the live transcription
// websocket. Text frames are JSON envelopes with a "type" discriminator;
// microphone audio arrives as raw binary PCM frames.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ProtocolVersion1 = "1"

const (
	// PCM 16-bit little-endian, the only encoding relayed upstream.
	AudioEncodingPCMS16LE = "pcm_s16le"

	DefaultSampleRateHz = 16000
	MinSampleRateHz     = 8000
	MaxSampleRateHz     = 48000
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// Viewport is the client's visible canvas region, in canvas coordinates.
type Viewport struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ClientHello is the first frame a client must send after the upgrade.
type ClientHello struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SampleRateHz    int    `json:"sample_rate_hz,omitempty"`
	Encoding        string `json:"encoding,omitempty"`
	// WantPartials asks for in-progress transcripts in addition to
	// finalized turns.
	WantPartials bool `json:"want_partials,omitempty"`
	// Viewport anchors notecard placement; when absent the session falls
	// back to a default region near the canvas origin.
	Viewport *Viewport `json:"viewport,omitempty"`
}

// ClientStop asks the session to flush the upstream recognizer and close.
type ClientStop struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses a text frame into one of the Client* types.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(&msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "stop":
		var msg ClientStop
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid stop frame", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ValidateHello checks the handshake and fills defaults in place.
func ValidateHello(msg *ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if msg.ProtocolVersion != ProtocolVersion1 {
		return unsupported("unsupported protocol version", "protocol_version")
	}
	if msg.SampleRateHz == 0 {
		msg.SampleRateHz = DefaultSampleRateHz
	}
	if msg.SampleRateHz < MinSampleRateHz || msg.SampleRateHz > MaxSampleRateHz {
		return badRequest("hello.sample_rate_hz out of range", "sample_rate_hz")
	}
	encoding := strings.TrimSpace(msg.Encoding)
	switch encoding {
	case "":
		msg.Encoding = AudioEncodingPCMS16LE
	case AudioEncodingPCMS16LE:
	default:
		return unsupported("unsupported audio encoding", "encoding")
	}
	if msg.Viewport != nil && (msg.Viewport.W <= 0 || msg.Viewport.H <= 0) {
		return badRequest("hello.viewport must have positive size", "viewport")
	}
	return nil
}

// ServerReady acknowledges the hello; audio may flow after this frame.
type ServerReady struct {
	Type               string `json:"type"`
	ProtocolVersion    string `json:"protocol_version"`
	SessionID          string `json:"session_id"`
	SampleRateHz       int    `json:"sample_rate_hz"`
	Encoding           string `json:"encoding"`
	MaxAudioFrameBytes int    `json:"max_audio_frame_bytes"`
}

// ServerStatus reports the upstream connection state (connecting, listening,
// reconnecting, error).
type ServerStatus struct {
	Type  string `json:"type"`
	State string `json:"state"`
	// Attempt counts reconnects; zero on the first connect.
	Attempt int `json:"attempt,omitempty"`
}

// ServerPartial carries an in-progress transcript for the current turn.
type ServerPartial struct {
	Type       string `json:"type"`
	TurnOrder  int64  `json:"turn_order"`
	Transcript string `json:"transcript"`
}

// ServerTurn carries a finalized turn. Each turn order is delivered at most
// once per session.
type ServerTurn struct {
	Type       string `json:"type"`
	TurnOrder  int64  `json:"turn_order"`
	Transcript string `json:"transcript"`
}

// ServerNotecard reports the concept node the agent placed for a turn,
// including where it landed so clients can scroll it into view.
type ServerNotecard struct {
	Type      string  `json:"type"`
	TurnOrder int64   `json:"turn_order"`
	ShapeID   string  `json:"shape_id"`
	Title     string  `json:"title"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	W         float64 `json:"w"`
	H         float64 `json:"h"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
