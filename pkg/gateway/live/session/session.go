// Package session runs one live transcription session: a client websocket
// feeding PCM audio in, the transcription service on the far side, and the
// agent dropping a notecard on the canvas for every finalized turn.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deliberatorium/deliberatorium/pkg/agent"
	"github.com/deliberatorium/deliberatorium/pkg/canvas"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/live/protocol"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/metrics"
	"github.com/deliberatorium/deliberatorium/pkg/transcribe"
)

const (
	outboundPriorityQueueSize = 8
	turnQueueSize             = 16
	notecardTimeout           = 15 * time.Second
)

var errBackpressure = errors.New("live outbound backpressure")

// DialFunc opens a transcription stream at the sample rate the client
// negotiated in its hello.
type DialFunc func(ctx context.Context, sampleRateHz int) (transcribe.Conn, error)

type Config struct {
	MaxAudioFrameBytes  int
	MaxJSONMessageBytes int64
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	HandshakeTimeout    time.Duration
	OutboundQueueSize   int
}

type Dependencies struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Dial      DialFunc
	Agent     *agent.Orchestrator
	Metrics   *metrics.Metrics
	CanvasKey string
	SessionID string
	RequestID string
	Config    Config
	Now       func() time.Time
}

type LiveSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	dial      DialFunc
	agent     *agent.Orchestrator
	metrics   *metrics.Metrics
	canvasKey string
	sessionID string
	requestID string
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame
}

type outboundFrame struct {
	textPayload []byte
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Dial == nil {
		return nil, fmt.Errorf("dial func is required")
	}
	if deps.CanvasKey == "" {
		return nil, fmt.Errorf("canvas key is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.MaxAudioFrameBytes <= 0 {
		deps.Config.MaxAudioFrameBytes = 8192
	}
	if deps.Config.HandshakeTimeout <= 0 {
		deps.Config.HandshakeTimeout = 5 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LiveSession{
		conn:             deps.Conn,
		logger:           deps.Logger,
		dial:             deps.Dial,
		agent:            deps.Agent,
		metrics:          deps.Metrics,
		canvasKey:        deps.CanvasKey,
		sessionID:        deps.SessionID,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
	}, nil
}

// Cancel tears the session down. Safe to call from any goroutine.
func (s *LiveSession) Cancel() {
	s.cancel()
}

// Warn pushes a warning frame to the client, best effort.
func (s *LiveSession) Warn(code, message string) error {
	return s.sendPriority(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

// Run drives the session to completion. It returns when the client closes,
// the session is canceled, or a fatal error occurs.
func (s *LiveSession) Run() error {
	defer s.cancel()

	started := s.now()
	status := "ok"
	if s.metrics != nil {
		s.metrics.RecordLiveSessionStart()
		defer func() {
			s.metrics.RecordLiveSessionEnd(status, s.now().Sub(started))
		}()
	}

	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	hello, err := s.awaitHello()
	if err != nil {
		status = "handshake_failed"
		s.writeDirect(errorFrame("bad_request", err.Error(), true))
		return err
	}

	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	turnsCh := make(chan transcribe.Turn, turnQueueSize)
	streamer := transcribe.NewStreamer(transcribe.StreamerConfig{
		Dial: func(ctx context.Context) (transcribe.Conn, error) {
			return s.dial(ctx, hello.SampleRateHz)
		},
		OnState: func(state transcribe.State, detail string, attempt int) {
			s.onState(state, detail, attempt)
		},
		OnPartial: func(turn transcribe.Turn) {
			if !hello.WantPartials {
				return
			}
			// Partials are droppable; the next one supersedes this one.
			_ = s.sendNormal(protocol.ServerPartial{Type: "partial", TurnOrder: turn.Order, Transcript: turn.Transcript})
		},
		OnTurn: func(turn transcribe.Turn) {
			if s.metrics != nil {
				s.metrics.RecordTurn()
			}
			if err := s.sendNormal(protocol.ServerTurn{Type: "turn", TurnOrder: turn.Order, Transcript: turn.Transcript}); err != nil {
				s.logger.Warn("live turn frame dropped", "session_id", s.sessionID, "turn_order", turn.Order)
			}
			select {
			case turnsCh <- turn:
			default:
				s.logger.Warn("live notecard queue full, turn skipped", "session_id", s.sessionID, "turn_order", turn.Order)
			}
		},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.notecardLoop(helloViewport(hello), turnsCh)
	}()

	streamer.Start(s.ctx)
	defer func() {
		streamer.Stop()
		s.cancel()
		wg.Wait()
	}()

	if err := s.sendPriority(protocol.ServerReady{
		Type:               "ready",
		ProtocolVersion:    protocol.ProtocolVersion1,
		SessionID:          s.sessionID,
		SampleRateHz:       hello.SampleRateHz,
		Encoding:           hello.Encoding,
		MaxAudioFrameBytes: s.cfg.MaxAudioFrameBytes,
	}); err != nil {
		status = "error"
		return err
	}

	readCh := make(chan inboundFrame, 64)
	go s.readLoop(readCh)

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err, ok := <-writerErrCh:
			if ok && err != nil {
				status = "error"
				return err
			}
			return nil
		case frame, ok := <-readCh:
			if !ok {
				return nil
			}
			if frame.err != nil {
				if websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				status = "error"
				return frame.err
			}
			switch frame.messageType {
			case websocket.BinaryMessage:
				if len(frame.data) > s.cfg.MaxAudioFrameBytes {
					_ = s.Warn("frame_too_large", fmt.Sprintf("audio frame exceeds %d bytes", s.cfg.MaxAudioFrameBytes))
					continue
				}
				if s.metrics != nil {
					s.metrics.RecordLiveAudio(len(frame.data))
				}
				streamer.SendAudio(frame.data)
			case websocket.TextMessage:
				msg, err := protocol.DecodeClientMessage(frame.data)
				if err != nil {
					_ = s.Warn("bad_request", err.Error())
					continue
				}
				switch msg.(type) {
				case protocol.ClientStop:
					streamer.Stop()
					return nil
				case protocol.ClientHello:
					_ = s.Warn("bad_request", "duplicate hello")
				}
			}
		}
	}
}

// awaitHello reads and validates the handshake frame.
func (s *LiveSession) awaitHello() (protocol.ClientHello, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	messageType, data, err := s.conn.ReadMessage()
	if err != nil {
		return protocol.ClientHello{}, fmt.Errorf("reading hello: %w", err)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}
	if messageType != websocket.TextMessage {
		return protocol.ClientHello{}, fmt.Errorf("first frame must be a hello")
	}
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		return protocol.ClientHello{}, err
	}
	hello, ok := msg.(protocol.ClientHello)
	if !ok {
		return protocol.ClientHello{}, fmt.Errorf("first frame must be a hello")
	}
	return hello, nil
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		frame := inboundFrame{messageType: messageType, data: data, err: err}
		select {
		case out <- frame:
		case <-s.ctx.Done():
			return
		}
		if err != nil {
			return
		}
		if s.cfg.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
	}
}

// helloViewport maps the handshake viewport onto canvas coordinates, falling
// back to the default placement region when the client did not send one.
func helloViewport(hello protocol.ClientHello) canvas.Bounds {
	vp := hello.Viewport
	if vp == nil {
		return agent.DefaultViewport()
	}
	return canvas.Bounds{X: vp.X, Y: vp.Y, W: vp.W, H: vp.H}
}

// notecardLoop applies one concept node per finalized turn, in arrival order.
func (s *LiveSession) notecardLoop(viewport canvas.Bounds, turns <-chan transcribe.Turn) {
	lane := agent.NewLane(viewport)
	for {
		var turn transcribe.Turn
		select {
		case <-s.ctx.Done():
			return
		case turn = <-turns:
		}
		if s.agent == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(s.ctx, notecardTimeout)
		slot := lane.Next()
		id, err := s.agent.Notecard(ctx, s.canvasKey, turn.Transcript, slot)
		cancel()
		if err != nil {
			s.logger.Warn("notecard failed",
				"session_id", s.sessionID,
				"turn_order", turn.Order,
				"error", err,
			)
			_ = s.Warn("notecard_failed", "could not place a notecard for this turn")
			continue
		}
		w, h := agent.ClampNodeSize(slot.W, slot.H)
		_ = s.sendNormal(protocol.ServerNotecard{
			Type:      "notecard",
			TurnOrder: turn.Order,
			ShapeID:   id,
			Title:     turn.Transcript,
			X:         slot.X,
			Y:         slot.Y,
			W:         w,
			H:         h,
		})
	}
}

func (s *LiveSession) onState(state transcribe.State, detail string, attempt int) {
	if state == transcribe.StateReconnecting && s.metrics != nil {
		s.metrics.RecordReconnect()
	}
	_ = s.sendPriority(protocol.ServerStatus{Type: "status", State: string(state), Attempt: attempt})
	if state == transcribe.StateError && detail != "" {
		_ = s.sendPriority(protocol.ServerError{Type: "error", Code: "upstream_error", Message: detail})
	}
}

func (s *LiveSession) sendPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.outboundPriority <- outboundFrame{textPayload: payload}:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *LiveSession) sendNormal(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.outboundNormal <- outboundFrame{textPayload: payload}:
		return nil
	default:
		return errBackpressure
	}
}

// writeDirect bypasses the writer pump, for errors before it starts.
func (s *LiveSession) writeDirect(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	timeout := s.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	_ = s.conn.WriteMessage(websocket.TextMessage, payload)
}

func errorFrame(code, message string, close bool) protocol.ServerError {
	return protocol.ServerError{Type: "error", Code: code, Message: message, Close: close}
}
