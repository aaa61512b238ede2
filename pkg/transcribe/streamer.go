package transcribe

import (
	"context"
	"sync"
	"time"
)

// State is the streamer lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateListening    State = "listening"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// Reconnect backoff bounds.
const (
	reconnectBase = time.Second
	reconnectCap  = 15 * time.Second
)

// ReconnectDelay returns min(1000·2^attempt, 15000) milliseconds.
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^4 already exceeds the cap; avoid shifting into overflow.
	if attempt > 4 {
		return reconnectCap
	}
	d := reconnectBase << uint(attempt)
	if d > reconnectCap {
		d = reconnectCap
	}
	return d
}

// Turn is a finalized unit of transcription.
type Turn struct {
	Order      int64
	Transcript string
}

// DialFunc opens a streaming session. Injected so tests can run without a
// live service.
type DialFunc func(ctx context.Context) (Conn, error)

// StreamerConfig wires the streamer's collaborators. All callbacks are
// invoked from the streamer's internal goroutines, one at a time.
type StreamerConfig struct {
	Dial DialFunc

	// OnState observes lifecycle transitions; detail carries the error text
	// for StateError and attempt the reconnect count at transition time,
	// zero on the first connect.
	OnState func(state State, detail string, attempt int)
	// OnPartial receives in-progress transcripts for the current turn.
	OnPartial func(turn Turn)
	// OnTurn receives each finalized turn exactly once.
	OnTurn func(turn Turn)

	// MaxAttempts stops reconnecting after this many consecutive failures.
	// Zero means retry forever.
	MaxAttempts int
}

// Streamer owns the connect/reconnect lifecycle over a transcription Conn:
// exponential backoff on socket loss, suppression of reconnects after an
// explicit stop, and at-most-once delivery of finalized turns.
type Streamer struct {
	cfg StreamerConfig

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	conn      Conn
	state     State
	intent    bool // true while the caller wants the stream up
	attempt   int
	timer     *time.Timer
	processed map[int64]struct{}

	stateQueue []stateEvent
	notifying  bool
}

type stateEvent struct {
	state   State
	detail  string
	attempt int
}

func NewStreamer(cfg StreamerConfig) *Streamer {
	return &Streamer{
		cfg:       cfg,
		state:     StateIdle,
		processed: make(map[int64]struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Streamer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins streaming. Calling Start on a running streamer is a no-op.
func (s *Streamer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.intent {
		s.mu.Unlock()
		return
	}
	s.intent = true
	s.attempt = 0
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.setStateLocked(StateConnecting, "")
	runCtx := s.ctx
	s.mu.Unlock()

	go s.connect(runCtx)
}

// Stop tears the stream down and suppresses any pending reconnect.
func (s *Streamer) Stop() {
	s.mu.Lock()
	s.intent = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	conn := s.conn
	s.conn = nil
	s.setStateLocked(StateIdle, "")
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Terminate()
		_ = conn.Close()
	}
}

// SendAudio forwards one PCM frame to the live session. Frames sent while
// disconnected are dropped; speech capture is lossy by nature.
func (s *Streamer) SendAudio(pcm []byte) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.SendAudio(pcm)
	}
}

func (s *Streamer) connect(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	conn, err := s.cfg.Dial(ctx)

	s.mu.Lock()
	if !s.intent || ctx.Err() != nil {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.handleDisconnect(ctx, err.Error())
		return
	}
	s.conn = conn
	s.attempt = 0
	// A fresh session numbers its turns from zero again, so dedup state from
	// the previous socket must not suppress them.
	s.processed = make(map[int64]struct{})
	s.setStateLocked(StateListening, "")
	s.mu.Unlock()

	s.readLoop(ctx, conn)
}

func (s *Streamer) readLoop(ctx context.Context, conn Conn) {
	for msg := range conn.Messages() {
		if ctx.Err() != nil {
			break
		}
		s.handleMessage(msg)
	}
	<-conn.Done()

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()

	s.handleDisconnect(ctx, "connection closed")
}

func (s *Streamer) handleMessage(msg Message) {
	switch msg.Type {
	case "Turn":
		turn := Turn{Order: msg.TurnOrder, Transcript: msg.Transcript}
		if !msg.EndOfTurn {
			if s.cfg.OnPartial != nil {
				s.cfg.OnPartial(turn)
			}
			return
		}

		// The service finalizes a turn twice, unformatted then formatted.
		// Process each order at most once so a turn never authors two
		// notecards.
		s.mu.Lock()
		if _, seen := s.processed[msg.TurnOrder]; seen {
			s.mu.Unlock()
			return
		}
		s.processed[msg.TurnOrder] = struct{}{}
		s.mu.Unlock()

		if s.cfg.OnTurn != nil {
			s.cfg.OnTurn(turn)
		}
	case "Error":
		s.setState(StateError, msg.Error)
	}
}

func (s *Streamer) handleDisconnect(ctx context.Context, detail string) {
	s.mu.Lock()
	if !s.intent || ctx.Err() != nil {
		if s.state != StateIdle {
			s.setStateLocked(StateIdle, "")
		}
		s.mu.Unlock()
		return
	}
	if s.cfg.MaxAttempts > 0 && s.attempt >= s.cfg.MaxAttempts {
		s.intent = false
		s.setStateLocked(StateError, detail)
		s.mu.Unlock()
		return
	}

	delay := ReconnectDelay(s.attempt)
	s.attempt++
	s.setStateLocked(StateReconnecting, detail)
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.timer = nil
		ok := s.intent && ctx.Err() == nil
		s.mu.Unlock()
		if ok {
			s.connect(ctx)
		}
	})
	s.mu.Unlock()
}

func (s *Streamer) setState(state State, detail string) {
	s.mu.Lock()
	s.setStateLocked(state, detail)
	s.mu.Unlock()
}

// setStateLocked must be called with s.mu held. Callbacks run outside the
// lock, delivered one at a time in transition order by a single drainer.
func (s *Streamer) setStateLocked(state State, detail string) {
	s.state = state
	if s.cfg.OnState == nil {
		return
	}
	s.stateQueue = append(s.stateQueue, stateEvent{state: state, detail: detail, attempt: s.attempt})
	if s.notifying {
		return
	}
	s.notifying = true
	go s.drainStateQueue()
}

func (s *Streamer) drainStateQueue() {
	for {
		s.mu.Lock()
		if len(s.stateQueue) == 0 {
			s.notifying = false
			s.mu.Unlock()
			return
		}
		ev := s.stateQueue[0]
		s.stateQueue = s.stateQueue[1:]
		s.mu.Unlock()
		s.cfg.OnState(ev.state, ev.detail, ev.attempt)
	}
}
