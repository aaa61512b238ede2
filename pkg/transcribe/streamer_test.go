package transcribe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestReconnectDelayFormula(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 15 * time.Second}, // 16s capped
		{5, 15 * time.Second},
		{10, 15 * time.Second},
		{63, 15 * time.Second},
		{-1, 1 * time.Second},
	}
	for _, tt := range tests {
		if got := ReconnectDelay(tt.attempt); got != tt.want {
			t.Errorf("ReconnectDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

type fakeConn struct {
	msgs chan Message
	done chan struct{}

	mu         sync.Mutex
	audio      [][]byte
	terminated bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan Message, 16), done: make(chan struct{})}
}

func (f *fakeConn) Messages() <-chan Message { return f.msgs }
func (f *fakeConn) Done() <-chan struct{}    { return f.done }

func (f *fakeConn) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, pcm)
	return nil
}

func (f *fakeConn) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = true
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) serverClose() {
	close(f.msgs)
	close(f.done)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestFinalizedTurnProcessedAtMostOnce(t *testing.T) {
	conn := newFakeConn()
	var mu sync.Mutex
	var turns []Turn
	var partials []Turn

	s := NewStreamer(StreamerConfig{
		Dial: func(context.Context) (Conn, error) { return conn, nil },
		OnTurn: func(turn Turn) {
			mu.Lock()
			turns = append(turns, turn)
			mu.Unlock()
		},
		OnPartial: func(turn Turn) {
			mu.Lock()
			partials = append(partials, turn)
			mu.Unlock()
		},
	})
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return s.State() == StateListening })

	conn.msgs <- Message{Type: "Turn", TurnOrder: 0, Transcript: "hel"}
	conn.msgs <- Message{Type: "Turn", TurnOrder: 0, Transcript: "hello there", EndOfTurn: true}
	// The service re-finalizes the same order with formatting applied.
	conn.msgs <- Message{Type: "Turn", TurnOrder: 0, Transcript: "Hello there.", EndOfTurn: true, TurnIsFormatted: true}
	conn.msgs <- Message{Type: "Turn", TurnOrder: 1, Transcript: "next turn", EndOfTurn: true}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(turns) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if turns[0].Order != 0 || turns[0].Transcript != "hello there" {
		t.Errorf("first turn = %+v", turns[0])
	}
	if turns[1].Order != 1 {
		t.Errorf("second turn = %+v", turns[1])
	}
	if len(partials) != 1 || partials[0].Transcript != "hel" {
		t.Errorf("partials = %+v", partials)
	}
}

func TestStopSuppressesReconnect(t *testing.T) {
	conn := newFakeConn()
	var mu sync.Mutex
	dials := 0

	s := NewStreamer(StreamerConfig{
		Dial: func(context.Context) (Conn, error) {
			mu.Lock()
			dials++
			mu.Unlock()
			return conn, nil
		},
	})
	s.Start(context.Background())
	waitFor(t, time.Second, func() bool { return s.State() == StateListening })

	s.Stop()
	conn.serverClose()

	if s.State() != StateIdle {
		t.Errorf("state after stop = %q, want idle", s.State())
	}
	mu.Lock()
	if !conn.terminated {
		t.Error("stop did not send Terminate")
	}
	mu.Unlock()

	// Give any stray reconnect timer a chance to misfire.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Errorf("dials = %d, want no reconnect after stop", dials)
	}
}

func TestReconnectsAfterSocketLoss(t *testing.T) {
	var mu sync.Mutex
	conns := []*fakeConn{}

	s := NewStreamer(StreamerConfig{
		Dial: func(context.Context) (Conn, error) {
			mu.Lock()
			defer mu.Unlock()
			c := newFakeConn()
			conns = append(conns, c)
			return c, nil
		},
	})
	s.Start(context.Background())
	defer s.Stop()
	waitFor(t, time.Second, func() bool { return s.State() == StateListening })

	mu.Lock()
	first := conns[0]
	mu.Unlock()
	first.serverClose()

	waitFor(t, time.Second, func() bool { return s.State() == StateReconnecting })

	// First reconnect fires after the 1s base delay.
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) == 2
	})
	waitFor(t, time.Second, func() bool { return s.State() == StateListening })
}

func TestReconnectDeliversRepeatedTurnOrders(t *testing.T) {
	var mu sync.Mutex
	conns := []*fakeConn{}
	var turns []Turn

	s := NewStreamer(StreamerConfig{
		Dial: func(context.Context) (Conn, error) {
			mu.Lock()
			defer mu.Unlock()
			c := newFakeConn()
			conns = append(conns, c)
			return c, nil
		},
		OnTurn: func(turn Turn) {
			mu.Lock()
			turns = append(turns, turn)
			mu.Unlock()
		},
	})
	s.Start(context.Background())
	defer s.Stop()
	waitFor(t, time.Second, func() bool { return s.State() == StateListening })

	mu.Lock()
	first := conns[0]
	mu.Unlock()
	first.msgs <- Message{Type: "Turn", TurnOrder: 0, Transcript: "before the drop", EndOfTurn: true}
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(turns) == 1
	})
	first.serverClose()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) == 2
	})
	waitFor(t, time.Second, func() bool { return s.State() == StateListening })

	// The new session numbers from zero again; its first turn must not be
	// mistaken for a duplicate of the old session's.
	mu.Lock()
	second := conns[1]
	mu.Unlock()
	second.msgs <- Message{Type: "Turn", TurnOrder: 0, Transcript: "after the drop", EndOfTurn: true}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(turns) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if turns[1].Transcript != "after the drop" {
		t.Errorf("second turn = %+v", turns[1])
	}
}

func TestStateCallbacksArriveInTransitionOrder(t *testing.T) {
	conn := newFakeConn()
	var mu sync.Mutex
	var states []State

	s := NewStreamer(StreamerConfig{
		Dial: func(context.Context) (Conn, error) { return conn, nil },
		OnState: func(state State, detail string, attempt int) {
			mu.Lock()
			states = append(states, state)
			mu.Unlock()
		},
	})
	s.Start(context.Background())
	waitFor(t, time.Second, func() bool { return s.State() == StateListening })
	s.Stop()
	conn.serverClose()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 3
	})
	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateListening, StateIdle}
	for i, w := range want {
		if states[i] != w {
			t.Fatalf("states = %v, want prefix %v", states, want)
		}
	}
}

func TestMaxAttemptsStopsWithError(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	s := NewStreamer(StreamerConfig{
		Dial: func(context.Context) (Conn, error) {
			mu.Lock()
			dials++
			mu.Unlock()
			return nil, errors.New("token rejected")
		},
		MaxAttempts: 1,
	})
	s.Start(context.Background())
	defer s.Stop()

	// Attempt 0 fails, one retry after 1s fails, then the streamer gives up.
	waitFor(t, 3*time.Second, func() bool { return s.State() == StateError })
	mu.Lock()
	defer mu.Unlock()
	if dials != 2 {
		t.Errorf("dials = %d, want initial attempt plus one retry", dials)
	}
}

func TestSendAudioWhileDisconnectedIsDropped(t *testing.T) {
	s := NewStreamer(StreamerConfig{
		Dial: func(context.Context) (Conn, error) { return newFakeConn(), nil },
	})
	// Not started: must not panic.
	s.SendAudio([]byte{1, 2, 3})
}

func TestSendAudioForwardsToConn(t *testing.T) {
	conn := newFakeConn()
	s := NewStreamer(StreamerConfig{
		Dial: func(context.Context) (Conn, error) { return conn, nil },
	})
	s.Start(context.Background())
	defer s.Stop()
	waitFor(t, time.Second, func() bool { return s.State() == StateListening })

	s.SendAudio([]byte{9, 9})
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.audio) != 1 || len(conn.audio[0]) != 2 {
		t.Errorf("audio = %v", conn.audio)
	}
}
