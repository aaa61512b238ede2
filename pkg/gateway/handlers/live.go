package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/maruel/ksid"

	"github.com/deliberatorium/deliberatorium/pkg/agent"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/apierror"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/auth"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/config"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/lifecycle"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/live/session"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/metrics"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/ratelimit"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/sessions"
	"github.com/deliberatorium/deliberatorium/pkg/transcribe"
)

// LiveHandler upgrades /v1/live/{key} to a websocket session that relays
// microphone audio to the transcription service and places notecards on the
// canvas for finalized turns.
type LiveHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Agent        *agent.Orchestrator
	Tokens       transcribe.TokenSource
	Metrics      *metrics.Metrics
	Limiter      *ratelimit.Limiter
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker

	// Dial overrides the transcription dialer, for tests.
	Dial session.DialFunc
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, apierror.NewInvalidRequest("method not allowed"))
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		reqID := requestIDFromContext(r.Context())
		writeJSON(w, http.StatusServiceUnavailable, apierror.Envelope{Error: &apierror.Error{
			Type: apierror.ErrAPI, Message: "gateway is draining", RequestID: reqID,
		}})
		return
	}
	if !h.originAllowed(r) {
		writeError(w, r, apierror.NewPermission("origin is not allowed"))
		return
	}
	canvasKey := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/live"), "/")
	if canvasKey == "" || strings.Contains(canvasKey, "/") {
		writeError(w, r, apierror.NewNotFound("not found"))
		return
	}
	if h.Config.AssemblyAIKey == "" && h.Dial == nil {
		writeError(w, r, apierror.NewAPI("transcription api key is not configured"))
		return
	}

	principalKey := "anonymous"
	if p, ok := auth.PrincipalFrom(r.Context()); ok && p.SessionID != "" {
		principalKey = p.SessionID
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var livePermit *ratelimit.Permit
	if h.Limiter != nil && h.Config.LiveMaxSessionsPerPrincipal > 0 {
		dec := h.Limiter.AcquireLive(principalKey, time.Now())
		if !dec.Allowed {
			h.writeWSError(conn, "rate_limited", "too many active live sessions")
			return
		}
		livePermit = dec.Permit
		defer livePermit.Release()
	}

	sessionID := "live-" + ksid.NewID().String()
	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    h.Logger,
		Dial:      h.dialFunc(),
		Agent:     h.Agent,
		Metrics:   h.Metrics,
		CanvasKey: canvasKey,
		SessionID: sessionID,
		RequestID: requestIDFromContext(r.Context()),
		Config: session.Config{
			MaxAudioFrameBytes:  h.Config.LiveMaxAudioFrameBytes,
			MaxJSONMessageBytes: h.Config.LiveMaxJSONMessageBytes,
			PingInterval:        h.Config.LiveWSPingInterval,
			WriteTimeout:        h.Config.LiveWSWriteTimeout,
			ReadTimeout:         h.Config.LiveWSReadTimeout,
			HandshakeTimeout:    h.Config.LiveHandshakeTimeout,
		},
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize live session")
		return
	}

	unregister := func() {}
	if h.LiveSessions != nil {
		unregister = h.LiveSessions.Register(sessionID, sessions.Handle{
			Cancel: s.Cancel,
			Warn:   s.Warn,
		})
	}
	defer unregister()

	if err := s.Run(); err != nil && h.Logger != nil {
		h.Logger.Warn("live session ended with error",
			"session_id", sessionID,
			"request_id", requestIDFromContext(r.Context()),
			"canvas_key", canvasKey,
			"error", err)
	}
}

// dialFunc mints a fresh streaming token per dial so reconnects after token
// expiry still authenticate.
func (h LiveHandler) dialFunc() session.DialFunc {
	if h.Dial != nil {
		return h.Dial
	}
	return func(ctx context.Context, sampleRateHz int) (transcribe.Conn, error) {
		token, err := h.Tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		return transcribe.Dial(ctx, transcribe.DialConfig{
			BaseURL:    h.Config.AssemblyAIBaseURL,
			Token:      token,
			SampleRate: sampleRateHz,
		})
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(map[string]any{"type": "error", "code": code, "message": message, "close": true})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}
