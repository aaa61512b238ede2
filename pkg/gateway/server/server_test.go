package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deliberatorium/deliberatorium/pkg/gateway/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Addr:                        ":0",
		DataDir:                     t.TempDir(),
		SessionTTL:                  time.Hour,
		AssemblyAIBaseURL:           "https://streaming.assemblyai.com",
		AssemblyAITokenTTL:          60,
		CORSAllowedOrigins:          map[string]struct{}{},
		MaxBodyBytes:                1 << 20,
		LimitRPS:                    100,
		LimitBurst:                  100,
		LimitMaxConcurrentRequests:  16,
		LiveMaxSessionsPerPrincipal: 2,
		LiveMaxAudioFrameBytes:      8192,
		LiveMaxJSONMessageBytes:     64 * 1024,
		LiveWSPingInterval:          20 * time.Second,
		LiveWSWriteTimeout:          5 * time.Second,
		LiveWSReadTimeout:           60 * time.Second,
		LiveHandshakeTimeout:        5 * time.Second,
		ReadHeaderTimeout:           10 * time.Second,
		ReadTimeout:                 30 * time.Second,
		ShutdownGracePeriod:         time.Second,
	}
}

func testServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s, err := New(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := testServer(t, testConfig(t))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_HealthRoutes_Reachable(t *testing.T) {
	s := testServer(t, testConfig(t))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		s.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%q", path, rr.Code, rr.Body.String())
		}
	}
}

func TestServer_OpenMode_WorkspaceReachableWithoutToken(t *testing.T) {
	s := testServer(t, testConfig(t))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/workspace", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "folder-core") {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_PasswordMode_RequiresToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.SharedPassword = "hunter2"
	s := testServer(t, cfg)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/workspace", nil)
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rr.Code)
	}

	// Login is reachable without a token and yields one that unlocks the
	// rest of the surface.
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"password":"hunter2","name":"Ada","color":"#f00"}`))
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%q", rr.Code, rr.Body.String())
	}

	token, err := s.sessions.Mint("sess-test", "Ada", "#f00")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/workspace", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServer_LiveUpgradeSurvivesMiddlewareChain(t *testing.T) {
	cfg := testConfig(t)
	cfg.AssemblyAIKey = "aai-test-key"
	s := testServer(t, cfg)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	// The logging and metrics wrappers must not hide the hijacker from the
	// websocket upgrader.
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/live/deliberation-map"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status=%d)", err, status)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status=%d, want 101", resp.StatusCode)
	}
}

func TestServer_TokenRouteWithoutKey_Returns500(t *testing.T) {
	s := testServer(t, testConfig(t))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/assemblyai/token", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServer_Drain_FlipsReadiness(t *testing.T) {
	s := testServer(t, testConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Drain(ctx)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503 after drain", rr.Code)
	}
}
