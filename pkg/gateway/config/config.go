// Package config loads gateway configuration from the environment and
// validates it up front so a misconfigured process fails at boot, not under
// traffic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider selects the agent LLM backend.
type Provider string

const (
	ProviderNone      Provider = ""
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

type Config struct {
	Addr    string
	DataDir string

	// SharedPassword gates the whole UI. Empty disables the gate (local
	// single-user mode).
	SharedPassword string
	// SessionSecret signs session tokens. Empty means a random per-process
	// secret; sessions then die with the process.
	SessionSecret string
	SessionTTL    time.Duration

	// AssemblyAI streaming.
	AssemblyAIKey      string
	AssemblyAIBaseURL  string
	AssemblyAITokenTTL int // seconds, for minted client tokens

	// Agent backend.
	AgentProvider   Provider
	AgentModel      string
	AnthropicAPIKey string
	GeminiAPIKey    string

	// CORS: empty map disables cross-origin access.
	CORSAllowedOrigins map[string]struct{}

	MaxBodyBytes int64

	// Per-principal limits.
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	// Live websocket sessions.
	LiveMaxSessionsPerPrincipal int
	LiveMaxAudioFrameBytes      int
	LiveMaxJSONMessageBytes     int64
	LiveWSPingInterval          time.Duration
	LiveWSWriteTimeout          time.Duration
	// LiveWSReadTimeout bounds the gap between inbound frames; pongs
	// refresh it. It must outlast the ping interval or healthy idle
	// sessions get cut.
	LiveWSReadTimeout    time.Duration
	LiveHandshakeTimeout time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                        envOr("DELIB_ADDR", ":8080"),
		DataDir:                     envOr("DELIB_DATA_DIR", "./data"),
		SharedPassword:              os.Getenv("DELIB_SHARED_PASSWORD"),
		SessionSecret:               os.Getenv("DELIB_SESSION_SECRET"),
		SessionTTL:                  envDurationOr("DELIB_SESSION_TTL", 12*time.Hour),
		AssemblyAIKey:               os.Getenv("DELIB_ASSEMBLYAI_API_KEY"),
		AssemblyAIBaseURL:           envOr("DELIB_ASSEMBLYAI_BASE_URL", "https://streaming.assemblyai.com"),
		AssemblyAITokenTTL:          envIntOr("DELIB_ASSEMBLYAI_TOKEN_TTL", 60),
		AgentProvider:               Provider(strings.ToLower(envOr("DELIB_AGENT_PROVIDER", ""))),
		AgentModel:                  os.Getenv("DELIB_AGENT_MODEL"),
		AnthropicAPIKey:             os.Getenv("DELIB_ANTHROPIC_API_KEY"),
		GeminiAPIKey:                os.Getenv("DELIB_GEMINI_API_KEY"),
		CORSAllowedOrigins:          make(map[string]struct{}),
		MaxBodyBytes:                envInt64Or("DELIB_MAX_BODY_BYTES", 4<<20), // 4 MiB
		LimitRPS:                    envFloat64Or("DELIB_RATE_LIMIT_RPS", 5.0),
		LimitBurst:                  envIntOr("DELIB_RATE_LIMIT_BURST", 10),
		LimitMaxConcurrentRequests:  envIntOr("DELIB_MAX_CONCURRENT_REQUESTS", 32),
		LiveMaxSessionsPerPrincipal: envIntOr("DELIB_LIVE_MAX_SESSIONS_PER_PRINCIPAL", 2),
		LiveMaxAudioFrameBytes:      envIntOr("DELIB_LIVE_MAX_AUDIO_FRAME_BYTES", 8192),
		LiveMaxJSONMessageBytes:     envInt64Or("DELIB_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveWSPingInterval:          envDurationOr("DELIB_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:          envDurationOr("DELIB_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:           envDurationOr("DELIB_LIVE_WS_READ_TIMEOUT", 60*time.Second),
		LiveHandshakeTimeout:        envDurationOr("DELIB_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:           envDurationOr("DELIB_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                 envDurationOr("DELIB_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:         envDurationOr("DELIB_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("DELIB_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.AgentProvider {
	case ProviderNone, ProviderAnthropic, ProviderGemini:
	default:
		return Config{}, fmt.Errorf("DELIB_AGENT_PROVIDER must be one of anthropic|gemini or unset")
	}
	if cfg.AgentProvider == ProviderAnthropic && cfg.AnthropicAPIKey == "" {
		return Config{}, fmt.Errorf("DELIB_ANTHROPIC_API_KEY must be set when DELIB_AGENT_PROVIDER=anthropic")
	}
	if cfg.AgentProvider == ProviderGemini && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("DELIB_GEMINI_API_KEY must be set when DELIB_AGENT_PROVIDER=gemini")
	}

	if strings.TrimSpace(cfg.DataDir) == "" {
		return Config{}, fmt.Errorf("DELIB_DATA_DIR must not be empty")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("DELIB_SESSION_TTL must be > 0")
	}
	if cfg.AssemblyAITokenTTL <= 0 {
		return Config{}, fmt.Errorf("DELIB_ASSEMBLYAI_TOKEN_TTL must be > 0")
	}
	if strings.TrimSpace(cfg.AssemblyAIBaseURL) == "" {
		return Config{}, fmt.Errorf("DELIB_ASSEMBLYAI_BASE_URL must not be empty")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("DELIB_MAX_BODY_BYTES must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("DELIB_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("DELIB_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("DELIB_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.LiveMaxSessionsPerPrincipal <= 0 {
		return Config{}, fmt.Errorf("DELIB_LIVE_MAX_SESSIONS_PER_PRINCIPAL must be > 0")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("DELIB_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("DELIB_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("DELIB_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("DELIB_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout <= cfg.LiveWSPingInterval {
		return Config{}, fmt.Errorf("DELIB_LIVE_WS_READ_TIMEOUT must be longer than DELIB_LIVE_WS_PING_INTERVAL")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("DELIB_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 || cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("DELIB_READ_HEADER_TIMEOUT and DELIB_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("DELIB_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// AuthRequired reports whether requests must carry a session token.
func (c Config) AuthRequired() bool { return c.SharedPassword != "" }

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
