package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Errorf("SessionTTL = %v, want 12h", cfg.SessionTTL)
	}
	if cfg.AssemblyAIBaseURL != "https://streaming.assemblyai.com" {
		t.Errorf("AssemblyAIBaseURL = %q", cfg.AssemblyAIBaseURL)
	}
	if cfg.AgentProvider != ProviderNone {
		t.Errorf("AgentProvider = %q, want empty", cfg.AgentProvider)
	}
	if cfg.AuthRequired() {
		t.Error("AuthRequired() should be false with no shared password")
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Errorf("CORSAllowedOrigins = %v, want empty", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("DELIB_ADDR", ":9191")
	t.Setenv("DELIB_SHARED_PASSWORD", "hunter2")
	t.Setenv("DELIB_SESSION_TTL", "90m")
	t.Setenv("DELIB_CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("DELIB_RATE_LIMIT_RPS", "2.5")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":9191" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if !cfg.AuthRequired() {
		t.Error("AuthRequired() should be true with shared password set")
	}
	if cfg.SessionTTL != 90*time.Minute {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.LimitRPS != 2.5 {
		t.Errorf("LimitRPS = %v", cfg.LimitRPS)
	}
	for _, origin := range []string{"https://a.example", "https://b.example"} {
		if _, ok := cfg.CORSAllowedOrigins[origin]; !ok {
			t.Errorf("missing origin %q", origin)
		}
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Errorf("got %d origins, want 2", len(cfg.CORSAllowedOrigins))
	}
}

func TestLoadFromEnvBadValuesFallBack(t *testing.T) {
	t.Setenv("DELIB_SESSION_TTL", "not-a-duration")
	t.Setenv("DELIB_RATE_LIMIT_BURST", "nope")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Errorf("SessionTTL = %v, want default", cfg.SessionTTL)
	}
	if cfg.LimitBurst != 10 {
		t.Errorf("LimitBurst = %d, want default", cfg.LimitBurst)
	}
}

func TestLoadFromEnvLiveReadTimeout(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.LiveWSReadTimeout != 60*time.Second {
		t.Errorf("LiveWSReadTimeout = %v, want 60s default", cfg.LiveWSReadTimeout)
	}

	t.Setenv("DELIB_LIVE_WS_READ_TIMEOUT", "90s")
	cfg, err = LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.LiveWSReadTimeout != 90*time.Second {
		t.Errorf("LiveWSReadTimeout = %v", cfg.LiveWSReadTimeout)
	}

	// A read timeout shorter than the ping interval would cut idle
	// sessions before the first pong could refresh the deadline.
	t.Setenv("DELIB_LIVE_WS_READ_TIMEOUT", "10s")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error: read timeout shorter than ping interval")
	}
}

func TestLoadFromEnvProviderValidation(t *testing.T) {
	t.Setenv("DELIB_AGENT_PROVIDER", "anthropic")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error: anthropic provider without API key")
	}
	t.Setenv("DELIB_ANTHROPIC_API_KEY", "sk-test")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.AgentProvider != ProviderAnthropic {
		t.Errorf("AgentProvider = %q", cfg.AgentProvider)
	}
}

func TestLoadFromEnvUnknownProvider(t *testing.T) {
	t.Setenv("DELIB_AGENT_PROVIDER", "openai")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
