package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/deliberatorium/deliberatorium/pkg/gateway/config"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		AuthEnabled  bool     `json:"auth_enabled"`
		AgentEnabled bool     `json:"agent_enabled"`
		LiveEnabled  bool     `json:"live_enabled"`
		Draining     bool     `json:"draining,omitempty"`
		Issues       []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		issues = append(issues, "draining")
	}
	if h.Config.DataDir == "" {
		issues = append(issues, "data dir must be set")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.LiveMaxAudioFrameBytes <= 0 || h.Config.LiveMaxJSONMessageBytes <= 0 {
		issues = append(issues, "live frame budgets must be > 0")
	}
	if h.Config.LiveWSPingInterval <= 0 || h.Config.LiveWSWriteTimeout <= 0 || h.Config.LiveWSReadTimeout <= 0 || h.Config.LiveHandshakeTimeout <= 0 {
		issues = append(issues, "live timeouts must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}
	if h.Config.AgentProvider != config.ProviderNone && h.Config.AgentProvider != config.ProviderAnthropic && h.Config.AgentProvider != config.ProviderGemini {
		issues = append(issues, "invalid agent provider")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:           ok,
		AuthEnabled:  h.Config.AuthRequired(),
		AgentEnabled: h.Config.AgentProvider != config.ProviderNone,
		LiveEnabled:  h.Config.AssemblyAIKey != "",
		Draining:     h.Lifecycle != nil && h.Lifecycle.IsDraining(),
		Issues:       issues,
	})
}
