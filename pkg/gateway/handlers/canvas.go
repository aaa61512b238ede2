package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/deliberatorium/deliberatorium/pkg/agent"
	"github.com/deliberatorium/deliberatorium/pkg/canvas"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/apierror"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/auth"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/config"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/metrics"
	"github.com/deliberatorium/deliberatorium/pkg/workspace"
)

// CanvasHandler serves document snapshots, client sync saves, and agent
// chat under /v1/canvas/{key}.
type CanvasHandler struct {
	Config     config.Config
	Canvases   *canvas.Service
	Workspaces *workspace.Service
	Agent      *agent.Orchestrator
	Metrics    *metrics.Metrics
}

type saveCanvasRequest struct {
	Shapes []canvas.Shape `json:"shapes"`
}

type chatRequest struct {
	Message   string        `json:"message"`
	ReadingID string        `json:"readingId,omitempty"`
	Viewport  canvas.Bounds `json:"viewport,omitempty"`
}

type chatResponse struct {
	Reply          string   `json:"reply"`
	ActionsApplied []string `json:"actionsApplied"`
	SkippedActions int      `json:"skippedActions,omitempty"`
}

func (h CanvasHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/canvas"), "/")
	key, sub, _ := strings.Cut(rest, "/")
	if key == "" {
		writeError(w, r, apierror.NewNotFound("not found"))
		return
	}

	switch sub {
	case "":
		h.serveDocument(w, r, key)
	case "chat":
		h.serveChat(w, r, key)
	default:
		writeError(w, r, apierror.NewNotFound("not found"))
	}
}

func (h CanvasHandler) serveDocument(w http.ResponseWriter, r *http.Request, key string) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Canvases.Get(key))
	case http.MethodPut:
		var req saveCanvasRequest
		if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
			writeError(w, r, err)
			return
		}
		author := "Guest"
		if p, ok := auth.PrincipalFrom(r.Context()); ok && p.Name != "" {
			author = p.Name
		}
		doc, err := h.Canvases.Save(key, req.Shapes, author)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	default:
		writeError(w, r, apierror.NewInvalidRequest("method not allowed"))
	}
}

func (h CanvasHandler) serveChat(w http.ResponseWriter, r *http.Request, key string) {
	if r.Method != http.MethodPost {
		writeError(w, r, apierror.NewInvalidRequest("method not allowed"))
		return
	}

	var req chatRequest
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, r, apierror.NewInvalidRequestWithParam("message must not be empty", "message"))
		return
	}
	if h.Agent == nil || !h.Agent.HasProvider() {
		writeError(w, r, apierror.NewAPI("agent provider is not configured"))
		return
	}

	proposeReq := agent.ProposeRequest{
		Instruction: req.Message,
		Viewport:    req.Viewport,
	}
	if req.ReadingID != "" {
		reading, ok := h.Workspaces.Reading(req.ReadingID)
		if !ok {
			writeError(w, r, apierror.NewNotFound("reading not found"))
			return
		}
		proposeReq.ReadingContext = reading.AgentContext()
	}

	result, err := h.Agent.Chat(r.Context(), key, proposeReq)
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.RecordAgentRequest(string(h.Config.AgentProvider), "error")
		}
		if errors.Is(err, agent.ErrNoProvider) {
			writeError(w, r, apierror.NewAPI("agent provider is not configured"))
			return
		}
		writeError(w, r, apierror.NewUpstream(string(h.Config.AgentProvider), err))
		return
	}
	if h.Metrics != nil {
		h.Metrics.RecordAgentRequest(string(h.Config.AgentProvider), "ok")
		for range result.AppliedShapes {
			h.Metrics.RecordAction("chat", "applied")
		}
		for i := 0; i < result.SkippedActions; i++ {
			h.Metrics.RecordAction("chat", "skipped")
		}
	}

	applied := result.AppliedShapes
	if applied == nil {
		applied = []string{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Reply:          result.Reply,
		ActionsApplied: applied,
		SkippedActions: result.SkippedActions,
	})
}
