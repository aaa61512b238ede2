// Package anthropic implements the agent provider against the Anthropic
// Messages API. Canvas actions are exposed to the model as tools; tool_use
// blocks in the reply become raw actions for the pipeline to validate.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/deliberatorium/deliberatorium/pkg/agent"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	defaultModel   = "claude-sonnet-4-20250514"
	maxTokens      = 2048
)

type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

type Option func(*Provider)

func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

func WithModel(m string) Option {
	return func(p *Provider) { p.model = m }
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "anthropic" }

type apiRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Tools     []tool    `json:"tools,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type apiResponse struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) Propose(ctx context.Context, req agent.ProposeRequest) (*agent.Proposal, error) {
	body, err := json.Marshal(apiRequest{
		Model:     p.model,
		MaxTokens: maxTokens,
		System:    systemPrompt(req),
		Messages:  []message{{Role: "user", Content: userPrompt(req)}},
		Tools:     actionTools(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Error.Message != "" {
			return nil, fmt.Errorf("anthropic: %s: %s", ae.Error.Type, ae.Error.Message)
		}
		return nil, fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, string(raw))
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	proposal := &agent.Proposal{}
	for _, block := range out.Content {
		switch block.Type {
		case "text":
			if proposal.Reply != "" {
				proposal.Reply += "\n"
			}
			proposal.Reply += block.Text
		case "tool_use":
			raw, ok := decodeToolUse(block.Name, block.Input)
			if !ok {
				continue
			}
			proposal.Actions = append(proposal.Actions, raw)
		}
	}
	if req.MaxActions > 0 && len(proposal.Actions) > req.MaxActions {
		proposal.Actions = proposal.Actions[:req.MaxActions]
	}
	return proposal, nil
}

func decodeToolUse(name string, input json.RawMessage) (agent.RawAction, bool) {
	var raw agent.RawAction
	if err := json.Unmarshal(input, &raw); err != nil {
		return agent.RawAction{}, false
	}
	switch name {
	case agent.ActionCreateConceptNode, agent.ActionCreateRelationshipEdge:
		raw.Type = name
	default:
		return agent.RawAction{}, false
	}
	raw.Complete = true
	return raw, true
}

func actionTools() []tool {
	return []tool{
		{
			Name:        agent.ActionCreateConceptNode,
			Description: "Create one concept node (a notecard) on the whiteboard.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"shapeId": map[string]any{"type": "string", "description": "Unique id for the new shape."},
					"text":    map[string]any{"type": "string", "description": "The concept written on the card."},
					"x":       map[string]any{"type": "number"},
					"y":       map[string]any{"type": "number"},
					"w":       map[string]any{"type": "number"},
					"h":       map[string]any{"type": "number"},
				},
				"required": []string{"shapeId", "text"},
			},
		},
		{
			Name:        agent.ActionCreateRelationshipEdge,
			Description: "Create a labeled arrow between two existing shapes.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"shapeId":  map[string]any{"type": "string"},
					"sourceId": map[string]any{"type": "string"},
					"targetId": map[string]any{"type": "string"},
					"label":    map[string]any{"type": "string"},
				},
				"required": []string{"shapeId", "sourceId", "targetId"},
			},
		},
	}
}

func systemPrompt(req agent.ProposeRequest) string {
	var b strings.Builder
	b.WriteString("You are the Deliberatorium whiteboard agent. You help participants map arguments by drawing concept nodes and relationship edges. ")
	b.WriteString("Place new nodes inside the current viewport and connect edges only to shapes that exist.")
	if req.MaxActions > 0 {
		fmt.Fprintf(&b, " Emit at most %d action(s).", req.MaxActions)
	}
	return b.String()
}

func userPrompt(req agent.ProposeRequest) string {
	var b strings.Builder
	if req.ReadingContext != "" {
		b.WriteString("Reading context:\n")
		b.WriteString(req.ReadingContext)
		b.WriteString("\n\n")
	}
	if req.Viewport.W > 0 {
		fmt.Fprintf(&b, "Viewport: x=%.0f y=%.0f w=%.0f h=%.0f\n", req.Viewport.X, req.Viewport.Y, req.Viewport.W, req.Viewport.H)
	}
	if len(req.Shapes) > 0 {
		b.WriteString("Shapes on the canvas:\n")
		for _, s := range req.Shapes {
			text, _ := s.Props["text"].(string)
			fmt.Fprintf(&b, "- %s %s %q at (%.0f, %.0f)\n", s.ID, s.Kind, text, s.Bounds.X, s.Bounds.Y)
		}
		b.WriteString("\n")
	}
	b.WriteString(req.Instruction)
	return b.String()
}
