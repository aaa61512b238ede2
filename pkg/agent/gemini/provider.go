// Package gemini implements the agent provider on top of the official
// google.golang.org/genai SDK, using structured JSON output instead of tool
// calls: the response schema mirrors the action pipeline's raw action shape.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/deliberatorium/deliberatorium/pkg/agent"
)

const defaultModel = "gemini-2.0-flash"

type Provider struct {
	client *genai.Client
	model  string
}

// New creates the provider. model may be empty to use the default.
func New(ctx context.Context, apiKey, model string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Name() string { return "gemini" }

// proposalJSON is the structured output contract given to the model.
type proposalJSON struct {
	Reply   string            `json:"reply"`
	Actions []agent.RawAction `json:"actions"`
}

func (p *Provider) Propose(ctx context.Context, req agent.ProposeRequest) (*agent.Proposal, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt(req), genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    proposalSchema(),
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(userPrompt(req)), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate: %w", err)
	}

	var out proposalJSON
	if err := json.Unmarshal([]byte(resp.Text()), &out); err != nil {
		return nil, fmt.Errorf("gemini: decode structured output: %w", err)
	}

	proposal := &agent.Proposal{Reply: out.Reply}
	for _, raw := range out.Actions {
		raw.Complete = true
		proposal.Actions = append(proposal.Actions, raw)
	}
	if req.MaxActions > 0 && len(proposal.Actions) > req.MaxActions {
		proposal.Actions = proposal.Actions[:req.MaxActions]
	}
	return proposal, nil
}

func proposalSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"reply": {Type: genai.TypeString, Description: "Short reply shown in the chat panel."},
			"actions": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"type":     {Type: genai.TypeString, Enum: []string{agent.ActionCreateConceptNode, agent.ActionCreateRelationshipEdge}},
						"shapeId":  {Type: genai.TypeString},
						"text":     {Type: genai.TypeString},
						"x":        {Type: genai.TypeNumber},
						"y":        {Type: genai.TypeNumber},
						"w":        {Type: genai.TypeNumber},
						"h":        {Type: genai.TypeNumber},
						"sourceId": {Type: genai.TypeString},
						"targetId": {Type: genai.TypeString},
						"label":    {Type: genai.TypeString},
					},
					Required: []string{"type", "shapeId"},
				},
			},
		},
		Required: []string{"reply", "actions"},
	}
}

func systemPrompt(req agent.ProposeRequest) string {
	var b strings.Builder
	b.WriteString("You are the Deliberatorium whiteboard agent. Map arguments by creating concept nodes and relationship edges. ")
	b.WriteString("Place nodes inside the viewport; connect edges only between existing shape ids.")
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
