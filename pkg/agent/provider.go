package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maruel/ksid"

	"github.com/deliberatorium/deliberatorium/pkg/canvas"
)

// ErrNoProvider is returned when no LLM backend is configured.
var ErrNoProvider = errors.New("agent: no provider configured")

// ProposeRequest carries the user instruction and the context the model may
// draw on. ReadingContext is already truncated by the workspace layer.
type ProposeRequest struct {
	Instruction    string
	ReadingContext string
	Viewport       canvas.Bounds
	Shapes         []canvas.Shape

	// MaxActions caps how many actions a proposal may carry. Zero means the
	// orchestrator default.
	MaxActions int
}

// Proposal is the model's reply plus the actions it wants applied.
type Proposal struct {
	Reply   string
	Actions []RawAction
}

// Provider is an LLM backend able to propose canvas actions.
type Provider interface {
	Name() string
	Propose(ctx context.Context, req ProposeRequest) (*Proposal, error)
}

// Result summarizes one orchestrated chat turn.
type Result struct {
	Reply          string   `json:"reply"`
	AppliedShapes  []string `json:"appliedShapes"`
	SkippedActions int      `json:"skippedActions"`
}

// Orchestrator drives a provider and applies its proposals to canvases.
type Orchestrator struct {
	provider Provider
	canvases *canvas.Service
	now      func() time.Time
}

func NewOrchestrator(p Provider, canvases *canvas.Service) *Orchestrator {
	return &Orchestrator{provider: p, canvases: canvases, now: time.Now}
}

// HasProvider reports whether an LLM backend is configured.
func (o *Orchestrator) HasProvider() bool { return o.provider != nil }

// Chat runs one instruction against the canvas identified by key: ask the
// provider, validate its actions, apply what passes. Provider failures are
// returned; individual action failures only reduce what gets applied.
func (o *Orchestrator) Chat(ctx context.Context, key string, req ProposeRequest) (*Result, error) {
	if o.provider == nil {
		return nil, ErrNoProvider
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, fmt.Errorf("agent: empty instruction")
	}
	if req.Viewport.W <= 0 || req.Viewport.H <= 0 {
		req.Viewport = DefaultViewport()
	}
	req.Shapes = o.canvases.Get(key).Shapes

	proposal, err := o.provider.Propose(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent: %s: %w", o.provider.Name(), err)
	}

	res := &Result{Reply: proposal.Reply}
	if len(proposal.Actions) == 0 {
		return res, nil
	}

	_, err = o.canvases.Mutate(key, func(doc *canvas.Document) error {
		applied, errs := ApplyAll(doc, proposal.Actions, req.Viewport, o.now().UTC())
		res.AppliedShapes = applied
		res.SkippedActions = len(errs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Notecard creates exactly one concept node for a finalized speech turn,
// placed at the given grid slot. When a provider is configured it is asked to
// title the card; the transcript is the fallback and the node count is
// enforced here, not trusted to the model.
func (o *Orchestrator) Notecard(ctx context.Context, key, transcript string, slot canvas.Bounds) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", fmt.Errorf("agent: empty transcript")
	}

	text := transcript
	if o.provider != nil {
		req := ProposeRequest{
			Instruction: "Summarize this spoken remark into a short notecard title, then create exactly one concept node for it: " + transcript,
			MaxActions:  1,
		}
		if proposal, err := o.provider.Propose(ctx, req); err == nil {
			for _, raw := range proposal.Actions {
				if raw.Type == ActionCreateConceptNode && strings.TrimSpace(raw.Text) != "" {
					text = strings.TrimSpace(raw.Text)
					break
				}
			}
		}
		// Provider failure falls through to the raw transcript: voice capture
		// must keep working when the model is down.
	}

	id := "note-" + ksid.NewID().String()
	a := Action{
		Type:    ActionCreateConceptNode,
		ShapeID: id,
		Text:    text,
		X:       slot.X,
		Y:       slot.Y,
		W:       slot.W,
		H:       slot.H,
		HasPos:  true,
	}
	a.W, a.H = ClampNodeSize(a.W, a.H)

	_, err := o.canvases.Mutate(key, func(doc *canvas.Document) error {
		return Apply(doc, a, slot, o.now().UTC())
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
