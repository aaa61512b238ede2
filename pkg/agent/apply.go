package agent

import (
	"fmt"
	"time"

	"github.com/deliberatorium/deliberatorium/pkg/canvas"
)

// AgentAuthor is stamped onto every AI-created shape.
const AgentAuthor = "Deliberatorium Agent"

// Fixed visual style for AI-created shapes.
func aiNodeProps(text string) map[string]any {
	return map[string]any{
		"text":   text,
		"fill":   "#eef2ff",
		"stroke": "#4f46e5",
		"shape":  "notecard",
	}
}

func aiEdgeProps(label string) map[string]any {
	props := map[string]any{
		"stroke": "#4f46e5",
		"dash":   "drawn",
		"arrow":  true,
	}
	if label != "" {
		props["label"] = label
	}
	return props
}

// Apply mutates doc with a single normalized action. Creation is
// fire-and-forget: an error aborts this action only.
func Apply(doc *canvas.Document, a Action, viewport canvas.Bounds, now time.Time) error {
	if doc.Has(a.ShapeID) {
		return fmt.Errorf("agent: shape %q already exists", a.ShapeID)
	}

	switch a.Type {
	case ActionCreateConceptNode:
		x, y := a.X, a.Y
		if !a.HasPos {
			// No proposed position: drop the node at the viewport center.
			x = viewport.CenterX() - a.W/2
			y = viewport.CenterY() - a.H/2
		}
		doc.Shapes = append(doc.Shapes, canvas.Shape{
			ID:     a.ShapeID,
			Kind:   canvas.KindConcept,
			Bounds: canvas.Bounds{X: x, Y: y, W: a.W, H: a.H},
			Props:  aiNodeProps(a.Text),
			Meta:   canvas.StampAI(AgentAuthor, now),
		})
		return nil

	case ActionCreateRelationshipEdge:
		src, ok := doc.Find(a.SourceID)
		if !ok {
			return fmt.Errorf("agent: edge %q: source shape %q not found", a.ShapeID, a.SourceID)
		}
		dst, ok := doc.Find(a.TargetID)
		if !ok {
			return fmt.Errorf("agent: edge %q: target shape %q not found", a.ShapeID, a.TargetID)
		}
		if src.Bounds.W <= 0 || src.Bounds.H <= 0 {
			return fmt.Errorf("agent: edge %q: source shape %q has no bounds", a.ShapeID, a.SourceID)
		}
		if dst.Bounds.W <= 0 || dst.Bounds.H <= 0 {
			return fmt.Errorf("agent: edge %q: target shape %q has no bounds", a.ShapeID, a.TargetID)
		}
		doc.Shapes = append(doc.Shapes, canvas.Shape{
			ID:       a.ShapeID,
			Kind:     canvas.KindRelationship,
			SourceID: a.SourceID,
			TargetID: a.TargetID,
			Start:    canvas.Point{X: src.Bounds.CenterX(), Y: src.Bounds.CenterY()},
			End:      canvas.Point{X: dst.Bounds.CenterX(), Y: dst.Bounds.CenterY()},
			Props:    aiEdgeProps(a.Label),
			Meta:     canvas.StampAI(AgentAuthor, now),
		})
		return nil

	default:
		return fmt.Errorf("agent: unknown action type %q", a.Type)
	}
}

// ApplyAll normalizes and applies a batch of raw actions in order. Incomplete
// or invalid actions are skipped; each failure is reported against its index.
// Returned ids are the shapes actually created.
func ApplyAll(doc *canvas.Document, raw []RawAction, viewport canvas.Bounds, now time.Time) (applied []string, errs []error) {
	for i, r := range raw {
		if !r.Complete {
			continue
		}
		a, err := r.Normalize()
		if err != nil {
			errs = append(errs, fmt.Errorf("action %d: %w", i, err))
			continue
		}
		if err := Apply(doc, a, viewport, now); err != nil {
			errs = append(errs, fmt.Errorf("action %d: %w", i, err))
			continue
		}
		applied = append(applied, a.ShapeID)
	}
	return applied, errs
}
