// Package agent turns model-proposed actions into canvas mutations. Actions
// arrive loosely typed (models emit numbers as strings often enough that
// coercion is mandatory), are normalized against defaults and minimums, and
// are applied fire-and-forget against a canvas document: a failed action is
// skipped, never retried.
package agent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Action types the pipeline understands.
const (
	ActionCreateConceptNode      = "create_concept_node"
	ActionCreateRelationshipEdge = "create_relationship_edge"
)

// Node sizing. Proposed dimensions below the minimum are clamped up.
const (
	MinNodeWidth  = 180.0
	MinNodeHeight = 140.0

	DefaultNodeWidth  = 220.0
	DefaultNodeHeight = 160.0
)

// RawAction is an agent proposal before normalization. Numeric fields are
// `any` because providers stream them as numbers or strings interchangeably.
type RawAction struct {
	Type     string `json:"type"`
	ShapeID  string `json:"shapeId"`
	Text     string `json:"text,omitempty"`
	X        any    `json:"x,omitempty"`
	Y        any    `json:"y,omitempty"`
	W        any    `json:"w,omitempty"`
	H        any    `json:"h,omitempty"`
	SourceID string `json:"sourceId,omitempty"`
	TargetID string `json:"targetId,omitempty"`
	Label    string `json:"label,omitempty"`

	// Complete is false while an action is still streaming in. Incomplete
	// actions are validated but never applied.
	Complete bool `json:"complete"`
}

// Action is a normalized, applicable proposal.
type Action struct {
	Type     string
	ShapeID  string
	Text     string
	X, Y     float64
	W, H     float64
	HasPos   bool
	SourceID string
	TargetID string
	Label    string
}

// Normalize validates a raw action and coerces its fields. It does not check
// the action against any document; that happens at apply time.
func (r RawAction) Normalize() (Action, error) {
	a := Action{
		Type:     strings.TrimSpace(r.Type),
		ShapeID:  strings.TrimSpace(r.ShapeID),
		Text:     strings.TrimSpace(r.Text),
		SourceID: strings.TrimSpace(r.SourceID),
		TargetID: strings.TrimSpace(r.TargetID),
		Label:    strings.TrimSpace(r.Label),
	}
	if a.ShapeID == "" {
		return Action{}, fmt.Errorf("agent: action missing shapeId")
	}

	switch a.Type {
	case ActionCreateConceptNode:
		if a.Text == "" {
			return Action{}, fmt.Errorf("agent: concept node %q has no text", a.ShapeID)
		}
		var okX, okY bool
		a.X, okX = coerceNumber(r.X)
		a.Y, okY = coerceNumber(r.Y)
		a.HasPos = okX && okY
		if w, ok := coerceNumber(r.W); ok {
			a.W = w
		} else {
			a.W = DefaultNodeWidth
		}
		if h, ok := coerceNumber(r.H); ok {
			a.H = h
		} else {
			a.H = DefaultNodeHeight
		}
		a.W, a.H = ClampNodeSize(a.W, a.H)
	case ActionCreateRelationshipEdge:
		if a.SourceID == "" || a.TargetID == "" {
			return Action{}, fmt.Errorf("agent: edge %q missing source or target", a.ShapeID)
		}
		if a.SourceID == a.TargetID {
			return Action{}, fmt.Errorf("agent: edge %q connects a shape to itself", a.ShapeID)
		}
	default:
		return Action{}, fmt.Errorf("agent: unknown action type %q", r.Type)
	}
	return a, nil
}

// ClampNodeSize enforces minimum concept-node dimensions.
func ClampNodeSize(w, h float64) (float64, float64) {
	if w < MinNodeWidth {
		w = MinNodeWidth
	}
	if h < MinNodeHeight {
		h = MinNodeHeight
	}
	return w, h
}

// coerceNumber accepts float64, integer, json.Number, and numeric strings.
func coerceNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
