package agent

import (
	"context"
	"testing"
	"time"

	"github.com/deliberatorium/deliberatorium/pkg/canvas"
	"github.com/deliberatorium/deliberatorium/pkg/store"
)

var testViewport = canvas.Bounds{X: 0, Y: 0, W: 1200, H: 800}

func TestApplyCreatesConceptNode(t *testing.T) {
	doc := &canvas.Document{Key: "map"}
	a := Action{
		Type: ActionCreateConceptNode, ShapeID: "n1", Text: "claim",
		X: 100, Y: 50, W: 200, H: 150, HasPos: true,
	}
	if err := Apply(doc, a, testViewport, time.UnixMilli(7)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	sh, ok := doc.Find("n1")
	if !ok {
		t.Fatal("node not created")
	}
	if sh.Kind != canvas.KindConcept {
		t.Errorf("kind = %q", sh.Kind)
	}
	if sh.Bounds != (canvas.Bounds{X: 100, Y: 50, W: 200, H: 150}) {
		t.Errorf("bounds = %+v", sh.Bounds)
	}
	if sh.Meta[canvas.MetaSource] != canvas.SourceAI {
		t.Errorf("meta = %+v, want ai source", sh.Meta)
	}
	if sh.Props["text"] != "claim" {
		t.Errorf("props = %+v", sh.Props)
	}
}

func TestApplyNodeWithoutPositionCentersInViewport(t *testing.T) {
	doc := &canvas.Document{}
	a := Action{Type: ActionCreateConceptNode, ShapeID: "n1", Text: "x", W: 200, H: 100}
	if err := Apply(doc, a, testViewport, time.Now()); err != nil {
		t.Fatal(err)
	}
	sh, _ := doc.Find("n1")
	if sh.Bounds.X != 500 || sh.Bounds.Y != 350 {
		t.Errorf("bounds = %+v, want centered (500, 350)", sh.Bounds)
	}
}

func TestApplyRejectsDuplicateShapeID(t *testing.T) {
	doc := &canvas.Document{Shapes: []canvas.Shape{{ID: "n1", Kind: canvas.KindConcept}}}
	a := Action{Type: ActionCreateConceptNode, ShapeID: "n1", Text: "x", W: 200, H: 150}
	if err := Apply(doc, a, testViewport, time.Now()); err == nil {
		t.Error("Apply() with existing id succeeded, want error")
	}
	if len(doc.Shapes) != 1 {
		t.Errorf("shapes = %d, want document untouched", len(doc.Shapes))
	}
}

func TestApplyEdgeComputesBoundingBoxCenters(t *testing.T) {
	doc := &canvas.Document{Shapes: []canvas.Shape{
		{ID: "a", Kind: canvas.KindConcept, Bounds: canvas.Bounds{X: 0, Y: 0, W: 200, H: 100}},
		{ID: "b", Kind: canvas.KindConcept, Bounds: canvas.Bounds{X: 400, Y: 300, W: 100, H: 100}},
	}}
	a := Action{Type: ActionCreateRelationshipEdge, ShapeID: "e1", SourceID: "a", TargetID: "b", Label: "supports"}
	if err := Apply(doc, a, testViewport, time.Now()); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	edge, ok := doc.Find("e1")
	if !ok {
		t.Fatal("edge not created")
	}
	if edge.Start != (canvas.Point{X: 100, Y: 50}) {
		t.Errorf("start = %+v, want source center", edge.Start)
	}
	if edge.End != (canvas.Point{X: 450, Y: 350}) {
		t.Errorf("end = %+v, want target center", edge.End)
	}
	if edge.Props["label"] != "supports" {
		t.Errorf("props = %+v", edge.Props)
	}
}

func TestApplyEdgeAbortsOnMissingShapeOrBounds(t *testing.T) {
	doc := &canvas.Document{Shapes: []canvas.Shape{
		{ID: "a", Kind: canvas.KindConcept, Bounds: canvas.Bounds{W: 100, H: 100}},
		{ID: "flat", Kind: canvas.KindConcept}, // zero bounds
	}}
	tests := []struct {
		name           string
		source, target string
	}{
		{"missing target", "a", "ghost"},
		{"missing source", "ghost", "a"},
		{"target without bounds", "a", "flat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Action{Type: ActionCreateRelationshipEdge, ShapeID: "e", SourceID: tt.source, TargetID: tt.target}
			if err := Apply(doc, a, testViewport, time.Now()); err == nil {
				t.Error("Apply() succeeded, want error")
			}
		})
	}
	if len(doc.Shapes) != 2 {
		t.Errorf("shapes = %d, want no edges added", len(doc.Shapes))
	}
}

func TestApplyAllSkipsIncompleteAndInvalid(t *testing.T) {
	doc := &canvas.Document{}
	raw := []RawAction{
		{Type: ActionCreateConceptNode, ShapeID: "n1", Text: "streaming", Complete: false},
		{Type: ActionCreateConceptNode, ShapeID: "n2", Text: "done", Complete: true},
		{Type: ActionCreateConceptNode, ShapeID: "", Text: "invalid", Complete: true},
		{Type: ActionCreateRelationshipEdge, ShapeID: "e1", SourceID: "n2", TargetID: "ghost", Complete: true},
	}
	applied, errs := ApplyAll(doc, raw, testViewport, time.Now())
	if len(applied) != 1 || applied[0] != "n2" {
		t.Errorf("applied = %v, want [n2]", applied)
	}
	if len(errs) != 2 {
		t.Errorf("errs = %v, want 2 skipped", errs)
	}
}

func TestLaneGridLayout(t *testing.T) {
	lane := NewLane(canvas.Bounds{X: 0, Y: 0, W: 1200, H: 800})

	first := lane.Next()
	second := lane.Next()
	if first.W != MinNodeWidth || first.H != MinNodeHeight {
		t.Errorf("slot size = (%v, %v), want minimum node size", first.W, first.H)
	}
	if second.Y != first.Y || second.X != first.X+LaneCellWidth {
		t.Errorf("second slot = %+v, want one cell right of %+v", second, first)
	}

	// Exhaust the first row; the next slot must drop one row down.
	usable := 1200 - 2*laneInset
	cols := int(usable / LaneCellWidth)
	for i := 2; i < cols; i++ {
		lane.Next()
	}
	next := lane.Next()
	if next.X != first.X || next.Y != first.Y+LaneCellHeight {
		t.Errorf("row wrap slot = %+v, want start of second row", next)
	}
}

func TestLaneWrapsInsideViewport(t *testing.T) {
	vp := canvas.Bounds{X: 100, Y: 200, W: 1200, H: 800}
	lane := NewLane(vp)
	for i := 0; i < 100; i++ {
		slot := lane.Next()
		if slot.X < vp.X || slot.Y < vp.Y || slot.X+slot.W > vp.X+vp.W || slot.Y+slot.H > vp.Y+vp.H {
			t.Fatalf("slot %d = %+v escapes viewport %+v", i, slot, vp)
		}
	}
}

func TestLaneTinyViewportFallsBackToDefault(t *testing.T) {
	lane := NewLane(canvas.Bounds{W: 50, H: 40})
	if lane.Viewport() != DefaultViewport() {
		t.Errorf("viewport = %+v, want default", lane.Viewport())
	}
}

func TestNotecardCreatesExactlyOneNode(t *testing.T) {
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	canvases := canvas.NewService(st)
	orch := NewOrchestrator(nil, canvases)

	lane := NewLane(testViewport)
	id, err := orch.Notecard(context.Background(), "map", "we should measure first", lane.Next())
	if err != nil {
		t.Fatalf("Notecard() error = %v", err)
	}

	doc := canvases.Get("map")
	if len(doc.Shapes) != 1 {
		t.Fatalf("shapes = %d, want exactly 1", len(doc.Shapes))
	}
	sh, _ := doc.Find(id)
	if sh.Kind != canvas.KindConcept {
		t.Errorf("kind = %q", sh.Kind)
	}
	if sh.Props["text"] != "we should measure first" {
		t.Errorf("text = %v, want raw transcript without a provider", sh.Props["text"])
	}
	if sh.Bounds.W < MinNodeWidth || sh.Bounds.H < MinNodeHeight {
		t.Errorf("bounds = %+v, below minimum", sh.Bounds)
	}
}

func TestNotecardEmptyTranscript(t *testing.T) {
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	orch := NewOrchestrator(nil, canvas.NewService(st))
	if _, err := orch.Notecard(context.Background(), "map", "   ", canvas.Bounds{W: 180, H: 140}); err == nil {
		t.Error("Notecard() with blank transcript succeeded, want error")
	}
}
