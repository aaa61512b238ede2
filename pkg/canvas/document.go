// Package canvas owns the shared drawing document: shapes, their geometry,
// and the per-canvas snapshot persistence. Mutations happen under a single
// service lock per process; there is no cross-node coordination.
package canvas

import (
	"fmt"
	"sync"
	"time"

	"github.com/deliberatorium/deliberatorium/pkg/store"
)

// Shape kinds understood by the document model.
const (
	KindConcept      = "concept"
	KindRelationship = "relationship"
)

// Bounds is an axis-aligned box in canvas coordinates.
type Bounds struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// CenterX returns the horizontal center of b.
func (b Bounds) CenterX() float64 { return b.X + b.W/2 }

// CenterY returns the vertical center of b.
func (b Bounds) CenterY() float64 { return b.Y + b.H/2 }

// Point is a canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Shape is one element of a canvas document. Relationship shapes connect two
// other shapes by id and carry resolved endpoints; concept shapes carry their
// own bounds.
type Shape struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`

	Bounds Bounds `json:"bounds,omitempty"`

	// Relationship endpoints.
	SourceID string `json:"sourceId,omitempty"`
	TargetID string `json:"targetId,omitempty"`
	Start    Point  `json:"start,omitempty"`
	End      Point  `json:"end,omitempty"`

	Props map[string]any `json:"props,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// Document is a whole-canvas snapshot, persisted as one blob per canvas key.
type Document struct {
	Key       string    `json:"key"`
	Shapes    []Shape   `json:"shapes"`
	LastSaved time.Time `json:"lastSaved"`
}

// Find returns the shape with the given id.
func (d *Document) Find(id string) (Shape, bool) {
	for _, s := range d.Shapes {
		if s.ID == id {
			return s, true
		}
	}
	return Shape{}, false
}

// Has reports whether a shape with the given id exists.
func (d *Document) Has(id string) bool {
	_, ok := d.Find(id)
	return ok
}

// Service loads and saves canvas documents by key.
type Service struct {
	store *store.Store
	now   func() time.Time

	mu sync.Mutex
}

func NewService(s *store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

func snapshotKey(canvasKey string) string { return "canvas/" + canvasKey }

// Get returns the document for key. A missing or unreadable snapshot yields
// an empty document.
func (s *Service) Get(key string) Document {
	var doc Document
	if err := s.store.Get(snapshotKey(key), &doc); err != nil {
		return Document{Key: key}
	}
	doc.Key = key
	return doc
}

// Mutate applies fn to the document for key under the service lock and
// persists the result. fn returning an error leaves the snapshot untouched.
func (s *Service) Mutate(key string, fn func(*Document) error) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.Get(key)
	if err := fn(&doc); err != nil {
		return Document{}, err
	}
	doc.LastSaved = s.now().UTC()
	if err := s.store.Put(snapshotKey(key), doc); err != nil {
		return Document{}, fmt.Errorf("save canvas %q: %w", key, err)
	}
	return doc, nil
}

// Save replaces the whole document for key with a client-provided snapshot.
// Shape metadata is sanitized, shapes without authorship are stamped as
// human-authored by author, and the last-saved timestamp is refreshed.
func (s *Service) Save(key string, shapes []Shape, author string) (Document, error) {
	return s.Mutate(key, func(doc *Document) error {
		now := s.now().UTC()
		seen := map[string]bool{}
		cleaned := make([]Shape, 0, len(shapes))
		for _, sh := range shapes {
			if sh.ID == "" {
				return fmt.Errorf("canvas: shape with empty id")
			}
			if seen[sh.ID] {
				return fmt.Errorf("canvas: duplicate shape id %q", sh.ID)
			}
			seen[sh.ID] = true
			sh.Meta = StampHuman(SanitizeMeta(sh.Meta), author, now)
			sh.Props = sanitizeValueMap(sh.Props)
			cleaned = append(cleaned, sh)
		}
		doc.Shapes = cleaned
		return nil
	})
}
