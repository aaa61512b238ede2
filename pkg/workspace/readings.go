package workspace

import (
	"fmt"
	"strings"
	"time"

	"github.com/maruel/ksid"
)

const (
	// MaxReadingChars caps reading content on ingestion.
	MaxReadingChars = 18000
	// MaxContextChars caps reading content when surfaced as agent context.
	MaxContextChars = 3500
)

// Reading is an imported text document that canvases can reference and the
// agent can cite as context.
type Reading struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// AgentContext returns the reading content truncated for prompt inclusion.
func (r Reading) AgentContext() string {
	return truncateRunes(r.Content, MaxContextChars)
}

// Readings returns all stored readings, newest first. A corrupted blob yields
// an empty list.
func (s *Service) Readings() []Reading {
	var list []Reading
	if err := s.store.Get(readingsKey, &list); err != nil {
		return nil
	}
	return list
}

// Reading returns a stored reading by id.
func (s *Service) Reading(id string) (Reading, bool) {
	for _, r := range s.Readings() {
		if r.ID == id {
			return r, true
		}
	}
	return Reading{}, false
}

// AddReading ingests a reading, capping content at MaxReadingChars, and
// persists the updated list.
func (s *Service) AddReading(title, content string) (Reading, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Reading{}, fmt.Errorf("workspace: reading title must not be empty")
	}
	r := Reading{
		ID:        "reading-" + ksid.NewID().String(),
		Title:     title,
		Content:   truncateRunes(content, MaxReadingChars),
		CreatedAt: s.now().UTC(),
	}
	list := append([]Reading{r}, s.Readings()...)
	if err := s.store.Put(readingsKey, list); err != nil {
		return Reading{}, err
	}
	return r, nil
}

// DeleteReading removes a reading by id. Removing an unknown id is a no-op.
func (s *Service) DeleteReading(id string) error {
	list := s.Readings()
	kept := list[:0]
	for _, r := range list {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	return s.store.Put(readingsKey, kept)
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
