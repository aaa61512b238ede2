// Package workspace holds the user-facing tree of folders and files, reading
// documents, and the session profile. State is persisted as whole JSON blobs;
// any load failure falls back to a hard-coded default tree, and default
// entries are re-injected on every load so a pruned workspace heals itself.
package workspace

import (
	"errors"
	"fmt"
	"time"

	"github.com/deliberatorium/deliberatorium/pkg/store"
)

const (
	workspaceKey = "workspace.v1"
	readingsKey  = "readings.v1"
	profileKey   = "profile.v1"
)

// Folder is a node in the workspace tree. ParentID is empty for roots.
type Folder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

// File references a canvas persistence namespace and optionally a reading.
type File struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FolderID  string `json:"folderId"`
	CanvasKey string `json:"canvasKey"`
	ReadingID string `json:"readingId,omitempty"`
}

// State is the whole workspace blob.
type State struct {
	Folders []Folder `json:"folders"`
	Files   []File   `json:"files"`
}

// Profile is session identity, not authentication.
type Profile struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// DefaultState returns the seed tree: core workspace, readings and sketches
// folders, plus two starter canvases.
func DefaultState() State {
	return State{
		Folders: []Folder{
			{ID: "folder-core", Name: "Core Workspace"},
			{ID: "folder-readings", Name: "Readings", ParentID: "folder-core"},
			{ID: "folder-sketches", Name: "Sketches", ParentID: "folder-core"},
		},
		Files: []File{
			{ID: "file-deliberation-map", Name: "Deliberation Map", FolderID: "folder-core", CanvasKey: "deliberation-map"},
			{ID: "file-sketchpad", Name: "Sketchpad", FolderID: "folder-sketches", CanvasKey: "sketchpad"},
		},
	}
}

// DefaultProfile is used until the user personalizes their session.
func DefaultProfile() Profile {
	return Profile{Name: "Guest", Color: "#4f7cff"}
}

// Service wraps blob persistence for workspace, readings, and profile.
type Service struct {
	store *store.Store
	now   func() time.Time
}

func NewService(s *store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

// Load returns the stored workspace with defaults re-injected. A missing or
// unreadable blob yields the default tree.
func (s *Service) Load() (State, error) {
	var st State
	err := s.store.Get(workspaceKey, &st)
	switch {
	case errors.Is(err, store.ErrNotFound):
		st = DefaultState()
	case err != nil:
		// Treat corruption like absence: the tree is recoverable, user
		// canvases are stored under their own keys.
		st = DefaultState()
	default:
		st = Reseed(st)
	}
	return st, nil
}

// Save overwrites the workspace blob.
func (s *Service) Save(st State) error {
	if err := validate(st); err != nil {
		return err
	}
	return s.store.Put(workspaceKey, st)
}

// Reseed re-injects any default folder or file missing from st. Entries are
// matched by ID, so renames and moves of the defaults survive.
func Reseed(st State) State {
	def := DefaultState()

	folders := map[string]bool{}
	for _, f := range st.Folders {
		folders[f.ID] = true
	}
	for _, f := range def.Folders {
		if !folders[f.ID] {
			st.Folders = append(st.Folders, f)
		}
	}

	files := map[string]bool{}
	for _, f := range st.Files {
		files[f.ID] = true
	}
	for _, f := range def.Files {
		if !files[f.ID] {
			st.Files = append(st.Files, f)
		}
	}
	return st
}

func validate(st State) error {
	folders := map[string]bool{}
	for _, f := range st.Folders {
		if f.ID == "" {
			return fmt.Errorf("workspace: folder with empty id")
		}
		if folders[f.ID] {
			return fmt.Errorf("workspace: duplicate folder id %q", f.ID)
		}
		folders[f.ID] = true
	}
	for _, f := range st.Files {
		if f.ID == "" {
			return fmt.Errorf("workspace: file with empty id")
		}
		if f.CanvasKey == "" {
			return fmt.Errorf("workspace: file %q has no canvas key", f.ID)
		}
	}
	return nil
}

// LoadProfile returns the stored profile or the default one.
func (s *Service) LoadProfile() Profile {
	var p Profile
	if err := s.store.Get(profileKey, &p); err != nil || p.Name == "" {
		return DefaultProfile()
	}
	return p
}

// SaveProfile overwrites the profile blob.
func (s *Service) SaveProfile(p Profile) error {
	if p.Name == "" {
		p = DefaultProfile()
	}
	return s.store.Put(profileKey, p)
}
