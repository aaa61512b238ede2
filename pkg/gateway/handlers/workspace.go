package handlers

import (
	"net/http"
	"strings"

	"github.com/deliberatorium/deliberatorium/pkg/gateway/apierror"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/config"
	"github.com/deliberatorium/deliberatorium/pkg/workspace"
)

// WorkspaceHandler serves the whole folder/file tree as one blob.
type WorkspaceHandler struct {
	Config     config.Config
	Workspaces *workspace.Service
}

func (h WorkspaceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		st, err := h.Workspaces.Load()
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	case http.MethodPut:
		var st workspace.State
		if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &st); err != nil {
			writeError(w, r, err)
			return
		}
		if err := h.Workspaces.Save(st); err != nil {
			writeError(w, r, apierror.NewInvalidRequest(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, workspace.Reseed(st))
	default:
		writeError(w, r, apierror.NewInvalidRequest("method not allowed"))
	}
}

// ProfileHandler serves the session identity blob.
type ProfileHandler struct {
	Config     config.Config
	Workspaces *workspace.Service
}

func (h ProfileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Workspaces.LoadProfile())
	case http.MethodPut:
		var p workspace.Profile
		if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &p); err != nil {
			writeError(w, r, err)
			return
		}
		p.Name = strings.TrimSpace(p.Name)
		p.Color = strings.TrimSpace(p.Color)
		if err := h.Workspaces.SaveProfile(p); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, h.Workspaces.LoadProfile())
	default:
		writeError(w, r, apierror.NewInvalidRequest("method not allowed"))
	}
}
