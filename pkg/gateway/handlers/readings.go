package handlers

import (
	"net/http"
	"strings"

	"github.com/deliberatorium/deliberatorium/pkg/gateway/apierror"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/config"
	"github.com/deliberatorium/deliberatorium/pkg/workspace"
)

// ReadingsHandler serves both the collection (/v1/readings) and single
// readings (/v1/readings/{id}).
type ReadingsHandler struct {
	Config     config.Config
	Workspaces *workspace.Service
}

type createReadingRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h ReadingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/readings"), "/")
	if id == "" {
		h.serveCollection(w, r)
		return
	}
	if strings.Contains(id, "/") {
		writeError(w, r, apierror.NewNotFound("not found"))
		return
	}
	h.serveItem(w, r, id)
}

func (h ReadingsHandler) serveCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := h.Workspaces.Readings()
		if list == nil {
			list = []workspace.Reading{}
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var req createReadingRequest
		if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
			writeError(w, r, err)
			return
		}
		reading, err := h.Workspaces.AddReading(req.Title, req.Content)
		if err != nil {
			writeError(w, r, apierror.NewInvalidRequestWithParam(err.Error(), "title"))
			return
		}
		writeJSON(w, http.StatusCreated, reading)
	default:
		writeError(w, r, apierror.NewInvalidRequest("method not allowed"))
	}
}

func (h ReadingsHandler) serveItem(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		reading, ok := h.Workspaces.Reading(id)
		if !ok {
			writeError(w, r, apierror.NewNotFound("reading not found"))
			return
		}
		writeJSON(w, http.StatusOK, reading)
	case http.MethodDelete:
		if err := h.Workspaces.DeleteReading(id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, apierror.NewInvalidRequest("method not allowed"))
	}
}
