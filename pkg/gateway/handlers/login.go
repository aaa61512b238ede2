package handlers

import (
	"net/http"
	"strings"

	"github.com/maruel/ksid"

	"github.com/deliberatorium/deliberatorium/pkg/gateway/apierror"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/auth"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/config"
	"github.com/deliberatorium/deliberatorium/pkg/workspace"
)

// LoginHandler exchanges the shared password for a session token carrying
// the participant's display profile.
type LoginHandler struct {
	Config     config.Config
	Sessions   *auth.Sessions
	Workspaces *workspace.Service
}

type loginRequest struct {
	Password string `json:"password"`
	Name     string `json:"name"`
	Color    string `json:"color"`
}

type loginResponse struct {
	Token   string            `json:"token"`
	Profile workspace.Profile `json:"profile"`
}

func (h LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, apierror.NewInvalidRequest("method not allowed"))
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if h.Sessions.Required() && !h.Sessions.CheckPassword(req.Password) {
		writeError(w, r, apierror.NewAuthentication("invalid password"))
		return
	}

	profile := workspace.Profile{
		Name:  strings.TrimSpace(req.Name),
		Color: strings.TrimSpace(req.Color),
	}
	if profile.Name == "" {
		profile.Name = "Guest"
	}
	if h.Workspaces != nil {
		if err := h.Workspaces.SaveProfile(profile); err != nil {
			writeError(w, r, err)
			return
		}
	}

	sessionID := "sess-" + ksid.NewID().String()
	token, err := h.Sessions.Mint(sessionID, profile.Name, profile.Color)
	if err != nil {
		writeError(w, r, apierror.NewAPI("failed to mint session token"))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, Profile: profile})
}
