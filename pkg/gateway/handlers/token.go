package handlers

import (
	"context"
	"net/http"

	"github.com/deliberatorium/deliberatorium/pkg/gateway/apierror"
	"github.com/deliberatorium/deliberatorium/pkg/transcribe"
)

// TokenFetcher mints short-lived client streaming tokens.
type TokenFetcher interface {
	Fetch(ctx context.Context) (*transcribe.TokenResponse, error)
}

// AssemblyAITokenHandler is a thin proxy: browsers never see the server-side
// API key, only a short-lived streaming token minted on demand.
type AssemblyAITokenHandler struct {
	APIKeyConfigured bool
	Tokens           TokenFetcher
}

type tokenResponse struct {
	Token            string `json:"token"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

func (h AssemblyAITokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, apierror.NewInvalidRequest("method not allowed"))
		return
	}
	if !h.APIKeyConfigured || h.Tokens == nil {
		writeError(w, r, apierror.NewAPI("transcription api key is not configured"))
		return
	}

	resp, err := h.Tokens.Fetch(r.Context())
	if err != nil {
		writeError(w, r, apierror.NewUpstream("assemblyai", err))
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:            resp.Token,
		ExpiresInSeconds: resp.ExpiresInSeconds,
	})
}
