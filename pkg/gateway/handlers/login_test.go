package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deliberatorium/deliberatorium/pkg/gateway/auth"
)

func TestLoginHandler_WrongPassword(t *testing.T) {
	sessions := auth.NewSessions("hunter2", "secret", time.Hour)
	h := LoginHandler{Config: testConfig(), Sessions: sessions, Workspaces: testWorkspaces(t)}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"password":"nope","name":"Ada","color":"#f00"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestLoginHandler_MintsVerifiableToken(t *testing.T) {
	sessions := auth.NewSessions("hunter2", "secret", time.Hour)
	ws := testWorkspaces(t)
	h := LoginHandler{Config: testConfig(), Sessions: sessions, Workspaces: ws}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"password":"hunter2","name":"Ada","color":"#f00"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	decodeBody(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("expected a session token")
	}
	if resp.Profile.Name != "Ada" || resp.Profile.Color != "#f00" {
		t.Fatalf("profile = %+v", resp.Profile)
	}

	p, err := sessions.Verify(resp.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Name != "Ada" || p.Color != "#f00" {
		t.Fatalf("principal = %+v", p)
	}

	if got := ws.LoadProfile(); got.Name != "Ada" {
		t.Fatalf("profile not persisted: %+v", got)
	}
}

func TestLoginHandler_OpenModeSkipsPasswordCheck(t *testing.T) {
	sessions := auth.NewSessions("", "secret", time.Hour)
	h := LoginHandler{Config: testConfig(), Sessions: sessions, Workspaces: testWorkspaces(t)}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"name":"Ada"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
}

func TestLoginHandler_EmptyNameDefaultsToGuest(t *testing.T) {
	sessions := auth.NewSessions("", "secret", time.Hour)
	h := LoginHandler{Config: testConfig(), Sessions: sessions, Workspaces: testWorkspaces(t)}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var resp loginResponse
	decodeBody(t, rr, &resp)
	if resp.Profile.Name != "Guest" {
		t.Fatalf("profile = %+v, want Guest", resp.Profile)
	}
}
