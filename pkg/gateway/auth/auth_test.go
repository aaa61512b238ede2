package auth

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseBearer(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc123", "abc123", true},
		{"Bearer   abc123  ", "abc123", true},
		{"bearer abc123", "", false},
		{"Basic abc123", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		got, ok := ParseBearer(r)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseBearer(%q) = (%q, %v), want (%q, %v)", tc.header, got, ok, tc.want, tc.ok)
		}
	}
}

func TestMintVerifyRoundTrip(t *testing.T) {
	s := NewSessions("pw", "secret", time.Hour)
	tok, err := s.Mint("sess-1", "Ada", "#4f7cff")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	p, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.SessionID != "sess-1" || p.Name != "Ada" || p.Color != "#4f7cff" {
		t.Errorf("principal = %+v", p)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a := NewSessions("pw", "secret-a", time.Hour)
	b := NewSessions("pw", "secret-b", time.Hour)
	tok, err := a.Mint("sess-1", "Ada", "")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := b.Verify(tok); err == nil {
		t.Fatal("expected verification failure across secrets")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	s := NewSessions("pw", "secret", time.Minute)
	base := time.Now()
	s.now = func() time.Time { return base }
	tok, err := s.Mint("sess-1", "Ada", "")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := s.Verify(tok); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestCheckPassword(t *testing.T) {
	s := NewSessions("hunter2", "secret", time.Hour)
	if !s.CheckPassword("hunter2") {
		t.Error("correct password rejected")
	}
	if s.CheckPassword("hunter3") {
		t.Error("wrong password accepted")
	}
	if !s.Required() {
		t.Error("Required() = false with password set")
	}
	open := NewSessions("", "secret", time.Hour)
	if open.Required() {
		t.Error("Required() = true with no password")
	}
}

func TestRandomSecretStillVerifiesOwnTokens(t *testing.T) {
	s := NewSessions("pw", "", time.Hour)
	tok, err := s.Mint("sess-1", "Ada", "")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := s.Verify(tok); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}
