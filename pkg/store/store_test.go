package store

import (
	"errors"
	"testing"
)

type testBlob struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	want := testBlob{Name: "workspace", Count: 3}
	if err := s.Put("workspace.v1", want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	var got testBlob
	if err := s.Get("workspace.v1", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestGetMissingKey(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var got testBlob
	if err := s.Get("nope", &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestPutOverwrites(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("k", testBlob{Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("k", testBlob{Name: "b"}); err != nil {
		t.Fatal(err)
	}
	var got testBlob
	if err := s.Get("k", &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "b" {
		t.Errorf("Name = %q, want %q", got.Name, "b")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("k", testBlob{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	var got testBlob
	if err := s.Get("k", &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestKeysWithUnsafeCharacters(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	keys := []string{"canvas/deliberation-map", "canvas/sketchpad", "profile.v1"}
	for _, k := range keys {
		if err := s.Put(k, testBlob{Name: k}); err != nil {
			t.Fatalf("Put(%q) error = %v", k, err)
		}
	}

	got, err := s.Keys("canvas/")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Keys(canvas/) = %v, want 2 entries", got)
	}
	seen := map[string]bool{}
	for _, k := range got {
		seen[k] = true
	}
	if !seen["canvas/deliberation-map"] || !seen["canvas/sketchpad"] {
		t.Errorf("Keys(canvas/) = %v, missing expected keys", got)
	}

	var blob testBlob
	if err := s.Get("canvas/deliberation-map", &blob); err != nil {
		t.Fatalf("Get() round trip through encoded key error = %v", err)
	}
	if blob.Name != "canvas/deliberation-map" {
		t.Errorf("blob.Name = %q", blob.Name)
	}
}

func TestEncodeDecodeKey(t *testing.T) {
	for _, key := range []string{"plain", "canvas/with slash", "ünïcode", "a%b"} {
		if got := decodeKey(encodeKey(key)); got != key {
			t.Errorf("decodeKey(encodeKey(%q)) = %q", key, got)
		}
	}
}
