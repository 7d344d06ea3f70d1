package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("jti")
	if !strings.HasPrefix(id, "jti_") {
		t.Fatalf("expected jti_ prefix, got %q", id)
	}
	if len(id) != len("jti_")+32 {
		t.Fatalf("unexpected id length %d for %q", len(id), id)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID("")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
