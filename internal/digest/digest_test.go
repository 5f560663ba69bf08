package digest

import (
	"testing"
	"time"
)

func TestCompute_Deterministic(t *testing.T) {
	names := []string{"id", "name", "valid_from"}
	at := time.Date(2025, 12, 1, 0, 0, 0, 0, time.FixedZone("CET", 3600))

	s1, err := Compute(names, []any{int64(1), "ABC-123", at})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(s1) != 64 {
		t.Fatalf("expected sha256 hex length 64, got %d (%q)", len(s1), s1)
	}
	s2, _ := Compute(names, []any{int64(1), "ABC-123", at.UTC()})
	if s1 != s2 {
		t.Fatalf("expected same digest for the same instant; s1=%q s2=%q", s1, s2)
	}
}

func TestCompute_ChangesWhenFieldChanges(t *testing.T) {
	a, _ := Compute([]string{"id", "name"}, []any{int64(1), "A"})
	b, _ := Compute([]string{"id", "name"}, []any{int64(1), "B"})
	if a == b {
		t.Fatalf("expected different digests, got %q", a)
	}
}

func TestCompute_NilDiffersFromEmpty(t *testing.T) {
	a, _ := Compute([]string{"name"}, []any{nil})
	b, _ := Compute([]string{"name"}, []any{""})
	if a == b {
		t.Fatalf("NULL and empty string must not collide")
	}
}

func TestCompute_FieldNamesMatter(t *testing.T) {
	// same values, different columns
	a, _ := Compute([]string{"a", "b"}, []any{"x", ""})
	b, _ := Compute([]string{"b", "a"}, []any{"x", ""})
	if a == b {
		t.Fatalf("expected field names to be part of the digest")
	}
}

func TestPairs(t *testing.T) {
	want, _ := Compute([]string{"id", "name"}, []any{int64(7), "x"})
	got, err := Pairs([]any{"id", int64(7), []byte("name"), "x"})
	if err != nil {
		t.Fatalf("pairs: %v", err)
	}
	if got != want {
		t.Fatalf("Pairs=%q want %q", got, want)
	}

	if _, err := Pairs([]any{"id"}); err == nil {
		t.Fatalf("expected error for odd argument count")
	}
	if _, err := Pairs([]any{int64(1), "x"}); err == nil {
		t.Fatalf("expected error for non-text field name")
	}
	if _, err := Compute([]string{"a"}, nil); err == nil {
		t.Fatalf("expected length mismatch error")
	}
}
