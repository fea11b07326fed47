package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestE_NilPassesThrough(t *testing.T) {
	if err := E(Persistence, "save", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestKindOf(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("cycle: %w", E(Persistence, "save queue", base))

	if got := KindOf(err); got != Persistence {
		t.Fatalf("expected %q, got %q", Persistence, got)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to unwrap to base")
	}
	if !Is(err, Persistence) || Is(err, NotFound) {
		t.Fatalf("unexpected Is results for %v", err)
	}
	if got := KindOf(base); got != Unknown {
		t.Fatalf("expected unknown for plain error, got %q", got)
	}
	if got := err.Error(); got != "cycle: save queue: connection refused" {
		t.Fatalf("unexpected message %q", got)
	}
}
