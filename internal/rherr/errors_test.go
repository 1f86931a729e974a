package rherr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	e := NotFound("scope missing", nil).WithPath("/a/b").WithKey("k1")
	msg := e.Error()
	if msg == "" {
		t.Fatal("expected non-empty message")
	}
	for _, want := range []string{"not_found", "scope missing", "/a/b", "k1"} {
		if !containsSubstr(msg, want) {
			t.Errorf("expected message %q to contain %q", msg, want)
		}
	}
}

func TestErrorIsKind(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", Integrity("checksum mismatch", nil))
	if !errors.Is(wrapped, Sentinel(KindIntegrity)) {
		t.Fatal("expected errors.Is to match KindIntegrity")
	}
	if errors.Is(wrapped, Sentinel(KindNotFound)) {
		t.Fatal("did not expect match for KindNotFound")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	e := Backend("write failed", cause)
	if !errors.Is(e, cause) {
		t.Fatal("expected Unwrap to expose the cause")
	}
}

func TestOfExtractsError(t *testing.T) {
	wrapped := fmt.Errorf("op: %w", Conflict("scope exists", nil))
	e, ok := Of(wrapped)
	if !ok {
		t.Fatal("expected Of to find the *Error")
	}
	if e.Kind != KindConflict {
		t.Fatalf("expected KindConflict, got %s", e.Kind)
	}
}

func containsSubstr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
