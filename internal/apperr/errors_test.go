package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
	}{
		{name: "validation", err: Validationf("bad %s", "field"), sentinel: ErrValidation, kind: KindValidation},
		{name: "not found", err: NotFound(fmt.Errorf("case missing")), sentinel: ErrNotFound, kind: KindNotFound},
		{name: "parse", err: Parsef("bad json"), sentinel: ErrParse, kind: KindParse},
		{name: "backend", err: BackendUnavailable(errors.New("no dir")), sentinel: ErrBackendUnavailable, kind: KindBackendUnavailable},
		{name: "quota", err: QuotaExceeded(nil), sentinel: ErrQuotaExceeded, kind: KindQuotaExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Fatalf("expected %v to match %v", wrapped, tt.sentinel)
			}
			if got := KindOf(wrapped); got != tt.kind {
				t.Fatalf("expected kind %q, got %q", tt.kind, got)
			}
		})
	}
}

func TestErrorKeepsCauseAndCode(t *testing.T) {
	cause := errors.New("disk full")
	err := QuotaExceeded(cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if CodeOf(err) != CodeQuotaExceeded {
		t.Fatalf("expected code %d, got %d", CodeQuotaExceeded, CodeOf(err))
	}
	if err.Error() != "disk full" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestReclassifySameKindKeepsOriginal(t *testing.T) {
	first := NotFoundCode(errors.New("snapshot missing"), CodeSnapshotNotFound)
	second := NotFound(first)
	if CodeOf(second) != CodeSnapshotNotFound {
		t.Fatalf("expected original code to survive, got %d", CodeOf(second))
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty kind, got %q", got)
	}
	if got := KindOf(fmt.Errorf("wrap: %w", ErrParse)); got != KindParse {
		t.Fatalf("expected parse kind for bare sentinel, got %q", got)
	}
}
