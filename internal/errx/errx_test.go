package errx

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesKind(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("handler: %w", Transport("catalog.get_cart", base))

	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport kind in %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("did not expect not_found kind in %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if got := KindOf(err); got != KindTransport {
		t.Fatalf("KindOf = %q, want %q", got, KindTransport)
	}
}

func TestErrorCodeAndMessage(t *testing.T) {
	err := NoCandidates("delivery.resolve")
	e, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Code() != "ERR_no_candidates" {
		t.Fatalf("unexpected code %q", e.Code())
	}
	if e.Error() != "delivery.resolve: no_candidates" {
		t.Fatalf("unexpected message %q", e.Error())
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatal("plain errors have no kind")
	}
}
