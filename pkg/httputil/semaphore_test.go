package httputil

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSemaphoreTryAcquire(t *testing.T) {
	s := NewSemaphore(2)

	if !s.TryAcquire() || !s.TryAcquire() {
		t.Fatal("expected two acquisitions to succeed")
	}
	if s.TryAcquire() {
		t.Fatal("third acquisition should fail at capacity")
	}
	if s.Dropped() != 1 {
		t.Fatalf("expected 1 drop, got %d", s.Dropped())
	}

	s.Release()
	if !s.TryAcquire() {
		t.Fatal("acquisition after release should succeed")
	}
	if s.InUse() != 2 {
		t.Fatalf("expected 2 in use, got %d", s.InUse())
	}
}

func TestSemaphoreAcquireRespectsContext(t *testing.T) {
	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Acquire(ctx); err == nil {
		t.Fatal("expected context deadline error while at capacity")
	}
}

func TestSemaphoreDefaultCapacity(t *testing.T) {
	s := NewSemaphore(0)
	if cap(s.slots) != 32 {
		t.Fatalf("expected default capacity 32, got %d", cap(s.slots))
	}
}

func TestReadBodyCapsSize(t *testing.T) {
	body, err := ReadBody(strings.NewReader("0123456789"), 4)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "0123" {
		t.Fatalf("expected capped read %q, got %q", "0123", string(body))
	}
}
