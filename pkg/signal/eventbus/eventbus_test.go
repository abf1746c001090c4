package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestBus_OnReceivesEmittedPayload(t *testing.T) {
	b := New()
	got := make(chan string, 1)
	sub := On[string](b, nil, "greeting", func(v string) { got <- v })
	defer sub.Dispose()

	Emit(b, "greeting", "hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("expected hello, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestBus_OnceDisposesAfterFirstDelivery(t *testing.T) {
	b := New()
	count := 0
	Once[int](b, "tick", func(v int) { count++ })

	Emit(b, "tick", 1)
	Emit(b, "tick", 2)
	Emit(b, "tick", 3)

	if count != 1 {
		t.Errorf("expected exactly one delivery, got %d", count)
	}
}

func TestBus_DisposeStopsFurtherDelivery(t *testing.T) {
	b := New()
	count := 0
	sub := On[int](b, nil, "tick", func(v int) { count++ })

	Emit(b, "tick", 1)
	sub.Dispose()
	Emit(b, "tick", 2)

	if count != 1 {
		t.Errorf("expected delivery to stop after Dispose, got %d deliveries", count)
	}

	// A second Dispose must be a harmless no-op.
	sub.Dispose()
}

func TestBus_ContextCancellationDisposesSubscription(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	On[int](b, ctx, "tick", func(v int) { count++ })

	Emit(b, "tick", 1)
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		n := len(b.byKey["tick"])
		b.mu.Unlock()
		if n == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	Emit(b, "tick", 2)
	if count != 1 {
		t.Errorf("expected delivery to stop after context cancellation, got %d deliveries", count)
	}
}

func TestBus_HandlerPanicDoesNotStopSiblings(t *testing.T) {
	b := New()
	ran := false
	On[int](b, nil, "tick", func(v int) { panic("boom") })
	On[int](b, nil, "tick", func(v int) { ran = true })

	Emit(b, "tick", 1)

	if !ran {
		t.Error("sibling handler did not run after a preceding handler panicked")
	}
}

func TestBus_OffClearsAllHandlersForKey(t *testing.T) {
	b := New()
	count := 0
	On[int](b, nil, "tick", func(v int) { count++ })
	On[int](b, nil, "tick", func(v int) { count++ })

	b.Off("tick")
	Emit(b, "tick", 1)

	if count != 0 {
		t.Errorf("expected no deliveries after Off, got %d", count)
	}
}

func TestBus_WrongPayloadTypeIsIgnored(t *testing.T) {
	b := New()
	ran := false
	On[string](b, nil, "mixed", func(v string) { ran = true })

	// Emit with a mismatched type parameter; the handler keyed by the
	// same bus key but a different payload type must not fire.
	Emit(b, "mixed", 42)

	if ran {
		t.Error("handler fired for a payload of the wrong type")
	}
}
