package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("timeline.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindTimelineUpdated, Timestamp: time.Now(), Payload: TimelineUpdate{ChatID: "chat-1"}})

	select {
	case evt := <-ch:
		if evt.Kind != KindTimelineUpdated {
			t.Errorf("got kind %q, want %q", evt.Kind, KindTimelineUpdated)
		}
		if evt.Payload.(TimelineUpdate).ChatID != "chat-1" {
			t.Errorf("unexpected payload: %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEmitFillsTimestamp(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("net.", 10)
	defer unsub()

	b.Emit(KindNetOnline, nil)

	select {
	case evt := <-ch:
		if evt.Timestamp.IsZero() {
			t.Error("expected a filled timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("upload.", 10)
	defer unsub()

	b.Emit(KindTimelineUpdated, nil)
	b.Emit(KindUploadFinished, "u-1")

	select {
	case evt := <-ch:
		if evt.Kind != KindUploadFinished {
			t.Errorf("got kind %q, want %q", evt.Kind, KindUploadFinished)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the timeline event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestNetOnlinePrefixExcludesOffline(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(KindNetOnline, 10)
	defer unsub()

	b.Emit(KindNetOffline, nil)
	b.Emit(KindNetOnline, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindNetOnline {
			t.Errorf("got kind %q, want %q", evt.Kind, KindNetOnline)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("timeline.", 10)
	unsub()

	b.Emit(KindTimelineUpdated, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("timeline.", 1)
	defer unsub()

	// Fill the buffer; the next publish must be dropped without blocking.
	b.Emit(KindTimelineUpdated, "first")
	done := make(chan struct{})
	go func() {
		b.Emit(KindTimelineUpdated, "second")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a saturated subscriber")
	}

	evt := <-ch
	if evt.Payload != "first" {
		t.Errorf("got %v, want first", evt.Payload)
	}
	select {
	case evt := <-ch:
		t.Errorf("expected the second event dropped, got %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}
