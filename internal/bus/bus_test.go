package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(KindMessageCommitted, map[string]int64{"chat_id": 1})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageCommitted {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessageCommitted)
		}
		if evt.Timestamp.IsZero() {
			t.Error("event timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	b.Publish(KindMessagePending, nil)
	b.Publish(KindChatUpdated, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindChatUpdated {
			t.Errorf("got kind %q, want %q", evt.Kind, KindChatUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The message event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Publish(KindSessionInvalidated, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("contact.", 1)
	defer unsub()

	b.Publish(KindContactUpdated, "one")
	// Buffer is full, this one is dropped rather than blocking the store.
	b.Publish(KindContactUpdated, "two")

	evt := <-ch
	if evt.Payload != "one" {
		t.Errorf("got payload %v, want one", evt.Payload)
	}
}
