package bus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := New()
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := New()
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Topic: DraftItemUpdated, Data: map[string]string{"_id": "acc/a.md"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: draft-item-updated") {
			t.Errorf("missing event topic in %q", s)
		}
		if !strings.Contains(s, `"_id":"acc/a.md"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestListeners(t *testing.T) {
	b := New()
	defer b.Close()

	got := make(chan Event, 4)
	off := b.On(CustomThemeChanged, func(e Event) { got <- e })

	b.Publish(Event{Topic: NoteChanged, Data: "ignored"})
	b.Publish(Event{Topic: CustomThemeChanged, Data: "dark"})

	select {
	case e := <-got:
		if e.Data != "dark" {
			t.Errorf("data = %v, want dark", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}

	off()
	off() // second call is a no-op
	b.Publish(Event{Topic: CustomThemeChanged, Data: "light"})
	// A round trip through the loop guarantees the publish was handled.
	_ = b.ClientCount()
	time.Sleep(20 * time.Millisecond)
	select {
	case e := <-got:
		t.Errorf("listener called after unregister: %v", e)
	default:
	}
}

func TestPublishNoteEvent(t *testing.T) {
	b := New()
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishNoteEvent("updated", "a.md")
	b.PublishNoteEvent("deleted", "b.md")

	want := []string{"event: note-changed", "event: note-deleted"}
	for _, w := range want {
		select {
		case msg := <-ch:
			if !strings.HasPrefix(string(msg), w) {
				t.Errorf("got %q, want prefix %q", msg, w)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	}
}

func TestSSEHandler(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Topic: NoteChanged, Data: map[string]string{"path": "x.md"}})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: note-changed") {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := New()
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then some; must not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Topic: "test", Data: i})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Safe no-ops after close.
	b.Publish(Event{Topic: NoteChanged})
	b.PublishNoteEvent("updated", "x.md")
	b.On(NoteChanged, func(Event) {})()
}
