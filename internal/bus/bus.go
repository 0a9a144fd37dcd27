// Package bus is the message bus: in-process listeners keyed by topic plus a
// Server-Sent Events fan-out for HTTP clients.
package bus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
)

// Topics.
const (
	DraftItemUpdated      = "draft-item-updated"
	ActiveFileChanged     = "active-file-changed"
	CustomThemeChanged    = "custom-theme-changed"
	NoteChanged           = "note-changed"
	NoteDeleted           = "note-deleted"
	WechatMaterialUpdated = "wechat-material-updated"
)

// Event is one message on the bus.
type Event struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// Publisher is the sending half of the bus.
type Publisher interface {
	Publish(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

type listener struct {
	id    uint64
	topic string
	fn    func(Event)
}

// Bus delivers events to listeners and SSE clients.
//
// Concurrency model: a single internal loop owns the client and listener
// sets. Public methods talk to the loop over channels. Listeners run on the
// loop goroutine, so they must not block; they may Publish.
type Bus struct {
	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	onCh          chan listener
	offCh         chan uint64
	countReqCh    chan chan int

	nextID  atomic.Uint64
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// New starts a bus.
func New() *Bus {
	b := &Bus{
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		onCh:          make(chan listener),
		offCh:         make(chan uint64),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var listeners []listener

	dispatch := func(event Event) {
		for _, l := range listeners {
			if l.topic == event.Topic {
				l.fn(event)
			}
		}
		if len(clients) == 0 {
			return
		}
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Topic, payload))
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case l := <-b.onCh:
			listeners = append(listeners, l)

		case id := <-b.offCh:
			for i, l := range listeners {
				if l.id == id {
					listeners = append(listeners[:i], listeners[i+1:]...)
					break
				}
			}

		case event := <-b.publishCh:
			dispatch(event)

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes all client channels.
func (b *Bus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// On registers fn for topic and returns a function that unregisters it.
func (b *Bus) On(topic string, fn func(Event)) (unregister func()) {
	l := listener{id: b.nextID.Add(1), topic: topic, fn: fn}
	if b.closed.Load() {
		return func() {}
	}
	select {
	case b.onCh <- l:
	case <-b.stopped:
		return func() {}
	}
	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) || b.closed.Load() {
			return
		}
		select {
		case b.offCh <- l.id:
		case <-b.stopped:
		}
	}
}

// Subscribe adds an SSE client and returns its channel.
func (b *Bus) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Bus) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected SSE clients.
func (b *Bus) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish queues an event for delivery.
func (b *Bus) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishNoteEvent maps a watcher change kind onto the note topics.
func (b *Bus) PublishNoteEvent(kind, path string) {
	data := map[string]string{"path": path, "kind": kind}
	if kind == "deleted" {
		b.Publish(Event{Topic: NoteDeleted, Data: data})
		return
	}
	b.Publish(Event{Topic: NoteChanged, Data: data})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
