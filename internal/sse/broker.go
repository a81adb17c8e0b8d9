// Package sse implements a Server-Sent Events broker for stash change events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types emitted by the broker.
const (
	CategoryCreated   = "category.created"
	CategoryUpdated   = "category.updated"
	CategoryDeleted   = "category.deleted"
	NoteCreated       = "note.created"
	NoteUpdated       = "note.updated"
	NoteDeleted       = "note.deleted"
	ExternalChange    = "stash.external"
	CategoriesChanged = "categories.changed"
)

// DefaultKeepAlive is how often an idle stream receives a comment line.
const DefaultKeepAlive = 25 * time.Second

// ChangeData is the payload of stash change events.
type ChangeData struct {
	CategoryID string `json:"categoryId,omitempty"`
	NoteID     string `json:"noteId,omitempty"`
	File       string `json:"file,omitempty"`
}

type change struct {
	typ  string
	data ChangeData
}

// Subscription is one client's event stream. Messages are complete SSE
// frames. C is closed when the subscription ends.
type Subscription struct {
	C <-chan []byte

	ch       chan []byte
	category string
}

// wants reports whether a change belongs on this subscription. Filtered
// subscriptions still get events without a category, such as external edits
// and categories.changed.
func (s *Subscription) wants(data ChangeData) bool {
	return s.category == "" || data.CategoryID == "" || data.CategoryID == s.category
}

// Broker fans stash changes out to subscribers.
//
// The event loop owns the subscriber set, the event sequence and the
// categories.changed throttle; everything else talks to it over channels.
type Broker struct {
	throttle  time.Duration
	keepAlive time.Duration

	join    chan *Subscription
	leave   chan *Subscription
	changes chan change
	count   chan chan int

	done    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits categories.changed at most once per
// throttle interval.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	b := &Broker{
		throttle:  throttle,
		keepAlive: DefaultKeepAlive,
		join:      make(chan *Subscription),
		leave:     make(chan *Subscription),
		changes:   make(chan change, 256),
		count:     make(chan chan int),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)

	subs := make(map[*Subscription]struct{})
	var seq uint64
	var lastChanged time.Time

	emit := func(typ string, data ChangeData) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		seq++
		frame := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, typ, payload))
		for s := range subs {
			if !s.wants(data) {
				continue
			}
			select {
			case s.ch <- frame:
			default:
				// Slow client; it misses this frame.
			}
		}
	}

	for {
		select {
		case <-b.done:
			for s := range subs {
				close(s.ch)
			}
			return

		case s := <-b.join:
			subs[s] = struct{}{}

		case s := <-b.leave:
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.ch)
			}

		case reply := <-b.count:
			reply <- len(subs)

		case c := <-b.changes:
			emit(c.typ, c.data)
			if now := time.Now(); now.Sub(lastChanged) >= b.throttle {
				lastChanged = now
				emit(CategoriesChanged, ChangeData{})
			}
		}
	}
}

// Close stops the event loop and ends every subscription.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.done)
	}
	<-b.stopped
}

// Subscribe registers a client. A non-empty category limits the stream to
// changes of that category plus stash-wide events. On a closed broker the
// returned subscription is already finished.
func (b *Broker) Subscribe(category string) *Subscription {
	ch := make(chan []byte, 64)
	s := &Subscription{C: ch, ch: ch, category: category}
	if b.closed.Load() {
		close(ch)
		return s
	}
	select {
	case b.join <- s:
	case <-b.stopped:
		close(ch)
	}
	return s
}

// Unsubscribe ends a subscription.
func (b *Broker) Unsubscribe(s *Subscription) {
	if b.closed.Load() {
		return
	}
	select {
	case b.leave <- s:
	case <-b.stopped:
	}
}

// ClientCount returns the number of active subscriptions.
func (b *Broker) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case b.count <- reply:
		return <-reply
	case <-b.stopped:
		return 0
	}
}

// PublishChange broadcasts a stash change of the given type followed by a
// throttled categories.changed event.
func (b *Broker) PublishChange(typ string, data ChangeData) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changes <- change{typ: typ, data: data}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/stash/events). The optional
// category query parameter filters the stream.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	sub := b.Subscribe(r.URL.Query().Get("category"))
	defer b.Unsubscribe(sub)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case frame, ok := <-sub.C:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}
