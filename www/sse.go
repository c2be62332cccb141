package www

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"linetrack/engine"
)

const (
	streamBuffer   = 64
	streamKeepwarm = 30 * time.Second
)

// message is one server-sent event.
type message struct {
	name string
	data []byte
}

// EventHub relays engine events to /events subscribers. A subscriber whose
// buffer is full misses the event instead of stalling the engine.
type EventHub struct {
	mu      sync.Mutex
	streams map[chan message]struct{}
	closed  chan struct{}
	stop    sync.Once
	detach  func()
}

func NewEventHub() *EventHub {
	return &EventHub{streams: map[chan message]struct{}{}, closed: make(chan struct{})}
}

// Attach forwards every engine event, named by its type with its payload as
// JSON. Reports are skipped while nobody listens.
func (h *EventHub) Attach(eng *engine.Engine) {
	id := eng.Events.Subscribe(func(evt engine.Event) {
		if evt.Type == engine.EventVehicleReport && h.Listeners() == 0 {
			return
		}
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			log.Printf("sse: encode %s: %v", evt.Type, err)
			return
		}
		h.Publish(evt.Type.String(), data)
	})
	h.detach = func() { eng.Events.Unsubscribe(id) }
}

// Stop detaches from the engine and ends every open stream.
func (h *EventHub) Stop() {
	h.stop.Do(func() {
		if h.detach != nil {
			h.detach()
		}
		close(h.closed)
	})
}

func (h *EventHub) Publish(name string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.streams {
		select {
		case ch <- message{name: name, data: data}:
		default:
		}
	}
}

func (h *EventHub) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

func (h *EventHub) join() chan message {
	ch := make(chan message, streamBuffer)
	h.mu.Lock()
	h.streams[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) leave(ch chan message) {
	h.mu.Lock()
	delete(h.streams, ch)
	h.mu.Unlock()
}

// ServeHTTP streams events until the client goes away or the hub stops.
// Idle streams get a comment line every streamKeepwarm.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	ch := h.join()
	defer h.leave(ch)

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	idle := time.NewTicker(streamKeepwarm)
	defer idle.Stop()
	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case <-h.closed:
			return
		case m := <-ch:
			_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", m.name, m.data)
		case <-idle.C:
			_, err = fmt.Fprint(w, ": keepalive\n\n")
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
}
