// Package sse fans rendered HTML fragments out to connected browsers over
// Server-Sent Events.
package sse

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Event is one SSE frame: a named event carrying an HTML fragment or a
// plain value.
type Event struct {
	Name string
	Data string
}

// WriteEvent serializes an event in wire format. Multi-line data becomes
// multiple data: lines so embedded newlines survive the framing.
func WriteEvent(w io.Writer, ev Event) error {
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", ev.Name)
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// Broker distributes events to subscribers. A slow subscriber drops
// events rather than blocking the publisher; every update is a full
// fragment replacement, so a dropped event is superseded by the next one.
type Broker struct {
	mu      sync.Mutex
	clients map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{clients: make(map[chan Event]struct{})}
}

// Subscribe registers a client. The returned cancel must be called when
// the client goes away; the channel is closed then.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber, dropping it for clients
// whose buffer is full.
func (b *Broker) Publish(events ...Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		for _, ev := range events {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// ClientCount reports the number of connected subscribers.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
