// Package memory records published events in process. It backs tests
// and the pubsub.provider=memory dev mode.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Event captures one publish call.
type Event struct {
	Topic   string
	Payload any
}

// Publisher appends events to a slice instead of sending them anywhere.
type Publisher struct {
	mu     sync.Mutex
	events []Event
}

// New returns an empty memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a sequential pseudo id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns a copy of the recorded events (test helper).
func (p *Publisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
