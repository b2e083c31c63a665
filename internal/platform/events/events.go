// Package events publishes one notification per successful mutation so
// downstream indexers and off-chain mirrors can subscribe. Event names are
// per operation ("InvestigationCreated", "CustodyTransferred", ...), payload
// is the mutated record serialized as JSON.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Publisher fans a mutation event out to subscribers. Publishing is
// best-effort from the caller's perspective: a broker outage must never fail
// the mutation that already committed.
type Publisher interface {
	Publish(ctx context.Context, name string, payload json.RawMessage)
	Close()
}

// Noop discards events. Used when no brokers are configured and in unit
// tests that don't assert on notifications.
type Noop struct{}

func (Noop) Publish(context.Context, string, json.RawMessage) {}
func (Noop) Close()                                           {}

// Memory collects events in order. Test double.
type Memory struct {
	mu     sync.Mutex
	events []Recorded
}

// Recorded is one captured event.
type Recorded struct {
	Name    string
	Payload json.RawMessage
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Publish(_ context.Context, name string, payload json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Recorded{Name: name, Payload: payload})
}

func (m *Memory) Close() {}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Recorded, len(m.events))
	copy(out, m.events)
	return out
}

// logDropped is shared by publishers that cannot deliver.
func logDropped(log *slog.Logger, name string, err error) {
	if log != nil {
		log.Error("mutation event dropped", "event", name, "error", err)
	}
}
