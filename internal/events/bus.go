// Package events is the in-process event bus that carries agent loop and
// stage coordinator activity to observers (MQTT publisher, logs, tests).
// Publishing on a nil *Bus is a no-op so components need no guards.
package events

import (
	"context"
	"sync"
	"time"
)

// Sources.
const (
	SourceLoop        = "loop"
	SourceCoordinator = "coordinator"
)

// Kinds. Data keys are listed per kind.
const (
	// KindLLMCall: role, round, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse: role, round, model, tokens_in, tokens_out, cost_usd, tool_calls.
	KindLLMResponse = "llm_response"
	// KindToolCall: role, tool.
	KindToolCall = "tool_call"
	// KindToolDone: role, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindHandoff: conversation_id, from, to, payload.
	KindHandoff = "handoff"
	// KindStageChange: conversation_id, from, to, reason (go_back, skip).
	KindStageChange = "stage_change"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Slow subscribers miss events
// rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit is shorthand for publishing an event stamped now.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a buffered event channel and a cancel function that
// removes the subscription and closes the channel. Cancel is idempotent.
func (b *Bus) Subscribe(bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Consume subscribes and calls fn for each event until ctx is done.
// It blocks; run it in a goroutine.
func (b *Bus) Consume(ctx context.Context, bufSize int, fn func(Event)) {
	if b == nil {
		return
	}
	ch, cancel := b.Subscribe(bufSize)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			fn(e)
		}
	}
}
