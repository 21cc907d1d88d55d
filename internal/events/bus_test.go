package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourceLoop, Kind: KindLLMCall})
	b.Emit(SourceLoop, KindToolCall, nil)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestPublishFanOut(t *testing.T) {
	b := New()
	ch1, cancel1 := b.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(4)
	defer cancel2()

	b.Emit(SourceCoordinator, KindHandoff, map[string]any{"from": "briefing", "to": "wellness"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Kind != KindHandoff || got.Data["to"] != "wellness" {
				t.Errorf("subscriber %d got %+v", i, got)
			}
			if got.Timestamp.IsZero() {
				t.Errorf("subscriber %d got unstamped event", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Emit(SourceLoop, KindLLMCall, nil)
	b.Emit(SourceLoop, KindLLMResponse, nil) // dropped, must not block

	if got := <-ch; got.Kind != KindLLMCall {
		t.Errorf("first event = %s", got.Kind)
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected second event %+v", e)
	default:
	}
}

func TestCancelIdempotent(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel()

	if _, open := <-ch; open {
		t.Error("channel should be closed after cancel")
	}
	if b.SubscriberCount() != 0 {
		t.Error("subscription not removed")
	}
}

func TestConsume(t *testing.T) {
	b := New()
	ctx, stop := context.WithCancel(context.Background())

	var mu sync.Mutex
	var kinds []string
	done := make(chan struct{})
	go func() {
		b.Consume(ctx, 8, func(e Event) {
			mu.Lock()
			kinds = append(kinds, e.Kind)
			mu.Unlock()
		})
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	b.Emit(SourceCoordinator, KindStageChange, nil)

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(kinds)
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	stop()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 1 || kinds[0] != KindStageChange {
		t.Errorf("consumed %v", kinds)
	}
}
