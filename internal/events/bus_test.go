package events

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func startedEvent(id string) Event {
	return Event{
		Type:      TaskStarted,
		TaskID:    id,
		Timestamp: time.Now(),
		Payload:   StartedPayload{Name: "Test Task", ExecutorType: "shell", Attempt: 1},
	}
}

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	ch := bus.Subscribe(10)
	bus.Publish(startedEvent("task-1"))

	select {
	case received := <-ch:
		if received.TaskID != "task-1" {
			t.Errorf("expected task ID 'task-1', got '%s'", received.TaskID)
		}
		if received.Type != TaskStarted {
			t.Errorf("expected event type '%s', got '%s'", TaskStarted, received.Type)
		}
		if p, ok := received.Payload.(StartedPayload); !ok || p.ExecutorType != "shell" {
			t.Errorf("unexpected payload: %#v", received.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	ch1 := bus.Subscribe(10)
	ch2 := bus.Subscribe(10)

	bus.Publish(Event{Type: TaskCompleted, TaskID: "task-2", Timestamp: time.Now()})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID != "task-2" {
				t.Errorf("subscriber %d: expected task ID 'task-2', got '%s'", i+1, received.TaskID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when buffers are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	ch := bus.Subscribe(1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(startedEvent(fmt.Sprintf("task-%d", i)))
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if got := bus.Dropped(); got != 9 {
		t.Errorf("expected 9 dropped deliveries, got %d", got)
	}

	// The first event survives
	if ev := <-ch; ev.TaskID != "task-0" {
		t.Errorf("expected task-0, got %s", ev.TaskID)
	}
}

// TestOnEventOrder verifies handlers see events in emission order.
func TestOnEventOrder(t *testing.T) {
	bus := NewBus(100)

	var mu sync.Mutex
	var seen []string
	bus.OnEvent(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.TaskID)
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		bus.Publish(startedEvent(fmt.Sprintf("task-%d", i)))
	}
	bus.Close() // Waits for the handler to drain

	if len(seen) != 50 {
		t.Fatalf("expected 50 events, got %d", len(seen))
	}
	for i, id := range seen {
		if want := fmt.Sprintf("task-%d", i); id != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, id)
		}
	}
}

// TestSlowHandlerDoesNotStallPublish verifies a blocked handler only loses its own events.
func TestSlowHandlerDoesNotStallPublish(t *testing.T) {
	bus := NewBus(2)

	release := make(chan struct{})
	bus.OnEvent(func(ev Event) { <-release })
	fast := bus.Subscribe(100)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			bus.Publish(startedEvent(fmt.Sprintf("task-%d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("slow handler stalled Publish")
	}

	if got := len(fast); got != 20 {
		t.Errorf("fast subscriber expected 20 buffered events, got %d", got)
	}
	if bus.Dropped() == 0 {
		t.Error("expected drops for slow handler")
	}

	close(release)
	bus.Close()
}

// TestHandlerPanicRecovered verifies a panicking handler keeps receiving.
func TestHandlerPanicRecovered(t *testing.T) {
	bus := NewBus(10)

	var mu sync.Mutex
	count := 0
	bus.OnEvent(func(ev Event) {
		mu.Lock()
		count++
		mu.Unlock()
		if ev.TaskID == "bad" {
			panic("handler exploded")
		}
	})

	bus.Publish(startedEvent("bad"))
	bus.Publish(startedEvent("good"))
	bus.Close()

	if count != 2 {
		t.Errorf("expected handler to see 2 events, got %d", count)
	}
}

// TestUnsubscribe verifies an unsubscribed handler stops receiving.
func TestUnsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	got := make(chan Event, 10)
	unsubscribe := bus.OnEvent(func(ev Event) { got <- ev })

	bus.Publish(startedEvent("one"))
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for first event")
	}

	unsubscribe()
	bus.Publish(startedEvent("two"))

	select {
	case ev := <-got:
		t.Fatalf("received event after unsubscribe: %s", ev.TaskID)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestCloseSignalsSubscribers verifies Close closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewBus(10)
	ch := bus.Subscribe(10)

	bus.Close()
	bus.Close() // Idempotent

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel not closed")
	}

	// Publishing and subscribing after close are no-ops
	bus.Publish(startedEvent("late"))
	if _, ok := <-bus.Subscribe(1); ok {
		t.Error("expected subscription after close to be closed")
	}
}
