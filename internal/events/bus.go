// Package events fans task lifecycle events out to subscribers without
// letting a slow subscriber stall the publisher.
package events

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is used when a non-positive buffer size is requested.
const DefaultBufferSize = 256

// Handler consumes events delivered by OnEvent.
type Handler func(Event)

type subscriber struct {
	id int
	ch chan Event
}

// Bus is a fan-out event bus. Each subscriber has its own bounded FIFO
// buffer; Publish drops an event for a subscriber whose buffer is full.
type Bus struct {
	mu      sync.RWMutex
	subs    []*subscriber
	nextID  int
	closed  bool
	bufSize int
	dropped atomic.Int64
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewBus creates a bus whose subscriptions default to bufSize entries.
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Bus{
		bufSize: bufSize,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger used to report handler panics.
func (b *Bus) SetLogger(l *slog.Logger) {
	if l != nil {
		b.logger = l
	}
}

// Subscribe returns a channel receiving every published event in order.
// bufSize <= 0 uses the bus default. The channel is closed by Close.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	_, ch := b.add(bufSize)
	return ch
}

// OnEvent runs handler for every event on a dedicated goroutine, in
// emission order. A panicking handler is logged and keeps receiving.
// The returned function unsubscribes.
func (b *Bus) OnEvent(handler Handler) (unsubscribe func()) {
	id, ch := b.add(0)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range ch {
			b.deliver(handler, ev)
		}
	}()

	return func() { b.remove(id) }
}

func (b *Bus) deliver(handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", "type", ev.Type, "task_id", ev.TaskID, "err", fmt.Sprint(r))
		}
	}()
	handler(ev)
}

func (b *Bus) add(bufSize int) (int, chan Event) {
	if bufSize <= 0 {
		bufSize = b.bufSize
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return -1, ch
	}

	b.nextID++
	b.subs = append(b.subs, &subscriber{id: b.nextID, ch: ch})
	return b.nextID, ch
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			close(sub.ch)
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			// Buffer full, drop for this subscriber
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of per-subscriber deliveries dropped so far.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels and waits for OnEvent handlers to
// drain their buffers. Safe to call multiple times. Must not be called from
// inside a handler.
func (b *Bus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for _, sub := range b.subs {
			close(sub.ch)
		}
		b.subs = nil
	}
	b.mu.Unlock()

	b.wg.Wait()
}
