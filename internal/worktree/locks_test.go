package worktree

import (
	"sync"
	"testing"
	"time"
)

// TestKeyedMutex_SameKeyBlocks verifies operations on one task serialize.
func TestKeyedMutex_SameKeyBlocks(t *testing.T) {
	k := newKeyedMutex()
	order := make(chan int, 2)

	k.Lock("task-1")
	go func() {
		k.Lock("task-1")
		order <- 2
		k.Unlock("task-1")
	}()

	time.Sleep(10 * time.Millisecond)
	order <- 1
	k.Unlock("task-1")

	if first, second := <-order, <-order; first != 1 || second != 2 {
		t.Errorf("Expected order [1, 2], got [%d, %d]", first, second)
	}
}

// TestKeyedMutex_DifferentKeysConcurrent verifies different tasks don't block each other.
func TestKeyedMutex_DifferentKeysConcurrent(t *testing.T) {
	k := newKeyedMutex()
	k.Lock("a")
	defer k.Unlock("a")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		k.Lock("b")
		k.Unlock("b")
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

// TestKeyedMutex_UnlockUnknownKey verifies unlocking a never-locked key is a no-op.
func TestKeyedMutex_UnlockUnknownKey(t *testing.T) {
	k := newKeyedMutex()
	k.Unlock("ghost")
}
