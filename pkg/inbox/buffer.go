// Package inbox implements the buffered mailbox endpoints read from: a
// reader goroutine pushes, waiters scan the buffer in arrival order and block
// until something they accept shows up or their deadline passes.
package inbox

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrTimeout is returned by Wait when the deadline passes.
	ErrTimeout = errors.New("timed out waiting for message")
	// ErrClosed is returned by Wait once the buffer is closed and drained of matches.
	ErrClosed = errors.New("inbox closed")
)

// Verdict is a visitor's decision about one buffered item.
type Verdict int

const (
	// Keep leaves the item buffered for another waiter.
	Keep Verdict = iota
	// Take removes the item and returns it to the waiter.
	Take
	// Discard removes the item and continues scanning.
	Discard
)

// Visitor inspects a buffered item. A non-nil error removes the item and
// ends the wait with that error.
type Visitor[T any] func(item T) (Verdict, error)

// Buffer is a FIFO of received items with broadcast wake-ups.
type Buffer[T any] struct {
	mu     sync.Mutex
	items  []T
	wake   chan struct{}
	closed bool
}

// New creates an empty buffer.
func New[T any]() *Buffer[T] {
	return &Buffer[T]{wake: make(chan struct{})}
}

// Push appends an item and wakes every waiter. Pushing to a closed buffer
// is a no-op.
func (b *Buffer[T]) Push(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.items = append(b.items, item)
	b.broadcast()
}

func (b *Buffer[T]) broadcast() {
	close(b.wake)
	b.wake = make(chan struct{})
}

// Close wakes all waiters; subsequent waits fail with ErrClosed once no
// buffered item satisfies them.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.broadcast()
}

// Closed reports whether Close was called.
func (b *Buffer[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// scan applies visit to the items in order. It must be called with mu held.
func (b *Buffer[T]) scan(visit Visitor[T]) (item T, found bool, err error) {
	for i := 0; i < len(b.items); {
		verdict, verr := visit(b.items[i])
		if verr != nil {
			b.remove(i)
			return item, false, verr
		}
		switch verdict {
		case Take:
			item = b.items[i]
			b.remove(i)
			return item, true, nil
		case Discard:
			b.remove(i)
		default:
			i++
		}
	}
	return item, false, nil
}

func (b *Buffer[T]) remove(i int) {
	var zero T
	copy(b.items[i:], b.items[i+1:])
	b.items[len(b.items)-1] = zero
	b.items = b.items[:len(b.items)-1]
}

// TryTake runs one scan without blocking.
func (b *Buffer[T]) TryTake(visit Visitor[T]) (T, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scan(visit)
}

// Wait scans the buffer, then blocks for new items until visit takes one,
// returns an error, the timeout elapses or ctx is done. The timeout is a
// single deadline: discarded items do not extend it. A zero timeout waits
// until ctx is done.
func (b *Buffer[T]) Wait(ctx context.Context, timeout time.Duration, visit Visitor[T]) (T, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		b.mu.Lock()
		item, found, err := b.scan(visit)
		if found || err != nil {
			b.mu.Unlock()
			return item, err
		}
		if b.closed {
			b.mu.Unlock()
			return item, ErrClosed
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-deadline:
			// a push may have raced the timer
			b.mu.Lock()
			item, found, err = b.scan(visit)
			b.mu.Unlock()
			if found || err != nil {
				return item, err
			}
			return item, ErrTimeout
		case <-ctx.Done():
			return item, ctx.Err()
		}
	}
}

// Snapshot returns a copy of the buffered items.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]T(nil), b.items...)
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Drain removes and returns every buffered item.
func (b *Buffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	return items
}
