// Package buffer connects one producer to one consumer through a bounded
// FIFO with backpressure: producers wait while the buffer is full, the
// consumer waits while it is empty.
package buffer

import (
	"context"
	"iter"
	"sync"
)

// DefaultBufferSize is the capacity used when none is given
const DefaultBufferSize = 10

// PushBuffer is a bounded FIFO between one producer and one consumer.
//
// Push appends and then waits until the buffer has room again, so at most
// one push per producer is in flight beyond capacity. End is the single
// teardown path: it rejects further pushes, releases waiting producers and,
// once the backlog is drained, ends the consumer's sequence with the error
// given to End, delivered once.
type PushBuffer[T any] struct {
	size     int
	writable *Gate // open while len(items) < size
	readable *Gate // open while items are buffered or the buffer ended

	mu    sync.Mutex
	items []T
	ended bool
	err   error
}

// New returns a buffer holding up to size items; size <= 0 selects DefaultBufferSize
func New[T any](size int) *PushBuffer[T] {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &PushBuffer[T]{
		size:     size,
		writable: NewGate(false),
		readable: NewGate(false),
	}
}

// Push appends item and waits for room. It reports false if the buffer was
// already ended (item dropped) or ended while waiting. If ctx ends first the
// item stays buffered and ctx.Err() is returned.
func (b *PushBuffer[T]) Push(ctx context.Context, item T) (bool, error) {
	b.mu.Lock()
	if b.ended {
		b.mu.Unlock()
		return false, nil
	}
	b.items = append(b.items, item)
	b.writable.SetOpen(len(b.items) < b.size)
	b.readable.Open()
	b.mu.Unlock()

	return b.writable.Wait(ctx)
}

// End marks the buffer ended. err, if not nil, is returned to the consumer
// after the buffered items. Only the first call has an effect.
func (b *PushBuffer[T]) End(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ended {
		return
	}
	b.ended = true
	b.err = err
	b.writable.Lock()
	b.readable.Lock()
}

// Next returns the oldest buffered item, waiting for one if needed. ok is
// false once the buffer is ended and drained; the end error is returned by
// the first such call only.
func (b *PushBuffer[T]) Next(ctx context.Context) (item T, ok bool, err error) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			item = b.items[0]
			var zero T
			b.items[0] = zero
			b.items = b.items[1:]
			b.writable.SetOpen(len(b.items) < b.size)
			b.mu.Unlock()
			return item, true, nil
		}
		if b.ended {
			err = b.err
			b.err = nil
			b.items = nil
			b.mu.Unlock()
			return item, false, err
		}
		b.readable.Close()
		b.mu.Unlock()

		if _, err := b.readable.Wait(ctx); err != nil {
			return item, false, err
		}
	}
}

// All returns the consumer side as a sequence. Breaking out of the loop ends
// the buffer and drops what is left in it. A cancelled ctx ends the buffer
// with ctx.Err().
func (b *PushBuffer[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			item, ok, err := b.Next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					b.End(err)
					b.discard()
				}
				var zero T
				yield(zero, err)
				return
			}
			if !ok {
				return
			}
			if !yield(item, nil) {
				b.End(nil)
				b.discard()
				return
			}
		}
	}
}

func (b *PushBuffer[T]) discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
	b.err = nil
}

// Len returns the number of buffered items
func (b *PushBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Cap returns the buffer capacity
func (b *PushBuffer[T]) Cap() int {
	return b.size
}

// Ended reports whether End was called
func (b *PushBuffer[T]) Ended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ended
}

// Pull pushes every item of src into dest until src is exhausted, src yields
// an error or dest rejects a push. dest is ended exactly once, with the
// source or context error if there was one.
func Pull[T any](ctx context.Context, src iter.Seq2[T, error], dest *PushBuffer[T]) {
	var endErr error
	defer func() { dest.End(endErr) }()

	for item, err := range src {
		if err != nil {
			endErr = err
			return
		}
		ok, err := dest.Push(ctx, item)
		if err != nil {
			endErr = err
			return
		}
		if !ok {
			return
		}
	}
}

// DefaultPullBufferSize is the capacity of buffers made by NewPullBuffer
const DefaultPullBufferSize = 256

// NewPullBuffer returns a buffer fed from src by a background Pull.
// size <= 0 selects DefaultPullBufferSize.
func NewPullBuffer[T any](ctx context.Context, src iter.Seq2[T, error], size int) *PushBuffer[T] {
	if size <= 0 {
		size = DefaultPullBufferSize
	}
	b := New[T](size)
	go Pull(ctx, src, b)
	return b
}
