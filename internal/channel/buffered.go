package channel

import "context"

// Buffered queues up to Cap values before senders wait.
type Buffered[T any] struct {
	ch chan T
}

func NewBuffered[T any](size int) *Buffered[T] {
	return &Buffered[T]{ch: make(chan T, size)}
}

func (b *Buffered[T]) Send(v T) { b.ch <- v }

func (b *Buffered[T]) SendContext(ctx context.Context, v T) error {
	return sendContext(ctx, b.ch, v)
}

// TrySend fails with ErrFull once Len reaches Cap.
func (b *Buffered[T]) TrySend(v T) error { return trySend(b.ch, v) }

func (b *Buffered[T]) Receive() <-chan T { return b.ch }

// Len is the number of queued values not yet received.
func (b *Buffered[T]) Len() int { return len(b.ch) }

func (b *Buffered[T]) Cap() int { return cap(b.ch) }

// Close must only be called by the sole sender.
func (b *Buffered[T]) Close() { close(b.ch) }
