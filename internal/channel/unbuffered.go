package channel

import "context"

// Unbuffered hands each value directly to a waiting receiver.
type Unbuffered[T any] struct {
	ch chan T
}

func NewUnbuffered[T any]() *Unbuffered[T] {
	return &Unbuffered[T]{ch: make(chan T)}
}

func (u *Unbuffered[T]) Send(v T) { u.ch <- v }

func (u *Unbuffered[T]) SendContext(ctx context.Context, v T) error {
	return sendContext(ctx, u.ch, v)
}

// TrySend succeeds only when a receiver is already blocked on Receive.
func (u *Unbuffered[T]) TrySend(v T) error { return trySend(u.ch, v) }

func (u *Unbuffered[T]) Receive() <-chan T { return u.ch }

// Len is always zero; nothing is ever queued.
func (u *Unbuffered[T]) Len() int { return 0 }

// Close must only be called by the sole sender.
func (u *Unbuffered[T]) Close() { close(u.ch) }
