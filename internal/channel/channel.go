// Package channel provides generic channel interfaces for decoupled communication.
package channel

import (
	"context"
	"errors"
)

// ErrFull is returned by TrySend when the channel cannot take a value now.
var ErrFull = errors.New("channel full")

// Receiver provides read access to a channel.
type Receiver[T any] interface {
	Receive() <-chan T
	Len() int
}

// Sender provides write access to a channel.
type Sender[T any] interface {
	Send(T)
	// SendContext blocks until the value is queued or ctx is done.
	SendContext(ctx context.Context, v T) error
	// TrySend queues the value without blocking or returns ErrFull.
	TrySend(v T) error
}

// Channel combines read and write access.
type Channel[T any] interface {
	Receiver[T]
	Sender[T]
	Close()
}

func sendContext[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func trySend[T any](ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	default:
		return ErrFull
	}
}
