//go:build !debug

package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IsBuffered(t *testing.T) {
	ch := New[int](2)
	require.NoError(t, ch.TrySend(1))
	require.NoError(t, ch.TrySend(2))
	assert.Equal(t, 2, ch.Len())
	assert.ErrorIs(t, ch.TrySend(3), ErrFull)

	assert.Equal(t, 1, <-ch.Receive())
	assert.Equal(t, 1, ch.Len())
}

func TestSendContext_WaitsForRoom(t *testing.T) {
	ch := NewBuffered[string](1)
	ch.Send("a")

	done := make(chan error, 1)
	go func() { done <- ch.SendContext(context.Background(), "b") }()

	select {
	case <-done:
		t.Fatal("send should block while the buffer is full")
	case <-time.After(20 * time.Millisecond):
	}

	assert.Equal(t, "a", <-ch.Receive())
	require.NoError(t, <-done)
	assert.Equal(t, "b", <-ch.Receive())
}

func TestSendContext_Cancelled(t *testing.T) {
	ch := NewBuffered[int](0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ch.SendContext(ctx, 1), context.Canceled)
}

func TestUnbuffered_TrySendNeedsReceiver(t *testing.T) {
	ch := NewUnbuffered[int]()
	assert.ErrorIs(t, ch.TrySend(1), ErrFull)
	assert.Zero(t, ch.Len())

	got := make(chan int)
	go func() { got <- <-ch.Receive() }()
	require.NoError(t, ch.SendContext(context.Background(), 7))
	assert.Equal(t, 7, <-got)
}

func TestClose_EndsReceive(t *testing.T) {
	ch := NewBuffered[int](1)
	ch.Send(1)
	ch.Close()

	var got []int
	for v := range ch.Receive() {
		got = append(got, v)
	}
	assert.Equal(t, []int{1}, got)
}
