//go:build !debug

package channel

// New returns the channel a connection queues outgoing frames on. A
// non-positive size gives an unbuffered channel, so every send waits for
// the writer.
func New[T any](size int) Channel[T] {
	if size <= 0 {
		return NewUnbuffered[T]()
	}
	return NewBuffered[T](size)
}
