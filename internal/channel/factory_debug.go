//go:build debug

package channel

// New ignores size under the debug tag. With no slack in the send queue,
// a producer that depends on buffering for progress deadlocks in tests
// instead of under production load.
func New[T any](_ int) Channel[T] {
	return NewUnbuffered[T]()
}
