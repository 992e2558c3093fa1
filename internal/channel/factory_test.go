//go:build !debug

package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_SizeSelectsImplementation(t *testing.T) {
	assert.IsType(t, &Buffered[int]{}, New[int](8))
	assert.IsType(t, &Unbuffered[int]{}, New[int](0))
	assert.IsType(t, &Unbuffered[int]{}, New[int](-1))
}
