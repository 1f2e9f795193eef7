package rifterr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil))
}

func TestWrapAccumulatesFrames(t *testing.T) {
	base := errors.New("boom")

	inner := func() error { return Wrap(base) }
	outer := func() error { return Wrap(inner()) }

	err := outer()
	traced, ok := err.(*TracedError)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, len(traced.Frames), 2)
	assert.ErrorIs(t, traced, base)
}

func TestMergeEmpty(t *testing.T) {
	assert.Nil(t, Merge(nil))
	assert.Nil(t, Merge([]error{}))
}

func TestMergeJoinsMessages(t *testing.T) {
	err := Merge([]error{errors.New("a"), errors.New("b")})
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
}
