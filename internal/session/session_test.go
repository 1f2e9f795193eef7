package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepOutRequiresCallerFrame(t *testing.T) {
	s := &Session{lastEvent: Event{Backtrace: []Frame{{PC: 0x1000}}}}

	_, err := s.StepOut()
	require.Error(t, err)
}

func TestStepLineRejectsExitedDebuggee(t *testing.T) {
	s := &Session{lastEvent: Event{Exited: true}}

	_, err := s.StepLine()
	require.Error(t, err)

	_, err = s.StepOverLine()
	assert.Error(t, err)
}
