package trace

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonConstructors(t *testing.T) {
	assert.Equal(t, StopReason{Kind: DebugeeStart}, reasonStart())
	assert.Equal(t, StopReason{Kind: DebugeeExit, ExitCode: 7}, reasonExit(7))
	assert.Equal(t, StopReason{Kind: ReasonBreakpoint, Thread: 3, Addr: 0x400}, reasonBreakpoint(3, 0x400))
	assert.Equal(t, StopReason{Kind: ReasonSignalStop, Thread: 3, Signal: syscall.SIGSEGV}, reasonSignal(3, syscall.SIGSEGV))
	assert.Equal(t, StopReason{Kind: NoSuchProcess, Thread: 3}, reasonNoSuchProcess(3))
	assert.Equal(t, StopReason{Kind: ReasonStep, Thread: 3, Addr: 0x401}, reasonStep(3, 0x401))
}
