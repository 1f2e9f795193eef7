package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftdbg/rift/internal/addr"
)

// fakeMemory is a byte-addressed stand-in for the debuggee's memory, letting
// the save/enable/disable round-trip be tested without a real tracee.
type fakeMemory struct {
	mem map[uintptr]byte
}

func newFakeMemory(addrs map[uintptr]byte) *fakeMemory {
	return &fakeMemory{mem: addrs}
}

func (m *fakeMemory) PeekData(a uintptr, out []byte) error {
	for i := range out {
		out[i] = m.mem[a+uintptr(i)]
	}
	return nil
}

func (m *fakeMemory) PokeData(a uintptr, data []byte) error {
	for i, b := range data {
		m.mem[a+uintptr(i)] = b
	}
	return nil
}

func TestBreakpointEnableDisableRoundTrip(t *testing.T) {
	mem := newFakeMemory(map[uintptr]byte{0x1000: 0x55})

	bp := NewBreakpoint(mem, addr.Relocated(0x1000), ThreadID(1), UserBreakpoint)
	require.NoError(t, bp.Enable())
	assert.True(t, bp.IsEnabled())
	assert.Equal(t, byte(0xcc), mem.mem[0x1000])
	require.NoError(t, bp.VerifyInvariant())

	require.NoError(t, bp.Disable())
	assert.False(t, bp.IsEnabled())
	assert.Equal(t, byte(0x55), mem.mem[0x1000])
}

func TestBreakpointDoubleEnableFails(t *testing.T) {
	mem := newFakeMemory(map[uintptr]byte{0x2000: 0x90})
	bp := NewBreakpoint(mem, addr.Relocated(0x2000), ThreadID(1), UserBreakpoint)

	require.NoError(t, bp.Enable())
	assert.Error(t, bp.Enable())
}

func TestBreakpointDoubleDisableFails(t *testing.T) {
	mem := newFakeMemory(map[uintptr]byte{0x3000: 0x90})
	bp := NewBreakpoint(mem, addr.Relocated(0x3000), ThreadID(1), UserBreakpoint)

	assert.Error(t, bp.Disable())
}

func TestRegistryAddAndRemove(t *testing.T) {
	mem := newFakeMemory(map[uintptr]byte{0x4000: 0x90})
	bp := NewBreakpoint(mem, addr.Relocated(0x4000), ThreadID(1), UserBreakpoint)
	require.NoError(t, bp.Enable())

	r := NewRegistry()
	r.Add(bp)

	found, ok := r.At(addr.Relocated(0x4000))
	require.True(t, ok)
	assert.Same(t, bp, found)

	require.NoError(t, r.Remove(addr.Relocated(0x4000)))
	_, ok = r.At(addr.Relocated(0x4000))
	assert.False(t, ok)
}
