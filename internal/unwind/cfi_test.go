package unwind

import (
	"testing"

	delveframe "github.com/go-delve/delve/pkg/dwarf/frame"
	delveop "github.com/go-delve/delve/pkg/dwarf/op"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMemory is an in-memory trace.MemoryAccess double: a map from exact
// address to the bytes stored there (PeekData copies the slice stored at that
// address), avoiding any real ptrace call.
type fakeMemory struct {
	data map[uintptr][]byte
}

func (m fakeMemory) PeekData(addr uintptr, out []byte) error {
	src := m.data[addr]
	copy(out, src)
	return nil
}

func (m fakeMemory) PokeData(addr uintptr, data []byte) error {
	m.data[addr] = append([]byte(nil), data...)
	return nil
}

// fakeResolver returns a fixed FDE regardless of pc, enough to exercise
// CFIUnwinder.Step's rule dispatch without a real .eh_frame section.
type fakeResolver struct {
	fde *delveframe.FrameDescriptionEntry
}

func (r fakeResolver) FDEForPC(pc uintptr) (*delveframe.FrameDescriptionEntry, error) {
	if r.fde == nil {
		return nil, assert.AnError
	}
	return r.fde, nil
}

func (r fakeResolver) FrameBaseAt(pc uintptr, regs *delveop.DwarfRegisters) (uintptr, error) {
	return 0, nil
}

func newRegs() *delveop.DwarfRegisters {
	regs := &delveop.DwarfRegisters{ByteOrder: byteOrderLE{}}
	regs.AddReg(6, delveop.DwarfRegisterFromUint64(0x1000)) // rbp
	return regs
}

// byteOrderLE avoids importing regset from a leaf test, matching x86-64's
// fixed endianness directly.
type byteOrderLE struct{}

func (byteOrderLE) Uint16(b []byte) uint16  { return uint16(b[0]) | uint16(b[1])<<8 }
func (byteOrderLE) Uint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func (byteOrderLE) Uint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
func (byteOrderLE) PutUint16(b []byte, v uint16) {}
func (byteOrderLE) PutUint32(b []byte, v uint32) {}
func (byteOrderLE) PutUint64(b []byte, v uint64) {}
func (byteOrderLE) String() string               { return "LittleEndian" }

func TestStepReturnsNoUnwindInfoForAddress(t *testing.T) {
	u := NewCFIUnwinder(fakeResolver{}, fakeMemory{data: map[uintptr][]byte{}}, 8)

	_, err := u.Step(0x400000, newRegs())
	require.Error(t, err)

	var noInfo *NoUnwindInfoForAddress
	assert.ErrorAs(t, err, &noInfo)
	assert.Equal(t, uintptr(0x400000), noInfo.PC)
}

func TestExecuteRuleSameVal(t *testing.T) {
	u := NewCFIUnwinder(fakeResolver{}, fakeMemory{}, 8)
	regs := newRegs()

	reg, err := u.executeRule(delveframe.DWRule{Rule: delveframe.RuleSameVal, Reg: 6}, 0, regs)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), reg.Uint64Val)
}

func TestExecuteRuleOffsetReadsMemory(t *testing.T) {
	mem := fakeMemory{data: map[uintptr][]byte{
		0x2008: {0x10, 0x20, 0x30, 0x40, 0, 0, 0, 0},
	}}
	u := NewCFIUnwinder(fakeResolver{}, mem, 8)

	reg, err := u.executeRule(delveframe.DWRule{Rule: delveframe.RuleOffset, Offset: 8}, 0x2000, newRegs())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x40302010), reg.Uint64Val)
}

func TestExecuteRuleValOffset(t *testing.T) {
	u := NewCFIUnwinder(fakeResolver{}, fakeMemory{}, 8)

	reg, err := u.executeRule(delveframe.DWRule{Rule: delveframe.RuleValOffset, Offset: 16}, 0x3000, newRegs())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x3010), reg.Uint64Val)
}

func TestExecuteRuleUndefinedReturnsNil(t *testing.T) {
	u := NewCFIUnwinder(fakeResolver{}, fakeMemory{}, 8)

	reg, err := u.executeRule(delveframe.DWRule{Rule: delveframe.RuleUndefined}, 0, newRegs())
	require.NoError(t, err)
	assert.Nil(t, reg)
}

func TestIteratorFallsBackToLibunwind(t *testing.T) {
	regs := newRegs()
	regs.AddReg(int(regs.PCRegNum), delveop.DwarfRegisterFromUint64(0x400000))

	var calledWith uintptr
	fallback := fakeFallback(func(pc uintptr) (uintptr, bool) {
		calledWith = pc
		return 0x400100, true
	})

	it := NewIterator(fakeMemory{data: map[uintptr][]byte{}}, fakeResolver{}, fallback, regs, 8)
	ok := it.Next()

	require.True(t, ok)
	assert.True(t, it.UsedLibunwind())
	assert.Equal(t, uintptr(0x400000), calledWith)
}

type fakeFallback func(pc uintptr) (uintptr, bool)

func (f fakeFallback) Step(pc uintptr) (uintptr, bool) { return f(pc) }
