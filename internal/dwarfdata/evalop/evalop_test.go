package evalop

import (
	"encoding/binary"
	"testing"

	delveop "github.com/go-delve/delve/pkg/dwarf/op"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateDwOpAddr(t *testing.T) {
	instructions := []byte{0x03} // DW_OP_addr
	instructions = append(instructions, make([]byte, 8)...)
	binary.LittleEndian.PutUint64(instructions[1:], 0xdeadbeef)

	addr, pieces, err := Evaluate(Options{}, instructions)
	require.NoError(t, err)
	assert.Empty(t, pieces)
	assert.Equal(t, int64(0xdeadbeef), addr)
}

func TestEvaluateUsesFrameBaseAndCFA(t *testing.T) {
	// DW_OP_fbreg -8: fetches the frame base plus a signed LEB128 offset.
	instructions := []byte{0x91, 0x78} // 0x78 is SLEB128(-8)

	addr, _, err := Evaluate(Options{BaseFrame: 100}, instructions)
	require.NoError(t, err)
	assert.Equal(t, int64(92), addr)

	// DW_OP_call_frame_cfa: pushes the supplied CFA.
	addr, _, err = Evaluate(Options{CFA: 200}, []byte{0x9c})
	require.NoError(t, err)
	assert.Equal(t, int64(200), addr)
}

func TestEvaluateSeedsRegistersFromAtLocation(t *testing.T) {
	regs := &delveop.DwarfRegisters{ByteOrder: binary.LittleEndian}
	regs.AddReg(0, delveop.DwarfRegisterFromUint64(0x42))

	// DW_OP_reg0: the value lives entirely in register 0.
	_, pieces, err := Evaluate(Options{AtLocation: regs}, []byte{0x50})
	require.NoError(t, err)
	require.Len(t, pieces, 1)
}
