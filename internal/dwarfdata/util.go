package dwarfdata

import "github.com/riftdbg/rift/internal/regset"

// readAddress decodes a pointer-sized value in the debuggee's native byte
// order, e.g. the operand of a DW_OP_addr expression or the bytes read back
// from a pointer variable's location.
func readAddress(data []byte) uintptr {
	if len(data) < sizeofPtr {
		return 0
	}
	if sizeofPtr == 4 {
		return uintptr(regset.ByteOrder.Uint32(data))
	}
	return uintptr(regset.ByteOrder.Uint64(data))
}
