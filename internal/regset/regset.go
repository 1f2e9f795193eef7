// Package regset builds the per-thread DWARF register file the expression
// evaluator and unwinder consume, translating from the kernel's PtraceRegs
// layout to DWARF register numbers. Grounded on the teacher's common/regs.go,
// restated against go-delve/delve/pkg/dwarf/op's DwarfRegisters instead of a
// hand-rolled register map.
package regset

import (
	"encoding/binary"

	"github.com/go-delve/delve/pkg/dwarf/op"

	"github.com/riftdbg/rift/internal/arch"
)

// ByteOrder is the debuggee's native byte order. x86-64 Linux is always
// little-endian; this is kept as a variable rather than a hardcoded constant
// so the expression evaluator and unwinder can share one source of truth.
var ByteOrder binary.ByteOrder = binary.LittleEndian

// FromPtraceRegs builds an op.DwarfRegisters from a raw PtraceRegs field
// slice (as returned by syscall.PtraceGetRegs, reinterpreted into a []uint64
// in declaration order) and the static base of the image the PC falls in.
func FromPtraceRegs(raw []uint64, staticBase uint64) *op.DwarfRegisters {
	regs := &op.DwarfRegisters{
		Regs:       make([]*op.DwarfRegister, 0, len(raw)),
		ByteOrder:  ByteOrder,
		StaticBase: staticBase,
		PCRegNum:   arch.PCRegNum,
		SPRegNum:   arch.SPRegNum,
		BPRegNum:   arch.BPRegNum,
	}

	for i, v := range raw {
		dreg, ok := arch.PtraceToDwarfReg(i)
		if !ok {
			continue
		}
		regs.AddReg(dreg, op.DwarfRegisterFromUint64(v))
	}

	return regs
}

// PC returns the current program counter as tracked by regs.
func PC(regs *op.DwarfRegisters) uintptr {
	return uintptr(regs.PC())
}

// SP returns the current stack pointer as tracked by regs, used by the
// line-stepper to tell a call (SP decreases) from a return (SP increases)
// while deciding whether to step over or stop.
func SP(regs *op.DwarfRegisters) uintptr {
	return uintptr(regs.SP())
}
