// Package arch holds the handful of facts about the x86-64 architecture the
// core needs: the software breakpoint trap opcode, and the mapping between
// the kernel's PtraceRegs field order and DWARF register numbers. Grounded on
// the teacher's arch/amd64.go; regnum.AMD64_Rip and friends come from
// go-delve/delve/pkg/dwarf/regnum, which already carries the canonical table
// this package used to inline by hand.
package arch

import "github.com/go-delve/delve/pkg/dwarf/regnum"

// TrapInstruction is the int3 trap opcode used for every software breakpoint.
var TrapInstruction = []byte{0xcc}

// Indexes into syscall.PtraceRegs, per
// https://github.com/torvalds/linux/blob/master/arch/x86/include/uapi/asm/ptrace.h
const (
	PtraceRegsRIP = 16 // rip, program counter
	PtraceRegsRSP = 19 // rsp, stack pointer
	PtraceRegsRBP = 4  // rbp, frame pointer
)

// ptraceToDwarf maps a PtraceRegs field index to its DWARF register number.
// Only registers DWARF location/CFI expressions can reference are listed.
var ptraceToDwarf = map[int]uint64{
	0:  regnum.AMD64_R15,
	1:  regnum.AMD64_R14,
	2:  regnum.AMD64_R13,
	3:  regnum.AMD64_R12,
	4:  regnum.AMD64_Rbp,
	5:  regnum.AMD64_Rbx,
	6:  regnum.AMD64_R11,
	7:  regnum.AMD64_R10,
	8:  regnum.AMD64_R9,
	9:  regnum.AMD64_R8,
	10: regnum.AMD64_Rax,
	11: regnum.AMD64_Rcx,
	12: regnum.AMD64_Rdx,
	13: regnum.AMD64_Rsi,
	14: regnum.AMD64_Rdi,
	16: regnum.AMD64_Rip,
	19: regnum.AMD64_Rsp,
}

// PtraceToDwarfReg converts a PtraceRegs field index to a DWARF register
// number. The second return value is false for registers DWARF expressions
// never reference (segment selectors, flags, and similar).
func PtraceToDwarfReg(ptraceField int) (uint64, bool) {
	dreg, ok := ptraceToDwarf[ptraceField]
	return dreg, ok
}

// PCRegNum, SPRegNum and BPRegNum are the DWARF register numbers for the
// program counter, stack pointer and frame pointer on amd64.
const (
	PCRegNum = regnum.AMD64_Rip
	SPRegNum = regnum.AMD64_Rsp
	BPRegNum = regnum.AMD64_Rbp
)
