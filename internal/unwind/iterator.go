package unwind

import (
	delveop "github.com/go-delve/delve/pkg/dwarf/op"

	"github.com/riftdbg/rift/internal/rifterr"
	"github.com/riftdbg/rift/internal/trace"
)

// FunctionResolver looks up the function and frame base covering a PC, the
// piece of dwarfdata.Context an Iterator needs beyond CFI.
type FunctionResolver interface {
	FrameResolver
	FrameBaseAt(pc uintptr, regs *delveop.DwarfRegisters) (uintptr, error)
}

// LibunwindFallback is the cgo-backed secondary unwind strategy, used only
// when the primary CFIUnwinder reports NoUnwindInfoForAddress. Kept as an
// interface so a CFI-only iterator (e.g. under test, with no linked
// libunwind) can pass nil.
type LibunwindFallback interface {
	Step(pc uintptr) (caller uintptr, ok bool)
}

// Iterator walks the debuggee's call stack frame by frame, grounded on the
// teacher's data.StackIterator: Next advances, Frame reads the current
// frame's state, Err reports why iteration stopped early.
type Iterator struct {
	mem      trace.MemoryAccess
	resolver FunctionResolver
	cfi      *CFIUnwinder
	fallback LibunwindFallback

	pc      uintptr
	retaddr uintptr
	regs    *delveop.DwarfRegisters
	err     error
	usedLib bool
}

// NewIterator starts an Iterator at the register file regs, which must
// already have PC/SP/CFA-relevant fields populated from the thread's current
// registers (e.g. via internal/regset.FromPtraceRegs).
func NewIterator(mem trace.MemoryAccess, resolver FunctionResolver, fallback LibunwindFallback, regs *delveop.DwarfRegisters, ptrSize int) *Iterator {
	return &Iterator{
		mem:      mem,
		resolver: resolver,
		cfi:      NewCFIUnwinder(resolver, mem, ptrSize),
		fallback: fallback,
		retaddr:  uintptr(regs.PC()),
		regs:     regs,
	}
}

// Next advances the iterator: the first call yields the frame at the starting
// registers, each later call its caller. Returns false when the stack is
// exhausted or unwinding failed; Err distinguishes the two.
func (it *Iterator) Next() bool {
	it.pc = it.retaddr
	if it.pc == 0 {
		return false
	}

	frameBase, err := it.resolver.FrameBaseAt(it.pc, it.regs)
	if err == nil {
		it.regs.FrameBase = int64(frameBase)
	}

	return it.advance()
}

// PC returns the current frame's program counter.
func (it *Iterator) PC() uintptr {
	return it.pc
}

// Regs returns the current frame's register file.
func (it *Iterator) Regs() *delveop.DwarfRegisters {
	return it.regs
}

// UsedLibunwind reports whether the most recent Next call fell back to
// libunwind rather than resolving via CFI.
func (it *Iterator) UsedLibunwind() bool {
	return it.usedLib
}

// Err returns why iteration stopped, if it did not simply reach the top of
// the stack.
func (it *Iterator) Err() error {
	return it.err
}

func (it *Iterator) advance() bool {
	it.usedLib = false

	frame, err := it.cfi.Step(it.pc, it.regs)
	if err == nil {
		it.retaddr = frame.RetAddr
		return true
	}

	var noInfo *NoUnwindInfoForAddress
	if !isNoUnwindInfo(err, &noInfo) || it.fallback == nil {
		it.err = rifterr.Wrap(err)
		return false
	}

	caller, ok := it.fallback.Step(it.pc)
	if !ok {
		it.err = rifterr.Errorf("libunwind could not step past pc %#x", it.pc)
		return false
	}

	it.usedLib = true
	it.retaddr = caller
	return true
}

func isNoUnwindInfo(err error, target **NoUnwindInfoForAddress) bool {
	if e, ok := err.(*NoUnwindInfoForAddress); ok {
		*target = e
		return true
	}
	return false
}
