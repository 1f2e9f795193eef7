// Package unwind walks the debuggee's call stack one frame at a time using
// CFI (Call Frame Information) from .eh_frame, with a libunwind-ptrace
// fallback for frames that carry none (hand-written assembly, a signal
// trampoline, or a stripped system library). Grounded on the teacher's
// data/stackiterator.go, restated against go-delve/delve/pkg/dwarf/frame's
// real DWRule/FrameContext types instead of the teacher's partially-vendored
// custom/dwarf/frame copy.
package unwind

import (
	delveframe "github.com/go-delve/delve/pkg/dwarf/frame"
	delveop "github.com/go-delve/delve/pkg/dwarf/op"

	"github.com/riftdbg/rift/internal/rifterr"
	"github.com/riftdbg/rift/internal/trace"
)

// FrameResolver is the subset of dwarfdata.Context an unwinder needs: CFI
// lookup and function-name resolution by PC, kept as an interface so this
// package doesn't import dwarfdata (avoiding a cycle, since dwarfdata has no
// reason to know about unwinding).
type FrameResolver interface {
	FDEForPC(pc uintptr) (*delveframe.FrameDescriptionEntry, error)
	FrameBaseAt(pc uintptr, regs *delveop.DwarfRegisters) (uintptr, error)
}

// Frame is one resolved stack frame.
type Frame struct {
	PC      uintptr
	Regs    *delveop.DwarfRegisters
	RetAddr uintptr
}

// NoUnwindInfoForAddress is returned by CFIUnwinder.Step when pc has no CFI
// coverage -- the caller's signal to fall back to libunwind, per spec.md
// section 4.6.
type NoUnwindInfoForAddress struct {
	PC uintptr
}

func (e *NoUnwindInfoForAddress) Error() string {
	return rifterr.Errorf("no CFI unwind info for pc %#x", e.PC).Error()
}

// CFIUnwinder advances a DwarfRegisters register file one frame at a time
// using the eh_frame rule table, the primary unwind strategy per spec.md
// section 4.6.
type CFIUnwinder struct {
	resolver FrameResolver
	proc     trace.MemoryAccess
	ptrSize  int
}

// NewCFIUnwinder returns a CFIUnwinder reading memory through proc and CFI
// tables through resolver.
func NewCFIUnwinder(resolver FrameResolver, proc trace.MemoryAccess, ptrSize int) *CFIUnwinder {
	return &CFIUnwinder{resolver: resolver, proc: proc, ptrSize: ptrSize}
}

// Step advances regs across the frame at pc, returning the caller's PC and
// the register file with every rule in the frame's CFI table applied. It
// returns a *NoUnwindInfoForAddress when pc carries no CFI coverage at all,
// distinguished from other errors so the caller can decide to retry with
// libunwind instead of aborting the backtrace.
func (u *CFIUnwinder) Step(pc uintptr, regs *delveop.DwarfRegisters) (*Frame, error) {
	fde, err := u.resolver.FDEForPC(pc)
	if err != nil || fde == nil {
		return nil, &NoUnwindInfoForAddress{PC: pc}
	}

	framectx := fde.EstablishFrame(uint64(pc))

	cfaReg, _ := u.executeRule(framectx.CFA, 0, regs)
	if cfaReg == nil {
		return nil, rifterr.Errorf("CFA undefined at pc %#x", pc)
	}
	regs.CFA = int64(cfaReg.Uint64Val)

	var retAddr uintptr
	for regNum, rule := range framectx.Regs {
		reg, ruleErr := u.executeRule(rule, regs.CFA, regs)
		regs.AddReg(int(regNum), reg)

		if regNum == framectx.RetAddrReg {
			if reg == nil {
				if ruleErr != nil {
					return nil, rifterr.Wrap(ruleErr)
				}
				return nil, rifterr.Errorf("undefined return address at pc %#x", pc)
			}
			retAddr = uintptr(reg.Uint64Val)
		}
	}

	return &Frame{PC: pc, Regs: regs, RetAddr: retAddr}, nil
}

func (u *CFIUnwinder) executeRule(rule delveframe.DWRule, cfa int64, regs *delveop.DwarfRegisters) (*delveop.DwarfRegister, error) {
	switch rule.Rule {
	case delveframe.RuleUndefined:
		return nil, nil

	case delveframe.RuleSameVal:
		reg := *regs.Reg(rule.Reg)
		return &reg, nil

	case delveframe.RuleOffset:
		val, err := u.readWord(uintptr(cfa + rule.Offset))
		return delveop.DwarfRegisterFromUint64(val), err

	case delveframe.RuleValOffset:
		return delveop.DwarfRegisterFromUint64(uint64(cfa + rule.Offset)), nil

	case delveframe.RuleRegister:
		return regs.Reg(rule.Reg), nil

	case delveframe.RuleExpression:
		v, _, err := delveop.ExecuteStackProgram(*regs, rule.Expression)
		if err != nil {
			return nil, err
		}
		val, err := u.readWord(uintptr(v))
		return delveop.DwarfRegisterFromUint64(val), err

	case delveframe.RuleValExpression:
		v, _, err := delveop.ExecuteStackProgram(*regs, rule.Expression)
		if err != nil {
			return nil, err
		}
		return delveop.DwarfRegisterFromUint64(uint64(v)), nil

	case delveframe.RuleArchitectural:
		return nil, rifterr.Errorf("architectural frame rules are unsupported")

	case delveframe.RuleCFA:
		cfaReg := regs.Reg(rule.Reg)
		if cfaReg == nil {
			return nil, nil
		}
		return delveop.DwarfRegisterFromUint64(uint64(int64(cfaReg.Uint64Val) + rule.Offset)), nil

	case delveframe.RuleFramePointer:
		curReg := regs.Reg(rule.Reg)
		if curReg == nil {
			return nil, nil
		}
		if curReg.Uint64Val <= uint64(cfa) {
			val, err := u.readWord(uintptr(curReg.Uint64Val))
			return delveop.DwarfRegisterFromUint64(val), err
		}
		newReg := *curReg
		return &newReg, nil

	default:
		return nil, nil
	}
}

func (u *CFIUnwinder) readWord(addr uintptr) (uint64, error) {
	buf := make([]byte, u.ptrSize)
	if err := u.proc.PeekData(addr, buf); err != nil {
		return 0, rifterr.Wrap(err)
	}
	if u.ptrSize == 4 {
		return uint64(leUint32(buf)), nil
	}
	return leUint64(buf), nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
