package trace

import (
	"bytes"

	"github.com/riftdbg/rift/internal/addr"
	"github.com/riftdbg/rift/internal/arch"
	"github.com/riftdbg/rift/internal/rifterr"
)

var trapInstructionSize = uintptr(len(arch.TrapInstruction))

// Kind distinguishes a user-requested breakpoint from the temporary ones the
// controller plants for step-over-breakpoint, next and stepout.
type Kind int

const (
	// UserBreakpoint persists until explicitly removed.
	UserBreakpoint Kind = iota
	// StepOverTemp is planted to let a foreign thread cross a breakpoint it
	// does not own without the owning thread losing its trap.
	StepOverTemp
	// StepOutTemp is planted at a return address for `stepout`/`next` and
	// removed the first time it is hit.
	StepOutTemp
)

// Breakpoint is a software breakpoint: the trap opcode overwriting one byte
// of the debuggee's text, with the original byte saved for restoration.
//
// Invariant: when Enabled, the byte at Addr is arch.TrapInstruction; when
// disabled, it equals SavedByte.
type Breakpoint struct {
	Addr         addr.Relocated
	OwningThread ThreadID
	Kind         Kind
	enabled      bool
	savedByte    [1]byte
	mem          MemoryAccess
}

// MemoryAccess is the minimal ptrace surface a Breakpoint needs, so it can be
// unit tested against a fake without a real tracee.
type MemoryAccess interface {
	PeekData(addr uintptr, out []byte) error
	PokeData(addr uintptr, data []byte) error
}

// NewBreakpoint returns a disabled breakpoint at addr, owned by thread.
func NewBreakpoint(mem MemoryAccess, a addr.Relocated, thread ThreadID, kind Kind) *Breakpoint {
	return &Breakpoint{
		Addr:         a,
		OwningThread: thread,
		Kind:         kind,
		mem:          mem,
	}
}

// Enable saves the original byte at Addr and overwrites it with the trap
// opcode.
func (bp *Breakpoint) Enable() error {
	if bp.enabled {
		return rifterr.Errorf("breakpoint at %#x already enabled", bp.Addr)
	}

	if err := bp.mem.PeekData(uintptr(bp.Addr), bp.savedByte[:]); err != nil {
		return rifterr.Wrap(err)
	}

	if err := bp.mem.PokeData(uintptr(bp.Addr), arch.TrapInstruction); err != nil {
		return rifterr.Wrap(err)
	}

	bp.enabled = true
	return nil
}

// Disable restores the original byte at Addr.
func (bp *Breakpoint) Disable() error {
	if !bp.enabled {
		return rifterr.Errorf("breakpoint at %#x already disabled", bp.Addr)
	}

	if err := bp.mem.PokeData(uintptr(bp.Addr), bp.savedByte[:]); err != nil {
		return rifterr.Wrap(err)
	}

	bp.enabled = false
	return nil
}

// IsEnabled reports whether the trap opcode is currently planted.
func (bp *Breakpoint) IsEnabled() bool {
	return bp.enabled
}

// VerifyInvariant re-reads the byte at Addr and confirms it matches the
// enabled/disabled state -- used by tests asserting spec.md invariant 2.
func (bp *Breakpoint) VerifyInvariant() error {
	var current [1]byte
	if err := bp.mem.PeekData(uintptr(bp.Addr), current[:]); err != nil {
		return rifterr.Wrap(err)
	}

	if bp.enabled {
		if !bytes.Equal(current[:], arch.TrapInstruction) {
			return rifterr.Errorf("breakpoint at %#x enabled but trap opcode missing", bp.Addr)
		}
		return nil
	}

	if !bytes.Equal(current[:], bp.savedByte[:]) {
		return rifterr.Errorf("breakpoint at %#x disabled but memory does not match saved byte", bp.Addr)
	}
	return nil
}

// Registry owns every breakpoint for a session, keyed by address.
type Registry struct {
	breakpoints map[addr.Relocated]*Breakpoint
}

// NewRegistry returns an empty breakpoint registry.
func NewRegistry() *Registry {
	return &Registry{breakpoints: make(map[addr.Relocated]*Breakpoint)}
}

// Add registers bp. It is the caller's responsibility to Enable it.
func (r *Registry) Add(bp *Breakpoint) {
	r.breakpoints[bp.Addr] = bp
}

// At returns the breakpoint at a, if any.
func (r *Registry) At(a addr.Relocated) (*Breakpoint, bool) {
	bp, ok := r.breakpoints[a]
	return bp, ok
}

// Remove disables (if needed) and forgets the breakpoint at a.
func (r *Registry) Remove(a addr.Relocated) error {
	bp, ok := r.breakpoints[a]
	if !ok {
		return nil
	}

	var err error
	if bp.IsEnabled() {
		err = bp.Disable()
	}
	delete(r.breakpoints, a)
	return rifterr.Wrap(err)
}

// All returns every registered breakpoint, in no particular order.
func (r *Registry) All() []*Breakpoint {
	out := make([]*Breakpoint, 0, len(r.breakpoints))
	for _, bp := range r.breakpoints {
		out = append(out, bp)
	}
	return out
}
