// Package evalop wraps go-delve/delve/pkg/dwarf/op's stack machine with the
// options bag spec.md section 4.4 describes: a caller supplies the pieces of
// evaluation state relevant to one expression (the current frame's base
// address, its CFA, the thread's current register file, or its register file
// at entry) without needing to know which DWARF opcodes will actually consume
// them.
package evalop

import (
	delveop "github.com/go-delve/delve/pkg/dwarf/op"

	"github.com/riftdbg/rift/internal/rifterr"
)

// Options carries the subset of evaluation state a single expression
// evaluation may need. Zero value evaluates an expression that references
// none of these (a bare DW_OP_addr, for instance).
type Options struct {
	// BaseFrame supplies DW_OP_fbreg's base (DW_AT_frame_base).
	BaseFrame int64
	// CFA supplies DW_OP_call_frame_cfa.
	CFA int64
	// AtLocation seeds the initial register file; required whenever the
	// expression references a register directly (DW_OP_regN, DW_OP_bregN).
	AtLocation *delveop.DwarfRegisters
	// EntryRegisters is the register file captured at function entry. It
	// seeds the register file only when AtLocation is nil; DW_OP_entry_value
	// is not evaluated against it separately.
	EntryRegisters *delveop.DwarfRegisters
}

// Evaluate executes instructions against opts, returning either a static
// address (when the expression decomposes to one) or a set of register/
// memory pieces (when it describes a value scattered across registers).
func Evaluate(opts Options, instructions []byte) (int64, []delveop.Piece, error) {
	var regs delveop.DwarfRegisters
	if opts.AtLocation != nil {
		regs = *opts.AtLocation
	} else if opts.EntryRegisters != nil {
		regs = *opts.EntryRegisters
	}

	regs.FrameBase = opts.BaseFrame
	regs.CFA = opts.CFA

	addr, pieces, err := delveop.ExecuteStackProgram(regs, instructions)
	return addr, pieces, rifterr.Wrap(err)
}
