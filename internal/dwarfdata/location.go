package dwarfdata

import (
	"bytes"
	"debug/dwarf"
	"fmt"

	delveop "github.com/go-delve/delve/pkg/dwarf/op"

	"github.com/riftdbg/rift/internal/regset"
	"github.com/riftdbg/rift/internal/rifterr"
	"github.com/riftdbg/rift/internal/trace"
)

// Location is a parsed DWARF location expression, ready to be evaluated
// against a specific register file. Grounded on the teacher's data.Location,
// restated against go-delve/delve/pkg/dwarf/op's stack machine.
type Location struct {
	instructions []byte
	address      uintptr
	pieces       []delveop.Piece
	regs         *delveop.DwarfRegisters
}

func newLocation(ctx *Context, de Entry, attr dwarf.Attr, pc uintptr) (*Location, error) {
	name := de.Name()

	val := de.Val(attr)
	if val == nil {
		return nil, rifterr.Errorf("%s: missing attribute %v", name, attr)
	}

	switch v := val.(type) {
	case []byte:
		return &Location{instructions: v}, nil

	case int64:
		instr, err := ctx.LoclistEntry(pc, v)
		if err != nil {
			return nil, rifterr.Wrap(err)
		}
		return &Location{instructions: instr}, nil

	default:
		return nil, rifterr.Errorf("%s: cannot interpret location attribute %v", name, attr)
	}
}

// isStaticAddress reports whether the expression is a bare DW_OP_addr, the
// shape global-variable locations take.
func (loc *Location) isStaticAddress() bool {
	return len(loc.instructions) > 0 && delveop.Opcode(loc.instructions[0]) == delveop.DW_OP_addr
}

func (loc *Location) evaluate(regs *delveop.DwarfRegisters) error {
	addr, pieces, err := delveop.ExecuteStackProgram(*regs, loc.instructions)
	loc.address = uintptr(addr)
	loc.pieces = pieces
	loc.regs = regs
	return rifterr.Wrap(err)
}

// Address returns the evaluated address. Valid only after evaluate (or
// Read) has run and only when the expression did not decompose into
// register pieces.
func (loc *Location) Address() uintptr {
	return loc.address
}

// Read evaluates loc against regs and reads the resulting bytes out of the
// tracee's memory (or its registers, for a register-piece location such as a
// value spilled entirely into rax).
func (loc *Location) Read(mem trace.MemoryAccess, ptrSize int, regs *delveop.DwarfRegisters) ([]byte, error) {
	if len(loc.instructions) == 0 {
		return nil, rifterr.Errorf("no location instructions")
	}

	if err := loc.evaluate(regs); err != nil {
		return nil, rifterr.Wrap(err)
	}

	if len(loc.pieces) == 0 {
		data := make([]byte, ptrSize)
		if err := mem.PeekData(loc.address, data); err != nil {
			return nil, rifterr.Wrap(err)
		}
		return data, nil
	}

	var data []byte
	for _, piece := range loc.pieces {
		if piece.IsRegister {
			val := loc.regs.Uint64Val(piece.RegNum)
			buf := make([]byte, ptrSize)
			if ptrSize == 4 {
				regset.ByteOrder.PutUint32(buf, uint32(val))
			} else {
				regset.ByteOrder.PutUint64(buf, val)
			}
			data = append(data, buf...)
			continue
		}

		buf := make([]byte, piece.Size)
		if err := mem.PeekData(uintptr(piece.Addr), buf); err != nil {
			return data, rifterr.Wrap(err)
		}
		data = append(data, buf...)
	}

	return data, nil
}

// String renders the expression for display: a bare address for the common
// DW_OP_addr case, or a disassembly of the stack program otherwise.
func (loc *Location) String() (ret string) {
	if len(loc.instructions) == 0 {
		return "<no location>"
	}

	if loc.isStaticAddress() {
		addr := readAddress(loc.instructions[1:])
		return fmt.Sprintf("%#x", addr)
	}

	defer func() {
		if r := recover(); r != nil {
			ret = fmt.Sprint(loc.instructions)
		}
	}()

	var buf bytes.Buffer
	delveop.PrettyPrint(&buf, loc.instructions)
	return buf.String()
}
