package dwarfdata

import (
	"debug/dwarf"
	"fmt"

	delveop "github.com/go-delve/delve/pkg/dwarf/op"

	"github.com/riftdbg/rift/internal/rifterr"
)

// Function contains the debug information for one subprogram, grounded on
// the teacher's data.FunctionEntry.
type Function struct {
	entry             Entry
	variables         []*Variable
	Name              string
	LowPC             uintptr
	HighPC            uintptr
	StaticBase        uintptr
	BreakpointAddress uintptr
}

func newFunction(de Entry) (*Function, error) {
	if de.Tag() != dwarf.TagSubprogram {
		return nil, rifterr.Errorf("%s is not a subprogram entry", de.Name())
	}

	fn := &Function{
		entry:      de,
		Name:       de.Name(),
		LowPC:      de.LowPC(),
		HighPC:     de.HighPC(),
		StaticBase: de.ctx.staticBase,
	}

	addr, err := de.ctx.firstStmtAfter(fn.LowPC)
	if err != nil {
		addr = fn.LowPC
	}
	fn.BreakpointAddress = addr

	return fn, nil
}

// newLibFunction returns a placeholder Function for a shared library symbol
// that has no DWARF info of its own -- enough for backtrace display and
// breakpoint placement, nothing more.
func newLibFunction(name string, lowpc, highpc, staticBase uintptr) *Function {
	return &Function{
		Name:              name,
		LowPC:             lowpc,
		HighPC:            highpc,
		StaticBase:        staticBase,
		BreakpointAddress: lowpc,
	}
}

// Variables returns the formal parameters and local variables declared
// directly in fn (not in a nested lexical block), in declaration order, with
// each variable's CFA-relative fallback offset precomputed for the case
// where a variable carries no location expression at all (optimized-away
// argument registers, for instance).
func (fn *Function) Variables() ([]*Variable, error) {
	if fn.entry.ctx == nil {
		return nil, nil
	}
	if fn.variables != nil {
		return fn.variables, nil
	}

	children, err := fn.entry.Children(1)
	if err != nil {
		return nil, rifterr.Wrap(err)
	}

	var vars []*Variable
	var errs []error
	var cfaOffset uintptr
	var count int

	for _, de := range children {
		v, err := newVariable(de, fn.StaticBase)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if v == nil {
			continue
		}

		count++
		cfaOffset += uintptr(v.Size)

		if isret, _ := de.Val(dwarf.AttrVarParam).(bool); isret {
			continue
		}

		if v.Name == "" {
			v.Name = fmt.Sprintf("#%d", count)
		}
		vars = append(vars, v)
	}

	for _, v := range vars {
		cfaOffset -= uintptr(v.Size)
		v.cfaOffset = cfaOffset
	}

	fn.variables = vars
	return vars, rifterr.Merge(errs)
}

// FrameBase evaluates fn's DW_AT_frame_base expression against regs -- the
// base every local variable's location expression is typically relative to
// (DW_OP_fbreg).
func (fn *Function) FrameBase(pc uintptr, regs *delveop.DwarfRegisters) (uintptr, error) {
	if pc > fn.StaticBase {
		pc -= fn.StaticBase
	}
	if fn.entry.ctx == nil {
		return 0, rifterr.Errorf("no debug data for %s", fn.Name)
	}

	loc, err := fn.entry.Location(dwarf.AttrFrameBase, pc)
	if err != nil {
		return 0, rifterr.Wrap(err)
	}

	if err := loc.evaluate(regs); err != nil {
		return 0, rifterr.Wrap(err)
	}
	return loc.address, nil
}
