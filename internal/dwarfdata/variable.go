package dwarfdata

import (
	"debug/dwarf"

	delveop "github.com/go-delve/delve/pkg/dwarf/op"
)

// Variable is the DWARF-entry-level description of a variable or formal
// parameter: name, declared type, and how to locate it. It does not carry a
// decoded value -- that is Decode's job (decode.go), so the flat description
// stays reusable for both a scalar read and a struct/array/enum walk.
// Grounded on the teacher's data.VariableEntry.
type Variable struct {
	entry      Entry
	staticBase uintptr
	cfaOffset  uintptr
	Name       string
	TypeEntry  *Entry
	TypeName   string
	Size       int64
	IsPointer  bool
}

func newVariable(de Entry, staticBase uintptr) (*Variable, error) {
	if de.Tag() != dwarf.TagVariable && de.Tag() != dwarf.TagFormalParameter {
		return nil, nil
	}

	v := &Variable{
		entry:      de,
		staticBase: staticBase,
		Name:       de.Name(),
	}

	typ, _ := de.Type()
	if typ != nil {
		v.TypeEntry = typ
		v.Size = typ.ByteSize()

		switch typ.Tag() {
		case dwarf.TagPointerType, dwarf.TagReferenceType:
			v.IsPointer = true
			if sub, _ := typ.Type(); sub != nil {
				v.TypeName = sub.Name() + "*"
			} else {
				v.TypeName = "void*"
			}
		default:
			v.TypeName = typ.Name()
		}
	}

	if v.Size == 0 {
		v.Size = int64(sizeofPtr)
	}

	return v, nil
}

// Location resolves this variable's location expression at pc, falling back
// to a CFA-relative guess (the convention optimized builds use for spilled
// parameters with no DW_AT_location at all) when DWARF carries none.
func (v *Variable) Location(pc uintptr, regs *delveop.DwarfRegisters) (*Location, bool) {
	loc, err := v.entry.Location(dwarf.AttrLocation, pc)
	if err != nil {
		addr := uintptr(regs.CFA) + v.cfaOffset
		return &Location{address: addr}, false
	}
	return loc, true
}

