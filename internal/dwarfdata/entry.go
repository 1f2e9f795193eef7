package dwarfdata

import (
	"debug/dwarf"

	"github.com/riftdbg/rift/internal/rifterr"
)

// Entry wraps dwarf.Entry with the accessors the rest of the package needs,
// grounded on the teacher's data.DebugEntry.
type Entry struct {
	ctx   *Context
	entry *dwarf.Entry
}

// Val returns the raw value of attr, or nil if entry doesn't carry it.
func (e Entry) Val(attr dwarf.Attr) interface{} {
	return e.entry.Val(attr)
}

// Tag returns the entry's DWARF tag.
func (e Entry) Tag() dwarf.Tag {
	return e.entry.Tag
}

// Offset returns the entry's offset within .debug_info, used as a stable key
// for caches keyed by DIE identity.
func (e Entry) Offset() dwarf.Offset {
	return e.entry.Offset
}

// Name returns the entry's DW_AT_name, or "?" if absent.
func (e Entry) Name() string {
	name, ok := e.Val(dwarf.AttrName).(string)
	if !ok {
		return "?"
	}
	return name
}

// ByteSize returns DW_AT_byte_size, or 0 if absent.
func (e Entry) ByteSize() int64 {
	size, _ := e.Val(dwarf.AttrByteSize).(int64)
	return size
}

// LowPC returns DW_AT_low_pc, or 0 if absent.
func (e Entry) LowPC() uintptr {
	lowpc, _ := e.Val(dwarf.AttrLowpc).(uint64)
	return uintptr(lowpc)
}

// HighPC returns DW_AT_high_pc. debug/dwarf already resolves the
// constant-form (offset-from-low-pc) encoding into an absolute address.
func (e Entry) HighPC() uintptr {
	highpc, _ := e.Val(dwarf.AttrHighpc).(uint64)
	return uintptr(highpc)
}

// Children returns e itself (depth 0) followed by its descendants up to
// maxDepth levels below it (direct children are depth 1), or all descendants
// if maxDepth is negative.
func (e Entry) Children(maxDepth int) ([]Entry, error) {
	reader := e.ctx.dwarfData.Reader()
	reader.Seek(e.entry.Offset)

	var out []Entry
	depth := 0

	for child, err := reader.Next(); child != nil; child, err = reader.Next() {
		if err != nil {
			return nil, rifterr.Wrap(err)
		}

		if child.Tag == 0 {
			depth--
			if depth <= 0 {
				return out, nil
			}
			continue
		}

		if depth <= maxDepth || maxDepth < 0 {
			out = append(out, Entry{e.ctx, child})
		}

		if child.Children {
			depth++
		} else if depth == 0 {
			return out, nil
		}
	}

	return out, nil
}

// Type follows DW_AT_type, transparently skipping const qualifiers, the way
// dereferencing any typed entry in the evaluator expects.
func (e Entry) Type() (*Entry, error) {
	typeOff, ok := e.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return nil, rifterr.Errorf("%s has no DW_AT_type", e.Name())
	}

	reader := e.ctx.dwarfData.Reader()
	reader.Seek(typeOff)
	typeEntry, err := reader.Next()
	if err != nil {
		return nil, rifterr.Wrap(err)
	}
	if typeEntry == nil {
		return nil, rifterr.Errorf("%s: no type entry at offset %d", e.Name(), typeOff)
	}

	typ := &Entry{e.ctx, typeEntry}
	if typeEntry.Tag == dwarf.TagConstType || typeEntry.Tag == dwarf.TagVolatileType {
		return typ.Type()
	}
	return typ, nil
}

// Ranges returns the PC ranges covered by e, resolved against the
// compilation unit's base address the way debug/dwarf.Data.Ranges already
// does.
func (e Entry) Ranges() ([][2]uintptr, error) {
	rng, err := e.ctx.dwarfData.Ranges(e.entry)
	if err != nil {
		return nil, rifterr.Wrap(err)
	}

	out := make([][2]uintptr, 0, len(rng))
	for _, lowhigh := range rng {
		out = append(out, [2]uintptr{uintptr(lowhigh[0]), uintptr(lowhigh[1])})
	}
	return out, nil
}

// Location resolves the location expression held by attr, substituting the
// containing compilation unit's loclist entry at pc when attr encodes a
// loclist offset instead of an inline expression block.
func (e Entry) Location(attr dwarf.Attr, pc uintptr) (*Location, error) {
	return newLocation(e.ctx, e, attr, pc)
}
