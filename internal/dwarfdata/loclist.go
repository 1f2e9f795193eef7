package dwarfdata

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/riftdbg/rift/internal/rifterr"
)

const sizeofPtr = int(unsafe.Sizeof(uintptr(0)))

// locEntry is one PC-range-scoped location expression parsed out of
// .debug_loc, grounded on the teacher's root LocEntry.
type locEntry struct {
	lowpc        uintptr
	highpc       uintptr
	instructions []byte
}

// LocList indexes .debug_loc entries by the loclist offset a DW_AT_location
// attribute can reference.
type LocList map[int64][]locEntry

// NewLocList parses the raw .debug_loc section data into a LocList.
func NewLocList(data []byte, order binary.ByteOrder) LocList {
	loclist := make(LocList)
	rdr := bytes.NewBuffer(data)

	readAddr := func() uint64 {
		raw := rdr.Next(sizeofPtr)
		if len(raw) < sizeofPtr {
			return 0
		}
		if sizeofPtr == 4 {
			v := order.Uint32(raw)
			if v == ^uint32(0) {
				return ^uint64(0)
			}
			return uint64(v)
		}
		return order.Uint64(raw)
	}

	var entries []locEntry
	var offset int64

	for rdr.Len() > 0 {
		lowpc := readAddr()
		highpc := readAddr()

		if lowpc == 0 && highpc == 0 {
			loclist[offset] = entries
			entries = nil
			offset = int64(rdr.Cap() - rdr.Len())
			continue
		}

		lenBuf := rdr.Next(2)
		if len(lenBuf) < 2 {
			break
		}
		instrLen := order.Uint16(lenBuf)
		instr := rdr.Next(int(instrLen))

		entries = append(entries, locEntry{
			lowpc:        uintptr(lowpc),
			highpc:       uintptr(highpc),
			instructions: instr,
		})
	}
	if len(entries) > 0 {
		loclist[offset] = entries
	}

	return loclist
}

// FindEntry returns the location entry active at relpc, within the loclist
// beginning at offset (or the nearest preceding offset known, mirroring the
// teacher's best-effort lookup for loclists the compiler split oddly).
func (l LocList) FindEntry(offset int64, relpc uintptr) (*locEntry, error) {
	entries, found := l[offset]
	if !found {
		best := int64(-1)
		for off, ent := range l {
			if off <= offset && off > best {
				best, entries = off, ent
			}
		}
	}

	for i := range entries {
		e := &entries[i]
		if relpc >= e.lowpc && relpc < e.highpc {
			return e, nil
		}
	}

	return nil, rifterr.Errorf("no loclist entry for relative pc %#x (offset %#x)", relpc, offset)
}
