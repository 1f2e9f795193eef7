package dwarfdata

import (
	"debug/dwarf"

	"github.com/riftdbg/rift/internal/rifterr"
)

// Line is one row of a compilation unit's line number program, grounded on
// the teacher's data.LineEntry.
type Line struct {
	reader   *dwarf.LineReader
	pos      dwarf.LineReaderPos
	Filename string
	Address  uintptr
	IsStmt   bool
	Number   uint
	Column   uint
}

func newLine(pc uintptr, reader *dwarf.LineReader) (*Line, error) {
	var entry dwarf.LineEntry
	if err := reader.SeekPC(uint64(pc), &entry); err != nil {
		return nil, rifterr.Errorf("no line entry for pc %#x", pc)
	}

	return &Line{
		reader:   reader,
		pos:      reader.Tell(),
		Filename: entry.File.Name,
		Address:  uintptr(entry.Address),
		IsStmt:   entry.IsStmt,
		Number:   uint(entry.Line),
		Column:   uint(entry.Column),
	}, nil
}

// next returns the line entry immediately following this one in program
// order.
func (l *Line) next() (*Line, error) {
	var entry dwarf.LineEntry

	l.reader.Seek(l.pos)
	if err := l.reader.Next(&entry); err != nil {
		return nil, rifterr.Wrap(err)
	}

	return &Line{
		reader:   l.reader,
		pos:      l.reader.Tell(),
		Filename: entry.File.Name,
		Address:  uintptr(entry.Address),
		IsStmt:   entry.IsStmt,
		Number:   uint(entry.Line),
		Column:   uint(entry.Column),
	}, nil
}
