// Package dwarfdata loads an executable's DWARF debugging information and
// answers PC-to-source, PC-to-function, and name-to-address queries against
// it. Grounded on the teacher's data.DebugData, restated to depend directly
// on go-delve/delve/pkg/dwarf/op and go-delve/delve/pkg/dwarf/frame instead
// of the teacher's partially-vendored custom/dwarf copies.
package dwarfdata

import (
	"bytes"
	"compress/zlib"
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/go-delve/delve/pkg/dwarf/frame"
	delveop "github.com/go-delve/delve/pkg/dwarf/op"

	"github.com/riftdbg/rift/internal/regset"
	"github.com/riftdbg/rift/internal/rifterr"
)

// Context holds the parsed debug information for one executable or shared
// library image, plus every shared library loaded into the same address
// space.
type Context struct {
	elfFile      *elf.File
	dwarfData    *dwarf.Data
	byteOrder    binary.ByteOrder
	entryPoint   uintptr
	staticBase   uintptr
	loclist      LocList
	frameEntries frame.FrameDescriptionEntries
	libs         map[string]*Context
	libFunctions []*Function
	funcCache    map[uintptr]*Function
}

// NewContext parses the DWARF and eh_frame sections of file, an image loaded
// at staticBase (0 for a non-PIE main executable).
func NewContext(file *os.File, staticBase uintptr) (*Context, error) {
	elfFile, err := elf.NewFile(file)
	if err != nil {
		return nil, rifterr.Wrap(err)
	}

	dwarfData, err := elfFile.DWARF()
	if err != nil {
		return nil, rifterr.Wrap(err)
	}

	ctx := &Context{
		elfFile:    elfFile,
		dwarfData:  dwarfData,
		byteOrder:  regset.ByteOrder,
		entryPoint: uintptr(elfFile.Entry),
		staticBase: staticBase,
		libs:       make(map[string]*Context),
		funcCache:  make(map[uintptr]*Function),
	}

	if infoData, _, _ := ctx.ElfSection("debug_info"); infoData != nil {
		ctx.byteOrder = dwarfEndian(infoData)
	}

	if locData, _, _ := ctx.ElfSection("debug_loc"); locData != nil {
		ctx.loclist = NewLocList(locData, ctx.byteOrder)
	}

	if frameData, frameOffset, _ := ctx.ElfSection("eh_frame"); frameData != nil {
		ctx.frameEntries = frame.Parse(frameData, ctx.byteOrder, uint64(frameOffset), uint64(staticBase))
	}

	return ctx, nil
}

// dwarfEndian determines DWARF byte order from the version halfword of
// .debug_info, the same trick debug/dwarf.New uses internally -- needed here
// because eh_frame parsing happens before a dwarf.Data reader can tell us.
func dwarfEndian(infoSection []byte) binary.ByteOrder {
	if len(infoSection) < 6 {
		return binary.LittleEndian
	}
	x, y := infoSection[4], infoSection[5]
	switch {
	case x == 0 && y != 0:
		return binary.BigEndian
	case x != 0 && y == 0:
		return binary.LittleEndian
	default:
		return binary.LittleEndian
	}
}

// EntryPoint returns the image's ELF entry point, global address space.
func (c *Context) EntryPoint() uintptr {
	return c.entryPoint
}

// StaticBase returns the load bias applied to every address this context
// resolves (0 for the main executable of a non-PIE binary).
func (c *Context) StaticBase() uintptr {
	return c.staticBase
}

// ElfSection returns the raw bytes of section name (without the leading
// dot), transparently decompressing a zlib-compressed debug section (the
// ".z"-prefixed form objcopy --compress-debug-sections produces).
func (c *Context) ElfSection(name string) ([]byte, uintptr, error) {
	if sec := c.elfFile.Section("." + name); sec != nil {
		data, err := sec.Data()
		return data, uintptr(sec.Addr), rifterr.Wrap(err)
	}

	sec := c.elfFile.Section(".z" + name)
	if sec == nil {
		return nil, 0, rifterr.Errorf("no .%s or .z%s section", name, name)
	}

	raw, err := sec.Data()
	if err != nil {
		return nil, 0, rifterr.Wrap(err)
	}

	data, err := decompressZlibSection(raw)
	return data, uintptr(sec.Addr), rifterr.Wrap(err)
}

func decompressZlibSection(b []byte) ([]byte, error) {
	if len(b) < 12 || string(b[:4]) != "ZLIB" {
		return b, nil
	}

	size := binary.BigEndian.Uint64(b[4:12])
	out := make([]byte, size)

	r, err := zlib.NewReader(bytes.NewReader(b[12:]))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SharedLibrary describes one shared object mapped into the debuggee's
// address space, as reported by the dynamic linker's link_map.
type SharedLibrary struct {
	Path       string
	StaticBase uintptr
}

// AddSharedLib loads lib's DWARF and symbol table and attaches it to c so
// that PC lookups transparently fall through into it.
func (c *Context) AddSharedLib(lib SharedLibrary) error {
	file, err := os.Open(lib.Path)
	if err != nil {
		return rifterr.Wrap(err)
	}

	elfFile, err := elf.NewFile(file)
	if err != nil {
		return rifterr.Wrap(err)
	}

	base := path.Base(lib.Path)
	symbols, _ := elfFile.Symbols()
	for _, sym := range symbols {
		if sym.Size == 0 {
			continue
		}
		lowpc := uintptr(sym.Value)
		highpc := lowpc + uintptr(sym.Size)
		c.libFunctions = append(c.libFunctions, newLibFunction(fmt.Sprintf("%s:%s", base, sym.Name), lowpc, highpc, lib.StaticBase))
	}

	libCtx, err := NewContext(file, lib.StaticBase)
	if err != nil {
		return rifterr.Wrap(err)
	}

	c.libs[lib.Path] = libCtx
	return nil
}

// SharedLib returns the library context covering pc, the highest-based
// library whose static base is still below pc -- mirroring the teacher's
// linear best-match search since link_map order is not guaranteed sorted.
func (c *Context) SharedLib(pc uintptr) *Context {
	var best *Context
	for _, lib := range c.libs {
		if pc > lib.staticBase {
			if best == nil || lib.staticBase > best.staticBase {
				best = lib
			}
		}
	}
	return best
}

// CompilationUnit returns the CU entry covering pc.
func (c *Context) CompilationUnit(pc uintptr) (*Entry, error) {
	if pc > c.staticBase {
		pc -= c.staticBase
	}

	reader := c.dwarfData.Reader()
	for cu, err := reader.Next(); cu != nil; cu, err = reader.Next() {
		if err != nil {
			return nil, rifterr.Wrap(err)
		}
		reader.SkipChildren()

		if cu.Tag != dwarf.TagCompileUnit {
			continue
		}

		ranges, err := c.dwarfData.Ranges(cu)
		if err != nil {
			continue
		}
		for _, lowhigh := range ranges {
			if uintptr(lowhigh[0]) <= pc && uintptr(lowhigh[1]) > pc {
				return &Entry{c, cu}, nil
			}
		}
	}

	if lib := c.SharedLib(pc + c.staticBase); lib != nil {
		return lib.CompilationUnit(pc + c.staticBase)
	}

	return nil, rifterr.Errorf("no compilation unit for pc %#x", pc)
}

// LoclistEntry returns the expression bytes of the loclist entry at off
// active at pc.
func (c *Context) LoclistEntry(pc uintptr, off int64) ([]byte, error) {
	if pc > c.staticBase {
		pc -= c.staticBase
	}

	cu, err := c.CompilationUnit(pc)
	if err != nil {
		return nil, rifterr.Wrap(err)
	}

	entry, err := c.loclist.FindEntry(off, pc-cu.LowPC())
	if err != nil {
		return nil, rifterr.Wrap(err)
	}
	return entry.instructions, nil
}

// FindFunctionByName returns every breakpoint-ready address of functions
// whose ELF symbol matches name (exact match, or substring match when exact
// is false).
func (c *Context) FindFunctionByName(name string, exact bool) []uintptr {
	var addrs []uintptr

	symbols, _ := c.elfFile.Symbols()
	for _, sym := range symbols {
		if sym.Size == 0 {
			continue
		}
		if exact {
			if sym.Name != name {
				continue
			}
		} else if !strings.Contains(sym.Name, name) {
			continue
		}

		addr, err := c.firstStmtAfter(uintptr(sym.Value))
		if err != nil {
			addr = uintptr(sym.Value)
		}
		addrs = append(addrs, addr)
	}

	for _, lib := range c.libs {
		addrs = append(addrs, lib.FindFunctionByName(name, exact)...)
	}

	return addrs
}

// firstStmtAfter returns the address of the first is_stmt line row after the
// row covering pc -- the conventional breakpoint placement skipping a
// function's prologue.
func (c *Context) firstStmtAfter(pc uintptr) (uintptr, error) {
	if pc > c.staticBase {
		pc -= c.staticBase
	}

	line, err := c.lineEntryAt(pc)
	if err != nil {
		return pc + c.staticBase, rifterr.Wrap(err)
	}

	for line, err = line.next(); line != nil; line, err = line.next() {
		if err != nil {
			return pc + c.staticBase, rifterr.Wrap(err)
		}
		if line.IsStmt {
			return line.Address + c.staticBase, nil
		}
	}

	return pc + c.staticBase, rifterr.Errorf("no suitable breakpoint location past %#x", pc+c.staticBase)
}

func (c *Context) lineEntryAt(pc uintptr) (*Line, error) {
	reader := c.dwarfData.Reader()
	cu, err := reader.SeekPC(uint64(pc))
	if err != nil {
		return nil, rifterr.Wrap(err)
	}

	lineReader, err := c.dwarfData.LineReader(cu)
	if err != nil {
		return nil, rifterr.Wrap(err)
	}

	return newLine(pc, lineReader)
}

// FindStmtLine returns the source line active at pc.
func (c *Context) FindStmtLine(pc uintptr) (*Line, error) {
	if pc > c.staticBase {
		pc -= c.staticBase
	}

	line, err := c.lineEntryAt(pc)
	if err != nil {
		if lib := c.SharedLib(pc + c.staticBase); lib != nil {
			return lib.FindStmtLine(pc + c.staticBase)
		}
		return nil, rifterr.Wrap(err)
	}

	line.Address += c.staticBase
	return line, nil
}

// FindFunctionByPC returns the function whose range covers pc.
func (c *Context) FindFunctionByPC(pc uintptr) (*Function, error) {
	if pc > c.staticBase {
		pc -= c.staticBase
	}

	if cached, ok := c.funcCache[pc]; ok {
		return cached, nil
	}

	fn, err := c.functionFromPC(pc)
	if err != nil {
		fn, err = c.libFunctionFromPC(pc)
		if err != nil {
			return nil, rifterr.Wrap(err)
		}
	}

	c.funcCache[pc] = fn
	return fn, nil
}

func (c *Context) functionFromPC(pc uintptr) (*Function, error) {
	reader := c.dwarfData.Reader()
	cu, err := reader.SeekPC(uint64(pc))
	if err != nil {
		return nil, rifterr.Wrap(err)
	}
	_ = cu

	for entry, err := reader.Next(); entry != nil; entry, err = reader.Next() {
		if err != nil {
			return nil, rifterr.Wrap(err)
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}

		de := Entry{c, entry}
		ranges, _ := de.Ranges()
		for _, lowhigh := range ranges {
			if pc >= lowhigh[0] && pc < lowhigh[1] {
				return newFunction(de)
			}
		}
	}

	return nil, rifterr.Errorf("no function entry for pc %#x", pc)
}

func (c *Context) libFunctionFromPC(pc uintptr) (*Function, error) {
	if lib := c.SharedLib(pc); lib != nil {
		return lib.FindFunctionByPC(pc)
	}

	for _, fn := range c.libFunctions {
		low := fn.LowPC + fn.StaticBase
		high := fn.HighPC + fn.StaticBase
		if pc >= low && pc < high {
			return fn, nil
		}
	}

	return nil, rifterr.Errorf("no library function for pc %#x", pc)
}

// FindSymbol resolves name to a global variable or library function address
// without requiring DWARF info for it.
func (c *Context) FindSymbol(name string) (uintptr, error) {
	symbols, _ := c.elfFile.Symbols()
	for _, sym := range symbols {
		if sym.Name == name {
			return uintptr(sym.Value) + c.staticBase, nil
		}
	}

	for _, lib := range c.libs {
		if addr, err := lib.FindSymbol(name); err == nil {
			return addr, nil
		}
	}

	return 0, rifterr.Errorf("symbol not found: %s", name)
}

// FDEForPC returns the CFI frame description entry covering pc, falling
// through to a shared library's own .eh_frame table if c's does not cover
// it.
func (c *Context) FDEForPC(pc uintptr) (*frame.FrameDescriptionEntry, error) {
	if c.frameEntries != nil {
		if fde, err := c.frameEntries.FDEForPC(uint64(pc)); err == nil {
			return fde, nil
		}
	}

	if lib := c.SharedLib(pc); lib != nil {
		return lib.FDEForPC(pc)
	}

	return nil, rifterr.Errorf("no FDE for pc %#x", pc)
}

// FrameBaseAt evaluates the DW_AT_frame_base expression of the function
// covering pc against regs, satisfying unwind.FunctionResolver so the
// unwinder can update a frame's base address as it steps through it.
func (c *Context) FrameBaseAt(pc uintptr, regs *delveop.DwarfRegisters) (uintptr, error) {
	fn, err := c.FindFunctionByPC(pc)
	if err != nil {
		return 0, rifterr.Wrap(err)
	}
	return fn.FrameBase(pc, regs)
}

// Globals returns every file-scope variable declared in the compilation unit
// covering pc.
func (c *Context) Globals(pc uintptr) ([]*Variable, error) {
	if pc > c.staticBase {
		pc -= c.staticBase
	}

	reader := c.dwarfData.Reader()
	cu, err := reader.SeekPC(uint64(pc))
	if err != nil {
		if lib := c.SharedLib(pc + c.staticBase); lib != nil {
			return lib.Globals(pc + c.staticBase)
		}
		return nil, rifterr.Wrap(err)
	}

	cuEntry := Entry{c, cu}
	children, err := cuEntry.Children(-1)
	if err != nil {
		return nil, rifterr.Wrap(err)
	}

	var vars []*Variable
	for _, de := range children {
		if de.Tag() != dwarf.TagVariable {
			continue
		}
		if _, ok := de.Val(dwarf.AttrName).(string); !ok {
			continue
		}

		if !hasAddressLocation(de, pc) {
			continue
		}

		v, err := newVariable(de, c.staticBase)
		if err != nil || v == nil {
			continue
		}
		vars = append(vars, v)
	}

	return vars, nil
}

func hasAddressLocation(de Entry, pc uintptr) bool {
	loc, _ := de.Location(dwarf.AttrLocation, pc)
	return loc != nil && loc.isStaticAddress()
}
