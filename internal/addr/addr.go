// Package addr distinguishes load-time (global) addresses, as they appear in
// the object file, from runtime (relocated) addresses, as they appear in the
// debuggee's address space once the loader applies its ASLR offset.
//
// Conversion between the two is a single additive offset discovered once, at
// the debuggee's first PTRACE_EVENT_EXEC. Arithmetic must never cross domains
// without going through a Translator: that is the whole point of keeping the
// two as distinct types instead of a single uintptr, as raztracer's single
// `uintptr`-everywhere model (see common/tracer.go, data/debugdata.go) does
// not enforce.
package addr

// Global is a load-time address, as it appears in the object file's symbol
// table and DWARF info before relocation.
type Global uintptr

// Relocated is a runtime address, as it appears in the debuggee's memory
// once the dynamic loader has applied its load offset.
type Relocated uintptr

// Translator converts between Global and Relocated addresses using the load
// offset discovered for one executable or shared object.
type Translator struct {
	// loadOffset is added to a Global address to produce a Relocated one,
	// and subtracted in the other direction.
	loadOffset uintptr
}

// NewTranslator returns a Translator for an image loaded at loadOffset.
// A statically-linked, non-PIE executable has loadOffset 0.
func NewTranslator(loadOffset uintptr) Translator {
	return Translator{loadOffset: loadOffset}
}

// LoadOffset returns the offset this translator applies.
func (t Translator) LoadOffset() uintptr {
	return t.loadOffset
}

// ToRelocated converts a Global address to its runtime Relocated form.
func (t Translator) ToRelocated(g Global) Relocated {
	return Relocated(uintptr(g) + t.loadOffset)
}

// ToGlobal converts a Relocated address back to its Global (object-file) form.
func (t Translator) ToGlobal(r Relocated) Global {
	return Global(uintptr(r) - t.loadOffset)
}

// Add returns r+n, staying within the Relocated domain.
func (r Relocated) Add(n int64) Relocated {
	return Relocated(int64(r) + n)
}

// Add returns g+n, staying within the Global domain.
func (g Global) Add(n int64) Global {
	return Global(int64(g) + n)
}
