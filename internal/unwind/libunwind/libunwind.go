// Package libunwind is the fallback unwind strategy: a cgo binding to
// libunwind-ptrace, used by internal/unwind.Iterator only for frames where
// CFIUnwinder reports no .eh_frame coverage (hand-written assembly, a
// vDSO/signal trampoline, or a stripped system library that shipped without
// CFI). The teacher has no equivalent -- raztracer relies on CFI
// exclusively -- so this package is grounded on original_source's use of
// the `unwind` crate's ptrace backend (itself a thin wrapper over the same
// libunwind-ptrace C API bound here) and on the conventional libunwind
// cross-process unwind sequence: UPT_create, unw_init_remote, unw_step,
// unw_get_reg/unw_get_proc_name in a loop.
package libunwind

// #cgo LDFLAGS: -lunwind-ptrace -lunwind-x86_64 -lunwind
// #include <libunwind.h>
// #include <libunwind-ptrace.h>
// #include <stdlib.h>
//
// static int rift_step(unw_cursor_t *cursor) {
//   return unw_step(cursor);
// }
import "C"

import (
	"unsafe"

	"github.com/ianlancetaylor/demangle"

	"github.com/riftdbg/rift/internal/rifterr"
)

// walk holds one thread's in-progress libunwind cursor, carried across
// successive Step calls so each call advances the same stack walk instead of
// restarting it from the live registers every time.
type walk struct {
	cursor C.unw_cursor_t
	lastIP uintptr
}

// Unwinder holds the libunwind address space and UPT context for one traced
// process, reused across Step calls for every thread of that process. walks
// holds one in-progress cursor per thread, since Iterator calls Step once
// per frame rather than handing back a cursor it could resume itself.
type Unwinder struct {
	addrSpace C.unw_addr_space_t
	upt       unsafe.Pointer
	pid       int
	walks     map[int]*walk
}

// New creates an Unwinder attached to pid via PTRACE_PEEKTEXT reads (the
// tracer must already own pid via PTRACE_SEIZE/PTRACE_ATTACH).
func New(pid int) (*Unwinder, error) {
	as := C.unw_create_addr_space(&C._UPT_accessors, C.int(0) /* byte order: native */)
	if as == nil {
		return nil, rifterr.Errorf("unw_create_addr_space failed")
	}

	upt := C._UPT_create(C.pid_t(pid))
	if upt == nil {
		C.unw_destroy_addr_space(as)
		return nil, rifterr.Errorf("_UPT_create failed for pid %d", pid)
	}

	return &Unwinder{addrSpace: as, upt: upt, pid: pid, walks: make(map[int]*walk)}, nil
}

// Close releases the libunwind address space and UPT context.
func (u *Unwinder) Close() {
	if u.upt != nil {
		C._UPT_destroy(u.upt)
		u.upt = nil
	}
	if u.addrSpace != nil {
		C.unw_destroy_addr_space(u.addrSpace)
		u.addrSpace = nil
	}
}

// Step returns the caller's return address for the frame whose current PC is
// pc, on the thread tid. ok is false once the stack is exhausted or
// libunwind cannot make progress.
//
// Iterator calls Step once per frame of a single backtrace walk, each time
// passing the pc the previous call returned. A pc that doesn't match the
// thread's in-progress walk (the first call of a new walk, or tid switched
// focus) starts a fresh cursor at the live registers; otherwise Step
// advances the cursor already in flight for tid by exactly one frame.
func (u *Unwinder) Step(tid int, pc uintptr) (caller uintptr, ok bool) {
	w := u.walks[tid]
	if w == nil || w.lastIP != pc {
		w = &walk{}
		if C.unw_init_remote(&w.cursor, u.addrSpace, u.upt) != 0 {
			delete(u.walks, tid)
			return 0, false
		}
		u.walks[tid] = w
	}

	rc := C.rift_step(&w.cursor)
	if rc <= 0 {
		delete(u.walks, tid)
		return 0, false
	}

	var ip C.unw_word_t
	if C.unw_get_reg(&w.cursor, C.UNW_REG_IP, &ip) != 0 {
		delete(u.walks, tid)
		return 0, false
	}

	w.lastIP = uintptr(ip)
	return w.lastIP, true
}

// ProcName resolves and demangles the symbol name covering pc, used to label
// a frame that CFI could not unwind with DWARF debug info (a PLT stub, libc
// internals, or similarly symbol-only code).
func (u *Unwinder) ProcName(pc uintptr) (string, uintptr, error) {
	var cursor C.unw_cursor_t
	if C.unw_init_remote(&cursor, u.addrSpace, u.upt) != 0 {
		return "", 0, rifterr.Errorf("unw_init_remote failed")
	}

	buf := make([]C.char, 512)
	var offset C.unw_word_t
	rc := C.unw_get_proc_name(&cursor, &buf[0], C.size_t(len(buf)), &offset)
	if rc != 0 {
		return "", 0, rifterr.Errorf("unw_get_proc_name failed for pc %#x", pc)
	}

	raw := C.GoString(&buf[0])
	name := raw
	if demangled, err := demangle.ToString(raw, demangle.NoParams, demangle.NoTemplateParams); err == nil {
		name = demangled
	}

	return name, uintptr(offset), nil
}
