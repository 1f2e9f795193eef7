// Package trace implements the ptrace state machine: a multi-threaded
// controller that synchronizes every thread of the debuggee (group-stop),
// dispatches wait events, and classifies stop reasons.
//
// Grounded on the teacher's common/process.go and common/tracer.go, redesigned
// for PTRACE_SEIZE-based multi-thread attach instead of per-thread
// PTRACE_ATTACH, per spec.md section 4.1's attach protocol. Raw ptrace
// requests not wrapped by golang.org/x/sys/unix (SEIZE, INTERRUPT, the clone
// options) are issued via unix.Syscall6 against unix.SYS_PTRACE, the same way
// golang-debug's program/server/ptrace.go and the teacher's common/process.go
// call directly into the kernel ABI rather than going through a richer
// library -- there is no third-party ptrace(2) wrapper in the example corpus
// beyond the bare syscall numbers x/sys/unix already exposes.
package trace

import (
	"fmt"
	"os"
	"reflect"
	"runtime"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/riftdbg/rift/internal/rifterr"
)

// ThreadID identifies one ptrace-attached thread (a Linux TID).
type ThreadID int

const (
	ptraceSeize          = 0x4206
	ptraceInterrupt      = 0x4207
	ptraceSetOptions     = unix.PTRACE_SETOPTIONS
	ptraceOptTraceClone  = unix.PTRACE_O_TRACECLONE
	ptraceOptTraceExec   = unix.PTRACE_O_TRACEEXEC
	ptraceOptTraceExit   = unix.PTRACE_O_TRACEEXIT
	ptraceEventClone     = unix.PTRACE_EVENT_CLONE
	ptraceEventExec      = unix.PTRACE_EVENT_EXEC
	ptraceEventExit      = unix.PTRACE_EVENT_EXIT
	ptraceEventStopValue = unix.PTRACE_EVENT_STOP
)

// rawPtrace issues a ptrace(2) request the golang.org/x/sys/unix package
// does not wrap with a typed helper (SEIZE and INTERRUPT).
func rawPtrace(request int, tid ThreadID, addr, data uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(request), uintptr(tid), addr, data, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Seize attaches to tid without stopping it (PTRACE_SEIZE), with the clone,
// exec and exit event options spec.md's attach protocol requires.
func Seize(tid ThreadID) error {
	options := ptraceOptTraceClone | ptraceOptTraceExec | ptraceOptTraceExit
	return rifterr.Wrap(rawPtrace(ptraceSeize, tid, 0, uintptr(options)))
}

// Interrupt requests that a running seized tracee stop at the next
// convenient point, reported as a group-stop (PTRACE_EVENT_STOP).
func Interrupt(tid ThreadID) error {
	return rifterr.Wrap(rawPtrace(ptraceInterrupt, tid, 0, 0))
}

// ContWithSignal resumes tid, optionally redelivering a pending signal.
func ContWithSignal(tid ThreadID, sig syscall.Signal) error {
	return rifterr.Wrap(unix.PtraceCont(int(tid), int(sig)))
}

// SingleStep resumes tid for exactly one instruction.
func SingleStep(tid ThreadID) error {
	return rifterr.Wrap(unix.PtraceSingleStep(int(tid)))
}

// Detach stops tracing tid, letting it run free.
func Detach(tid ThreadID) error {
	return rifterr.Wrap(unix.PtraceDetach(int(tid)))
}

// GetEventMsg retrieves the auxiliary message for the last ptrace-stop event
// (new TID on CLONE, exit code on EXIT).
func GetEventMsg(tid ThreadID) (uint, error) {
	msg, err := unix.PtraceGetEventMsg(int(tid))
	return uint(msg), rifterr.Wrap(err)
}

// SigInfo is the subset of the kernel's siginfo_t the stop classifier needs:
// the signal number, and the si_code discriminating a SIGTRAP's cause
// (breakpoint trap vs. single-step trace vs. kernel-delivered).
type SigInfo struct {
	Signo int32
	Errno int32
	Code  int32
	// The rest of the kernel's 128-byte siginfo_t (alignment padding and the
	// si_code union), which PTRACE_GETSIGINFO always writes in full.
	_ [128 - 12]byte
}

// GetSigInfo retrieves siginfo_t for the signal that last stopped tid.
// golang.org/x/sys/unix does not export a ptrace siginfo_t type (its
// Siginfo is the distinct signalfd layout), so the three leading fields
// common to every siginfo_t variant are read directly, the same way
// debuggers that shell out to raw ptrace(2) (rather than a higher-level
// process-control library) typically do.
func GetSigInfo(tid ThreadID) (*SigInfo, error) {
	var info SigInfo
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETSIGINFO, uintptr(tid), 0, uintptr(unsafe.Pointer(&info)), 0, 0)
	if errno != 0 {
		return nil, rifterr.Wrap(errno)
	}
	return &info, nil
}

// GetRegs reads tid's general purpose registers as a flat slice in
// syscall.PtraceRegs field order.
func GetRegs(tid ThreadID) ([]uint64, error) {
	var regs syscall.PtraceRegs
	if err := syscall.PtraceGetRegs(int(tid), &regs); err != nil {
		return nil, rifterr.Wrap(err)
	}
	return ptraceRegsToSlice(&regs), nil
}

// SetRegs writes tid's general purpose registers from a flat slice produced
// by GetRegs (optionally modified, e.g. to rewind PC after a trap).
func SetRegs(tid ThreadID, values []uint64) error {
	var regs syscall.PtraceRegs
	sliceToPtraceRegs(values, &regs)
	return rifterr.Wrap(syscall.PtraceSetRegs(int(tid), &regs))
}

// PeekData reads len(out) bytes of tid's memory starting at addr.
func PeekData(tid ThreadID, addr uintptr, out []byte) error {
	_, err := syscall.PtracePeekData(int(tid), addr, out)
	return rifterr.Wrap(err)
}

// PokeData writes data into tid's memory starting at addr.
func PokeData(tid ThreadID, addr uintptr, data []byte) error {
	_, err := syscall.PtracePokeData(int(tid), addr, data)
	return rifterr.Wrap(err)
}

// Threads lists every TID currently known to the kernel for the thread
// group pid belongs to, by reading /proc/<pid>/task.
func Threads(pid int) ([]ThreadID, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, rifterr.Errorf("process not found: %d", pid)
	}

	tids := make([]ThreadID, 0, len(entries))
	for _, entry := range entries {
		var tid int
		if _, err := fmt.Sscanf(entry.Name(), "%d", &tid); err == nil {
			tids = append(tids, ThreadID(tid))
		}
	}
	return tids, nil
}

// WaitAny blocks for the next ptrace wait status from any traced thread
// (waitpid(-1)); a Tracer traces a single debuggee, so these are the threads
// of pid's thread group. Returns (0, status, nil) on timeout.
func WaitAny(pid int, timeout time.Duration) (ThreadID, syscall.WaitStatus, error) {
	deadline := time.Now().Add(timeout)
	var status syscall.WaitStatus

	for {
		wpid, err := syscall.Wait4(-1, &status, syscall.WALL|syscall.WNOHANG, nil)
		if err != nil {
			return 0, status, rifterr.Wrap(err)
		}
		if wpid > 0 {
			return ThreadID(wpid), status, nil
		}
		if time.Now().After(deadline) {
			return 0, status, nil
		}
		runtime.Gosched()
	}
}

// ptraceRegsToSlice flattens a syscall.PtraceRegs into its declaration-order
// fields, the layout internal/arch.PtraceToDwarfReg indexes into.
func ptraceRegsToSlice(regs *syscall.PtraceRegs) []uint64 {
	val := reflect.ValueOf(*regs)
	out := make([]uint64, val.NumField())
	for i := range out {
		out[i] = val.Field(i).Uint()
	}
	return out
}

func sliceToPtraceRegs(values []uint64, regs *syscall.PtraceRegs) {
	val := reflect.ValueOf(regs).Elem()
	n := val.NumField()
	if len(values) < n {
		n = len(values)
	}
	for i := 0; i < n; i++ {
		val.Field(i).SetUint(values[i])
	}
}
