package trace

import "syscall"

// ReasonKind tags the variant carried by a StopReason.
type ReasonKind int

const (
	// DebugeeStart is reported once, on the debuggee's first
	// PTRACE_EVENT_EXEC.
	DebugeeStart ReasonKind = iota
	// DebugeeExit is reported when the thread group leader exits.
	DebugeeExit
	// ReasonBreakpoint is reported when a thread stops on an owned or
	// foreign breakpoint it is the one reporting.
	ReasonBreakpoint
	// ReasonSignalStop is reported when a thread stops for a signal other
	// than the breakpoint trap.
	ReasonSignalStop
	// NoSuchProcess is reported when a thread disappears (ESRCH) between
	// the wait and a subsequent query.
	NoSuchProcess
	// ReasonStep is reported when a requested single-step completes without
	// landing on a breakpoint or a signal, the common case Tracer.SingleStep
	// reports back to its caller.
	ReasonStep
)

// StopReason is the tagged union produced by Tracer.Resume.
type StopReason struct {
	Kind     ReasonKind
	Thread   ThreadID
	ExitCode int32
	Addr     uintptr
	Signal   syscall.Signal
}

func reasonStart() StopReason { return StopReason{Kind: DebugeeStart} }

func reasonExit(code int32) StopReason {
	return StopReason{Kind: DebugeeExit, ExitCode: code}
}

func reasonBreakpoint(tid ThreadID, pc uintptr) StopReason {
	return StopReason{Kind: ReasonBreakpoint, Thread: tid, Addr: pc}
}

func reasonSignal(tid ThreadID, sig syscall.Signal) StopReason {
	return StopReason{Kind: ReasonSignalStop, Thread: tid, Signal: sig}
}

func reasonNoSuchProcess(tid ThreadID) StopReason {
	return StopReason{Kind: NoSuchProcess, Thread: tid}
}

func reasonStep(tid ThreadID, pc uintptr) StopReason {
	return StopReason{Kind: ReasonStep, Thread: tid, Addr: pc}
}
