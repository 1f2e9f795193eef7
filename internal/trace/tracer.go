package trace

import (
	"errors"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/riftdbg/rift/internal/addr"
	"github.com/riftdbg/rift/internal/arch"
	"github.com/riftdbg/rift/internal/rifterr"
)

func isESRCH(err error) bool {
	return errors.Is(err, unix.ESRCH)
}

const waitPollInterval = 20 * time.Millisecond

// pendingSignal is one entry of the tracer's signal queue: a signal the
// debuggee received that has not yet been redelivered.
type pendingSignal struct {
	thread ThreadID
	sig    syscall.Signal
}

// Tracer is the resume-loop state machine described in spec.md section 4.1.
// It owns the tracee table exclusively; breakpoints are owned by the
// session and passed into Resume on every call, as a snapshot.
type Tracer struct {
	pid          int
	table        *Table
	translator   addr.Translator
	focus        ThreadID
	signalQueue  []pendingSignal
	inGroupStop  bool
	log          *zap.SugaredLogger
}

// NewTracer seizes every thread of pid and returns a Tracer ready to Resume.
// The first Resume call observes the PTRACE_EVENT_EXEC and returns
// DebugeeStart, as spec.md's attach protocol specifies.
func NewTracer(pid int, log *zap.SugaredLogger) (*Tracer, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	t := &Tracer{
		pid:   pid,
		table: NewTable(ThreadID(pid)),
		log:   log,
	}

	threads, err := Threads(pid)
	if err != nil {
		return nil, rifterr.Wrap(err)
	}

	for _, tid := range threads {
		if err := Seize(tid); err != nil {
			return nil, rifterr.Wrap(err)
		}
		t.table.Register(tid)
	}

	return t, nil
}

// SetLoadOffset records the ASLR offset discovered at PTRACE_EVENT_EXEC.
func (t *Tracer) SetLoadOffset(offset uintptr) {
	t.translator = addr.NewTranslator(offset)
}

// Translator returns the tracer's current Global<->Relocated translator.
func (t *Tracer) Translator() addr.Translator {
	return t.translator
}

// Snapshot returns the current tracee table, safe to call only between a
// Resume return and the next Resume call (spec.md section 5).
func (t *Tracer) Snapshot() []*Tracee {
	return t.table.Snapshot()
}

// Focus returns the thread the most recent reportable stop concerned.
func (t *Tracer) Focus() ThreadID {
	return t.focus
}

// Resume implements the loop in spec.md section 4.1: deliver any queued
// signal or continue everyone silently, wait for the next event, and
// classify it. It loops internally on events that do not produce a
// reportable StopReason (group-stop housekeeping, spurious traps).
func (t *Tracer) Resume(bps *Registry) (StopReason, error) {
	for {
		if err := t.continueAll(bps); err != nil {
			return StopReason{}, rifterr.Wrap(err)
		}

		tid, status, err := WaitAny(t.pid, time.Second)
		if err != nil {
			return StopReason{}, rifterr.Wrap(err)
		}
		if tid == 0 {
			continue // spurious wakeup / timeout, try again
		}

		reason, ok, err := t.applyNewStatus(tid, status, bps)
		if err != nil {
			return StopReason{}, rifterr.Wrap(err)
		}
		if ok {
			return reason, nil
		}
	}
}

// continueAll delivers the head of the signal queue (if any) to its
// originating thread and resumes every other stopped tracee silently;
// absent a queued signal, it resumes every stopped tracee silently. Before
// resuming a thread sitting on its own breakpoint, it steps over it first.
func (t *Tracer) continueAll(bps *Registry) error {
	var head *pendingSignal
	if len(t.signalQueue) > 0 {
		head = &t.signalQueue[0]
		t.signalQueue = t.signalQueue[1:]
	}

	for _, tr := range t.table.Snapshot() {
		if tr.State == Running {
			continue
		}

		if err := t.stepOverOwnBreakpoint(tr.TID, bps); err != nil {
			return rifterr.Wrap(err)
		}

		sig := syscall.Signal(0)
		if head != nil && head.thread == tr.TID {
			sig = head.sig
		}

		if err := ContWithSignal(tr.TID, sig); err != nil {
			return rifterr.Wrap(err)
		}
		tr.MarkRunning()
	}

	return nil
}

// stepOverOwnBreakpoint disables, single-steps past, and re-enables the
// breakpoint sitting at tid's current PC, if any -- otherwise the thread
// would immediately retrap on its own breakpoint instead of making progress.
func (t *Tracer) stepOverOwnBreakpoint(tid ThreadID, bps *Registry) error {
	regs, err := GetRegs(tid)
	if err != nil {
		return rifterr.Wrap(err)
	}
	pc := addr.Relocated(regs[pcRegIndex()])

	bp, found := bps.At(pc)
	if !found || !bp.IsEnabled() {
		return nil
	}

	return t.stepOverBreakpoint(tid, bp)
}

func (t *Tracer) stepOverBreakpoint(tid ThreadID, bp *Breakpoint) error {
	if err := bp.Disable(); err != nil {
		return rifterr.Wrap(err)
	}

	if err := t.singleStepAndWait(tid); err != nil {
		_ = bp.Enable()
		return rifterr.Wrap(err)
	}

	return rifterr.Wrap(bp.Enable())
}

// SingleStep advances the focused thread by exactly one instruction and
// reports the resulting stop reason, per spec.md's single-step contract
// (accepting TRAP_TRACE, a concurrent PTRACE_EVENT_STOP, or a same-thread
// breakpoint retrap as step-complete). Landing exactly on a breakpoint's
// address is reported as ReasonBreakpoint so a caller single-stepping
// through a line doesn't silently walk past a user breakpoint; any other
// completion is reported as ReasonStep.
func (t *Tracer) SingleStep(bps *Registry) (StopReason, error) {
	tid := t.focus
	if tid == 0 {
		tid = ThreadID(t.pid)
	}

	if err := t.singleStepAndWait(tid); err != nil {
		return StopReason{}, rifterr.Wrap(err)
	}

	regs, err := GetRegs(tid)
	if err != nil {
		return StopReason{}, rifterr.Wrap(err)
	}
	pc := addr.Relocated(regs[pcRegIndex()])

	if bps != nil {
		if bp, found := bps.At(pc); found && bp.IsEnabled() {
			t.focus = tid
			return reasonBreakpoint(tid, uintptr(pc)), nil
		}
	}

	t.focus = tid
	return reasonStep(tid, uintptr(pc)), nil
}

// singleStepAndWait issues PTRACE_SINGLESTEP on tid and blocks for its
// completion, accepting any of: SIGTRAP/TRAP_TRACE, a concurrent
// PTRACE_EVENT_STOP, or a breakpoint retrap on this same thread, per
// spec.md's single-step contract. All other events are routed through
// applyNewStatus, mirroring the resume loop.
func (t *Tracer) singleStepAndWait(tid ThreadID) error {
	if err := SingleStep(tid); err != nil {
		return rifterr.Wrap(err)
	}

	for {
		waited, status, err := WaitAny(t.pid, time.Second)
		if err != nil {
			return rifterr.Wrap(err)
		}
		if waited == 0 {
			continue
		}
		if waited == tid && status.Stopped() && status.StopSignal() == syscall.SIGTRAP {
			switch status.TrapCause() {
			case ptraceEventStopValue:
				// A concurrent PTRACE_INTERRUPT landed first.
				return nil
			case 0:
				// A plain SIGTRAP: the step's TRAP_TRACE, or a breakpoint
				// retrap on this same thread.
				if info, err := GetSigInfo(tid); err == nil && (isTrapTrace(info) || isBreakpointTrap(info)) {
					return nil
				}
			}
		}

		// Any other event must still be accounted for so the tracee table
		// stays consistent; reportable StopReasons here are swallowed since
		// single-step is not a point where we surface user-visible events.
		if _, _, err := t.applyNewStatus(waited, status, nil); err != nil {
			return rifterr.Wrap(err)
		}
		if waited == tid {
			return nil
		}
	}
}

// applyNewStatus is the wait-status state machine from spec.md section 4.1.
// ok is false when the event produced no reportable StopReason and the
// resume loop should wait again.
func (t *Tracer) applyNewStatus(tid ThreadID, status syscall.WaitStatus, bps *Registry) (StopReason, bool, error) {
	switch {
	case status.Exited():
		wasLeader := t.table.Remove(tid)
		if wasLeader {
			return reasonExit(int32(status.ExitStatus())), true, nil
		}
		return StopReason{}, false, nil

	case status.Stopped():
		return t.applyStopped(tid, status, bps)

	case status.Signaled():
		wasLeader := t.table.Remove(tid)
		if wasLeader {
			return reasonExit(-int32(status.Signal())), true, nil
		}
		return StopReason{}, false, nil

	default:
		t.log.Debugw("unhandled wait status", "tid", tid, "status", status)
		return StopReason{}, false, nil
	}
}

func (t *Tracer) applyStopped(tid ThreadID, status syscall.WaitStatus, bps *Registry) (StopReason, bool, error) {
	sig := status.StopSignal()
	cause := status.TrapCause()

	switch {
	case sig == syscall.SIGTRAP && cause == ptraceEventExec:
		t.table.Register(tid)
		return reasonStart(), true, nil

	case sig == syscall.SIGTRAP && cause == ptraceEventClone:
		if parent, ok := t.table.Get(tid); ok {
			parent.MarkStoppedInterrupt()
		}

		msg, err := GetEventMsg(tid)
		if err != nil {
			return StopReason{}, false, rifterr.Wrap(err)
		}
		child := ThreadID(msg)

		if _, known := t.table.Get(child); !known {
			t.table.Register(child)
			// The child's initial PTRACE_EVENT_STOP must already be
			// pending per the SEIZE contract; absorb it so the table
			// reflects a genuinely stopped thread.
			var status2 syscall.WaitStatus
			if _, err := syscall.Wait4(int(child), &status2, syscall.WALL, nil); err == nil {
				if status2.Stopped() && status2.TrapCause() == ptraceEventStopValue {
					if childTracee, ok := t.table.Get(child); ok {
						childTracee.MarkStoppedInterrupt()
					}
				}
			}
		}
		return StopReason{}, false, nil

	case sig == syscall.SIGTRAP && cause == ptraceEventStopValue:
		tr := t.table.Register(tid)
		tr.MarkStoppedInterrupt()
		return StopReason{}, false, nil

	case sig == syscall.SIGTRAP && cause == ptraceEventExit:
		t.table.Remove(tid)
		_ = ContWithSignal(tid, 0)
		return StopReason{}, false, nil

	case sig == syscall.SIGTRAP:
		return t.applySigtrap(tid, bps)

	default:
		info, err := GetSigInfo(tid)
		if err != nil {
			if isESRCH(err) {
				return reasonNoSuchProcess(tid), true, nil
			}
			return StopReason{}, false, rifterr.Wrap(err)
		}
		_ = info

		tr := t.table.Register(tid)
		tr.MarkStoppedSignal(sig)
		t.signalQueue = append(t.signalQueue, pendingSignal{thread: tid, sig: sig})

		if err := t.groupStop(tid, bps); err != nil {
			return StopReason{}, false, rifterr.Wrap(err)
		}
		t.focus = tid
		return reasonSignal(tid, sig), true, nil
	}
}

// applySigtrap handles a plain SIGTRAP stop: either a breakpoint trap (int3
// leaves PC one byte past the trap, so PC is rewound by one) or a spurious
// TRAP_TRACE seen outside single-step, which is silently resumed per
// spec.md's design notes.
func (t *Tracer) applySigtrap(tid ThreadID, bps *Registry) (StopReason, bool, error) {
	info, err := GetSigInfo(tid)
	if err != nil {
		if isESRCH(err) {
			return reasonNoSuchProcess(tid), true, nil
		}
		return StopReason{}, false, rifterr.Wrap(err)
	}

	if !isBreakpointTrap(info) {
		// Spurious TRAP_TRACE outside single_step: silent resume.
		return StopReason{}, false, nil
	}

	regs, err := GetRegs(tid)
	if err != nil {
		return StopReason{}, false, rifterr.Wrap(err)
	}
	pc := addr.Relocated(regs[pcRegIndex()] - uint64(trapInstructionSize))

	if bps == nil {
		return StopReason{}, false, nil
	}

	bp, found := bps.At(pc)
	if !found {
		return StopReason{}, false, nil
	}

	regs[pcRegIndex()] = uint64(pc)
	if err := SetRegs(tid, regs); err != nil {
		return StopReason{}, false, rifterr.Wrap(err)
	}

	foreign := bp.Kind != UserBreakpoint && bp.OwningThread != tid

	if foreign {
		if err := t.stepOverBreakpoint(tid, bp); err != nil {
			return StopReason{}, false, rifterr.Wrap(err)
		}
		return StopReason{}, false, nil
	}

	tr := t.table.Register(tid)
	tr.MarkStoppedInterrupt()

	if err := t.groupStop(tid, bps); err != nil {
		return StopReason{}, false, rifterr.Wrap(err)
	}
	t.focus = tid
	return reasonBreakpoint(tid, uintptr(pc)), true, nil
}

// groupStop brings every other running tracee to a stop so the caller can
// present a consistent snapshot, per spec.md section 4.1. Guarded against
// reentrancy since a nested signal can otherwise trigger a second pass while
// the first is still interrupting threads.
func (t *Tracer) groupStop(reporter ThreadID, bps *Registry) error {
	if t.inGroupStop {
		return nil
	}
	t.inGroupStop = true
	defer func() { t.inGroupStop = false }()

	for round := 0; round < 2; round++ {
		running := t.table.Running()
		if len(running) == 0 {
			return nil
		}

		for _, tr := range running {
			if tr.TID == reporter {
				continue
			}

			if err := Interrupt(tr.TID); err != nil {
				if isESRCH(err) {
					tr.MarkStoppedInterrupt()
					continue
				}
				return rifterr.Wrap(err)
			}

			if err := t.waitForInterruptStop(tr.TID, bps); err != nil {
				return rifterr.Wrap(err)
			}
		}
	}

	return nil
}

// waitForInterruptStop blocks until tid reaches PTRACE_EVENT_STOP, funneling
// any other event through applyNewStatus. It also accepts tid reporting its
// own breakpoint, a signal-stop, or NoSuchProcess as terminating conditions,
// and treats a DebugeeExit surfacing here as fatal.
func (t *Tracer) waitForInterruptStop(tid ThreadID, bps *Registry) error {
	for {
		waited, status, err := WaitAny(t.pid, time.Second)
		if err != nil {
			return rifterr.Wrap(err)
		}
		if waited == 0 {
			continue
		}

		if waited == tid && status.Stopped() {
			cause := status.TrapCause()
			sig := status.StopSignal()

			if sig == syscall.SIGTRAP && cause == ptraceEventStopValue {
				tr := t.table.Register(tid)
				tr.MarkStoppedInterrupt()
				return nil
			}
			if sig == syscall.SIGTRAP {
				// This thread hit its own breakpoint while being
				// interrupted: acceptable terminating condition.
				tr := t.table.Register(tid)
				tr.MarkStoppedInterrupt()
				return nil
			}
			// A non-trap signal-stop on the target thread also ends the
			// wait; record it for the next Resume to deliver.
			tr := t.table.Register(tid)
			tr.MarkStoppedSignal(sig)
			t.signalQueue = append(t.signalQueue, pendingSignal{thread: tid, sig: sig})
			return nil
		}

		reason, ok, err := t.applyNewStatus(waited, status, bps)
		if err != nil {
			return rifterr.Wrap(err)
		}
		if ok && reason.Kind == DebugeeExit {
			return rifterr.Errorf("debuggee exited during group-stop")
		}
		if ok && reason.Kind == NoSuchProcess && waited == tid {
			return nil
		}
	}
}

func isBreakpointTrap(info *SigInfo) bool {
	return info.Code == trapBrkpt || info.Code == siKernel
}

func isTrapTrace(info *SigInfo) bool {
	return info.Code == trapTrace
}

const (
	trapBrkpt = 1 // TRAP_BRKPT
	trapTrace = 2 // TRAP_TRACE
	siKernel  = 0x80
)

func pcRegIndex() int { return arch.PtraceRegsRIP }
