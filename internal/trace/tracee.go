package trace

import "syscall"

// RunState tags a Tracee's current status.
type RunState int

const (
	// Running means the thread was last resumed and has not stopped again.
	Running RunState = iota
	// StoppedInterrupt means the thread stopped due to PTRACE_INTERRUPT or
	// an equivalent group-stop synchronization point, not a reportable
	// event.
	StoppedInterrupt
	// StoppedSignal means the thread stopped delivering a specific signal.
	StoppedSignal
)

// Tracee is the per-thread bookkeeping record the controller maintains.
// Invariant: every thread known to the kernel as ptrace-attached has exactly
// one Tracee record, and all records reach a Stopped* state before any DWARF
// query runs (spec.md invariant 1).
type Tracee struct {
	TID            ThreadID
	State          RunState
	PendingSignal  syscall.Signal
	hasPending     bool
}

// NewTracee returns a freshly-registered, stopped tracee (the state every
// thread is in immediately after SEIZE or CLONE registration).
func NewTracee(tid ThreadID) *Tracee {
	return &Tracee{TID: tid, State: StoppedInterrupt}
}

// IsStopped reports whether the tracee is in any Stopped* state.
func (t *Tracee) IsStopped() bool {
	return t.State != Running
}

// MarkRunning transitions the tracee to Running, e.g. right before it is
// continued.
func (t *Tracee) MarkRunning() {
	t.State = Running
}

// MarkStoppedInterrupt transitions the tracee to StoppedInterrupt.
func (t *Tracee) MarkStoppedInterrupt() {
	t.State = StoppedInterrupt
}

// MarkStoppedSignal transitions the tracee to StoppedSignal, recording sig.
func (t *Tracee) MarkStoppedSignal(sig syscall.Signal) {
	t.State = StoppedSignal
	t.PendingSignal = sig
	t.hasPending = true
}

// Table is the tracer's exclusively-owned set of tracees, keyed by TID.
type Table struct {
	tracees map[ThreadID]*Tracee
	leader  ThreadID
}

// NewTable returns an empty tracee table whose thread-group leader is
// leaderTID.
func NewTable(leaderTID ThreadID) *Table {
	return &Table{tracees: make(map[ThreadID]*Tracee), leader: leaderTID}
}

// Register adds tid to the table if not already present and returns its
// record.
func (t *Table) Register(tid ThreadID) *Tracee {
	if existing, ok := t.tracees[tid]; ok {
		return existing
	}
	tr := NewTracee(tid)
	t.tracees[tid] = tr
	return tr
}

// Get returns the record for tid, if known.
func (t *Table) Get(tid ThreadID) (*Tracee, bool) {
	tr, ok := t.tracees[tid]
	return tr, ok
}

// Remove forgets tid. Reports whether it was the thread-group leader.
func (t *Table) Remove(tid ThreadID) (wasLeader bool) {
	delete(t.tracees, tid)
	return tid == t.leader
}

// Snapshot returns every known tracee, in no particular order.
func (t *Table) Snapshot() []*Tracee {
	out := make([]*Tracee, 0, len(t.tracees))
	for _, tr := range t.tracees {
		out = append(out, tr)
	}
	return out
}

// Len returns the number of tracees currently tracked.
func (t *Table) Len() int {
	return len(t.tracees)
}

// AllStopped reports whether every tracee in the table is in a Stopped*
// state -- spec.md invariant 1, checked after every non-exit Resume.
func (t *Table) AllStopped() bool {
	for _, tr := range t.tracees {
		if !tr.IsStopped() {
			return false
		}
	}
	return true
}

// Running returns every tracee currently marked Running.
func (t *Table) Running() []*Tracee {
	var out []*Tracee
	for _, tr := range t.tracees {
		if tr.State == Running {
			out = append(out, tr)
		}
	}
	return out
}
