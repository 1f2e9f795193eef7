// Package session ties the ptrace tracer, DWARF context and unwinder
// together into the single object a command surface or UI drives: attach or
// launch a debuggee, set breakpoints, step it, and read back its state.
// Grounded on the teacher's root tracer.go (Tracer, TraceEvent), restated
// around internal/trace's multi-threaded Resume loop instead of the
// teacher's single-thread-at-a-time WaitForEvent.
package session

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	delveop "github.com/go-delve/delve/pkg/dwarf/op"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/riftdbg/rift/internal/addr"
	"github.com/riftdbg/rift/internal/dwarfdata"
	"github.com/riftdbg/rift/internal/dwarfdata/dwtype"
	"github.com/riftdbg/rift/internal/regset"
	"github.com/riftdbg/rift/internal/rifterr"
	"github.com/riftdbg/rift/internal/trace"
	"github.com/riftdbg/rift/internal/unwind"
)

// Event mirrors the teacher's TraceEvent: everything a UI or scripted
// command needs to render the debuggee's state after one stop.
type Event struct {
	Reason    trace.StopReason
	PC        uintptr
	Registers map[string]string
	Backtrace []Frame
	Exited    bool
	ExitCode  int32
}

// Frame is one resolved backtrace entry.
type Frame struct {
	PC       uintptr
	Function string
	File     string
	Line     uint
}

// Session owns a traced process end to end: the ptrace controller, the
// breakpoint registry, the DWARF context for the main executable and its
// shared libraries, and the libunwind fallback for frames CFI can't cover.
type Session struct {
	log       *zap.SugaredLogger
	tracer    *trace.Tracer
	bps       *trace.Registry
	dbg       *dwarfdata.Context
	fallback  libunwindAdapter
	ptrSize   int
	progName  string
	lastEvent Event
}

// libunwindAdapter is satisfied by *libunwind.Unwinder; kept as an interface
// so a Session can run (and be tested) without cgo linked in at all.
type libunwindAdapter interface {
	Step(tid int, pc uintptr) (uintptr, bool)
}

// dwRegs is a local alias to keep the rest of this file's signatures short.
type dwRegs = delveop.DwarfRegisters

// threadMemory adapts the package-level trace.PeekData/PokeData (which take
// an explicit ThreadID) to trace.MemoryAccess and unwind.FrameResolver's
// memory needs, both of which assume a single already-known thread.
type threadMemory struct {
	tid trace.ThreadID
}

func (m threadMemory) PeekData(addr uintptr, out []byte) error {
	return trace.PeekData(m.tid, addr, out)
}

func (m threadMemory) PokeData(addr uintptr, data []byte) error {
	return trace.PokeData(m.tid, addr, data)
}

// libunwindFrameStepper adapts libunwindAdapter (which needs a tid) to
// unwind.LibunwindFallback (which doesn't, since an Iterator only ever
// unwinds one thread).
type libunwindFrameStepper struct {
	fallback libunwindAdapter
	tid      int
}

func (s libunwindFrameStepper) Step(pc uintptr) (uintptr, bool) {
	return s.fallback.Step(s.tid, pc)
}

// asFallback returns s as an unwind.LibunwindFallback, or nil when no
// libunwind adapter was configured (CFI-only unwinding).
func (s libunwindFrameStepper) asFallback() unwind.LibunwindFallback {
	if s.fallback == nil {
		return nil
	}
	return s
}

// Attach starts tracing an already-running process by PID, the teacher's
// NewTracer(pid) path.
func Attach(pid int, log *zap.SugaredLogger) (*Session, error) {
	exePath := fmt.Sprintf("/proc/%d/exe", pid)
	f, err := os.Open(exePath)
	if err != nil {
		return nil, rifterr.Errorf("process not found: %d", pid)
	}
	defer f.Close()

	dbg, err := dwarfdata.NewContext(f, 0)
	if err != nil {
		return nil, errors.Wrap(err, "parse DWARF context")
	}

	tracer, err := trace.NewTracer(pid, log)
	if err != nil {
		return nil, errors.Wrap(err, "seize tracee")
	}

	commBytes, _ := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	progName := strings.TrimSpace(string(commBytes))

	return &Session{
		log:      log,
		tracer:   tracer,
		bps:      trace.NewRegistry(),
		dbg:      dbg,
		ptrSize:  8,
		progName: progName,
	}, nil
}

// Launch starts path under ptrace from a stopped fork+exec, the launch-mode
// counterpart to Attach. The child is left stopped at its first
// PTRACE_EVENT_EXEC, mirroring the teacher's reliance on PTRACE_TRACEME
// semantics but going through PTRACE_SEIZE once the child has re-executed.
func Launch(path string, args []string, log *zap.SugaredLogger) (*Session, error) {
	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
	cmd.Stdout, cmd.Stderr, cmd.Stdin = os.Stdout, os.Stderr, os.Stdin

	if err := cmd.Start(); err != nil {
		return nil, rifterr.Errorf("launch %s: %v", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open executable")
	}
	defer f.Close()

	dbg, err := dwarfdata.NewContext(f, 0)
	if err != nil {
		return nil, errors.Wrap(err, "parse DWARF context")
	}

	tracer, err := trace.NewTracer(cmd.Process.Pid, log)
	if err != nil {
		return nil, errors.Wrap(err, "seize tracee")
	}

	return &Session{
		log:      log,
		tracer:   tracer,
		bps:      trace.NewRegistry(),
		dbg:      dbg,
		ptrSize:  8,
		progName: filepath.Base(path),
	}, nil
}

// LastEvent returns the most recent stop event, the state a UI's panels
// render between commands.
func (s *Session) LastEvent() Event {
	return s.lastEvent
}

// SetLibunwindFallback wires in the cgo libunwind-ptrace fallback, used by
// backtrace only for frames CFI reports no coverage for. Optional: a Session
// with none set simply stops a backtrace early at the first such frame.
func (s *Session) SetLibunwindFallback(fb libunwindAdapter) {
	s.fallback = fb
}

// ProgName returns the basename of the traced executable.
func (s *Session) ProgName() string {
	return s.progName
}

// Detach stops tracing, disabling every breakpoint and letting every thread
// run free, the teacher's Tracer.Detach.
func (s *Session) Detach() error {
	var errs []error
	for _, bp := range s.bps.All() {
		if bp.IsEnabled() {
			errs = append(errs, bp.Disable())
		}
	}
	if s.tracer != nil {
		for _, tr := range s.tracer.Snapshot() {
			errs = append(errs, trace.Detach(tr.TID))
		}
	}
	return rifterr.Merge(errs)
}

// Break plants a user breakpoint at the named function's entry, resolved
// through dwarfdata.Context.FindFunctionByName.
func (s *Session) Break(funcName string) (uintptr, error) {
	fn := s.dbg.FindFunctionByName(funcName, true)
	if len(fn) == 0 {
		return 0, rifterr.Errorf("no function named %q", funcName)
	}

	pc := fn[0]
	tid := s.tracer.Focus()
	bp := trace.NewBreakpoint(threadMemory{tid}, addr.Relocated(pc), tid, trace.UserBreakpoint)
	if err := bp.Enable(); err != nil {
		return 0, errors.Wrap(err, "enable breakpoint")
	}
	s.bps.Add(bp)
	return pc, nil
}

// Continue resumes every thread until the next reportable stop.
func (s *Session) Continue() (*Event, error) {
	reason, err := s.tracer.Resume(s.bps)
	if err != nil {
		return nil, errors.Wrap(err, "resume tracee")
	}
	return s.buildEvent(reason)
}

// Stepi single-steps the focused thread by one instruction.
func (s *Session) Stepi() (*Event, error) {
	reason, err := s.tracer.SingleStep(s.bps)
	if err != nil {
		return nil, errors.Wrap(err, "single-step tracee")
	}
	return s.buildEvent(reason)
}

// maxLineStepIterations bounds how many instructions a line-step will
// single-step through before giving up, guarding against a function with no
// usable line info (e.g. a PLT stub) spinning forever.
const maxLineStepIterations = 200000

// StepLine single-steps the focused thread until the source line changes,
// the "step" command: a call made on the current line is stepped into.
func (s *Session) StepLine() (*Event, error) {
	return s.stepLine(false)
}

// StepOverLine advances past the current source line without stopping
// inside any call it makes, the "next" command. A call is detected by the
// stack pointer dropping below its value at the start of the line; once
// detected, a temporary breakpoint is planted at the call's return address
// and run to, rather than single-stepping through the callee.
func (s *Session) StepOverLine() (*Event, error) {
	return s.stepLine(true)
}

// StepOut runs the debuggee until the current function returns, by running
// to a temporary breakpoint at the caller's return address -- the first
// unwound frame of the current backtrace -- the "stepout" command.
func (s *Session) StepOut() (*Event, error) {
	if len(s.lastEvent.Backtrace) < 2 {
		return nil, rifterr.Errorf("no caller frame to step out to")
	}
	return s.runToTemp(s.lastEvent.Backtrace[1].PC)
}

func (s *Session) stepLine(over bool) (*Event, error) {
	start := s.lastEvent
	if start.Exited {
		return nil, rifterr.Errorf("debuggee has exited")
	}

	startLine, err := s.dbg.FindStmtLine(start.PC)
	if err != nil {
		return nil, errors.Wrap(err, "resolve current line")
	}
	startSP := s.focusedSP()

	for i := 0; i < maxLineStepIterations; i++ {
		evt, err := s.Stepi()
		if err != nil {
			return nil, err
		}
		if evt.Exited || evt.Reason.Kind == trace.ReasonSignalStop || evt.Reason.Kind == trace.ReasonBreakpoint {
			return evt, nil
		}

		if over {
			if sp := s.focusedSP(); sp < startSP && len(evt.Backtrace) >= 2 {
				evt, err = s.runToTemp(evt.Backtrace[1].PC)
				if err != nil {
					return nil, err
				}
				if evt.Exited || evt.Reason.Kind == trace.ReasonSignalStop {
					return evt, nil
				}
			}
		}

		if line, err := s.dbg.FindStmtLine(evt.PC); err == nil {
			if line.Filename != startLine.Filename || line.Number != startLine.Number {
				return evt, nil
			}
		}
	}

	return nil, rifterr.Errorf("step exceeded %d instructions without reaching a new line", maxLineStepIterations)
}

// runToTemp plants a StepOutTemp breakpoint at pc, owned by the focused
// thread, continues until it (or some other event) stops the debuggee, and
// removes the breakpoint before returning.
func (s *Session) runToTemp(pc uintptr) (*Event, error) {
	tid := s.tracer.Focus()
	bp := trace.NewBreakpoint(threadMemory{tid}, addr.Relocated(pc), tid, trace.StepOutTemp)
	if err := bp.Enable(); err != nil {
		return nil, errors.Wrap(err, "enable temporary breakpoint")
	}
	s.bps.Add(bp)
	defer func() {
		if err := s.bps.Remove(addr.Relocated(pc)); err != nil {
			s.log.Debugw("removing temporary breakpoint", "error", err)
		}
	}()

	return s.Continue()
}

// focusedSP returns the focused thread's current stack pointer, or 0 if it
// cannot be read -- callers treat that as "assume no call was entered"
// rather than failing the step outright.
func (s *Session) focusedSP() uintptr {
	rawRegs, err := trace.GetRegs(s.tracer.Focus())
	if err != nil {
		return 0
	}
	regs := regset.FromPtraceRegs(rawRegs, uint64(s.dbg.StaticBase()))
	return regset.SP(regs)
}

func (s *Session) buildEvent(reason trace.StopReason) (*Event, error) {
	evt := &Event{Reason: reason}

	if reason.Kind == trace.DebugeeExit {
		evt.Exited = true
		evt.ExitCode = reason.ExitCode
		s.lastEvent = *evt
		return evt, nil
	}

	tid := reason.Thread
	rawRegs, err := trace.GetRegs(tid)
	if err != nil {
		return evt, errors.Wrap(err, "read registers")
	}

	regs := regset.FromPtraceRegs(rawRegs, uint64(s.dbg.StaticBase()))
	evt.PC = regset.PC(regs)
	evt.Registers = s.registerMap(regs)

	frames, err := s.backtrace(tid, regs, 64)
	if err != nil {
		s.log.Debugw("backtrace incomplete", "error", err)
	}
	evt.Backtrace = frames

	s.lastEvent = *evt
	return evt, nil
}

func (s *Session) registerMap(regs *dwRegs) map[string]string {
	out := make(map[string]string)
	for reg, val := range regs.Regs {
		if val == nil {
			continue
		}
		out[fmt.Sprintf("dwreg%d", reg)] = fmt.Sprintf("%#x", val.Uint64Val)
	}
	return out
}

func (s *Session) backtrace(tid trace.ThreadID, regs *dwRegs, max int) ([]Frame, error) {
	var fb libunwindFrameStepper
	if s.fallback != nil {
		fb = libunwindFrameStepper{fallback: s.fallback, tid: int(tid)}
	}

	it := unwind.NewIterator(threadMemory{tid}, s.dbg, fb.asFallback(), regs, s.ptrSize)

	var frames []Frame
	for i := 0; it.Next() && i < max; i++ {
		pc := it.PC()
		frame := Frame{PC: pc}

		if fn, err := s.dbg.FindFunctionByPC(pc); err == nil {
			frame.Function = fn.Name
		}
		if line, err := s.dbg.FindStmtLine(pc); err == nil {
			frame.File, frame.Line = line.Filename, line.Number
		}

		frames = append(frames, frame)
	}
	if len(frames) == 0 {
		frames = append(frames, Frame{PC: regset.PC(regs)})
	}

	return frames, it.Err()
}

// Var reads and decodes the local variable or parameter named name, in the
// scope of the currently focused frame.
func (s *Session) Var(name string) (dwtype.VariableIR, error) {
	pc := s.lastEvent.PC

	fn, err := s.dbg.FindFunctionByPC(pc)
	if err != nil {
		return dwtype.VariableIR{}, errors.Wrap(err, "resolve current function")
	}

	vars, err := fn.Variables()
	if err != nil {
		return dwtype.VariableIR{}, errors.Wrap(err, "read function variables")
	}

	tid := s.tracer.Focus()
	rawRegs, err := trace.GetRegs(tid)
	if err != nil {
		return dwtype.VariableIR{}, errors.Wrap(err, "read registers")
	}
	regs := regset.FromPtraceRegs(rawRegs, uint64(s.dbg.StaticBase()))

	frameBase, err := s.dbg.FrameBaseAt(pc, regs)
	if err != nil {
		return dwtype.VariableIR{}, errors.Wrap(err, "resolve frame base")
	}
	regs.FrameBase = int64(frameBase)

	for _, v := range vars {
		if v.Name == name {
			return dwarfdata.Decode(threadMemory{tid}, v, pc, regs)
		}
	}

	return dwtype.VariableIR{}, rifterr.Errorf("no variable named %q in current frame", name)
}
