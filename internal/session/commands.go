package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/riftdbg/rift/internal/rifterr"
	"github.com/riftdbg/rift/internal/trace"
)

// EventHook is the capability a front-end implements to receive the events a
// Session's command surface produces, per spec.md section 6. All methods are
// invoked on the thread that called the triggering command -- there is no
// separate dispatcher goroutine.
type EventHook interface {
	OnTrap(pc uintptr, place string)
	OnSignal(sig string)
	OnExit(code int32)
}

// commandNames lists every long-form command accepted by Dispatch, in the
// order spec.md section 6 lists them.
var commandNames = []string{
	"var", "arg", "continue", "frame", "run", "stepi", "step", "stepout",
	"next", "symbol", "break", "backtrace", "memory", "register", "help", "quit",
}

// shortForms maps each command's short form to its long form. "stepi" has
// none, per spec.md's "si excluded where absent".
var shortForms = map[string]string{
	"c":   "continue",
	"s":   "step",
	"so":  "stepout",
	"n":   "next",
	"b":   "break",
	"bt":  "backtrace",
	"m":   "memory",
	"reg": "register",
	"h":   "help",
	"q":   "quit",
	"r":   "run",
}

// Dispatcher resolves a command line into a Session call and reports the
// result through an EventHook. It holds no state of its own beyond the
// Session and hook it was built with.
type Dispatcher struct {
	session *Session
	hook    EventHook
}

// NewDispatcher returns a Dispatcher driving session and reporting through
// hook.
func NewDispatcher(session *Session, hook EventHook) *Dispatcher {
	return &Dispatcher{session: session, hook: hook}
}

// Dispatch parses one command line (as a user or script would type it) and
// executes it. Returns quit=true when the command was "quit"/"q".
func (d *Dispatcher) Dispatch(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	cmd, args := fields[0], fields[1:]
	if long, ok := shortForms[cmd]; ok {
		cmd = long
	}

	switch cmd {
	case "var":
		return false, d.doVar(args)
	case "arg":
		return false, d.doArg(args)
	case "continue":
		return false, d.doContinue()
	case "frame":
		return false, d.doFrame(args)
	case "run":
		return false, d.doContinue()
	case "stepi":
		return false, d.doStepi()
	case "step":
		return false, d.doStep()
	case "stepout":
		return false, d.doStepOut()
	case "next":
		return false, d.doNext()
	case "symbol":
		return false, d.doSymbol(args)
	case "break":
		return false, d.doBreak(args)
	case "backtrace":
		return false, d.doBacktrace()
	case "memory":
		return false, rifterr.Errorf("memory: use `var`/`symbol` to resolve an address first")
	case "register":
		return false, d.doRegister()
	case "help":
		return false, d.doHelp()
	case "quit":
		return true, nil
	default:
		return false, rifterr.Errorf("unknown command %q", cmd)
	}
}

func (d *Dispatcher) doVar(args []string) error {
	if len(args) != 1 {
		return rifterr.Errorf("usage: var <name>")
	}
	v, err := d.session.Var(args[0])
	if err != nil {
		return rifterr.Wrap(err)
	}
	fmt.Println(v.String())
	return nil
}

func (d *Dispatcher) doArg(args []string) error {
	return d.doVar(args)
}

func (d *Dispatcher) doContinue() error {
	evt, err := d.session.Continue()
	if err != nil {
		return rifterr.Wrap(err)
	}
	d.report(evt)
	return nil
}

func (d *Dispatcher) doStepi() error {
	evt, err := d.session.Stepi()
	if err != nil {
		return rifterr.Wrap(err)
	}
	d.report(evt)
	return nil
}

func (d *Dispatcher) doStep() error {
	evt, err := d.session.StepLine()
	if err != nil {
		return rifterr.Wrap(err)
	}
	d.report(evt)
	return nil
}

func (d *Dispatcher) doNext() error {
	evt, err := d.session.StepOverLine()
	if err != nil {
		return rifterr.Wrap(err)
	}
	d.report(evt)
	return nil
}

func (d *Dispatcher) doStepOut() error {
	evt, err := d.session.StepOut()
	if err != nil {
		return rifterr.Wrap(err)
	}
	d.report(evt)
	return nil
}

func (d *Dispatcher) doFrame(args []string) error {
	if len(d.session.lastEvent.Backtrace) == 0 {
		return rifterr.Errorf("no backtrace available -- stop the debuggee first")
	}
	idx := 0
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return rifterr.Errorf("usage: frame [index]")
		}
		idx = n
	}
	if idx < 0 || idx >= len(d.session.lastEvent.Backtrace) {
		return rifterr.Errorf("frame index %d out of range", idx)
	}
	f := d.session.lastEvent.Backtrace[idx]
	fmt.Printf("#%d  %#x  %s (%s:%d)\n", idx, f.PC, f.Function, f.File, f.Line)
	return nil
}

func (d *Dispatcher) doSymbol(args []string) error {
	if len(args) != 1 {
		return rifterr.Errorf("usage: symbol <name>")
	}
	addr, err := d.session.dbg.FindSymbol(args[0])
	if err != nil {
		return rifterr.Wrap(err)
	}
	fmt.Printf("%s = %#x\n", args[0], addr)
	return nil
}

func (d *Dispatcher) doBreak(args []string) error {
	if len(args) != 1 {
		return rifterr.Errorf("usage: break <function>")
	}
	pc, err := d.session.Break(args[0])
	if err != nil {
		return rifterr.Wrap(err)
	}
	fmt.Printf("breakpoint set at %s (%#x)\n", args[0], pc)
	return nil
}

func (d *Dispatcher) doBacktrace() error {
	for i, f := range d.session.lastEvent.Backtrace {
		fmt.Printf("#%d  %#x  %s (%s:%d)\n", i, f.PC, f.Function, f.File, f.Line)
	}
	return nil
}

func (d *Dispatcher) doRegister() error {
	for name, val := range d.session.lastEvent.Registers {
		fmt.Printf("%s = %s\n", name, val)
	}
	return nil
}

func (d *Dispatcher) doHelp() error {
	fmt.Println(strings.Join(commandNames, ", "))
	return nil
}

func (d *Dispatcher) report(evt *Event) {
	if evt.Exited {
		d.hook.OnExit(evt.ExitCode)
		return
	}

	if evt.Reason.Kind == trace.ReasonSignalStop {
		d.hook.OnSignal(evt.Reason.Signal.String())
		return
	}

	place := ""
	if len(evt.Backtrace) > 0 {
		f := evt.Backtrace[0]
		if f.File != "" {
			place = fmt.Sprintf("%s:%d", f.File, f.Line)
		}
	}
	d.hook.OnTrap(evt.PC, place)
}
