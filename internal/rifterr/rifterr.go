// Package rifterr wraps errors with the call-site frame chain so a fatal
// session error can be printed with its full origin, the way the teacher's
// root-level error.go does for raztracer.
package rifterr

import (
	"fmt"
	"runtime"
	"strings"
)

// TracedError carries an underlying error plus every frame it passed through
// on its way up the stack.
type TracedError struct {
	Err    error
	Frames []runtime.Frame
}

// Error implements the error interface.
func (e *TracedError) Error() string {
	var b strings.Builder
	fmt.Fprint(&b, e.Err)
	for _, frame := range e.Frames {
		fmt.Fprintf(&b, "\n\t[%s:%d]", frame.Function, frame.Line)
	}
	return b.String()
}

// Unwrap exposes the wrapped error to errors.Is/As.
func (e *TracedError) Unwrap() error {
	return e.Err
}

// Wrap returns a new TracedError from e, or appends a frame if e is already
// one. A nil error wraps to a true nil error interface (not a nil
// *TracedError boxed into one) so call sites can write `return Wrap(err)`
// freely and still have `err == nil` hold for callers.
func Wrap(e error) error {
	if e == nil {
		return nil
	}

	frame := callerFrame()

	if traced, ok := e.(*TracedError); ok {
		traced.Frames = append(traced.Frames, frame)
		return traced
	}

	return &TracedError{Err: e, Frames: []runtime.Frame{frame}}
}

// Errorf creates a new TracedError from a format string.
func Errorf(format string, args ...interface{}) error {
	return &TracedError{Err: fmt.Errorf(format, args...), Frames: []runtime.Frame{callerFrame()}}
}

// Merge folds multiple non-fatal errors (e.g. per-register or per-variable
// soft errors) into a single error for reporting without aborting. Returns a
// true nil when errs is empty or contains only nils.
func Merge(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			parts = append(parts, err.Error())
		}
	}
	if len(parts) == 0 {
		return nil
	}

	return &TracedError{Err: fmt.Errorf("%s", strings.Join(parts, "; ")), Frames: []runtime.Frame{callerFrame()}}
}

func callerFrame() runtime.Frame {
	pc := make([]uintptr, 1)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])
	frame, _ := frames.Next()
	return frame
}
