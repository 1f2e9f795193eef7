package session

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHook struct {
	trapPC    uintptr
	trapPlace string
	signal    string
	exitCode  int32
	exited    bool
}

func (h *recordingHook) OnTrap(pc uintptr, place string) { h.trapPC, h.trapPlace = pc, place }
func (h *recordingHook) OnSignal(sig string)              { h.signal = sig }
func (h *recordingHook) OnExit(code int32)                { h.exited, h.exitCode = true, code }

func TestDispatchQuit(t *testing.T) {
	d := NewDispatcher(&Session{}, &recordingHook{})

	quit, err := d.Dispatch("quit")
	require.NoError(t, err)
	assert.True(t, quit)

	quit, err = d.Dispatch("q")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestDispatchEmptyLineIsNoop(t *testing.T) {
	d := NewDispatcher(&Session{}, &recordingHook{})
	quit, err := d.Dispatch("   ")
	require.NoError(t, err)
	assert.False(t, quit)
}

func TestDispatchUnknownCommand(t *testing.T) {
	d := NewDispatcher(&Session{}, &recordingHook{})
	_, err := d.Dispatch("frobnicate")
	assert.Error(t, err)
}

func TestDispatchHelpListsEveryLongForm(t *testing.T) {
	d := NewDispatcher(&Session{}, &recordingHook{})

	r, w, err := os.Pipe()
	require.NoError(t, err)
	stdout := os.Stdout
	os.Stdout = w
	_, err = d.Dispatch("h")
	os.Stdout = stdout
	require.NoError(t, w.Close())
	out, readErr := io.ReadAll(r)
	require.NoError(t, readErr)

	assert.NoError(t, err)
	for _, name := range commandNames {
		assert.Contains(t, string(out), name)
	}
}

func TestShortFormsResolveToLongForms(t *testing.T) {
	for short, long := range shortForms {
		assert.Contains(t, commandNames, long, "short form %q maps to unknown command %q", short, long)
	}
}

func TestDispatchMemoryNotYetSupported(t *testing.T) {
	d := NewDispatcher(&Session{}, &recordingHook{})
	_, err := d.Dispatch("m 0x1000")
	assert.Error(t, err)
}

func TestDispatchStepFamilyRejectsExitedDebuggee(t *testing.T) {
	d := NewDispatcher(&Session{lastEvent: Event{Exited: true}}, &recordingHook{})
	for _, cmd := range []string{"step", "next", "stepout"} {
		_, err := d.Dispatch(cmd)
		assert.Error(t, err, "%s should refuse to step an exited debuggee", cmd)
	}
}
