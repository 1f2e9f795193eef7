package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	tr := NewTranslator(0x555555554000)

	g := Global(0x1139)
	r := tr.ToRelocated(g)
	assert.Equal(t, g, tr.ToGlobal(r))

	r2 := Relocated(0x555555556000)
	g2 := tr.ToGlobal(r2)
	assert.Equal(t, r2, tr.ToRelocated(g2))
}

func TestZeroOffsetIsIdentity(t *testing.T) {
	tr := NewTranslator(0)
	g := Global(0xdeadbeef)
	assert.Equal(t, Relocated(g), tr.ToRelocated(g))
}
