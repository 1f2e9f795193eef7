package dwtype

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "unknown", NormalizeName(""))
	assert.Equal(t, "unknown", NormalizeName("?"))
	assert.Equal(t, "42", NormalizeName("__42"))
	assert.Equal(t, "x", NormalizeName("x"))
}

func TestDecodeBaseTypeSigned(t *testing.T) {
	enc := BaseTypeEncoding{Name: "int", ByteSize: 4, Signed: true}
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(int32(-7)))

	v := DecodeBaseType("x", enc, data, binary.LittleEndian)
	assert.Equal(t, KindScalar, v.Kind)
	assert.Equal(t, "-7", v.ScalarValue)
}

func TestDecodeBaseTypeUnsignedAndBool(t *testing.T) {
	unsigned := DecodeBaseType("x", BaseTypeEncoding{ByteSize: 2}, []byte{0xff, 0xff}, binary.LittleEndian)
	assert.Equal(t, "65535", unsigned.ScalarValue)

	boolVal := DecodeBaseType("b", BaseTypeEncoding{ByteSize: 1, Bool: true}, []byte{1}, binary.LittleEndian)
	assert.Equal(t, "true", boolVal.ScalarValue)
}

func TestDecodeBaseTypeFloat(t *testing.T) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, 0x40490fdb) // ~3.14159
	v := DecodeBaseType("pi", BaseTypeEncoding{ByteSize: 4, Float: true}, data, binary.LittleEndian)
	assert.Contains(t, v.ScalarValue, "3.14")
}

func TestStructString(t *testing.T) {
	members := []VariableIR{
		Scalar("a", "int", []byte{42}),
		Scalar("b", "bool", []byte{1}),
	}
	s := Struct("o", "Outer", members)
	assert.Equal(t, KindStruct, s.Kind)
	assert.Contains(t, s.String(), "a")
	assert.Contains(t, s.String(), "b")
}

func TestCEnumFallsBackToNumeral(t *testing.T) {
	v := CEnum("color", "Color", 3, map[int64]string{1: "Red"})
	assert.Equal(t, "3", v.EnumValue)
}

func TestCEnumMatchesEnumerator(t *testing.T) {
	v := CEnum("color", "Color", 1, map[int64]string{1: "Red"})
	assert.Equal(t, "Red", v.EnumValue)
}

func TestTaggedUnionString(t *testing.T) {
	variant := Scalar("Some", "i32", []byte{9})
	v := TaggedUnion("opt", "Option<i32>", "Some", variant)
	assert.Equal(t, KindTaggedUnion, v.Kind)
	assert.Contains(t, v.String(), "Some")
}

func TestPointerString(t *testing.T) {
	deref := Scalar("*p", "int", []byte{5})
	v := Pointer("p", "int*", 0xdeadbeef, &deref)
	assert.Contains(t, v.String(), "0xdeadbeef")
}
