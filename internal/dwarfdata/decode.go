package dwarfdata

import (
	"debug/dwarf"
	"fmt"

	delveop "github.com/go-delve/delve/pkg/dwarf/op"

	"github.com/riftdbg/rift/internal/dwarfdata/dwtype"
	"github.com/riftdbg/rift/internal/regset"
	"github.com/riftdbg/rift/internal/rifterr"
	"github.com/riftdbg/rift/internal/trace"
)

// maxArrayItems and maxDecodeDepth bound the recursive decode so a corrupt
// or cyclic-looking type tree (or a huge array) can't make `var` hang or
// blow the stack -- original_source's renderer is recursive with no such
// cap since Rust's type system rules out the cases this guards against.
const (
	maxArrayItems  = 256
	maxDecodeDepth = 16
)

// Decode reads v's value out of the tracee at pc and recursively decodes it
// against its DWARF type tree into a dwtype.VariableIR, per spec.md
// section 4.5's variable reader contract.
func Decode(mem trace.MemoryAccess, v *Variable, pc uintptr, regs *delveop.DwarfRegisters) (dwtype.VariableIR, error) {
	if v.TypeEntry == nil {
		data := make([]byte, sizeofPtr)
		loc, hasLoc := v.Location(pc, regs)
		if hasLoc {
			if b, err := loc.Read(mem, sizeofPtr, regs); err == nil {
				data = b
			}
		}
		return dwtype.Scalar(v.Name, "unknown", data), nil
	}

	loc, hasLoc := v.Location(pc, regs)
	if !hasLoc {
		return dwtype.Scalar(v.Name, v.TypeEntry.Name(), nil), rifterr.Errorf("%s: no location available", v.Name)
	}
	if err := loc.evaluate(regs); err != nil {
		return dwtype.Scalar(v.Name, v.TypeEntry.Name(), nil), rifterr.Wrap(err)
	}
	return decodeAt(mem, v.Name, *v.TypeEntry, loc.address, regs, 0)
}

func decodeAt(mem trace.MemoryAccess, name string, typ Entry, addr uintptr, regs *delveop.DwarfRegisters, depth int) (dwtype.VariableIR, error) {
	if depth > maxDecodeDepth {
		return dwtype.Scalar(name, typ.Name(), nil), rifterr.Errorf("%s: type nesting exceeds %d, truncated", name, maxDecodeDepth)
	}

	switch typ.Tag() {
	case dwarf.TagPointerType:
		return decodePointer(mem, name, typ, addr, regs, depth)

	case dwarf.TagStructType:
		return decodeStruct(mem, name, typ, addr, regs, depth)

	case dwarf.TagUnionType:
		return decodeUnion(mem, name, typ, addr, regs, depth)

	case dwarf.TagArrayType:
		return decodeArray(mem, name, typ, addr, regs, depth)

	case dwarf.TagEnumerationType:
		return decodeEnum(mem, name, typ, addr)

	case dwarf.TagVariantPart:
		return decodeVariantPart(mem, name, typ, addr, regs, depth)

	case dwarf.TagTypedef, dwarf.TagConstType, dwarf.TagVolatileType:
		inner, err := typ.Type()
		if err != nil {
			return dwtype.Scalar(name, typ.Name(), nil), rifterr.Wrap(err)
		}
		return decodeAt(mem, name, *inner, addr, regs, depth)

	default:
		return decodeScalar(mem, name, typ, addr)
	}
}

func readBytes(mem trace.MemoryAccess, addr uintptr, size int64) ([]byte, error) {
	if size <= 0 {
		size = int64(sizeofPtr)
	}
	data := make([]byte, size)
	if err := mem.PeekData(addr, data); err != nil {
		return nil, rifterr.Wrap(err)
	}
	return data, nil
}

func decodeScalar(mem trace.MemoryAccess, name string, typ Entry, addr uintptr) (dwtype.VariableIR, error) {
	data, err := readBytes(mem, addr, typ.ByteSize())
	if err != nil {
		return dwtype.Scalar(name, typ.Name(), nil), err
	}

	enc, ok := scalarEncoding(typ)
	if !ok {
		return dwtype.Scalar(name, typ.Name(), data), nil
	}
	return dwtype.DecodeBaseType(name, enc, data, regset.ByteOrder), nil
}

// scalarEncoding maps DW_AT_encoding (DW_ATE_*) to the narrow encoding
// description dwtype.DecodeBaseType needs. Base types carry DW_AT_encoding
// as an int64 in debug/dwarf.
func scalarEncoding(typ Entry) (dwtype.BaseTypeEncoding, bool) {
	if typ.Tag() != dwarf.TagBaseType {
		return dwtype.BaseTypeEncoding{}, false
	}

	encVal, _ := typ.Val(dwarf.AttrEncoding).(int64)
	enc := dwtype.BaseTypeEncoding{
		Name:     typ.Name(),
		ByteSize: typ.ByteSize(),
	}

	const (
		ateBoolean      = 0x02
		ateFloat        = 0x04
		ateSigned       = 0x05
		ateSignedChar   = 0x06
		ateUnsigned     = 0x07
		ateUnsignedChar = 0x08
	)

	switch encVal {
	case ateBoolean:
		enc.Bool = true
	case ateFloat:
		enc.Float = true
	case ateSigned, ateSignedChar:
		enc.Signed = true
	case ateUnsigned, ateUnsignedChar:
		enc.Signed = false
	default:
		return enc, false
	}

	return enc, true
}

func decodePointer(mem trace.MemoryAccess, name string, typ Entry, addr uintptr, regs *delveop.DwarfRegisters, depth int) (dwtype.VariableIR, error) {
	data, err := readBytes(mem, addr, int64(sizeofPtr))
	if err != nil {
		return dwtype.Pointer(name, typ.Name(), 0, nil), err
	}
	target := readAddress(data)

	sub, err := typ.Type()
	typeName := "void*"
	if err == nil && sub != nil {
		typeName = sub.Name() + "*"
	}

	if target == 0 || sub == nil {
		return dwtype.Pointer(name, typeName, target, nil), nil
	}

	deref, err := decodeAt(mem, "*"+dwtype.NormalizeName(name), *sub, target, regs, depth+1)
	if err != nil {
		return dwtype.Pointer(name, typeName, target, nil), nil
	}
	return dwtype.Pointer(name, typeName, target, &deref), nil
}

func decodeStruct(mem trace.MemoryAccess, name string, typ Entry, addr uintptr, regs *delveop.DwarfRegisters, depth int) (dwtype.VariableIR, error) {
	children, err := typ.Children(1)
	if err != nil {
		return dwtype.Struct(name, typ.Name(), nil), rifterr.Wrap(err)
	}

	var members []dwtype.VariableIR
	var errs []error
	for _, child := range children {
		if child.Tag() == dwarf.TagVariantPart {
			v, err := decodeVariantPart(mem, "", child, addr, regs, depth+1)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			return v, nil
		}
		if child.Tag() != dwarf.TagMember {
			continue
		}

		memberOff, _ := child.Val(dwarf.AttrDataMemberLoc).(int64)
		memberType, err := child.Type()
		if err != nil {
			errs = append(errs, err)
			continue
		}

		decoded, err := decodeAt(mem, child.Name(), *memberType, addr+uintptr(memberOff), regs, depth+1)
		if err != nil {
			errs = append(errs, err)
		}
		members = append(members, decoded)
	}

	return dwtype.Struct(name, typ.Name(), members), rifterr.Merge(errs)
}

func decodeUnion(mem trace.MemoryAccess, name string, typ Entry, addr uintptr, regs *delveop.DwarfRegisters, depth int) (dwtype.VariableIR, error) {
	// A plain C union has no discriminant; render every member overlapping
	// the same address, the way a debugger showing "all interpretations at
	// once" conventionally does for a union with no tag.
	return decodeStruct(mem, name, typ, addr, regs, depth)
}

func decodeArray(mem trace.MemoryAccess, name string, typ Entry, addr uintptr, regs *delveop.DwarfRegisters, depth int) (dwtype.VariableIR, error) {
	elemType, err := typ.Type()
	if err != nil {
		return dwtype.Array(name, typ.Name(), nil), rifterr.Wrap(err)
	}

	count := arrayCount(typ)
	if count > maxArrayItems {
		count = maxArrayItems
	}

	elemSize := elemType.ByteSize()
	if elemSize == 0 {
		elemSize = int64(sizeofPtr)
	}

	items := make([]dwtype.VariableIR, 0, count)
	var errs []error
	for i := int64(0); i < count; i++ {
		item, err := decodeAt(mem, fmt.Sprintf("[%d]", i), *elemType, addr+uintptr(i*elemSize), regs, depth+1)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, item)
	}

	return dwtype.Array(name, typ.Name()+"[]", items), rifterr.Merge(errs)
}

func arrayCount(typ Entry) int64 {
	children, err := typ.Children(1)
	if err != nil {
		return 0
	}
	for _, child := range children {
		if child.Tag() != dwarf.TagSubrangeType {
			continue
		}
		if count, ok := child.Val(dwarf.AttrCount).(int64); ok {
			return count
		}
		if upper, ok := child.Val(dwarf.AttrUpperBound).(int64); ok {
			return upper + 1
		}
	}
	return 0
}

func decodeEnum(mem trace.MemoryAccess, name string, typ Entry, addr uintptr) (dwtype.VariableIR, error) {
	size := typ.ByteSize()
	if size == 0 {
		size = 4
	}
	data, err := readBytes(mem, addr, size)
	if err != nil {
		return dwtype.CEnum(name, typ.Name(), 0, nil), err
	}

	var value int64
	switch len(data) {
	case 1:
		value = int64(data[0])
	case 2:
		value = int64(regset.ByteOrder.Uint16(data))
	case 4:
		value = int64(regset.ByteOrder.Uint32(data))
	default:
		value = int64(regset.ByteOrder.Uint64(data))
	}

	enumerators := make(map[int64]string)
	children, _ := typ.Children(1)
	for _, child := range children {
		if child.Tag() != dwarf.TagEnumerator {
			continue
		}
		if cv, ok := child.Val(dwarf.AttrConstValue).(int64); ok {
			enumerators[cv] = child.Name()
		}
	}

	return dwtype.CEnum(name, typ.Name(), value, enumerators), nil
}

// decodeVariantPart handles a DWARF DW_TAG_variant_part: a discriminant
// member selecting exactly one DW_TAG_variant child's payload, the standard
// DWARF encoding of a tagged union -- and the shape both a Rust enum and a
// niche-optimized Option compile down to, which original_source's
// VariableIR::RustEnum models directly.
func decodeVariantPart(mem trace.MemoryAccess, name string, typ Entry, addr uintptr, regs *delveop.DwarfRegisters, depth int) (dwtype.VariableIR, error) {
	children, err := typ.Children(1)
	if err != nil {
		return dwtype.TaggedUnion(name, typ.Name(), "?", dwtype.VariableIR{}), rifterr.Wrap(err)
	}

	var discrValue int64
	var haveDiscr bool
	var variants []Entry

	for _, child := range children {
		switch child.Tag() {
		case dwarf.TagMember:
			// the discriminant member itself
			memberOff, _ := child.Val(dwarf.AttrDataMemberLoc).(int64)
			memberType, err := child.Type()
			if err == nil {
				if data, err := readBytes(mem, addr+uintptr(memberOff), memberType.ByteSize()); err == nil {
					discrValue = decodeIntBytes(data)
					haveDiscr = true
				}
			}
		case dwarf.TagVariant:
			variants = append(variants, child)
		}
	}

	for _, variant := range variants {
		discrAttr, hasDiscrAttr := variant.Val(dwarf.AttrDiscrValue).(int64)
		isDefault := !hasDiscrAttr

		if haveDiscr && hasDiscrAttr && discrAttr != discrValue {
			continue
		}
		if !isDefault && haveDiscr && discrAttr != discrValue {
			continue
		}

		members, err := variant.Children(1)
		if err != nil || len(members) == 0 {
			continue
		}

		for _, member := range members {
			if member.Tag() != dwarf.TagMember {
				continue
			}
			memberOff, _ := member.Val(dwarf.AttrDataMemberLoc).(int64)
			memberType, err := member.Type()
			if err != nil {
				continue
			}
			payload, err := decodeAt(mem, member.Name(), *memberType, addr+uintptr(memberOff), regs, depth+1)
			if err != nil {
				continue
			}
			return dwtype.TaggedUnion(name, typ.Name(), fmt.Sprintf("%d", discrValue), payload), nil
		}
	}

	return dwtype.TaggedUnion(name, typ.Name(), fmt.Sprintf("%d", discrValue), dwtype.VariableIR{}), nil
}

func decodeIntBytes(data []byte) int64 {
	switch len(data) {
	case 1:
		return int64(data[0])
	case 2:
		return int64(regset.ByteOrder.Uint16(data))
	case 4:
		return int64(regset.ByteOrder.Uint32(data))
	case 8:
		return int64(regset.ByteOrder.Uint64(data))
	default:
		return 0
	}
}
