package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrCodeOverrun is the panic value raised when an instruction's operands
// run past the end of the code array.
var ErrCodeOverrun = errors.New("bytecode underflow")

// ---------------------------------------------------------------------------
// CodeReader: operand decoding within a Code attribute
// ---------------------------------------------------------------------------

// CodeReader reads instructions and big-endian operands from a method body.
// Unlike Reader it panics on overrun: a truncated instruction is a malformed
// method, not a recoverable decode condition.
type CodeReader struct {
	code []byte
	pos  int
}

// NewCodeReader creates a reader over code starting at pc 0.
func NewCodeReader(code []byte) *CodeReader {
	return &CodeReader{code: code}
}

// Reset repositions the reader over a (possibly different) code array.
func (r *CodeReader) Reset(code []byte, pc int) {
	r.code = code
	r.pos = pc
}

// Position returns the current read position.
func (r *CodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *CodeReader) HasMore() bool {
	return r.pos < len(r.code)
}

func (r *CodeReader) need(n int) {
	if r.pos+n > len(r.code) {
		panic(fmt.Errorf("%w at pc %d", ErrCodeOverrun, r.pos))
	}
}

// ReadOpcode reads the next opcode.
func (r *CodeReader) ReadOpcode() Opcode {
	return Opcode(r.ReadU8())
}

func (r *CodeReader) ReadU8() uint8 {
	r.need(1)
	b := r.code[r.pos]
	r.pos++
	return b
}

func (r *CodeReader) ReadI8() int8 {
	return int8(r.ReadU8())
}

func (r *CodeReader) ReadU16() uint16 {
	r.need(2)
	v := binary.BigEndian.Uint16(r.code[r.pos:])
	r.pos += 2
	return v
}

func (r *CodeReader) ReadI16() int16 {
	return int16(r.ReadU16())
}

func (r *CodeReader) ReadI32() int32 {
	r.need(4)
	v := binary.BigEndian.Uint32(r.code[r.pos:])
	r.pos += 4
	return int32(v)
}

// SkipPadding advances to the next multiple of four, as switch
// instructions require.
func (r *CodeReader) SkipPadding() {
	for r.pos%4 != 0 {
		r.ReadU8()
	}
}

// Skip advances the position by n bytes.
func (r *CodeReader) Skip(n int) {
	r.need(n)
	r.pos += n
}

// ---------------------------------------------------------------------------
// Switch operands
// ---------------------------------------------------------------------------

// Switch holds the decoded operands of tableswitch or lookupswitch. Offsets
// are relative to the switch opcode.
type Switch struct {
	Default int32
	Low     int32
	High    int32
	Keys    []int32 // lookupswitch only
	Offsets []int32
}

// ReadTableSwitch decodes tableswitch operands; the reader must be
// positioned just after the opcode.
func (r *CodeReader) ReadTableSwitch() Switch {
	r.SkipPadding()
	s := Switch{Default: r.ReadI32(), Low: r.ReadI32(), High: r.ReadI32()}
	n := int64(s.High) - int64(s.Low) + 1
	if n < 0 || n > int64(len(r.code)) {
		panic(fmt.Errorf("%w: tableswitch bounds %d..%d", ErrCodeOverrun, s.Low, s.High))
	}
	s.Offsets = make([]int32, n)
	for i := range s.Offsets {
		s.Offsets[i] = r.ReadI32()
	}
	return s
}

// ReadLookupSwitch decodes lookupswitch operands.
func (r *CodeReader) ReadLookupSwitch() Switch {
	r.SkipPadding()
	s := Switch{Default: r.ReadI32()}
	n := r.ReadI32()
	if n < 0 || int(n) > len(r.code) {
		panic(fmt.Errorf("%w: lookupswitch npairs %d", ErrCodeOverrun, n))
	}
	s.Keys = make([]int32, n)
	s.Offsets = make([]int32, n)
	for i := range s.Keys {
		s.Keys[i] = r.ReadI32()
		s.Offsets[i] = r.ReadI32()
	}
	return s
}

// Target returns the branch offset selected for key.
func (s *Switch) Target(key int32) int32 {
	if s.Keys == nil {
		if key < s.Low || key > s.High {
			return s.Default
		}
		return s.Offsets[key-s.Low]
	}
	for i, k := range s.Keys {
		if k == key {
			return s.Offsets[i]
		}
	}
	return s.Default
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders the instruction at the reader's position
// and advances past it. pool may be nil, in which case constant operands are
// shown as indexes only.
func DisassembleInstruction(r *CodeReader, pool ConstantPool) string {
	pos := r.Position()
	op := r.ReadOpcode()
	name := op.Name()

	switch {
	case op == OpBipush:
		return fmt.Sprintf("%4d: %s %d", pos, name, r.ReadI8())
	case op == OpSipush:
		return fmt.Sprintf("%4d: %s %d", pos, name, r.ReadI16())
	case op == OpLdc:
		idx := uint16(r.ReadU8())
		return fmt.Sprintf("%4d: %s #%d%s", pos, name, idx, poolComment(pool, idx))
	case op == OpNewarray:
		atype := r.ReadU8()
		desc, _ := ArrayTypeDescriptor(atype)
		return fmt.Sprintf("%4d: %s %s", pos, name, ClassNameOf(strings.TrimPrefix(desc, "[")))
	case op == OpIinc:
		idx := r.ReadU8()
		return fmt.Sprintf("%4d: %s %d, %d", pos, name, idx, r.ReadI8())
	case op.IsBranch() && op.OperandBytes() == 2:
		off := r.ReadI16()
		return fmt.Sprintf("%4d: %s %d", pos, name, pos+int(off))
	case op == OpGotoW || op == OpJsrW:
		off := r.ReadI32()
		return fmt.Sprintf("%4d: %s %d", pos, name, pos+int(off))
	case op == OpTableswitch:
		s := r.ReadTableSwitch()
		var b strings.Builder
		fmt.Fprintf(&b, "%4d: %s { // %d to %d", pos, name, s.Low, s.High)
		for i, off := range s.Offsets {
			fmt.Fprintf(&b, "\n      %d: %d", s.Low+int32(i), pos+int(off))
		}
		fmt.Fprintf(&b, "\n      default: %d\n    }", pos+int(s.Default))
		return b.String()
	case op == OpLookupswitch:
		s := r.ReadLookupSwitch()
		var b strings.Builder
		fmt.Fprintf(&b, "%4d: %s { // %d", pos, name, len(s.Keys))
		for i, k := range s.Keys {
			fmt.Fprintf(&b, "\n      %d: %d", k, pos+int(s.Offsets[i]))
		}
		fmt.Fprintf(&b, "\n      default: %d\n    }", pos+int(s.Default))
		return b.String()
	case op == OpInvokeinterface:
		idx := r.ReadU16()
		count := r.ReadU8()
		r.ReadU8()
		return fmt.Sprintf("%4d: %s #%d, %d%s", pos, name, idx, count, poolComment(pool, idx))
	case op == OpInvokedynamic:
		idx := r.ReadU16()
		r.Skip(2)
		return fmt.Sprintf("%4d: %s #%d, 0", pos, name, idx)
	case op == OpMultianewarray:
		idx := r.ReadU16()
		dims := r.ReadU8()
		return fmt.Sprintf("%4d: %s #%d, %d%s", pos, name, idx, dims, poolComment(pool, idx))
	case op == OpWide:
		inner := r.ReadOpcode()
		idx := r.ReadU16()
		if inner == OpIinc {
			return fmt.Sprintf("%4d: %s %s %d, %d", pos, name, inner.Name(), idx, r.ReadI16())
		}
		return fmt.Sprintf("%4d: %s %s %d", pos, name, inner.Name(), idx)
	case op.OperandBytes() == 2:
		// ldc_w, ldc2_w, field, method and type instructions
		idx := r.ReadU16()
		return fmt.Sprintf("%4d: %s #%d%s", pos, name, idx, poolComment(pool, idx))
	case op.OperandBytes() == 1:
		// local variable index
		return fmt.Sprintf("%4d: %s %d", pos, name, r.ReadU8())
	case op.OperandBytes() > 0:
		r.Skip(op.OperandBytes())
	}
	return fmt.Sprintf("%4d: %s", pos, name)
}

// Disassemble returns a full disassembly of a method body, one instruction
// per line.
func Disassemble(code []byte, pool ConstantPool) string {
	r := NewCodeReader(code)
	var lines []string
	for r.HasMore() {
		lines = append(lines, DisassembleInstruction(r, pool))
	}
	return strings.Join(lines, "\n")
}

// poolComment renders a constant the way javap does in its trailing
// comment column.
func poolComment(pool ConstantPool, idx uint16) string {
	if pool == nil {
		return ""
	}
	c, err := pool.Get(idx)
	if err != nil {
		return ""
	}
	switch c := c.(type) {
	case *ConstantInteger:
		return fmt.Sprintf(" // int %d", c.Value)
	case *ConstantFloat:
		return fmt.Sprintf(" // float %gf", c.Value)
	case *ConstantLong:
		return fmt.Sprintf(" // long %dl", c.Value)
	case *ConstantDouble:
		return fmt.Sprintf(" // double %gd", c.Value)
	case *ConstantString:
		s, _ := pool.Utf8(c.StringIndex)
		return fmt.Sprintf(" // String %s", s)
	case *ConstantClass:
		s, _ := pool.Utf8(c.NameIndex)
		return fmt.Sprintf(" // class %s", s)
	case *ConstantMemberRef:
		class, name, desc, err := pool.MemberRef(idx)
		if err != nil {
			return ""
		}
		kind := "Method"
		switch c.Kind {
		case TagFieldref:
			kind = "Field"
		case TagInterfaceMethodref:
			kind = "InterfaceMethod"
		}
		return fmt.Sprintf(" // %s %s.%s:%s", kind, class, name, desc)
	}
	return ""
}
