package classfile

import (
	"errors"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// PoolBuilder: deduplicating constant pool construction
// ---------------------------------------------------------------------------

// PoolBuilder assembles a constant pool, returning the existing index when
// an equal constant is added twice.
type PoolBuilder struct {
	pool  ConstantPool
	index map[string]uint16
}

// NewPoolBuilder creates an empty pool (index 0 reserved).
func NewPoolBuilder() *PoolBuilder {
	return &PoolBuilder{
		pool:  ConstantPool{nil},
		index: make(map[string]uint16),
	}
}

// Pool returns the assembled pool.
func (p *PoolBuilder) Pool() ConstantPool {
	return p.pool
}

func (p *PoolBuilder) add(key string, c Constant) uint16 {
	if idx, ok := p.index[key]; ok {
		return idx
	}
	idx := uint16(len(p.pool))
	p.pool = append(p.pool, c)
	if c.Tag() == TagLong || c.Tag() == TagDouble {
		p.pool = append(p.pool, nil)
	}
	p.index[key] = idx
	return idx
}

func (p *PoolBuilder) Utf8(s string) uint16 {
	return p.add("U"+s, &ConstantUtf8{Value: s})
}

func (p *PoolBuilder) Integer(v int32) uint16 {
	return p.add(fmt.Sprintf("I%d", v), &ConstantInteger{Value: v})
}

func (p *PoolBuilder) Float(v float32) uint16 {
	return p.add(fmt.Sprintf("F%08x", math.Float32bits(v)), &ConstantFloat{Value: v})
}

func (p *PoolBuilder) Long(v int64) uint16 {
	return p.add(fmt.Sprintf("J%d", v), &ConstantLong{Value: v})
}

func (p *PoolBuilder) Double(v float64) uint16 {
	return p.add(fmt.Sprintf("D%016x", math.Float64bits(v)), &ConstantDouble{Value: v})
}

func (p *PoolBuilder) Class(name string) uint16 {
	n := p.Utf8(name)
	return p.add(fmt.Sprintf("C%d", n), &ConstantClass{NameIndex: n})
}

func (p *PoolBuilder) String(s string) uint16 {
	n := p.Utf8(s)
	return p.add(fmt.Sprintf("S%d", n), &ConstantString{StringIndex: n})
}

func (p *PoolBuilder) NameAndType(name, desc string) uint16 {
	n, d := p.Utf8(name), p.Utf8(desc)
	return p.add(fmt.Sprintf("N%d:%d", n, d), &ConstantNameAndType{NameIndex: n, DescriptorIndex: d})
}

func (p *PoolBuilder) memberRef(kind ConstantTag, class, name, desc string) uint16 {
	c, nt := p.Class(class), p.NameAndType(name, desc)
	return p.add(fmt.Sprintf("R%d:%d:%d", kind, c, nt),
		&ConstantMemberRef{Kind: kind, ClassIndex: c, NameAndTypeIndex: nt})
}

func (p *PoolBuilder) Fieldref(class, name, desc string) uint16 {
	return p.memberRef(TagFieldref, class, name, desc)
}

func (p *PoolBuilder) Methodref(class, name, desc string) uint16 {
	return p.memberRef(TagMethodref, class, name, desc)
}

func (p *PoolBuilder) InterfaceMethodref(class, name, desc string) uint16 {
	return p.memberRef(TagInterfaceMethodref, class, name, desc)
}

func (p *PoolBuilder) MethodType(desc string) uint16 {
	d := p.Utf8(desc)
	return p.add(fmt.Sprintf("T%d", d), &ConstantMethodType{DescriptorIndex: d})
}

func (p *PoolBuilder) MethodHandle(kind uint8, ref uint16) uint16 {
	return p.add(fmt.Sprintf("H%d:%d", kind, ref), &ConstantMethodHandle{ReferenceKind: kind, ReferenceIndex: ref})
}

func (p *PoolBuilder) InvokeDynamic(bootstrap uint16, name, desc string) uint16 {
	nt := p.NameAndType(name, desc)
	return p.add(fmt.Sprintf("Y%d:%d", bootstrap, nt),
		&ConstantInvokeDynamic{BootstrapMethodAttrIndex: bootstrap, NameAndTypeIndex: nt})
}

// ---------------------------------------------------------------------------
// CodeBuilder: assembler for method bodies
// ---------------------------------------------------------------------------

var ErrUnmarkedLabel = errors.New("branch to unmarked label")

// Label is a branch target inside a CodeBuilder.
type Label struct {
	marked bool
	pos    int
}

type labelPatch struct {
	label *Label
	opPos int // offsets are relative to the branching opcode
	at    int
	wide  bool
}

type pendingHandler struct {
	start, end, handler *Label
	catchType           uint16
}

// CodeBuilder assembles a Code attribute. Branch offsets are patched in
// Build, so labels may be marked before or after the jumps that use them.
type CodeBuilder struct {
	pool      *PoolBuilder
	bytes     []byte
	patches   []labelPatch
	handlers  []pendingHandler
	lines     []LineNumberEntry
	maxStack  int
	maxLocals int
}

// NewCodeBuilder creates a builder emitting pool references into pool.
func NewCodeBuilder(pool *PoolBuilder) *CodeBuilder {
	return &CodeBuilder{pool: pool, maxStack: 16, bytes: make([]byte, 0, 64)}
}

// Pool returns the pool this builder emits references into.
func (b *CodeBuilder) Pool() *PoolBuilder {
	return b.pool
}

// Len returns the current code length, i.e. the pc of the next instruction.
func (b *CodeBuilder) Len() int {
	return len(b.bytes)
}

// SetMaxStack overrides the default operand stack bound.
func (b *CodeBuilder) SetMaxStack(n int) *CodeBuilder {
	b.maxStack = n
	return b
}

// SetMaxLocals raises the local variable count; it never lowers the value
// inferred from emitted loads and stores.
func (b *CodeBuilder) SetMaxLocals(n int) *CodeBuilder {
	if n > b.maxLocals {
		b.maxLocals = n
	}
	return b
}

func (b *CodeBuilder) useLocal(idx, width int) {
	if idx+width > b.maxLocals {
		b.maxLocals = idx + width
	}
}

// Emit appends an opcode with no operands.
func (b *CodeBuilder) Emit(ops ...Opcode) *CodeBuilder {
	for _, op := range ops {
		b.bytes = append(b.bytes, byte(op))
	}
	return b
}

// EmitRaw appends raw bytes.
func (b *CodeBuilder) EmitRaw(data ...byte) *CodeBuilder {
	b.bytes = append(b.bytes, data...)
	return b
}

// EmitU8 appends an opcode with an unsigned byte operand.
func (b *CodeBuilder) EmitU8(op Opcode, v uint8) *CodeBuilder {
	b.bytes = append(b.bytes, byte(op), v)
	return b
}

// EmitI8 appends an opcode with a signed byte operand.
func (b *CodeBuilder) EmitI8(op Opcode, v int8) *CodeBuilder {
	b.bytes = append(b.bytes, byte(op), byte(v))
	return b
}

// EmitU16 appends an opcode with a big-endian u2 operand.
func (b *CodeBuilder) EmitU16(op Opcode, v uint16) *CodeBuilder {
	b.bytes = append(b.bytes, byte(op), byte(v>>8), byte(v))
	return b
}

// EmitI16 appends an opcode with a big-endian signed 16-bit operand.
func (b *CodeBuilder) EmitI16(op Opcode, v int16) *CodeBuilder {
	return b.EmitU16(op, uint16(v))
}

// EmitLocal appends a load, store or ret on a local, using the wide prefix
// when the index does not fit in one byte.
func (b *CodeBuilder) EmitLocal(op Opcode, idx int) *CodeBuilder {
	width := 1
	if op == OpLload || op == OpDload || op == OpLstore || op == OpDstore {
		width = 2
	}
	b.useLocal(idx, width)
	if idx > 0xff {
		return b.EmitWide(op, uint16(idx))
	}
	return b.EmitU8(op, uint8(idx))
}

// EmitWide appends the wide prefix followed by op and a u2 local index.
func (b *CodeBuilder) EmitWide(op Opcode, idx uint16) *CodeBuilder {
	b.bytes = append(b.bytes, byte(OpWide), byte(op), byte(idx>>8), byte(idx))
	return b
}

// EmitIinc appends iinc, widening when the index or delta needs it.
func (b *CodeBuilder) EmitIinc(idx int, delta int) *CodeBuilder {
	b.useLocal(idx, 1)
	if idx > 0xff || delta < math.MinInt8 || delta > math.MaxInt8 {
		b.bytes = append(b.bytes, byte(OpWide), byte(OpIinc), byte(idx>>8), byte(idx),
			byte(uint16(delta)>>8), byte(delta))
		return b
	}
	b.bytes = append(b.bytes, byte(OpIinc), byte(idx), byte(int8(delta)))
	return b
}

// EmitInvokeInterface appends invokeinterface with its count and zero byte.
func (b *CodeBuilder) EmitInvokeInterface(idx uint16, count uint8) *CodeBuilder {
	b.bytes = append(b.bytes, byte(OpInvokeinterface), byte(idx>>8), byte(idx), count, 0)
	return b
}

// EmitMultiANewArray appends multianewarray.
func (b *CodeBuilder) EmitMultiANewArray(idx uint16, dims uint8) *CodeBuilder {
	b.bytes = append(b.bytes, byte(OpMultianewarray), byte(idx>>8), byte(idx), dims)
	return b
}

// NewLabel creates an unmarked label.
func (b *CodeBuilder) NewLabel() *Label {
	return &Label{}
}

// Mark binds a label to the current position.
func (b *CodeBuilder) Mark(label *Label) *CodeBuilder {
	if label.marked {
		panic("label already marked")
	}
	label.marked = true
	label.pos = len(b.bytes)
	return b
}

// EmitJump appends a branch with a 16-bit offset to label.
func (b *CodeBuilder) EmitJump(op Opcode, label *Label) *CodeBuilder {
	opPos := len(b.bytes)
	b.bytes = append(b.bytes, byte(op), 0, 0)
	b.patches = append(b.patches, labelPatch{label: label, opPos: opPos, at: opPos + 1})
	return b
}

// EmitJumpW appends goto_w or jsr_w with a 32-bit offset.
func (b *CodeBuilder) EmitJumpW(op Opcode, label *Label) *CodeBuilder {
	opPos := len(b.bytes)
	b.bytes = append(b.bytes, byte(op), 0, 0, 0, 0)
	b.patches = append(b.patches, labelPatch{label: label, opPos: opPos, at: opPos + 1, wide: true})
	return b
}

func (b *CodeBuilder) pad() {
	for len(b.bytes)%4 != 0 {
		b.bytes = append(b.bytes, 0)
	}
}

func (b *CodeBuilder) appendI32(v int32) {
	b.bytes = append(b.bytes, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (b *CodeBuilder) emitSwitchTarget(opPos int, label *Label) {
	b.patches = append(b.patches, labelPatch{label: label, opPos: opPos, at: len(b.bytes), wide: true})
	b.appendI32(0)
}

// EmitTableSwitch appends a tableswitch covering low..low+len(targets)-1.
func (b *CodeBuilder) EmitTableSwitch(low int32, dflt *Label, targets []*Label) *CodeBuilder {
	opPos := len(b.bytes)
	b.bytes = append(b.bytes, byte(OpTableswitch))
	b.pad()
	b.emitSwitchTarget(opPos, dflt)
	b.appendI32(low)
	b.appendI32(low + int32(len(targets)) - 1)
	for _, t := range targets {
		b.emitSwitchTarget(opPos, t)
	}
	return b
}

// EmitLookupSwitch appends a lookupswitch; keys must be sorted ascending.
func (b *CodeBuilder) EmitLookupSwitch(dflt *Label, keys []int32, targets []*Label) *CodeBuilder {
	opPos := len(b.bytes)
	b.bytes = append(b.bytes, byte(OpLookupswitch))
	b.pad()
	b.emitSwitchTarget(opPos, dflt)
	b.appendI32(int32(len(keys)))
	for i, k := range keys {
		b.appendI32(k)
		b.emitSwitchTarget(opPos, targets[i])
	}
	return b
}

// AddHandler registers an exception table entry covering [start, end).
// catchClass "" makes a catch-all handler.
func (b *CodeBuilder) AddHandler(start, end, handler *Label, catchClass string) *CodeBuilder {
	var ct uint16
	if catchClass != "" {
		ct = b.pool.Class(catchClass)
	}
	b.handlers = append(b.handlers, pendingHandler{start: start, end: end, handler: handler, catchType: ct})
	return b
}

// LineNumber maps the next instruction to a source line.
func (b *CodeBuilder) LineNumber(line int) *CodeBuilder {
	b.lines = append(b.lines, LineNumberEntry{StartPC: uint16(len(b.bytes)), LineNumber: uint16(line)})
	return b
}

// ---------------------------------------------------------------------------
// Pool-aware helpers
// ---------------------------------------------------------------------------

// PushInt appends the shortest instruction pushing v.
func (b *CodeBuilder) PushInt(v int32) *CodeBuilder {
	switch {
	case v >= -1 && v <= 5:
		return b.Emit(Opcode(int32(OpIconst0) + v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return b.EmitI8(OpBipush, int8(v))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return b.EmitI16(OpSipush, int16(v))
	}
	return b.Ldc(b.pool.Integer(v))
}

// Ldc appends ldc or ldc_w depending on the index width.
func (b *CodeBuilder) Ldc(idx uint16) *CodeBuilder {
	if idx <= 0xff {
		return b.EmitU8(OpLdc, uint8(idx))
	}
	return b.EmitU16(OpLdcW, idx)
}

// PushString appends ldc of a string constant.
func (b *CodeBuilder) PushString(s string) *CodeBuilder {
	return b.Ldc(b.pool.String(s))
}

// PushLong appends ldc2_w of a long constant.
func (b *CodeBuilder) PushLong(v int64) *CodeBuilder {
	return b.EmitU16(OpLdc2W, b.pool.Long(v))
}

// PushDouble appends ldc2_w of a double constant.
func (b *CodeBuilder) PushDouble(v float64) *CodeBuilder {
	return b.EmitU16(OpLdc2W, b.pool.Double(v))
}

// PushFloat appends ldc of a float constant.
func (b *CodeBuilder) PushFloat(v float32) *CodeBuilder {
	return b.Ldc(b.pool.Float(v))
}

// Invoke appends an invoke instruction on class.name:desc. invokeinterface
// gets its argument count from the descriptor.
func (b *CodeBuilder) Invoke(op Opcode, class, name, desc string) *CodeBuilder {
	if op == OpInvokeinterface {
		n, err := ArgSlotCount(desc, false)
		if err != nil {
			panic(err)
		}
		return b.EmitInvokeInterface(b.pool.InterfaceMethodref(class, name, desc), uint8(n))
	}
	return b.EmitU16(op, b.pool.Methodref(class, name, desc))
}

// InvokeInterfaceMethod appends invokestatic or invokespecial on an
// interface method reference. invokeinterface is emitted as by Invoke.
func (b *CodeBuilder) InvokeInterfaceMethod(op Opcode, class, name, desc string) *CodeBuilder {
	if op == OpInvokeinterface {
		return b.Invoke(op, class, name, desc)
	}
	return b.EmitU16(op, b.pool.InterfaceMethodref(class, name, desc))
}

// Field appends getstatic, putstatic, getfield or putfield.
func (b *CodeBuilder) Field(op Opcode, class, name, desc string) *CodeBuilder {
	return b.EmitU16(op, b.pool.Fieldref(class, name, desc))
}

// TypeOp appends new, anewarray, checkcast or instanceof on a class.
func (b *CodeBuilder) TypeOp(op Opcode, class string) *CodeBuilder {
	return b.EmitU16(op, b.pool.Class(class))
}

// Build resolves labels and returns the Code attribute.
func (b *CodeBuilder) Build() (*CodeAttribute, error) {
	code := make([]byte, len(b.bytes))
	copy(code, b.bytes)
	for _, p := range b.patches {
		if !p.label.marked {
			return nil, fmt.Errorf("%w at pc %d", ErrUnmarkedLabel, p.opPos)
		}
		off := p.label.pos - p.opPos
		if p.wide {
			code[p.at] = byte(off >> 24)
			code[p.at+1] = byte(off >> 16)
			code[p.at+2] = byte(off >> 8)
			code[p.at+3] = byte(off)
			continue
		}
		if off < math.MinInt16 || off > math.MaxInt16 {
			return nil, fmt.Errorf("branch offset %d at pc %d does not fit in 16 bits", off, p.opPos)
		}
		code[p.at] = byte(off >> 8)
		code[p.at+1] = byte(off)
	}

	attr := &CodeAttribute{
		AttributeHeader: AttributeHeader{NameIndex: b.pool.Utf8(AttrCode), Name: AttrCode},
		MaxStack:        uint16(b.maxStack),
		MaxLocals:       uint16(b.maxLocals),
		Code:            code,
	}
	for _, h := range b.handlers {
		if !h.start.marked || !h.end.marked || !h.handler.marked {
			return nil, fmt.Errorf("%w in exception table", ErrUnmarkedLabel)
		}
		attr.ExceptionTable = append(attr.ExceptionTable, ExceptionTableEntry{
			StartPC:   uint16(h.start.pos),
			EndPC:     uint16(h.end.pos),
			HandlerPC: uint16(h.handler.pos),
			CatchType: h.catchType,
		})
	}
	if len(b.lines) > 0 {
		attr.Attributes = append(attr.Attributes, &LineNumberTableAttribute{
			AttributeHeader: AttributeHeader{NameIndex: b.pool.Utf8(AttrLineNumberTable), Name: AttrLineNumberTable},
			Entries:         b.lines,
		})
	}
	return attr, nil
}

// ---------------------------------------------------------------------------
// ClassBuilder
// ---------------------------------------------------------------------------

// ClassBuilder assembles a ClassFile around a shared PoolBuilder.
type ClassBuilder struct {
	Pool *PoolBuilder
	cf   *ClassFile
}

// NewClassBuilder starts a class. super may be "" only for java/lang/Object.
func NewClassBuilder(name, super string, flags AccessFlags) *ClassBuilder {
	pool := NewPoolBuilder()
	cf := &ClassFile{
		MajorVersion: MaxMajorVersion,
		AccessFlags:  flags,
		ThisClass:    pool.Class(name),
	}
	if super != "" {
		cf.SuperClass = pool.Class(super)
	}
	return &ClassBuilder{Pool: pool, cf: cf}
}

// Code returns a CodeBuilder bound to this class's pool.
func (c *ClassBuilder) Code() *CodeBuilder {
	return NewCodeBuilder(c.Pool)
}

// AddInterface declares a direct superinterface.
func (c *ClassBuilder) AddInterface(name string) *ClassBuilder {
	c.cf.Interfaces = append(c.cf.Interfaces, c.Pool.Class(name))
	return c
}

// AddField declares a field.
func (c *ClassBuilder) AddField(flags AccessFlags, name, desc string) *FieldInfo {
	f := &FieldInfo{
		AccessFlags:     flags,
		NameIndex:       c.Pool.Utf8(name),
		DescriptorIndex: c.Pool.Utf8(desc),
		Name:            name,
		Descriptor:      desc,
	}
	c.cf.Fields = append(c.cf.Fields, f)
	return f
}

// AddConstantField declares a field with a ConstantValue attribute pointing
// at valueIndex.
func (c *ClassBuilder) AddConstantField(flags AccessFlags, name, desc string, valueIndex uint16) *FieldInfo {
	f := c.AddField(flags, name, desc)
	f.Attributes = append(f.Attributes, &ConstantValueAttribute{
		AttributeHeader: AttributeHeader{NameIndex: c.Pool.Utf8(AttrConstantValue), Name: AttrConstantValue},
		ValueIndex:      valueIndex,
	})
	return f
}

// AddMethod declares a method. code is nil for abstract and native methods.
// When code's max locals is below the argument slot count it is raised.
func (c *ClassBuilder) AddMethod(flags AccessFlags, name, desc string, code *CodeAttribute) *MethodInfo {
	m := &MethodInfo{
		AccessFlags:     flags,
		NameIndex:       c.Pool.Utf8(name),
		DescriptorIndex: c.Pool.Utf8(desc),
		Name:            name,
		Descriptor:      desc,
	}
	if code != nil {
		if n, err := ArgSlotCount(desc, flags.IsStatic()); err == nil && int(code.MaxLocals) < n {
			code.MaxLocals = uint16(n)
		}
		m.Attributes = append(m.Attributes, code)
	}
	c.cf.Methods = append(c.cf.Methods, m)
	return m
}

// SetSourceFile records the SourceFile attribute.
func (c *ClassBuilder) SetSourceFile(name string) *ClassBuilder {
	c.cf.Attributes = append(c.cf.Attributes, &SourceFileAttribute{
		AttributeHeader: AttributeHeader{NameIndex: c.Pool.Utf8(AttrSourceFile), Name: AttrSourceFile},
		SourceFileIndex: c.Pool.Utf8(name),
	})
	return c
}

// Build returns the assembled class file.
func (c *ClassBuilder) Build() *ClassFile {
	c.cf.ConstantPool = c.Pool.Pool()
	return c.cf
}

// Bytes returns the encoded class file.
func (c *ClassBuilder) Bytes() []byte {
	return Encode(c.Build())
}
