package vm

import (
	"github.com/chazu/kopi/classfile"
)

// ---------------------------------------------------------------------------
// Field
// ---------------------------------------------------------------------------

// Field is a declared field. slotID indexes the instance Slots of an object
// or the static Slots of the declaring class, depending on IsStatic.
type Field struct {
	class           *Class
	flags           classfile.AccessFlags
	name            string
	desc            string
	slotID          int
	constValueIndex uint16
}

func (f *Field) Class() *Class                { return f.class }
func (f *Field) Flags() classfile.AccessFlags { return f.flags }
func (f *Field) Name() string                 { return f.name }
func (f *Field) Descriptor() string           { return f.desc }
func (f *Field) SlotID() int                  { return f.slotID }
func (f *Field) IsStatic() bool               { return f.flags.IsStatic() }
func (f *Field) IsFinal() bool                { return f.flags.IsFinal() }
func (f *Field) IsWide() bool                 { return isWide(f.desc) }

func (f *Field) String() string {
	return f.class.name + "." + f.name + ":" + f.desc
}

// ---------------------------------------------------------------------------
// Method
// ---------------------------------------------------------------------------

// ExceptionHandler is one row of a method's exception table. CatchType 0
// catches everything.
type ExceptionHandler struct {
	StartPC   int
	EndPC     int
	HandlerPC int
	CatchType uint16
}

// Method is a declared method. Native methods carry a synthesized two-byte
// body: the intrinsic opcode followed by the return opcode for the method's
// return kind.
type Method struct {
	class        *Class
	flags        classfile.AccessFlags
	name         string
	desc         string
	maxStack     int
	maxLocals    int
	code         []byte
	handlers     []ExceptionHandler
	lineNumbers  []classfile.LineNumberEntry
	argSlotCount int
	paramDescs   []string
	retDesc      string
	exceptions   []string
	annotations  []byte
	native       NativeMethod
}

func (m *Method) Class() *Class                         { return m.class }
func (m *Method) Flags() classfile.AccessFlags          { return m.flags }
func (m *Method) Name() string                          { return m.name }
func (m *Method) Descriptor() string                    { return m.desc }
func (m *Method) MaxStack() int                         { return m.maxStack }
func (m *Method) MaxLocals() int                        { return m.maxLocals }
func (m *Method) Code() []byte                          { return m.code }
func (m *Method) ExceptionHandlers() []ExceptionHandler { return m.handlers }
func (m *Method) ArgSlotCount() int                     { return m.argSlotCount }
func (m *Method) ParamDescriptors() []string            { return m.paramDescs }
func (m *Method) ReturnDescriptor() string              { return m.retDesc }
func (m *Method) Exceptions() []string                  { return m.exceptions }
func (m *Method) IsStatic() bool                        { return m.flags.IsStatic() }
func (m *Method) IsNative() bool                        { return m.flags.IsNative() }
func (m *Method) IsAbstract() bool                      { return m.flags.IsAbstract() }
func (m *Method) IsPrivate() bool                       { return m.flags.IsPrivate() }
func (m *Method) IsPublic() bool                        { return m.flags.IsPublic() }
func (m *Method) IsProtected() bool                     { return m.flags.IsProtected() }
func (m *Method) IsFinal() bool                         { return m.flags.IsFinal() }
func (m *Method) isClinit() bool                        { return m.name == "<clinit>" }
func (m *Method) isInit() bool                          { return m.name == "<init>" }

func (m *Method) String() string {
	return m.class.name + "." + m.name + m.desc
}

// LineNumber maps a pc to a source line: -2 for native methods, -1 when the
// method has no line number table.
func (m *Method) LineNumber(pc int) int {
	if m.IsNative() {
		return -2
	}
	if len(m.lineNumbers) == 0 {
		return -1
	}
	line, best := -1, -1
	for _, e := range m.lineNumbers {
		start := int(e.StartPC)
		if start <= pc && start > best {
			best = start
			line = int(e.LineNumber)
		}
	}
	return line
}

// ---------------------------------------------------------------------------
// Construction from the decoded class file
// ---------------------------------------------------------------------------

func newField(c *Class, info *classfile.FieldInfo) *Field {
	return &Field{
		class:           c,
		flags:           info.AccessFlags,
		name:            info.Name,
		desc:            info.Descriptor,
		constValueIndex: info.ConstantValueIndex(),
	}
}

func newMethod(c *Class, cf *classfile.ClassFile, info *classfile.MethodInfo) (*Method, error) {
	md, err := classfile.ParseMethodDescriptor(info.Descriptor)
	if err != nil {
		return nil, &VMError{Class: ClassFormatError, Message: c.name + "." + info.Name, Cause: err}
	}
	m := &Method{
		class:       c,
		flags:       info.AccessFlags,
		name:        info.Name,
		desc:        info.Descriptor,
		paramDescs:  md.Params,
		retDesc:     md.Return,
		annotations: info.Annotations(),
	}
	m.argSlotCount = md.ArgSlots()
	if !m.IsStatic() {
		m.argSlotCount++
	}
	for _, idx := range info.Exceptions() {
		if name, err := cf.ConstantPool.ClassName(idx); err == nil {
			m.exceptions = append(m.exceptions, name)
		}
	}

	code := info.Code()
	switch {
	case m.IsNative():
		m.code = []byte{byte(classfile.OpIntrinsic), byte(classfile.ReturnOpcodeFor(md.Return))}
		m.maxStack = classfile.SlotWidth(md.Return)
		m.maxLocals = m.argSlotCount
	case code != nil:
		m.code = code.Code
		m.maxStack = int(code.MaxStack)
		m.maxLocals = int(code.MaxLocals)
		if m.maxLocals < m.argSlotCount {
			return nil, newVMError(ClassFormatError, "%s: max_locals %d below argument size %d", m, m.maxLocals, m.argSlotCount)
		}
		for _, e := range code.ExceptionTable {
			if int(e.StartPC) >= len(m.code) || e.EndPC <= e.StartPC || int(e.EndPC) > len(m.code) || int(e.HandlerPC) >= len(m.code) {
				return nil, newVMError(ClassFormatError, "%s: bad exception table entry", m)
			}
			m.handlers = append(m.handlers, ExceptionHandler{
				StartPC:   int(e.StartPC),
				EndPC:     int(e.EndPC),
				HandlerPC: int(e.HandlerPC),
				CatchType: e.CatchType,
			})
		}
		m.lineNumbers = code.LineNumbers()
	case m.IsAbstract():
	default:
		return nil, newVMError(ClassFormatError, "%s: missing Code attribute", m)
	}
	return m, nil
}
