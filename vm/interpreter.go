package vm

import (
	"fmt"

	"github.com/chazu/kopi/classfile"
	"github.com/tliron/commonlog"
)

var interpLog = commonlog.GetLogger("kopi.interp")

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

// Instr is a decoded instruction. Which fields are meaningful depends on the
// opcode: Index is a local variable or constant pool index, Const an
// immediate (push value, iinc delta, branch offset or newarray type).
type Instr struct {
	Op     classfile.Opcode
	Index  int
	Const  int32
	Count  int
	Switch classfile.Switch
}

type decodeFunc func(r *classfile.CodeReader, in *Instr)

type execFunc func(f *Frame, in *Instr)

type opcodeDef struct {
	decode decodeFunc
	exec   execFunc
}

// opcodes is the dispatch table indexed by opcode byte. The instr_*.go
// files fill it from their init functions.
var opcodes [256]opcodeDef

func define(op classfile.Opcode, decode decodeFunc, exec execFunc) {
	if opcodes[op].exec != nil {
		panic(fmt.Sprintf("opcode %s defined twice", op))
	}
	opcodes[op] = opcodeDef{decode: decode, exec: exec}
}

// Shared operand decoders.

func decodeU8Index(r *classfile.CodeReader, in *Instr)  { in.Index = int(r.ReadU8()) }
func decodeU16Index(r *classfile.CodeReader, in *Instr) { in.Index = int(r.ReadU16()) }
func decodeBranch16(r *classfile.CodeReader, in *Instr) { in.Const = int32(r.ReadI16()) }
func decodeBranch32(r *classfile.CodeReader, in *Instr) { in.Const = r.ReadI32() }

func fixedIndex(n int) decodeFunc {
	return func(_ *classfile.CodeReader, in *Instr) { in.Index = n }
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// run executes until the frame on top is not an interpreter frame: the
// stack is empty or an embedded call has returned to its shim.
func (t *Thread) run() {
	for {
		f := t.TopFrame()
		if f == nil || f.kind != InterpreterFrame {
			return
		}
		t.step(f)
	}
}

func (t *Thread) step(f *Frame) {
	t.pc = f.nextPC
	f.pc = t.pc
	t.reader.Reset(f.method.code, t.pc)
	op := t.reader.ReadOpcode()
	def := &opcodes[op]
	if def.exec == nil {
		fatalf("%s: undefined opcode 0x%02x at pc %d", f.method, byte(op), t.pc)
	}
	in := Instr{Op: op}
	if def.decode != nil {
		def.decode(&t.reader, &in)
	}
	f.nextPC = t.reader.Position()
	def.exec(f, &in)
}

// ---------------------------------------------------------------------------
// Method entry
// ---------------------------------------------------------------------------

// invokeMethod pushes a frame for m and moves its arguments off the
// caller's operand stack into the new frame's locals.
func (t *Thread) invokeMethod(caller *Frame, m *Method) {
	if m.IsAbstract() {
		t.throwNew(AbstractMethodError, m.class.JavaName()+"."+m.name+m.desc)
		return
	}
	callee := newFrame(t, m)
	if !t.pushFrame(callee) {
		t.throwStackOverflow()
		return
	}
	caller.stack.PopInto(callee.locals[:m.argSlotCount])
}

// Invoke calls m synchronously from host code. args are the receiver (for
// instance methods) followed by the argument slots. The result holds zero,
// one or two slots depending on the return type. A Java throwable that
// escapes m is returned as *ThrowableError.
func (t *Thread) Invoke(m *Method, args ...Slot) ([]Slot, error) {
	if len(args) != m.argSlotCount {
		return nil, fmt.Errorf("invoke %s: got %d argument slots, want %d", m, len(args), m.argSlotCount)
	}
	depth := len(t.frames)
	defer t.popTo(depth)

	if !t.pushFrame(newBarrierFrame(t)) {
		return nil, newVMError(StackOverflowError, "")
	}
	shim := newShimFrame(t, max(len(args), 2))
	for _, a := range args {
		shim.stack.Push(a)
	}
	if !t.pushFrame(shim) {
		return nil, newVMError(StackOverflowError, "")
	}
	t.invokeMethod(shim, m)
	t.run()

	if exc := t.pending; exc != nil {
		t.pending = nil
		return nil, &ThrowableError{Object: exc}
	}
	if t.TopFrame() != shim {
		fatalf("embedded call to %s returned to the wrong frame", m)
	}
	return append([]Slot(nil), shim.stack.Slots()...), nil
}

// InvokeVirtual looks up name and desc starting at the receiver's class
// and invokes the selected method.
func (t *Thread) InvokeVirtual(receiver *Object, name, desc string, args ...Slot) ([]Slot, error) {
	if receiver == nil {
		return nil, newVMError(NullPointerException, "")
	}
	m := receiver.class.LookupMethod(name, desc)
	if m == nil || m.IsStatic() {
		return nil, newVMError(NoSuchMethodError, "%s.%s%s", receiver.class.JavaName(), name, desc)
	}
	return t.Invoke(m, append([]Slot{RefSlot(receiver)}, args...)...)
}

// InvokeStatic initializes class c and invokes its static method.
func (t *Thread) InvokeStatic(c *Class, name, desc string, args ...Slot) ([]Slot, error) {
	m := c.FindMethod(name, desc)
	if m == nil || !m.IsStatic() {
		return nil, newVMError(NoSuchMethodError, "%s.%s%s", c.JavaName(), name, desc)
	}
	if err := t.InitializeClass(c); err != nil {
		return nil, err
	}
	return t.Invoke(m, args...)
}

// ---------------------------------------------------------------------------
// Class initialization
// ---------------------------------------------------------------------------

// ensureInitialized reports whether c may be actively used right now. When
// it returns false the current instruction has been rewound and either the
// initializer frames have been pushed or an error has been thrown. A class
// being initialized by another thread is waited for.
func (t *Thread) ensureInitialized(f *Frame, c *Class) bool {
	if c.state == StateInitialized {
		return true
	}
	switch c.awaitInit(t) {
	case StateInitialized, StateInitializing:
		return true
	case StateErroneous:
		t.throwNew(NoClassDefFoundError, "Could not initialize class "+c.JavaName())
		return false
	}
	f.nextPC = f.pc
	t.scheduleInit(c)
	return false
}

// scheduleInit pushes <clinit> frames for c and its uninitialized
// superclasses, with the outermost superclass on top so it runs first. If
// another thread claims one of them first, nothing is pushed and the
// rewound instruction waits for it when it runs again.
func (t *Thread) scheduleInit(c *Class) {
	var chain []*Class
	k := c
	for k != nil && k.awaitInit(t) == StateLinked {
		chain = append(chain, k)
		if k.IsInterface() {
			break
		}
		k = k.super
	}
	if k != nil && k.state == StateErroneous {
		t.throwNew(NoClassDefFoundError, "Could not initialize class "+k.JavaName())
		return
	}
	for i, k := range chain {
		if !k.claimInit(t) {
			for _, r := range chain[:i] {
				r.finishInit(StateLinked)
			}
			return
		}
	}
	for i, k := range chain {
		if !t.pushFrame(newFrame(t, k.clinitMethod())) {
			for _, r := range chain[i:] {
				r.finishInit(StateLinked)
			}
			t.throwStackOverflow()
			return
		}
		interpLog.Debugf("initializing %s", k.name)
	}
}

// awaitInit blocks while another thread is initializing c and returns the
// state it settles in. For the initializing thread itself it returns
// StateInitializing at once.
func (c *Class) awaitInit(t *Thread) ClassState {
	for {
		c.initMu.Lock()
		if c.state != StateInitializing || c.initThread == t {
			s := c.state
			c.initMu.Unlock()
			return s
		}
		done := c.initDone
		c.initMu.Unlock()
		<-done
	}
}

// claimInit moves a linked class to StateInitializing on behalf of t.
func (c *Class) claimInit(t *Thread) bool {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.state != StateLinked {
		return false
	}
	c.state = StateInitializing
	c.initThread = t
	c.initDone = make(chan struct{})
	return true
}

// finishInit leaves StateInitializing and wakes waiting threads.
func (c *Class) finishInit(s ClassState) {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	c.state = s
	c.initThread = nil
	if c.initDone != nil {
		close(c.initDone)
		c.initDone = nil
	}
}

// initialized is called when a <clinit> frame returns normally.
func (c *Class) initialized() {
	c.finishInit(StateInitialized)
}

// InitializeClass runs c's initializer, and its superclasses' first, to
// completion on t. It waits while another thread initializes c.
func (t *Thread) InitializeClass(c *Class) error {
	switch c.awaitInit(t) {
	case StateInitialized, StateInitializing:
		return nil
	case StateErroneous:
		return newVMError(NoClassDefFoundError, "Could not initialize class %s", c.JavaName())
	case StateUnlinked:
		fatalf("initializing unlinked class %s", c.name)
	}
	if !c.IsInterface() && c.super != nil {
		if err := t.InitializeClass(c.super); err != nil {
			c.finishInit(StateErroneous)
			return err
		}
	}
	if !c.claimInit(t) {
		return t.InitializeClass(c)
	}
	interpLog.Debugf("initializing %s", c.name)
	if _, err := t.Invoke(c.clinitMethod()); err != nil {
		if c.initThread == t {
			c.finishInit(StateErroneous)
		}
		return err
	}
	return nil
}
