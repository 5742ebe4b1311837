package vm

// ---------------------------------------------------------------------------
// Frame
// ---------------------------------------------------------------------------

// FrameKind distinguishes executing frames from the markers used by
// embedded host-to-bytecode calls.
type FrameKind uint8

const (
	// InterpreterFrame runs bytecode.
	InterpreterFrame FrameKind = iota
	// BarrierFrame bounds an embedded call; the run loop stops when it
	// reaches one.
	BarrierFrame
	// ShimFrame carries arguments to, and results from, an embedded call.
	ShimFrame
)

// Frame is one activation record. pc is -1 until the frame executes its
// first instruction; a frame that never started cannot catch exceptions.
type Frame struct {
	thread *Thread
	method *Method
	kind   FrameKind
	locals Slots
	stack  OperandStack
	nextPC int
	pc     int
}

func newFrame(t *Thread, m *Method) *Frame {
	return &Frame{
		thread: t,
		method: m,
		kind:   InterpreterFrame,
		locals: newSlots(m.maxLocals),
		stack:  newOperandStack(m.maxStack),
		pc:     -1,
	}
}

func newShimFrame(t *Thread, size int) *Frame {
	return &Frame{thread: t, kind: ShimFrame, stack: newOperandStack(size), pc: -1}
}

func newBarrierFrame(t *Thread) *Frame {
	return &Frame{thread: t, kind: BarrierFrame, pc: -1}
}

func (f *Frame) Thread() *Thread      { return f.thread }
func (f *Frame) Method() *Method      { return f.method }
func (f *Frame) Kind() FrameKind      { return f.kind }
func (f *Frame) Locals() Slots        { return f.locals }
func (f *Frame) Stack() *OperandStack { return &f.stack }
func (f *Frame) NextPC() int          { return f.nextPC }
func (f *Frame) SetNextPC(pc int)     { f.nextPC = pc }
func (f *Frame) PC() int              { return f.pc }
func (f *Frame) VM() *VM              { return f.thread.vm }
func (f *Frame) Class() *Class        { return f.method.class }
func (f *Frame) Pool() *ConstantPool  { return f.method.class.pool }
func (f *Frame) This() *Object        { return f.locals.Ref(0) }
func (f *Frame) IsInterpreted() bool  { return f.kind == InterpreterFrame }
