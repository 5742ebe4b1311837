package vm

import "math"

// OperandStack is a frame's bounded evaluation stack. Overflow and
// underflow mean malformed code or a broken interpreter and are fatal.
type OperandStack struct {
	slots []Slot
	size  int
}

func newOperandStack(max int) OperandStack {
	return OperandStack{slots: make([]Slot, max)}
}

func (s *OperandStack) Size() int { return s.size }
func (s *OperandStack) Cap() int  { return len(s.slots) }

func (s *OperandStack) Push(v Slot) {
	if s.size >= len(s.slots) {
		fatalf("operand stack overflow (max %d)", len(s.slots))
	}
	s.slots[s.size] = v
	s.size++
}

func (s *OperandStack) Pop() Slot {
	if s.size == 0 {
		fatalf("operand stack underflow")
	}
	s.size--
	v := s.slots[s.size]
	s.slots[s.size] = Slot{}
	return v
}

// Peek returns the slot n positions below the top; Peek(0) is the top.
func (s *OperandStack) Peek(n int) Slot {
	if n < 0 || n >= s.size {
		fatalf("operand stack peek %d with size %d", n, s.size)
	}
	return s.slots[s.size-1-n]
}

// Clear drops every value.
func (s *OperandStack) Clear() {
	for i := 0; i < s.size; i++ {
		s.slots[i] = Slot{}
	}
	s.size = 0
}

// PopInto moves the top len(dst) slots into dst, preserving their order.
func (s *OperandStack) PopInto(dst []Slot) {
	n := len(dst)
	if n > s.size {
		fatalf("operand stack underflow popping %d of %d", n, s.size)
	}
	base := s.size - n
	copy(dst, s.slots[base:s.size])
	for i := base; i < s.size; i++ {
		s.slots[i] = Slot{}
	}
	s.size = base
}

// Slots returns the live portion of the stack, bottom first.
func (s *OperandStack) Slots() []Slot {
	return s.slots[:s.size]
}

func (s *OperandStack) PushInt(v int32)     { s.Push(Slot{num: v}) }
func (s *OperandStack) PopInt() int32       { return s.Pop().num }
func (s *OperandStack) PushRef(o *Object)   { s.Push(Slot{ref: o}) }
func (s *OperandStack) PopRef() *Object     { return s.Pop().ref }
func (s *OperandStack) PushBool(b bool)     { s.Push(BoolSlot(b)) }
func (s *OperandStack) PushFloat(v float32) { s.Push(FloatSlot(v)) }
func (s *OperandStack) PopFloat() float32   { return s.Pop().Float() }

func (s *OperandStack) PushLong(v int64) {
	lo, hi := LongSlots(v)
	s.Push(lo)
	s.Push(hi)
}

func (s *OperandStack) PopLong() int64 {
	hi := s.Pop()
	lo := s.Pop()
	return JoinLong(lo, hi)
}

func (s *OperandStack) PushDouble(v float64) {
	s.PushLong(int64(math.Float64bits(v)))
}

func (s *OperandStack) PopDouble() float64 {
	return math.Float64frombits(uint64(s.PopLong()))
}
