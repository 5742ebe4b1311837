package vm

import "github.com/chazu/kopi/classfile"

// Operand stack manipulation. These work on raw slots, so a long or double
// is moved as its two halves.

func init() {
	define(classfile.OpPop, nil, func(f *Frame, _ *Instr) { f.stack.Pop() })
	define(classfile.OpPop2, nil, func(f *Frame, _ *Instr) {
		f.stack.Pop()
		f.stack.Pop()
	})
	define(classfile.OpDup, nil, func(f *Frame, _ *Instr) { f.stack.Push(f.stack.Peek(0)) })
	define(classfile.OpDupX1, nil, func(f *Frame, _ *Instr) {
		v1 := f.stack.Pop()
		v2 := f.stack.Pop()
		pushAll(&f.stack, v1, v2, v1)
	})
	define(classfile.OpDupX2, nil, func(f *Frame, _ *Instr) {
		v1 := f.stack.Pop()
		v2 := f.stack.Pop()
		v3 := f.stack.Pop()
		pushAll(&f.stack, v1, v3, v2, v1)
	})
	define(classfile.OpDup2, nil, func(f *Frame, _ *Instr) {
		v1 := f.stack.Peek(0)
		v2 := f.stack.Peek(1)
		pushAll(&f.stack, v2, v1)
	})
	define(classfile.OpDup2X1, nil, func(f *Frame, _ *Instr) {
		v1 := f.stack.Pop()
		v2 := f.stack.Pop()
		v3 := f.stack.Pop()
		pushAll(&f.stack, v2, v1, v3, v2, v1)
	})
	define(classfile.OpDup2X2, nil, func(f *Frame, _ *Instr) {
		v1 := f.stack.Pop()
		v2 := f.stack.Pop()
		v3 := f.stack.Pop()
		v4 := f.stack.Pop()
		pushAll(&f.stack, v2, v1, v4, v3, v2, v1)
	})
	define(classfile.OpSwap, nil, func(f *Frame, _ *Instr) {
		v1 := f.stack.Pop()
		v2 := f.stack.Pop()
		pushAll(&f.stack, v1, v2)
	})
}

func pushAll(s *OperandStack, vs ...Slot) {
	for _, v := range vs {
		s.Push(v)
	}
}
