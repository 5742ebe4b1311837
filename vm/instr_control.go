package vm

import "github.com/chazu/kopi/classfile"

// Branches, subroutines, switches and returns. Branch offsets are relative
// to the address of the branching instruction.

func init() {
	defineIf := func(op classfile.Opcode, cond func(v int32) bool) {
		define(op, decodeBranch16, func(f *Frame, in *Instr) {
			if cond(f.stack.PopInt()) {
				f.nextPC = f.pc + int(in.Const)
			}
		})
	}
	defineIf(classfile.OpIfeq, func(v int32) bool { return v == 0 })
	defineIf(classfile.OpIfne, func(v int32) bool { return v != 0 })
	defineIf(classfile.OpIflt, func(v int32) bool { return v < 0 })
	defineIf(classfile.OpIfge, func(v int32) bool { return v >= 0 })
	defineIf(classfile.OpIfgt, func(v int32) bool { return v > 0 })
	defineIf(classfile.OpIfle, func(v int32) bool { return v <= 0 })

	defineIfCmp := func(op classfile.Opcode, cond func(a, b int32) bool) {
		define(op, decodeBranch16, func(f *Frame, in *Instr) {
			b := f.stack.PopInt()
			a := f.stack.PopInt()
			if cond(a, b) {
				f.nextPC = f.pc + int(in.Const)
			}
		})
	}
	defineIfCmp(classfile.OpIfIcmpeq, func(a, b int32) bool { return a == b })
	defineIfCmp(classfile.OpIfIcmpne, func(a, b int32) bool { return a != b })
	defineIfCmp(classfile.OpIfIcmplt, func(a, b int32) bool { return a < b })
	defineIfCmp(classfile.OpIfIcmpge, func(a, b int32) bool { return a >= b })
	defineIfCmp(classfile.OpIfIcmpgt, func(a, b int32) bool { return a > b })
	defineIfCmp(classfile.OpIfIcmple, func(a, b int32) bool { return a <= b })

	defineIfRef := func(op classfile.Opcode, cond func(a, b *Object) bool) {
		define(op, decodeBranch16, func(f *Frame, in *Instr) {
			b := f.stack.PopRef()
			a := f.stack.PopRef()
			if cond(a, b) {
				f.nextPC = f.pc + int(in.Const)
			}
		})
	}
	defineIfRef(classfile.OpIfAcmpeq, func(a, b *Object) bool { return a == b })
	defineIfRef(classfile.OpIfAcmpne, func(a, b *Object) bool { return a != b })

	define(classfile.OpIfnull, decodeBranch16, func(f *Frame, in *Instr) {
		if f.stack.PopRef() == nil {
			f.nextPC = f.pc + int(in.Const)
		}
	})
	define(classfile.OpIfnonnull, decodeBranch16, func(f *Frame, in *Instr) {
		if f.stack.PopRef() != nil {
			f.nextPC = f.pc + int(in.Const)
		}
	})

	define(classfile.OpGoto, decodeBranch16, execGoto)
	define(classfile.OpGotoW, decodeBranch32, execGoto)

	// A return address is an int slot holding the pc after the jsr.
	define(classfile.OpJsr, decodeBranch16, execJsr)
	define(classfile.OpJsrW, decodeBranch32, execJsr)
	define(classfile.OpRet, decodeU8Index, func(f *Frame, in *Instr) {
		f.nextPC = int(f.locals.Int(in.Index))
	})

	define(classfile.OpTableswitch,
		func(r *classfile.CodeReader, in *Instr) { in.Switch = r.ReadTableSwitch() },
		execSwitch)
	define(classfile.OpLookupswitch,
		func(r *classfile.CodeReader, in *Instr) { in.Switch = r.ReadLookupSwitch() },
		execSwitch)

	define(classfile.OpIreturn, nil, execReturn(1))
	define(classfile.OpFreturn, nil, execReturn(1))
	define(classfile.OpAreturn, nil, execReturn(1))
	define(classfile.OpLreturn, nil, execReturn(2))
	define(classfile.OpDreturn, nil, execReturn(2))
	define(classfile.OpReturn, nil, execReturn(0))
}

func execGoto(f *Frame, in *Instr) {
	f.nextPC = f.pc + int(in.Const)
}

func execJsr(f *Frame, in *Instr) {
	f.stack.PushInt(int32(f.nextPC))
	f.nextPC = f.pc + int(in.Const)
}

func execSwitch(f *Frame, in *Instr) {
	f.nextPC = f.pc + int(in.Switch.Target(f.stack.PopInt()))
}

// execReturn pops the frame and moves width result slots onto the caller's
// stack, which for an embedded call is the shim frame.
func execReturn(width int) execFunc {
	return func(f *Frame, _ *Instr) {
		var result [2]Slot
		for i := width - 1; i >= 0; i-- {
			result[i] = f.stack.Pop()
		}
		t := f.thread
		t.popFrame()
		if m := f.method; m.isClinit() && m.class.initThread == t {
			m.class.initialized()
		}
		caller := t.TopFrame()
		if caller == nil {
			return
		}
		for i := 0; i < width; i++ {
			caller.stack.Push(result[i])
		}
	}
}
