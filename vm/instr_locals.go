package vm

import (
	"github.com/chazu/kopi/classfile"
)

// Local variable loads and stores, iinc and the wide prefix.

func init() {
	single := []classfile.Opcode{classfile.OpIload, classfile.OpFload, classfile.OpAload}
	double := []classfile.Opcode{classfile.OpLload, classfile.OpDload}
	for _, op := range single {
		define(op, decodeU8Index, execLoad1)
	}
	for _, op := range double {
		define(op, decodeU8Index, execLoad2)
	}
	shortForms := []struct {
		first classfile.Opcode
		exec  execFunc
	}{
		{classfile.OpIload0, execLoad1},
		{classfile.OpLload0, execLoad2},
		{classfile.OpFload0, execLoad1},
		{classfile.OpDload0, execLoad2},
		{classfile.OpAload0, execLoad1},
		{classfile.OpIstore0, execStore1},
		{classfile.OpLstore0, execStore2},
		{classfile.OpFstore0, execStore1},
		{classfile.OpDstore0, execStore2},
		{classfile.OpAstore0, execStore1},
	}
	for _, sf := range shortForms {
		for n := 0; n < 4; n++ {
			define(sf.first+classfile.Opcode(n), fixedIndex(n), sf.exec)
		}
	}

	define(classfile.OpIstore, decodeU8Index, execStore1)
	define(classfile.OpFstore, decodeU8Index, execStore1)
	define(classfile.OpAstore, decodeU8Index, execStore1)
	define(classfile.OpLstore, decodeU8Index, execStore2)
	define(classfile.OpDstore, decodeU8Index, execStore2)

	define(classfile.OpIinc, func(r *classfile.CodeReader, in *Instr) {
		in.Index = int(r.ReadU8())
		in.Const = int32(r.ReadI8())
	}, execIinc)

	define(classfile.OpWide, decodeWide, execWide)
}

func execLoad1(f *Frame, in *Instr) {
	f.stack.Push(f.locals[in.Index])
}

func execLoad2(f *Frame, in *Instr) {
	f.stack.Push(f.locals[in.Index])
	f.stack.Push(f.locals[in.Index+1])
}

func execStore1(f *Frame, in *Instr) {
	f.locals[in.Index] = f.stack.Pop()
}

func execStore2(f *Frame, in *Instr) {
	hi := f.stack.Pop()
	lo := f.stack.Pop()
	f.locals[in.Index] = lo
	f.locals[in.Index+1] = hi
}

func execIinc(f *Frame, in *Instr) {
	f.locals.SetInt(in.Index, f.locals.Int(in.Index)+in.Const)
}

// decodeWide re-reads the modified instruction with a 16-bit local index,
// and a 16-bit increment for iinc.
func decodeWide(r *classfile.CodeReader, in *Instr) {
	op := r.ReadOpcode()
	switch op {
	case classfile.OpIload, classfile.OpLload, classfile.OpFload, classfile.OpDload, classfile.OpAload,
		classfile.OpIstore, classfile.OpLstore, classfile.OpFstore, classfile.OpDstore, classfile.OpAstore,
		classfile.OpRet:
		in.Index = int(r.ReadU16())
	case classfile.OpIinc:
		in.Index = int(r.ReadU16())
		in.Const = int32(r.ReadI16())
	default:
		fatalf("wide applied to %s", op)
	}
	in.Op = op
}

func execWide(f *Frame, in *Instr) {
	opcodes[in.Op].exec(f, in)
}
