package vm

import (
	"strconv"

	"github.com/chazu/kopi/classfile"
)

// Constants: nop, aconst_null, iconst/lconst/fconst/dconst, bipush, sipush
// and the ldc family.

func init() {
	define(classfile.OpNop, nil, func(*Frame, *Instr) {})
	define(classfile.OpAconstNull, nil, func(f *Frame, _ *Instr) { f.stack.PushRef(nil) })

	for v := int32(-1); v <= 5; v++ {
		v := v
		define(classfile.Opcode(int32(classfile.OpIconst0)+v), nil, func(f *Frame, _ *Instr) { f.stack.PushInt(v) })
	}
	define(classfile.OpLconst0, nil, func(f *Frame, _ *Instr) { f.stack.PushLong(0) })
	define(classfile.OpLconst1, nil, func(f *Frame, _ *Instr) { f.stack.PushLong(1) })
	define(classfile.OpFconst0, nil, func(f *Frame, _ *Instr) { f.stack.PushFloat(0) })
	define(classfile.OpFconst1, nil, func(f *Frame, _ *Instr) { f.stack.PushFloat(1) })
	define(classfile.OpFconst2, nil, func(f *Frame, _ *Instr) { f.stack.PushFloat(2) })
	define(classfile.OpDconst0, nil, func(f *Frame, _ *Instr) { f.stack.PushDouble(0) })
	define(classfile.OpDconst1, nil, func(f *Frame, _ *Instr) { f.stack.PushDouble(1) })

	define(classfile.OpBipush,
		func(r *classfile.CodeReader, in *Instr) { in.Const = int32(r.ReadI8()) },
		func(f *Frame, in *Instr) { f.stack.PushInt(in.Const) })
	define(classfile.OpSipush,
		func(r *classfile.CodeReader, in *Instr) { in.Const = int32(r.ReadI16()) },
		func(f *Frame, in *Instr) { f.stack.PushInt(in.Const) })

	define(classfile.OpLdc, decodeU8Index, execLdc)
	define(classfile.OpLdcW, decodeU16Index, execLdc)
	define(classfile.OpLdc2W, decodeU16Index, execLdc2)
}

func execLdc(f *Frame, in *Instr) {
	switch v := f.Pool().Get(in.Index).(type) {
	case int32:
		f.stack.PushInt(v)
	case float32:
		f.stack.PushFloat(v)
	case *StringRef:
		f.stack.PushRef(v.String(f.VM()))
	case *ClassRef:
		c, err := v.Resolve(f.thread)
		if err != nil {
			f.thread.throwError(err)
			return
		}
		f.stack.PushRef(c.Mirror())
	case *UnsupportedRef:
		f.thread.throwNew(InternalError, "ldc of constant tag "+strconv.Itoa(int(v.Tag))+" is not supported")
	default:
		fatalf("%s: ldc of %T at pc %d", f.method, v, f.pc)
	}
}

func execLdc2(f *Frame, in *Instr) {
	switch v := f.Pool().Get(in.Index).(type) {
	case int64:
		f.stack.PushLong(v)
	case float64:
		f.stack.PushDouble(v)
	default:
		fatalf("%s: ldc2_w of %T at pc %d", f.method, v, f.pc)
	}
}
