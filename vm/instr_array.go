package vm

import (
	"strconv"

	"github.com/chazu/kopi/classfile"
)

// Array element loads and stores. Every access null-checks the array and
// bounds-checks the index before touching storage.

func init() {
	define(classfile.OpIaload, nil, func(f *Frame, _ *Instr) {
		if a, i, ok := arrayLoad(f); ok {
			f.stack.PushInt(a.Ints()[i])
		}
	})
	define(classfile.OpLaload, nil, func(f *Frame, _ *Instr) {
		if a, i, ok := arrayLoad(f); ok {
			f.stack.PushLong(a.Longs()[i])
		}
	})
	define(classfile.OpFaload, nil, func(f *Frame, _ *Instr) {
		if a, i, ok := arrayLoad(f); ok {
			f.stack.PushFloat(a.Floats()[i])
		}
	})
	define(classfile.OpDaload, nil, func(f *Frame, _ *Instr) {
		if a, i, ok := arrayLoad(f); ok {
			f.stack.PushDouble(a.Doubles()[i])
		}
	})
	define(classfile.OpAaload, nil, func(f *Frame, _ *Instr) {
		if a, i, ok := arrayLoad(f); ok {
			f.stack.PushRef(a.Refs()[i])
		}
	})
	define(classfile.OpBaload, nil, func(f *Frame, _ *Instr) {
		if a, i, ok := arrayLoad(f); ok {
			f.stack.PushInt(int32(a.Bytes()[i]))
		}
	})
	define(classfile.OpCaload, nil, func(f *Frame, _ *Instr) {
		if a, i, ok := arrayLoad(f); ok {
			f.stack.PushInt(int32(a.Chars()[i]))
		}
	})
	define(classfile.OpSaload, nil, func(f *Frame, _ *Instr) {
		if a, i, ok := arrayLoad(f); ok {
			f.stack.PushInt(int32(a.Shorts()[i]))
		}
	})

	define(classfile.OpIastore, nil, func(f *Frame, _ *Instr) {
		v := f.stack.PopInt()
		if a, i, ok := arrayLoad(f); ok {
			a.Ints()[i] = v
		}
	})
	define(classfile.OpLastore, nil, func(f *Frame, _ *Instr) {
		v := f.stack.PopLong()
		if a, i, ok := arrayLoad(f); ok {
			a.Longs()[i] = v
		}
	})
	define(classfile.OpFastore, nil, func(f *Frame, _ *Instr) {
		v := f.stack.PopFloat()
		if a, i, ok := arrayLoad(f); ok {
			a.Floats()[i] = v
		}
	})
	define(classfile.OpDastore, nil, func(f *Frame, _ *Instr) {
		v := f.stack.PopDouble()
		if a, i, ok := arrayLoad(f); ok {
			a.Doubles()[i] = v
		}
	})
	define(classfile.OpBastore, nil, func(f *Frame, _ *Instr) {
		v := f.stack.PopInt()
		if a, i, ok := arrayLoad(f); ok {
			if a.class.name == "[Z" {
				v &= 1
			}
			a.Bytes()[i] = int8(v)
		}
	})
	define(classfile.OpCastore, nil, func(f *Frame, _ *Instr) {
		v := f.stack.PopInt()
		if a, i, ok := arrayLoad(f); ok {
			a.Chars()[i] = uint16(v)
		}
	})
	define(classfile.OpSastore, nil, func(f *Frame, _ *Instr) {
		v := f.stack.PopInt()
		if a, i, ok := arrayLoad(f); ok {
			a.Shorts()[i] = int16(v)
		}
	})
	define(classfile.OpAastore, nil, execAastore)
}

// arrayLoad pops an index and an array reference and validates them. On
// failure the matching exception has been thrown.
func arrayLoad(f *Frame) (*Object, int32, bool) {
	i := f.stack.PopInt()
	a := f.stack.PopRef()
	if !checkIndex(f.thread, a, i) {
		return nil, 0, false
	}
	return a, i, true
}

func checkIndex(t *Thread, a *Object, i int32) bool {
	if a == nil {
		t.throwNew(NullPointerException, "")
		return false
	}
	if i < 0 || i >= a.ArrayLength() {
		t.throwNew(ArrayIndexOutOfBoundsException, strconv.Itoa(int(i)))
		return false
	}
	return true
}

// execAastore stores into a reference array after checking that the value
// is assignable to the array's component type.
func execAastore(f *Frame, _ *Instr) {
	v := f.stack.PopRef()
	a, i, ok := arrayLoad(f)
	if !ok {
		return
	}
	if v != nil && !a.class.component.IsAssignableFrom(v.class) {
		f.thread.throwNew(ArrayStoreException, v.class.JavaName())
		return
	}
	a.Refs()[i] = v
}
