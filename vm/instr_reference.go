package vm

import (
	"strconv"

	"github.com/chazu/kopi/classfile"
)

// Field access, object and array creation, type checks, athrow and monitors.

func init() {
	define(classfile.OpGetstatic, decodeU16Index, execGetstatic)
	define(classfile.OpPutstatic, decodeU16Index, execPutstatic)
	define(classfile.OpGetfield, decodeU16Index, execGetfield)
	define(classfile.OpPutfield, decodeU16Index, execPutfield)

	define(classfile.OpNew, decodeU16Index, execNew)
	define(classfile.OpNewarray,
		func(r *classfile.CodeReader, in *Instr) { in.Const = int32(r.ReadU8()) },
		execNewarray)
	define(classfile.OpAnewarray, decodeU16Index, execAnewarray)
	define(classfile.OpMultianewarray,
		func(r *classfile.CodeReader, in *Instr) {
			in.Index = int(r.ReadU16())
			in.Count = int(r.ReadU8())
		},
		execMultianewarray)
	define(classfile.OpArraylength, nil, func(f *Frame, _ *Instr) {
		a := f.stack.PopRef()
		if a == nil {
			f.thread.throwNew(NullPointerException, "")
			return
		}
		f.stack.PushInt(a.ArrayLength())
	})

	define(classfile.OpCheckcast, decodeU16Index, execCheckcast)
	define(classfile.OpInstanceof, decodeU16Index, execInstanceof)
	define(classfile.OpAthrow, nil, func(f *Frame, _ *Instr) {
		f.thread.throwObject(f.stack.PopRef())
	})

	// Threads are not preempted, so monitors only check for null.
	execMonitor := func(f *Frame, _ *Instr) {
		if f.stack.PopRef() == nil {
			f.thread.throwNew(NullPointerException, "")
		}
	}
	define(classfile.OpMonitorenter, nil, execMonitor)
	define(classfile.OpMonitorexit, nil, execMonitor)
}

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

func resolveField(f *Frame, index int, static bool) (*Field, bool) {
	t := f.thread
	fld, err := f.Pool().FieldRef(index).Resolve(t)
	if err != nil {
		t.throwError(err)
		return nil, false
	}
	if fld.IsStatic() != static {
		kind := "static"
		if !static {
			kind = "non-static"
		}
		t.throwNew(IncompatibleClassChangeError, "Expected "+kind+" field "+fld.class.JavaName()+"."+fld.name)
		return nil, false
	}
	return fld, true
}

// checkFinalStore allows writes to a final field only from the declaring
// class's initializer of the matching kind.
func checkFinalStore(f *Frame, fld *Field, initializer string) bool {
	if !fld.IsFinal() {
		return true
	}
	if f.method.class == fld.class && f.method.name == initializer {
		return true
	}
	f.thread.throwNew(IllegalAccessError, "Update to final field "+fld.class.JavaName()+"."+fld.name+
		" attempted from "+f.method.class.JavaName()+"."+f.method.name)
	return false
}

func execGetstatic(f *Frame, in *Instr) {
	fld, ok := resolveField(f, in.Index, true)
	if !ok || !f.thread.ensureInitialized(f, fld.class) {
		return
	}
	vars := fld.class.staticVars
	f.stack.Push(vars[fld.slotID])
	if fld.IsWide() {
		f.stack.Push(vars[fld.slotID+1])
	}
}

func execPutstatic(f *Frame, in *Instr) {
	fld, ok := resolveField(f, in.Index, true)
	if !ok || !checkFinalStore(f, fld, "<clinit>") || !f.thread.ensureInitialized(f, fld.class) {
		return
	}
	vars := fld.class.staticVars
	if fld.IsWide() {
		vars[fld.slotID+1] = f.stack.Pop()
	}
	vars[fld.slotID] = f.stack.Pop()
}

func execGetfield(f *Frame, in *Instr) {
	fld, ok := resolveField(f, in.Index, false)
	if !ok {
		return
	}
	obj := f.stack.PopRef()
	if !checkReceiver(f, fld.class, fld.flags, obj) {
		return
	}
	f.stack.Push(obj.fields[fld.slotID])
	if fld.IsWide() {
		f.stack.Push(obj.fields[fld.slotID+1])
	}
}

func execPutfield(f *Frame, in *Instr) {
	fld, ok := resolveField(f, in.Index, false)
	if !ok || !checkFinalStore(f, fld, "<init>") {
		return
	}
	var hi Slot
	if fld.IsWide() {
		hi = f.stack.Pop()
	}
	lo := f.stack.Pop()
	obj := f.stack.PopRef()
	if !checkReceiver(f, fld.class, fld.flags, obj) {
		return
	}
	obj.fields[fld.slotID] = lo
	if fld.IsWide() {
		obj.fields[fld.slotID+1] = hi
	}
}

// checkReceiver throws NullPointerException for a null receiver and
// IllegalAccessError when a protected member is reached through a receiver
// that is not an instance of the accessing class.
func checkReceiver(f *Frame, decl *Class, flags classfile.AccessFlags, obj *Object) bool {
	if obj == nil {
		f.thread.throwNew(NullPointerException, "")
		return false
	}
	if !protectedReceiverOK(f.method.class, decl, flags, obj) {
		f.thread.throwNew(IllegalAccessError, "protected member of "+decl.JavaName()+
			" accessed through "+obj.class.JavaName()+" from "+f.method.class.JavaName())
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

func execNew(f *Frame, in *Instr) {
	t := f.thread
	c, err := f.Pool().ClassRef(in.Index).Resolve(t)
	if err != nil {
		t.throwError(err)
		return
	}
	if c.IsInterface() || c.IsAbstract() {
		t.throwNew(InstantiationError, c.JavaName())
		return
	}
	if !t.ensureInitialized(f, c) {
		return
	}
	f.stack.PushRef(newObject(c))
}

func execNewarray(f *Frame, in *Instr) {
	t := f.thread
	name, ok := classfile.ArrayTypeDescriptor(uint8(in.Const))
	if !ok {
		fatalf("%s: newarray with type %d at pc %d", f.method, in.Const, f.pc)
	}
	n := f.stack.PopInt()
	if n < 0 {
		t.throwNew(NegativeArraySizeException, strconv.Itoa(int(n)))
		return
	}
	c, err := t.vm.boot.FindOrCreate(t, name)
	if err != nil {
		t.throwError(err)
		return
	}
	f.stack.PushRef(newArray(c, n))
}

func execAnewarray(f *Frame, in *Instr) {
	t := f.thread
	n := f.stack.PopInt()
	comp, err := f.Pool().ClassRef(in.Index).Resolve(t)
	if err != nil {
		t.throwError(err)
		return
	}
	if n < 0 {
		t.throwNew(NegativeArraySizeException, strconv.Itoa(int(n)))
		return
	}
	c, err := comp.ArrayClass(t)
	if err != nil {
		t.throwError(err)
		return
	}
	f.stack.PushRef(newArray(c, n))
}

func execMultianewarray(f *Frame, in *Instr) {
	t := f.thread
	counts := make([]int32, in.Count)
	for i := in.Count - 1; i >= 0; i-- {
		counts[i] = f.stack.PopInt()
	}
	c, err := f.Pool().ClassRef(in.Index).Resolve(t)
	if err != nil {
		t.throwError(err)
		return
	}
	for _, n := range counts {
		if n < 0 {
			t.throwNew(NegativeArraySizeException, strconv.Itoa(int(n)))
			return
		}
	}
	f.stack.PushRef(newMultiArray(c, counts))
}

// newMultiArray allocates nested arrays; dimensions beyond counts are left
// null.
func newMultiArray(c *Class, counts []int32) *Object {
	arr := newArray(c, counts[0])
	if len(counts) > 1 {
		refs := arr.Refs()
		for i := range refs {
			refs[i] = newMultiArray(c.component, counts[1:])
		}
	}
	return arr
}

// ---------------------------------------------------------------------------
// Type checks
// ---------------------------------------------------------------------------

func execCheckcast(f *Frame, in *Instr) {
	t := f.thread
	obj := f.stack.Peek(0).Ref()
	c, err := f.Pool().ClassRef(in.Index).Resolve(t)
	if err != nil {
		t.throwError(err)
		return
	}
	if obj != nil && !c.IsAssignableFrom(obj.class) {
		t.throwNew(ClassCastException, obj.class.JavaName()+" cannot be cast to "+c.JavaName())
	}
}

func execInstanceof(f *Frame, in *Instr) {
	t := f.thread
	obj := f.stack.PopRef()
	c, err := f.Pool().ClassRef(in.Index).Resolve(t)
	if err != nil {
		t.throwError(err)
		return
	}
	f.stack.PushBool(obj != nil && c.IsAssignableFrom(obj.class))
}
