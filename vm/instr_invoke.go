package vm

import "github.com/chazu/kopi/classfile"

// Method invocation and the native-method intrinsic.

func init() {
	define(classfile.OpInvokestatic, decodeU16Index, execInvokestatic)
	define(classfile.OpInvokespecial, decodeU16Index, execInvokespecial)
	define(classfile.OpInvokevirtual, decodeU16Index, execInvokevirtual)
	define(classfile.OpInvokeinterface, func(r *classfile.CodeReader, in *Instr) {
		in.Index = int(r.ReadU16())
		in.Count = int(r.ReadU8())
		r.ReadU8()
	}, execInvokeinterface)
	define(classfile.OpInvokedynamic, func(r *classfile.CodeReader, in *Instr) {
		in.Index = int(r.ReadU16())
		r.ReadU16()
	}, func(f *Frame, _ *Instr) {
		f.thread.throwNew(InternalError, "invokedynamic is not supported")
	})
	define(classfile.OpIntrinsic, nil, execIntrinsic)
}

func resolveMethod(f *Frame, index int) (*MethodRef, *Method, bool) {
	ref := f.Pool().MethodRef(index)
	m, err := ref.Resolve(f.thread)
	if err != nil {
		f.thread.throwError(err)
		return nil, nil, false
	}
	return ref, m, true
}

func expectInstance(f *Frame, m *Method) bool {
	if m.IsStatic() {
		f.thread.throwNew(IncompatibleClassChangeError, "Expected non-static method "+m.String())
		return false
	}
	return true
}

func execInvokestatic(f *Frame, in *Instr) {
	t := f.thread
	_, m, ok := resolveMethod(f, in.Index)
	if !ok {
		return
	}
	if !m.IsStatic() {
		t.throwNew(IncompatibleClassChangeError, "Expected static method "+m.String())
		return
	}
	if !t.ensureInitialized(f, m.class) {
		return
	}
	t.invokeMethod(f, m)
}

// execInvokespecial calls constructors, private methods and superclass
// methods. With ACC_SUPER set on the caller, a call naming a superclass is
// re-resolved from the caller's direct superclass.
func execInvokespecial(f *Frame, in *Instr) {
	t := f.thread
	ref, m, ok := resolveMethod(f, in.Index)
	if !ok || !expectInstance(f, m) {
		return
	}
	resolved := ref.ResolvedClass()
	if m.isInit() && m.class != resolved {
		t.throwNew(NoSuchMethodError, resolved.JavaName()+"."+m.name+m.desc)
		return
	}
	recv := f.stack.Peek(m.argSlotCount - 1).Ref()
	if !checkReceiver(f, m.class, m.flags, recv) {
		return
	}
	target := m
	caller := f.method.class
	if !m.isInit() && !resolved.IsInterface() && caller.flags.IsSuper() && caller.IsSubclassOf(resolved) {
		target = caller.super.LookupMethod(m.name, m.desc)
		if target == nil {
			t.throwNew(AbstractMethodError, m.String())
			return
		}
	}
	t.invokeMethod(f, target)
}

func execInvokevirtual(f *Frame, in *Instr) {
	t := f.thread
	_, m, ok := resolveMethod(f, in.Index)
	if !ok || !expectInstance(f, m) {
		return
	}
	recv := f.stack.Peek(m.argSlotCount - 1).Ref()
	if !checkReceiver(f, m.class, m.flags, recv) {
		return
	}
	target := m
	if !m.IsPrivate() {
		target = recv.class.LookupMethod(m.name, m.desc)
		if target == nil {
			t.throwNew(AbstractMethodError, recv.class.JavaName()+"."+m.name+m.desc)
			return
		}
	}
	t.invokeMethod(f, target)
}

func execInvokeinterface(f *Frame, in *Instr) {
	t := f.thread
	ref, m, ok := resolveMethod(f, in.Index)
	if !ok || !expectInstance(f, m) {
		return
	}
	recv := f.stack.Peek(m.argSlotCount - 1).Ref()
	if recv == nil {
		t.throwNew(NullPointerException, "")
		return
	}
	iface := ref.ResolvedClass()
	if !iface.IsAssignableFrom(recv.class) {
		t.throwNew(IncompatibleClassChangeError, "Class "+recv.class.JavaName()+
			" does not implement the requested interface "+iface.JavaName())
		return
	}
	target := m
	if !m.IsPrivate() {
		target = recv.class.LookupMethod(m.name, m.desc)
		if target == nil {
			t.throwNew(AbstractMethodError, recv.class.JavaName()+"."+m.name+m.desc)
			return
		}
		if !target.IsPublic() {
			t.throwNew(IllegalAccessError, target.String())
			return
		}
	}
	t.invokeMethod(f, target)
}

// execIntrinsic runs the Go implementation bound to a native method. The
// instruction after it is the method's return.
func execIntrinsic(f *Frame, _ *Instr) {
	m := f.method
	fn := m.native
	if fn == nil {
		fn = LookupNative(m.class.name, m.name, m.desc)
		if fn == nil {
			if m.desc != "()V" || (m.name != "registerNatives" && m.name != "initIDs") {
				f.thread.throwNew(UnsatisfiedLinkError, m.class.JavaName()+"."+m.name+m.desc)
				return
			}
			fn = func(*Frame) {}
		}
		m.native = fn
	}
	fn(f)
}
