package vm

import (
	"strings"

	"github.com/chazu/kopi/classfile"
)

// ---------------------------------------------------------------------------
// java/lang/ClassLoader and java/lang/Package
// ---------------------------------------------------------------------------

func registerClassLoaderNatives() {
	const class = "java/lang/ClassLoader"
	RegisterNative(class, "findBootstrapClass", "(Ljava/lang/String;)Ljava/lang/Class;", func(f *Frame) {
		name := f.locals.Ref(1)
		if !f.nullCheck(name) {
			return
		}
		c, err := f.VM().boot.FindOrCreate(f.thread, classfile.InternalName(GoString(name)))
		if err != nil {
			f.stack.PushRef(nil)
			return
		}
		f.stack.PushRef(c.Mirror())
	})
	RegisterNative(class, "findLoadedClass0", "(Ljava/lang/String;)Ljava/lang/Class;", func(f *Frame) {
		name := f.locals.Ref(1)
		if !f.nullCheck(name) {
			return
		}
		l := f.VM().UserLoaderFor(f.This())
		f.stack.PushRef(mirrorOrNil(l.FindLoadedClass(classfile.InternalName(GoString(name)))))
	})
	RegisterNative(class, "defineClass1",
		"(Ljava/lang/String;[BIILjava/security/ProtectionDomain;Ljava/lang/String;)Ljava/lang/Class;",
		classLoaderDefine)
	RegisterNative(class, "findBuiltinLib", "(Ljava/lang/String;)Ljava/lang/String;", func(f *Frame) {
		f.stack.PushRef(nil)
	})

	RegisterNative("java/lang/Package", "getSystemPackage0", "(Ljava/lang/String;)Ljava/lang/String;", func(f *Frame) {
		name := f.locals.Ref(0)
		if !f.nullCheck(name) {
			return
		}
		vm := f.VM()
		pkg := strings.TrimSuffix(GoString(name), "/")
		for _, cn := range vm.boot.ClassNames() {
			if classfile.PackageName(cn) == pkg {
				f.stack.PushRef(vm.NewString(vm.boot.classPath.String()))
				return
			}
		}
		f.stack.PushRef(nil)
	})
}

// classLoaderDefine implements ClassLoader.defineClass1 for the receiver
// loader.
func classLoaderDefine(f *Frame) {
	vm := f.VM()
	nameObj := f.locals.Ref(1)
	buf := f.locals.Ref(2)
	off, n := f.locals.Int(3), f.locals.Int(4)
	if !f.nullCheck(buf) {
		return
	}
	if off < 0 || n < 0 || int64(off)+int64(n) > int64(buf.ArrayLength()) {
		f.Throw(ArrayIndexOutOfBoundsException, "")
		return
	}
	data := make([]byte, n)
	for i, b := range buf.Bytes()[off : off+n] {
		data[i] = byte(b)
	}
	var expected string
	if nameObj != nil {
		expected = classfile.InternalName(GoString(nameObj))
	}
	source := "__JVM_DefineClass__"
	if src := f.locals.Ref(6); src != nil {
		source = GoString(src)
	}
	c, err := vm.defineClass(f.thread, vm.UserLoaderFor(f.This()), expected, data, source)
	if err != nil {
		f.ThrowError(err)
		return
	}
	f.stack.PushRef(c.Mirror())
}

// ---------------------------------------------------------------------------
// sun/misc/VM, sun/reflect/Reflection, java/security/AccessController
// ---------------------------------------------------------------------------

func registerMiscNatives() {
	RegisterNative("sun/misc/VM", "initialize", "()V", func(*Frame) {})

	RegisterNative("sun/reflect/Reflection", "getCallerClass", "()Ljava/lang/Class;", func(f *Frame) {
		// Frame 0 is this native, frame 1 the method asking for its caller.
		depth := 0
		frames := f.thread.frames
		for i := len(frames) - 1; i >= 0; i-- {
			if frames[i].kind != InterpreterFrame {
				continue
			}
			if depth == 2 {
				f.stack.PushRef(frames[i].method.class.Mirror())
				return
			}
			depth++
		}
		f.stack.PushRef(nil)
	})
	RegisterNative("sun/reflect/Reflection", "getClassAccessFlags", "(Ljava/lang/Class;)I", func(f *Frame) {
		mirror := f.locals.Ref(0)
		if !f.nullCheck(mirror) {
			return
		}
		f.stack.PushInt(int32(ClassOfMirror(mirror).flags))
	})

	const ac = "java/security/AccessController"
	for _, desc := range []string{
		"(Ljava/security/PrivilegedAction;)Ljava/lang/Object;",
		"(Ljava/security/PrivilegedAction;Ljava/security/AccessControlContext;)Ljava/lang/Object;",
	} {
		RegisterNative(ac, "doPrivileged", desc, func(f *Frame) { doPrivileged(f, false) })
	}
	for _, desc := range []string{
		"(Ljava/security/PrivilegedExceptionAction;)Ljava/lang/Object;",
		"(Ljava/security/PrivilegedExceptionAction;Ljava/security/AccessControlContext;)Ljava/lang/Object;",
	} {
		RegisterNative(ac, "doPrivileged", desc, func(f *Frame) { doPrivileged(f, true) })
	}
	RegisterNative(ac, "getStackAccessControlContext", "()Ljava/security/AccessControlContext;", func(f *Frame) {
		f.stack.PushRef(nil)
	})
}

// doPrivileged runs action.run() in place. For exception actions a checked
// exception is wrapped in PrivilegedActionException.
func doPrivileged(f *Frame, wrapChecked bool) {
	action := f.locals.Ref(0)
	if !f.nullCheck(action) {
		return
	}
	ret, err := f.thread.InvokeVirtual(action, "run", "()Ljava/lang/Object;")
	if err == nil {
		f.stack.PushRef(ret[0].Ref())
		return
	}
	te, ok := err.(*ThrowableError)
	if !ok || !wrapChecked || isUnchecked(te.Object.class) {
		f.ThrowError(err)
		return
	}
	wrapper, ok := f.newInitialized("java/security/PrivilegedActionException")
	if !ok {
		return
	}
	ctor := wrapper.class.FindMethod("<init>", "(Ljava/lang/Exception;)V")
	if ctor == nil {
		f.ThrowError(err)
		return
	}
	if _, err := f.thread.Invoke(ctor, RefSlot(wrapper), RefSlot(te.Object)); err != nil {
		f.ThrowError(err)
		return
	}
	f.thread.throwObject(wrapper)
}

func isUnchecked(c *Class) bool {
	for k := c; k != nil; k = k.super {
		if k.name == "java/lang/RuntimeException" || k.name == "java/lang/Error" {
			return true
		}
	}
	return false
}
