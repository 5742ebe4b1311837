package vm

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/chazu/kopi/classfile"
	"github.com/chazu/kopi/classpath"
)

// ---------------------------------------------------------------------------
// A minimal class library assembled in memory
// ---------------------------------------------------------------------------

const (
	accPub       = classfile.AccPublic
	accPubSuper  = classfile.AccPublic | classfile.AccSuper
	accPubStatic = classfile.AccPublic | classfile.AccStatic
	accPubNative = classfile.AccPublic | classfile.AccNative
	accStaticNat = classfile.AccPublic | classfile.AccStatic | classfile.AccNative
	accInterface = classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract
	accAbstract  = classfile.AccPublic | classfile.AccAbstract

	objectClass = "java/lang/Object"
	stringDesc  = "Ljava/lang/String;"
)

// hiddenClasses holds class bytes served by kopitest/MemLoader, keyed by
// binary name.
var hiddenClasses sync.Map

func init() {
	RegisterNative("kopitest/Out", "println", "(Ljava/lang/String;)V", func(f *Frame) {
		fmt.Fprintln(f.VM().stdout, GoString(f.locals.Ref(0)))
	})
	RegisterNative("kopitest/Out", "println", "(I)V", func(f *Frame) {
		fmt.Fprintln(f.VM().stdout, f.locals.Int(0))
	})
	RegisterNative("kopitest/Out", "println", "(J)V", func(f *Frame) {
		fmt.Fprintln(f.VM().stdout, f.locals.Long(0))
	})
	RegisterNative("kopitest/Out", "println", "(D)V", func(f *Frame) {
		fmt.Fprintln(f.VM().stdout, f.locals.Double(0))
	})
	// depth reports the caller's operand stack size at the call.
	RegisterNative("kopitest/Out", "depth", "()I", func(f *Frame) {
		frames := f.thread.frames
		f.stack.PushInt(int32(frames[len(frames)-2].stack.Size()))
	})
	RegisterNative("kopitest/MemLoader", "bytesFor", "(Ljava/lang/String;)[B", func(f *Frame) {
		v, ok := hiddenClasses.Load(GoString(f.locals.Ref(0)))
		if !ok {
			f.stack.PushRef(nil)
			return
		}
		data := v.([]byte)
		c, ok := f.loadBoot("[B")
		if !ok {
			return
		}
		arr := newArray(c, int32(len(data)))
		for i, b := range data {
			arr.Bytes()[i] = int8(b)
		}
		f.stack.PushRef(arr)
	})
}

func mustCode(cb *classfile.CodeBuilder) *classfile.CodeAttribute {
	attr, err := cb.Build()
	if err != nil {
		panic(err)
	}
	return attr
}

// testLib is an in-memory class path with a small java/lang plus whatever
// classes a test adds.
type testLib struct {
	*classpath.MemoryEntry
}

func newTestLib() *testLib {
	lib := &testLib{classpath.NewMemoryEntry("testlib")}
	lib.addCore()
	return lib
}

func (l *testLib) add(b *classfile.ClassBuilder) {
	cf := b.Build()
	l.Add(cf.ClassName(), classfile.Encode(cf))
}

// addCtor gives c a public no-argument constructor chaining to super.
func addCtor(c *classfile.ClassBuilder, super string) {
	c.AddMethod(accPub, "<init>", "()V", mustCode(c.Code().
		Emit(classfile.OpAload0).
		Invoke(classfile.OpInvokespecial, super, "<init>", "()V").
		Emit(classfile.OpReturn)))
}

// newPlainClass starts a public class with a default constructor.
func newPlainClass(name, super string) *classfile.ClassBuilder {
	c := classfile.NewClassBuilder(name, super, accPubSuper)
	addCtor(c, super)
	return c
}

// throwableSubclass builds an exception class with the three usual
// constructors delegating to super.
func throwableSubclass(name, super string) *classfile.ClassBuilder {
	c := classfile.NewClassBuilder(name, super, accPubSuper)
	for _, desc := range []string{"()V", "(Ljava/lang/String;)V", "(Ljava/lang/String;Ljava/lang/Throwable;)V"} {
		n, _ := classfile.ArgSlotCount(desc, false)
		cb := c.Code()
		for i := 0; i < n; i++ {
			cb.EmitLocal(classfile.OpAload, i)
		}
		cb.Invoke(classfile.OpInvokespecial, super, "<init>", desc).Emit(classfile.OpReturn)
		c.AddMethod(accPub, "<init>", desc, mustCode(cb))
	}
	return c
}

// emitThrowNew emits "throw new class(msg)".
func emitThrowNew(cb *classfile.CodeBuilder, class, msg string) *classfile.CodeBuilder {
	cb.TypeOp(classfile.OpNew, class).Emit(classfile.OpDup)
	if msg == "" {
		cb.Invoke(classfile.OpInvokespecial, class, "<init>", "()V")
	} else {
		cb.PushString(msg).Invoke(classfile.OpInvokespecial, class, "<init>", "(Ljava/lang/String;)V")
	}
	return cb.Emit(classfile.OpAthrow)
}

// emitPrint emits kopitest/Out.println for the value on top of the stack.
func emitPrint(cb *classfile.CodeBuilder, desc string) *classfile.CodeBuilder {
	return cb.Invoke(classfile.OpInvokestatic, "kopitest/Out", "println", "("+desc+")V")
}

func (l *testLib) addCore() {
	const (
		str       = "java/lang/String"
		throwable = "java/lang/Throwable"
	)
	// java/lang/Object
	obj := classfile.NewClassBuilder(objectClass, "", accPubSuper)
	obj.AddMethod(accPub, "<init>", "()V", mustCode(obj.Code().Emit(classfile.OpReturn)))
	obj.AddMethod(classfile.AccPrivate|classfile.AccStatic|classfile.AccNative, "registerNatives", "()V", nil)
	obj.AddMethod(classfile.AccStatic, "<clinit>", "()V", mustCode(obj.Code().
		Invoke(classfile.OpInvokestatic, objectClass, "registerNatives", "()V").
		Emit(classfile.OpReturn)))
	obj.AddMethod(accPubNative, "hashCode", "()I", nil)
	obj.AddMethod(accPubNative|classfile.AccFinal, "getClass", "()Ljava/lang/Class;", nil)
	obj.AddMethod(classfile.AccProtected|classfile.AccNative, "clone", "()Ljava/lang/Object;", nil)
	eq := obj.Code()
	ne := eq.NewLabel()
	eq.Emit(classfile.OpAload0, classfile.OpAload1).EmitJump(classfile.OpIfAcmpne, ne).
		Emit(classfile.OpIconst1, classfile.OpIreturn).
		Mark(ne).Emit(classfile.OpIconst0, classfile.OpIreturn)
	obj.AddMethod(accPub, "equals", "(Ljava/lang/Object;)Z", mustCode(eq))
	l.add(obj)

	// java/lang/Class
	cls := classfile.NewClassBuilder("java/lang/Class", objectClass, accPubSuper|classfile.AccFinal)
	cls.AddField(classfile.AccPrivate, "classLoader", "Ljava/lang/ClassLoader;")
	for _, m := range []struct {
		flags      classfile.AccessFlags
		name, desc string
	}{
		{classfile.AccPrivate | classfile.AccNative, "getName0", "()Ljava/lang/String;"},
		{accPubNative, "isInterface", "()Z"},
		{accPubNative, "isArray", "()Z"},
		{accPubNative, "isPrimitive", "()Z"},
		{accPubNative, "getSuperclass", "()Ljava/lang/Class;"},
		{accPubNative, "getComponentType", "()Ljava/lang/Class;"},
		{accPubNative, "getModifiers", "()I"},
		{accPubNative, "isAssignableFrom", "(Ljava/lang/Class;)Z"},
		{accPubNative, "isInstance", "(Ljava/lang/Object;)Z"},
		{classfile.AccNative, "getClassLoader0", "()Ljava/lang/ClassLoader;"},
		{accStaticNat, "getPrimitiveClass", "(Ljava/lang/String;)Ljava/lang/Class;"},
		{classfile.AccPrivate | classfile.AccStatic | classfile.AccNative, "forName0",
			"(Ljava/lang/String;ZLjava/lang/ClassLoader;Ljava/lang/Class;)Ljava/lang/Class;"},
	} {
		cls.AddMethod(m.flags, m.name, m.desc, nil)
	}
	cls.AddMethod(accPub, "getName", "()Ljava/lang/String;", mustCode(cls.Code().
		Emit(classfile.OpAload0).
		Invoke(classfile.OpInvokevirtual, "java/lang/Class", "getName0", "()Ljava/lang/String;").
		Emit(classfile.OpAreturn)))
	cls.AddMethod(accPubStatic, "forName", "(Ljava/lang/String;)Ljava/lang/Class;", mustCode(cls.Code().
		Emit(classfile.OpAload0, classfile.OpIconst1, classfile.OpAconstNull, classfile.OpAconstNull).
		Invoke(classfile.OpInvokestatic, "java/lang/Class", "forName0",
			"(Ljava/lang/String;ZLjava/lang/ClassLoader;Ljava/lang/Class;)Ljava/lang/Class;").
		Emit(classfile.OpAreturn)))
	l.add(cls)

	// java/lang/String
	s := classfile.NewClassBuilder(str, objectClass, accPubSuper|classfile.AccFinal)
	s.AddInterface("java/io/Serializable")
	s.AddField(classfile.AccPrivate|classfile.AccFinal, "value", "[C")
	s.AddMethod(accPub, "<init>", "([C)V", mustCode(s.Code().
		Emit(classfile.OpAload0).
		Invoke(classfile.OpInvokespecial, objectClass, "<init>", "()V").
		Emit(classfile.OpAload0, classfile.OpAload1).
		Field(classfile.OpPutfield, str, "value", "[C").
		Emit(classfile.OpReturn)))
	s.AddMethod(accPub, "length", "()I", mustCode(s.Code().
		Emit(classfile.OpAload0).Field(classfile.OpGetfield, str, "value", "[C").
		Emit(classfile.OpArraylength, classfile.OpIreturn)))
	s.AddMethod(accPub, "charAt", "(I)C", mustCode(s.Code().
		Emit(classfile.OpAload0).Field(classfile.OpGetfield, str, "value", "[C").
		Emit(classfile.OpIload1, classfile.OpCaload, classfile.OpIreturn)))
	s.AddMethod(accPub, "toString", "()Ljava/lang/String;", mustCode(s.Code().
		Emit(classfile.OpAload0, classfile.OpAreturn)))
	s.AddMethod(accPubNative, "intern", "()Ljava/lang/String;", nil)
	cc := s.Code().SetMaxLocals(3)
	value := func(load classfile.Opcode) {
		cc.Emit(load).Field(classfile.OpGetfield, str, "value", "[C")
	}
	arraycopy := func() {
		cc.Invoke(classfile.OpInvokestatic, "java/lang/System", "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V")
	}
	value(classfile.OpAload0)
	cc.Emit(classfile.OpArraylength)
	value(classfile.OpAload1)
	cc.Emit(classfile.OpArraylength, classfile.OpIadd).EmitU8(classfile.OpNewarray, 5).Emit(classfile.OpAstore2)
	value(classfile.OpAload0)
	cc.Emit(classfile.OpIconst0, classfile.OpAload2, classfile.OpIconst0)
	value(classfile.OpAload0)
	cc.Emit(classfile.OpArraylength)
	arraycopy()
	value(classfile.OpAload1)
	cc.Emit(classfile.OpIconst0, classfile.OpAload2)
	value(classfile.OpAload0)
	cc.Emit(classfile.OpArraylength)
	value(classfile.OpAload1)
	cc.Emit(classfile.OpArraylength)
	arraycopy()
	cc.TypeOp(classfile.OpNew, str).Emit(classfile.OpDup, classfile.OpAload2).
		Invoke(classfile.OpInvokespecial, str, "<init>", "([C)V").
		Emit(classfile.OpAreturn)
	s.AddMethod(accPub, "concat", "(Ljava/lang/String;)Ljava/lang/String;", mustCode(cc))
	l.add(s)

	// java/lang/System
	sys := classfile.NewClassBuilder("java/lang/System", objectClass, accPubSuper|classfile.AccFinal)
	sys.AddMethod(accStaticNat, "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", nil)
	sys.AddMethod(accStaticNat, "currentTimeMillis", "()J", nil)
	sys.AddMethod(accStaticNat, "nanoTime", "()J", nil)
	sys.AddMethod(accStaticNat, "identityHashCode", "(Ljava/lang/Object;)I", nil)
	l.add(sys)

	// Marker interfaces
	for _, name := range []string{"java/lang/Cloneable", "java/io/Serializable", "java/lang/Runnable"} {
		i := classfile.NewClassBuilder(name, objectClass, accInterface)
		if name == "java/lang/Runnable" {
			i.AddMethod(accAbstract, "run", "()V", nil)
		}
		l.add(i)
	}

	// java/lang/Throwable
	th := classfile.NewClassBuilder(throwable, objectClass, accPubSuper)
	th.AddInterface("java/io/Serializable")
	th.AddField(classfile.AccPrivate, "detailMessage", stringDesc)
	th.AddField(classfile.AccPrivate, "cause", "Ljava/lang/Throwable;")
	throwableCtor := func(desc string, msgLocal, causeLocal int) {
		cb := th.Code()
		cb.Emit(classfile.OpAload0).Invoke(classfile.OpInvokespecial, objectClass, "<init>", "()V")
		if msgLocal > 0 {
			cb.Emit(classfile.OpAload0).EmitLocal(classfile.OpAload, msgLocal).
				Field(classfile.OpPutfield, throwable, "detailMessage", stringDesc)
		}
		if causeLocal > 0 {
			cb.Emit(classfile.OpAload0).EmitLocal(classfile.OpAload, causeLocal).
				Field(classfile.OpPutfield, throwable, "cause", "Ljava/lang/Throwable;")
		}
		cb.Emit(classfile.OpAload0).
			Invoke(classfile.OpInvokevirtual, throwable, "fillInStackTrace", "()Ljava/lang/Throwable;").
			Emit(classfile.OpPop, classfile.OpReturn)
		th.AddMethod(accPub, "<init>", desc, mustCode(cb))
	}
	throwableCtor("()V", 0, 0)
	throwableCtor("(Ljava/lang/String;)V", 1, 0)
	throwableCtor("(Ljava/lang/String;Ljava/lang/Throwable;)V", 1, 2)
	throwableCtor("(Ljava/lang/Throwable;)V", 0, 1)
	th.AddMethod(accPubNative, "fillInStackTrace", "()Ljava/lang/Throwable;", nil)
	th.AddMethod(classfile.AccNative, "getStackTraceDepth", "()I", nil)
	th.AddMethod(classfile.AccNative, "getStackTraceElement", "(I)Ljava/lang/StackTraceElement;", nil)
	th.AddMethod(accPub, "getMessage", "()Ljava/lang/String;", mustCode(th.Code().
		Emit(classfile.OpAload0).Field(classfile.OpGetfield, throwable, "detailMessage", stringDesc).
		Emit(classfile.OpAreturn)))
	th.AddMethod(accPub, "getCause", "()Ljava/lang/Throwable;", mustCode(th.Code().
		Emit(classfile.OpAload0).Field(classfile.OpGetfield, throwable, "cause", "Ljava/lang/Throwable;").
		Emit(classfile.OpAreturn)))
	l.add(th)

	const (
		exception   = "java/lang/Exception"
		runtimeExc  = "java/lang/RuntimeException"
		errorClass  = "java/lang/Error"
		vmError     = "java/lang/VirtualMachineError"
		indexBounds = "java/lang/IndexOutOfBoundsException"
		reflective  = "java/lang/ReflectiveOperationException"
	)
	for _, e := range []struct{ name, super string }{
		{exception, throwable},
		{runtimeExc, exception},
		{errorClass, throwable},
		{LinkageError, errorClass},
		{NoClassDefFoundError, LinkageError},
		{ClassFormatError, LinkageError},
		{UnsupportedClassVersionError, ClassFormatError},
		{ClassCircularityError, LinkageError},
		{IncompatibleClassChangeError, LinkageError},
		{NoSuchFieldError, IncompatibleClassChangeError},
		{NoSuchMethodError, IncompatibleClassChangeError},
		{IllegalAccessError, IncompatibleClassChangeError},
		{AbstractMethodError, IncompatibleClassChangeError},
		{InstantiationError, IncompatibleClassChangeError},
		{UnsatisfiedLinkError, LinkageError},
		{VerifyError, LinkageError},
		{vmError, errorClass},
		{InternalError, vmError},
		{StackOverflowError, vmError},
		{OutOfMemoryError, vmError},
		{NullPointerException, runtimeExc},
		{ArithmeticException, runtimeExc},
		{indexBounds, runtimeExc},
		{ArrayIndexOutOfBoundsException, indexBounds},
		{ArrayStoreException, runtimeExc},
		{ClassCastException, runtimeExc},
		{NegativeArraySizeException, runtimeExc},
		{IllegalArgumentException, runtimeExc},
		{"java/lang/IllegalThreadStateException", IllegalArgumentException},
		{"java/lang/IllegalMonitorStateException", runtimeExc},
		{reflective, exception},
		{ClassNotFoundException, reflective},
		{CloneNotSupportedException, exception},
		{InterruptedException, exception},
		{IOException, exception},
		{FileNotFoundException, IOException},
	} {
		l.add(throwableSubclass(e.name, e.super))
	}
	eiie := throwableSubclass(ExceptionInInitializerError, LinkageError)
	eiie.AddMethod(accPub, "<init>", "(Ljava/lang/Throwable;)V", mustCode(eiie.Code().
		Emit(classfile.OpAload0, classfile.OpAconstNull, classfile.OpAload1).
		Invoke(classfile.OpInvokespecial, LinkageError, "<init>", "(Ljava/lang/String;Ljava/lang/Throwable;)V").
		Emit(classfile.OpReturn)))
	l.add(eiie)

	// java/lang/StackTraceElement
	ste := newPlainClass("java/lang/StackTraceElement", objectClass)
	ste.AddField(classfile.AccPrivate, "declaringClass", stringDesc)
	ste.AddField(classfile.AccPrivate, "methodName", stringDesc)
	ste.AddField(classfile.AccPrivate, "fileName", stringDesc)
	ste.AddField(classfile.AccPrivate, "lineNumber", "I")
	l.add(ste)

	// java/lang/ClassLoader
	cl := classfile.NewClassBuilder("java/lang/ClassLoader", objectClass, accPubSuper|classfile.AccAbstract)
	cl.AddMethod(classfile.AccProtected, "<init>", "()V", mustCode(cl.Code().
		Emit(classfile.OpAload0).
		Invoke(classfile.OpInvokespecial, objectClass, "<init>", "()V").
		Emit(classfile.OpReturn)))
	cl.AddMethod(accAbstract, "loadClass", "(Ljava/lang/String;)Ljava/lang/Class;", nil)
	protNative := classfile.AccProtected | classfile.AccFinal | classfile.AccNative
	cl.AddMethod(protNative, "findBootstrapClass", "(Ljava/lang/String;)Ljava/lang/Class;", nil)
	cl.AddMethod(protNative, "findLoadedClass0", "(Ljava/lang/String;)Ljava/lang/Class;", nil)
	cl.AddMethod(protNative, "defineClass1",
		"(Ljava/lang/String;[BIILjava/security/ProtectionDomain;Ljava/lang/String;)Ljava/lang/Class;", nil)
	l.add(cl)

	// kopitest/Out
	out := classfile.NewClassBuilder("kopitest/Out", objectClass, accPubSuper)
	for _, desc := range []string{"(Ljava/lang/String;)V", "(I)V", "(J)V", "(D)V"} {
		out.AddMethod(accStaticNat, "println", desc, nil)
	}
	out.AddMethod(accStaticNat, "depth", "()I", nil)
	l.add(out)
}

// addMemLoader adds kopitest/MemLoader, a class loader that defines the
// classes in hiddenClasses and delegates everything else to the bootstrap
// loader.
func (l *testLib) addMemLoader() {
	const name = "kopitest/MemLoader"
	c := classfile.NewClassBuilder(name, "java/lang/ClassLoader", accPubSuper)
	addCtor(c, "java/lang/ClassLoader")
	c.AddMethod(accStaticNat, "bytesFor", "(Ljava/lang/String;)[B", nil)
	cb := c.Code().SetMaxLocals(3)
	define := cb.NewLabel()
	cb.Emit(classfile.OpAload1).
		Invoke(classfile.OpInvokestatic, name, "bytesFor", "(Ljava/lang/String;)[B").
		Emit(classfile.OpAstore2, classfile.OpAload2).
		EmitJump(classfile.OpIfnonnull, define).
		Emit(classfile.OpAload0, classfile.OpAload1).
		Invoke(classfile.OpInvokevirtual, "java/lang/ClassLoader", "findBootstrapClass", "(Ljava/lang/String;)Ljava/lang/Class;").
		Emit(classfile.OpAreturn).
		Mark(define).
		Emit(classfile.OpAload0, classfile.OpAload1, classfile.OpAload2, classfile.OpIconst0, classfile.OpAload2,
			classfile.OpArraylength, classfile.OpAconstNull, classfile.OpAconstNull).
		Invoke(classfile.OpInvokevirtual, "java/lang/ClassLoader", "defineClass1",
			"(Ljava/lang/String;[BIILjava/security/ProtectionDomain;Ljava/lang/String;)Ljava/lang/Class;").
		Emit(classfile.OpAreturn)
	c.AddMethod(accPub, "loadClass", "(Ljava/lang/String;)Ljava/lang/Class;", mustCode(cb))
	l.add(c)
}

// addThreads adds java/lang/Thread and java/lang/ThreadGroup, enough for
// the main thread object and Thread.start.
func (l *testLib) addThreads() {
	const (
		thread = "java/lang/Thread"
		group  = "java/lang/ThreadGroup"
		groupD = "Ljava/lang/ThreadGroup;"
	)
	g := classfile.NewClassBuilder(group, objectClass, accPubSuper)
	addCtor(g, objectClass)
	g.AddField(classfile.AccPrivate, "name", stringDesc)
	g.AddMethod(accPub, "<init>", "(Ljava/lang/ThreadGroup;Ljava/lang/String;)V", mustCode(g.Code().
		Emit(classfile.OpAload0).
		Invoke(classfile.OpInvokespecial, objectClass, "<init>", "()V").
		Emit(classfile.OpAload0, classfile.OpAload2).
		Field(classfile.OpPutfield, group, "name", stringDesc).
		Emit(classfile.OpReturn)))
	l.add(g)

	t := classfile.NewClassBuilder(thread, objectClass, accPubSuper)
	t.AddInterface("java/lang/Runnable")
	t.AddField(classfile.AccPrivate, "name", stringDesc)
	t.AddField(classfile.AccPrivate, "priority", "I")
	t.AddField(classfile.AccPrivate, "group", groupD)
	t.AddField(classfile.AccPrivate, "target", "Ljava/lang/Runnable;")
	t.AddMethod(accPub, "<init>", "(Ljava/lang/ThreadGroup;Ljava/lang/String;)V", mustCode(t.Code().
		Emit(classfile.OpAload0).
		Invoke(classfile.OpInvokespecial, objectClass, "<init>", "()V").
		Emit(classfile.OpAload0, classfile.OpAload1).
		Field(classfile.OpPutfield, thread, "group", groupD).
		Emit(classfile.OpAload0, classfile.OpAload2).
		Field(classfile.OpPutfield, thread, "name", stringDesc).
		Emit(classfile.OpReturn)))
	t.AddMethod(accPub, "<init>", "(Ljava/lang/Runnable;)V", mustCode(t.Code().
		Emit(classfile.OpAload0).
		Invoke(classfile.OpInvokespecial, objectClass, "<init>", "()V").
		Emit(classfile.OpAload0, classfile.OpAload1).
		Field(classfile.OpPutfield, thread, "target", "Ljava/lang/Runnable;").
		Emit(classfile.OpReturn)))
	run := t.Code()
	none := run.NewLabel()
	run.Emit(classfile.OpAload0).
		Field(classfile.OpGetfield, thread, "target", "Ljava/lang/Runnable;").
		Emit(classfile.OpDup).
		EmitJump(classfile.OpIfnull, none).
		Invoke(classfile.OpInvokeinterface, "java/lang/Runnable", "run", "()V").
		Emit(classfile.OpReturn).
		Mark(none).
		Emit(classfile.OpPop, classfile.OpReturn)
	t.AddMethod(accPub, "run", "()V", mustCode(run))
	t.AddMethod(accPub, "start", "()V", mustCode(t.Code().
		Emit(classfile.OpAload0).
		Invoke(classfile.OpInvokespecial, thread, "start0", "()V").
		Emit(classfile.OpReturn)))
	t.AddMethod(classfile.AccPrivate|classfile.AccNative, "start0", "()V", nil)
	t.AddMethod(accStaticNat, "currentThread", "()Ljava/lang/Thread;", nil)
	t.AddMethod(accStaticNat, "yield", "()V", nil)
	t.AddMethod(accPubNative|classfile.AccFinal, "isAlive", "()Z", nil)
	join := t.Code()
	loop, done := join.NewLabel(), join.NewLabel()
	join.Mark(loop).
		Emit(classfile.OpAload0).
		Invoke(classfile.OpInvokevirtual, thread, "isAlive", "()Z").
		EmitJump(classfile.OpIfeq, done).
		Invoke(classfile.OpInvokestatic, thread, "yield", "()V").
		EmitJump(classfile.OpGoto, loop).
		Mark(done).
		Emit(classfile.OpReturn)
	t.AddMethod(accPub|classfile.AccFinal, "join", "()V", mustCode(join))
	t.AddMethod(accPub, "getName", "()Ljava/lang/String;", mustCode(t.Code().
		Emit(classfile.OpAload0).
		Field(classfile.OpGetfield, thread, "name", stringDesc).
		Emit(classfile.OpAreturn)))
	l.add(t)
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	t      *testing.T
	lib    *testLib
	vm     *VM
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	n      int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, newTestLib(), Options{})
}

// newHarnessWith starts a VM over lib. Zero-valued options get test
// defaults.
func newHarnessWith(t *testing.T, lib *testLib, opts Options) *harness {
	t.Helper()
	h := &harness{t: t, lib: lib, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	opts.ClassPath = lib.MemoryEntry
	opts.Stdout = h.stdout
	opts.Stderr = h.stderr
	if opts.MaxStackDepth == 0 {
		opts.MaxStackDepth = 256
	}
	v, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := v.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.vm = v
	return h
}

func (h *harness) thread() *Thread { return h.vm.mainThread }

// define adds b to the class path and loads it through the bootstrap loader.
func (h *harness) define(b *classfile.ClassBuilder) *Class {
	h.t.Helper()
	cf := b.Build()
	h.lib.Add(cf.ClassName(), classfile.Encode(cf))
	return h.load(cf.ClassName())
}

func (h *harness) load(name string) *Class {
	h.t.Helper()
	c, err := h.vm.boot.FindOrCreate(h.thread(), name)
	if err != nil {
		h.t.Fatalf("FindOrCreate(%s) error = %v", name, err)
	}
	return c
}

// call wraps emitted code in a static method run with descriptor desc on a
// fresh class and invokes it. setup may add members to the class.
func (h *harness) call(desc string, emit func(cb *classfile.CodeBuilder), setup ...func(c *classfile.ClassBuilder)) ([]Slot, error) {
	h.t.Helper()
	h.n++
	name := fmt.Sprintf("kopitest/Eval%d", h.n)
	c := classfile.NewClassBuilder(name, objectClass, accPubSuper)
	for _, s := range setup {
		s(c)
	}
	cb := c.Code()
	emit(cb)
	c.AddMethod(accPubStatic, "run", desc, mustCode(cb))
	cls := h.define(c)
	return h.thread().InvokeStatic(cls, "run", desc)
}

func (h *harness) mustCall(desc string, emit func(cb *classfile.CodeBuilder), setup ...func(c *classfile.ClassBuilder)) []Slot {
	h.t.Helper()
	ret, err := h.call(desc, emit, setup...)
	if err != nil {
		h.t.Fatalf("run%s error = %v", desc, err)
	}
	return ret
}

func (h *harness) evalInt(emit func(cb *classfile.CodeBuilder)) int32 {
	h.t.Helper()
	return h.mustCall("()I", emit)[0].Int()
}

func (h *harness) evalLong(emit func(cb *classfile.CodeBuilder)) int64 {
	h.t.Helper()
	ret := h.mustCall("()J", emit)
	return JoinLong(ret[0], ret[1])
}

func (h *harness) evalFloat(emit func(cb *classfile.CodeBuilder)) float32 {
	h.t.Helper()
	return h.mustCall("()F", emit)[0].Float()
}

func (h *harness) evalDouble(emit func(cb *classfile.CodeBuilder)) float64 {
	h.t.Helper()
	ret := h.mustCall("()D", emit)
	return JoinDouble(ret[0], ret[1])
}

func (h *harness) evalRef(emit func(cb *classfile.CodeBuilder)) *Object {
	h.t.Helper()
	return h.mustCall("()Ljava/lang/Object;", emit)[0].Ref()
}

// expectThrow runs a ()V body and checks that it throws class.
func (h *harness) expectThrow(class string, emit func(cb *classfile.CodeBuilder), setup ...func(c *classfile.ClassBuilder)) *Object {
	h.t.Helper()
	_, err := h.call("()V", emit, setup...)
	if err == nil {
		h.t.Fatalf("run()V returned normally, want %s", class)
	}
	if !IsJavaClass(err, class) {
		h.t.Fatalf("run()V error = %v, want %s", err, class)
	}
	te, _ := err.(*ThrowableError)
	if te == nil {
		return nil
	}
	return te.Object
}

// staticInt reads a static int field of c.
func staticInt(c *Class, name string) int32 {
	f := c.FindField(name, "I")
	if f == nil {
		return -1
	}
	return c.staticVars.Int(f.slotID)
}
