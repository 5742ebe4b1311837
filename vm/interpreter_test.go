package vm

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chazu/kopi/classfile"
)

// mainClass builds a public class whose static main(String[]) body is
// emitted by body.
func mainClass(name string, body func(cb *classfile.CodeBuilder)) *classfile.ClassBuilder {
	c := newPlainClass(name, objectClass)
	cb := c.Code()
	body(cb)
	c.AddMethod(accPubStatic, "main", "([Ljava/lang/String;)V", mustCode(cb))
	return c
}

// runMain adds the classes to the library and runs name's main.
func (h *harness) runMain(name string, classes ...*classfile.ClassBuilder) error {
	h.t.Helper()
	for _, c := range classes {
		h.lib.add(c)
	}
	return h.vm.RunMain(classfile.JavaName(name), nil)
}

// ---------------------------------------------------------------------------
// End-to-end programs
// ---------------------------------------------------------------------------

func TestIntegerSum(t *testing.T) {
	h := newHarness(t)
	main := mainClass("kopitest/Sum", func(cb *classfile.CodeBuilder) {
		loop, done := cb.NewLabel(), cb.NewLabel()
		cb.Emit(classfile.OpIconst0, classfile.OpIstore1) // acc
		cb.Emit(classfile.OpIconst1, classfile.OpIstore2) // i
		cb.Mark(loop).
			Emit(classfile.OpIload2).PushInt(10).EmitJump(classfile.OpIfIcmpgt, done).
			Emit(classfile.OpIload1, classfile.OpIload2, classfile.OpIadd, classfile.OpIstore1).
			EmitIinc(2, 1).
			EmitJump(classfile.OpGoto, loop).
			Mark(done).
			Emit(classfile.OpIload1)
		emitPrint(cb, "I").Emit(classfile.OpReturn)
		cb.SetMaxLocals(3)
	})
	if err := h.runMain("kopitest/Sum", main); err != nil {
		t.Fatalf("RunMain() error = %v", err)
	}
	if got := h.stdout.String(); got != "55\n" {
		t.Errorf("stdout = %q, want %q", got, "55\n")
	}
}

func TestVirtualDispatch(t *testing.T) {
	h := newHarness(t)
	a := newPlainClass("kopitest/A", objectClass)
	a.AddMethod(accPub, "f", "()I", mustCode(a.Code().Emit(classfile.OpIconst1, classfile.OpIreturn)))
	b := newPlainClass("kopitest/B", "kopitest/A")
	b.AddMethod(accPub, "f", "()I", mustCode(b.Code().Emit(classfile.OpIconst2, classfile.OpIreturn)))
	main := mainClass("kopitest/Dispatch", func(cb *classfile.CodeBuilder) {
		cb.TypeOp(classfile.OpNew, "kopitest/B").Emit(classfile.OpDup).
			Invoke(classfile.OpInvokespecial, "kopitest/B", "<init>", "()V").
			Invoke(classfile.OpInvokevirtual, "kopitest/A", "f", "()I")
		emitPrint(cb, "I").Emit(classfile.OpReturn)
	})
	if err := h.runMain("kopitest/Dispatch", a, b, main); err != nil {
		t.Fatalf("RunMain() error = %v", err)
	}
	if got := h.stdout.String(); got != "2\n" {
		t.Errorf("stdout = %q, want %q", got, "2\n")
	}
}

func TestInterfaceDispatch(t *testing.T) {
	h := newHarness(t)
	i := classfile.NewClassBuilder("kopitest/I", objectClass, accInterface)
	i.AddMethod(accAbstract, "g", "()I", nil)
	c := newPlainClass("kopitest/C", objectClass)
	c.AddInterface("kopitest/I")
	c.AddMethod(accPub, "g", "()I", mustCode(c.Code().PushInt(42).Emit(classfile.OpIreturn)))
	main := mainClass("kopitest/Iface", func(cb *classfile.CodeBuilder) {
		cb.TypeOp(classfile.OpNew, "kopitest/C").Emit(classfile.OpDup).
			Invoke(classfile.OpInvokespecial, "kopitest/C", "<init>", "()V").
			Invoke(classfile.OpInvokeinterface, "kopitest/I", "g", "()I")
		emitPrint(cb, "I").Emit(classfile.OpReturn)
	})
	if err := h.runMain("kopitest/Iface", i, c, main); err != nil {
		t.Fatalf("RunMain() error = %v", err)
	}
	if got := h.stdout.String(); got != "42\n" {
		t.Errorf("stdout = %q, want %q", got, "42\n")
	}
}

func TestExceptionUnwindAcrossFrames(t *testing.T) {
	h := newHarness(t)
	const name = "kopitest/Unwind"
	c := newPlainClass(name, objectClass)
	c.AddMethod(accPubStatic, "bot", "()V", mustCode(emitThrowNew(c.Code(), "java/lang/RuntimeException", "")))
	c.AddMethod(accPubStatic, "mid", "()V", mustCode(c.Code().
		Invoke(classfile.OpInvokestatic, name, "bot", "()V").
		Emit(classfile.OpReturn)))
	top := c.Code()
	start, end, handler := top.NewLabel(), top.NewLabel(), top.NewLabel()
	top.Mark(start).
		Invoke(classfile.OpInvokestatic, name, "mid", "()V").
		Mark(end).
		Emit(classfile.OpReturn).
		Mark(handler).
		Invoke(classfile.OpInvokestatic, "kopitest/Out", "depth", "()I")
	emitPrint(top, "I").Emit(classfile.OpPop).PushString("caught")
	emitPrint(top, stringDesc).Emit(classfile.OpReturn)
	top.AddHandler(start, end, handler, "java/lang/RuntimeException")
	c.AddMethod(accPubStatic, "top", "()V", mustCode(top))
	c.AddMethod(accPubStatic, "main", "([Ljava/lang/String;)V", mustCode(c.Code().
		Invoke(classfile.OpInvokestatic, name, "top", "()V").
		Emit(classfile.OpReturn)))

	if err := h.runMain(name, c); err != nil {
		t.Fatalf("RunMain() error = %v", err)
	}
	// The handler sees exactly the exception on its operand stack.
	if got, want := h.stdout.String(), "1\ncaught\n"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
	if d := h.thread().Depth(); d != 0 {
		t.Errorf("frame depth after RunMain = %d, want 0", d)
	}
}

func TestClassInitializationOrder(t *testing.T) {
	h := newHarness(t)
	p := newPlainClass("kopitest/P", objectClass)
	p.AddField(accPubStatic, "x", "I")
	pInit := p.Code().PushString("P")
	emitPrint(pInit, stringDesc).
		Emit(classfile.OpIconst1).Field(classfile.OpPutstatic, "kopitest/P", "x", "I").
		Emit(classfile.OpReturn)
	p.AddMethod(classfile.AccStatic, "<clinit>", "()V", mustCode(pInit))

	q := newPlainClass("kopitest/Q", "kopitest/P")
	q.AddField(accPubStatic, "y", "I")
	qInit := q.Code().PushString("Q")
	emitPrint(qInit, stringDesc).
		Field(classfile.OpGetstatic, "kopitest/P", "x", "I").
		Emit(classfile.OpIconst1, classfile.OpIadd).
		Field(classfile.OpPutstatic, "kopitest/Q", "y", "I").
		Emit(classfile.OpReturn)
	q.AddMethod(classfile.AccStatic, "<clinit>", "()V", mustCode(qInit))

	h.lib.add(p)
	qc := h.define(q)
	pc := qc.Super()
	if pc.State() != StateLinked {
		t.Fatalf("P state before init = %v, want linked", pc.State())
	}
	for i := 0; i < 2; i++ {
		if err := h.thread().InitializeClass(qc); err != nil {
			t.Fatalf("InitializeClass(Q) error = %v", err)
		}
	}
	if got, want := h.stdout.String(), "P\nQ\n"; got != want {
		t.Errorf("initializer output = %q, want %q", got, want)
	}
	if x := staticInt(pc, "x"); x != 1 {
		t.Errorf("P.x = %d, want 1", x)
	}
	if y := staticInt(qc, "y"); y != 2 {
		t.Errorf("Q.y = %d, want 2", y)
	}
	if pc.State() != StateInitialized || qc.State() != StateInitialized {
		t.Errorf("states = %v, %v, want initialized", pc.State(), qc.State())
	}
}

func TestClassInitializationFromBytecode(t *testing.T) {
	h := newHarness(t)
	p := newPlainClass("kopitest/P2", objectClass)
	p.AddField(accPubStatic, "x", "I")
	p.AddMethod(classfile.AccStatic, "<clinit>", "()V", mustCode(p.Code().
		PushInt(40).Field(classfile.OpPutstatic, "kopitest/P2", "x", "I").
		Emit(classfile.OpReturn)))
	q := newPlainClass("kopitest/Q2", "kopitest/P2")
	q.AddField(accPubStatic, "y", "I")
	q.AddMethod(classfile.AccStatic, "<clinit>", "()V", mustCode(q.Code().
		Field(classfile.OpGetstatic, "kopitest/P2", "x", "I").
		Emit(classfile.OpIconst2, classfile.OpIadd).
		Field(classfile.OpPutstatic, "kopitest/Q2", "y", "I").
		Emit(classfile.OpReturn)))
	h.lib.add(p)
	h.lib.add(q)

	got := h.evalInt(func(cb *classfile.CodeBuilder) {
		cb.Field(classfile.OpGetstatic, "kopitest/Q2", "y", "I").Emit(classfile.OpIreturn)
	})
	if got != 42 {
		t.Errorf("Q2.y = %d, want 42", got)
	}
}

func TestInitializationByAnotherThread(t *testing.T) {
	h := newHarness(t)
	w := newPlainClass("kopitest/Slow", objectClass)
	w.AddField(accPubStatic, "x", "I")
	w.AddMethod(classfile.AccStatic, "<clinit>", "()V", mustCode(w.Code().
		PushInt(99).Field(classfile.OpPutstatic, "kopitest/Slow", "x", "I").
		Emit(classfile.OpReturn)))
	wc := h.define(w)
	reader := newPlainClass("kopitest/SlowReader", objectClass)
	reader.AddMethod(accPubStatic, "run", "()I", mustCode(reader.Code().
		Field(classfile.OpGetstatic, "kopitest/Slow", "x", "I").
		Emit(classfile.OpIreturn)))
	rc := h.define(reader)

	other := h.vm.newThread("initializer")
	if !wc.claimInit(other) {
		t.Fatalf("claimInit() failed in state %v", wc.State())
	}
	if s := wc.awaitInit(other); s != StateInitializing {
		t.Errorf("awaitInit(owner) = %v, want initializing", s)
	}

	type result struct {
		x   int32
		err error
	}
	done := make(chan result, 1)
	go func() {
		ret, err := h.thread().InvokeStatic(rc, "run", "()I")
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{x: ret[0].Int()}
	}()

	select {
	case r := <-done:
		t.Fatalf("getstatic finished during another thread's initialization: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	wc.staticVars.SetInt(wc.FindField("x", "I").slotID, 7)
	wc.finishInit(StateInitialized)

	select {
	case r := <-done:
		if r.err != nil || r.x != 7 {
			t.Errorf("run() = %d, %v, want 7 (the other thread's value)", r.x, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("getstatic still blocked after initialization finished")
	}
	if err := h.thread().InitializeClass(wc); err != nil {
		t.Errorf("InitializeClass() after completion = %v", err)
	}
}

func TestInternIdentity(t *testing.T) {
	h := newHarness(t)
	concat := func(cb *classfile.CodeBuilder) {
		cb.PushString("ab").PushString("c").
			Invoke(classfile.OpInvokevirtual, "java/lang/String", "concat", "(Ljava/lang/String;)Ljava/lang/String;")
	}
	same := func(cb *classfile.CodeBuilder) {
		ne := cb.NewLabel()
		cb.PushString("abc").EmitJump(classfile.OpIfAcmpne, ne).
			Emit(classfile.OpIconst1, classfile.OpIreturn).
			Mark(ne).Emit(classfile.OpIconst0, classfile.OpIreturn)
	}

	interned := h.evalInt(func(cb *classfile.CodeBuilder) {
		concat(cb)
		cb.Invoke(classfile.OpInvokevirtual, "java/lang/String", "intern", "()Ljava/lang/String;")
		same(cb)
	})
	if interned != 1 {
		t.Errorf(`("ab"+"c").intern() == "abc" = %d, want 1`, interned)
	}
	fresh := h.evalInt(func(cb *classfile.CodeBuilder) {
		concat(cb)
		same(cb)
	})
	if fresh != 0 {
		t.Errorf(`("ab"+"c") == "abc" = %d, want 0`, fresh)
	}
}

// ---------------------------------------------------------------------------
// RunMain diagnostics
// ---------------------------------------------------------------------------

func TestRunMainMissingClass(t *testing.T) {
	h := newHarness(t)
	err := h.vm.RunMain("kopitest.Nowhere", nil)
	if err == nil || !strings.Contains(err.Error(), "could not find or load main class kopitest.Nowhere") {
		t.Errorf("RunMain() error = %v, want missing main class", err)
	}
}

func TestRunMainMissingMethod(t *testing.T) {
	h := newHarness(t)
	err := h.runMain("kopitest/NoMain", newPlainClass("kopitest/NoMain", objectClass))
	if !errors.Is(err, ErrNoMainMethod) {
		t.Errorf("RunMain() error = %v, want ErrNoMainMethod", err)
	}
}

func TestRunMainUncaught(t *testing.T) {
	h := newHarness(t)
	main := mainClass("kopitest/Boom", func(cb *classfile.CodeBuilder) {
		emitThrowNew(cb, "java/lang/IllegalArgumentException", "boom")
	})
	err := h.runMain("kopitest/Boom", main)
	var te *ThrowableError
	if !errors.As(err, &te) {
		t.Fatalf("RunMain() error = %v, want *ThrowableError", err)
	}
	want := "Exception in thread \"main\" java.lang.IllegalArgumentException: boom\n" +
		"\tat kopitest.Boom.main(Unknown Source)\n"
	if got := h.stderr.String(); got != want {
		t.Errorf("stderr = %q, want %q", got, want)
	}
}

func TestRunMainArgs(t *testing.T) {
	h := newHarness(t)
	main := mainClass("kopitest/Args", func(cb *classfile.CodeBuilder) {
		cb.Emit(classfile.OpAload0, classfile.OpArraylength)
		emitPrint(cb, "I")
		cb.Emit(classfile.OpAload0, classfile.OpIconst1, classfile.OpAaload)
		emitPrint(cb, stringDesc).Emit(classfile.OpReturn)
	})
	h.lib.add(main)
	if err := h.vm.RunMain("kopitest.Args", []string{"one", "two"}); err != nil {
		t.Fatalf("RunMain() error = %v", err)
	}
	if got, want := h.stdout.String(), "2\ntwo\n"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}

func TestVerboseClass(t *testing.T) {
	h := newHarnessWith(t, newTestLib(), Options{VerboseClass: true})
	h.stdout.Reset()
	h.define(newPlainClass("kopitest/Loud", objectClass))
	if got, want := h.stdout.String(), "[Loaded kopitest.Loud from testlib]\n"; got != want {
		t.Errorf("verbose output = %q, want %q", got, want)
	}
}

// ---------------------------------------------------------------------------
// Embedded invocation
// ---------------------------------------------------------------------------

func TestInvokeArgumentCount(t *testing.T) {
	h := newHarness(t)
	c := newPlainClass("kopitest/Adder", objectClass)
	c.AddMethod(accPubStatic, "add", "(IJ)J", mustCode(c.Code().
		Emit(classfile.OpIload0, classfile.OpI2l, classfile.OpLload1, classfile.OpLadd, classfile.OpLreturn)))
	cls := h.define(c)
	m := cls.FindMethod("add", "(IJ)J")

	if _, err := h.thread().Invoke(m, IntSlot(1)); err == nil {
		t.Errorf("Invoke with 1 slot: want error")
	}
	lo, hi := LongSlots(1 << 40)
	ret, err := h.thread().Invoke(m, IntSlot(2), lo, hi)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got := JoinLong(ret[0], ret[1]); got != 1<<40+2 {
		t.Errorf("add(2, 1<<40) = %d, want %d", got, int64(1<<40+2))
	}
	if d := h.thread().Depth(); d != 0 {
		t.Errorf("depth after Invoke = %d, want 0", d)
	}
}

func TestStackOverflow(t *testing.T) {
	h := newHarnessWith(t, newTestLib(), Options{MaxStackDepth: 64})
	const name = "kopitest/Deep"
	c := newPlainClass(name, objectClass)
	c.AddMethod(accPubStatic, "rec", "()V", mustCode(c.Code().
		Invoke(classfile.OpInvokestatic, name, "rec", "()V").
		Emit(classfile.OpReturn)))
	cls := h.define(c)
	_, err := h.thread().InvokeStatic(cls, "rec", "()V")
	if !IsJavaClass(err, StackOverflowError) {
		t.Errorf("rec() error = %v, want StackOverflowError", err)
	}
	if d := h.thread().Depth(); d != 0 {
		t.Errorf("depth after overflow = %d, want 0", d)
	}
}

func TestExceptionAtDepthLimit(t *testing.T) {
	h := newHarnessWith(t, newTestLib(), Options{MaxStackDepth: 64})
	const name = "kopitest/DeepNull"
	c := newPlainClass(name, objectClass)
	cb := c.Code()
	recurse := cb.NewLabel()
	cb.EmitLocal(classfile.OpIload, 0).
		EmitJump(classfile.OpIfne, recurse).
		Emit(classfile.OpAconstNull, classfile.OpArraylength, classfile.OpPop, classfile.OpReturn).
		Mark(recurse).
		EmitLocal(classfile.OpIload, 0).
		PushInt(1).
		Emit(classfile.OpIsub).
		Invoke(classfile.OpInvokestatic, name, "rec", "(I)V").
		Emit(classfile.OpReturn)
	c.AddMethod(accPubStatic, "rec", "(I)V", mustCode(cb))
	cls := h.define(c)

	overflowed := -1
	for n := int32(0); n < 72; n++ {
		_, err := h.thread().InvokeStatic(cls, "rec", "(I)V", IntSlot(n))
		switch {
		case IsJavaClass(err, NullPointerException):
			if overflowed >= 0 {
				t.Errorf("rec(%d) threw NullPointerException after rec(%d) overflowed", n, overflowed)
			}
		case IsJavaClass(err, StackOverflowError):
			if overflowed < 0 {
				overflowed = int(n)
			}
		default:
			t.Fatalf("rec(%d) error = %v, want NullPointerException or StackOverflowError", n, err)
		}
		if d := h.thread().Depth(); d != 0 {
			t.Fatalf("depth after rec(%d) = %d, want 0", n, d)
		}
	}
	if overflowed <= 0 {
		t.Errorf("first overflow at rec(%d), want a NullPointerException run first", overflowed)
	}
}
