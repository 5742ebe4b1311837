package vm

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ---------------------------------------------------------------------------
// Throwing
// ---------------------------------------------------------------------------

// throwNew constructs an instance of the named throwable class with msg as
// its detail message and throws it. An empty msg leaves the message null.
func (t *Thread) throwNew(class, msg string) {
	t.throwObject(t.newThrowable(class, msg, nil))
}

// throwError delivers a Go-side failure to Java code.
func (t *Thread) throwError(err error) {
	switch e := err.(type) {
	case *VMError:
		var cause *Object
		var te *ThrowableError
		if errors.As(e.Cause, &te) {
			cause = te.Object
		}
		t.throwObject(t.newThrowable(e.Class, e.Message, cause))
		return
	case *ThrowableError:
		t.throwObject(e.Object)
		return
	case *FatalError:
		panic(e)
	case *ExitError:
		panic(e)
	}
	var ve *VMError
	if errors.As(err, &ve) {
		t.throwError(ve)
		return
	}
	t.throwNew(InternalError, err.Error())
}

func (t *Thread) throwStackOverflow() {
	t.throwObject(t.newThrowable(StackOverflowError, "", nil))
}

// newThrowable loads, initializes and constructs a throwable. Construction
// runs inside the stack reserve so an exception raised at the depth limit
// can still be built. Failure to build the runtime's own exceptions is
// fatal.
func (t *Thread) newThrowable(class, msg string, cause *Object) *Object {
	prev := t.overflowing
	t.overflowing = true
	defer func() { t.overflowing = prev }()

	c, err := t.vm.boot.FindOrCreate(t, class)
	if err != nil {
		fatalf("cannot load %s to report %q: %v", class, msg, err)
	}
	if err := t.InitializeClass(c); err != nil {
		fatalf("cannot initialize %s to report %q: %v", class, msg, err)
	}
	obj := newObject(c)
	var ctor *Method
	var args []Slot
	if msg != "" {
		ctor = c.FindMethod("<init>", "(Ljava/lang/String;)V")
		args = []Slot{RefSlot(obj), RefSlot(t.vm.NewString(msg))}
	}
	if ctor == nil {
		ctor = c.FindMethod("<init>", "()V")
		args = []Slot{RefSlot(obj)}
	}
	if ctor == nil {
		fatalf("%s has no usable constructor", class)
	}
	if _, err := t.Invoke(ctor, args...); err != nil {
		var te *ThrowableError
		if errors.As(err, &te) {
			return te.Object
		}
		fatalf("constructing %s: %v", class, err)
	}
	if msg != "" && ctor.desc == "()V" && obj.HasField("detailMessage", "Ljava/lang/String;") {
		obj.SetRefField("detailMessage", "Ljava/lang/String;", t.vm.NewString(msg))
	}
	if cause != nil && obj.HasField("cause", "Ljava/lang/Throwable;") {
		obj.SetRefField("cause", "Ljava/lang/Throwable;", cause)
	}
	return obj
}

// throwObject unwinds to the nearest matching handler. Frames without one
// are popped; reaching a barrier or shim frame leaves ex pending for the
// embedded caller.
func (t *Thread) throwObject(ex *Object) {
	if ex == nil {
		ex = t.newThrowable(NullPointerException, "", nil)
	}
	for {
		f := t.TopFrame()
		if f == nil || f.kind != InterpreterFrame {
			t.pending = ex
			return
		}
		if f.pc >= 0 {
			if pc, ok := t.findHandler(f, ex); ok {
				f.stack.Clear()
				f.stack.PushRef(ex)
				f.nextPC = pc
				return
			}
		}
		t.popFrame()
		if m := f.method; m.isClinit() && m.class.initThread == t {
			ex = t.failInitialization(m.class, ex)
		}
	}
}

func (t *Thread) findHandler(f *Frame, ex *Object) (int, bool) {
	for _, h := range f.method.handlers {
		if f.pc < h.StartPC || f.pc >= h.EndPC {
			continue
		}
		if h.CatchType == 0 {
			return h.HandlerPC, true
		}
		catch, err := f.Pool().ClassRef(int(h.CatchType)).Resolve(t)
		if err != nil {
			interpLog.Debugf("%s: skipping handler at %d: %v", f.method, h.HandlerPC, err)
			continue
		}
		if catch.IsAssignableFrom(ex.class) {
			return h.HandlerPC, true
		}
	}
	return 0, false
}

// failInitialization marks c erroneous. A throwable that is not an Error is
// wrapped in ExceptionInInitializerError.
func (t *Thread) failInitialization(c *Class, ex *Object) *Object {
	c.finishInit(StateErroneous)
	interpLog.Debugf("initialization of %s failed with %s", c.name, ex.class.name)
	errClass, err := t.vm.boot.FindOrCreate(t, "java/lang/Error")
	if err != nil || errClass.IsAssignableFrom(ex.class) {
		return ex
	}
	eiie, err := t.vm.boot.FindOrCreate(t, ExceptionInInitializerError)
	if err != nil {
		return ex
	}
	ctor := eiie.FindMethod("<init>", "(Ljava/lang/Throwable;)V")
	if ctor == nil || t.InitializeClass(eiie) != nil {
		return ex
	}
	obj := newObject(eiie)
	if _, err := t.Invoke(ctor, RefSlot(obj), RefSlot(ex)); err != nil {
		var te *ThrowableError
		if errors.As(err, &te) {
			return te.Object
		}
		return ex
	}
	return obj
}

// ---------------------------------------------------------------------------
// Stack traces
// ---------------------------------------------------------------------------

// StackTraceElement is one captured frame.
type StackTraceElement struct {
	Class  string
	Method string
	File   string
	Line   int
}

func (e StackTraceElement) String() string {
	var loc string
	switch {
	case e.Line == -2:
		loc = "(Native Method)"
	case e.File != "" && e.Line >= 0:
		loc = "(" + e.File + ":" + strconv.Itoa(e.Line) + ")"
	case e.File != "":
		loc = "(" + e.File + ")"
	default:
		loc = "(Unknown Source)"
	}
	return e.Class + "." + e.Method + loc
}

type throwableMeta struct {
	trace []StackTraceElement
}

// captureStackTrace walks the frame stack from the top, skipping the frames
// that run fillInStackTrace and the constructors of ex itself.
func (t *Thread) captureStackTrace(ex *Object) []StackTraceElement {
	i := len(t.frames) - 1
	skip := func(match func(f *Frame) bool) {
		for ; i >= 0; i-- {
			f := t.frames[i]
			if f.kind != InterpreterFrame {
				continue
			}
			if !match(f) {
				return
			}
		}
	}
	skip(func(f *Frame) bool { return f.method.name == "fillInStackTrace" })
	skip(func(f *Frame) bool {
		return f.method.isInit() && len(f.locals) > 0 && f.locals.Ref(0) == ex
	})
	var trace []StackTraceElement
	for ; i >= 0; i-- {
		f := t.frames[i]
		if f.kind != InterpreterFrame {
			continue
		}
		trace = append(trace, StackTraceElement{
			Class:  f.method.class.JavaName(),
			Method: f.method.name,
			File:   f.method.class.sourceFile,
			Line:   f.method.LineNumber(f.pc),
		})
	}
	return trace
}

// StackTrace returns the frames captured for a throwable, if any.
func StackTrace(ex *Object) []StackTraceElement {
	if meta, ok := ex.extra.(*throwableMeta); ok {
		return meta.trace
	}
	return nil
}

func throwableMessage(ex *Object) string {
	if !ex.HasField("detailMessage", "Ljava/lang/String;") {
		return ""
	}
	return GoString(ex.GetRefField("detailMessage", "Ljava/lang/String;"))
}

func throwableCause(ex *Object) *Object {
	if !ex.HasField("cause", "Ljava/lang/Throwable;") {
		return nil
	}
	cause := ex.GetRefField("cause", "Ljava/lang/Throwable;")
	if cause == ex {
		return nil
	}
	return cause
}

func describeThrowable(ex *Object) string {
	if msg := throwableMessage(ex); msg != "" {
		return ex.class.JavaName() + ": " + msg
	}
	return ex.class.JavaName()
}

// PrintStackTrace writes ex, its captured frames and its cause chain in the
// familiar "\tat class.method(file:line)" form.
func PrintStackTrace(w io.Writer, ex *Object) {
	fmt.Fprintln(w, describeThrowable(ex))
	for _, e := range StackTrace(ex) {
		fmt.Fprintf(w, "\tat %s\n", e)
	}
	seen := map[*Object]bool{ex: true}
	for cause := throwableCause(ex); cause != nil && !seen[cause]; cause = throwableCause(cause) {
		seen[cause] = true
		fmt.Fprintf(w, "Caused by: %s\n", describeThrowable(cause))
		for _, e := range StackTrace(cause) {
			fmt.Fprintf(w, "\tat %s\n", e)
		}
	}
}
