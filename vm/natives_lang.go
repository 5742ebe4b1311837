package vm

import (
	"math"
	"strconv"

	"github.com/chazu/kopi/classfile"
)

// ---------------------------------------------------------------------------
// java/lang/Object
// ---------------------------------------------------------------------------

func registerObjectNatives() {
	const class = "java/lang/Object"
	RegisterNative(class, "hashCode", "()I", func(f *Frame) {
		f.stack.PushInt(f.This().IdentityHash())
	})
	RegisterNative(class, "getClass", "()Ljava/lang/Class;", func(f *Frame) {
		f.stack.PushRef(f.This().class.Mirror())
	})
	RegisterNative(class, "clone", "()Ljava/lang/Object;", func(f *Frame) {
		this := f.This()
		if !this.IsArray() && !implementsNamed(this.class, "java/lang/Cloneable") {
			f.Throw(CloneNotSupportedException, this.class.JavaName())
			return
		}
		f.stack.PushRef(this.Clone())
	})
	// Monitors are not contended, so there is never anyone to wake or wait for.
	RegisterNative(class, "notify", "()V", func(*Frame) {})
	RegisterNative(class, "notifyAll", "()V", func(*Frame) {})
	RegisterNative(class, "wait", "(J)V", func(f *Frame) {
		if f.locals.Long(1) < 0 {
			f.Throw(IllegalArgumentException, "timeout value is negative")
		}
	})
}

func implementsNamed(c *Class, iface string) bool {
	for k := c; k != nil; k = k.super {
		for _, i := range k.interfaces {
			if i.name == iface || implementsNamed(i, iface) {
				return true
			}
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// java/lang/Class
// ---------------------------------------------------------------------------

func registerClassNatives() {
	const class = "java/lang/Class"
	RegisterNative(class, "getPrimitiveClass", "(Ljava/lang/String;)Ljava/lang/Class;", func(f *Frame) {
		name := GoString(f.locals.Ref(0))
		c := f.VM().boot.PrimitiveClass(name)
		if c == nil {
			f.Throw(ClassNotFoundException, name)
			return
		}
		f.stack.PushRef(c.Mirror())
	})
	RegisterNative(class, "desiredAssertionStatus0", "(Ljava/lang/Class;)Z", func(f *Frame) {
		f.stack.PushBool(false)
	})
	RegisterNative(class, "getName0", "()Ljava/lang/String;", func(f *Frame) {
		f.stack.PushRef(f.VM().Intern(mirrorClass(f).JavaName()))
	})
	RegisterNative(class, "forName0",
		"(Ljava/lang/String;ZLjava/lang/ClassLoader;Ljava/lang/Class;)Ljava/lang/Class;", classForName)
	RegisterNative(class, "isInterface", "()Z", func(f *Frame) {
		f.stack.PushBool(mirrorClass(f).IsInterface())
	})
	RegisterNative(class, "isArray", "()Z", func(f *Frame) {
		f.stack.PushBool(mirrorClass(f).IsArray())
	})
	RegisterNative(class, "isPrimitive", "()Z", func(f *Frame) {
		f.stack.PushBool(mirrorClass(f).IsPrimitive())
	})
	RegisterNative(class, "getComponentType", "()Ljava/lang/Class;", func(f *Frame) {
		f.stack.PushRef(mirrorOrNil(mirrorClass(f).component))
	})
	RegisterNative(class, "getSuperclass", "()Ljava/lang/Class;", func(f *Frame) {
		c := mirrorClass(f)
		if c.IsInterface() || c.IsPrimitive() {
			f.stack.PushRef(nil)
			return
		}
		f.stack.PushRef(mirrorOrNil(c.super))
	})
	RegisterNative(class, "getInterfaces0", "()[Ljava/lang/Class;", func(f *Frame) {
		c := mirrorClass(f)
		arrClass, ok := f.loadBoot("[Ljava/lang/Class;")
		if !ok {
			return
		}
		arr := newArray(arrClass, int32(len(c.interfaces)))
		for i, iface := range c.interfaces {
			arr.Refs()[i] = iface.Mirror()
		}
		f.stack.PushRef(arr)
	})
	RegisterNative(class, "getModifiers", "()I", func(f *Frame) {
		f.stack.PushInt(int32(mirrorClass(f).flags &^ classfile.AccSuper))
	})
	RegisterNative(class, "isAssignableFrom", "(Ljava/lang/Class;)Z", func(f *Frame) {
		other := f.locals.Ref(1)
		if !f.nullCheck(other) {
			return
		}
		f.stack.PushBool(mirrorClass(f).IsAssignableFrom(ClassOfMirror(other)))
	})
	RegisterNative(class, "isInstance", "(Ljava/lang/Object;)Z", func(f *Frame) {
		obj := f.locals.Ref(1)
		f.stack.PushBool(obj != nil && obj.IsInstanceOf(mirrorClass(f)))
	})
	RegisterNative(class, "getClassLoader0", "()Ljava/lang/ClassLoader;", func(f *Frame) {
		f.stack.PushRef(mirrorClass(f).loader.Mirror())
	})
	RegisterNative(class, "getDeclaringClass0", "()Ljava/lang/Class;", func(f *Frame) {
		f.stack.PushRef(nil)
	})
	RegisterNative(class, "getDeclaredFields0", "(Z)[Ljava/lang/reflect/Field;", classDeclaredFields)
}

func mirrorClass(f *Frame) *Class {
	return ClassOfMirror(f.This())
}

func mirrorOrNil(c *Class) *Object {
	if c == nil {
		return nil
	}
	return c.Mirror()
}

// classForName loads a class by binary name through the given loader, and
// initializes it when asked.
func classForName(f *Frame) {
	t := f.thread
	nameObj := f.locals.Ref(0)
	if !f.nullCheck(nameObj) {
		return
	}
	javaName := GoString(nameObj)
	initialize := f.locals.Int(1) != 0
	l := f.VM().UserLoaderFor(f.locals.Ref(2))
	c, err := l.LoadClass(t, classfile.InternalName(javaName))
	if err != nil {
		if IsJavaClass(err, NoClassDefFoundError) {
			f.Throw(ClassNotFoundException, javaName)
			return
		}
		f.ThrowError(err)
		return
	}
	if initialize {
		if err := t.InitializeClass(c); err != nil {
			f.ThrowError(err)
			return
		}
	}
	f.stack.PushRef(c.Mirror())
}

// typeClass returns the class of a field descriptor as seen from c.
func typeClass(t *Thread, c *Class, desc string) (*Class, error) {
	if len(desc) == 1 {
		return t.vm.boot.primitiveByLetter(desc[0]), nil
	}
	return c.loader.LoadClass(t, classfile.ClassNameOf(desc))
}

// classDeclaredFields builds java.lang.reflect.Field objects. The slot
// field carries the runtime slot id, which Unsafe uses as the field offset.
func classDeclaredFields(f *Frame) {
	t := f.thread
	c := mirrorClass(f)
	publicOnly := f.locals.Int(1) != 0
	arrClass, ok := f.loadBoot("[Ljava/lang/reflect/Field;")
	if !ok {
		return
	}
	var out []*Object
	for _, fld := range c.fields {
		if publicOnly && !fld.flags.IsPublic() {
			continue
		}
		typ, err := typeClass(t, c, fld.desc)
		if err != nil {
			f.ThrowError(err)
			return
		}
		obj, ok := f.newInitialized("java/lang/reflect/Field")
		if !ok {
			return
		}
		setRefIfPresent(obj, "clazz", "Ljava/lang/Class;", c.Mirror())
		setRefIfPresent(obj, "name", "Ljava/lang/String;", f.VM().Intern(fld.name))
		setRefIfPresent(obj, "type", "Ljava/lang/Class;", typ.Mirror())
		setIntIfPresent(obj, "modifiers", int32(fld.flags))
		setIntIfPresent(obj, "slot", int32(fld.slotID))
		out = append(out, obj)
	}
	arr := newArray(arrClass, int32(len(out)))
	copy(arr.Refs(), out)
	f.stack.PushRef(arr)
}

func setRefIfPresent(o *Object, name, desc string, v *Object) {
	if o.HasField(name, desc) {
		o.SetRefField(name, desc, v)
	}
}

func setIntIfPresent(o *Object, name string, v int32) {
	if o.HasField(name, "I") {
		o.SetIntField(name, "I", v)
	}
}

// ---------------------------------------------------------------------------
// java/lang/String
// ---------------------------------------------------------------------------

func registerStringNatives() {
	RegisterNative("java/lang/String", "intern", "()Ljava/lang/String;", func(f *Frame) {
		f.stack.PushRef(f.VM().internObject(f.This()))
	})
}

// ---------------------------------------------------------------------------
// java/lang/Float, java/lang/Double, java/lang/StrictMath
// ---------------------------------------------------------------------------

func registerNumberNatives() {
	// Slots already hold raw bit patterns; the conversions copy them.
	copy1 := func(f *Frame) { f.stack.Push(f.locals[0]) }
	copy2 := func(f *Frame) {
		f.stack.Push(f.locals[0])
		f.stack.Push(f.locals[1])
	}
	RegisterNative("java/lang/Float", "floatToRawIntBits", "(F)I", copy1)
	RegisterNative("java/lang/Float", "intBitsToFloat", "(I)F", copy1)
	RegisterNative("java/lang/Double", "doubleToRawLongBits", "(D)J", copy2)
	RegisterNative("java/lang/Double", "longBitsToDouble", "(J)D", copy2)

	unary := map[string]func(float64) float64{
		"sin": math.Sin, "cos": math.Cos, "tan": math.Tan,
		"asin": math.Asin, "acos": math.Acos, "atan": math.Atan,
		"exp": math.Exp, "log": math.Log, "log10": math.Log10,
		"sqrt": math.Sqrt, "cbrt": math.Cbrt,
		"sinh": math.Sinh, "cosh": math.Cosh, "tanh": math.Tanh,
		"expm1": math.Expm1, "log1p": math.Log1p,
	}
	for name, fn := range unary {
		fn := fn
		RegisterNative("java/lang/StrictMath", name, "(D)D", func(f *Frame) {
			f.stack.PushDouble(fn(f.locals.Double(0)))
		})
	}
	binary := map[string]func(a, b float64) float64{
		"atan2": math.Atan2, "pow": math.Pow, "hypot": math.Hypot,
		"IEEEremainder": math.Remainder,
	}
	for name, fn := range binary {
		fn := fn
		RegisterNative("java/lang/StrictMath", name, "(DD)D", func(f *Frame) {
			f.stack.PushDouble(fn(f.locals.Double(0), f.locals.Double(2)))
		})
	}
}

// ---------------------------------------------------------------------------
// java/lang/Throwable
// ---------------------------------------------------------------------------

func registerThrowableNatives() {
	const class = "java/lang/Throwable"
	fill := func(f *Frame) {
		this := f.This()
		this.extra = &throwableMeta{trace: f.thread.captureStackTrace(this)}
		f.stack.PushRef(this)
	}
	RegisterNative(class, "fillInStackTrace", "(I)Ljava/lang/Throwable;", fill)
	RegisterNative(class, "fillInStackTrace", "()Ljava/lang/Throwable;", fill)
	RegisterNative(class, "getStackTraceDepth", "()I", func(f *Frame) {
		f.stack.PushInt(int32(len(StackTrace(f.This()))))
	})
	RegisterNative(class, "getStackTraceElement", "(I)Ljava/lang/StackTraceElement;", func(f *Frame) {
		trace := StackTrace(f.This())
		i := f.locals.Int(1)
		if i < 0 || int(i) >= len(trace) {
			f.Throw(ArrayIndexOutOfBoundsException, strconv.Itoa(int(i)))
			return
		}
		e := trace[i]
		obj, ok := f.newInitialized("java/lang/StackTraceElement")
		if !ok {
			return
		}
		vm := f.VM()
		setRefIfPresent(obj, "declaringClass", "Ljava/lang/String;", vm.NewString(e.Class))
		setRefIfPresent(obj, "methodName", "Ljava/lang/String;", vm.NewString(e.Method))
		if e.File != "" {
			setRefIfPresent(obj, "fileName", "Ljava/lang/String;", vm.NewString(e.File))
		}
		setIntIfPresent(obj, "lineNumber", int32(e.Line))
		f.stack.PushRef(obj)
	})
}
