package vm

import (
	"runtime"
	"strconv"
	"time"
)

// ---------------------------------------------------------------------------
// java/lang/System
// ---------------------------------------------------------------------------

var startTime = time.Now()

func registerSystemNatives() {
	const class = "java/lang/System"
	RegisterNative(class, "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", systemArraycopy)
	RegisterNative(class, "currentTimeMillis", "()J", func(f *Frame) {
		f.stack.PushLong(time.Now().UnixMilli())
	})
	RegisterNative(class, "nanoTime", "()J", func(f *Frame) {
		f.stack.PushLong(int64(time.Since(startTime)))
	})
	RegisterNative(class, "identityHashCode", "(Ljava/lang/Object;)I", func(f *Frame) {
		o := f.locals.Ref(0)
		if o == nil {
			f.stack.PushInt(0)
			return
		}
		f.stack.PushInt(o.IdentityHash())
	})
	RegisterNative(class, "initProperties", "(Ljava/util/Properties;)Ljava/util/Properties;", systemInitProperties)
	RegisterNative(class, "setIn0", "(Ljava/io/InputStream;)V", func(f *Frame) {
		setStaticRef(f.method.class, "in", "Ljava/io/InputStream;", f.locals.Ref(0))
	})
	RegisterNative(class, "setOut0", "(Ljava/io/PrintStream;)V", func(f *Frame) {
		setStaticRef(f.method.class, "out", "Ljava/io/PrintStream;", f.locals.Ref(0))
	})
	RegisterNative(class, "setErr0", "(Ljava/io/PrintStream;)V", func(f *Frame) {
		setStaticRef(f.method.class, "err", "Ljava/io/PrintStream;", f.locals.Ref(0))
	})
	RegisterNative(class, "mapLibraryName", "(Ljava/lang/String;)Ljava/lang/String;", func(f *Frame) {
		name := f.locals.Ref(0)
		if !f.nullCheck(name) {
			return
		}
		f.stack.PushRef(f.VM().NewString("lib" + GoString(name) + ".so"))
	})
}

func setStaticRef(c *Class, name, desc string, v *Object) {
	if fld := c.FindField(name, desc); fld != nil && fld.IsStatic() {
		c.staticVars.SetRef(fld.slotID, v)
	}
}

// systemArraycopy copies between arrays of the same primitive kind, or
// between reference arrays with a per-element store check when the
// component types differ.
func systemArraycopy(f *Frame) {
	src, srcPos := f.locals.Ref(0), f.locals.Int(1)
	dst, dstPos := f.locals.Ref(2), f.locals.Int(3)
	n := f.locals.Int(4)
	if src == nil || dst == nil {
		f.Throw(NullPointerException, "")
		return
	}
	if !src.IsArray() || !dst.IsArray() {
		f.Throw(ArrayStoreException, "arraycopy: argument type mismatch")
		return
	}
	srcPrim, dstPrim := isPrimitiveArray(src.class.name), isPrimitiveArray(dst.class.name)
	if (srcPrim || dstPrim) && src.class != dst.class {
		f.Throw(ArrayStoreException, "arraycopy: type mismatch: can not copy "+
			src.class.JavaName()+" into "+dst.class.JavaName())
		return
	}
	if srcPos < 0 || dstPos < 0 || n < 0 ||
		int64(srcPos)+int64(n) > int64(src.ArrayLength()) ||
		int64(dstPos)+int64(n) > int64(dst.ArrayLength()) {
		f.Throw(ArrayIndexOutOfBoundsException, "arraycopy: last source index "+
			strconv.FormatInt(int64(srcPos)+int64(n), 10)+" out of bounds")
		return
	}
	s, d, e := int(srcPos), int(dstPos), int(srcPos)+int(n)
	switch a := src.data.(type) {
	case []int8:
		copy(dst.Bytes()[d:], a[s:e])
	case []uint16:
		copy(dst.Chars()[d:], a[s:e])
	case []int16:
		copy(dst.Shorts()[d:], a[s:e])
	case []int32:
		copy(dst.Ints()[d:], a[s:e])
	case []int64:
		copy(dst.Longs()[d:], a[s:e])
	case []float32:
		copy(dst.Floats()[d:], a[s:e])
	case []float64:
		copy(dst.Doubles()[d:], a[s:e])
	case []*Object:
		out := dst.Refs()
		dc := dst.class.component
		if dc.IsAssignableFrom(src.class.component) {
			copy(out[d:], a[s:e])
			return
		}
		for i := s; i < e; i++ {
			v := a[i]
			if v != nil && !dc.IsAssignableFrom(v.class) {
				f.Throw(ArrayStoreException, "arraycopy: element type mismatch")
				return
			}
			out[d+i-s] = v
		}
	}
}

func systemInitProperties(f *Frame) {
	props := f.locals.Ref(0)
	if !f.nullCheck(props) {
		return
	}
	vm := f.VM()
	for _, kv := range vm.systemProperties() {
		_, err := f.thread.InvokeVirtual(props, "setProperty",
			"(Ljava/lang/String;Ljava/lang/String;)Ljava/lang/Object;",
			RefSlot(vm.NewString(kv[0])), RefSlot(vm.NewString(kv[1])))
		if err != nil {
			f.ThrowError(err)
			return
		}
	}
	f.stack.PushRef(props)
}

// ---------------------------------------------------------------------------
// java/lang/Runtime and java/lang/Shutdown
// ---------------------------------------------------------------------------

func registerRuntimeNatives() {
	const class = "java/lang/Runtime"
	RegisterNative(class, "availableProcessors", "()I", func(f *Frame) {
		f.stack.PushInt(int32(runtime.NumCPU()))
	})
	memStat := func(pick func(*runtime.MemStats) uint64) NativeMethod {
		return func(f *Frame) {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			f.stack.PushLong(int64(pick(&ms)))
		}
	}
	RegisterNative(class, "freeMemory", "()J", memStat(func(ms *runtime.MemStats) uint64 { return ms.HeapIdle }))
	RegisterNative(class, "totalMemory", "()J", memStat(func(ms *runtime.MemStats) uint64 { return ms.HeapSys }))
	RegisterNative(class, "maxMemory", "()J", memStat(func(ms *runtime.MemStats) uint64 { return ms.Sys }))
	RegisterNative(class, "gc", "()V", func(*Frame) { runtime.GC() })

	RegisterNative("java/lang/Shutdown", "beforeHalt", "()V", func(*Frame) {})
	RegisterNative("java/lang/Shutdown", "halt0", "(I)V", func(f *Frame) {
		panic(&ExitError{Code: int(f.locals.Int(0))})
	})
}

// ---------------------------------------------------------------------------
// java/lang/Thread
// ---------------------------------------------------------------------------

func registerThreadNatives() {
	const class = "java/lang/Thread"
	RegisterNative(class, "currentThread", "()Ljava/lang/Thread;", func(f *Frame) {
		f.stack.PushRef(f.thread.mirror)
	})
	RegisterNative(class, "isAlive", "()Z", func(f *Frame) {
		t, ok := f.This().extra.(*Thread)
		f.stack.PushBool(ok && t.alive.Load())
	})
	RegisterNative(class, "setPriority0", "(I)V", func(*Frame) {})
	RegisterNative(class, "start0", "()V", threadStart)
	RegisterNative(class, "holdsLock", "(Ljava/lang/Object;)Z", func(f *Frame) {
		if f.nullCheck(f.locals.Ref(0)) {
			f.stack.PushBool(true)
		}
	})
	RegisterNative(class, "yield", "()V", func(*Frame) { runtime.Gosched() })
	RegisterNative(class, "sleep", "(J)V", func(f *Frame) {
		ms := f.locals.Long(0)
		if ms < 0 {
			f.Throw(IllegalArgumentException, "timeout value is negative")
			return
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
		if f.thread.interrupted.Swap(false) {
			f.Throw(InterruptedException, "sleep interrupted")
		}
	})
	RegisterNative(class, "interrupt0", "()V", func(f *Frame) {
		if t, ok := f.This().extra.(*Thread); ok {
			t.interrupted.Store(true)
		}
	})
	RegisterNative(class, "isInterrupted", "(Z)Z", func(f *Frame) {
		t, ok := f.This().extra.(*Thread)
		if !ok {
			f.stack.PushBool(false)
			return
		}
		if f.locals.Int(1) != 0 {
			f.stack.PushBool(t.interrupted.Swap(false))
			return
		}
		f.stack.PushBool(t.interrupted.Load())
	})
}

// threadStart runs the Thread object's run method on a new interpreter
// thread bound to its own goroutine.
func threadStart(f *Frame) {
	vm := f.VM()
	obj := f.This()
	if _, started := obj.extra.(*Thread); started {
		f.Throw("java/lang/IllegalThreadStateException", "")
		return
	}
	t := vm.newThread("Thread-" + strconv.FormatInt(threadIDs.Load(), 10))
	t.mirror = obj
	t.alive.Store(true)
	obj.extra = t
	vm.running.Add(1)
	go func() {
		defer vm.running.Done()
		defer t.alive.Store(false)
		vm.AttachThread(t)
		defer vm.DetachThread()
		defer func() {
			if r := recover(); r != nil {
				vm.recordThreadPanic(t, r)
			}
		}()
		if _, err := t.InvokeVirtual(obj, "run", "()V"); err != nil {
			vm.reportUncaught(t, err)
		}
	}()
}
