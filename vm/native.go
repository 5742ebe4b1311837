package vm

import (
	"sync"

	"github.com/tliron/commonlog"
)

var nativeLog = commonlog.GetLogger("kopi.natives")

// ---------------------------------------------------------------------------
// Host-method bridge
// ---------------------------------------------------------------------------

// NativeMethod implements a native Java method. Arguments are in the
// frame's locals, receiver first for instance methods; a result is pushed
// on the frame's operand stack. To throw, call Frame.Throw or
// Frame.ThrowError and return.
type NativeMethod func(f *Frame)

var natives = struct {
	sync.RWMutex
	methods map[string]NativeMethod
}{methods: make(map[string]NativeMethod)}

func nativeKey(class, name, desc string) string {
	return class + "_" + name + "_" + desc
}

// RegisterNative binds fn to a native method. class uses '/' separators.
// A later registration replaces an earlier one.
func RegisterNative(class, name, desc string, fn NativeMethod) {
	natives.Lock()
	defer natives.Unlock()
	natives.methods[nativeKey(class, name, desc)] = fn
}

// LookupNative returns the registered implementation, or nil.
func LookupNative(class, name, desc string) NativeMethod {
	natives.RLock()
	defer natives.RUnlock()
	fn := natives.methods[nativeKey(class, name, desc)]
	if fn == nil {
		nativeLog.Debugf("no native for %s.%s%s", class, name, desc)
	}
	return fn
}

func init() {
	registerObjectNatives()
	registerClassNatives()
	registerSystemNatives()
	registerNumberNatives()
	registerStringNatives()
	registerThrowableNatives()
	registerThreadNatives()
	registerRuntimeNatives()
	registerClassLoaderNatives()
	registerUnsafeNatives()
	registerMiscNatives()
	registerIONatives()
}

// ---------------------------------------------------------------------------
// Helpers for native implementations
// ---------------------------------------------------------------------------

// Throw raises a new instance of the named throwable class.
func (f *Frame) Throw(class, msg string) {
	f.thread.throwNew(class, msg)
}

// ThrowError delivers err to Java code: a *VMError becomes its throwable,
// a *ThrowableError is rethrown, anything else becomes an InternalError.
func (f *Frame) ThrowError(err error) {
	f.thread.throwError(err)
}

// loadBoot loads a class through the bootstrap loader, throwing on failure.
func (f *Frame) loadBoot(name string) (*Class, bool) {
	c, err := f.thread.vm.boot.FindOrCreate(f.thread, name)
	if err != nil {
		f.thread.throwError(err)
		return nil, false
	}
	return c, true
}

// newInitialized allocates an instance of a class after initializing it.
func (f *Frame) newInitialized(name string) (*Object, bool) {
	c, ok := f.loadBoot(name)
	if !ok {
		return nil, false
	}
	if err := f.thread.InitializeClass(c); err != nil {
		f.thread.throwError(err)
		return nil, false
	}
	return newObject(c), true
}

// nullCheck throws NullPointerException when o is nil.
func (f *Frame) nullCheck(o *Object) bool {
	if o == nil {
		f.thread.throwNew(NullPointerException, "")
		return false
	}
	return true
}
