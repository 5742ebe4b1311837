package vm

import (
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/chazu/kopi/classfile"
)

// stackReserve is the extra depth granted while the runtime constructs one
// of its own throwables.
const stackReserve = 64

var threadIDs atomic.Int64

// ---------------------------------------------------------------------------
// Thread: a frame stack bound to one goroutine
// ---------------------------------------------------------------------------

// Thread is an interpreter thread. Its frames are private to the goroutine
// that runs it.
type Thread struct {
	vm       *VM
	id       int64
	name     string
	frames   []*Frame
	maxDepth int
	pc       int
	mirror   *Object

	// pending holds a throwable that unwound to a barrier or shim frame.
	pending     *Object
	overflowing bool
	interrupted atomic.Bool
	alive       atomic.Bool

	reader classfile.CodeReader
}

func (vm *VM) newThread(name string) *Thread {
	return &Thread{
		vm:       vm,
		id:       threadIDs.Add(1),
		name:     name,
		frames:   make([]*Frame, 0, 64),
		maxDepth: vm.opts.MaxStackDepth,
	}
}

func (t *Thread) VM() *VM             { return t.vm }
func (t *Thread) ID() int64           { return t.id }
func (t *Thread) Name() string        { return t.name }
func (t *Thread) PC() int             { return t.pc }
func (t *Thread) Depth() int          { return len(t.frames) }
func (t *Thread) Mirror() *Object     { return t.mirror }
func (t *Thread) SetMirror(o *Object) { t.mirror = o }

// TopFrame returns the innermost frame, or nil.
func (t *Thread) TopFrame() *Frame {
	if len(t.frames) == 0 {
		return nil
	}
	return t.frames[len(t.frames)-1]
}

// Frames returns the frame stack, outermost first.
func (t *Thread) Frames() []*Frame {
	return t.frames
}

// pushFrame returns false when the depth limit is reached.
func (t *Thread) pushFrame(f *Frame) bool {
	limit := t.maxDepth
	if t.overflowing {
		limit += stackReserve
	}
	if len(t.frames) >= limit {
		if t.overflowing {
			fatalf("stack overflow while constructing a runtime exception")
		}
		return false
	}
	t.frames = append(t.frames, f)
	return true
}

func (t *Thread) popFrame() *Frame {
	n := len(t.frames)
	if n == 0 {
		fatalf("pop from empty frame stack")
	}
	f := t.frames[n-1]
	t.frames[n-1] = nil
	t.frames = t.frames[:n-1]
	return f
}

// popTo drops frames until depth remain.
func (t *Thread) popTo(depth int) {
	for len(t.frames) > depth {
		t.popFrame()
	}
}

// ---------------------------------------------------------------------------
// Goroutine-local thread lookup
// ---------------------------------------------------------------------------

// getGoroutineID returns the current goroutine's ID by parsing the stack
// header "goroutine <id> [...]".
func getGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := string(buf[:n])
	s = strings.TrimPrefix(s, "goroutine ")
	if idx := strings.Index(s, " "); idx > 0 {
		s = s[:idx]
	}
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}

// AttachThread binds t to the calling goroutine.
func (vm *VM) AttachThread(t *Thread) {
	vm.threads.Store(getGoroutineID(), t)
}

// DetachThread removes the calling goroutine's binding.
func (vm *VM) DetachThread() {
	vm.threads.Delete(getGoroutineID())
}

// CurrentThread returns the thread bound to the calling goroutine, falling
// back to the main thread.
func (vm *VM) CurrentThread() *Thread {
	if t, ok := vm.threads.Load(getGoroutineID()); ok {
		return t.(*Thread)
	}
	return vm.mainThread
}

// NewThread creates a thread that may be attached to another goroutine.
func (vm *VM) NewThread(name string) *Thread {
	return vm.newThread(name)
}
