package vm

import (
	"encoding/binary"
	"sync"
)

// ---------------------------------------------------------------------------
// Off-heap memory for sun/misc/Unsafe
// ---------------------------------------------------------------------------

// nativeMemory hands out addresses for allocateMemory. Blocks never move;
// an address is valid from its base to base+len.
type nativeMemory struct {
	mu     sync.Mutex
	next   int64
	blocks map[int64][]byte
}

func newNativeMemory() *nativeMemory {
	return &nativeMemory{next: 0x1000, blocks: make(map[int64][]byte)}
}

func (m *nativeMemory) allocate(n int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := m.next
	m.blocks[addr] = make([]byte, n)
	m.next += (n + 15) &^ 15
	if n == 0 {
		m.next += 16
	}
	return addr
}

func (m *nativeMemory) free(addr int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, addr)
}

// at returns n bytes starting at addr, or nil when the range is not inside
// one live block.
func (m *nativeMemory) at(addr int64, n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	for base, b := range m.blocks {
		if addr >= base && addr+int64(n) <= base+int64(len(b)) {
			off := addr - base
			return b[off : off+int64(n)]
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// sun/misc/Unsafe
// ---------------------------------------------------------------------------

// Field offsets are slot ids and array offsets are element indexes: the
// base offset is 0 and the index scale 1.
func registerUnsafeNatives() {
	const class = "sun/misc/Unsafe"
	RegisterNative(class, "arrayBaseOffset", "(Ljava/lang/Class;)I", func(f *Frame) { f.stack.PushInt(0) })
	RegisterNative(class, "arrayIndexScale", "(Ljava/lang/Class;)I", func(f *Frame) { f.stack.PushInt(1) })
	RegisterNative(class, "addressSize", "()I", func(f *Frame) { f.stack.PushInt(8) })
	RegisterNative(class, "pageSize", "()I", func(f *Frame) { f.stack.PushInt(4096) })
	RegisterNative(class, "objectFieldOffset", "(Ljava/lang/reflect/Field;)J", func(f *Frame) {
		field := f.locals.Ref(1)
		if !f.nullCheck(field) {
			return
		}
		f.stack.PushLong(int64(field.GetIntField("slot", "I")))
	})

	for _, name := range []string{"getInt", "getIntVolatile"} {
		RegisterNative(class, name, "(Ljava/lang/Object;J)I", func(f *Frame) {
			o, off := f.locals.Ref(1), int(f.locals.Long(2))
			if !f.nullCheck(o) {
				return
			}
			o.mu.Lock()
			defer o.mu.Unlock()
			if o.IsArray() {
				f.stack.PushInt(o.Ints()[off])
				return
			}
			f.stack.PushInt(o.fields.Int(off))
		})
	}
	for _, name := range []string{"putInt", "putIntVolatile", "putOrderedInt"} {
		RegisterNative(class, name, "(Ljava/lang/Object;JI)V", func(f *Frame) {
			o, off, v := f.locals.Ref(1), int(f.locals.Long(2)), f.locals.Int(4)
			if !f.nullCheck(o) {
				return
			}
			o.mu.Lock()
			defer o.mu.Unlock()
			if o.IsArray() {
				o.Ints()[off] = v
				return
			}
			o.fields.SetInt(off, v)
		})
	}
	for _, name := range []string{"getLong", "getLongVolatile"} {
		RegisterNative(class, name, "(Ljava/lang/Object;J)J", func(f *Frame) {
			o, off := f.locals.Ref(1), int(f.locals.Long(2))
			if !f.nullCheck(o) {
				return
			}
			o.mu.Lock()
			defer o.mu.Unlock()
			if o.IsArray() {
				f.stack.PushLong(o.Longs()[off])
				return
			}
			f.stack.PushLong(o.fields.Long(off))
		})
	}
	for _, name := range []string{"putLong", "putLongVolatile", "putOrderedLong"} {
		RegisterNative(class, name, "(Ljava/lang/Object;JJ)V", func(f *Frame) {
			o, off, v := f.locals.Ref(1), int(f.locals.Long(2)), f.locals.Long(4)
			if !f.nullCheck(o) {
				return
			}
			o.mu.Lock()
			defer o.mu.Unlock()
			if o.IsArray() {
				o.Longs()[off] = v
				return
			}
			o.fields.SetLong(off, v)
		})
	}
	for _, name := range []string{"getObject", "getObjectVolatile"} {
		RegisterNative(class, name, "(Ljava/lang/Object;J)Ljava/lang/Object;", func(f *Frame) {
			o, off := f.locals.Ref(1), int(f.locals.Long(2))
			if !f.nullCheck(o) {
				return
			}
			o.mu.Lock()
			defer o.mu.Unlock()
			if o.IsArray() {
				f.stack.PushRef(o.Refs()[off])
				return
			}
			f.stack.PushRef(o.fields.Ref(off))
		})
	}
	for _, name := range []string{"putObject", "putObjectVolatile", "putOrderedObject"} {
		RegisterNative(class, name, "(Ljava/lang/Object;JLjava/lang/Object;)V", func(f *Frame) {
			o, off, v := f.locals.Ref(1), int(f.locals.Long(2)), f.locals.Ref(4)
			if !f.nullCheck(o) {
				return
			}
			o.mu.Lock()
			defer o.mu.Unlock()
			if o.IsArray() {
				o.Refs()[off] = v
				return
			}
			o.fields.SetRef(off, v)
		})
	}

	RegisterNative(class, "compareAndSwapInt", "(Ljava/lang/Object;JII)Z", func(f *Frame) {
		o, off := f.locals.Ref(1), int(f.locals.Long(2))
		expect, update := f.locals.Int(4), f.locals.Int(5)
		if !f.nullCheck(o) {
			return
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.IsArray() {
			a := o.Ints()
			swapped := a[off] == expect
			if swapped {
				a[off] = update
			}
			f.stack.PushBool(swapped)
			return
		}
		swapped := o.fields.Int(off) == expect
		if swapped {
			o.fields.SetInt(off, update)
		}
		f.stack.PushBool(swapped)
	})
	RegisterNative(class, "compareAndSwapLong", "(Ljava/lang/Object;JJJ)Z", func(f *Frame) {
		o, off := f.locals.Ref(1), int(f.locals.Long(2))
		expect, update := f.locals.Long(4), f.locals.Long(6)
		if !f.nullCheck(o) {
			return
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.IsArray() {
			a := o.Longs()
			swapped := a[off] == expect
			if swapped {
				a[off] = update
			}
			f.stack.PushBool(swapped)
			return
		}
		swapped := o.fields.Long(off) == expect
		if swapped {
			o.fields.SetLong(off, update)
		}
		f.stack.PushBool(swapped)
	})
	RegisterNative(class, "compareAndSwapObject",
		"(Ljava/lang/Object;JLjava/lang/Object;Ljava/lang/Object;)Z", func(f *Frame) {
			o, off := f.locals.Ref(1), int(f.locals.Long(2))
			expect, update := f.locals.Ref(4), f.locals.Ref(5)
			if !f.nullCheck(o) {
				return
			}
			o.mu.Lock()
			defer o.mu.Unlock()
			if o.IsArray() {
				a := o.Refs()
				swapped := a[off] == expect
				if swapped {
					a[off] = update
				}
				f.stack.PushBool(swapped)
				return
			}
			swapped := o.fields.Ref(off) == expect
			if swapped {
				o.fields.SetRef(off, update)
			}
			f.stack.PushBool(swapped)
		})

	// Raw memory.
	RegisterNative(class, "allocateMemory", "(J)J", func(f *Frame) {
		n := f.locals.Long(1)
		if n < 0 {
			f.Throw(IllegalArgumentException, "")
			return
		}
		f.stack.PushLong(f.VM().memory.allocate(n))
	})
	RegisterNative(class, "freeMemory", "(J)V", func(f *Frame) {
		f.VM().memory.free(f.locals.Long(1))
	})
	RegisterNative(class, "putLong", "(JJ)V", func(f *Frame) {
		if b := memoryAt(f, f.locals.Long(1), 8); b != nil {
			binary.NativeEndian.PutUint64(b, uint64(f.locals.Long(3)))
		}
	})
	RegisterNative(class, "getLong", "(J)J", func(f *Frame) {
		if b := memoryAt(f, f.locals.Long(1), 8); b != nil {
			f.stack.PushLong(int64(binary.NativeEndian.Uint64(b)))
		}
	})
	RegisterNative(class, "putByte", "(JB)V", func(f *Frame) {
		if b := memoryAt(f, f.locals.Long(1), 1); b != nil {
			b[0] = byte(f.locals.Int(3))
		}
	})
	RegisterNative(class, "getByte", "(J)B", func(f *Frame) {
		if b := memoryAt(f, f.locals.Long(1), 1); b != nil {
			f.stack.PushInt(int32(int8(b[0])))
		}
	})
}

func memoryAt(f *Frame, addr int64, n int) []byte {
	b := f.VM().memory.at(addr, n)
	if b == nil {
		f.Throw(InternalError, "access to unallocated memory")
	}
	return b
}
