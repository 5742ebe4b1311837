package vm

import (
	"sync"
	"sync/atomic"

	"github.com/chazu/kopi/classfile"
)

// ---------------------------------------------------------------------------
// Object: standard instances and typed arrays
// ---------------------------------------------------------------------------

// Object is a heap value. Standard objects keep their fields in a Slots
// vector laid out by the class; arrays keep natively typed elements in data.
// Identity is pointer identity.
type Object struct {
	class  *Class
	fields Slots
	data   any // array storage, see newArray
	extra  any // runtime meta-data: class mirrors, stack traces, file handles
	hash   int32
	mu     sync.Mutex
}

var hashSeed atomic.Int32

func newObject(c *Class) *Object {
	return &Object{class: c, fields: newSlots(c.instanceSlotCount)}
}

// newArray allocates an array of class c. The element storage is picked from
// the class descriptor: booleans and bytes share []int8.
func newArray(c *Class, n int32) *Object {
	o := &Object{class: c}
	switch c.name[1] {
	case 'Z', 'B':
		o.data = make([]int8, n)
	case 'C':
		o.data = make([]uint16, n)
	case 'S':
		o.data = make([]int16, n)
	case 'I':
		o.data = make([]int32, n)
	case 'J':
		o.data = make([]int64, n)
	case 'F':
		o.data = make([]float32, n)
	case 'D':
		o.data = make([]float64, n)
	default:
		o.data = make([]*Object, n)
	}
	return o
}

func (o *Object) Class() *Class   { return o.class }
func (o *Object) Fields() Slots   { return o.fields }
func (o *Object) Extra() any      { return o.extra }
func (o *Object) SetExtra(v any)  { o.extra = v }
func (o *Object) IsArray() bool   { return o.data != nil }
func (o *Object) Bytes() []int8   { return o.data.([]int8) }
func (o *Object) Chars() []uint16 { return o.data.([]uint16) }
func (o *Object) Shorts() []int16 { return o.data.([]int16) }
func (o *Object) Ints() []int32   { return o.data.([]int32) }
func (o *Object) Longs() []int64  { return o.data.([]int64) }

func (o *Object) Floats() []float32 { return o.data.([]float32) }

func (o *Object) Doubles() []float64 { return o.data.([]float64) }

// Refs returns the elements of a reference array.
func (o *Object) Refs() []*Object { return o.data.([]*Object) }

// ArrayLength returns the element count of an array object.
func (o *Object) ArrayLength() int32 {
	switch a := o.data.(type) {
	case []int8:
		return int32(len(a))
	case []uint16:
		return int32(len(a))
	case []int16:
		return int32(len(a))
	case []int32:
		return int32(len(a))
	case []int64:
		return int32(len(a))
	case []float32:
		return int32(len(a))
	case []float64:
		return int32(len(a))
	case []*Object:
		return int32(len(a))
	}
	fatalf("arraylength on non-array %s", o.class.name)
	return 0
}

// Clone returns a shallow copy with fresh identity.
func (o *Object) Clone() *Object {
	c := &Object{class: o.class}
	if o.fields != nil {
		c.fields = make(Slots, len(o.fields))
		copy(c.fields, o.fields)
	}
	switch a := o.data.(type) {
	case []int8:
		c.data = append([]int8(nil), a...)
	case []uint16:
		c.data = append([]uint16(nil), a...)
	case []int16:
		c.data = append([]int16(nil), a...)
	case []int32:
		c.data = append([]int32(nil), a...)
	case []int64:
		c.data = append([]int64(nil), a...)
	case []float32:
		c.data = append([]float32(nil), a...)
	case []float64:
		c.data = append([]float64(nil), a...)
	case []*Object:
		c.data = append([]*Object(nil), a...)
	}
	return c
}

// IdentityHash returns a stable per-object hash code.
func (o *Object) IdentityHash() int32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.hash == 0 {
		h := hashSeed.Add(0x61c88647)
		if h == 0 {
			h = 1
		}
		o.hash = h
	}
	return o.hash
}

// IsInstanceOf reports whether o may be assigned to a variable of type c.
func (o *Object) IsInstanceOf(c *Class) bool {
	return c.IsAssignableFrom(o.class)
}

// ---------------------------------------------------------------------------
// Field access by name, for intrinsics and host code
// ---------------------------------------------------------------------------

func (o *Object) field(name, desc string) *Field {
	f := o.class.LookupField(name, desc)
	if f == nil || f.IsStatic() {
		fatalf("%s has no instance field %s %s", o.class.name, name, desc)
	}
	return f
}

// HasField reports whether o's class declares or inherits an instance field.
func (o *Object) HasField(name, desc string) bool {
	f := o.class.LookupField(name, desc)
	return f != nil && !f.IsStatic()
}

func (o *Object) GetRefField(name, desc string) *Object {
	return o.fields.Ref(o.field(name, desc).slotID)
}

func (o *Object) SetRefField(name, desc string, v *Object) {
	o.fields.SetRef(o.field(name, desc).slotID, v)
}

func (o *Object) GetIntField(name, desc string) int32 {
	return o.fields.Int(o.field(name, desc).slotID)
}

func (o *Object) SetIntField(name, desc string, v int32) {
	o.fields.SetInt(o.field(name, desc).slotID, v)
}

func (o *Object) GetLongField(name, desc string) int64 {
	return o.fields.Long(o.field(name, desc).slotID)
}

func (o *Object) SetLongField(name, desc string, v int64) {
	o.fields.SetLong(o.field(name, desc).slotID, v)
}

// arrayComponentDesc returns the element descriptor of an array class name.
func arrayComponentDesc(name string) string {
	return name[1:]
}

// isPrimitiveArray reports whether an array class holds scalars.
func isPrimitiveArray(name string) bool {
	return len(name) == 2 && !classfile.IsReference(name[1:])
}
