package vm

import (
	"fmt"

	"github.com/chazu/kopi/classfile"
)

// ---------------------------------------------------------------------------
// Runtime constant pool
// ---------------------------------------------------------------------------

// ConstantPool is the run-time form of a class's constant table. Literal
// entries are Go values (int32, float32, int64, float64); symbolic entries
// are *StringRef, *ClassRef, *FieldRef and *MethodRef, which cache their
// resolved target on first successful use.
type ConstantPool struct {
	class   *Class
	entries []any
}

// StringRef is a string literal. Its object is the interned String.
type StringRef struct {
	units []uint16
	obj   *Object
}

// ClassRef names a class symbolically.
type ClassRef struct {
	pool  *ConstantPool
	name  string
	class *Class
}

type memberRef struct {
	ClassRef
	memberName string
	desc       string
}

// FieldRef names a field by owner, name and descriptor.
type FieldRef struct {
	memberRef
	field *Field
}

// MethodRef names a method. Interface is set for InterfaceMethodref entries.
type MethodRef struct {
	memberRef
	Interface bool
	method    *Method
}

// UnsupportedRef stands for MethodHandle, MethodType and InvokeDynamic
// entries, which the interpreter does not execute.
type UnsupportedRef struct {
	Tag classfile.ConstantTag
}

func newConstantPool(c *Class, cp classfile.ConstantPool) (*ConstantPool, error) {
	pool := &ConstantPool{class: c, entries: make([]any, len(cp))}
	for i := 1; i < len(cp); i++ {
		var entry any
		switch k := cp[i].(type) {
		case nil, *classfile.ConstantUtf8, *classfile.ConstantNameAndType:
		case *classfile.ConstantInteger:
			entry = k.Value
		case *classfile.ConstantFloat:
			entry = k.Value
		case *classfile.ConstantLong:
			entry = k.Value
		case *classfile.ConstantDouble:
			entry = k.Value
		case *classfile.ConstantString:
			u, ok := cp[k.StringIndex].(*classfile.ConstantUtf8)
			if !ok {
				return nil, newVMError(ClassFormatError, "%s: string constant #%d does not name a Utf8 entry", c.name, i)
			}
			units, err := classfile.DecodeMUTF8Units(u.Raw)
			if err != nil {
				return nil, &VMError{Class: ClassFormatError, Message: c.name, Cause: err}
			}
			entry = &StringRef{units: units}
		case *classfile.ConstantClass:
			name, err := cp.Utf8(k.NameIndex)
			if err != nil {
				return nil, &VMError{Class: ClassFormatError, Message: c.name, Cause: err}
			}
			entry = &ClassRef{pool: pool, name: name}
		case *classfile.ConstantMemberRef:
			owner, name, desc, err := cp.MemberRef(uint16(i))
			if err != nil {
				return nil, &VMError{Class: ClassFormatError, Message: c.name, Cause: err}
			}
			ref := memberRef{ClassRef: ClassRef{pool: pool, name: owner}, memberName: name, desc: desc}
			if k.Kind == classfile.TagFieldref {
				entry = &FieldRef{memberRef: ref}
			} else {
				entry = &MethodRef{memberRef: ref, Interface: k.Kind == classfile.TagInterfaceMethodref}
			}
		default:
			entry = &UnsupportedRef{Tag: k.Tag()}
		}
		pool.entries[i] = entry
	}
	return pool, nil
}

// Class returns the class owning the pool.
func (p *ConstantPool) Class() *Class { return p.class }

// Len returns the number of pool indices, including index 0.
func (p *ConstantPool) Len() int { return len(p.entries) }

// Get returns the entry at index. A malformed index in executing code is a
// broken invariant.
func (p *ConstantPool) Get(index int) any {
	if index <= 0 || index >= len(p.entries) || p.entries[index] == nil {
		fatalf("%s: bad constant pool index %d", p.class.name, index)
	}
	return p.entries[index]
}

func (p *ConstantPool) ClassRef(index int) *ClassRef {
	ref, ok := p.Get(index).(*ClassRef)
	if !ok {
		fatalf("%s: constant #%d is %T, want class", p.class.name, index, p.entries[index])
	}
	return ref
}

func (p *ConstantPool) FieldRef(index int) *FieldRef {
	ref, ok := p.Get(index).(*FieldRef)
	if !ok {
		fatalf("%s: constant #%d is %T, want field", p.class.name, index, p.entries[index])
	}
	return ref
}

func (p *ConstantPool) MethodRef(index int) *MethodRef {
	ref, ok := p.Get(index).(*MethodRef)
	if !ok {
		fatalf("%s: constant #%d is %T, want method", p.class.name, index, p.entries[index])
	}
	return ref
}

// String returns the interned String object for a string literal.
func (r *StringRef) String(vm *VM) *Object {
	if r.obj == nil {
		r.obj = vm.InternUnits(r.units)
	}
	return r.obj
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

func (r *ClassRef) Name() string { return r.name }

// Resolve loads the named class through the holder's loader and checks that
// the holder may access it.
func (r *ClassRef) Resolve(t *Thread) (*Class, error) {
	if r.class != nil {
		return r.class, nil
	}
	holder := r.pool.class
	c, err := holder.loader.LoadClass(t, r.name)
	if err != nil {
		return nil, err
	}
	if !classAccessible(holder, c) {
		return nil, newVMError(IllegalAccessError, "tried to access class %s from class %s", c.JavaName(), holder.JavaName())
	}
	r.class = c
	return c, nil
}

func (r *memberRef) Name() string       { return r.memberName }
func (r *memberRef) Descriptor() string { return r.desc }

// Resolve finds the field through the owner's own fields, superinterfaces
// and superclasses.
func (r *FieldRef) Resolve(t *Thread) (*Field, error) {
	if r.field != nil {
		return r.field, nil
	}
	c, err := r.ClassRef.Resolve(t)
	if err != nil {
		return nil, err
	}
	f := c.LookupField(r.memberName, r.desc)
	if f == nil {
		return nil, newVMError(NoSuchFieldError, "%s", r.memberName)
	}
	holder := r.pool.class
	if !memberAccessible(holder, f.class, f.flags) {
		return nil, newVMError(IllegalAccessError, "tried to access field %s.%s from class %s",
			f.class.JavaName(), f.name, holder.JavaName())
	}
	r.field = f
	return f, nil
}

// Resolve finds the method. A Methodref must name a class and an
// InterfaceMethodref an interface.
func (r *MethodRef) Resolve(t *Thread) (*Method, error) {
	if r.method != nil {
		return r.method, nil
	}
	c, err := r.ClassRef.Resolve(t)
	if err != nil {
		return nil, err
	}
	var m *Method
	if r.Interface {
		if !c.IsInterface() {
			return nil, newVMError(IncompatibleClassChangeError, "Found class %s, but interface was expected", c.JavaName())
		}
		m = c.lookupInterfaceMethod(r.memberName, r.desc)
	} else {
		if c.IsInterface() {
			return nil, newVMError(IncompatibleClassChangeError, "Found interface %s, but class was expected", c.JavaName())
		}
		m = c.LookupMethod(r.memberName, r.desc)
	}
	if m == nil {
		return nil, newVMError(NoSuchMethodError, "%s.%s%s", c.JavaName(), r.memberName, r.desc)
	}
	holder := r.pool.class
	if !memberAccessible(holder, m.class, m.flags) {
		return nil, newVMError(IllegalAccessError, "tried to access method %s from class %s", m, holder.JavaName())
	}
	r.method = m
	return m, nil
}

// ResolvedClass returns the cached class of the owner, or nil.
func (r *ClassRef) ResolvedClass() *Class { return r.class }

func (r *MethodRef) String() string {
	return fmt.Sprintf("%s.%s%s", r.name, r.memberName, r.desc)
}
