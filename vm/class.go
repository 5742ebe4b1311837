package vm

import (
	"sync"

	"github.com/chazu/kopi/classfile"
)

// ---------------------------------------------------------------------------
// Class: a loaded type
// ---------------------------------------------------------------------------

// ClassState tracks linking and initialization. Transitions only move
// forward; Erroneous is terminal.
type ClassState uint8

const (
	StateUnlinked ClassState = iota
	StateLinked
	StateInitializing
	StateInitialized
	StateErroneous
)

var classStateNames = [...]string{"unlinked", "linked", "initializing", "initialized", "erroneous"}

func (s ClassState) String() string {
	if int(s) < len(classStateNames) {
		return classStateNames[int(s)]
	}
	return "unknown"
}

// Class is identified by its name together with its defining loader. The
// link-time fields (super, interfaces, slot counts, static storage) are set
// once by the loader before any method of the class runs.
type Class struct {
	name           string
	flags          classfile.AccessFlags
	loader         Loader
	superName      string
	interfaceNames []string
	fields         []*Field
	methods        []*Method
	pool           *ConstantPool
	sourceFile     string
	annotations    []byte
	source         string // class-path entry the bytes came from

	super             *Class
	interfaces        []*Class
	instanceSlotCount int
	staticSlotCount   int
	staticVars        Slots
	clinit            *Method

	// initMu guards the initialization fields. initDone is closed when the
	// class leaves StateInitializing.
	initMu     sync.Mutex
	state      ClassState
	initThread *Thread
	initDone   chan struct{}

	component *Class // arrays: element type one dimension down
	primitive byte   // primitive classes: descriptor letter

	vm       *VM
	mirrorMu sync.Mutex
	mirror   *Object
}

func (c *Class) Name() string                 { return c.name }
func (c *Class) JavaName() string             { return classfile.JavaName(c.name) }
func (c *Class) Flags() classfile.AccessFlags { return c.flags }
func (c *Class) Loader() Loader               { return c.loader }
func (c *Class) SuperName() string            { return c.superName }
func (c *Class) InterfaceNames() []string     { return c.interfaceNames }
func (c *Class) Super() *Class                { return c.super }
func (c *Class) Interfaces() []*Class         { return c.interfaces }
func (c *Class) Fields() []*Field             { return c.fields }
func (c *Class) Methods() []*Method           { return c.methods }
func (c *Class) ConstantPool() *ConstantPool  { return c.pool }
func (c *Class) SourceFile() string           { return c.sourceFile }
func (c *Class) Annotations() []byte          { return c.annotations }
func (c *Class) InstanceSlotCount() int       { return c.instanceSlotCount }
func (c *Class) StaticSlotCount() int         { return c.staticSlotCount }
func (c *Class) StaticVars() Slots            { return c.staticVars }
func (c *Class) State() ClassState            { return c.state }
func (c *Class) ComponentClass() *Class       { return c.component }
func (c *Class) IsPublic() bool               { return c.flags.IsPublic() }
func (c *Class) IsFinal() bool                { return c.flags.IsFinal() }
func (c *Class) IsInterface() bool            { return c.flags.IsInterface() }
func (c *Class) IsAbstract() bool             { return c.flags.IsAbstract() }
func (c *Class) IsArray() bool                { return c.name[0] == '[' }
func (c *Class) IsPrimitive() bool            { return c.primitive != 0 }
func (c *Class) PackageName() string          { return classfile.PackageName(c.name) }
func (c *Class) String() string               { return c.name }

// Descriptor returns the field descriptor naming this class.
func (c *Class) Descriptor() string {
	if c.primitive != 0 {
		return string(c.primitive)
	}
	return classfile.DescriptorOf(c.name)
}

// ---------------------------------------------------------------------------
// Member lookup
// ---------------------------------------------------------------------------

// FindMethod searches only the methods c declares.
func (c *Class) FindMethod(name, desc string) *Method {
	for _, m := range c.methods {
		if m.name == name && m.desc == desc {
			return m
		}
	}
	return nil
}

// FindField searches only the fields c declares.
func (c *Class) FindField(name, desc string) *Field {
	for _, f := range c.fields {
		if f.name == name && f.desc == desc {
			return f
		}
	}
	return nil
}

// LookupField searches c, then its superinterfaces depth first, then the
// superclass chain.
func (c *Class) LookupField(name, desc string) *Field {
	for k := c; k != nil; k = k.super {
		if f := k.FindField(name, desc); f != nil {
			return f
		}
		for _, i := range k.interfaces {
			if f := i.LookupField(name, desc); f != nil {
				return f
			}
		}
	}
	return nil
}

// lookupMethodInClass walks c and its superclasses.
func (c *Class) lookupMethodInClass(name, desc string) *Method {
	for k := c; k != nil; k = k.super {
		if m := k.FindMethod(name, desc); m != nil {
			return m
		}
	}
	return nil
}

// lookupMethodInInterfaces searches every superinterface of c. A concrete
// (default) method wins over an abstract declaration.
func (c *Class) lookupMethodInInterfaces(name, desc string) *Method {
	var abstract *Method
	seen := make(map[*Class]bool)
	var walk func(k *Class) *Method
	walk = func(k *Class) *Method {
		for _, i := range k.interfaces {
			if seen[i] {
				continue
			}
			seen[i] = true
			if m := i.FindMethod(name, desc); m != nil && !m.IsStatic() && !m.IsPrivate() {
				if !m.IsAbstract() {
					return m
				}
				if abstract == nil {
					abstract = m
				}
			}
			if m := walk(i); m != nil {
				return m
			}
		}
		return nil
	}
	for k := c; k != nil; k = k.super {
		if m := walk(k); m != nil {
			return m
		}
	}
	return abstract
}

// LookupMethod finds a method by name and descriptor in c's superclass chain,
// then in its superinterfaces.
func (c *Class) LookupMethod(name, desc string) *Method {
	if m := c.lookupMethodInClass(name, desc); m != nil {
		return m
	}
	return c.lookupMethodInInterfaces(name, desc)
}

// lookupInterfaceMethod resolves a method against an interface: its own
// methods, its superinterfaces, then java/lang/Object.
func (c *Class) lookupInterfaceMethod(name, desc string) *Method {
	if m := c.FindMethod(name, desc); m != nil {
		return m
	}
	if m := c.lookupMethodInInterfaces(name, desc); m != nil {
		return m
	}
	if c.super != nil {
		if m := c.super.FindMethod(name, desc); m != nil && m.IsPublic() && !m.IsStatic() {
			return m
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Type relations
// ---------------------------------------------------------------------------

// IsSubclassOf reports whether other is a strict superclass of c.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c.super; k != nil; k = k.super {
		if k == other {
			return true
		}
	}
	return false
}

// Implements reports whether c or one of its superclasses implements iface,
// directly or through superinterfaces.
func (c *Class) Implements(iface *Class) bool {
	for k := c; k != nil; k = k.super {
		for _, i := range k.interfaces {
			if i == iface || i.isSubInterfaceOf(iface) {
				return true
			}
		}
	}
	return false
}

func (c *Class) isSubInterfaceOf(iface *Class) bool {
	for _, i := range c.interfaces {
		if i == iface || i.isSubInterfaceOf(iface) {
			return true
		}
	}
	return false
}

// IsAssignableFrom reports whether a value of class s may be stored in a
// variable of type c, following the checkcast rules.
func (c *Class) IsAssignableFrom(s *Class) bool {
	if s == c {
		return true
	}
	if s.IsArray() {
		if c.IsArray() {
			sc, tc := s.component, c.component
			if sc.IsPrimitive() || tc.IsPrimitive() {
				return sc == tc
			}
			return tc.IsAssignableFrom(sc)
		}
		if c.IsInterface() {
			return c.name == "java/lang/Cloneable" || c.name == "java/io/Serializable"
		}
		return c.name == "java/lang/Object"
	}
	if s.IsPrimitive() || c.IsPrimitive() {
		return false
	}
	if s.IsInterface() {
		if c.IsInterface() {
			return s.isSubInterfaceOf(c)
		}
		return c.name == "java/lang/Object"
	}
	if c.IsInterface() {
		return s.Implements(c)
	}
	return s.IsSubclassOf(c)
}

// ---------------------------------------------------------------------------
// Mirrors and derived classes
// ---------------------------------------------------------------------------

// Mirror returns the java/lang/Class object for c, creating it on first use.
func (c *Class) Mirror() *Object {
	c.mirrorMu.Lock()
	defer c.mirrorMu.Unlock()
	if c.mirror == nil {
		cc := c.vm.classClass
		if cc == nil {
			fatalf("mirror of %s requested before java/lang/Class is loaded", c.name)
		}
		m := newObject(cc)
		m.extra = c
		if m.HasField("classLoader", "Ljava/lang/ClassLoader;") {
			m.SetRefField("classLoader", "Ljava/lang/ClassLoader;", c.loader.Mirror())
		}
		c.mirror = m
	}
	return c.mirror
}

// ClassOfMirror returns the class a java/lang/Class object stands for.
func ClassOfMirror(mirror *Object) *Class {
	if mirror == nil {
		return nil
	}
	c, _ := mirror.extra.(*Class)
	return c
}

// ArrayClass returns the class of arrays whose elements are c.
func (c *Class) ArrayClass(t *Thread) (*Class, error) {
	var name string
	if c.IsArray() {
		name = "[" + c.name
	} else {
		name = "[" + c.Descriptor()
	}
	return c.loader.LoadClass(t, name)
}

// clinitMethod returns the class initializer, or an empty stand-in when the
// class declares none, so every initialization runs through a frame.
func (c *Class) clinitMethod() *Method {
	if c.clinit != nil {
		return c.clinit
	}
	if m := c.FindMethod("<clinit>", "()V"); m != nil && m.IsStatic() {
		c.clinit = m
		return m
	}
	c.clinit = &Method{
		class:     c,
		flags:     classfile.AccStatic | classfile.AccSynthetic,
		name:      "<clinit>",
		desc:      "()V",
		code:      []byte{byte(classfile.OpReturn)},
		maxStack:  0,
		maxLocals: 0,
		retDesc:   "V",
	}
	return c.clinit
}
