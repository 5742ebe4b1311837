package vm

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chazu/kopi/classfile"
	"github.com/chazu/kopi/classpath"
	"github.com/tliron/commonlog"
)

var loaderLog = commonlog.GetLogger("kopi.loader")

// ---------------------------------------------------------------------------
// Loader interface and shared state
// ---------------------------------------------------------------------------

// Loader finds and defines classes. Every class records the loader that
// defined it; a loader also remembers classes it initiated loading for.
type Loader interface {
	// LoadClass returns the named class, loading and linking it if needed.
	// Array class names start with '['.
	LoadClass(t *Thread, name string) (*Class, error)

	// FindLoadedClass returns a class this loader already knows, or nil.
	FindLoadedClass(name string) *Class

	// Mirror returns the java/lang/ClassLoader object, nil for the
	// bootstrap loader.
	Mirror() *Object

	String() string

	base() *loaderBase
}

type loaderBase struct {
	vm       *VM
	mu       sync.Mutex
	classes  map[string]*Class
	defining map[string]bool
}

func newLoaderBase(vm *VM) loaderBase {
	return loaderBase{vm: vm, classes: make(map[string]*Class), defining: make(map[string]bool)}
}

func (l *loaderBase) base() *loaderBase { return l }

func (l *loaderBase) FindLoadedClass(name string) *Class {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.classes[name]
}

func (l *loaderBase) record(name string, c *Class) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.classes[name] = c
}

// beginDefine marks name as being defined; it returns false if a definition
// of the same name is already in progress, i.e. the class is circular.
func (l *loaderBase) beginDefine(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.defining[name] {
		return false
	}
	l.defining[name] = true
	return true
}

func (l *loaderBase) endDefine(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.defining, name)
}

// ClassNames returns the names this loader has recorded, sorted.
func (l *loaderBase) ClassNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.classes))
	for name := range l.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// BootLoader
// ---------------------------------------------------------------------------

var primitiveLetters = []byte{'V', 'Z', 'B', 'S', 'I', 'J', 'C', 'F', 'D'}

// BootLoader reads classes from the class path. It also owns the primitive
// classes.
type BootLoader struct {
	loaderBase
	classPath  classpath.Entry
	primitives map[string]*Class
}

func newBootLoader(vm *VM, cp classpath.Entry) *BootLoader {
	b := &BootLoader{
		loaderBase: newLoaderBase(vm),
		classPath:  cp,
		primitives: make(map[string]*Class, len(primitiveLetters)),
	}
	for _, letter := range primitiveLetters {
		name, _ := classfile.PrimitiveName(letter)
		c := &Class{
			name:      name,
			flags:     classfile.AccPublic | classfile.AccFinal | classfile.AccAbstract,
			loader:    b,
			state:     StateInitialized,
			primitive: letter,
			vm:        vm,
		}
		c.pool = &ConstantPool{class: c}
		b.primitives[name] = c
	}
	return b
}

// PrimitiveClass returns the class for a primitive keyword ("int"), or nil.
func (b *BootLoader) PrimitiveClass(name string) *Class {
	return b.primitives[name]
}

func (b *BootLoader) primitiveByLetter(letter byte) *Class {
	name, ok := classfile.PrimitiveName(letter)
	if !ok {
		return nil
	}
	return b.primitives[name]
}

// ClassPath returns the entry the loader reads from.
func (b *BootLoader) ClassPath() classpath.Entry { return b.classPath }

func (b *BootLoader) LoadClass(t *Thread, name string) (*Class, error) {
	return b.FindOrCreate(t, name)
}

// FindOrCreate returns the named class, building array classes on demand
// and otherwise reading, defining and linking it from the class path.
func (b *BootLoader) FindOrCreate(t *Thread, name string) (*Class, error) {
	if c := b.FindLoadedClass(name); c != nil {
		return c, nil
	}
	if name == "" {
		return nil, newVMError(NoClassDefFoundError, "empty class name")
	}
	if name[0] == '[' {
		return b.vm.arrayClass(t, b, name)
	}
	data, entry, err := b.classPath.ReadClass(name)
	if err != nil {
		if errors.Is(err, classpath.ErrClassNotFound) {
			return nil, newVMError(NoClassDefFoundError, "%s", name)
		}
		return nil, &VMError{Class: NoClassDefFoundError, Message: name, Cause: err}
	}
	return b.vm.defineClass(t, b, name, data, entry.String())
}

func (b *BootLoader) Mirror() *Object { return nil }
func (b *BootLoader) String() string  { return "bootstrap" }

// ---------------------------------------------------------------------------
// UserLoader
// ---------------------------------------------------------------------------

// UserLoader delegates to a java/lang/ClassLoader object's loadClass method,
// which re-enters the runtime through defineClass.
type UserLoader struct {
	loaderBase
	mirror *Object
}

func (u *UserLoader) Mirror() *Object { return u.mirror }

func (u *UserLoader) String() string {
	return fmt.Sprintf("%s@%x", u.mirror.class.JavaName(), uint32(u.mirror.IdentityHash()))
}

func (u *UserLoader) LoadClass(t *Thread, name string) (*Class, error) {
	if c := u.FindLoadedClass(name); c != nil {
		return c, nil
	}
	if name == "" {
		return nil, newVMError(NoClassDefFoundError, "empty class name")
	}
	if name[0] == '[' {
		return u.vm.arrayClass(t, u, name)
	}
	m := u.mirror.class.LookupMethod("loadClass", "(Ljava/lang/String;)Ljava/lang/Class;")
	if m == nil || m.IsAbstract() {
		return nil, newVMError(NoClassDefFoundError, "%s (loader %s has no loadClass)", name, u.mirror.class.JavaName())
	}
	ret, err := t.Invoke(m, RefSlot(u.mirror), RefSlot(u.vm.NewString(classfile.JavaName(name))))
	if err != nil {
		if IsJavaClass(err, ClassNotFoundException) {
			return nil, &VMError{Class: NoClassDefFoundError, Message: name, Cause: err}
		}
		return nil, err
	}
	c := ClassOfMirror(ret[0].Ref())
	if c == nil {
		return nil, newVMError(NoClassDefFoundError, "%s", name)
	}
	if c.name != name {
		return nil, newVMError(NoClassDefFoundError, "%s (wrong name: %s)", name, c.name)
	}
	u.record(name, c)
	return c, nil
}

// UserLoaderFor returns the loader state attached to a ClassLoader object,
// creating it on first use. A nil mirror stands for the bootstrap loader.
func (vm *VM) UserLoaderFor(mirror *Object) Loader {
	if mirror == nil {
		return vm.boot
	}
	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if u, ok := mirror.extra.(*UserLoader); ok {
		return u
	}
	u := &UserLoader{loaderBase: newLoaderBase(vm), mirror: mirror}
	mirror.extra = u
	return u
}

// ---------------------------------------------------------------------------
// Defining and linking
// ---------------------------------------------------------------------------

// DefineClass decodes data and defines the class in loader l.
func (vm *VM) DefineClass(t *Thread, l Loader, data []byte) (*Class, error) {
	return vm.defineClass(t, l, "", data, l.String())
}

func (vm *VM) defineClass(t *Thread, l Loader, expected string, data []byte, source string) (*Class, error) {
	cf, err := classfile.Parse(data)
	if err != nil {
		if errors.Is(err, classfile.ErrUnsupportedVersion) {
			return nil, &VMError{Class: UnsupportedClassVersionError, Message: expected, Cause: err}
		}
		return nil, &VMError{Class: ClassFormatError, Message: fmt.Sprintf("%s: %v", expected, err), Cause: err}
	}
	name := cf.ClassName()
	if expected != "" && name != expected {
		return nil, newVMError(NoClassDefFoundError, "%s (wrong name: %s)", expected, name)
	}

	lb := l.base()
	if !lb.beginDefine(name) {
		return nil, newVMError(ClassCircularityError, "%s", classfile.JavaName(name))
	}
	defer lb.endDefine(name)
	if lb.FindLoadedClass(name) != nil {
		return nil, newVMError(LinkageError, "loader %s: attempted duplicate class definition for name: %q", l, name)
	}

	c, err := vm.newClass(l, cf, source)
	if err != nil {
		return nil, err
	}
	if err := vm.resolveSuperTypes(t, c); err != nil {
		return nil, err
	}
	lb.record(name, c)
	if err := vm.link(t, c); err != nil {
		return nil, err
	}

	vm.classesLoaded.Add(1)
	vm.classBytes.Add(int64(len(data)))
	loaderLog.Debugf("defined %s (loader %s, source %s)", name, l, source)
	if vm.opts.VerboseClass {
		fmt.Fprintf(vm.stdout, "[Loaded %s from %s]\n", c.JavaName(), source)
	}
	return c, nil
}

func (vm *VM) newClass(l Loader, cf *classfile.ClassFile, source string) (*Class, error) {
	c := &Class{
		name:           cf.ClassName(),
		flags:          cf.AccessFlags,
		loader:         l,
		superName:      cf.SuperClassName(),
		interfaceNames: cf.InterfaceNames(),
		sourceFile:     cf.SourceFile(),
		annotations:    cf.Annotations(),
		source:         source,
		vm:             vm,
	}
	pool, err := newConstantPool(c, cf.ConstantPool)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	c.fields = make([]*Field, 0, len(cf.Fields))
	for _, info := range cf.Fields {
		if !classfile.ValidFieldDescriptor(info.Descriptor) {
			return nil, newVMError(ClassFormatError, "%s: field %s has bad descriptor %q", c.name, info.Name, info.Descriptor)
		}
		c.fields = append(c.fields, newField(c, info))
	}
	c.methods = make([]*Method, 0, len(cf.Methods))
	for _, info := range cf.Methods {
		m, err := newMethod(c, cf, info)
		if err != nil {
			return nil, err
		}
		c.methods = append(c.methods, m)
	}
	return c, nil
}

// resolveSuperTypes loads and checks the superclass and interfaces through
// the class's own loader.
func (vm *VM) resolveSuperTypes(t *Thread, c *Class) error {
	if c.name == "java/lang/Object" {
		if c.superName != "" {
			return newVMError(ClassFormatError, "java/lang/Object may not have a superclass")
		}
	} else {
		if c.superName == "" {
			return newVMError(ClassFormatError, "%s has no superclass", c.name)
		}
		super, err := c.loader.LoadClass(t, c.superName)
		if err != nil {
			return err
		}
		switch {
		case super.IsInterface():
			return newVMError(IncompatibleClassChangeError, "class %s has interface %s as super class", c.JavaName(), super.JavaName())
		case super.IsFinal():
			return newVMError(VerifyError, "Cannot inherit from final class %s", super.JavaName())
		case !classAccessible(c, super):
			return newVMError(IllegalAccessError, "class %s cannot access its superclass %s", c.JavaName(), super.JavaName())
		case c.IsInterface() && super.name != "java/lang/Object":
			return newVMError(ClassFormatError, "interface %s must extend java/lang/Object", c.name)
		}
		c.super = super
	}
	c.interfaces = make([]*Class, 0, len(c.interfaceNames))
	for _, name := range c.interfaceNames {
		iface, err := c.loader.LoadClass(t, name)
		if err != nil {
			return err
		}
		if !iface.IsInterface() {
			return newVMError(IncompatibleClassChangeError, "class %s can not implement %s, because it is not an interface", c.JavaName(), iface.JavaName())
		}
		if !classAccessible(c, iface) {
			return newVMError(IllegalAccessError, "class %s cannot access its superinterface %s", c.JavaName(), iface.JavaName())
		}
		c.interfaces = append(c.interfaces, iface)
	}
	return nil
}

// link prepares c: lays out instance and static slots, allocates static
// storage and seeds static constants.
func (vm *VM) link(t *Thread, c *Class) error {
	n := 0
	if c.super != nil {
		n = c.super.instanceSlotCount
	}
	s := 0
	for _, f := range c.fields {
		width := classfile.SlotWidth(f.desc)
		if f.IsStatic() {
			f.slotID = s
			s += width
		} else {
			f.slotID = n
			n += width
		}
	}
	c.instanceSlotCount = n
	c.staticSlotCount = s
	c.staticVars = newSlots(s)

	for _, f := range c.fields {
		if !f.IsStatic() || f.constValueIndex == 0 {
			continue
		}
		if err := vm.seedConstant(t, c, f); err != nil {
			return err
		}
	}
	c.state = StateLinked
	loaderLog.Debugf("linked %s: %d instance slots, %d static slots", c.name, n, s)
	return nil
}

func (vm *VM) seedConstant(t *Thread, c *Class, f *Field) error {
	idx := int(f.constValueIndex)
	if idx >= c.pool.Len() || c.pool.entries[idx] == nil {
		return newVMError(ClassFormatError, "%s: bad ConstantValue index %d", f, idx)
	}
	mismatch := func() error {
		return newVMError(ClassFormatError, "%s: ConstantValue #%d does not match descriptor", f, idx)
	}
	switch v := c.pool.entries[idx].(type) {
	case int32:
		switch f.desc {
		case "I", "S", "C", "B", "Z":
			c.staticVars.SetInt(f.slotID, v)
		default:
			return mismatch()
		}
	case float32:
		if f.desc != "F" {
			return mismatch()
		}
		c.staticVars.SetFloat(f.slotID, v)
	case int64:
		if f.desc != "J" {
			return mismatch()
		}
		c.staticVars.SetLong(f.slotID, v)
	case float64:
		if f.desc != "D" {
			return mismatch()
		}
		c.staticVars.SetDouble(f.slotID, v)
	case *StringRef:
		if f.desc != "Ljava/lang/String;" {
			return mismatch()
		}
		if err := vm.ensureStringClasses(t); err != nil {
			return err
		}
		c.staticVars.SetRef(f.slotID, v.String(vm))
	default:
		return mismatch()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Array classes
// ---------------------------------------------------------------------------

// arrayClass builds the class named by an array descriptor. The defining
// loader is the component's defining loader; the initiating loader records
// the result too.
func (vm *VM) arrayClass(t *Thread, initiating Loader, name string) (*Class, error) {
	elemDesc := name[1:]
	if !classfile.ValidFieldDescriptor(elemDesc) || elemDesc == "V" {
		return nil, newVMError(NoClassDefFoundError, "%s", name)
	}
	var comp *Class
	if len(elemDesc) == 1 {
		comp = vm.boot.primitiveByLetter(elemDesc[0])
	} else {
		var err error
		comp, err = initiating.LoadClass(t, classfile.ClassNameOf(elemDesc))
		if err != nil {
			return nil, err
		}
	}
	defining := comp.loader
	if c := defining.FindLoadedClass(name); c != nil {
		initiating.base().record(name, c)
		return c, nil
	}

	object, err := vm.boot.FindOrCreate(t, "java/lang/Object")
	if err != nil {
		return nil, err
	}
	cloneable, err := vm.boot.FindOrCreate(t, "java/lang/Cloneable")
	if err != nil {
		return nil, err
	}
	serializable, err := vm.boot.FindOrCreate(t, "java/io/Serializable")
	if err != nil {
		return nil, err
	}
	c := &Class{
		name:           name,
		flags:          comp.flags&classfile.AccPublic | classfile.AccFinal | classfile.AccAbstract,
		loader:         defining,
		superName:      object.name,
		interfaceNames: []string{cloneable.name, serializable.name},
		super:          object,
		interfaces:     []*Class{cloneable, serializable},
		state:          StateInitialized,
		component:      comp,
		vm:             vm,
	}
	c.pool = &ConstantPool{class: c}
	defining.base().record(name, c)
	if initiating != defining {
		initiating.base().record(name, c)
	}
	return c, nil
}
