package classfile

import (
	"fmt"
)

// Magic is the first four bytes of every class file.
const Magic = 0xCAFEBABE

// Highest major version the decoder accepts (Java 8).
const MaxMajorVersion = 52

// ---------------------------------------------------------------------------
// Neutral form
// ---------------------------------------------------------------------------

// ClassFile is the decoded, loader-independent form of one class file.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	ConstantPool ConstantPool
	AccessFlags  AccessFlags
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []*FieldInfo
	Methods      []*MethodInfo
	Attributes   []Attribute
}

// FieldInfo is one entry of the fields table.
type FieldInfo struct {
	AccessFlags     AccessFlags
	NameIndex       uint16
	DescriptorIndex uint16
	Name            string
	Descriptor      string
	Attributes      []Attribute
}

// MethodInfo is one entry of the methods table.
type MethodInfo struct {
	AccessFlags     AccessFlags
	NameIndex       uint16
	DescriptorIndex uint16
	Name            string
	Descriptor      string
	Attributes      []Attribute
}

// ClassName returns the internal name of this class.
func (cf *ClassFile) ClassName() string {
	name, _ := cf.ConstantPool.ClassName(cf.ThisClass)
	return name
}

// SuperClassName returns the internal name of the super class, or "" for
// java/lang/Object.
func (cf *ClassFile) SuperClassName() string {
	if cf.SuperClass == 0 {
		return ""
	}
	name, _ := cf.ConstantPool.ClassName(cf.SuperClass)
	return name
}

// InterfaceNames returns the internal names of the direct superinterfaces.
func (cf *ClassFile) InterfaceNames() []string {
	names := make([]string, 0, len(cf.Interfaces))
	for _, idx := range cf.Interfaces {
		name, _ := cf.ConstantPool.ClassName(idx)
		names = append(names, name)
	}
	return names
}

// SourceFile returns the SourceFile attribute value, or "".
func (cf *ClassFile) SourceFile() string {
	for _, a := range cf.Attributes {
		if sf, ok := a.(*SourceFileAttribute); ok {
			s, _ := cf.ConstantPool.Utf8(sf.SourceFileIndex)
			return s
		}
	}
	return ""
}

// Annotations returns the raw RuntimeVisibleAnnotations bytes, or nil.
func (cf *ClassFile) Annotations() []byte {
	return annotationsOf(cf.Attributes)
}

// FindAttribute returns the first attribute with the given name.
func FindAttribute(attrs []Attribute, name string) Attribute {
	for _, a := range attrs {
		if a.Header().Name == name {
			return a
		}
	}
	return nil
}

func annotationsOf(attrs []Attribute) []byte {
	if a, ok := FindAttribute(attrs, AttrRuntimeVisibleAnnots).(*AnnotationsAttribute); ok {
		return a.Data
	}
	return nil
}

// ConstantValueIndex returns the pool index of the field's ConstantValue
// attribute, or 0.
func (f *FieldInfo) ConstantValueIndex() uint16 {
	if cv, ok := FindAttribute(f.Attributes, AttrConstantValue).(*ConstantValueAttribute); ok {
		return cv.ValueIndex
	}
	return 0
}

// Code returns the method's Code attribute, or nil for abstract and native
// methods.
func (m *MethodInfo) Code() *CodeAttribute {
	code, _ := FindAttribute(m.Attributes, AttrCode).(*CodeAttribute)
	return code
}

// Exceptions returns the pool indexes of declared checked exceptions.
func (m *MethodInfo) Exceptions() []uint16 {
	if ex, ok := FindAttribute(m.Attributes, AttrExceptions).(*ExceptionsAttribute); ok {
		return ex.ExceptionIndexes
	}
	return nil
}

// Annotations returns the method's raw RuntimeVisibleAnnotations bytes.
func (m *MethodInfo) Annotations() []byte {
	return annotationsOf(m.Attributes)
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Parse decodes a class file. It performs only structural checks: magic,
// version, well-formed pool, attribute lengths and member name indexes.
func Parse(data []byte) (*ClassFile, error) {
	r := NewReader(data)

	if magic := r.ReadU32(); r.Err() != nil {
		return nil, r.Err()
	} else if magic != Magic {
		return nil, fmt.Errorf("%w: 0x%08X", ErrBadMagic, magic)
	}

	cf := &ClassFile{}
	cf.MinorVersion = r.ReadU16()
	cf.MajorVersion = r.ReadU16()
	if r.Err() != nil {
		return nil, r.Err()
	}
	if !SupportedVersion(cf.MajorVersion, cf.MinorVersion) {
		return nil, fmt.Errorf("%w: %d.%d", ErrUnsupportedVersion, cf.MajorVersion, cf.MinorVersion)
	}

	var err error
	if cf.ConstantPool, err = readConstantPool(r); err != nil {
		return nil, err
	}

	cf.AccessFlags = AccessFlags(r.ReadU16())
	cf.ThisClass = r.ReadU16()
	cf.SuperClass = r.ReadU16()
	cf.Interfaces = r.ReadU16Table()
	if r.Err() != nil {
		return nil, r.Err()
	}
	if _, err := cf.ConstantPool.ClassName(cf.ThisClass); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	if cf.SuperClass != 0 {
		if _, err := cf.ConstantPool.ClassName(cf.SuperClass); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}
	for _, idx := range cf.Interfaces {
		if _, err := cf.ConstantPool.ClassName(idx); err != nil {
			return nil, fmt.Errorf("interfaces: %w", err)
		}
	}

	nfields := int(r.ReadU16())
	for i := 0; i < nfields; i++ {
		f := &FieldInfo{}
		f.AccessFlags = AccessFlags(r.ReadU16())
		if f.Name, f.Descriptor, f.NameIndex, f.DescriptorIndex, err = readMemberNames(r, cf.ConstantPool); err != nil {
			return nil, fmt.Errorf("field #%d: %w", i, err)
		}
		if f.Attributes, err = readAttributes(r, cf.ConstantPool); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		cf.Fields = append(cf.Fields, f)
	}

	nmethods := int(r.ReadU16())
	for i := 0; i < nmethods; i++ {
		m := &MethodInfo{}
		m.AccessFlags = AccessFlags(r.ReadU16())
		if m.Name, m.Descriptor, m.NameIndex, m.DescriptorIndex, err = readMemberNames(r, cf.ConstantPool); err != nil {
			return nil, fmt.Errorf("method #%d: %w", i, err)
		}
		if m.Attributes, err = readAttributes(r, cf.ConstantPool); err != nil {
			return nil, fmt.Errorf("method %s%s: %w", m.Name, m.Descriptor, err)
		}
		cf.Methods = append(cf.Methods, m)
	}

	if cf.Attributes, err = readAttributes(r, cf.ConstantPool); err != nil {
		return nil, fmt.Errorf("class attributes: %w", err)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadAttribute, r.Remaining())
	}
	return cf, nil
}

// SupportedVersion reports whether major.minor is accepted: any 45.x, and
// 46 through 52 with minor 0.
func SupportedVersion(major, minor uint16) bool {
	switch {
	case major == 45:
		return true
	case major >= 46 && major <= MaxMajorVersion:
		return minor == 0
	}
	return false
}

func readMemberNames(r *Reader, pool ConstantPool) (name, desc string, nameIdx, descIdx uint16, err error) {
	nameIdx = r.ReadU16()
	descIdx = r.ReadU16()
	if r.Err() != nil {
		return "", "", 0, 0, r.Err()
	}
	if name, err = pool.Utf8(nameIdx); err != nil {
		return "", "", 0, 0, err
	}
	if desc, err = pool.Utf8(descIdx); err != nil {
		return "", "", 0, 0, err
	}
	return name, desc, nameIdx, descIdx, nil
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Encode writes cf back to the binary class format. Decoding a class file
// and encoding the result reproduces the input bytes.
func Encode(cf *ClassFile) []byte {
	w := &Writer{}
	w.WriteU32(Magic)
	w.WriteU16(cf.MinorVersion)
	w.WriteU16(cf.MajorVersion)
	writeConstantPool(w, cf.ConstantPool)
	w.WriteU16(uint16(cf.AccessFlags))
	w.WriteU16(cf.ThisClass)
	w.WriteU16(cf.SuperClass)
	w.WriteU16Table(cf.Interfaces)

	w.WriteU16(uint16(len(cf.Fields)))
	for _, f := range cf.Fields {
		w.WriteU16(uint16(f.AccessFlags))
		w.WriteU16(f.NameIndex)
		w.WriteU16(f.DescriptorIndex)
		writeAttributes(w, f.Attributes)
	}
	w.WriteU16(uint16(len(cf.Methods)))
	for _, m := range cf.Methods {
		w.WriteU16(uint16(m.AccessFlags))
		w.WriteU16(m.NameIndex)
		w.WriteU16(m.DescriptorIndex)
		writeAttributes(w, m.Attributes)
	}
	writeAttributes(w, cf.Attributes)
	return w.Bytes()
}
