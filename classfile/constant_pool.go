package classfile

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Constant pool neutral form
// ---------------------------------------------------------------------------

// ConstantTag identifies the kind of a constant pool entry.
type ConstantTag uint8

const (
	TagUtf8               ConstantTag = 1
	TagInteger            ConstantTag = 3
	TagFloat              ConstantTag = 4
	TagLong               ConstantTag = 5
	TagDouble             ConstantTag = 6
	TagClass              ConstantTag = 7
	TagString             ConstantTag = 8
	TagFieldref           ConstantTag = 9
	TagMethodref          ConstantTag = 10
	TagInterfaceMethodref ConstantTag = 11
	TagNameAndType        ConstantTag = 12
	TagMethodHandle       ConstantTag = 15
	TagMethodType         ConstantTag = 16
	TagInvokeDynamic      ConstantTag = 18
)

// Constant is implemented by every constant pool entry kind.
type Constant interface {
	Tag() ConstantTag
}

// ConstantUtf8 holds a modified UTF-8 string. Raw keeps the exact encoded
// bytes so re-encoding is byte-identical even for strings Value cannot
// represent (lone surrogates).
type ConstantUtf8 struct {
	Value string
	Raw   []byte
}

type ConstantInteger struct{ Value int32 }

type ConstantFloat struct{ Value float32 }

// ConstantLong occupies two pool indices; the second is nil.
type ConstantLong struct{ Value int64 }

// ConstantDouble occupies two pool indices; the second is nil.
type ConstantDouble struct{ Value float64 }

type ConstantClass struct{ NameIndex uint16 }

type ConstantString struct{ StringIndex uint16 }

// ConstantMemberRef is the shared shape of Fieldref, Methodref and
// InterfaceMethodref entries.
type ConstantMemberRef struct {
	Kind             ConstantTag
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

type ConstantNameAndType struct {
	NameIndex       uint16
	DescriptorIndex uint16
}

type ConstantMethodHandle struct {
	ReferenceKind  uint8
	ReferenceIndex uint16
}

type ConstantMethodType struct{ DescriptorIndex uint16 }

type ConstantInvokeDynamic struct {
	BootstrapMethodAttrIndex uint16
	NameAndTypeIndex         uint16
}

func (c *ConstantUtf8) Tag() ConstantTag          { return TagUtf8 }
func (c *ConstantInteger) Tag() ConstantTag       { return TagInteger }
func (c *ConstantFloat) Tag() ConstantTag         { return TagFloat }
func (c *ConstantLong) Tag() ConstantTag          { return TagLong }
func (c *ConstantDouble) Tag() ConstantTag        { return TagDouble }
func (c *ConstantClass) Tag() ConstantTag         { return TagClass }
func (c *ConstantString) Tag() ConstantTag        { return TagString }
func (c *ConstantMemberRef) Tag() ConstantTag     { return c.Kind }
func (c *ConstantNameAndType) Tag() ConstantTag   { return TagNameAndType }
func (c *ConstantMethodHandle) Tag() ConstantTag  { return TagMethodHandle }
func (c *ConstantMethodType) Tag() ConstantTag    { return TagMethodType }
func (c *ConstantInvokeDynamic) Tag() ConstantTag { return TagInvokeDynamic }

// ConstantPool is the one-indexed constant table. Index 0 and the slot after
// every Long and Double are nil.
type ConstantPool []Constant

// Len returns constant_pool_count, i.e. one more than the highest index.
func (p ConstantPool) Len() int {
	return len(p)
}

// Get returns the entry at index, or an error if index is out of range or
// names a placeholder slot.
func (p ConstantPool) Get(index uint16) (Constant, error) {
	if index == 0 || int(index) >= len(p) || p[index] == nil {
		return nil, fmt.Errorf("%w: %d", ErrBadIndex, index)
	}
	return p[index], nil
}

// Utf8 returns the string at a Utf8 entry.
func (p ConstantPool) Utf8(index uint16) (string, error) {
	c, err := p.Get(index)
	if err != nil {
		return "", err
	}
	u, ok := c.(*ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("%w: index %d is tag %d, want Utf8", ErrBadIndex, index, c.Tag())
	}
	return u.Value, nil
}

// ClassName returns the internal name a Class entry points at.
func (p ConstantPool) ClassName(index uint16) (string, error) {
	c, err := p.Get(index)
	if err != nil {
		return "", err
	}
	cc, ok := c.(*ConstantClass)
	if !ok {
		return "", fmt.Errorf("%w: index %d is tag %d, want Class", ErrBadIndex, index, c.Tag())
	}
	return p.Utf8(cc.NameIndex)
}

// NameAndType returns the name and descriptor of a NameAndType entry.
func (p ConstantPool) NameAndType(index uint16) (name, descriptor string, err error) {
	c, err := p.Get(index)
	if err != nil {
		return "", "", err
	}
	nt, ok := c.(*ConstantNameAndType)
	if !ok {
		return "", "", fmt.Errorf("%w: index %d is tag %d, want NameAndType", ErrBadIndex, index, c.Tag())
	}
	if name, err = p.Utf8(nt.NameIndex); err != nil {
		return "", "", err
	}
	descriptor, err = p.Utf8(nt.DescriptorIndex)
	return name, descriptor, err
}

// MemberRef returns the owner class name, member name and descriptor of a
// Fieldref, Methodref or InterfaceMethodref entry.
func (p ConstantPool) MemberRef(index uint16) (class, name, descriptor string, err error) {
	c, err := p.Get(index)
	if err != nil {
		return "", "", "", err
	}
	ref, ok := c.(*ConstantMemberRef)
	if !ok {
		return "", "", "", fmt.Errorf("%w: index %d is tag %d, want member ref", ErrBadIndex, index, c.Tag())
	}
	if class, err = p.ClassName(ref.ClassIndex); err != nil {
		return "", "", "", err
	}
	name, descriptor, err = p.NameAndType(ref.NameAndTypeIndex)
	return class, name, descriptor, err
}

// ---------------------------------------------------------------------------
// Decoding and encoding of individual entries
// ---------------------------------------------------------------------------

func readConstantPool(r *Reader) (ConstantPool, error) {
	count := int(r.ReadU16())
	if r.Err() != nil {
		return nil, r.Err()
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: constant_pool_count is 0", ErrBadConstant)
	}
	pool := make(ConstantPool, count)
	for i := 1; i < count; i++ {
		c, err := readConstant(r)
		if err != nil {
			return nil, fmt.Errorf("constant #%d: %w", i, err)
		}
		pool[i] = c
		if c.Tag() == TagLong || c.Tag() == TagDouble {
			i++
			if i >= count {
				return nil, fmt.Errorf("%w: wide constant #%d overruns pool", ErrBadConstant, i-1)
			}
		}
	}
	return pool, nil
}

func readConstant(r *Reader) (Constant, error) {
	tag := ConstantTag(r.ReadU8())
	var c Constant
	switch tag {
	case TagUtf8:
		raw := r.ReadBytes(int(r.ReadU16()))
		if r.Err() != nil {
			return nil, r.Err()
		}
		s, err := DecodeMUTF8(raw)
		if err != nil {
			return nil, err
		}
		c = &ConstantUtf8{Value: s, Raw: raw}
	case TagInteger:
		c = &ConstantInteger{Value: int32(r.ReadU32())}
	case TagFloat:
		c = &ConstantFloat{Value: math.Float32frombits(r.ReadU32())}
	case TagLong:
		c = &ConstantLong{Value: int64(r.ReadU64())}
	case TagDouble:
		c = &ConstantDouble{Value: math.Float64frombits(r.ReadU64())}
	case TagClass:
		c = &ConstantClass{NameIndex: r.ReadU16()}
	case TagString:
		c = &ConstantString{StringIndex: r.ReadU16()}
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		c = &ConstantMemberRef{Kind: tag, ClassIndex: r.ReadU16(), NameAndTypeIndex: r.ReadU16()}
	case TagNameAndType:
		c = &ConstantNameAndType{NameIndex: r.ReadU16(), DescriptorIndex: r.ReadU16()}
	case TagMethodHandle:
		c = &ConstantMethodHandle{ReferenceKind: r.ReadU8(), ReferenceIndex: r.ReadU16()}
	case TagMethodType:
		c = &ConstantMethodType{DescriptorIndex: r.ReadU16()}
	case TagInvokeDynamic:
		c = &ConstantInvokeDynamic{BootstrapMethodAttrIndex: r.ReadU16(), NameAndTypeIndex: r.ReadU16()}
	default:
		if r.Err() != nil {
			return nil, r.Err()
		}
		return nil, fmt.Errorf("%w: unknown tag %d", ErrBadConstant, tag)
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return c, nil
}

func writeConstantPool(w *Writer, pool ConstantPool) {
	w.WriteU16(uint16(len(pool)))
	for i := 1; i < len(pool); i++ {
		c := pool[i]
		if c == nil {
			continue
		}
		w.WriteU8(uint8(c.Tag()))
		switch c := c.(type) {
		case *ConstantUtf8:
			raw := c.Raw
			if raw == nil {
				raw = EncodeMUTF8(c.Value)
			}
			w.WriteU16(uint16(len(raw)))
			w.WriteBytes(raw)
		case *ConstantInteger:
			w.WriteU32(uint32(c.Value))
		case *ConstantFloat:
			w.WriteU32(math.Float32bits(c.Value))
		case *ConstantLong:
			w.WriteU64(uint64(c.Value))
		case *ConstantDouble:
			w.WriteU64(math.Float64bits(c.Value))
		case *ConstantClass:
			w.WriteU16(c.NameIndex)
		case *ConstantString:
			w.WriteU16(c.StringIndex)
		case *ConstantMemberRef:
			w.WriteU16(c.ClassIndex)
			w.WriteU16(c.NameAndTypeIndex)
		case *ConstantNameAndType:
			w.WriteU16(c.NameIndex)
			w.WriteU16(c.DescriptorIndex)
		case *ConstantMethodHandle:
			w.WriteU8(c.ReferenceKind)
			w.WriteU16(c.ReferenceIndex)
		case *ConstantMethodType:
			w.WriteU16(c.DescriptorIndex)
		case *ConstantInvokeDynamic:
			w.WriteU16(c.BootstrapMethodAttrIndex)
			w.WriteU16(c.NameAndTypeIndex)
		}
	}
}
