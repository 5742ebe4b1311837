package classfile

import "fmt"

// ---------------------------------------------------------------------------
// Attributes
// ---------------------------------------------------------------------------

// Attribute names the decoder understands.
const (
	AttrCode                   = "Code"
	AttrConstantValue          = "ConstantValue"
	AttrExceptions             = "Exceptions"
	AttrLineNumberTable        = "LineNumberTable"
	AttrSourceFile             = "SourceFile"
	AttrStackMapTable          = "StackMapTable"
	AttrDeprecated             = "Deprecated"
	AttrSynthetic              = "Synthetic"
	AttrRuntimeVisibleAnnots   = "RuntimeVisibleAnnotations"
	AttrLocalVariableTable     = "LocalVariableTable"
	AttrLocalVariableTypeTable = "LocalVariableTypeTable"
	AttrEnclosingMethod        = "EnclosingMethod"
	AttrInnerClasses           = "InnerClasses"
	AttrBootstrapMethods       = "BootstrapMethods"
	AttrSignature              = "Signature"
)

// AttributeHeader is embedded in every attribute and records the pool index
// of its name so encoding reproduces the original bytes.
type AttributeHeader struct {
	NameIndex uint16
	Name      string
}

// Header returns the attribute's name and name index.
func (h AttributeHeader) Header() AttributeHeader { return h }

// Attribute is any decoded attribute.
type Attribute interface {
	Header() AttributeHeader
}

// ExceptionTableEntry is one row of a Code attribute's exception table.
// CatchType 0 means "any" (a finally handler).
type ExceptionTableEntry struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

// CodeAttribute carries a method body.
type CodeAttribute struct {
	AttributeHeader
	MaxStack       uint16
	MaxLocals      uint16
	Code           []byte
	ExceptionTable []ExceptionTableEntry
	Attributes     []Attribute
}

// LineNumbers returns the entries of the first LineNumberTable attribute
// nested in the code attribute, merged if there are several.
func (c *CodeAttribute) LineNumbers() []LineNumberEntry {
	var out []LineNumberEntry
	for _, a := range c.Attributes {
		if lnt, ok := a.(*LineNumberTableAttribute); ok {
			out = append(out, lnt.Entries...)
		}
	}
	return out
}

type ConstantValueAttribute struct {
	AttributeHeader
	ValueIndex uint16
}

type ExceptionsAttribute struct {
	AttributeHeader
	ExceptionIndexes []uint16
}

type LineNumberEntry struct {
	StartPC    uint16
	LineNumber uint16
}

type LineNumberTableAttribute struct {
	AttributeHeader
	Entries []LineNumberEntry
}

type SourceFileAttribute struct {
	AttributeHeader
	SourceFileIndex uint16
}

// StackMapTableAttribute is not interpreted; its bytes are kept verbatim.
type StackMapTableAttribute struct {
	AttributeHeader
	Data []byte
}

// MarkerAttribute is a zero-length attribute such as Deprecated or Synthetic.
type MarkerAttribute struct {
	AttributeHeader
}

// AnnotationsAttribute keeps RuntimeVisibleAnnotations bytes opaque.
type AnnotationsAttribute struct {
	AttributeHeader
	Data []byte
}

type LocalVariableEntry struct {
	StartPC         uint16
	Length          uint16
	NameIndex       uint16
	DescriptorIndex uint16 // signature index for LocalVariableTypeTable
	Index           uint16
}

// LocalVariableTableAttribute is used for both LocalVariableTable and
// LocalVariableTypeTable; Name tells them apart.
type LocalVariableTableAttribute struct {
	AttributeHeader
	Entries []LocalVariableEntry
}

type EnclosingMethodAttribute struct {
	AttributeHeader
	ClassIndex  uint16
	MethodIndex uint16
}

type InnerClassEntry struct {
	InnerClassInfoIndex   uint16
	OuterClassInfoIndex   uint16
	InnerNameIndex        uint16
	InnerClassAccessFlags AccessFlags
}

type InnerClassesAttribute struct {
	AttributeHeader
	Classes []InnerClassEntry
}

type BootstrapMethod struct {
	MethodRef uint16
	Arguments []uint16
}

type BootstrapMethodsAttribute struct {
	AttributeHeader
	Methods []BootstrapMethod
}

type SignatureAttribute struct {
	AttributeHeader
	SignatureIndex uint16
}

// UnknownAttribute is any attribute the decoder does not interpret.
type UnknownAttribute struct {
	AttributeHeader
	Data []byte
}

// ---------------------------------------------------------------------------
// Attribute decoding
// ---------------------------------------------------------------------------

func readAttributes(r *Reader, pool ConstantPool) ([]Attribute, error) {
	n := int(r.ReadU16())
	if r.Err() != nil {
		return nil, r.Err()
	}
	attrs := make([]Attribute, 0, n)
	for i := 0; i < n; i++ {
		a, err := readAttribute(r, pool)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

func readAttribute(r *Reader, pool ConstantPool) (Attribute, error) {
	nameIndex := r.ReadU16()
	length := int(r.ReadU32())
	if r.Err() != nil {
		return nil, r.Err()
	}
	name, err := pool.Utf8(nameIndex)
	if err != nil {
		return nil, fmt.Errorf("attribute name: %w", err)
	}
	if length > r.Remaining() {
		return nil, fmt.Errorf("%w: attribute %s length %d exceeds remaining %d",
			ErrTruncated, name, length, r.Remaining())
	}
	body := NewReader(r.ReadBytes(length))
	h := AttributeHeader{NameIndex: nameIndex, Name: name}

	var a Attribute
	switch name {
	case AttrCode:
		code := &CodeAttribute{AttributeHeader: h}
		code.MaxStack = body.ReadU16()
		code.MaxLocals = body.ReadU16()
		codeLen := int(body.ReadU32())
		if body.Err() == nil && (codeLen == 0 || codeLen >= 65536) {
			return nil, fmt.Errorf("%w: code length %d", ErrBadAttribute, codeLen)
		}
		code.Code = body.ReadBytes(codeLen)
		nex := int(body.ReadU16())
		for i := 0; i < nex && body.Err() == nil; i++ {
			code.ExceptionTable = append(code.ExceptionTable, ExceptionTableEntry{
				StartPC:   body.ReadU16(),
				EndPC:     body.ReadU16(),
				HandlerPC: body.ReadU16(),
				CatchType: body.ReadU16(),
			})
		}
		if body.Err() != nil {
			return nil, fmt.Errorf("Code: %w", body.Err())
		}
		if code.Attributes, err = readAttributes(body, pool); err != nil {
			return nil, fmt.Errorf("Code: %w", err)
		}
		a = code
	case AttrConstantValue:
		a = &ConstantValueAttribute{AttributeHeader: h, ValueIndex: body.ReadU16()}
	case AttrExceptions:
		a = &ExceptionsAttribute{AttributeHeader: h, ExceptionIndexes: body.ReadU16Table()}
	case AttrLineNumberTable:
		lnt := &LineNumberTableAttribute{AttributeHeader: h}
		n := int(body.ReadU16())
		for i := 0; i < n && body.Err() == nil; i++ {
			lnt.Entries = append(lnt.Entries, LineNumberEntry{StartPC: body.ReadU16(), LineNumber: body.ReadU16()})
		}
		a = lnt
	case AttrSourceFile:
		a = &SourceFileAttribute{AttributeHeader: h, SourceFileIndex: body.ReadU16()}
	case AttrStackMapTable:
		a = &StackMapTableAttribute{AttributeHeader: h, Data: body.ReadBytes(length)}
	case AttrDeprecated, AttrSynthetic:
		a = &MarkerAttribute{AttributeHeader: h}
	case AttrRuntimeVisibleAnnots:
		a = &AnnotationsAttribute{AttributeHeader: h, Data: body.ReadBytes(length)}
	case AttrLocalVariableTable, AttrLocalVariableTypeTable:
		lvt := &LocalVariableTableAttribute{AttributeHeader: h}
		n := int(body.ReadU16())
		for i := 0; i < n && body.Err() == nil; i++ {
			lvt.Entries = append(lvt.Entries, LocalVariableEntry{
				StartPC:         body.ReadU16(),
				Length:          body.ReadU16(),
				NameIndex:       body.ReadU16(),
				DescriptorIndex: body.ReadU16(),
				Index:           body.ReadU16(),
			})
		}
		a = lvt
	case AttrEnclosingMethod:
		a = &EnclosingMethodAttribute{AttributeHeader: h, ClassIndex: body.ReadU16(), MethodIndex: body.ReadU16()}
	case AttrInnerClasses:
		ic := &InnerClassesAttribute{AttributeHeader: h}
		n := int(body.ReadU16())
		for i := 0; i < n && body.Err() == nil; i++ {
			ic.Classes = append(ic.Classes, InnerClassEntry{
				InnerClassInfoIndex:   body.ReadU16(),
				OuterClassInfoIndex:   body.ReadU16(),
				InnerNameIndex:        body.ReadU16(),
				InnerClassAccessFlags: AccessFlags(body.ReadU16()),
			})
		}
		a = ic
	case AttrBootstrapMethods:
		bm := &BootstrapMethodsAttribute{AttributeHeader: h}
		n := int(body.ReadU16())
		for i := 0; i < n && body.Err() == nil; i++ {
			ref := body.ReadU16()
			bm.Methods = append(bm.Methods, BootstrapMethod{MethodRef: ref, Arguments: body.ReadU16Table()})
		}
		a = bm
	case AttrSignature:
		a = &SignatureAttribute{AttributeHeader: h, SignatureIndex: body.ReadU16()}
	default:
		a = &UnknownAttribute{AttributeHeader: h, Data: body.ReadBytes(length)}
	}
	if body.Err() != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadAttribute, name, body.Err())
	}
	if body.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %s has %d trailing bytes", ErrBadAttribute, name, body.Remaining())
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Attribute encoding
// ---------------------------------------------------------------------------

func writeAttributes(w *Writer, attrs []Attribute) {
	w.WriteU16(uint16(len(attrs)))
	for _, a := range attrs {
		writeAttribute(w, a)
	}
}

func writeAttribute(w *Writer, a Attribute) {
	var body Writer
	switch a := a.(type) {
	case *CodeAttribute:
		body.WriteU16(a.MaxStack)
		body.WriteU16(a.MaxLocals)
		body.WriteU32(uint32(len(a.Code)))
		body.WriteBytes(a.Code)
		body.WriteU16(uint16(len(a.ExceptionTable)))
		for _, e := range a.ExceptionTable {
			body.WriteU16(e.StartPC)
			body.WriteU16(e.EndPC)
			body.WriteU16(e.HandlerPC)
			body.WriteU16(e.CatchType)
		}
		writeAttributes(&body, a.Attributes)
	case *ConstantValueAttribute:
		body.WriteU16(a.ValueIndex)
	case *ExceptionsAttribute:
		body.WriteU16Table(a.ExceptionIndexes)
	case *LineNumberTableAttribute:
		body.WriteU16(uint16(len(a.Entries)))
		for _, e := range a.Entries {
			body.WriteU16(e.StartPC)
			body.WriteU16(e.LineNumber)
		}
	case *SourceFileAttribute:
		body.WriteU16(a.SourceFileIndex)
	case *StackMapTableAttribute:
		body.WriteBytes(a.Data)
	case *MarkerAttribute:
	case *AnnotationsAttribute:
		body.WriteBytes(a.Data)
	case *LocalVariableTableAttribute:
		body.WriteU16(uint16(len(a.Entries)))
		for _, e := range a.Entries {
			body.WriteU16(e.StartPC)
			body.WriteU16(e.Length)
			body.WriteU16(e.NameIndex)
			body.WriteU16(e.DescriptorIndex)
			body.WriteU16(e.Index)
		}
	case *EnclosingMethodAttribute:
		body.WriteU16(a.ClassIndex)
		body.WriteU16(a.MethodIndex)
	case *InnerClassesAttribute:
		body.WriteU16(uint16(len(a.Classes)))
		for _, c := range a.Classes {
			body.WriteU16(c.InnerClassInfoIndex)
			body.WriteU16(c.OuterClassInfoIndex)
			body.WriteU16(c.InnerNameIndex)
			body.WriteU16(uint16(c.InnerClassAccessFlags))
		}
	case *BootstrapMethodsAttribute:
		body.WriteU16(uint16(len(a.Methods)))
		for _, m := range a.Methods {
			body.WriteU16(m.MethodRef)
			body.WriteU16Table(m.Arguments)
		}
	case *SignatureAttribute:
		body.WriteU16(a.SignatureIndex)
	case *UnknownAttribute:
		body.WriteBytes(a.Data)
	}
	w.WriteU16(a.Header().NameIndex)
	w.WriteU32(uint32(body.Len()))
	w.WriteBytes(body.Bytes())
}
