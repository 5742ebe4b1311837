package classfile

import (
	"errors"
	"fmt"
	"strings"
)

var ErrBadDescriptor = errors.New("malformed descriptor")

// MethodDescriptor is a parsed method descriptor such as "(IJ)V".
type MethodDescriptor struct {
	Params []string
	Return string
}

// ParseMethodDescriptor splits a method descriptor into parameter and
// return field descriptors.
func ParseMethodDescriptor(desc string) (MethodDescriptor, error) {
	var md MethodDescriptor
	if len(desc) < 3 || desc[0] != '(' {
		return md, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n, err := fieldDescriptorLen(desc[i:])
		if err != nil {
			return md, fmt.Errorf("%w: %q", err, desc)
		}
		md.Params = append(md.Params, desc[i:i+n])
		i += n
	}
	if i >= len(desc) {
		return md, fmt.Errorf("%w: unterminated %q", ErrBadDescriptor, desc)
	}
	ret := desc[i+1:]
	if ret != "V" {
		n, err := fieldDescriptorLen(ret)
		if err != nil || n != len(ret) {
			return md, fmt.Errorf("%w: return type of %q", ErrBadDescriptor, desc)
		}
	}
	md.Return = ret
	return md, nil
}

// fieldDescriptorLen returns the length of the field descriptor at the start
// of s.
func fieldDescriptorLen(s string) (int, error) {
	dims := 0
	for dims < len(s) && s[dims] == '[' {
		dims++
	}
	if dims == len(s) {
		return 0, ErrBadDescriptor
	}
	switch s[dims] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return dims + 1, nil
	case 'L':
		end := strings.IndexByte(s[dims:], ';')
		if end < 2 {
			return 0, ErrBadDescriptor
		}
		return dims + end + 1, nil
	}
	return 0, ErrBadDescriptor
}

// ValidFieldDescriptor reports whether s is exactly one field descriptor.
func ValidFieldDescriptor(s string) bool {
	n, err := fieldDescriptorLen(s)
	return err == nil && n == len(s)
}

// SlotWidth returns the number of local-variable slots a value of the given
// field descriptor occupies: 2 for long and double, 0 for void, else 1.
func SlotWidth(desc string) int {
	if desc == "" {
		return 0
	}
	switch desc[0] {
	case 'J', 'D':
		return 2
	case 'V':
		return 0
	}
	return 1
}

// ArgSlots returns the total slot width of the parameters.
func (md MethodDescriptor) ArgSlots() int {
	n := 0
	for _, p := range md.Params {
		n += SlotWidth(p)
	}
	return n
}

// ArgSlotCount returns the slot width of a method's arguments, including the
// receiver when the method is not static.
func ArgSlotCount(desc string, static bool) (int, error) {
	md, err := ParseMethodDescriptor(desc)
	if err != nil {
		return 0, err
	}
	n := md.ArgSlots()
	if !static {
		n++
	}
	return n, nil
}

// IsReference reports whether a field descriptor names an object or array
// type.
func IsReference(desc string) bool {
	return desc != "" && (desc[0] == 'L' || desc[0] == '[')
}

// ClassNameOf converts a field descriptor to the name a loader understands:
// "Ljava/lang/String;" becomes "java/lang/String", array descriptors are
// returned unchanged and primitive letters map to their keyword names.
func ClassNameOf(desc string) string {
	if desc == "" {
		return ""
	}
	if desc[0] == 'L' && desc[len(desc)-1] == ';' {
		return desc[1 : len(desc)-1]
	}
	if desc[0] == '[' {
		return desc
	}
	if name, ok := primitiveNames[desc[0]]; ok && len(desc) == 1 {
		return name
	}
	return desc
}

// DescriptorOf is the inverse of ClassNameOf.
func DescriptorOf(className string) string {
	if className == "" {
		return ""
	}
	if className[0] == '[' {
		return className
	}
	for k, v := range primitiveNames {
		if v == className {
			return string(k)
		}
	}
	return "L" + className + ";"
}

// JavaName converts an internal name to the dotted source form.
func JavaName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

// InternalName converts a dotted name to the slash form.
func InternalName(java string) string {
	return strings.ReplaceAll(java, ".", "/")
}

// PackageName returns the package part of an internal class name, "" for the
// unnamed package. Array names use their element type's package.
func PackageName(internal string) string {
	internal = strings.TrimLeft(internal, "[")
	if strings.HasPrefix(internal, "L") && strings.HasSuffix(internal, ";") {
		internal = internal[1 : len(internal)-1]
	}
	if i := strings.LastIndexByte(internal, '/'); i >= 0 {
		return internal[:i]
	}
	return ""
}

var primitiveNames = map[byte]string{
	'Z': "boolean",
	'B': "byte",
	'C': "char",
	'S': "short",
	'I': "int",
	'J': "long",
	'F': "float",
	'D': "double",
	'V': "void",
}

// PrimitiveName returns the keyword for a primitive descriptor letter.
func PrimitiveName(letter byte) (string, bool) {
	name, ok := primitiveNames[letter]
	return name, ok
}
