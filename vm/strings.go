package vm

import "unicode/utf16"

// ---------------------------------------------------------------------------
// java/lang/String bridging
// ---------------------------------------------------------------------------

const (
	stringValueField = "value"
	stringValueDesc  = "[C"
)

// StringUnits returns the UTF-16 code units of a String object.
func StringUnits(o *Object) []uint16 {
	if o == nil {
		return nil
	}
	value := o.GetRefField(stringValueField, stringValueDesc)
	if value == nil {
		return nil
	}
	return value.Chars()
}

// GoString converts a String object to a Go string. Unpaired surrogates
// become U+FFFD. A nil object yields "".
func GoString(o *Object) string {
	return string(utf16.Decode(StringUnits(o)))
}

// NewString allocates a fresh, non-interned String holding s.
func (vm *VM) NewString(s string) *Object {
	return vm.NewStringUnits(utf16.Encode([]rune(s)))
}

// NewStringUnits allocates a fresh String holding a copy of units.
func (vm *VM) NewStringUnits(units []uint16) *Object {
	chars := newArray(vm.charArrayClass, int32(len(units)))
	copy(chars.Chars(), units)
	o := newObject(vm.stringClass)
	o.SetRefField(stringValueField, stringValueDesc, chars)
	return o
}

// Intern returns the canonical String object for s.
func (vm *VM) Intern(s string) *Object {
	return vm.InternUnits(utf16.Encode([]rune(s)))
}

// InternUnits returns the canonical String object for a code-unit sequence.
func (vm *VM) InternUnits(units []uint16) *Object {
	return vm.interned.Intern(units, func() *Object {
		return vm.NewStringUnits(units)
	})
}

// internObject implements String.intern: o itself becomes canonical when its
// value is not yet pooled.
func (vm *VM) internObject(o *Object) *Object {
	return vm.interned.Intern(StringUnits(o), func() *Object { return o })
}

// NewStringArray builds a String[] from Go strings.
func (vm *VM) NewStringArray(t *Thread, values []string) (*Object, error) {
	arrClass, err := vm.stringClass.ArrayClass(t)
	if err != nil {
		return nil, err
	}
	arr := newArray(arrClass, int32(len(values)))
	refs := arr.Refs()
	for i, s := range values {
		refs[i] = vm.NewString(s)
	}
	return arr, nil
}
