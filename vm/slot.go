package vm

import "math"

// ---------------------------------------------------------------------------
// Slot: one 32-bit cell of locals, operand stack or field storage
// ---------------------------------------------------------------------------

// Slot holds either a 32-bit scalar or an object reference, never both.
// Longs and doubles span two slots, low half first.
type Slot struct {
	num int32
	ref *Object
}

// IntSlot returns a scalar slot.
func IntSlot(v int32) Slot { return Slot{num: v} }

// FloatSlot returns a slot holding the bit pattern of v.
func FloatSlot(v float32) Slot { return Slot{num: int32(math.Float32bits(v))} }

// RefSlot returns a reference slot. A nil object is the Java null.
func RefSlot(o *Object) Slot { return Slot{ref: o} }

func (s Slot) Int() int32      { return s.num }
func (s Slot) Float() float32  { return math.Float32frombits(uint32(s.num)) }
func (s Slot) Ref() *Object    { return s.ref }
func (s Slot) IsNullRef() bool { return s.ref == nil }
func (s Slot) Bool() bool      { return s.num != 0 }

// LongSlots splits v into its low and high halves.
func LongSlots(v int64) (lo, hi Slot) {
	return Slot{num: int32(uint32(v))}, Slot{num: int32(uint32(uint64(v) >> 32))}
}

// JoinLong is the inverse of LongSlots.
func JoinLong(lo, hi Slot) int64 {
	return int64(uint64(uint32(hi.num))<<32 | uint64(uint32(lo.num)))
}

// DoubleSlots splits the bit pattern of v into two slots.
func DoubleSlots(v float64) (lo, hi Slot) {
	return LongSlots(int64(math.Float64bits(v)))
}

// JoinDouble is the inverse of DoubleSlots.
func JoinDouble(lo, hi Slot) float64 {
	return math.Float64frombits(uint64(JoinLong(lo, hi)))
}

// BoolSlot returns 1 for true and 0 for false.
func BoolSlot(b bool) Slot {
	if b {
		return Slot{num: 1}
	}
	return Slot{}
}

// ---------------------------------------------------------------------------
// Slots: a fixed-length vector addressed by slot id
// ---------------------------------------------------------------------------

// Slots is used for locals, instance fields and static storage.
type Slots []Slot

func newSlots(n int) Slots {
	if n == 0 {
		return nil
	}
	return make(Slots, n)
}

func (s Slots) Int(i int) int32         { return s[i].num }
func (s Slots) SetInt(i int, v int32)   { s[i] = Slot{num: v} }
func (s Slots) Ref(i int) *Object       { return s[i].ref }
func (s Slots) SetRef(i int, o *Object) { s[i] = Slot{ref: o} }

func (s Slots) Float(i int) float32 {
	return s[i].Float()
}

func (s Slots) SetFloat(i int, v float32) {
	s[i] = FloatSlot(v)
}

func (s Slots) Long(i int) int64 {
	return JoinLong(s[i], s[i+1])
}

func (s Slots) SetLong(i int, v int64) {
	s[i], s[i+1] = LongSlots(v)
}

func (s Slots) Double(i int) float64 {
	return JoinDouble(s[i], s[i+1])
}

func (s Slots) SetDouble(i int, v float64) {
	s[i], s[i+1] = DoubleSlots(v)
}

// Get reads a value of the given field descriptor starting at slot i, as
// one or two slots.
func (s Slots) Get(i int, desc string) []Slot {
	if isWide(desc) {
		return []Slot{s[i], s[i+1]}
	}
	return []Slot{s[i]}
}

func isWide(desc string) bool {
	return desc != "" && (desc[0] == 'J' || desc[0] == 'D')
}
