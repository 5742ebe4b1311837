package vm

import (
	"math"
	"testing"
)

func TestLongSlots(t *testing.T) {
	for _, v := range []int64{0, 1, -1, math.MaxInt64, math.MinInt64, 0x1234_5678_9abc_def0} {
		lo, hi := LongSlots(v)
		if got := JoinLong(lo, hi); got != v {
			t.Errorf("JoinLong(LongSlots(%d)) = %d", v, got)
		}
	}
	lo, hi := LongSlots(0x1_0000_0002)
	if lo.Int() != 2 || hi.Int() != 1 {
		t.Errorf("LongSlots(0x100000002) = (%d, %d), want (2, 1)", lo.Int(), hi.Int())
	}
}

func TestFloatingSlots(t *testing.T) {
	for _, v := range []float64{0, math.Copysign(0, -1), 1.5, math.Inf(1), math.SmallestNonzeroFloat64, math.MaxFloat64} {
		lo, hi := DoubleSlots(v)
		if got := JoinDouble(lo, hi); math.Float64bits(got) != math.Float64bits(v) {
			t.Errorf("JoinDouble(DoubleSlots(%v)) = %v", v, got)
		}
	}
	nan := math.Float32frombits(0x7fc00001)
	if got := FloatSlot(nan).Float(); math.Float32bits(got) != 0x7fc00001 {
		t.Errorf("FloatSlot keeps NaN payload: got %#x", math.Float32bits(got))
	}
	if got := FloatSlot(-2.25).Float(); got != -2.25 {
		t.Errorf("FloatSlot(-2.25).Float() = %v", got)
	}
}

func TestSlotsAccessors(t *testing.T) {
	s := newSlots(6)
	s.SetInt(0, -9)
	s.SetLong(1, math.MinInt64+7)
	s.SetDouble(3, -0.5)
	o := &Object{}
	s.SetRef(5, o)
	if s.Int(0) != -9 || s.Long(1) != math.MinInt64+7 || s.Double(3) != -0.5 || s.Ref(5) != o {
		t.Errorf("Slots = %v", s)
	}
	if got := s.Get(1, "J"); len(got) != 2 || JoinLong(got[0], got[1]) != math.MinInt64+7 {
		t.Errorf("Get(1, J) = %v", got)
	}
	if got := s.Get(5, "Ljava/lang/Object;"); len(got) != 1 || got[0].Ref() != o {
		t.Errorf("Get(5, L) = %v", got)
	}
	// A scalar store clears a previous reference.
	s.SetInt(5, 3)
	if s.Ref(5) != nil {
		t.Errorf("SetInt left a reference behind")
	}
	if newSlots(0) != nil {
		t.Errorf("newSlots(0) != nil")
	}
}

func TestOperandStack(t *testing.T) {
	s := newOperandStack(8)
	s.PushInt(1)
	s.PushLong(-2)
	s.PushDouble(3.5)
	s.PushRef(nil)
	s.PushBool(true)
	if s.Size() != 7 || s.Cap() != 8 {
		t.Fatalf("Size() = %d, Cap() = %d; want 7, 8", s.Size(), s.Cap())
	}
	if s.Peek(1).Ref() != nil || s.Peek(0).Int() != 1 {
		t.Errorf("Peek() = %v, %v", s.Peek(0), s.Peek(1))
	}
	if !s.Pop().Bool() {
		t.Errorf("Pop() bool = false")
	}
	if s.PopRef() != nil {
		t.Errorf("PopRef() != nil")
	}
	if got := s.PopDouble(); got != 3.5 {
		t.Errorf("PopDouble() = %v, want 3.5", got)
	}
	if got := s.PopLong(); got != -2 {
		t.Errorf("PopLong() = %v, want -2", got)
	}

	dst := make([]Slot, 1)
	s.PopInto(dst)
	if dst[0].Int() != 1 || s.Size() != 0 {
		t.Errorf("PopInto() = %v, size %d", dst, s.Size())
	}

	s.PushFloat(1.25)
	s.PushInt(4)
	if got := s.Slots(); len(got) != 2 || got[1].Int() != 4 {
		t.Errorf("Slots() = %v", got)
	}
	s.Clear()
	if s.Size() != 0 {
		t.Errorf("Size() after Clear() = %d", s.Size())
	}
}
