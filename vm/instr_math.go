package vm

import (
	"math"

	"github.com/chazu/kopi/classfile"
)

// Arithmetic, bitwise operations, shifts, conversions and comparisons.
// Integer arithmetic wraps; shift distances are masked to the operand width.

func init() {
	defineInt := func(op classfile.Opcode, fn func(a, b int32) int32) {
		define(op, nil, func(f *Frame, _ *Instr) {
			b := f.stack.PopInt()
			a := f.stack.PopInt()
			f.stack.PushInt(fn(a, b))
		})
	}
	defineLong := func(op classfile.Opcode, fn func(a, b int64) int64) {
		define(op, nil, func(f *Frame, _ *Instr) {
			b := f.stack.PopLong()
			a := f.stack.PopLong()
			f.stack.PushLong(fn(a, b))
		})
	}
	defineFloat := func(op classfile.Opcode, fn func(a, b float32) float32) {
		define(op, nil, func(f *Frame, _ *Instr) {
			b := f.stack.PopFloat()
			a := f.stack.PopFloat()
			f.stack.PushFloat(fn(a, b))
		})
	}
	defineDouble := func(op classfile.Opcode, fn func(a, b float64) float64) {
		define(op, nil, func(f *Frame, _ *Instr) {
			b := f.stack.PopDouble()
			a := f.stack.PopDouble()
			f.stack.PushDouble(fn(a, b))
		})
	}

	defineInt(classfile.OpIadd, func(a, b int32) int32 { return a + b })
	defineInt(classfile.OpIsub, func(a, b int32) int32 { return a - b })
	defineInt(classfile.OpImul, func(a, b int32) int32 { return a * b })
	defineInt(classfile.OpIand, func(a, b int32) int32 { return a & b })
	defineInt(classfile.OpIor, func(a, b int32) int32 { return a | b })
	defineInt(classfile.OpIxor, func(a, b int32) int32 { return a ^ b })
	defineInt(classfile.OpIshl, func(a, b int32) int32 { return a << (b & 0x1f) })
	defineInt(classfile.OpIshr, func(a, b int32) int32 { return a >> (b & 0x1f) })
	defineInt(classfile.OpIushr, func(a, b int32) int32 { return int32(uint32(a) >> (b & 0x1f)) })

	defineLong(classfile.OpLadd, func(a, b int64) int64 { return a + b })
	defineLong(classfile.OpLsub, func(a, b int64) int64 { return a - b })
	defineLong(classfile.OpLmul, func(a, b int64) int64 { return a * b })
	defineLong(classfile.OpLand, func(a, b int64) int64 { return a & b })
	defineLong(classfile.OpLor, func(a, b int64) int64 { return a | b })
	defineLong(classfile.OpLxor, func(a, b int64) int64 { return a ^ b })

	// Long shifts take an int distance.
	defineLongShift := func(op classfile.Opcode, fn func(a int64, s uint) int64) {
		define(op, nil, func(f *Frame, _ *Instr) {
			s := uint(f.stack.PopInt() & 0x3f)
			a := f.stack.PopLong()
			f.stack.PushLong(fn(a, s))
		})
	}
	defineLongShift(classfile.OpLshl, func(a int64, s uint) int64 { return a << s })
	defineLongShift(classfile.OpLshr, func(a int64, s uint) int64 { return a >> s })
	defineLongShift(classfile.OpLushr, func(a int64, s uint) int64 { return int64(uint64(a) >> s) })

	defineFloat(classfile.OpFadd, func(a, b float32) float32 { return a + b })
	defineFloat(classfile.OpFsub, func(a, b float32) float32 { return a - b })
	defineFloat(classfile.OpFmul, func(a, b float32) float32 { return a * b })
	defineFloat(classfile.OpFdiv, func(a, b float32) float32 { return a / b })
	defineFloat(classfile.OpFrem, func(a, b float32) float32 { return float32(math.Mod(float64(a), float64(b))) })

	defineDouble(classfile.OpDadd, func(a, b float64) float64 { return a + b })
	defineDouble(classfile.OpDsub, func(a, b float64) float64 { return a - b })
	defineDouble(classfile.OpDmul, func(a, b float64) float64 { return a * b })
	defineDouble(classfile.OpDdiv, func(a, b float64) float64 { return a / b })
	defineDouble(classfile.OpDrem, math.Mod)

	define(classfile.OpIdiv, nil, func(f *Frame, _ *Instr) {
		b := f.stack.PopInt()
		a := f.stack.PopInt()
		if b == 0 {
			f.thread.throwNew(ArithmeticException, "/ by zero")
			return
		}
		f.stack.PushInt(a / b)
	})
	define(classfile.OpIrem, nil, func(f *Frame, _ *Instr) {
		b := f.stack.PopInt()
		a := f.stack.PopInt()
		if b == 0 {
			f.thread.throwNew(ArithmeticException, "/ by zero")
			return
		}
		f.stack.PushInt(a % b)
	})
	define(classfile.OpLdiv, nil, func(f *Frame, _ *Instr) {
		b := f.stack.PopLong()
		a := f.stack.PopLong()
		if b == 0 {
			f.thread.throwNew(ArithmeticException, "/ by zero")
			return
		}
		f.stack.PushLong(a / b)
	})
	define(classfile.OpLrem, nil, func(f *Frame, _ *Instr) {
		b := f.stack.PopLong()
		a := f.stack.PopLong()
		if b == 0 {
			f.thread.throwNew(ArithmeticException, "/ by zero")
			return
		}
		f.stack.PushLong(a % b)
	})

	define(classfile.OpIneg, nil, func(f *Frame, _ *Instr) { f.stack.PushInt(-f.stack.PopInt()) })
	define(classfile.OpLneg, nil, func(f *Frame, _ *Instr) { f.stack.PushLong(-f.stack.PopLong()) })
	define(classfile.OpFneg, nil, func(f *Frame, _ *Instr) { f.stack.PushFloat(-f.stack.PopFloat()) })
	define(classfile.OpDneg, nil, func(f *Frame, _ *Instr) { f.stack.PushDouble(-f.stack.PopDouble()) })

	// Conversions.
	define(classfile.OpI2l, nil, func(f *Frame, _ *Instr) { f.stack.PushLong(int64(f.stack.PopInt())) })
	define(classfile.OpI2f, nil, func(f *Frame, _ *Instr) { f.stack.PushFloat(float32(f.stack.PopInt())) })
	define(classfile.OpI2d, nil, func(f *Frame, _ *Instr) { f.stack.PushDouble(float64(f.stack.PopInt())) })
	define(classfile.OpL2i, nil, func(f *Frame, _ *Instr) { f.stack.PushInt(int32(f.stack.PopLong())) })
	define(classfile.OpL2f, nil, func(f *Frame, _ *Instr) { f.stack.PushFloat(float32(f.stack.PopLong())) })
	define(classfile.OpL2d, nil, func(f *Frame, _ *Instr) { f.stack.PushDouble(float64(f.stack.PopLong())) })
	define(classfile.OpF2i, nil, func(f *Frame, _ *Instr) { f.stack.PushInt(floatToInt(float64(f.stack.PopFloat()))) })
	define(classfile.OpF2l, nil, func(f *Frame, _ *Instr) { f.stack.PushLong(floatToLong(float64(f.stack.PopFloat()))) })
	define(classfile.OpF2d, nil, func(f *Frame, _ *Instr) { f.stack.PushDouble(float64(f.stack.PopFloat())) })
	define(classfile.OpD2i, nil, func(f *Frame, _ *Instr) { f.stack.PushInt(floatToInt(f.stack.PopDouble())) })
	define(classfile.OpD2l, nil, func(f *Frame, _ *Instr) { f.stack.PushLong(floatToLong(f.stack.PopDouble())) })
	define(classfile.OpD2f, nil, func(f *Frame, _ *Instr) { f.stack.PushFloat(float32(f.stack.PopDouble())) })
	define(classfile.OpI2b, nil, func(f *Frame, _ *Instr) { f.stack.PushInt(int32(int8(f.stack.PopInt()))) })
	define(classfile.OpI2c, nil, func(f *Frame, _ *Instr) { f.stack.PushInt(int32(uint16(f.stack.PopInt()))) })
	define(classfile.OpI2s, nil, func(f *Frame, _ *Instr) { f.stack.PushInt(int32(int16(f.stack.PopInt()))) })

	// Comparisons.
	define(classfile.OpLcmp, nil, func(f *Frame, _ *Instr) {
		b := f.stack.PopLong()
		a := f.stack.PopLong()
		f.stack.PushInt(compare(a, b))
	})
	defineFcmp := func(op classfile.Opcode, nan int32) {
		define(op, nil, func(f *Frame, _ *Instr) {
			b := f.stack.PopFloat()
			a := f.stack.PopFloat()
			f.stack.PushInt(compareFloat(float64(a), float64(b), nan))
		})
	}
	defineDcmp := func(op classfile.Opcode, nan int32) {
		define(op, nil, func(f *Frame, _ *Instr) {
			b := f.stack.PopDouble()
			a := f.stack.PopDouble()
			f.stack.PushInt(compareFloat(a, b, nan))
		})
	}
	defineFcmp(classfile.OpFcmpl, -1)
	defineFcmp(classfile.OpFcmpg, 1)
	defineDcmp(classfile.OpDcmpl, -1)
	defineDcmp(classfile.OpDcmpg, 1)
}

// floatToInt truncates toward zero, mapping NaN to 0 and saturating at the
// int range.
func floatToInt(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

func floatToLong(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}

func compare[T int32 | int64](a, b T) int32 {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64, nan int32) int32 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return nan
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
