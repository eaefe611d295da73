package cruncher

import "fmt"

// BitVector is an immutable two's-complement value of a declared width.
// Every operation masks its result back to the width of its receiver, so a
// BitVector never carries bits above Width. Signed versus unsigned
// interpretation is chosen per operation, not stored on the value.
type BitVector struct {
	Width uint
	value uint64
}

// NewBitVector returns a new BitVector of the given width.
// The value is masked to the declared width. Valid widths are 1 through 64.
func NewBitVector(value uint64, width uint) BitVector {
	assert(width >= 1 && width <= Width64, "bitvector: invalid width: %d", width)
	return BitVector{Width: width, value: value & bitmask(width)}
}

// NewBool returns a width-1 BitVector representing v.
func NewBool(v bool) BitVector {
	if v {
		return BitVector{Width: WidthBool, value: 1}
	}
	return BitVector{Width: WidthBool, value: 0}
}

// String returns the string representation of the value.
func (bv BitVector) String() string {
	return fmt.Sprintf("%dbv%d", bv.value, bv.Width)
}

// Uint64 returns the magnitude under unsigned interpretation.
func (bv BitVector) Uint64() uint64 { return bv.value }

// Int64 returns the magnitude under signed interpretation.
func (bv BitVector) Int64() int64 {
	if bv.Width == Width64 {
		return int64(bv.value)
	}
	if bv.value&(1<<(bv.Width-1)) != 0 {
		return int64(bv.value | ^bitmask(bv.Width))
	}
	return int64(bv.value)
}

// IsZero returns true if all bits are zero.
func (bv BitVector) IsZero() bool { return bv.value == 0 }

// IsAllOnes returns true if all bits in the value are one.
func (bv BitVector) IsAllOnes() bool { return bv.value == bitmask(bv.Width) }

// Equal returns true if other has the same width and magnitude.
func (bv BitVector) Equal(other BitVector) bool {
	return bv.Width == other.Width && bv.value == other.value
}

// Cmp returns an integer comparing two values. The result is 0 if bv==other,
// -1 if bv sorts before other, and +1 otherwise. Width orders first so values
// of mixed widths still sort deterministically.
func (bv BitVector) Cmp(other BitVector) int {
	if bv.Width < other.Width {
		return -1
	} else if bv.Width > other.Width {
		return 1
	}
	if bv.value < other.value {
		return -1
	} else if bv.value > other.value {
		return 1
	}
	return 0
}

// Add returns the sum of bv and other.
func (bv BitVector) Add(other BitVector) BitVector {
	assert(bv.Width == other.Width, "add: width mismatch: %d != %d", bv.Width, other.Width)
	return NewBitVector(bv.value+other.value, bv.Width)
}

// Sub returns the difference of bv and other.
func (bv BitVector) Sub(other BitVector) BitVector {
	assert(bv.Width == other.Width, "sub: width mismatch: %d != %d", bv.Width, other.Width)
	return NewBitVector(bv.value-other.value, bv.Width)
}

// Mul returns the product of bv and other.
func (bv BitVector) Mul(other BitVector) BitVector {
	assert(bv.Width == other.Width, "mul: width mismatch: %d != %d", bv.Width, other.Width)
	return NewBitVector(bv.value*other.value, bv.Width)
}

// Neg returns the two's-complement negation of bv.
func (bv BitVector) Neg() BitVector {
	return NewBitVector(-bv.value, bv.Width)
}

// UDiv returns the quotient of unsigned division of bv by other.
// Panics on division by zero; the interpreter recovers the fault.
func (bv BitVector) UDiv(other BitVector) BitVector {
	assert(bv.Width == other.Width, "udiv: width mismatch: %d != %d", bv.Width, other.Width)
	if other.value == 0 {
		panic("bitvector: division by zero")
	}
	return NewBitVector(bv.value/other.value, bv.Width)
}

// SDiv returns the quotient of signed division of bv by other.
func (bv BitVector) SDiv(other BitVector) BitVector {
	assert(bv.Width == other.Width, "sdiv: width mismatch: %d != %d", bv.Width, other.Width)
	if other.value == 0 {
		panic("bitvector: division by zero")
	}
	return NewBitVector(uint64(bv.Int64()/other.Int64()), bv.Width)
}

// URem returns the remainder of unsigned division of bv by other.
func (bv BitVector) URem(other BitVector) BitVector {
	assert(bv.Width == other.Width, "urem: width mismatch: %d != %d", bv.Width, other.Width)
	if other.value == 0 {
		panic("bitvector: division by zero")
	}
	return NewBitVector(bv.value%other.value, bv.Width)
}

// SRem returns the remainder of signed division of bv by other.
func (bv BitVector) SRem(other BitVector) BitVector {
	assert(bv.Width == other.Width, "srem: width mismatch: %d != %d", bv.Width, other.Width)
	if other.value == 0 {
		panic("bitvector: division by zero")
	}
	return NewBitVector(uint64(bv.Int64()%other.Int64()), bv.Width)
}

// And returns the bitwise AND of bv and other.
func (bv BitVector) And(other BitVector) BitVector {
	assert(bv.Width == other.Width, "and: width mismatch: %d != %d", bv.Width, other.Width)
	return NewBitVector(bv.value&other.value, bv.Width)
}

// Or returns the bitwise OR of bv and other.
func (bv BitVector) Or(other BitVector) BitVector {
	assert(bv.Width == other.Width, "or: width mismatch: %d != %d", bv.Width, other.Width)
	return NewBitVector(bv.value|other.value, bv.Width)
}

// Xor returns the bitwise XOR of bv and other.
func (bv BitVector) Xor(other BitVector) BitVector {
	assert(bv.Width == other.Width, "xor: width mismatch: %d != %d", bv.Width, other.Width)
	return NewBitVector(bv.value^other.value, bv.Width)
}

// Not returns the bitwise NOT of bv.
func (bv BitVector) Not() BitVector {
	return NewBitVector(^bv.value, bv.Width)
}

// Shl returns bv shifted left by other bits. Shifts of at least the full
// width produce zero.
func (bv BitVector) Shl(other BitVector) BitVector {
	if other.value >= uint64(bv.Width) {
		return NewBitVector(0, bv.Width)
	}
	return NewBitVector(bv.value<<other.value, bv.Width)
}

// LShr returns bv logically shifted right by other bits.
func (bv BitVector) LShr(other BitVector) BitVector {
	if other.value >= uint64(bv.Width) {
		return NewBitVector(0, bv.Width)
	}
	return NewBitVector(bv.value>>other.value, bv.Width)
}

// AShr returns bv arithmetically shifted right by other bits. Shifts of at
// least the full width fill with the sign bit.
func (bv BitVector) AShr(other BitVector) BitVector {
	n := other.value
	if n >= uint64(bv.Width) {
		n = uint64(bv.Width) - 1
	}
	return NewBitVector(uint64(bv.Int64()>>n), bv.Width)
}

// Eq returns true if bv and other have equal magnitudes.
func (bv BitVector) Eq(other BitVector) bool {
	assert(bv.Width == other.Width, "eq: width mismatch: %d != %d", bv.Width, other.Width)
	return bv.value == other.value
}

// Ult returns the unsigned less-than comparison of bv to other.
func (bv BitVector) Ult(other BitVector) bool {
	assert(bv.Width == other.Width, "ult: width mismatch: %d != %d", bv.Width, other.Width)
	return bv.value < other.value
}

// Ule returns the unsigned less-than-or-equal comparison of bv to other.
func (bv BitVector) Ule(other BitVector) bool {
	assert(bv.Width == other.Width, "ule: width mismatch: %d != %d", bv.Width, other.Width)
	return bv.value <= other.value
}

// Ugt returns the unsigned greater-than comparison of bv to other.
func (bv BitVector) Ugt(other BitVector) bool { return other.Ult(bv) }

// Uge returns the unsigned greater-than-or-equal comparison of bv to other.
func (bv BitVector) Uge(other BitVector) bool { return other.Ule(bv) }

// Slt returns the signed less-than comparison of bv to other.
func (bv BitVector) Slt(other BitVector) bool {
	assert(bv.Width == other.Width, "slt: width mismatch: %d != %d", bv.Width, other.Width)
	return bv.Int64() < other.Int64()
}

// Sle returns the signed less-than-or-equal comparison of bv to other.
func (bv BitVector) Sle(other BitVector) bool {
	assert(bv.Width == other.Width, "sle: width mismatch: %d != %d", bv.Width, other.Width)
	return bv.Int64() <= other.Int64()
}

// Sgt returns the signed greater-than comparison of bv to other.
func (bv BitVector) Sgt(other BitVector) bool { return other.Slt(bv) }

// Sge returns the signed greater-than-or-equal comparison of bv to other.
func (bv BitVector) Sge(other BitVector) bool { return other.Sle(bv) }

// Extract returns the bits of the half-open range [low, high).
func (bv BitVector) Extract(high, low uint) BitVector {
	assert(high > low, "extract: empty range: [%d, %d)", low, high)
	assert(high <= bv.Width, "extract out of bounds: %d > %d", high, bv.Width)
	return NewBitVector(bv.value>>low, high-low)
}

// Concat returns the concatenation of bv (most significant) and lsb.
func (bv BitVector) Concat(lsb BitVector) BitVector {
	assert(bv.Width+lsb.Width <= Width64, "concat: width overflow: %d+%d", bv.Width, lsb.Width)
	return NewBitVector((bv.value<<lsb.Width)|lsb.value, bv.Width+lsb.Width)
}

// ZExt returns the zero-extension of bv to the given width.
func (bv BitVector) ZExt(width uint) BitVector {
	assert(width >= bv.Width, "zext: cannot narrow: %d -> %d", bv.Width, width)
	return NewBitVector(bv.value, width)
}

// SExt returns the sign-extension of bv to the given width.
func (bv BitVector) SExt(width uint) BitVector {
	assert(width >= bv.Width, "sext: cannot narrow: %d -> %d", bv.Width, width)
	return NewBitVector(uint64(bv.Int64()), width)
}

// bitmask returns a mask covering the low width bits.
func bitmask(width uint) uint64 {
	if width >= Width64 {
		return ^uint64(0)
	}
	return (1 << width) - 1
}
