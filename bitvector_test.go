package cruncher_test

import (
	"math/rand"
	"testing"

	cruncher "github.com/delcypher/gv-hack"
)

func TestBitVector_Masking(t *testing.T) {
	t.Run("TruncatesToWidth", func(t *testing.T) {
		if bv := cruncher.NewBitVector(0x1FF, 8); bv.Uint64() != 0xFF {
			t.Fatalf("unexpected value: %d", bv.Uint64())
		}
	})
	t.Run("FullWidth", func(t *testing.T) {
		if bv := cruncher.NewBitVector(^uint64(0), 64); !bv.IsAllOnes() {
			t.Fatalf("unexpected value: %d", bv.Uint64())
		}
	})
	t.Run("SignExtend", func(t *testing.T) {
		if v := cruncher.NewBitVector(0xFF, 8).Int64(); v != -1 {
			t.Fatalf("unexpected value: %d", v)
		}
		if v := cruncher.NewBitVector(0x7F, 8).Int64(); v != 127 {
			t.Fatalf("unexpected value: %d", v)
		}
	})
}

// Unsigned division identity: a == (a / b) * b + (a % b) for every width.
func TestBitVector_DivisionIdentity(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for _, width := range []uint{8, 16, 32, 64} {
		for n := 0; n < 1000; n++ {
			a := cruncher.NewBitVector(rnd.Uint64(), width)
			b := cruncher.NewBitVector(rnd.Uint64(), width)
			if b.IsZero() {
				continue
			}
			got := a.UDiv(b).Mul(b).Add(a.URem(b))
			if !got.Equal(a) {
				t.Fatalf("width %d: %s != (%s / %s) * %s + rem", width, a, a, b, b)
			}
		}
	}
}

// Signed and unsigned comparison disagree exactly when the operands'
// sign bits differ.
func TestBitVector_SignedUnsignedCompare(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	for _, width := range []uint{8, 32, 64} {
		signBit := uint64(1) << (width - 1)
		for n := 0; n < 1000; n++ {
			a := cruncher.NewBitVector(rnd.Uint64(), width)
			b := cruncher.NewBitVector(rnd.Uint64(), width)
			oppositeSigns := (a.Uint64()&signBit != 0) != (b.Uint64()&signBit != 0)
			if disagree := a.Ult(b) != a.Slt(b); disagree != oppositeSigns {
				t.Fatalf("width %d: %s < %s: ult/slt disagreement %v, opposite signs %v",
					width, a, b, disagree, oppositeSigns)
			}
		}
	}
}

func TestBitVector_DivisionByZero(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	a := cruncher.NewBitVector(1, 32)
	a.UDiv(cruncher.NewBitVector(0, 32))
}

func TestBitVector_Shift(t *testing.T) {
	t.Run("ShlOverflow", func(t *testing.T) {
		if bv := cruncher.NewBitVector(1, 8).Shl(cruncher.NewBitVector(8, 8)); !bv.IsZero() {
			t.Fatalf("unexpected value: %s", bv)
		}
	})
	t.Run("LShrOverflow", func(t *testing.T) {
		if bv := cruncher.NewBitVector(0x80, 8).LShr(cruncher.NewBitVector(9, 8)); !bv.IsZero() {
			t.Fatalf("unexpected value: %s", bv)
		}
	})
	t.Run("AShrClampsToSign", func(t *testing.T) {
		if bv := cruncher.NewBitVector(0x80, 8).AShr(cruncher.NewBitVector(100, 8)); !bv.IsAllOnes() {
			t.Fatalf("unexpected value: %s", bv)
		}
		if bv := cruncher.NewBitVector(0x40, 8).AShr(cruncher.NewBitVector(100, 8)); !bv.IsZero() {
			t.Fatalf("unexpected value: %s", bv)
		}
	})
}

func TestBitVector_ExtractConcat(t *testing.T) {
	t.Run("Extract", func(t *testing.T) {
		bv := cruncher.NewBitVector(0xABCD, 16).Extract(16, 8)
		if bv.Width != 8 || bv.Uint64() != 0xAB {
			t.Fatalf("unexpected value: %s", bv)
		}
	})
	t.Run("ConcatRoundTrip", func(t *testing.T) {
		orig := cruncher.NewBitVector(0xABCD, 16)
		msb, lsb := orig.Extract(16, 8), orig.Extract(8, 0)
		if bv := msb.Concat(lsb); !bv.Equal(orig) {
			t.Fatalf("unexpected value: %s", bv)
		}
	})
	t.Run("ZExt", func(t *testing.T) {
		bv := cruncher.NewBitVector(0xFF, 8).ZExt(32)
		if bv.Width != 32 || bv.Uint64() != 0xFF {
			t.Fatalf("unexpected value: %s", bv)
		}
	})
	t.Run("SExt", func(t *testing.T) {
		bv := cruncher.NewBitVector(0xFF, 8).SExt(32)
		if bv.Width != 32 || bv.Int64() != -1 {
			t.Fatalf("unexpected value: %s", bv)
		}
	})
}

func TestBitVector_Arithmetic(t *testing.T) {
	t.Run("AddWraps", func(t *testing.T) {
		bv := cruncher.NewBitVector(0xFF, 8).Add(cruncher.NewBitVector(1, 8))
		if !bv.IsZero() {
			t.Fatalf("unexpected value: %s", bv)
		}
	})
	t.Run("NegIsTwosComplement", func(t *testing.T) {
		if bv := cruncher.NewBitVector(1, 8).Neg(); bv.Uint64() != 0xFF {
			t.Fatalf("unexpected value: %s", bv)
		}
	})
	t.Run("SDivRoundsTowardZero", func(t *testing.T) {
		a := cruncher.NewBitVector(uint64(0xF9), 8) // -7
		b := cruncher.NewBitVector(2, 8)
		if bv := a.SDiv(b); bv.Int64() != -3 {
			t.Fatalf("unexpected value: %d", bv.Int64())
		}
		if bv := a.SRem(b); bv.Int64() != -1 {
			t.Fatalf("unexpected value: %d", bv.Int64())
		}
	})
}
