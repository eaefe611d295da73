package cruncher_test

import (
	"strings"
	"testing"

	cruncher "github.com/delcypher/gv-hack"
	"github.com/delcypher/gv-hack/ir"
)

func TestMemory_Scalars(t *testing.T) {
	mem := cruncher.NewMemory()
	if _, ok := mem.ReadScalar("x"); ok {
		t.Fatal("expected unknown scalar")
	}
	mem.WriteScalar("x", bv32(42))
	if v, ok := mem.ReadScalar("x"); !ok {
		t.Fatal("expected scalar")
	} else if v.BitVector().Uint64() != 42 {
		t.Fatalf("unexpected value: %s", v)
	}
}

func TestMemory_Cells(t *testing.T) {
	mem := cruncher.NewMemory()
	idx := []cruncher.BitVector{cruncher.NewBitVector(5, 32)}
	if _, ok := mem.ReadCell("$$A", idx); ok {
		t.Fatal("expected unknown cell")
	}
	mem.WriteCell("$$A", idx, bv32(7))
	if v, ok := mem.ReadCell("$$A", idx); !ok {
		t.Fatal("expected cell")
	} else if v.BitVector().Uint64() != 7 {
		t.Fatalf("unexpected value: %s", v)
	}

	// A different index tuple is a different cell.
	if _, ok := mem.ReadCell("$$A", []cruncher.BitVector{cruncher.NewBitVector(6, 32)}); ok {
		t.Fatal("expected unknown cell")
	}
}

func TestMemory_BarrierReset(t *testing.T) {
	mem := cruncher.NewMemory()
	mem.RegisterRaceArray("$$A", ir.SpaceGlobal)
	mem.LogOffset("$$A", ir.AccessWrite, cruncher.NewBitVector(5, 32))

	if !mem.AccessOccurred("$$A", ir.AccessWrite) {
		t.Fatal("expected write-occurred flag")
	} else if offsets := mem.Offsets("$$A", ir.AccessWrite); len(offsets) != 1 || offsets[0].Uint64() != 5 {
		t.Fatalf("unexpected offsets: %v", offsets)
	}

	mem.ClearAccessLog("$$A", ir.AccessWrite)
	if mem.AccessOccurred("$$A", ir.AccessWrite) {
		t.Fatal("expected flag reset")
	} else if offsets := mem.Offsets("$$A", ir.AccessWrite); len(offsets) != 0 {
		t.Fatalf("unexpected offsets: %v", offsets)
	}
}

func TestMemory_AccessKindsIndependent(t *testing.T) {
	mem := cruncher.NewMemory()
	mem.RegisterRaceArray("$$A", ir.SpaceGroupShared)
	mem.LogOffset("$$A", ir.AccessWrite, cruncher.NewBitVector(1, 32))
	mem.LogOffset("$$A", ir.AccessRead, cruncher.NewBitVector(2, 32))

	mem.ClearAccessLog("$$A", ir.AccessWrite)
	if mem.AccessOccurred("$$A", ir.AccessWrite) {
		t.Fatal("expected write flag reset")
	}
	if !mem.AccessOccurred("$$A", ir.AccessRead) {
		t.Fatal("expected read flag untouched")
	}
}

func TestMemory_InstrumentationVarNames(t *testing.T) {
	if name := cruncher.OffsetVar("$$A", ir.AccessWrite); name != "_WRITE_OFFSET_$$A" {
		t.Fatalf("unexpected name: %s", name)
	}
	if name := cruncher.HasOccurredVar("$$A", ir.AccessAtomic); name != "_ATOMIC_HAS_OCCURRED_$$A" {
		t.Fatalf("unexpected name: %s", name)
	}

	mem := cruncher.NewMemory()
	mem.RegisterRaceArray("$$A", ir.SpaceGlobal)
	if v, ok := mem.LookupScalar("_READ_HAS_OCCURRED_$$A"); !ok {
		t.Fatal("expected flag lookup")
	} else if v.Bool() {
		t.Fatal("expected flag to start false")
	}
	if _, ok := mem.LookupOffsets("_WRITE_OFFSET_$$B"); ok {
		t.Fatal("expected unregistered array to miss")
	}
}

func TestMemory_Dump(t *testing.T) {
	mem := cruncher.NewMemory()
	mem.WriteScalar("y", bv32(2))
	mem.WriteScalar("x", bv32(1))
	mem.WriteCell("$$A", []cruncher.BitVector{cruncher.NewBitVector(0, 32)}, bv32(3))

	dump := mem.Dump()
	if !strings.Contains(dump, "x = 1bv32") || !strings.Contains(dump, "y = 2bv32") {
		t.Fatalf("unexpected dump:\n%s", dump)
	}
	if strings.Index(dump, "x = ") > strings.Index(dump, "y = ") {
		t.Fatalf("expected sorted scalars:\n%s", dump)
	}
	if dump != mem.Dump() {
		t.Fatal("expected deterministic dump")
	}
}
