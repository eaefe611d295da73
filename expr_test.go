package cruncher_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	cruncher "github.com/delcypher/gv-hack"
	"github.com/delcypher/gv-hack/ir"
)

// testEnv resolves leaves from a Memory and gives float applications a
// fixed result so tests stay deterministic.
type testEnv struct {
	*cruncher.Memory
}

func (e *testEnv) ApplyFloat(op string, width uint, operands ...cruncher.Value) cruncher.Value {
	if width == 0 {
		return cruncher.BoolValue(true)
	}
	return cruncher.BitVectorValue(cruncher.NewBitVector(1, width))
}

func bv32(v uint64) cruncher.Value {
	return cruncher.BitVectorValue(cruncher.NewBitVector(v, 32))
}

func evaluate(t *testing.T, tree *cruncher.ExprTree, mem *cruncher.Memory) {
	t.Helper()
	tree.Reset()
	if err := tree.Evaluate(&testEnv{mem}); err != nil {
		t.Fatal(err)
	}
}

func TestBuildTree(t *testing.T) {
	t.Run("LiteralDomains", func(t *testing.T) {
		tree, err := cruncher.BuildTree(ir.Bool(true))
		if err != nil {
			t.Fatal(err)
		} else if tree.Domain() != cruncher.DomainBool {
			t.Fatalf("unexpected domain: %s", tree.Domain())
		}

		tree, err = cruncher.BuildTree(ir.Lit(42, 32))
		if err != nil {
			t.Fatal(err)
		} else if tree.Domain() != cruncher.DomainBitVector {
			t.Fatalf("unexpected domain: %s", tree.Domain())
		}
	})
	t.Run("UnknownOperator", func(t *testing.T) {
		if _, err := cruncher.BuildTree(ir.Bin("BV32_FROB", ir.Id("x", 32), ir.Id("y", 32))); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestExprTree_Evaluate(t *testing.T) {
	t.Run("Arithmetic", func(t *testing.T) {
		// (x + y) * 2 == 10
		expr := ir.Bin("==",
			ir.Bin("BV32_MUL", ir.Bin("BV32_ADD", ir.Id("x", 32), ir.Id("y", 32)), ir.Lit(2, 32)),
			ir.Lit(10, 32))
		tree, err := cruncher.BuildTree(expr)
		if err != nil {
			t.Fatal(err)
		}

		mem := cruncher.NewMemory()
		mem.WriteScalar("x", bv32(2))
		mem.WriteScalar("y", bv32(3))
		evaluate(t, tree, mem)
		if tree.Uninitialised() || !tree.Truth() {
			t.Fatalf("expected true, uninitialised=%v", tree.Uninitialised())
		}
	})

	t.Run("SignedCompare", func(t *testing.T) {
		// -1 < 1 signed, but not unsigned
		mem := cruncher.NewMemory()
		mem.WriteScalar("x", bv32(0xFFFFFFFF))

		tree, err := cruncher.BuildTree(ir.Bin("<", ir.Id("x", 32), ir.Lit(1, 32)))
		if err != nil {
			t.Fatal(err)
		}
		evaluate(t, tree, mem)
		if !tree.Truth() {
			t.Fatal("expected signed compare to hold")
		}

		tree, err = cruncher.BuildTree(ir.Bin("BV32_ULT", ir.Id("x", 32), ir.Lit(1, 32)))
		if err != nil {
			t.Fatal(err)
		}
		evaluate(t, tree, mem)
		if tree.Truth() {
			t.Fatal("expected unsigned compare to fail")
		}
	})

	t.Run("Final", func(t *testing.T) {
		tree, err := cruncher.BuildTree(ir.Bin("BV32_ADD", ir.Id("x", 32), ir.Lit(1, 32)))
		if err != nil {
			t.Fatal(err)
		}
		mem := cruncher.NewMemory()
		mem.WriteScalar("x", bv32(41))
		evaluate(t, tree, mem)
		if v, err := tree.Final(); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 42 {
			t.Fatalf("unexpected value: %s", v)
		}
	})

	t.Run("MapSelect", func(t *testing.T) {
		mem := cruncher.NewMemory()
		mem.WriteScalar("i", bv32(7))
		mem.WriteCell("$$A", []cruncher.BitVector{cruncher.NewBitVector(7, 32)}, bv32(99))

		tree, err := cruncher.BuildTree(ir.Bin("==", ir.Sel("$$A", 32, ir.Id("i", 32)), ir.Lit(99, 32)))
		if err != nil {
			t.Fatal(err)
		}
		evaluate(t, tree, mem)
		if !tree.Truth() {
			t.Fatal("expected cell lookup to match")
		}
	})
}

func TestExprTree_Uninitialised(t *testing.T) {
	t.Run("MissingScalar", func(t *testing.T) {
		tree, err := cruncher.BuildTree(ir.Bin("==", ir.Id("x", 32), ir.Lit(1, 32)))
		if err != nil {
			t.Fatal(err)
		}
		evaluate(t, tree, cruncher.NewMemory())
		if !tree.Uninitialised() {
			t.Fatal("expected uninitialised root")
		}
	})

	t.Run("MissingCell", func(t *testing.T) {
		tree, err := cruncher.BuildTree(ir.Bin("==", ir.Sel("$$A", 32, ir.Lit(0, 32)), ir.Lit(1, 32)))
		if err != nil {
			t.Fatal(err)
		}
		evaluate(t, tree, cruncher.NewMemory())
		if !tree.Uninitialised() {
			t.Fatal("expected uninitialised root")
		}
	})

	t.Run("TernaryCondition", func(t *testing.T) {
		tree, err := cruncher.BuildTree(ir.Ite(ir.Id("p", 0), ir.Lit(1, 32), ir.Lit(2, 32)))
		if err != nil {
			t.Fatal(err)
		}
		evaluate(t, tree, cruncher.NewMemory())
		if !tree.Uninitialised() {
			t.Fatal("expected uninitialised root")
		}
	})

	t.Run("TernaryUnselectedBranch", func(t *testing.T) {
		// Only the selected branch feeds the result; the dead branch may
		// reference unbound state.
		tree, err := cruncher.BuildTree(ir.Ite(ir.Id("p", 0), ir.Lit(1, 32), ir.Id("dead", 32)))
		if err != nil {
			t.Fatal(err)
		}
		mem := cruncher.NewMemory()
		mem.WriteScalar("p", cruncher.BoolValue(true))
		evaluate(t, tree, mem)
		if tree.Uninitialised() {
			t.Fatal("unexpected uninitialised root")
		}
		if v, err := tree.Final(); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 1 {
			t.Fatalf("unexpected value: %s", v)
		}
	})
}

func TestExprTree_RaceOffsets(t *testing.T) {
	mem := cruncher.NewMemory()
	mem.RegisterRaceArray("$$A", ir.SpaceGlobal)
	mem.LogOffset("$$A", ir.AccessWrite, cruncher.NewBitVector(1, 32))
	mem.LogOffset("$$A", ir.AccessWrite, cruncher.NewBitVector(3, 32))

	offsetVar := cruncher.OffsetVar("$$A", ir.AccessWrite)

	t.Run("OneEvalPerOffset", func(t *testing.T) {
		tree, err := cruncher.BuildTree(ir.Bin("==", ir.Id(offsetVar, 32), ir.Lit(3, 32)))
		if err != nil {
			t.Fatal(err)
		}
		evaluate(t, tree, mem)

		exp := []cruncher.Value{cruncher.BoolValue(false), cruncher.BoolValue(true)}
		if diff := cmp.Diff(exp, tree.Root().Evals()); diff != "" {
			t.Fatal(diff)
		}
		if tree.Truth() {
			t.Fatal("expected conjunction over offsets to fail")
		}
	})

	t.Run("AllOffsetsInBounds", func(t *testing.T) {
		tree, err := cruncher.BuildTree(ir.Bin("BV32_ULT", ir.Id(offsetVar, 32), ir.Lit(10, 32)))
		if err != nil {
			t.Fatal(err)
		}
		evaluate(t, tree, mem)
		if !tree.Truth() {
			t.Fatal("expected all offsets in bounds")
		}
	})

	t.Run("EmptyLogIsUninitialised", func(t *testing.T) {
		tree, err := cruncher.BuildTree(ir.Bin("==",
			ir.Id(cruncher.OffsetVar("$$A", ir.AccessRead), 32), ir.Lit(0, 32)))
		if err != nil {
			t.Fatal(err)
		}
		evaluate(t, tree, mem)
		if !tree.Uninitialised() {
			t.Fatal("expected uninitialised root")
		}
	})

	t.Run("FinalRejectsMultipleEvals", func(t *testing.T) {
		tree, err := cruncher.BuildTree(ir.Bin("BV32_ADD", ir.Id(offsetVar, 32), ir.Lit(1, 32)))
		if err != nil {
			t.Fatal(err)
		}
		evaluate(t, tree, mem)
		if _, err := tree.Final(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("HasOccurredFlag", func(t *testing.T) {
		tree, err := cruncher.BuildTree(ir.Id(cruncher.HasOccurredVar("$$A", ir.AccessWrite), 0))
		if err != nil {
			t.Fatal(err)
		}
		evaluate(t, tree, mem)
		if !tree.Truth() {
			t.Fatal("expected write-occurred flag to hold")
		}
	})
}

// Re-evaluating a cleared tree against unchanged memory yields identical
// results.
func TestExprTree_Redeterminism(t *testing.T) {
	expr := ir.Bin("==",
		ir.Bin("BV32_ADD", ir.Id("x", 32), ir.Id("y", 32)),
		ir.Lit(5, 32))
	tree, err := cruncher.BuildTree(expr)
	if err != nil {
		t.Fatal(err)
	}

	mem := cruncher.NewMemory()
	mem.WriteScalar("x", bv32(2))
	mem.WriteScalar("y", bv32(3))

	evaluate(t, tree, mem)
	first := append([]cruncher.Value(nil), tree.Root().Evals()...)

	evaluate(t, tree, mem)
	if diff := cmp.Diff(first, tree.Root().Evals()); diff != "" {
		t.Fatal(diff)
	}
}

func TestExprTree_ExtractConcat(t *testing.T) {
	mem := cruncher.NewMemory()
	mem.WriteScalar("x", bv32(0xABCD))

	// concat(extract(x, 16, 8), extract(x, 8, 0)) == x[15:0]
	expr := ir.Bin("==",
		ir.Concat(ir.Extract(ir.Id("x", 32), 16, 8), ir.Extract(ir.Id("x", 32), 8, 0)),
		ir.Lit(43981, 16))
	tree, err := cruncher.BuildTree(expr)
	if err != nil {
		t.Fatal(err)
	}
	evaluate(t, tree, mem)
	if !tree.Truth() {
		t.Fatal("expected round trip to hold")
	}
}

func TestExprTree_Extension(t *testing.T) {
	mem := cruncher.NewMemory()
	mem.WriteScalar("b", cruncher.BitVectorValue(cruncher.NewBitVector(1, 1)))

	tree, err := cruncher.BuildTree(ir.Bin("==",
		ir.Un("BV1_SEXT32", ir.Id("b", 1)),
		ir.Lit(4294967295, 32)))
	if err != nil {
		t.Fatal(err)
	}
	evaluate(t, tree, mem)
	if !tree.Truth() {
		t.Fatal("expected sign extension of 1bv1 to be all ones")
	}
}
