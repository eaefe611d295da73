package cruncher

import (
	"fmt"
	"math/rand"
	"strings"
)

// floatOracle models floating-point-tagged operators without evaluating
// them. The first occurrence of a distinct (operator, operands) triple is
// assigned a pseudo-random result; every later occurrence of the same triple
// yields the memoized result, keeping any one run internally consistent.
type floatOracle struct {
	rand    *rand.Rand
	results map[string]Value
}

// newFloatOracle returns a new oracle drawing from rnd.
func newFloatOracle(rnd *rand.Rand) *floatOracle {
	return &floatOracle{
		rand:    rnd,
		results: make(map[string]Value),
	}
}

// apply returns the memoized result for op over the given operands, creating
// it on first use. Comparison tags produce boolean results, arithmetic tags
// a bitvector of the given result width.
func (o *floatOracle) apply(op string, width uint, operands ...Value) Value {
	key := o.key(op, operands)
	if v, ok := o.results[key]; ok {
		return v
	}

	var v Value
	if isFloatCompareOp(op) {
		v = BoolValue(o.rand.Intn(2) == 1)
	} else {
		v = BitVectorValue(NewBitVector(o.rand.Uint64(), width))
	}
	o.results[key] = v
	return v
}

// key renders a stable memoization key for the triple.
func (o *floatOracle) key(op string, operands []Value) string {
	var sb strings.Builder
	sb.WriteString(op)
	for _, operand := range operands {
		fmt.Fprintf(&sb, "|%s", operand)
	}
	return sb.String()
}

// isFloatOp returns true if op is a floating-point intrinsic tag, e.g.
// "FADD32" or "FLT64".
func isFloatOp(op string) bool {
	if len(op) < 2 || op[0] != 'F' {
		return false
	}
	switch strings.TrimRight(op[1:], "0123456789") {
	case "ADD", "SUB", "MUL", "DIV", "POW", "LT", "LE", "GT", "GE", "EQ", "NE", "UNO":
		return true
	default:
		return false
	}
}

// isFloatCompareOp returns true if op is a floating-point comparison tag.
func isFloatCompareOp(op string) bool {
	if !isFloatOp(op) {
		return false
	}
	switch strings.TrimRight(op[1:], "0123456789") {
	case "LT", "LE", "GT", "GE", "EQ", "NE", "UNO":
		return true
	default:
		return false
	}
}
