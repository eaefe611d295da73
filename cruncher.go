// Package cruncher implements the invariant-refutation core of the kernel
// verifier: a concrete bitvector interpreter for the dualised kernel IR and
// a scheduler that races refutation engines to a stable assignment over the
// candidate invariants.
package cruncher

import (
	"errors"
	"fmt"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
)

var (
	ErrInfeasible   = errors.New("cruncher: infeasible path")
	ErrBlockBudget  = errors.New("cruncher: block transition budget exhausted")
	ErrNoSuccessor  = errors.New("cruncher: no successor guard holds")
	ErrUnhandled    = errors.New("cruncher: unhandled construct")
	ErrNoTrusted    = errors.New("cruncher: no trusted engine configured")
	ErrProverAbsent = errors.New("cruncher: trusted engine has no prover")
)

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
