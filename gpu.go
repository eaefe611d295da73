package cruncher

import (
	"fmt"
	"math/rand"
)

// IDStrategy selects how concrete thread and group ids are chosen for one
// interpreter run.
type IDStrategy int

const (
	// StrategyRandom draws both id tuples uniformly from the block and grid.
	StrategyRandom IDStrategy = iota
	// StrategyMin pins both id tuples to the origin.
	StrategyMin
	// StrategyMax pins both id tuples to the last thread of the last group.
	StrategyMax
)

// String returns the string representation of the strategy.
func (s IDStrategy) String() string {
	switch s {
	case StrategyRandom:
		return "random"
	case StrategyMin:
		return "min"
	case StrategyMax:
		return "max"
	default:
		return fmt.Sprintf("IDStrategy<%d>", s)
	}
}

// ParseIDStrategy parses the configuration form of an id strategy.
func ParseIDStrategy(s string) (IDStrategy, error) {
	switch s {
	case "random", "":
		return StrategyRandom, nil
	case "min":
		return StrategyMin, nil
	case "max":
		return StrategyMax, nil
	default:
		return 0, fmt.Errorf("cruncher.ParseIDStrategy: unknown strategy %q", s)
	}
}

// Dim3 is an (X, Y, Z) triple of 32-bit values.
type Dim3 struct {
	X, Y, Z BitVector
}

// dim3 builds a Dim3 from plain integers.
func dim3(x, y, z uint64) Dim3 {
	return Dim3{
		X: NewBitVector(x, Width32),
		Y: NewBitVector(y, Width32),
		Z: NewBitVector(z, Width32),
	}
}

// String returns the string representation of the triple.
func (d Dim3) String() string {
	return fmt.Sprintf("(%d, %d, %d)", d.X.Uint64(), d.Y.Uint64(), d.Z.Uint64())
}

// GPU models the launch geometry of one kernel run: the block and grid
// dimensions plus the concrete ids of the two logical threads the kernel was
// dualised over. Populated once before interpretation and read-only after.
type GPU struct {
	BlockDim Dim3 // threads per group
	GridDim  Dim3 // groups per grid

	ThreadID [2]Dim3
	GroupID  [2]Dim3
}

// NewGPU returns a launch geometry with all dimensions set to one and both
// logical threads at the origin.
func NewGPU() *GPU {
	return &GPU{
		BlockDim: dim3(1, 1, 1),
		GridDim:  dim3(1, 1, 1),
		ThreadID: [2]Dim3{dim3(0, 0, 0), dim3(0, 0, 0)},
		GroupID:  [2]Dim3{dim3(0, 0, 0), dim3(0, 0, 0)},
	}
}

// SetDimension binds one launch dimension constant by its IR name. Returns
// false if the name is not a dimension constant.
func (g *GPU) SetDimension(name string, v BitVector) bool {
	switch name {
	case "group_size_x":
		g.BlockDim.X = v
	case "group_size_y":
		g.BlockDim.Y = v
	case "group_size_z":
		g.BlockDim.Z = v
	case "num_groups_x":
		g.GridDim.X = v
	case "num_groups_y":
		g.GridDim.Y = v
	case "num_groups_z":
		g.GridDim.Z = v
	default:
		return false
	}
	return true
}

// ChooseIDs fixes the two logical threads' ids according to the strategy.
// Random choices draw from the configured block and grid; when the launch
// has more than one thread the two (group, thread) pairs are kept distinct.
func (g *GPU) ChooseIDs(strategy IDStrategy, rnd *rand.Rand) {
	switch strategy {
	case StrategyMin:
		g.ThreadID[0], g.ThreadID[1] = dim3(0, 0, 0), dim3(0, 0, 0)
		g.GroupID[0], g.GroupID[1] = dim3(0, 0, 0), dim3(0, 0, 0)
	case StrategyMax:
		last := func(d Dim3) Dim3 {
			return dim3(d.X.Uint64()-1, d.Y.Uint64()-1, d.Z.Uint64()-1)
		}
		g.ThreadID[0], g.ThreadID[1] = last(g.BlockDim), last(g.BlockDim)
		g.GroupID[0], g.GroupID[1] = last(g.GridDim), last(g.GridDim)
	case StrategyRandom:
		g.ThreadID[0], g.GroupID[0] = g.randomID(rnd)
		g.ThreadID[1], g.GroupID[1] = g.randomID(rnd)
		for g.threadCount() > 1 && g.ThreadID[0] == g.ThreadID[1] && g.GroupID[0] == g.GroupID[1] {
			g.ThreadID[1], g.GroupID[1] = g.randomID(rnd)
		}
	default:
		assert(false, "gpu: unknown id strategy %d", strategy)
	}
}

// randomID draws one (thread, group) id pair uniformly from the launch.
func (g *GPU) randomID(rnd *rand.Rand) (thread, group Dim3) {
	draw := func(d Dim3) Dim3 {
		return dim3(
			uint64(rnd.Int63n(int64(d.X.Uint64()))),
			uint64(rnd.Int63n(int64(d.Y.Uint64()))),
			uint64(rnd.Int63n(int64(d.Z.Uint64()))),
		)
	}
	return draw(g.BlockDim), draw(g.GridDim)
}

// threadCount returns the total number of threads in the launch.
func (g *GPU) threadCount() uint64 {
	return g.BlockDim.X.Uint64() * g.BlockDim.Y.Uint64() * g.BlockDim.Z.Uint64() *
		g.GridDim.X.Uint64() * g.GridDim.Y.Uint64() * g.GridDim.Z.Uint64()
}

// Bindings returns the launch geometry as scalar bindings under the special
// constant names the IR references.
func (g *GPU) Bindings() map[string]BitVector {
	m := map[string]BitVector{
		"group_size_x": g.BlockDim.X,
		"group_size_y": g.BlockDim.Y,
		"group_size_z": g.BlockDim.Z,
		"num_groups_x": g.GridDim.X,
		"num_groups_y": g.GridDim.Y,
		"num_groups_z": g.GridDim.Z,
	}
	for i := 0; i < 2; i++ {
		suffix := fmt.Sprintf("$%d", i+1)
		m["local_id_x"+suffix] = g.ThreadID[i].X
		m["local_id_y"+suffix] = g.ThreadID[i].Y
		m["local_id_z"+suffix] = g.ThreadID[i].Z
		m["group_id_x"+suffix] = g.GroupID[i].X
		m["group_id_y"+suffix] = g.GroupID[i].Y
		m["group_id_z"+suffix] = g.GroupID[i].Z
	}
	return m
}
