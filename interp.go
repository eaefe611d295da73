package cruncher

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"

	"github.com/delcypher/gv-hack/ir"
)

// Instrumentation callee name patterns emitted by the front end.
const (
	logReadPrefix   = "_LOG_READ_"
	logWritePrefix  = "_LOG_WRITE_"
	logAtomicPrefix = "_LOG_ATOMIC_"
	barrierCallee   = "$bugle_barrier"
)

// DefaultBlockBudget bounds the number of block transitions of one
// interpreter run so a kernel whose loop bounds the chosen ids never satisfy
// cannot spin forever.
const DefaultBlockBudget = 10000

// InterpreterOptions configures one interpreter run.
type InterpreterOptions struct {
	// Strategy selects the thread/group id choice.
	Strategy IDStrategy

	// Seed fixes the random source. Zero means a random seed.
	Seed int64

	// BlockBudget bounds block transitions per implementation.
	// Zero means DefaultBlockBudget.
	BlockBudget int

	// ThreadID and GroupID override the strategy choice when non-nil.
	ThreadID *[2]Dim3
	GroupID  *[2]Dim3

	// Verbose enables per-command logging.
	Verbose bool
}

// Interpreter runs one implementation of a race-instrumented kernel program
// as an abstract machine over its basic blocks: concrete bit-vector state in
// shadow memory, pseudo-random values for unconstrained inputs, and tagged
// candidate invariants refuted into the shared set when observed concretely
// false. The interpreter is unsound on purpose; nothing it fails to refute
// is thereby proven.
type Interpreter struct {
	program *ir.Program
	refuted *RefutedSet
	opt     InterpreterOptions

	memory *Memory
	gpu    *GPU
	oracle *floatOracle
	rnd    *rand.Rand
	trees  map[*ir.Expr]*ExprTree
	budget int
}

// NewInterpreter returns an interpreter for the program. Refuted facts are
// unioned into refuted as they are discovered.
func NewInterpreter(program *ir.Program, refuted *RefutedSet, opt InterpreterOptions) *Interpreter {
	if opt.BlockBudget == 0 {
		opt.BlockBudget = DefaultBlockBudget
	}
	seed := opt.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	rnd := rand.New(rand.NewSource(seed))

	return &Interpreter{
		program: program,
		refuted: refuted,
		opt:     opt,
		memory:  NewMemory(),
		gpu:     NewGPU(),
		oracle:  newFloatOracle(rnd),
		rnd:     rnd,
		trees:   make(map[*ir.Expr]*ExprTree),
	}
}

// Memory returns the shadow memory of the most recent run.
func (i *Interpreter) Memory() *Memory { return i.memory }

// GPU returns the launch geometry of the most recent run.
func (i *Interpreter) GPU() *GPU { return i.gpu }

// RunProgram interprets every implementation of the program in order.
// Infeasible paths are expected and skipped; the first fatal fault stops the
// run and is returned.
func (i *Interpreter) RunProgram(ctx context.Context) error {
	for _, impl := range i.program.Implementations {
		if err := i.Run(ctx, impl.Name); err == ErrInfeasible {
			continue
		} else if err != nil {
			return err
		}
	}
	return nil
}

// Run interprets one implementation by name. Returns ErrInfeasible if an
// assume terminated the path, which callers should treat as a normal end.
func (i *Interpreter) Run(ctx context.Context, name string) (err error) {
	impl := i.program.Implementation(name)
	if impl == nil {
		return fmt.Errorf("cruncher.Interpreter: no implementation %q", name)
	} else if len(impl.Blocks) == 0 {
		return nil
	}

	// Bit-vector faults surface as panics; report them as a run error
	// rather than taking the whole engine task down.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cruncher.Interpreter: %s: fault: %v", name, r)
		}
	}()

	// Each run owns its shadow memory, launch geometry and oracle: nothing
	// bound while interpreting a sibling implementation carries over. An
	// unset scalar or cell must stay unknown here, not inherit a stale value.
	i.memory = NewMemory()
	i.gpu = NewGPU()
	i.oracle = newFloatOracle(i.rnd)

	if err := i.seed(impl); err != nil {
		return err
	}

	i.budget = i.opt.BlockBudget
	block := impl.Blocks[0]
	for block != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i.budget--; i.budget < 0 {
			return fmt.Errorf("cruncher.Interpreter: %s: %w", name, ErrBlockBudget)
		}
		if i.opt.Verbose {
			log.Printf("[exec] %s: block %s", name, block.Label)
		}

		next, err := i.execBlock(impl, block)
		if err != nil {
			return err
		}
		block = next
	}
	return nil
}

// seed populates the GPU model and shadow memory before the entry block:
// launch dimensions from axioms, the two logical threads' ids from the
// strategy or explicit overrides, race-array registration, the restricted
// precondition patterns, and random values for the remaining formals.
func (i *Interpreter) seed(impl *ir.Implementation) error {
	for _, r := range i.program.RaceArrays {
		i.memory.RegisterRaceArray(r.Name, r.Space)
	}

	for _, axiom := range i.program.Axioms {
		name, v, ok := literalEquality(axiom)
		if !ok {
			continue
		}
		if v.Domain() == DomainBitVector {
			i.gpu.SetDimension(name, v.BitVector())
		}
		i.memory.WriteScalar(name, v)
	}

	i.gpu.ChooseIDs(i.opt.Strategy, i.rnd)
	if i.opt.ThreadID != nil {
		i.gpu.ThreadID = *i.opt.ThreadID
	}
	if i.opt.GroupID != nil {
		i.gpu.GroupID = *i.opt.GroupID
	}
	for name, bv := range i.gpu.Bindings() {
		i.memory.WriteScalar(name, BitVectorValue(bv))
	}

	for _, pre := range impl.Requires {
		i.seedPrecondition(pre)
	}

	for _, p := range impl.Params {
		if _, ok := i.memory.ReadScalar(p.Name); !ok {
			i.memory.WriteScalar(p.Name, i.freshValue(p.Width))
		}
	}
	return nil
}

// seedPrecondition pre-populates shadow memory from one precondition.
// Only a restricted pattern set is understood: conjunctions, negated boolean
// scalars, and equalities of a scalar or array cell with a literal. Anything
// else, disjunctions and implications included, is ignored; the interpreter
// then runs with a random value that may not satisfy the precondition.
func (i *Interpreter) seedPrecondition(pre *ir.Expr) {
	switch {
	case pre.Kind == ir.ExprBinary && pre.Op == "&&":
		i.seedPrecondition(pre.Args[0])
		i.seedPrecondition(pre.Args[1])

	case pre.Kind == ir.ExprUnary && pre.Op == "!" &&
		pre.Args[0].Kind == ir.ExprIdent && pre.Args[0].Width == 0:
		i.memory.WriteScalar(pre.Args[0].Name, BoolValue(false))

	case pre.Kind == ir.ExprBinary && pre.Op == "==":
		i.seedEquality(pre.Args[0], pre.Args[1])
	}
}

// seedEquality seeds one side of an equality from a literal on the other.
func (i *Interpreter) seedEquality(lhs, rhs *ir.Expr) {
	if rhs.Kind == ir.ExprIdent || rhs.Kind == ir.ExprMapSelect {
		lhs, rhs = rhs, lhs
	}
	v, ok := literalOf(rhs)
	if !ok {
		return
	}

	switch lhs.Kind {
	case ir.ExprIdent:
		i.memory.WriteScalar(lhs.Name, v)
	case ir.ExprMapSelect:
		index := make([]BitVector, len(lhs.Args))
		for n, arg := range lhs.Args {
			iv, ok := literalOf(arg)
			if !ok || iv.Domain() != DomainBitVector {
				return
			}
			index[n] = iv.BitVector()
		}
		i.memory.WriteCell(lhs.Name, index, v)
	}
}

// literalEquality matches "ident == literal" in either order.
func literalEquality(expr *ir.Expr) (name string, v Value, ok bool) {
	if expr.Kind != ir.ExprBinary || expr.Op != "==" {
		return "", Value{}, false
	}
	lhs, rhs := expr.Args[0], expr.Args[1]
	if rhs.Kind == ir.ExprIdent {
		lhs, rhs = rhs, lhs
	}
	if lhs.Kind != ir.ExprIdent {
		return "", Value{}, false
	}
	v, ok = literalOf(rhs)
	return lhs.Name, v, ok
}

// literalOf resolves a literal expression to its value.
func literalOf(expr *ir.Expr) (Value, bool) {
	if expr.Kind != ir.ExprLit {
		return Value{}, false
	}
	node, err := buildLiteralNode(expr)
	if err != nil {
		return Value{}, false
	}
	return node.Literal, true
}

// freshValue draws a havoc value for one declared width. Single bits are
// uniform; wider values keep the sign bit clear and bias the remaining bits
// toward zero, so unconstrained inputs land on plausible small magnitudes
// rather than adversarial extremes.
func (i *Interpreter) freshValue(width uint) Value {
	switch width {
	case 0:
		return BoolValue(i.rnd.Intn(2) == 1)
	case 1:
		return BitVectorValue(NewBitVector(uint64(i.rnd.Intn(2)), 1))
	default:
		var bits uint64
		for b := uint(0); b < width-1; b++ {
			if i.rnd.Intn(4) == 0 {
				bits |= 1 << b
			}
		}
		return BitVectorValue(NewBitVector(bits, width))
	}
}

// execBlock runs one block's commands in order and resolves its transfer.
// A nil next block means the implementation returned.
func (i *Interpreter) execBlock(impl *ir.Implementation, block *ir.Block) (*ir.Block, error) {
	for _, cmd := range block.Cmds {
		var err error
		switch cmd.Kind {
		case ir.CmdAssign:
			err = i.execAssign(cmd)
		case ir.CmdCall:
			err = i.execCall(cmd)
		case ir.CmdHavoc:
			err = i.execHavoc(impl, cmd)
		case ir.CmdAssert:
			err = i.execAssert(cmd)
		case ir.CmdAssume:
			err = i.execAssume(cmd)
		default:
			err = fmt.Errorf("cruncher.Interpreter: command kind %d: %w", cmd.Kind, ErrUnhandled)
		}
		if err != nil {
			return nil, err
		}
	}
	return i.transfer(impl, block)
}

// transfer resolves the successor of a block. A block without successors
// returns; a single successor is unconditional; with several, the unique
// candidate whose entry guard evaluates concretely true is taken.
func (i *Interpreter) transfer(impl *ir.Implementation, block *ir.Block) (*ir.Block, error) {
	switch len(block.Succs) {
	case 0:
		return nil, nil
	case 1:
		next := impl.Block(block.Succs[0])
		if next == nil {
			return nil, fmt.Errorf("cruncher.Interpreter: no block %q", block.Succs[0])
		}
		return next, nil
	}

	for _, label := range block.Succs {
		next := impl.Block(label)
		if next == nil {
			return nil, fmt.Errorf("cruncher.Interpreter: no block %q", label)
		}
		ok, err := i.guardHolds(next)
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}
	}
	return nil, fmt.Errorf("cruncher.Interpreter: block %s: %w", block.Label, ErrNoSuccessor)
}

// guardHolds evaluates a candidate successor's entry guard. A successor
// whose first command is not an assume, or whose guard does not resolve
// concretely, cannot be entered.
func (i *Interpreter) guardHolds(block *ir.Block) (bool, error) {
	if len(block.Cmds) == 0 || block.Cmds[0].Kind != ir.CmdAssume {
		return false, nil
	}
	tree, err := i.evaluate(block.Cmds[0].Cond)
	if err != nil {
		return false, err
	}
	if tree.Uninitialised() {
		return false, nil
	}
	return tree.Truth(), nil
}

// execAssign evaluates every right-hand side and target index against the
// pre-assignment state, then commits. A write whose right-hand side or index
// is uninitialised is skipped, leaving the previous binding untouched.
func (i *Interpreter) execAssign(cmd *ir.Cmd) error {
	assert(len(cmd.Targets) == len(cmd.Values), "interp: assign arity %d != %d", len(cmd.Targets), len(cmd.Values))

	type pending struct {
		target *ir.Target
		index  []BitVector
		value  Value
		skip   bool
	}
	commits := make([]pending, len(cmd.Targets))

	for n, value := range cmd.Values {
		p := pending{target: cmd.Targets[n]}

		tree, err := i.evaluate(value)
		if err != nil {
			return err
		}
		if tree.Uninitialised() {
			p.skip = true
		} else if p.value, err = singleValue(tree); err != nil {
			return err
		}

		for _, idx := range p.target.Indexes {
			itree, err := i.evaluate(idx)
			if err != nil {
				return err
			}
			if itree.Uninitialised() {
				p.skip = true
				break
			}
			iv, err := itree.Final()
			if err != nil {
				return err
			}
			p.index = append(p.index, iv)
		}
		commits[n] = p
	}

	for _, p := range commits {
		if p.skip {
			continue
		}
		if len(p.target.Indexes) == 0 {
			i.memory.WriteScalar(p.target.Name, p.value)
		} else {
			i.memory.WriteCell(p.target.Name, p.index, p.value)
		}
	}
	return nil
}

// singleValue extracts the one evaluation of a tree root.
func singleValue(tree *ExprTree) (Value, error) {
	evals := tree.Root().Evals()
	if len(evals) != 1 {
		return Value{}, fmt.Errorf("cruncher.ExprTree: expected single evaluation, got %d", len(evals))
	}
	return evals[0], nil
}

// execCall dispatches an instrumentation call by callee name pattern.
func (i *Interpreter) execCall(cmd *ir.Cmd) error {
	switch name := cmd.Callee; {
	case strings.HasPrefix(name, logReadPrefix):
		return i.execLogAccess(cmd, ir.AccessRead, strings.TrimPrefix(name, logReadPrefix))
	case strings.HasPrefix(name, logWritePrefix):
		return i.execLogAccess(cmd, ir.AccessWrite, strings.TrimPrefix(name, logWritePrefix))
	case strings.HasPrefix(name, logAtomicPrefix):
		return i.execLogAtomic(cmd, strings.TrimPrefix(name, logAtomicPrefix))
	case name == barrierCallee:
		return i.execBarrier(cmd)
	default:
		return fmt.Errorf("cruncher.Interpreter: call %s: %w", cmd.Callee, ErrUnhandled)
	}
}

// callEnabled evaluates the enable predicate of an instrumentation call.
// Predicated-out and unresolved calls do nothing.
func (i *Interpreter) callEnabled(arg *ir.Expr) (bool, error) {
	tree, err := i.evaluate(arg)
	if err != nil {
		return false, err
	}
	if tree.Uninitialised() {
		return false, nil
	}
	return tree.Truth(), nil
}

// execLogAccess handles a read or write log call: (enabled, offset, ...).
func (i *Interpreter) execLogAccess(cmd *ir.Cmd, kind ir.AccessKind, array string) error {
	if len(cmd.Args) < 2 {
		return fmt.Errorf("cruncher.Interpreter: call %s: expected (enabled, offset) arguments", cmd.Callee)
	}
	if _, ok := i.memory.Space(array); !ok {
		return fmt.Errorf("cruncher.Interpreter: call %s: unknown race array %q: %w", cmd.Callee, array, ErrUnhandled)
	}

	enabled, err := i.callEnabled(cmd.Args[0])
	if err != nil || !enabled {
		return err
	}

	tree, err := i.evaluate(cmd.Args[1])
	if err != nil {
		return err
	}
	if tree.Uninitialised() {
		return nil
	}
	offset, err := tree.Final()
	if err != nil {
		return err
	}

	i.memory.LogOffset(array, kind, offset)
	if i.opt.Verbose {
		log.Printf("[exec] %s %s offset %s", kind, array, offset)
	}
	return nil
}

// atomicOps maps the whitelisted atomic operation names to their
// read-modify-write function.
var atomicOps = map[string]func(cur, operand BitVector) BitVector{
	"add": func(cur, operand BitVector) BitVector { return cur.Add(operand) },
	"sub": func(cur, operand BitVector) BitVector { return cur.Sub(operand) },
	"and": func(cur, operand BitVector) BitVector { return cur.And(operand) },
	"or":  func(cur, operand BitVector) BitVector { return cur.Or(operand) },
	"xor": func(cur, operand BitVector) BitVector { return cur.Xor(operand) },
	"exchange": func(cur, operand BitVector) BitVector {
		return operand
	},
	"min": func(cur, operand BitVector) BitVector {
		if operand.Slt(cur) {
			return operand
		}
		return cur
	},
	"max": func(cur, operand BitVector) BitVector {
		if operand.Sgt(cur) {
			return operand
		}
		return cur
	},
}

// execLogAtomic handles an atomic log call "_LOG_ATOMIC_<op>_<array>":
// (enabled, offset, payload). The modeled read-modify-write updates the
// target cell and the access is logged as atomic.
func (i *Interpreter) execLogAtomic(cmd *ir.Cmd, rest string) error {
	sep := strings.IndexByte(rest, '_')
	if sep <= 0 {
		return fmt.Errorf("cruncher.Interpreter: call %s: malformed atomic callee: %w", cmd.Callee, ErrUnhandled)
	}
	op, array := rest[:sep], rest[sep+1:]
	rmw, ok := atomicOps[op]
	if !ok {
		return fmt.Errorf("cruncher.Interpreter: call %s: unknown atomic operation %q: %w", cmd.Callee, op, ErrUnhandled)
	}
	if _, ok := i.memory.Space(array); !ok {
		return fmt.Errorf("cruncher.Interpreter: call %s: unknown race array %q: %w", cmd.Callee, array, ErrUnhandled)
	}
	if len(cmd.Args) < 3 {
		return fmt.Errorf("cruncher.Interpreter: call %s: expected (enabled, offset, payload) arguments", cmd.Callee)
	}

	enabled, err := i.callEnabled(cmd.Args[0])
	if err != nil || !enabled {
		return err
	}

	offTree, err := i.evaluate(cmd.Args[1])
	if err != nil {
		return err
	}
	payTree, err := i.evaluate(cmd.Args[2])
	if err != nil {
		return err
	}
	if offTree.Uninitialised() || payTree.Uninitialised() {
		return nil
	}
	offset, err := offTree.Final()
	if err != nil {
		return err
	}
	payload, err := payTree.Final()
	if err != nil {
		return err
	}

	i.memory.LogOffset(array, ir.AccessAtomic, offset)

	index := []BitVector{offset}
	cur, known := i.memory.ReadCell(array, index)
	switch {
	case known && cur.Domain() == DomainBitVector:
		i.memory.WriteCell(array, index, BitVectorValue(rmw(cur.BitVector(), payload)))
	case op == "exchange":
		// An exchange does not need the previous cell value.
		i.memory.WriteCell(array, index, BitVectorValue(payload))
	}
	return nil
}

// execBarrier handles "$bugle_barrier": (groupFence, globalFence). Every
// race-tracked array in a fenced memory space has its access log reset,
// modeling the happens-before edge of the synchronization point.
func (i *Interpreter) execBarrier(cmd *ir.Cmd) error {
	if len(cmd.Args) < 2 {
		return fmt.Errorf("cruncher.Interpreter: call %s: expected (groupFence, globalFence) arguments", cmd.Callee)
	}
	groupFence, err := i.callEnabled(cmd.Args[0])
	if err != nil {
		return err
	}
	globalFence, err := i.callEnabled(cmd.Args[1])
	if err != nil {
		return err
	}

	kinds := []ir.AccessKind{ir.AccessRead, ir.AccessWrite, ir.AccessAtomic}
	for _, array := range i.memory.RaceArrays() {
		space, _ := i.memory.Space(array)
		fenced := (space == ir.SpaceGroupShared && groupFence) ||
			(space == ir.SpaceGlobal && globalFence)
		if !fenced {
			continue
		}
		for _, kind := range kinds {
			if !i.memory.AccessOccurred(array, kind) {
				continue
			}
			i.memory.ClearAccessLog(array, kind)
			if i.opt.Verbose {
				log.Printf("[barrier] reset %s %s log", array, kind)
			}
		}
	}
	return nil
}

// execHavoc gives every named variable a fresh value.
func (i *Interpreter) execHavoc(impl *ir.Implementation, cmd *ir.Cmd) error {
	for _, name := range cmd.Vars {
		v := impl.Var(name)
		if v == nil {
			v = i.program.Variable(name)
		}
		if v == nil {
			return fmt.Errorf("cruncher.Interpreter: havoc of undeclared variable %q: %w", name, ErrUnhandled)
		}
		i.memory.WriteScalar(name, i.freshValue(v.Width))
	}
	return nil
}

// execAssert checks a tagged candidate invariant. Untagged asserts are
// structural and never checked. A concretely false candidate is refuted
// once into the shared set; an uninitialised evaluation is not evidence
// either way and leaves the candidate alone.
func (i *Interpreter) execAssert(cmd *ir.Cmd) error {
	if cmd.Tag == "" {
		return nil
	}
	token, body := candidateParts(cmd)
	if i.refuted.Contains(token) {
		return nil
	}

	tree, err := i.evaluate(body)
	if err != nil {
		return err
	}
	if tree.Uninitialised() {
		return nil
	}
	if !tree.Truth() {
		if i.refuted.Add(token) {
			log.Printf("[exec] refuted %s (tag %s)", token, cmd.Tag)
		}
	}
	return nil
}

// candidateParts splits a tagged assert into the identifying token of its
// annotation and the body to evaluate. Candidates have the shape
// "guard ==> body" where the guard is the existential annotation variable;
// an assert without that shape is identified by its tag and evaluated whole.
func candidateParts(cmd *ir.Cmd) (token string, body *ir.Expr) {
	if cmd.Cond.Kind == ir.ExprBinary && cmd.Cond.Op == "==>" &&
		cmd.Cond.Args[0].Kind == ir.ExprIdent {
		return cmd.Cond.Args[0].Name, cmd.Cond.Args[1]
	}
	return cmd.Tag, cmd.Cond
}

// execAssume terminates the path with ErrInfeasible on a concretely false
// condition. An unresolved assume constrains nothing.
func (i *Interpreter) execAssume(cmd *ir.Cmd) error {
	tree, err := i.evaluate(cmd.Cond)
	if err != nil {
		return err
	}
	if tree.Uninitialised() {
		return nil
	}
	if !tree.Truth() {
		return ErrInfeasible
	}
	return nil
}

// evaluate builds (or reuses) the tree for an expression and evaluates it
// against the current shadow memory.
func (i *Interpreter) evaluate(expr *ir.Expr) (*ExprTree, error) {
	tree := i.trees[expr]
	if tree == nil {
		var err error
		if tree, err = BuildTree(expr); err != nil {
			return nil, err
		}
		i.trees[expr] = tree
	}

	tree.Reset()
	env := &interpEnv{memory: i.memory, oracle: i.oracle}
	if err := tree.Evaluate(env); err != nil {
		return nil, err
	}
	return tree, nil
}

// interpEnv resolves expression leaves from shadow memory and
// floating-point applications from the run's oracle.
type interpEnv struct {
	memory *Memory
	oracle *floatOracle
}

func (e *interpEnv) LookupScalar(name string) (Value, bool) {
	return e.memory.LookupScalar(name)
}

func (e *interpEnv) LookupOffsets(name string) ([]BitVector, bool) {
	return e.memory.LookupOffsets(name)
}

func (e *interpEnv) LookupCell(name string, index []BitVector) (Value, bool) {
	return e.memory.LookupCell(name, index)
}

func (e *interpEnv) ApplyFloat(op string, width uint, operands ...Value) Value {
	return e.oracle.apply(op, width, operands...)
}
