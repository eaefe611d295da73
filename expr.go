package cruncher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/delcypher/gv-hack/ir"
)

// NodeKind identifies the variant of an evaluation tree node.
type NodeKind int

const (
	NodeLiteral NodeKind = iota
	NodeScalarSymbol
	NodeMapSymbol
	NodeUnary
	NodeBinary
	NodeTernary
	NodeExtract
	NodeConcatenate
)

// String returns the string representation of the node kind.
func (k NodeKind) String() string {
	switch k {
	case NodeLiteral:
		return "literal"
	case NodeScalarSymbol:
		return "scalar"
	case NodeMapSymbol:
		return "map"
	case NodeUnary:
		return "unary"
	case NodeBinary:
		return "binary"
	case NodeTernary:
		return "ternary"
	case NodeExtract:
		return "extract"
	case NodeConcatenate:
		return "concat"
	default:
		return fmt.Sprintf("NodeKind<%d>", k)
	}
}

// Node is one node of an evaluation tree. A node owns a list of evaluation
// results rather than a single value: a race-offset scalar leaf yields one
// binding per logged offset, and those bindings fan out through the
// operators above it. The uninitialised flag records that a required input
// was unresolved; it propagates upward and suppresses the node's own
// evaluation.
type Node struct {
	Kind   NodeKind
	Domain Domain
	Width  uint // bitvector result width; 0 for boolean nodes

	Literal   Value   // NodeLiteral
	Name      string  // NodeScalarSymbol, NodeMapSymbol
	Op        string  // NodeUnary, NodeBinary
	High, Low uint    // NodeExtract
	Children  []*Node // operands; index expressions for NodeMapSymbol

	evals         []Value
	uninitialised bool
}

// Evals returns the evaluation results produced by the last evaluation.
func (n *Node) Evals() []Value { return n.evals }

// Uninitialised returns true if a required input of the node was unresolved.
func (n *Node) Uninitialised() bool { return n.uninitialised }

// reset clears evaluation state in-place so the node can be re-evaluated.
func (n *Node) reset() {
	n.evals = n.evals[:0]
	n.uninitialised = false
}

// Env provides the bindings an expression tree is evaluated against.
type Env interface {
	// LookupScalar resolves a scalar variable by name.
	LookupScalar(name string) (Value, bool)

	// LookupOffsets reports whether name is a race-offset variable and, if
	// so, returns the offsets logged for it since the last barrier.
	LookupOffsets(name string) ([]BitVector, bool)

	// LookupCell resolves an array cell by basename and index tuple.
	LookupCell(name string, index []BitVector) (Value, bool)

	// ApplyFloat resolves a floating-point-tagged operator application.
	ApplyFloat(op string, width uint, operands ...Value) Value
}

// ExprTree is the evaluation form of one source expression. The tree owns
// its nodes (no sharing) and records them level by level so evaluation can
// walk leaves-first; a tree is built once per distinct source expression and
// reset between evaluations.
type ExprTree struct {
	root   *Node
	levels [][]*Node // deepest level first
}

// BuildTree converts an IR expression into an evaluation tree.
// Unsupported expression shapes and unknown operator tags are errors.
func BuildTree(expr *ir.Expr) (*ExprTree, error) {
	root, err := buildNode(expr)
	if err != nil {
		return nil, err
	}

	t := &ExprTree{root: root}
	t.index()
	return t, nil
}

// Root returns the root node of the tree.
func (t *ExprTree) Root() *Node { return t.root }

// Domain returns the result domain of the tree.
func (t *ExprTree) Domain() Domain { return t.root.Domain }

// index records nodes level by level, deepest first.
func (t *ExprTree) index() {
	level := []*Node{t.root}
	var levels [][]*Node
	for len(level) > 0 {
		levels = append(levels, level)
		var next []*Node
		for _, n := range level {
			next = append(next, n.Children...)
		}
		level = next
	}

	// Reverse so leaves evaluate before their parents.
	t.levels = make([][]*Node, len(levels))
	for i := range levels {
		t.levels[i] = levels[len(levels)-1-i]
	}
}

func buildNode(expr *ir.Expr) (*Node, error) {
	switch expr.Kind {
	case ir.ExprLit:
		return buildLiteralNode(expr)

	case ir.ExprIdent:
		domain, width := DomainBitVector, expr.Width
		if width == 0 {
			domain = DomainBool
		}
		return &Node{Kind: NodeScalarSymbol, Domain: domain, Width: width, Name: expr.Name}, nil

	case ir.ExprMapSelect:
		children, err := buildNodes(expr.Args)
		if err != nil {
			return nil, err
		}
		domain, width := DomainBitVector, expr.Width
		if width == 0 {
			domain = DomainBool
		}
		return &Node{Kind: NodeMapSymbol, Domain: domain, Width: width, Name: expr.Name, Children: children}, nil

	case ir.ExprUnary:
		child, err := buildNode(expr.Args[0])
		if err != nil {
			return nil, err
		}
		domain, width, err := unaryResult(expr.Op, child)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: NodeUnary, Domain: domain, Width: width, Op: expr.Op, Children: []*Node{child}}, nil

	case ir.ExprBinary:
		children, err := buildNodes(expr.Args)
		if err != nil {
			return nil, err
		}
		domain, width, err := binaryResult(expr.Op, children[0])
		if err != nil {
			return nil, err
		}
		return &Node{Kind: NodeBinary, Domain: domain, Width: width, Op: expr.Op, Children: children}, nil

	case ir.ExprIfThenElse:
		children, err := buildNodes(expr.Args)
		if err != nil {
			return nil, err
		}
		if children[0].Domain != DomainBool {
			return nil, fmt.Errorf("cruncher.BuildTree: non-boolean ternary condition: %s", expr)
		}
		then := children[1]
		return &Node{Kind: NodeTernary, Domain: then.Domain, Width: then.Width, Children: children}, nil

	case ir.ExprExtract:
		child, err := buildNode(expr.Args[0])
		if err != nil {
			return nil, err
		}
		if expr.High <= expr.Low {
			return nil, fmt.Errorf("cruncher.BuildTree: empty extract range [%d:%d)", expr.Low, expr.High)
		}
		return &Node{
			Kind:     NodeExtract,
			Domain:   DomainBitVector,
			Width:    expr.High - expr.Low,
			High:     expr.High,
			Low:      expr.Low,
			Children: []*Node{child},
		}, nil

	case ir.ExprConcat:
		children, err := buildNodes(expr.Args)
		if err != nil {
			return nil, err
		}
		return &Node{
			Kind:     NodeConcatenate,
			Domain:   DomainBitVector,
			Width:    children[0].Width + children[1].Width,
			Children: children,
		}, nil

	default:
		return nil, fmt.Errorf("cruncher.BuildTree: %w: expression kind %d", ErrUnhandled, expr.Kind)
	}
}

func buildNodes(exprs []*ir.Expr) ([]*Node, error) {
	nodes := make([]*Node, len(exprs))
	for i, e := range exprs {
		n, err := buildNode(e)
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	return nodes, nil
}

func buildLiteralNode(expr *ir.Expr) (*Node, error) {
	switch expr.Value {
	case "true":
		return &Node{Kind: NodeLiteral, Domain: DomainBool, Literal: BoolValue(true)}, nil
	case "false":
		return &Node{Kind: NodeLiteral, Domain: DomainBool, Literal: BoolValue(false)}, nil
	}

	magnitude, err := strconv.ParseUint(expr.Value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cruncher.BuildTree: bad literal %q: %v", expr.Value, err)
	}
	if expr.Width == 0 {
		return nil, fmt.Errorf("cruncher.BuildTree: numeric literal %q has no width", expr.Value)
	}
	v := BitVectorValue(NewBitVector(magnitude, expr.Width))
	return &Node{Kind: NodeLiteral, Domain: DomainBitVector, Width: expr.Width, Literal: v}, nil
}

// unaryResult classifies a unary operator tag.
func unaryResult(op string, child *Node) (Domain, uint, error) {
	if op == "!" {
		return DomainBool, 0, nil
	}
	if _, target, ok := parseExtensionOp(op); ok {
		return DomainBitVector, target, nil
	}
	if _, bvOp, ok := parseBitVectorOp(op); ok {
		switch bvOp {
		case "NOT", "NEG":
			return DomainBitVector, child.Width, nil
		}
	}
	return 0, 0, fmt.Errorf("cruncher.BuildTree: %w: unary operator %q", ErrUnhandled, op)
}

// binaryResult classifies a binary operator tag.
func binaryResult(op string, lhs *Node) (Domain, uint, error) {
	switch op {
	case "&&", "||", "==>", "<==>", "==", "!=", "<", "<=", ">", ">=":
		return DomainBool, 0, nil
	case "+", "-", "*", "div", "mod":
		return DomainBitVector, lhs.Width, nil
	}

	if isFloatOp(op) {
		if isFloatCompareOp(op) {
			return DomainBool, 0, nil
		}
		return DomainBitVector, lhs.Width, nil
	}

	if w, bvOp, ok := parseBitVectorOp(op); ok {
		switch bvOp {
		case "ULT", "ULE", "UGT", "UGE", "SLT", "SLE", "SGT", "SGE":
			return DomainBool, 0, nil
		case "ADD", "SUB", "MUL", "UDIV", "SDIV", "UREM", "SREM",
			"AND", "OR", "XOR", "SHL", "LSHR", "ASHR":
			return DomainBitVector, w, nil
		}
	}

	return 0, 0, fmt.Errorf("cruncher.BuildTree: %w: binary operator %q", ErrUnhandled, op)
}

// parseBitVectorOp splits a "BV32_SLE"-style intrinsic tag into its width
// and operation name.
func parseBitVectorOp(op string) (width uint, name string, ok bool) {
	if !strings.HasPrefix(op, "BV") {
		return 0, "", false
	}
	i := strings.IndexByte(op, '_')
	if i < 0 {
		return 0, "", false
	}
	w, err := strconv.ParseUint(op[2:i], 10, 8)
	if err != nil || w == 0 || w > Width64 {
		return 0, "", false
	}
	return uint(w), op[i+1:], true
}

// parseExtensionOp recognizes "BV1_ZEXT32"-style width extension tags and
// returns the source and target widths.
func parseExtensionOp(op string) (src, dst uint, ok bool) {
	w, name, ok := parseBitVectorOp(op)
	if !ok {
		return 0, 0, false
	}
	var rest string
	switch {
	case strings.HasPrefix(name, "ZEXT"):
		rest = strings.TrimPrefix(name, "ZEXT")
	case strings.HasPrefix(name, "SEXT"):
		rest = strings.TrimPrefix(name, "SEXT")
	default:
		return 0, 0, false
	}
	d, err := strconv.ParseUint(rest, 10, 8)
	if err != nil || d == 0 || uint(d) > Width64 || uint(d) < uint(w) {
		return 0, 0, false
	}
	return w, uint(d), true
}

// Reset clears all evaluation state so the tree can be re-evaluated against
// updated bindings. The same tree object is reused across loop iterations.
func (t *ExprTree) Reset() {
	for _, level := range t.levels {
		for _, n := range level {
			n.reset()
		}
	}
}

// Evaluate walks the tree leaves-first, evaluating every node from its
// already-evaluated children. A node whose required inputs are unresolved is
// marked uninitialised instead of producing a value; the flag propagates to
// the root. Unknown operator applications are errors.
func (t *ExprTree) Evaluate(env Env) error {
	for _, level := range t.levels {
		for _, n := range level {
			if err := evaluateNode(n, env); err != nil {
				return err
			}
		}
	}
	return nil
}

// Uninitialised returns true if the last evaluation left the root unresolved.
func (t *ExprTree) Uninitialised() bool { return t.root.uninitialised }

// Truth returns the conjunction of all root evaluations of a boolean tree.
// A tree with no evaluations is vacuously true: no concrete evaluation means
// no violation was observed. Call only after Evaluate on an initialized tree.
func (t *ExprTree) Truth() bool {
	assert(t.root.Domain == DomainBool, "cruncher.ExprTree: Truth on %s tree", t.root.Domain)
	for _, v := range t.root.evals {
		if !v.Bool() {
			return false
		}
	}
	return true
}

// Final returns the single evaluation of a bitvector tree. It is an error
// for a bitvector root to produce anything other than exactly one value.
func (t *ExprTree) Final() (BitVector, error) {
	assert(t.root.Domain == DomainBitVector, "cruncher.ExprTree: Final on %s tree", t.root.Domain)
	if len(t.root.evals) != 1 {
		return BitVector{}, fmt.Errorf("cruncher.ExprTree: expected one evaluation, have %d", len(t.root.evals))
	}
	return t.root.evals[0].BitVector(), nil
}

func evaluateNode(n *Node, env Env) error {
	// Uninitialised inputs suppress evaluation of the node itself. A
	// ternary is exempt: only its condition and the selected branch feed
	// its result, so the selection logic handles the flag itself.
	if n.Kind != NodeTernary {
		for _, child := range n.Children {
			if child.uninitialised {
				n.uninitialised = true
				return nil
			}
		}
	}

	switch n.Kind {
	case NodeLiteral:
		n.evals = append(n.evals, n.Literal)
		return nil

	case NodeScalarSymbol:
		return evaluateScalarNode(n, env)

	case NodeMapSymbol:
		return evaluateMapNode(n, env)

	case NodeUnary:
		return evaluateUnaryNode(n)

	case NodeBinary:
		return evaluateBinaryNode(n, env)

	case NodeTernary:
		return evaluateTernaryNode(n)

	case NodeExtract:
		for _, v := range n.Children[0].evals {
			n.evals = append(n.evals, BitVectorValue(v.BitVector().Extract(n.High, n.Low)))
		}
		return nil

	case NodeConcatenate:
		for _, msb := range n.Children[0].evals {
			for _, lsb := range n.Children[1].evals {
				n.evals = append(n.evals, BitVectorValue(msb.BitVector().Concat(lsb.BitVector())))
			}
		}
		return nil

	default:
		return fmt.Errorf("cruncher.ExprTree: %w: node kind %s", ErrUnhandled, n.Kind)
	}
}

func evaluateScalarNode(n *Node, env Env) error {
	// A race-offset variable binds once per offset logged since the last
	// barrier, so a guard over it can match any tracked access.
	if offsets, ok := env.LookupOffsets(n.Name); ok {
		if len(offsets) == 0 {
			n.uninitialised = true
			return nil
		}
		for _, offset := range offsets {
			n.evals = append(n.evals, BitVectorValue(offset))
		}
		return nil
	}

	v, ok := env.LookupScalar(n.Name)
	if !ok {
		n.uninitialised = true
		return nil
	}
	n.evals = append(n.evals, v)
	return nil
}

func evaluateMapNode(n *Node, env Env) error {
	// Each index child must resolve to a single concrete bitvector.
	index := make([]BitVector, len(n.Children))
	for i, child := range n.Children {
		if len(child.evals) != 1 {
			n.uninitialised = true
			return nil
		}
		index[i] = child.evals[0].BitVector()
	}

	v, ok := env.LookupCell(n.Name, index)
	if !ok {
		n.uninitialised = true
		return nil
	}
	n.evals = append(n.evals, v)
	return nil
}

func evaluateUnaryNode(n *Node) error {
	for _, x := range n.Children[0].evals {
		v, err := applyUnary(n.Op, x)
		if err != nil {
			return err
		}
		n.evals = append(n.evals, v)
	}
	return nil
}

func evaluateBinaryNode(n *Node, env Env) error {
	// Cross product over operand evaluations. In practice each side has one
	// evaluation unless a race-offset leaf feeds it.
	for _, x := range n.Children[0].evals {
		for _, y := range n.Children[1].evals {
			v, err := applyBinary(n.Op, x, y, n.Width, env)
			if err != nil {
				return err
			}
			n.evals = append(n.evals, v)
		}
	}
	return nil
}

func evaluateTernaryNode(n *Node) error {
	cond, then, els := n.Children[0], n.Children[1], n.Children[2]
	if cond.uninitialised {
		n.uninitialised = true
		return nil
	}
	for _, c := range cond.evals {
		branch := then
		if !c.Bool() {
			branch = els
		}
		if branch.uninitialised {
			n.uninitialised = true
			return nil
		}
		n.evals = append(n.evals, branch.evals...)
	}
	return nil
}

// applyUnary evaluates a unary operator over one concrete operand.
func applyUnary(op string, x Value) (Value, error) {
	if op == "!" {
		return BoolValue(!x.Bool()), nil
	}
	if _, dst, ok := parseExtensionOp(op); ok {
		if strings.Contains(op, "_SEXT") {
			return BitVectorValue(x.BitVector().SExt(dst)), nil
		}
		return BitVectorValue(x.BitVector().ZExt(dst)), nil
	}
	if _, name, ok := parseBitVectorOp(op); ok {
		switch name {
		case "NOT":
			return BitVectorValue(x.BitVector().Not()), nil
		case "NEG":
			return BitVectorValue(x.BitVector().Neg()), nil
		}
	}
	return Value{}, fmt.Errorf("cruncher.ExprTree: %w: unary operator %q", ErrUnhandled, op)
}

// applyBinary evaluates a binary operator over two concrete operands.
func applyBinary(op string, x, y Value, width uint, env Env) (Value, error) {
	switch op {
	case "&&":
		return BoolValue(x.Bool() && y.Bool()), nil
	case "||":
		return BoolValue(x.Bool() || y.Bool()), nil
	case "==>":
		return BoolValue(!x.Bool() || y.Bool()), nil
	case "<==>":
		return BoolValue(x.Bool() == y.Bool()), nil
	case "==":
		return BoolValue(x.Equal(y)), nil
	case "!=":
		return BoolValue(!x.Equal(y)), nil
	case "<":
		return BoolValue(x.BitVector().Slt(y.BitVector())), nil
	case "<=":
		return BoolValue(x.BitVector().Sle(y.BitVector())), nil
	case ">":
		return BoolValue(x.BitVector().Sgt(y.BitVector())), nil
	case ">=":
		return BoolValue(x.BitVector().Sge(y.BitVector())), nil
	case "+":
		return BitVectorValue(x.BitVector().Add(y.BitVector())), nil
	case "-":
		return BitVectorValue(x.BitVector().Sub(y.BitVector())), nil
	case "*":
		return BitVectorValue(x.BitVector().Mul(y.BitVector())), nil
	case "div":
		return BitVectorValue(x.BitVector().SDiv(y.BitVector())), nil
	case "mod":
		return BitVectorValue(x.BitVector().SRem(y.BitVector())), nil
	}

	if isFloatOp(op) {
		return env.ApplyFloat(op, width, x, y), nil
	}

	if _, name, ok := parseBitVectorOp(op); ok {
		a, b := x.BitVector(), y.BitVector()
		switch name {
		case "ADD":
			return BitVectorValue(a.Add(b)), nil
		case "SUB":
			return BitVectorValue(a.Sub(b)), nil
		case "MUL":
			return BitVectorValue(a.Mul(b)), nil
		case "UDIV":
			return BitVectorValue(a.UDiv(b)), nil
		case "SDIV":
			return BitVectorValue(a.SDiv(b)), nil
		case "UREM":
			return BitVectorValue(a.URem(b)), nil
		case "SREM":
			return BitVectorValue(a.SRem(b)), nil
		case "AND":
			return BitVectorValue(a.And(b)), nil
		case "OR":
			return BitVectorValue(a.Or(b)), nil
		case "XOR":
			return BitVectorValue(a.Xor(b)), nil
		case "SHL":
			return BitVectorValue(a.Shl(b)), nil
		case "LSHR":
			return BitVectorValue(a.LShr(b)), nil
		case "ASHR":
			return BitVectorValue(a.AShr(b)), nil
		case "ULT":
			return BoolValue(a.Ult(b)), nil
		case "ULE":
			return BoolValue(a.Ule(b)), nil
		case "UGT":
			return BoolValue(a.Ugt(b)), nil
		case "UGE":
			return BoolValue(a.Uge(b)), nil
		case "SLT":
			return BoolValue(a.Slt(b)), nil
		case "SLE":
			return BoolValue(a.Sle(b)), nil
		case "SGT":
			return BoolValue(a.Sgt(b)), nil
		case "SGE":
			return BoolValue(a.Sge(b)), nil
		}
	}

	return Value{}, fmt.Errorf("cruncher.ExprTree: %w: binary operator %q", ErrUnhandled, op)
}
