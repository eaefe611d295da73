// Package ir defines the kernel intermediate representation consumed by the
// refutation core. Programs arrive from the front end already parsed,
// resolved and race-instrumented; this package only specifies their shape
// and provides deep copies so independent engine tasks never share state.
package ir

import "fmt"

// MemorySpace identifies the address space of a race-instrumented array.
type MemorySpace int

const (
	SpaceGlobal MemorySpace = iota
	SpaceGroupShared
)

// String returns the string representation of the memory space.
func (s MemorySpace) String() string {
	switch s {
	case SpaceGlobal:
		return "global"
	case SpaceGroupShared:
		return "group-shared"
	default:
		return fmt.Sprintf("MemorySpace<%d>", s)
	}
}

// AccessKind identifies the kind of a race-tracked memory access.
type AccessKind int

const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessAtomic
)

// String returns the string representation of the access kind.
func (k AccessKind) String() string {
	switch k {
	case AccessRead:
		return "READ"
	case AccessWrite:
		return "WRITE"
	case AccessAtomic:
		return "ATOMIC"
	default:
		return fmt.Sprintf("AccessKind<%d>", k)
	}
}

// ExprKind identifies the variant of an expression node.
type ExprKind int

const (
	ExprLit ExprKind = iota
	ExprIdent
	ExprMapSelect
	ExprUnary
	ExprBinary
	ExprIfThenElse
	ExprExtract
	ExprConcat
)

// Expr is one node of a kernel expression. The front end produces typed
// expressions; Width zero means the node is boolean, any other width a
// bitvector of that many bits.
type Expr struct {
	Kind  ExprKind `json:"kind"`
	Value string   `json:"value,omitempty"` // literal text: "true", "false" or a decimal magnitude
	Width uint     `json:"width,omitempty"` // result width; 0 = bool
	Name  string   `json:"name,omitempty"`  // identifier or map basename
	Op    string   `json:"op,omitempty"`    // operator tag, e.g. "+", "BV32_SLE", "FADD32"
	Args  []*Expr  `json:"args,omitempty"`  // operands or map index expressions
	High  uint     `json:"high,omitempty"`  // bit-extraction bounds, half-open [Low, High)
	Low   uint     `json:"low,omitempty"`
}

// Clone returns a deep copy of the expression.
func (e *Expr) Clone() *Expr {
	if e == nil {
		return nil
	}
	other := *e
	if e.Args != nil {
		other.Args = make([]*Expr, len(e.Args))
		for i, arg := range e.Args {
			other.Args[i] = arg.Clone()
		}
	}
	return &other
}

// String returns a compact prefix rendering of the expression.
func (e *Expr) String() string {
	switch e.Kind {
	case ExprLit:
		return e.Value
	case ExprIdent:
		return e.Name
	case ExprMapSelect:
		s := e.Name
		for _, idx := range e.Args {
			s += fmt.Sprintf("[%s]", idx)
		}
		return s
	case ExprUnary:
		return fmt.Sprintf("(%s %s)", e.Op, e.Args[0])
	case ExprBinary:
		return fmt.Sprintf("(%s %s %s)", e.Op, e.Args[0], e.Args[1])
	case ExprIfThenElse:
		return fmt.Sprintf("(ite %s %s %s)", e.Args[0], e.Args[1], e.Args[2])
	case ExprExtract:
		return fmt.Sprintf("%s[%d:%d]", e.Args[0], e.High, e.Low)
	case ExprConcat:
		return fmt.Sprintf("(%s ++ %s)", e.Args[0], e.Args[1])
	default:
		return fmt.Sprintf("Expr<%d>", e.Kind)
	}
}

// Constructors used by the front end and by tests.

// Bool returns a boolean literal.
func Bool(v bool) *Expr {
	if v {
		return &Expr{Kind: ExprLit, Value: "true"}
	}
	return &Expr{Kind: ExprLit, Value: "false"}
}

// Lit returns a bitvector literal of the given width.
func Lit(value uint64, width uint) *Expr {
	return &Expr{Kind: ExprLit, Value: fmt.Sprintf("%d", value), Width: width}
}

// Id returns an identifier reference. Width zero denotes a boolean variable.
func Id(name string, width uint) *Expr {
	return &Expr{Kind: ExprIdent, Name: name, Width: width}
}

// Sel returns a map-select of the named array at the given indexes.
func Sel(name string, width uint, indexes ...*Expr) *Expr {
	return &Expr{Kind: ExprMapSelect, Name: name, Width: width, Args: indexes}
}

// Un returns a unary operator application.
func Un(op string, x *Expr) *Expr {
	return &Expr{Kind: ExprUnary, Op: op, Args: []*Expr{x}}
}

// Bin returns a binary operator application.
func Bin(op string, x, y *Expr) *Expr {
	return &Expr{Kind: ExprBinary, Op: op, Args: []*Expr{x, y}}
}

// Ite returns an if-then-else expression.
func Ite(cond, then, els *Expr) *Expr {
	return &Expr{Kind: ExprIfThenElse, Width: then.Width, Args: []*Expr{cond, then, els}}
}

// Extract returns the bit-extraction of x over the half-open range [low, high).
func Extract(x *Expr, high, low uint) *Expr {
	return &Expr{Kind: ExprExtract, Args: []*Expr{x}, High: high, Low: low, Width: high - low}
}

// Concat returns the bit concatenation of msb and lsb.
func Concat(msb, lsb *Expr) *Expr {
	return &Expr{Kind: ExprConcat, Args: []*Expr{msb, lsb}, Width: msb.Width + lsb.Width}
}

// CmdKind identifies the variant of a command.
type CmdKind int

const (
	CmdAssign CmdKind = iota
	CmdCall
	CmdHavoc
	CmdAssert
	CmdAssume
)

// Target is one left-hand side of an assignment. A nil index slice denotes a
// scalar target, otherwise the named map is updated at the index tuple.
type Target struct {
	Name    string  `json:"name"`
	Indexes []*Expr `json:"indexes,omitempty"`
}

// Clone returns a deep copy of the target.
func (t *Target) Clone() *Target {
	other := &Target{Name: t.Name}
	if t.Indexes != nil {
		other.Indexes = make([]*Expr, len(t.Indexes))
		for i, idx := range t.Indexes {
			other.Indexes[i] = idx.Clone()
		}
	}
	return other
}

// Cmd is one command of a basic block.
//
// Assign uses Targets/Values (parallel, evaluated right-hand-sides first).
// Call uses Callee/Args and dispatches on the callee name pattern.
// Havoc uses Vars. Assert and Assume use Cond; an Assert additionally carries
// Tag when it guards a candidate invariant (empty Tag = structural assert).
type Cmd struct {
	Kind CmdKind `json:"kind"`

	Targets []*Target `json:"targets,omitempty"`
	Values  []*Expr   `json:"values,omitempty"`

	Callee string  `json:"callee,omitempty"`
	Args   []*Expr `json:"args,omitempty"`

	Vars []string `json:"vars,omitempty"`

	Cond *Expr  `json:"cond,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// Clone returns a deep copy of the command.
func (c *Cmd) Clone() *Cmd {
	other := &Cmd{Kind: c.Kind, Callee: c.Callee, Tag: c.Tag, Cond: c.Cond.Clone()}
	if c.Targets != nil {
		other.Targets = make([]*Target, len(c.Targets))
		for i, t := range c.Targets {
			other.Targets[i] = t.Clone()
		}
	}
	if c.Values != nil {
		other.Values = make([]*Expr, len(c.Values))
		for i, v := range c.Values {
			other.Values[i] = v.Clone()
		}
	}
	if c.Args != nil {
		other.Args = make([]*Expr, len(c.Args))
		for i, a := range c.Args {
			other.Args[i] = a.Clone()
		}
	}
	if c.Vars != nil {
		other.Vars = append([]string(nil), c.Vars...)
	}
	return other
}

// Tgt returns a scalar or map assignment target.
func Tgt(name string, indexes ...*Expr) *Target {
	return &Target{Name: name, Indexes: indexes}
}

// Assign returns a parallel assignment command.
func Assign(targets []*Target, values []*Expr) *Cmd {
	return &Cmd{Kind: CmdAssign, Targets: targets, Values: values}
}

// Set returns a single-target assignment command.
func Set(target *Target, value *Expr) *Cmd {
	return Assign([]*Target{target}, []*Expr{value})
}

// Call returns an instrumentation call command.
func Call(callee string, args ...*Expr) *Cmd {
	return &Cmd{Kind: CmdCall, Callee: callee, Args: args}
}

// Havoc returns a havoc command over the named variables.
func Havoc(vars ...string) *Cmd {
	return &Cmd{Kind: CmdHavoc, Vars: vars}
}

// Assert returns a structural assert command.
func Assert(cond *Expr) *Cmd {
	return &Cmd{Kind: CmdAssert, Cond: cond}
}

// Candidate returns a tagged assert guarding a candidate invariant.
func Candidate(tag string, cond *Expr) *Cmd {
	return &Cmd{Kind: CmdAssert, Cond: cond, Tag: tag}
}

// Assume returns an assume command.
func Assume(cond *Expr) *Cmd {
	return &Cmd{Kind: CmdAssume, Cond: cond}
}

// Block is a basic block. Succs lists the labels of candidate successor
// blocks: empty denotes a return, a single label an unconditional transfer,
// and multiple labels a guarded transfer resolved by evaluating the entry
// guard (first command) of each candidate.
type Block struct {
	Label string   `json:"label"`
	Cmds  []*Cmd   `json:"cmds,omitempty"`
	Succs []string `json:"succs,omitempty"`
}

// Clone returns a deep copy of the block.
func (b *Block) Clone() *Block {
	other := &Block{Label: b.Label}
	if b.Cmds != nil {
		other.Cmds = make([]*Cmd, len(b.Cmds))
		for i, c := range b.Cmds {
			other.Cmds[i] = c.Clone()
		}
	}
	if b.Succs != nil {
		other.Succs = append([]string(nil), b.Succs...)
	}
	return other
}

// Var is a typed variable declaration. Width zero denotes a boolean.
type Var struct {
	Name  string `json:"name"`
	Width uint   `json:"width,omitempty"`
}

// RaceArray declares an array registered for race instrumentation.
type RaceArray struct {
	Name  string      `json:"name"`
	Space MemorySpace `json:"space"`
}

// Implementation is one procedure body to interpret.
type Implementation struct {
	Name     string   `json:"name"`
	Params   []*Var   `json:"params,omitempty"`
	Locals   []*Var   `json:"locals,omitempty"`
	Requires []*Expr  `json:"requires,omitempty"`
	Blocks   []*Block `json:"blocks"` // first block is the entry block
}

// Clone returns a deep copy of the implementation.
func (impl *Implementation) Clone() *Implementation {
	other := &Implementation{Name: impl.Name}
	if impl.Params != nil {
		other.Params = make([]*Var, len(impl.Params))
		for i, p := range impl.Params {
			v := *p
			other.Params[i] = &v
		}
	}
	if impl.Locals != nil {
		other.Locals = make([]*Var, len(impl.Locals))
		for i, l := range impl.Locals {
			v := *l
			other.Locals[i] = &v
		}
	}
	if impl.Requires != nil {
		other.Requires = make([]*Expr, len(impl.Requires))
		for i, r := range impl.Requires {
			other.Requires[i] = r.Clone()
		}
	}
	if impl.Blocks != nil {
		other.Blocks = make([]*Block, len(impl.Blocks))
		for i, b := range impl.Blocks {
			other.Blocks[i] = b.Clone()
		}
	}
	return other
}

// Var returns the parameter or local with the given name, or nil.
func (impl *Implementation) Var(name string) *Var {
	for _, p := range impl.Params {
		if p.Name == name {
			return p
		}
	}
	for _, l := range impl.Locals {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// Block returns the block with the given label, or nil.
func (impl *Implementation) Block(label string) *Block {
	for _, b := range impl.Blocks {
		if b.Label == label {
			return b
		}
	}
	return nil
}

// Program is a complete race-instrumented kernel program.
type Program struct {
	Axioms          []*Expr           `json:"axioms,omitempty"`
	Variables       []*Var            `json:"variables,omitempty"`
	RaceArrays      []*RaceArray      `json:"raceArrays,omitempty"`
	Implementations []*Implementation `json:"implementations"`
}

// Clone returns a deep copy of the program. Engine tasks each run against
// their own copy so per-task transformations stay invisible to siblings.
func (p *Program) Clone() *Program {
	other := &Program{}
	if p.Axioms != nil {
		other.Axioms = make([]*Expr, len(p.Axioms))
		for i, a := range p.Axioms {
			other.Axioms[i] = a.Clone()
		}
	}
	if p.Variables != nil {
		other.Variables = make([]*Var, len(p.Variables))
		for i, v := range p.Variables {
			vv := *v
			other.Variables[i] = &vv
		}
	}
	if p.RaceArrays != nil {
		other.RaceArrays = make([]*RaceArray, len(p.RaceArrays))
		for i, r := range p.RaceArrays {
			rr := *r
			other.RaceArrays[i] = &rr
		}
	}
	if p.Implementations != nil {
		other.Implementations = make([]*Implementation, len(p.Implementations))
		for i, impl := range p.Implementations {
			other.Implementations[i] = impl.Clone()
		}
	}
	return other
}

// Implementation returns the implementation with the given name, or nil.
func (p *Program) Implementation(name string) *Implementation {
	for _, impl := range p.Implementations {
		if impl.Name == name {
			return impl
		}
	}
	return nil
}

// Variable returns the declared variable with the given name, or nil.
// Implementation parameters are not consulted.
func (p *Program) Variable(name string) *Var {
	for _, v := range p.Variables {
		if v.Name == name {
			return v
		}
	}
	return nil
}
