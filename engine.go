package cruncher

import (
	"context"
	"fmt"
	"log"

	"github.com/delcypher/gv-hack/ir"
	"github.com/google/uuid"
)

// ProverStatus is the verdict of one prover call on one implementation.
type ProverStatus int

const (
	StatusVerified ProverStatus = iota
	StatusErrors
	StatusInconclusive
	StatusTimeout
	StatusOutOfMemory
)

// String returns the string representation of the status.
func (s ProverStatus) String() string {
	switch s {
	case StatusVerified:
		return "verified"
	case StatusErrors:
		return "errors"
	case StatusInconclusive:
		return "inconclusive"
	case StatusTimeout:
		return "timeout"
	case StatusOutOfMemory:
		return "out-of-memory"
	default:
		return fmt.Sprintf("ProverStatus<%d>", s)
	}
}

// ProverOptions carries the per-engine knobs a prover call honors.
type ProverOptions struct {
	Solver        string
	ErrorLimit    int
	UnrollDepth   int
	RelaxedMemory bool
}

// ProverResult is the outcome of one prover call: the verdict under the
// given candidate assignment and the candidate ids the call falsified.
type ProverResult struct {
	Status  ProverStatus
	Refuted []string
}

// Prover is the external solver-based checking procedure. A Check call is
// opaque and blocking; it verifies one implementation under a truth
// assignment over the candidate annotation ids and reports any candidates
// it found concretely violated.
type Prover interface {
	Check(ctx context.Context, program *ir.Program, impl string, assignment Assignment, opt ProverOptions) (*ProverResult, error)
}

// EngineConfig describes one refutation engine.
type EngineConfig struct {
	// Name identifies the engine in logs. Defaulted when empty.
	Name string `yaml:"name"`

	// Trusted marks a sound, solver-based fixed-point engine. Untrusted
	// engines run the interpreter and only contribute refuted facts.
	Trusted bool `yaml:"trusted"`

	// Informational demotes a trusted engine to fact-seeding duty: it runs
	// in the non-authoritative wave and its verdicts are not final.
	Informational bool `yaml:"informational"`

	// Solver names the backend a trusted engine asks its prover to use.
	Solver string `yaml:"solver"`

	// ErrorLimit bounds the verification errors reported per prover call.
	// Zero means DefaultErrorLimit on trusted engines; the limit cannot be
	// configured away entirely.
	ErrorLimit int `yaml:"errorLimit"`

	// DisableTags lists candidate-invariant classes the engine must not
	// consider; their candidates are treated as refuted from the start.
	DisableTags []string `yaml:"disableTags"`

	// RelaxedMemory relaxes the memory-consistency model of prover calls.
	RelaxedMemory bool `yaml:"relaxedMemory"`

	// UnrollDepth is the loop-unrolling depth of prover calls. Zero means
	// DefaultUnrollDepth on trusted engines.
	UnrollDepth int `yaml:"unrollDepth"`

	// Strategy picks thread/group ids for untrusted engines
	// ("min", "max" or "random").
	Strategy string `yaml:"strategy"`

	// Seed fixes the untrusted engine's random source. Zero means random.
	Seed int64 `yaml:"seed"`
}

// Outcome aggregates one engine run. Only a trusted engine's outcome is
// authoritative; untrusted outcomes are informational.
type Outcome struct {
	Name    string
	Trusted bool

	// Verdicts maps implementation name to its final status.
	Verdicts map[string]ProverStatus

	Verified     int
	Errors       int
	Inconclusive int
	Timeouts     int
	OutOfMemory  int
}

// record notes one implementation's final status.
func (o *Outcome) record(impl string, status ProverStatus) {
	o.Verdicts[impl] = status
	switch status {
	case StatusVerified:
		o.Verified++
	case StatusErrors:
		o.Errors++
	case StatusInconclusive:
		o.Inconclusive++
	case StatusTimeout:
		o.Timeouts++
	case StatusOutOfMemory:
		o.OutOfMemory++
	}
}

// Unresolved returns the number of implementations that did not verify.
func (o *Outcome) Unresolved() int {
	return len(o.Verdicts) - o.Verified
}

// Engine is one refutation task: either a trusted fixed-point loop around a
// prover, or an untrusted interpreter pass. Engines share nothing but the
// refuted set; each works on its own deep copy of the program.
type Engine struct {
	cfg      EngineConfig
	program  *ir.Program
	refuted  *RefutedSet
	prover   Prover
	strategy IDStrategy
	threadID *[2]Dim3
	groupID  *[2]Dim3
	budget   int
}

// NewEngine builds an engine over its own copy of the program.
func NewEngine(cfg EngineConfig, program *ir.Program, refuted *RefutedSet, prover Prover) (*Engine, error) {
	if cfg.Trusted && prover == nil {
		return nil, fmt.Errorf("cruncher.NewEngine: %w", ErrProverAbsent)
	}
	strategy, err := ParseIDStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		kind := "untrusted"
		if cfg.Trusted {
			kind = "trusted"
		}
		cfg.Name = fmt.Sprintf("%s-%s", kind, uuid.NewString()[:8])
	}

	return &Engine{
		cfg:      cfg,
		program:  program.Clone(),
		refuted:  refuted,
		prover:   prover,
		strategy: strategy,
	}, nil
}

// Name returns the engine's log identity.
func (e *Engine) Name() string { return e.cfg.Name }

// Trusted reports whether the engine runs the solver-based procedure.
func (e *Engine) Trusted() bool { return e.cfg.Trusted }

// Authoritative reports whether the engine's outcome can be final.
func (e *Engine) Authoritative() bool { return e.cfg.Trusted && !e.cfg.Informational }

// SetIDs overrides the thread/group id choice of an untrusted engine.
func (e *Engine) SetIDs(thread, group *[2]Dim3) {
	e.threadID, e.groupID = thread, group
}

// SetBlockBudget overrides the interpreter block-transition budget.
func (e *Engine) SetBlockBudget(budget int) { e.budget = budget }

// Run executes the engine to completion or cancellation. Engine-local
// failures land in the outcome counts; only configuration-level faults are
// returned as errors.
func (e *Engine) Run(ctx context.Context) (*Outcome, error) {
	outcome := &Outcome{
		Name:     e.cfg.Name,
		Trusted:  e.cfg.Trusted,
		Verdicts: make(map[string]ProverStatus),
	}
	if e.cfg.Trusted {
		return outcome, e.runTrusted(ctx, outcome)
	}
	return outcome, e.runUntrusted(ctx, outcome)
}

// runUntrusted makes one interpreter pass over every implementation.
// Whatever it refutes lands in the shared set; the verdicts are always
// inconclusive since failing to refute proves nothing.
func (e *Engine) runUntrusted(ctx context.Context, outcome *Outcome) error {
	interp := NewInterpreter(e.program, e.refuted, InterpreterOptions{
		Strategy:    e.strategy,
		Seed:        e.cfg.Seed,
		BlockBudget: e.budget,
		ThreadID:    e.threadID,
		GroupID:     e.groupID,
	})
	for _, impl := range e.program.Implementations {
		if err := ctx.Err(); err != nil {
			return nil // advisory cancellation, not an error
		}
		err := interp.Run(ctx, impl.Name)
		switch {
		case err == nil, err == ErrInfeasible:
			outcome.record(impl.Name, StatusInconclusive)
		default:
			log.Printf("[engine] %s: %s: %v", e.cfg.Name, impl.Name, err)
			outcome.record(impl.Name, StatusErrors)
		}
	}
	return nil
}

// runTrusted drives the prover to a fixed point per implementation: each
// iteration snapshots the shared refuted facts, disables those candidates,
// checks, and unions any newly falsified candidates back. The loop is
// stable once a check refutes nothing new.
func (e *Engine) runTrusted(ctx context.Context, outcome *Outcome) error {
	candidates := CandidateTags(e.program)
	opt := ProverOptions{
		Solver:        e.cfg.Solver,
		ErrorLimit:    e.cfg.ErrorLimit,
		UnrollDepth:   e.cfg.UnrollDepth,
		RelaxedMemory: e.cfg.RelaxedMemory,
	}

	for _, impl := range e.program.Implementations {
		status, done := StatusInconclusive, false
		for !done {
			if ctx.Err() != nil {
				return nil
			}

			assignment := e.assignment(candidates)
			res, err := e.prover.Check(ctx, e.program, impl.Name, assignment, opt)
			if err != nil {
				log.Printf("[engine] %s: %s: prover: %v", e.cfg.Name, impl.Name, err)
				status, done = StatusErrors, true
				break
			}

			fresh := 0
			for _, id := range res.Refuted {
				if e.refuted.Add(id) {
					fresh++
				}
			}
			if fresh == 0 {
				status, done = res.Status, true
			}
		}
		outcome.record(impl.Name, status)
		log.Printf("[engine] %s: %s: %s", e.cfg.Name, impl.Name, status)
	}
	return nil
}

// assignment builds the candidate truth assignment for one prover call:
// refuted and disabled-class candidates are false, the rest true.
func (e *Engine) assignment(candidates map[string]string) Assignment {
	disabled := make(map[string]struct{}, len(e.cfg.DisableTags))
	for _, tag := range e.cfg.DisableTags {
		disabled[tag] = struct{}{}
	}

	a := make(Assignment, len(candidates))
	for id, tag := range candidates {
		_, off := disabled[tag]
		a[id] = !off && !e.refuted.Contains(id)
	}
	return a
}

// CandidateTags collects the candidate annotation universe of a program:
// the identifying token of every tagged assert, mapped to its tag class.
func CandidateTags(program *ir.Program) map[string]string {
	candidates := make(map[string]string)
	for _, impl := range program.Implementations {
		for _, block := range impl.Blocks {
			for _, cmd := range block.Cmds {
				if cmd.Kind != ir.CmdAssert || cmd.Tag == "" {
					continue
				}
				token, _ := candidateParts(cmd)
				candidates[token] = cmd.Tag
			}
		}
	}
	return candidates
}
