package cruncher

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/delcypher/gv-hack/ir"
)

// ScheduleMode selects how a run's engines are ordered.
type ScheduleMode int

const (
	// ModeSequential runs at most one untrusted pass, then exactly one
	// trusted engine; that engine's outcome is final.
	ModeSequential ScheduleMode = iota
	// ModeConcurrent races every configured engine; the first trusted
	// engine to finish wins and the rest are cancelled.
	ModeConcurrent
)

// ParseScheduleMode parses the configuration form of a schedule mode.
func ParseScheduleMode(s string) (ScheduleMode, error) {
	switch s {
	case "sequential", "":
		return ModeSequential, nil
	case "concurrent":
		return ModeConcurrent, nil
	default:
		return 0, fmt.Errorf("cruncher.ParseScheduleMode: unknown mode %q", s)
	}
}

// PhasePolicy selects when a concurrent run launches its trusted engines
// relative to the non-authoritative wave.
type PhasePolicy int

const (
	// PolicyEager launches trusted engines as soon as the untrusted wave
	// has merely started.
	PolicyEager PhasePolicy = iota
	// PolicyUntrustedFirst waits for the untrusted interpreter passes
	// before launching any trusted engine.
	PolicyUntrustedFirst
	// PolicyPhased waits for every non-authoritative task, interpreter or
	// solver, before launching the authoritative set.
	PolicyPhased
)

// ParsePhasePolicy parses the configuration form of a phase policy.
func ParsePhasePolicy(s string) (PhasePolicy, error) {
	switch s {
	case "eager", "":
		return PolicyEager, nil
	case "untrusted-first":
		return PolicyUntrustedFirst, nil
	case "phased":
		return PolicyPhased, nil
	default:
		return 0, fmt.Errorf("cruncher.ParsePhasePolicy: unknown policy %q", s)
	}
}

// Result is the product of one scheduler run: the truth assignment over the
// candidate annotation ids, the authoritative outcome that produced it, and
// every engine's outcome for reporting.
type Result struct {
	Assignment Assignment
	Refuted    []string
	Final      *Outcome
	Outcomes   []*Outcome
}

// Unresolved returns the number of implementations the authoritative engine
// did not verify, the process exit status of a run.
func (r *Result) Unresolved() int {
	return r.Final.Unresolved()
}

// Scheduler owns a refutation run: it builds the engines over per-engine
// program copies, threads the shared refuted set through them, and reduces
// their outcomes to one assignment.
type Scheduler struct {
	program *ir.Program
	engines []*Engine
	refuted *RefutedSet
	mode    ScheduleMode
	policy  PhasePolicy
}

// NewScheduler builds a scheduler from engine configurations. At least one
// authoritative trusted engine is required; prover may be nil when no
// configuration is trusted, which is then an error.
func NewScheduler(program *ir.Program, cfgs []EngineConfig, prover Prover, mode ScheduleMode, policy PhasePolicy) (*Scheduler, error) {
	s := &Scheduler{
		program: program,
		refuted: NewRefutedSet(),
		mode:    mode,
		policy:  policy,
	}
	for _, cfg := range cfgs {
		engine, err := NewEngine(cfg, program, s.refuted, prover)
		if err != nil {
			return nil, err
		}
		s.engines = append(s.engines, engine)
	}
	if len(s.authoritative()) == 0 {
		return nil, fmt.Errorf("cruncher.NewScheduler: %w", ErrNoTrusted)
	}
	return s, nil
}

// NewSchedulerFromConfig builds a scheduler from a loaded configuration,
// applying its id overrides and block budget to the untrusted engines.
func NewSchedulerFromConfig(program *ir.Program, config *Config, prover Prover) (*Scheduler, error) {
	mode, err := ParseScheduleMode(config.Schedule.Mode)
	if err != nil {
		return nil, err
	}
	policy, err := ParsePhasePolicy(config.Schedule.Policy)
	if err != nil {
		return nil, err
	}

	s, err := NewScheduler(program, config.Engines, prover, mode, policy)
	if err != nil {
		return nil, err
	}
	thread, group := config.IDOverrides()
	for _, e := range s.engines {
		if e.Trusted() {
			continue
		}
		e.SetIDs(thread, group)
		e.SetBlockBudget(config.BlockBudget)
	}
	return s, nil
}

// Refuted returns the shared refuted set of the run.
func (s *Scheduler) Refuted() *RefutedSet { return s.refuted }

// authoritative returns the engines whose outcome can be final.
func (s *Scheduler) authoritative() []*Engine {
	var a []*Engine
	for _, e := range s.engines {
		if e.Authoritative() {
			a = append(a, e)
		}
	}
	return a
}

// informational returns the non-authoritative engines, interpreter passes
// and demoted trusted instances alike.
func (s *Scheduler) informational() []*Engine {
	var a []*Engine
	for _, e := range s.engines {
		if !e.Authoritative() {
			a = append(a, e)
		}
	}
	return a
}

// Run executes the configured engines and reduces to a result.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	var (
		final    *Outcome
		outcomes []*Outcome
		err      error
	)
	switch s.mode {
	case ModeSequential:
		final, outcomes, err = s.runSequential(ctx)
	case ModeConcurrent:
		final, outcomes, err = s.runConcurrent(ctx)
	default:
		err = fmt.Errorf("cruncher.Scheduler: unknown mode %d", s.mode)
	}
	if err != nil {
		return nil, err
	}

	candidates := CandidateTags(s.program)
	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	return &Result{
		Assignment: NewAssignment(ids, s.refuted),
		Refuted:    s.refuted.Snapshot(),
		Final:      final,
		Outcomes:   outcomes,
	}, nil
}

// runSequential makes at most one untrusted pass to seed refuted facts,
// then runs the first authoritative engine to completion.
func (s *Scheduler) runSequential(ctx context.Context) (*Outcome, []*Outcome, error) {
	var outcomes []*Outcome

	for _, e := range s.informational() {
		if e.Trusted() {
			continue
		}
		out, err := e.Run(ctx)
		if err != nil {
			return nil, nil, err
		}
		outcomes = append(outcomes, out)
		log.Printf("[sched] seeded %d refuted facts from %s", s.refuted.Len(), e.Name())
		break
	}

	e := s.authoritative()[0]
	final, err := e.Run(ctx)
	if err != nil {
		return nil, nil, err
	}
	return final, append(outcomes, final), nil
}

// runConcurrent races the engines: the non-authoritative wave starts first,
// the authoritative wave per policy; the first authoritative outcome wins
// and cancels the rest. Cancellation is advisory and a loser deep inside a
// solver call may never observe it, so the winner is reported immediately
// and stragglers are detached, not joined.
func (s *Scheduler) runConcurrent(ctx context.Context) (*Outcome, []*Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		outcomes []*Outcome
	)
	record := func(out *Outcome) {
		mu.Lock()
		outcomes = append(outcomes, out)
		mu.Unlock()
	}
	// Detached stragglers keep recording after the run returns; the result
	// carries a snapshot taken at the moment of the win.
	snapshot := func() []*Outcome {
		mu.Lock()
		defer mu.Unlock()
		return append([]*Outcome(nil), outcomes...)
	}

	var seedGroup, trustedSeedGroup errgroup.Group
	for _, e := range s.informational() {
		e := e
		group := &seedGroup
		if e.Trusted() {
			group = &trustedSeedGroup
		}
		group.Go(func() error {
			out, err := e.Run(ctx)
			if err != nil {
				return err
			}
			record(out)
			return nil
		})
	}

	switch s.policy {
	case PolicyEager:
		// Trusted engines start as soon as the seed wave is merely launched.
	case PolicyUntrustedFirst:
		if err := seedGroup.Wait(); err != nil {
			return nil, nil, err
		}
	case PolicyPhased:
		if err := seedGroup.Wait(); err != nil {
			return nil, nil, err
		}
		if err := trustedSeedGroup.Wait(); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("cruncher.Scheduler: unknown policy %d", s.policy)
	}

	authoritative := s.authoritative()
	wins := make(chan *Outcome, len(authoritative))
	var finalWG sync.WaitGroup
	for _, e := range authoritative {
		e := e
		finalWG.Add(1)
		go func() {
			defer finalWG.Done()
			out, err := e.Run(ctx)
			if err != nil {
				log.Printf("[sched] %s: %v", e.Name(), err)
				return
			}
			record(out)
			if ctx.Err() == nil {
				wins <- out
			}
		}()
	}
	finalDone := make(chan struct{})
	go func() { finalWG.Wait(); close(finalDone) }()

	var final *Outcome
	select {
	case final = <-wins:
		cancel()
	case <-finalDone:
		// Every authoritative engine returned without winning; surface the
		// first buffered outcome if one raced past the cancellation check.
		select {
		case final = <-wins:
		default:
		}
		if final == nil {
			if err := ctx.Err(); err != nil {
				return nil, nil, fmt.Errorf("cruncher.Scheduler: no trusted outcome: %w", err)
			}
			return nil, nil, fmt.Errorf("cruncher.Scheduler: no trusted outcome")
		}
	}

	log.Printf("[sched] %s wins with %d refuted facts", final.Name, s.refuted.Len())
	return final, snapshot(), nil
}
