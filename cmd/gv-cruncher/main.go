package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	cruncher "github.com/delcypher/gv-hack"
	"github.com/delcypher/gv-hack/ir"
)

func main() {
	os.Exit(run(context.Background()))
}

func run(ctx context.Context) int {
	var (
		configPath  string
		programPath string
		outputPath  string
		proverCmd   string
		verbose     bool
	)

	root := &cobra.Command{
		Use:           "gv-cruncher",
		Short:         "Refute candidate invariants of a race-instrumented kernel program",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return crunch(cmd.Context(), configPath, programPath, outputPath, proverCmd, verbose)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "yaml run configuration")
	root.Flags().StringVarP(&programPath, "program", "p", "", "kernel program (JSON IR)")
	root.Flags().StringVarP(&outputPath, "output", "o", "", "write the annotation assignment as JSON")
	root.Flags().StringVar(&proverCmd, "prover", "", "external prover command for trusted engines")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "log per-command interpreter progress")
	root.MarkFlagRequired("program")

	if err := root.ExecuteContext(ctx); err != nil {
		if n, ok := unresolvedExit(err); ok {
			return n
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// unresolvedError carries the run's unresolved-outcome count to the exit
// status without treating it as a usage failure.
type unresolvedError struct{ n int }

func (e *unresolvedError) Error() string {
	return fmt.Sprintf("%d unresolved verification outcomes", e.n)
}

func unresolvedExit(err error) (int, bool) {
	var u *unresolvedError
	if errors.As(err, &u) {
		return u.n, true
	}
	return 0, false
}

func crunch(ctx context.Context, configPath, programPath, outputPath, proverCmd string, verbose bool) error {
	if !verbose {
		log.SetOutput(io.Discard)
	}

	config := cruncher.DefaultConfig()
	if configPath != "" {
		var err error
		if config, err = cruncher.LoadConfig(configPath); err != nil {
			return err
		}
	}

	program, err := loadProgram(programPath)
	if err != nil {
		return err
	}

	var prover cruncher.Prover
	if proverCmd != "" {
		prover = &execProver{command: proverCmd}
	}

	scheduler, err := cruncher.NewSchedulerFromConfig(program, config, prover)
	if err != nil {
		return err
	}
	result, err := scheduler.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("refuted %d of %d candidate annotations\n",
		len(result.Refuted), len(result.Assignment))
	impls := make([]string, 0, len(result.Final.Verdicts))
	for impl := range result.Final.Verdicts {
		impls = append(impls, impl)
	}
	sort.Strings(impls)
	for _, impl := range impls {
		fmt.Printf("%s: %s\n", impl, result.Final.Verdicts[impl])
	}

	if outputPath != "" {
		if err := writeAssignment(outputPath, result.Assignment); err != nil {
			return err
		}
	}

	if n := result.Unresolved(); n > 0 {
		return &unresolvedError{n: n}
	}
	return nil
}

func loadProgram(path string) (*ir.Program, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read program")
	}
	program := &ir.Program{}
	if err := json.Unmarshal(buf, program); err != nil {
		return nil, errors.Wrapf(err, "parse program %s", path)
	}
	return program, nil
}

func writeAssignment(path string, assignment cruncher.Assignment) error {
	buf, err := json.MarshalIndent(assignment, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, append(buf, '\n'), 0644), "write assignment")
}
