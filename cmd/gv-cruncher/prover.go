package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/pkg/errors"

	cruncher "github.com/delcypher/gv-hack"
	"github.com/delcypher/gv-hack/ir"
)

// proverRequest is the JSON form handed to the external prover on stdin.
type proverRequest struct {
	Implementation string                 `json:"implementation"`
	Assignment     cruncher.Assignment    `json:"assignment"`
	Options        cruncher.ProverOptions `json:"options"`
	Program        *ir.Program            `json:"program"`
}

// proverResponse is the JSON verdict read back from the prover's stdout.
type proverResponse struct {
	Status  string   `json:"status"`
	Refuted []string `json:"refuted"`
}

var proverStatuses = map[string]cruncher.ProverStatus{
	"verified":      cruncher.StatusVerified,
	"errors":        cruncher.StatusErrors,
	"inconclusive":  cruncher.StatusInconclusive,
	"timeout":       cruncher.StatusTimeout,
	"out-of-memory": cruncher.StatusOutOfMemory,
}

// execProver adapts an external checking process to the Prover interface.
// One process per Check call: the request goes to its stdin, the verdict
// comes back on its stdout, and cancellation kills the process.
type execProver struct {
	command string
}

func (p *execProver) Check(ctx context.Context, program *ir.Program, impl string, assignment cruncher.Assignment, opt cruncher.ProverOptions) (*cruncher.ProverResult, error) {
	req, err := json.Marshal(&proverRequest{
		Implementation: impl,
		Assignment:     assignment,
		Options:        opt,
		Program:        program,
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, p.command)
	cmd.Stdin = bytes.NewReader(req)
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "prover %s", p.command)
	}

	var resp proverResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, errors.Wrapf(err, "prover %s: malformed verdict", p.command)
	}
	status, ok := proverStatuses[resp.Status]
	if !ok {
		return nil, errors.Errorf("prover %s: unknown status %q", p.command, resp.Status)
	}
	return &cruncher.ProverResult{Status: status, Refuted: resp.Refuted}, nil
}
