// Package operation implements the per-operation state machines. Each call
// is a pure function of the durable job status, the carried workflow state
// and the request: the machines keep no memory between invocations.
package operation

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/bws-projects/bws-api-nft-zk/internal/chain"
	"github.com/bws-projects/bws-api-nft-zk/internal/config"
	"github.com/bws-projects/bws-api-nft-zk/internal/events"
	"github.com/bws-projects/bws-api-nft-zk/internal/failure"
	"github.com/bws-projects/bws-api-nft-zk/internal/gas"
	"github.com/bws-projects/bws-api-nft-zk/internal/jobstore"
	"github.com/bws-projects/bws-api-nft-zk/internal/pinning"
	"github.com/bws-projects/bws-api-nft-zk/internal/workflow"
)

// Runner holds the collaborators the machines act through.
type Runner struct {
	Jobs        jobstore.Store
	Gas         *gas.Engine
	Pinner      pinning.Pinner
	Publisher   events.Publisher
	Environment string
}

// Input is everything one step needs. State is mutated in place and is
// returned to the workflow engine even when the step fails.
type Input struct {
	Request *workflow.Request
	Config  config.Network
	Conn    chain.Connection
	Status  jobstore.Status
	State   *workflow.State
}

// step handles one job status.
type step func(r *Runner, ctx context.Context, in Input) error

// table maps a durable job status to the step that handles it.
type table map[jobstore.Status]step

func (r *Runner) run(ctx context.Context, t table, in Input) error {
	s, ok := t[in.Status]
	if !ok {
		return failure.Fatalf("unexpected job status %q", in.Status)
	}
	return s(r, ctx, in)
}

// alreadyDone covers re-invocations after the job moved past this core.
func alreadyDone(_ *Runner, _ context.Context, in Input) error {
	log.Info().Str("jobId", in.Request.JobID).Str("jobStatus", string(in.Status)).Msg("job already processed")
	in.State.Status = workflow.StatusFinished
	return nil
}

func alreadyFailed(_ *Runner, _ context.Context, in Input) error {
	return failure.Fatalf("job %s already failed", in.Request.JobID)
}

// submit sizes and broadcasts a transaction. Submission failures are
// transient: the job is still registered and the next invocation retries.
func (r *Runner) submit(ctx context.Context, in Input, send func(chain.TxOptions) (chain.Submission, error)) (chain.Submission, error) {
	limit, err := r.Gas.GasLimit(ctx, in.Request, in.Config, in.Conn)
	if err != nil {
		return chain.Submission{}, fmt.Errorf("error in getGasLimit: %w", err)
	}

	owner := in.Conn.Contract.Owner()
	nonce, err := in.Conn.Provider.NonceAt(ctx, owner)
	if err != nil {
		return chain.Submission{}, failure.AsTransient(fmt.Errorf("fetch nonce of %s: %w", owner.Hex(), err))
	}

	sub, err := send(chain.TxOptions{GasLimit: limit.Units, Nonce: nonce})
	if err != nil {
		log.Error().Err(err).Str("jobId", in.Request.JobID).Msg("transaction submission failed")
		return chain.Submission{}, failure.AsTransient(fmt.Errorf("submit %s: %w", in.Request.Operation, err))
	}

	log.Info().
		Str("jobId", in.Request.JobID).
		Str("txHash", sub.TxHash).
		Uint64("nonce", sub.Nonce).
		Uint64("gasLimit", limit.Units).
		Msg("transaction submitted")
	return sub, nil
}

// markSubmitted persists the hash before the status so a failure in
// between leaves a registered job that still knows its transaction.
func (r *Runner) markSubmitted(ctx context.Context, in Input) error {
	jobID := in.Request.JobID
	if err := r.Jobs.SetHash(ctx, jobID, in.State.TxHash); err != nil {
		return failure.AsTransient(fmt.Errorf("save transaction hash: %w", err))
	}
	if err := r.Jobs.SetStatus(ctx, jobID, jobstore.StatusRunning); err != nil {
		return failure.AsTransient(fmt.Errorf("set job running: %w", err))
	}
	in.State.Status = workflow.StatusRunning
	return nil
}

func (r *Runner) saveReceipt(ctx context.Context, in Input, rcpt *types.Receipt) error {
	raw, err := json.Marshal(rcpt)
	if err != nil {
		return failure.AsFatal(fmt.Errorf("encode receipt: %w", err))
	}
	if err := r.Jobs.SetReceipt(ctx, in.Request.JobID, raw, in.Config.TxURL(in.State.TxHash)); err != nil {
		return failure.AsTransient(fmt.Errorf("save receipt: %w", err))
	}
	log.Info().
		Str("jobId", in.Request.JobID).
		Str("txHash", in.State.TxHash).
		Str("block", rcpt.BlockNumber.String()).
		Msg("transaction confirmed")
	return nil
}
