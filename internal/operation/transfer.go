package operation

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/bws-projects/bws-api-nft-zk/internal/chain"
	"github.com/bws-projects/bws-api-nft-zk/internal/failure"
	"github.com/bws-projects/bws-api-nft-zk/internal/jobstore"
	"github.com/bws-projects/bws-api-nft-zk/internal/receipt"
	"github.com/bws-projects/bws-api-nft-zk/internal/workflow"
)

var transferTable = table{
	jobstore.StatusRegistered:   (*Runner).transferSubmit,
	jobstore.StatusRunning:      (*Runner).transferConfirm,
	jobstore.StatusSnapshotting: alreadyDone,
	jobstore.StatusCompleted:    alreadyDone,
	jobstore.StatusFailed:       alreadyFailed,
}

// Transfer moves ownership either on-chain to a wallet or off-chain to an
// email claim. Exactly one of the two must be given.
func (r *Runner) Transfer(ctx context.Context, in Input) error {
	p := in.Request.Parameters
	toWallet := strings.TrimSpace(p.ToWallet) != ""
	toEmail := strings.TrimSpace(p.ToEmail) != ""
	if toWallet == toEmail {
		return failure.Fatalf("incorrect transfer parameters")
	}

	if toEmail {
		// Email claims are sent by the notification service; nothing to do
		// on-chain and the job status is left alone.
		log.Info().Str("jobId", in.Request.JobID).Msg("email transfer requested, no on-chain action")
		return nil
	}
	return r.run(ctx, transferTable, in)
}

func (r *Runner) transferSubmit(ctx context.Context, in Input) error {
	req, st := in.Request, in.State

	to, tokenID, err := req.Parameters.TransferTarget()
	if err != nil {
		return err
	}

	if st.TxHash != "" {
		log.Warn().Str("jobId", req.JobID).Str("txHash", st.TxHash).Msg("transaction already submitted, not resubmitting")
		return r.markSubmitted(ctx, in)
	}

	sub, err := r.submit(ctx, in, func(opts chain.TxOptions) (chain.Submission, error) {
		return in.Conn.Contract.SubmitTransfer(ctx, to, tokenID, opts)
	})
	if err != nil {
		return err
	}
	st.TxHash = sub.TxHash

	return r.markSubmitted(ctx, in)
}

// transferConfirm leaves the job status at running; updating ownership
// records is the asset service's concern.
func (r *Runner) transferConfirm(ctx context.Context, in Input) error {
	rcpt, err := receipt.Await(ctx, in.Conn.Provider, in.State.TxHash, in.Config.ReceiptTimeout)
	if errors.Is(err, receipt.ErrPending) {
		log.Info().Str("jobId", in.Request.JobID).Str("txHash", in.State.TxHash).Msg("transfer not confirmed yet")
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.saveReceipt(ctx, in, rcpt); err != nil {
		return err
	}
	in.State.Status = workflow.StatusFinished
	return nil
}
