package operation

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/bws-projects/bws-api-nft-zk/internal/chain"
	"github.com/bws-projects/bws-api-nft-zk/internal/events"
	"github.com/bws-projects/bws-api-nft-zk/internal/failure"
	"github.com/bws-projects/bws-api-nft-zk/internal/jobstore"
	"github.com/bws-projects/bws-api-nft-zk/internal/pinning"
	"github.com/bws-projects/bws-api-nft-zk/internal/receipt"
	"github.com/bws-projects/bws-api-nft-zk/internal/workflow"
)

var mintTable = table{
	jobstore.StatusRegistered:   (*Runner).mintSubmit,
	jobstore.StatusRunning:      (*Runner).mintConfirm,
	jobstore.StatusSnapshotting: alreadyDone,
	jobstore.StatusCompleted:    alreadyDone,
	jobstore.StatusFailed:       alreadyFailed,
}

// Mint drives asset creation.
//
//	registered → pin metadata, submit mint, save hash        → running      / RUNNING
//	running    → await receipt, save receipt + asset, notarize → snapshotting or completed / FINISHED
func (r *Runner) Mint(ctx context.Context, in Input) error {
	return r.run(ctx, mintTable, in)
}

// mintSubmit skips whatever a previous invocation already achieved: the
// carried content id avoids re-pinning, the carried hash avoids a second
// submission.
func (r *Runner) mintSubmit(ctx context.Context, in Input) error {
	req, st := in.Request, in.State

	if st.TxHash != "" {
		log.Warn().Str("jobId", req.JobID).Str("txHash", st.TxHash).Msg("transaction already submitted, not resubmitting")
		return r.markSubmitted(ctx, in)
	}

	if st.ContentID == "" {
		doc := metadataFor(req)
		st.Metadata = &doc
		cid, err := r.Pinner.Pin(ctx, pinning.Credentials{
			Endpoint:  in.Config.Pinning.Endpoint,
			APIKey:    in.Config.Pinning.APIKey,
			APISecret: in.Config.Pinning.APISecret,
		}, doc)
		if err != nil {
			return fmt.Errorf("error in uploading to ipfs: %w", err)
		}
		st.ContentID = cid
		log.Info().Str("jobId", req.JobID).Str("contentId", cid).Msg("metadata pinned")
	}

	uri := "ipfs://" + st.ContentID
	sub, err := r.submit(ctx, in, func(opts chain.TxOptions) (chain.Submission, error) {
		return in.Conn.Contract.SubmitMint(ctx, uri, opts)
	})
	if err != nil {
		return err
	}
	st.TxHash = sub.TxHash

	return r.markSubmitted(ctx, in)
}

func (r *Runner) mintConfirm(ctx context.Context, in Input) error {
	req, st := in.Request, in.State

	rcpt, err := receipt.Await(ctx, in.Conn.Provider, st.TxHash, in.Config.ReceiptTimeout)
	if errors.Is(err, receipt.ErrPending) {
		log.Info().Str("jobId", req.JobID).Str("txHash", st.TxHash).Msg("mint not confirmed yet")
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.saveReceipt(ctx, in, rcpt); err != nil {
		return err
	}

	var metadata []byte
	if st.Metadata != nil {
		if metadata, err = json.Marshal(st.Metadata); err != nil {
			return failure.AsFatal(fmt.Errorf("encode metadata: %w", err))
		}
	}
	if err := r.Jobs.AddAsset(ctx, jobstore.Asset{
		UserID:    req.UserID,
		JobID:     req.JobID,
		ContentID: st.ContentID,
		TxHash:    st.TxHash,
		Metadata:  metadata,
	}); err != nil {
		return failure.AsTransient(fmt.Errorf("save asset: %w", err))
	}

	next := jobstore.StatusSnapshotting
	if err := r.requestNotarization(ctx, req); err != nil {
		// Proof of registry is best effort; the mint itself is complete.
		log.Error().Err(err).Str("jobId", req.JobID).Msg("notarization request failed")
		next = jobstore.StatusCompleted
	}
	if err := r.Jobs.SetStatus(ctx, req.JobID, next); err != nil {
		return failure.AsTransient(fmt.Errorf("set job %s: %w", next, err))
	}

	st.Status = workflow.StatusFinished
	return nil
}

func (r *Runner) requestNotarization(ctx context.Context, req *workflow.Request) error {
	ev, err := events.NewSnapshotRequest(r.Environment, req.Solution, req.JobID)
	if err != nil {
		return err
	}
	return r.Publisher.Publish(ctx, ev)
}

func metadataFor(req *workflow.Request) workflow.Metadata {
	p := req.Parameters
	return workflow.Metadata{
		Name:        p.Name,
		Description: p.Description,
		Image:       p.Image,
		Attributes:  p.Attributes,
	}
}
