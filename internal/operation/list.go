package operation

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/bws-projects/bws-api-nft-zk/internal/failure"
	"github.com/bws-projects/bws-api-nft-zk/internal/jobstore"
	"github.com/bws-projects/bws-api-nft-zk/internal/workflow"
)

// List reports the assets the user owns according to the asset store. It
// never touches the chain and finishes in one invocation.
func (r *Runner) List(ctx context.Context, in Input) error {
	req := in.Request

	assets, err := r.Jobs.ListAssets(ctx, req.UserID)
	if err != nil {
		return failure.AsTransient(fmt.Errorf("list assets: %w", err))
	}
	result, err := json.Marshal(struct {
		Value []jobstore.Asset `json:"value"`
	}{Value: assets})
	if err != nil {
		return failure.AsFatal(fmt.Errorf("encode asset list: %w", err))
	}
	if err := r.Jobs.SetResult(ctx, req.JobID, result); err != nil {
		return failure.AsTransient(fmt.Errorf("save result: %w", err))
	}
	if err := r.Jobs.SetStatus(ctx, req.JobID, jobstore.StatusCompleted); err != nil {
		return failure.AsTransient(fmt.Errorf("set job completed: %w", err))
	}

	in.State.Status = workflow.StatusFinished
	return nil
}
