package dispatcher

import (
	"context"
	"time"

	"github.com/bws-projects/bws-api-nft-zk/internal/failure"
	"github.com/bws-projects/bws-api-nft-zk/internal/workflow"
)

// Estimate prices an operation without running it. It owns no job: a
// fatal error fails the state only, and no job status is touched.
func (d *Dispatcher) Estimate(ctx context.Context, ev workflow.Event) *workflow.State {
	req := ev.Detail.Payload
	state := workflow.LoadState(ev.TaskResult.Payload, workflow.StatusRunning)
	logger := requestLogger(req, state)
	start := time.Now()

	err := guard(logger, func() error {
		if req == nil {
			return failure.Fatalf("request is null")
		}
		if !req.Operation.Valid() {
			return failure.Fatalf("invalid operation %q", req.Operation)
		}

		cfg, conn, err := d.connect(ctx, req)
		if err != nil {
			return err
		}
		defer conn.Close()

		est, err := d.gas.Estimate(ctx, req, cfg, conn)
		if err != nil {
			return err
		}
		state.Estimates = &est
		state.Status = workflow.StatusFinished
		return nil
	})

	switch {
	case err == nil:
	case failure.IsFatal(err):
		logger.Error().Err(err).Msg("estimate failed permanently")
		state.Fail(err.Error())
	default:
		logger.Warn().Err(err).Msg("estimate failed, will be retried")
	}

	logger.Info().
		Str("status", string(state.Status)).
		Dur("elapsed", time.Since(start)).
		Msg("estimate handled")
	return state
}
