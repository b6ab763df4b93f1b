// Package dispatcher is the entry point of one invocation. It turns the
// event into a request and a state, routes to the operation machines and
// translates their errors into the status the workflow engine reads.
// Handle and Estimate never return an error and never panic.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bws-projects/bws-api-nft-zk/internal/chain"
	"github.com/bws-projects/bws-api-nft-zk/internal/config"
	"github.com/bws-projects/bws-api-nft-zk/internal/events"
	"github.com/bws-projects/bws-api-nft-zk/internal/failure"
	"github.com/bws-projects/bws-api-nft-zk/internal/gas"
	"github.com/bws-projects/bws-api-nft-zk/internal/jobstore"
	"github.com/bws-projects/bws-api-nft-zk/internal/operation"
	"github.com/bws-projects/bws-api-nft-zk/internal/pinning"
	"github.com/bws-projects/bws-api-nft-zk/internal/workflow"
)

// Deps are the collaborators of a Dispatcher. All are required.
type Deps struct {
	Configs     config.Resolver
	Connector   chain.Connector
	Jobs        jobstore.Store
	Gas         *gas.Engine
	Pinner      pinning.Pinner
	Publisher   events.Publisher
	Environment string
}

type Dispatcher struct {
	configs   config.Resolver
	connector chain.Connector
	jobs      jobstore.Store
	gas       *gas.Engine
	ops       *operation.Runner
}

func New(d Deps) *Dispatcher {
	return &Dispatcher{
		configs:   d.Configs,
		connector: d.Connector,
		jobs:      d.Jobs,
		gas:       d.Gas,
		ops: &operation.Runner{
			Jobs:        d.Jobs,
			Gas:         d.Gas,
			Pinner:      d.Pinner,
			Publisher:   d.Publisher,
			Environment: d.Environment,
		},
	}
}

// Handle runs one step of the job the event describes and returns the
// state for the next invocation. A fatal error marks the job failed and
// the state FAILED; a transient one leaves both where the step left them.
func (d *Dispatcher) Handle(ctx context.Context, ev workflow.Event) *workflow.State {
	req := ev.Detail.Payload
	state := workflow.LoadState(ev.TaskResult.Payload, workflow.StatusRunning)
	logger := requestLogger(req, state)
	start := time.Now()

	err := guard(logger, func() error {
		return d.handle(logger.WithContext(ctx), req, state)
	})
	d.settle(ctx, logger, req, state, err)

	logger.Info().
		Str("status", string(state.Status)).
		Dur("elapsed", time.Since(start)).
		Msg("invocation handled")
	return state
}

func (d *Dispatcher) handle(ctx context.Context, req *workflow.Request, state *workflow.State) error {
	if err := workflow.Validate(req); err != nil {
		return err
	}

	cfg, conn, err := d.connect(ctx, req)
	if err != nil {
		return err
	}
	defer conn.Close()

	status, err := d.jobs.GetStatus(ctx, req.JobID)
	switch {
	case errors.Is(err, jobstore.ErrJobNotFound):
		return failure.AsFatal(err)
	case err != nil:
		return fmt.Errorf("read job status: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Str("jobStatus", string(status)).Msg("job status loaded")

	in := operation.Input{
		Request: req,
		Config:  cfg,
		Conn:    conn,
		Status:  status,
		State:   state,
	}
	switch req.Operation {
	case workflow.OperationNew:
		return d.ops.Mint(ctx, in)
	case workflow.OperationTransfer:
		return d.ops.Transfer(ctx, in)
	case workflow.OperationList:
		return d.ops.List(ctx, in)
	}
	return failure.Fatalf("invalid operation %q", req.Operation)
}

// connect resolves the network configuration and dials the contract.
// Configuration problems are fatal; a node that cannot be reached is not.
func (d *Dispatcher) connect(ctx context.Context, req *workflow.Request) (config.Network, chain.Connection, error) {
	cfg, err := d.configs.Resolve(ctx, req.Solution, req.Network, req.Version)
	if err != nil {
		return config.Network{}, chain.Connection{}, failure.AsFatal(err)
	}
	conn, err := d.connector.Connect(ctx, cfg)
	if err != nil {
		return config.Network{}, chain.Connection{}, fmt.Errorf("connect to %s: %w", req.Network, err)
	}
	return cfg, conn, nil
}

func (d *Dispatcher) settle(ctx context.Context, logger zerolog.Logger, req *workflow.Request, state *workflow.State, err error) {
	if err == nil {
		return
	}
	if !failure.IsFatal(err) {
		// The message is reserved for FAILED; the reason goes to the log.
		logger.Warn().Err(err).Msg("invocation failed, will be retried")
		return
	}

	logger.Error().Err(err).Msg("invocation failed permanently")
	if req != nil && req.JobID != "" {
		if serr := d.jobs.SetStatus(ctx, req.JobID, jobstore.StatusFailed); serr != nil {
			logger.Error().Err(serr).Msg("could not mark job failed")
		}
	}
	state.Fail(err.Error())
}

// guard turns a panic into a transient error.
func guard(logger zerolog.Logger, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recovered from panic")
			err = failure.Transientf("internal error: %v", r)
		}
	}()
	return fn()
}

func requestLogger(req *workflow.Request, state *workflow.State) zerolog.Logger {
	c := log.With().Int("count", state.Count)
	if req != nil {
		c = c.
			Str("jobId", req.JobID).
			Str("operation", string(req.Operation)).
			Str("network", req.Network).
			Str("solution", req.Solution)
	}
	return c.Logger()
}
