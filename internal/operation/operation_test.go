package operation

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bws-projects/bws-api-nft-zk/internal/chain"
	"github.com/bws-projects/bws-api-nft-zk/internal/config"
	"github.com/bws-projects/bws-api-nft-zk/internal/events"
	"github.com/bws-projects/bws-api-nft-zk/internal/failure"
	"github.com/bws-projects/bws-api-nft-zk/internal/gas"
	"github.com/bws-projects/bws-api-nft-zk/internal/jobstore"
	"github.com/bws-projects/bws-api-nft-zk/internal/pinning"
	"github.com/bws-projects/bws-api-nft-zk/internal/pricing"
	"github.com/bws-projects/bws-api-nft-zk/internal/workflow"
)

const recipient = "0x00000000000000000000000000000000000000dd"

type harness struct {
	runner *Runner
	jobs   *jobstore.MemoryStore
	chain  *chain.Fake
	pinner *pinning.Fake
	bus    *events.Recorder
	cfg    config.Network
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	jobs := jobstore.NewMemoryStore()
	require.NoError(t, jobs.Register(context.Background(), "J1"))

	h := &harness{
		jobs:   jobs,
		chain:  chain.NewFake(),
		pinner: &pinning.Fake{ContentID: "Qm123"},
		bus:    &events.Recorder{},
		cfg: config.Network{
			Solution:       "BWS.NFT.zK",
			Name:           "sepolia",
			NativeSymbol:   "ETH",
			GasLimitMargin: gas.DefaultMargin,
			ReceiptTimeout: time.Second,
			ExplorerURL:    "https://sepolia.etherscan.io/tx/",
		},
	}
	h.runner = &Runner{
		Jobs:        jobs,
		Gas:         gas.NewEngine(pricing.Static{"ETH": 2000}),
		Pinner:      h.pinner,
		Publisher:   h.bus,
		Environment: "dev",
	}
	return h
}

func (h *harness) input(req *workflow.Request, state *workflow.State) Input {
	status, _ := h.jobs.GetStatus(context.Background(), req.JobID)
	return Input{
		Request: req,
		Config:  h.cfg,
		Conn:    chain.Connection{Contract: h.chain, Provider: h.chain},
		Status:  status,
		State:   state,
	}
}

func (h *harness) job(t *testing.T) jobstore.Job {
	t.Helper()
	job, ok := h.jobs.Job("J1")
	require.True(t, ok)
	return job
}

func mintRequest() *workflow.Request {
	return &workflow.Request{
		Solution:  "BWS.NFT.zK",
		Network:   "sepolia",
		Version:   "1",
		Operation: workflow.OperationNew,
		JobID:     "J1",
		UserID:    "U1",
		Parameters: workflow.Parameters{
			Name:        "Ticket",
			Description: "Entry ticket",
			Image:       "https://example.com/ticket.png",
		},
	}
}

func transferRequest(params workflow.Parameters) *workflow.Request {
	req := mintRequest()
	req.Operation = workflow.OperationTransfer
	req.Parameters = params
	return req
}

func TestMintRegisteredPinsAndSubmits(t *testing.T) {
	h := newHarness(t)
	state := workflow.LoadState(nil, workflow.StatusRunning)

	require.NoError(t, h.runner.Mint(context.Background(), h.input(mintRequest(), state)))

	assert.Equal(t, workflow.StatusRunning, state.Status)
	assert.Equal(t, "Qm123", state.ContentID)
	require.NotNil(t, state.Metadata)
	assert.Equal(t, "Ticket", state.Metadata.Name)
	assert.NotEmpty(t, state.TxHash)

	job := h.job(t)
	assert.Equal(t, jobstore.StatusRunning, job.Status)
	assert.Equal(t, state.TxHash, job.TxHash)

	mints, _ := h.chain.Calls()
	assert.Equal(t, 1, mints)
	assert.Equal(t, uint64(120000+gas.DefaultMargin), h.chain.LastOptions().GasLimit)
	assert.Len(t, h.pinner.Pinned(), 1)
}

func TestMintRegisteredReusesCarriedHash(t *testing.T) {
	h := newHarness(t)
	state := &workflow.State{Status: workflow.StatusRunning, TxHash: "0xabc", ContentID: "Qm123"}

	require.NoError(t, h.runner.Mint(context.Background(), h.input(mintRequest(), state)))

	mints, _ := h.chain.Calls()
	assert.Zero(t, mints)
	assert.Empty(t, h.pinner.Pinned())
	assert.Equal(t, "0xabc", state.TxHash)
	assert.Equal(t, jobstore.StatusRunning, h.job(t).Status)
	assert.Equal(t, "0xabc", h.job(t).TxHash)
}

func TestMintSubmitsAtMostOnceAcrossInvocations(t *testing.T) {
	h := newHarness(t)
	h.chain.AutoConfirm = false
	ctx := context.Background()

	var prior *workflow.State
	for i := 0; i < 4; i++ {
		state := workflow.LoadState(prior, workflow.StatusRunning)
		require.NoError(t, h.runner.Mint(ctx, h.input(mintRequest(), state)))
		prior = state
	}

	mints, _ := h.chain.Calls()
	assert.Equal(t, 1, mints)
	assert.Equal(t, workflow.StatusRunning, prior.Status)
	assert.Equal(t, 4, prior.Count)
}

func TestMintRunningConfirmsAndNotarizes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.jobs.SetStatus(ctx, "J1", jobstore.StatusRunning))
	h.chain.Confirm("0xabc", types.ReceiptStatusSuccessful)

	state := &workflow.State{
		Status:    workflow.StatusRunning,
		TxHash:    "0xabc",
		ContentID: "Qm123",
		Metadata:  &workflow.Metadata{Name: "Ticket"},
	}
	require.NoError(t, h.runner.Mint(ctx, h.input(mintRequest(), state)))

	assert.Equal(t, workflow.StatusFinished, state.Status)

	job := h.job(t)
	assert.Equal(t, jobstore.StatusSnapshotting, job.Status)
	assert.NotEmpty(t, job.Receipt)
	assert.Equal(t, "https://sepolia.etherscan.io/tx/0xabc", job.ExplorerURL)

	assets, err := h.jobs.ListAssets(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "Qm123", assets[0].ContentID)
	assert.Equal(t, "0xabc", assets[0].TxHash)
	assert.JSONEq(t, `{"name":"Ticket","description":"","image":""}`, string(assets[0].Metadata))

	published := h.bus.Events()
	require.Len(t, published, 1)
	assert.Equal(t, "dev-bws-api-solutions-snapshot-eventbus", published[0].Bus)
	assert.Equal(t, "BWS.NFT.zK", published[0].Source)
	assert.JSONEq(t, `{"jobId":"J1"}`, string(published[0].Detail))
}

// statusFailingStore fails the first n writes of one job status.
type statusFailingStore struct {
	*jobstore.MemoryStore
	status   jobstore.Status
	failures int
}

func (s *statusFailingStore) SetStatus(ctx context.Context, jobID string, status jobstore.Status) error {
	if status == s.status && s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	return s.MemoryStore.SetStatus(ctx, jobID, status)
}

func TestMintConfirmRetryRepublishesSameEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.jobs.SetStatus(ctx, "J1", jobstore.StatusRunning))
	h.chain.Confirm("0xabc", types.ReceiptStatusSuccessful)
	h.runner.Jobs = &statusFailingStore{MemoryStore: h.jobs, status: jobstore.StatusSnapshotting, failures: 1}

	first := &workflow.State{Status: workflow.StatusRunning, TxHash: "0xabc", ContentID: "Qm123"}
	err := h.runner.Mint(ctx, h.input(mintRequest(), first))
	require.Error(t, err)
	assert.False(t, failure.IsFatal(err))
	assert.Equal(t, jobstore.StatusRunning, h.job(t).Status)

	second := workflow.LoadState(first, workflow.StatusRunning)
	require.NoError(t, h.runner.Mint(ctx, h.input(mintRequest(), second)))
	assert.Equal(t, workflow.StatusFinished, second.Status)
	assert.Equal(t, jobstore.StatusSnapshotting, h.job(t).Status)

	published := h.bus.Events()
	require.Len(t, published, 2)
	assert.Equal(t, published[0].ID, published[1].ID)

	assets, err := h.jobs.ListAssets(ctx, "U1")
	require.NoError(t, err)
	assert.Len(t, assets, 1)
}

func TestMintRunningCompletesWhenNotarizationFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.jobs.SetStatus(ctx, "J1", jobstore.StatusRunning))
	h.chain.Confirm("0xabc", types.ReceiptStatusSuccessful)
	h.bus.Err = errors.New("broker down")

	state := &workflow.State{Status: workflow.StatusRunning, TxHash: "0xabc", ContentID: "Qm123"}
	require.NoError(t, h.runner.Mint(ctx, h.input(mintRequest(), state)))

	assert.Equal(t, workflow.StatusFinished, state.Status)
	assert.Equal(t, jobstore.StatusCompleted, h.job(t).Status)
}

func TestMintRunningTimeoutLeavesJobRunning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.jobs.SetStatus(ctx, "J1", jobstore.StatusRunning))
	h.chain.Confirm("0xabc", types.ReceiptStatusSuccessful)
	h.chain.ReceiptDelay = 500 * time.Millisecond
	h.cfg.ReceiptTimeout = 20 * time.Millisecond

	state := &workflow.State{Status: workflow.StatusRunning, TxHash: "0xabc", ContentID: "Qm123"}
	require.NoError(t, h.runner.Mint(ctx, h.input(mintRequest(), state)))

	assert.Equal(t, workflow.StatusRunning, state.Status)
	assert.Equal(t, jobstore.StatusRunning, h.job(t).Status)
	assert.Empty(t, h.job(t).Receipt)
	assets, err := h.jobs.ListAssets(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, assets)
	assert.Empty(t, h.bus.Events())
}

func TestMintRunningNotMinedYetIsPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.jobs.SetStatus(ctx, "J1", jobstore.StatusRunning))

	state := &workflow.State{Status: workflow.StatusRunning, TxHash: "0xabc"}
	require.NoError(t, h.runner.Mint(ctx, h.input(mintRequest(), state)))
	assert.Equal(t, workflow.StatusRunning, state.Status)
}

func TestMintRunningRevertedIsFatal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.jobs.SetStatus(ctx, "J1", jobstore.StatusRunning))
	h.chain.Confirm("0xabc", types.ReceiptStatusFailed)

	state := &workflow.State{Status: workflow.StatusRunning, TxHash: "0xabc"}
	err := h.runner.Mint(ctx, h.input(mintRequest(), state))
	require.Error(t, err)
	assert.True(t, failure.IsFatal(err))
}

func TestMintInsufficientFundsNeverSubmits(t *testing.T) {
	h := newHarness(t)
	h.chain.Balance = big.NewInt(1)
	state := workflow.LoadState(nil, workflow.StatusRunning)

	err := h.runner.Mint(context.Background(), h.input(mintRequest(), state))
	require.Error(t, err)
	assert.True(t, failure.IsFatal(err))
	assert.Contains(t, err.Error(), "no funds to call operation")

	mints, _ := h.chain.Calls()
	assert.Zero(t, mints)
	assert.Empty(t, state.TxHash)
	assert.Equal(t, jobstore.StatusRegistered, h.job(t).Status)
}

func TestMintSubmitFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	h.chain.SubmitErr = errors.New("nonce too low")
	state := workflow.LoadState(nil, workflow.StatusRunning)

	err := h.runner.Mint(context.Background(), h.input(mintRequest(), state))
	require.Error(t, err)
	assert.False(t, failure.IsFatal(err))
	assert.Empty(t, state.TxHash)
	assert.Equal(t, "Qm123", state.ContentID, "content id is carried to the retry")
	assert.Equal(t, jobstore.StatusRegistered, h.job(t).Status)
	assert.Empty(t, h.job(t).TxHash)
}

func TestMintPinFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	h.pinner.Err = errors.New("gateway timeout")
	state := workflow.LoadState(nil, workflow.StatusRunning)

	err := h.runner.Mint(context.Background(), h.input(mintRequest(), state))
	require.Error(t, err)
	assert.False(t, failure.IsFatal(err))
	assert.Contains(t, err.Error(), "error in uploading to ipfs")
	mints, _ := h.chain.Calls()
	assert.Zero(t, mints)
}

func TestMintAfterCompletionIsNoop(t *testing.T) {
	for _, status := range []jobstore.Status{jobstore.StatusSnapshotting, jobstore.StatusCompleted} {
		h := newHarness(t)
		require.NoError(t, h.jobs.SetStatus(context.Background(), "J1", status))
		state := &workflow.State{Status: workflow.StatusRunning, TxHash: "0xabc"}

		require.NoError(t, h.runner.Mint(context.Background(), h.input(mintRequest(), state)))
		assert.Equal(t, workflow.StatusFinished, state.Status, status)
		mints, _ := h.chain.Calls()
		assert.Zero(t, mints)
	}
}

func TestMintFailedJobIsFatal(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.jobs.SetStatus(context.Background(), "J1", jobstore.StatusFailed))

	err := h.runner.Mint(context.Background(), h.input(mintRequest(), &workflow.State{}))
	require.Error(t, err)
	assert.True(t, failure.IsFatal(err))
}

func TestUnknownJobStatusIsFatal(t *testing.T) {
	h := newHarness(t)
	in := h.input(mintRequest(), &workflow.State{})
	in.Status = "archived"

	err := h.runner.Mint(context.Background(), in)
	require.Error(t, err)
	assert.True(t, failure.IsFatal(err))
}

func TestTransferRejectsAmbiguousTarget(t *testing.T) {
	for name, params := range map[string]workflow.Parameters{
		"both":    {ToWallet: recipient, ToEmail: "a@b.c", TokenID: "1"},
		"neither": {TokenID: "1"},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			state := &workflow.State{Status: workflow.StatusRunning}

			err := h.runner.Transfer(context.Background(), h.input(transferRequest(params), state))
			require.Error(t, err)
			assert.True(t, failure.IsFatal(err))
			assert.Contains(t, err.Error(), "incorrect transfer parameters")

			_, transfers := h.chain.Calls()
			assert.Zero(t, transfers)
			assert.Equal(t, jobstore.StatusRegistered, h.job(t).Status)
			assert.Empty(t, state.TxHash)
		})
	}
}

func TestTransferToEmailDoesNothing(t *testing.T) {
	h := newHarness(t)
	state := &workflow.State{Status: workflow.StatusRunning}

	require.NoError(t, h.runner.Transfer(context.Background(), h.input(transferRequest(workflow.Parameters{ToEmail: "a@b.c"}), state)))

	assert.Equal(t, workflow.StatusRunning, state.Status)
	assert.Equal(t, jobstore.StatusRegistered, h.job(t).Status)
	_, transfers := h.chain.Calls()
	assert.Zero(t, transfers)
}

func TestTransferToWalletLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := transferRequest(workflow.Parameters{ToWallet: recipient, TokenID: "7"})

	first := workflow.LoadState(nil, workflow.StatusRunning)
	require.NoError(t, h.runner.Transfer(ctx, h.input(req, first)))
	assert.Equal(t, workflow.StatusRunning, first.Status)
	assert.NotEmpty(t, first.TxHash)
	assert.Equal(t, jobstore.StatusRunning, h.job(t).Status)

	second := workflow.LoadState(first, workflow.StatusRunning)
	require.NoError(t, h.runner.Transfer(ctx, h.input(req, second)))
	assert.Equal(t, workflow.StatusFinished, second.Status)
	assert.Equal(t, workflow.StatusRunning, second.PreviousStatus)

	job := h.job(t)
	assert.Equal(t, jobstore.StatusRunning, job.Status)
	assert.NotEmpty(t, job.Receipt)

	_, transfers := h.chain.Calls()
	assert.Equal(t, 1, transfers)
}

func TestTransferInvalidTokenIsFatal(t *testing.T) {
	h := newHarness(t)
	req := transferRequest(workflow.Parameters{ToWallet: recipient, TokenID: "seven"})

	err := h.runner.Transfer(context.Background(), h.input(req, &workflow.State{}))
	require.Error(t, err)
	assert.True(t, failure.IsFatal(err))
}

func TestListReportsUserAssets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.jobs.AddAsset(ctx, jobstore.Asset{UserID: "U1", JobID: "J0", ContentID: "Qm0", TxHash: "0x01"}))
	require.NoError(t, h.jobs.AddAsset(ctx, jobstore.Asset{UserID: "U2", JobID: "J9", ContentID: "Qm9", TxHash: "0x09"}))
	h.chain.EstimateErr = errors.New("chain must not be touched")

	req := mintRequest()
	req.Operation = workflow.OperationList
	state := &workflow.State{Status: workflow.StatusRunning}
	require.NoError(t, h.runner.List(ctx, h.input(req, state)))

	assert.Equal(t, workflow.StatusFinished, state.Status)
	job := h.job(t)
	assert.Equal(t, jobstore.StatusCompleted, job.Status)

	var result struct {
		Value []jobstore.Asset `json:"value"`
	}
	require.NoError(t, json.Unmarshal(job.Result, &result))
	require.Len(t, result.Value, 1)
	assert.Equal(t, "Qm0", result.Value[0].ContentID)
}

func TestListEmptyIsEmptyArray(t *testing.T) {
	h := newHarness(t)
	req := mintRequest()
	req.Operation = workflow.OperationList
	req.UserID = "nobody"

	require.NoError(t, h.runner.List(context.Background(), h.input(req, &workflow.State{})))
	assert.JSONEq(t, `{"value":[]}`, string(h.job(t).Result))
}
