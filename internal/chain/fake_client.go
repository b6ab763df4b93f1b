package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/bws-projects/bws-api-nft-zk/internal/config"
)

// Fake is an in-memory chain for local runs and tests. Submissions hash
// their inputs to derive deterministic transaction hashes.
type Fake struct {
	mu sync.Mutex

	OwnerAddress common.Address
	GasUnits     uint64
	GasPriceWei  *big.Int
	Balance      *big.Int
	Nonce        uint64

	// AutoConfirm makes a receipt available as soon as a transaction is
	// submitted.
	AutoConfirm  bool
	ReceiptDelay time.Duration

	EstimateErr error
	SubmitErr   error
	ReceiptErr  error
	BalanceErr  error

	receipts      map[common.Hash]*types.Receipt
	mintCalls     int
	transferCalls int
	lastOpts      TxOptions
}

// NewFake returns a funded fake that confirms submissions immediately.
func NewFake() *Fake {
	return &Fake{
		OwnerAddress: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		GasUnits:     120000,
		GasPriceWei:  big.NewInt(30_000_000_000),
		Balance:      new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)),
		AutoConfirm:  true,
		receipts:     make(map[common.Hash]*types.Receipt),
	}
}

func (f *Fake) Owner() common.Address {
	return f.OwnerAddress
}

func (f *Fake) EstimateMint(_ context.Context, _ string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.GasUnits, f.EstimateErr
}

func (f *Fake) EstimateTransfer(_ context.Context, _ common.Address, _ *big.Int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.GasUnits, f.EstimateErr
}

func (f *Fake) SubmitMint(_ context.Context, tokenURI string, opts TxOptions) (Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mintCalls++
	return f.submit(opts, "mint", tokenURI)
}

func (f *Fake) SubmitTransfer(_ context.Context, to common.Address, tokenID *big.Int, opts TxOptions) (Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferCalls++
	return f.submit(opts, "transfer", to.Hex(), tokenID.String())
}

func (f *Fake) submit(opts TxOptions, parts ...string) (Submission, error) {
	f.lastOpts = opts
	if f.SubmitErr != nil {
		return Submission{}, f.SubmitErr
	}
	hash := fakeHash(append(parts, fmt.Sprint(opts.Nonce))...)
	f.Nonce = opts.Nonce + 1
	if f.AutoConfirm {
		f.confirmLocked(hash, types.ReceiptStatusSuccessful)
	}
	return Submission{TxHash: hash.Hex(), Nonce: opts.Nonce}, nil
}

// Confirm makes a receipt with the given status available for txHash.
func (f *Fake) Confirm(txHash string, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmLocked(common.HexToHash(txHash), status)
}

func (f *Fake) confirmLocked(hash common.Hash, status uint64) {
	if f.receipts == nil {
		f.receipts = make(map[common.Hash]*types.Receipt)
	}
	f.receipts[hash] = &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(int64(len(f.receipts) + 1)),
		GasUsed:     f.GasUnits,
	}
}

func (f *Fake) BalanceAt(_ context.Context, _ common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BalanceErr != nil {
		return nil, f.BalanceErr
	}
	return new(big.Int).Set(f.Balance), nil
}

func (f *Fake) NonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Nonce, nil
}

func (f *Fake) GasPrice(_ context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.GasPriceWei), nil
}

func (f *Fake) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.ReceiptDelay > 0 {
		select {
		case <-time.After(f.ReceiptDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReceiptErr != nil {
		return nil, f.ReceiptErr
	}
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// Calls reports how many mint and transfer submissions were attempted.
func (f *Fake) Calls() (mints, transfers int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mintCalls, f.transferCalls
}

// LastOptions returns the options of the most recent submission.
func (f *Fake) LastOptions() TxOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOpts
}

// FakeConnector hands out the same Fake for every network.
type FakeConnector struct {
	Chain *Fake
	Err   error
}

func (c FakeConnector) Connect(_ context.Context, _ config.Network) (Connection, error) {
	if c.Err != nil {
		return Connection{}, c.Err
	}
	return Connection{Contract: c.Chain, Provider: c.Chain}, nil
}

func fakeHash(parts ...string) common.Hash {
	data := make([][]byte, 0, len(parts))
	for _, p := range parts {
		data = append(data, []byte(p))
	}
	return crypto.Keccak256Hash(data...)
}
