package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bws-projects/bws-api-nft-zk/internal/config"
)

// Contract abstracts the asset contract calls made on behalf of the funding
// wallet.
type Contract interface {
	Owner() common.Address
	EstimateMint(ctx context.Context, tokenURI string) (uint64, error)
	EstimateTransfer(ctx context.Context, to common.Address, tokenID *big.Int) (uint64, error)
	SubmitMint(ctx context.Context, tokenURI string, opts TxOptions) (Submission, error)
	SubmitTransfer(ctx context.Context, to common.Address, tokenID *big.Int, opts TxOptions) (Submission, error)
}

// Provider is the read side of the chain.
type Provider interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxOptions pins gas limit and nonce on a submission.
type TxOptions struct {
	GasLimit uint64
	Nonce    uint64
}

// Submission is returned as soon as a transaction is broadcast, before it
// is mined.
type Submission struct {
	TxHash string
	Nonce  uint64
}

// Connection is the live handle one invocation works with.
type Connection struct {
	Contract Contract
	Provider Provider
	close    func()
}

// Close releases the underlying RPC connection.
func (c Connection) Close() {
	if c.close != nil {
		c.close()
	}
}

// Connector opens a connection for a resolved network.
type Connector interface {
	Connect(ctx context.Context, cfg config.Network) (Connection, error)
}

// HealthChecker is implemented by clients that can report RPC liveness.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
