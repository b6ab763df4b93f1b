// Package receipt waits, bounded by a timeout, for a submitted transaction
// to be mined.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/bws-projects/bws-api-nft-zk/internal/failure"
)

// DefaultTimeout bounds a wait when the network configures none.
const DefaultTimeout = 5000 * time.Millisecond

// ErrPending means the receipt is not available yet. It is transient: the
// caller keeps the job where it is and the next invocation waits again.
var ErrPending = failure.AsTransient(errors.New("transaction receipt not available yet"))

// Fetcher reads a receipt from the chain.
type Fetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type result struct {
	receipt *types.Receipt
	err     error
}

// Await races a receipt fetch against a timer. The fetch that loses the
// race is abandoned; its result is dropped.
//
// Outcomes: the receipt; ErrPending on timeout or when the node does not
// know the transaction yet; a fatal error for any other fetch failure or
// for a reverted transaction.
func Await(ctx context.Context, fetcher Fetcher, txHash string, timeout time.Duration) (*types.Receipt, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if txHash == "" {
		return nil, failure.Fatalf("no transaction hash to wait for")
	}
	hash := common.HexToHash(txHash)

	done := make(chan result, 1)
	go func() {
		r, err := fetcher.TransactionReceipt(ctx, hash)
		done <- result{receipt: r, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		log.Warn().Str("txHash", txHash).Dur("timeout", timeout).Msg("receipt wait timed out")
		return nil, ErrPending
	case res := <-done:
		return classify(txHash, res)
	}
}

func classify(txHash string, res result) (*types.Receipt, error) {
	switch {
	case errors.Is(res.err, ethereum.NotFound):
		log.Info().Str("txHash", txHash).Msg("transaction not mined yet")
		return nil, ErrPending
	case res.err != nil:
		return nil, failure.AsFatal(fmt.Errorf("get transaction receipt %s: %w", txHash, res.err))
	case res.receipt == nil:
		return nil, ErrPending
	case res.receipt.Status != types.ReceiptStatusSuccessful:
		return nil, failure.Fatalf("transaction %s reverted in block %v", txHash, res.receipt.BlockNumber)
	}
	return res.receipt, nil
}
