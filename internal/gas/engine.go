// Package gas sizes and prices the transactions the core submits.
package gas

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/rs/zerolog/log"

	"github.com/bws-projects/bws-api-nft-zk/internal/chain"
	"github.com/bws-projects/bws-api-nft-zk/internal/config"
	"github.com/bws-projects/bws-api-nft-zk/internal/failure"
	"github.com/bws-projects/bws-api-nft-zk/internal/pricing"
	"github.com/bws-projects/bws-api-nft-zk/internal/workflow"
)

// DefaultMargin is added to every estimate when the network sets none.
const DefaultMargin uint64 = 100000

var weiPerUnit = new(big.Float).SetFloat64(1e18)

// Engine estimates gas and checks the funding wallet can pay for it.
type Engine struct {
	Prices pricing.Oracle
}

func NewEngine(prices pricing.Oracle) *Engine {
	return &Engine{Prices: prices}
}

// Limit is the gas limit and price a submission is sized with.
type Limit struct {
	Units    uint64
	GasPrice *big.Int
}

// Units estimates gas for the request's on-chain call. Minting is
// estimated with the image URI standing in for the metadata URI, which
// does not exist yet. Operations without an on-chain call cost nothing.
func (e *Engine) Units(ctx context.Context, req *workflow.Request, conn chain.Connection) (uint64, error) {
	switch req.Operation {
	case workflow.OperationNew:
		units, err := conn.Contract.EstimateMint(ctx, req.Parameters.Image)
		if err != nil {
			return 0, failure.AsTransient(fmt.Errorf("error in estimating gas: %w", err))
		}
		return units, nil
	case workflow.OperationTransfer:
		if req.Parameters.ToWallet == "" {
			return 0, nil
		}
		to, tokenID, err := req.Parameters.TransferTarget()
		if err != nil {
			return 0, err
		}
		units, err := conn.Contract.EstimateTransfer(ctx, to, tokenID)
		if err != nil {
			return 0, failure.AsTransient(fmt.Errorf("error in estimating gas: %w", err))
		}
		return units, nil
	}
	return 0, nil
}

// Estimate prices the request in the network's native token and in USD.
func (e *Engine) Estimate(ctx context.Context, req *workflow.Request, cfg config.Network, conn chain.Connection) (workflow.Estimates, error) {
	units, err := e.Units(ctx, req, conn)
	if err != nil || units == 0 {
		return workflow.Estimates{}, err
	}

	gasPrice, err := conn.Provider.GasPrice(ctx)
	if err != nil {
		return workflow.Estimates{}, failure.AsTransient(fmt.Errorf("fetch gas price: %w", err))
	}
	unitPrice, err := e.Prices.PriceOf(ctx, cfg.NativeSymbol)
	if err != nil {
		return workflow.Estimates{}, failure.AsTransient(fmt.Errorf("fetch %s price: %w", cfg.NativeSymbol, err))
	}

	native := NativeCost(units, gasPrice)
	est := workflow.Estimates{
		GasUnits:           units,
		NativeCost:         native,
		NativeUnitPriceUSD: unitPrice,
		USDCost:            round6(native * unitPrice),
	}
	log.Debug().
		Str("operation", string(req.Operation)).
		Uint64("gasUnits", units).
		Str("gasPriceWei", gasPrice.String()).
		Float64("usd", est.USDCost).
		Msg("estimated operation cost")
	return est, nil
}

// GasLimit adds the network's safety margin to the estimate and refuses to
// go on when the funding wallet cannot pay for the whole limit. Running out
// of funds needs a human, so it is fatal.
func (e *Engine) GasLimit(ctx context.Context, req *workflow.Request, cfg config.Network, conn chain.Connection) (Limit, error) {
	units, err := e.Units(ctx, req, conn)
	if err != nil {
		return Limit{}, err
	}
	margin := cfg.GasLimitMargin
	if margin == 0 {
		margin = DefaultMargin
	}
	limit := units + margin

	gasPrice, err := conn.Provider.GasPrice(ctx)
	if err != nil {
		return Limit{}, failure.AsTransient(fmt.Errorf("fetch gas price: %w", err))
	}
	owner := conn.Contract.Owner()
	balance, err := conn.Provider.BalanceAt(ctx, owner)
	if err != nil {
		return Limit{}, failure.AsTransient(fmt.Errorf("fetch balance of %s: %w", owner.Hex(), err))
	}

	required := new(big.Int).Mul(new(big.Int).SetUint64(limit), gasPrice)
	log.Info().
		Str("jobId", req.JobID).
		Uint64("gasLimit", limit).
		Str("requiredWei", required.String()).
		Str("balanceWei", balance.String()).
		Msg("gas limit computed")

	if balance.Cmp(required) < 0 {
		return Limit{}, failure.Fatalf("no funds to call operation. Estimated gasLimit: %d, required: %s wei, balance: %s wei",
			limit, required, balance)
	}
	return Limit{Units: limit, GasPrice: gasPrice}, nil
}

// NativeCost converts units × price (wei) to whole native tokens.
func NativeCost(units uint64, gasPriceWei *big.Int) float64 {
	wei := new(big.Float).SetInt(new(big.Int).Mul(new(big.Int).SetUint64(units), gasPriceWei))
	native, _ := new(big.Float).Quo(wei, weiPerUnit).Float64()
	return native
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
