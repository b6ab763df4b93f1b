// Package workflow holds the values exchanged with the workflow engine: the
// invocation event, the per-invocation request and the state payload the
// engine carries between invocations.
package workflow

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bws-projects/bws-api-nft-zk/internal/failure"
)

// Operation names an asset-lifecycle operation.
type Operation string

const (
	OperationNew      Operation = "new"
	OperationTransfer Operation = "transfer"
	OperationList     Operation = "list"
)

// Valid reports whether op is one the core routes.
func (op Operation) Valid() bool {
	switch op {
	case OperationNew, OperationTransfer, OperationList:
		return true
	}
	return false
}

// Request is the immutable input of one invocation.
type Request struct {
	Solution   string     `json:"solution"`
	Network    string     `json:"network"`
	Version    string     `json:"version"`
	Operation  Operation  `json:"operation"`
	JobID      string     `json:"jobId"`
	UserID     string     `json:"userId"`
	BwsID      string     `json:"bwsId,omitempty"`
	Parameters Parameters `json:"parameters"`
}

// Parameters is the operation-specific bag. Mint reads the metadata fields,
// transfer reads the recipient and token id.
type Parameters struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Attributes  any    `json:"attributes,omitempty"`

	ToWallet string `json:"toWallet,omitempty"`
	ToEmail  string `json:"toEmail,omitempty"`
	TokenID  string `json:"tokenId,omitempty"`
}

// Validate rejects requests no operation can serve.
func Validate(req *Request) error {
	if req == nil {
		return failure.Fatalf("request is null")
	}
	if !req.Operation.Valid() {
		return failure.Fatalf("invalid operation %q", req.Operation)
	}
	if strings.TrimSpace(req.JobID) == "" {
		return failure.Fatalf("jobId is required")
	}
	return nil
}

// TransferTarget parses the on-chain recipient and token id of a transfer.
func (p Parameters) TransferTarget() (common.Address, *big.Int, error) {
	if !common.IsHexAddress(p.ToWallet) {
		return common.Address{}, nil, failure.Fatalf("invalid toWallet address %q", p.ToWallet)
	}
	tokenID, ok := new(big.Int).SetString(strings.TrimSpace(p.TokenID), 0)
	if !ok || tokenID.Sign() < 0 {
		return common.Address{}, nil, failure.Fatalf("invalid tokenId %q", p.TokenID)
	}
	return common.HexToAddress(p.ToWallet), tokenID, nil
}
