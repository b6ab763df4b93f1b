// Package contracts carries the contract interfaces the core calls.
package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Method names on the asset contract.
const (
	MethodMint     = "mintWithTokenURI"
	MethodTransfer = "safeTransferFrom"
)

// AssetABI is the subset of the ERC-721 asset contract used for minting and
// transfers. Deployments may ship their own ABI; it must expose the same
// two methods.
const AssetABI = `[
  {"type":"function","name":"mintWithTokenURI","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"tokenURI","type":"string"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"safeTransferFrom","stateMutability":"nonpayable",
   "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"ownerOf","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"event","name":"Transfer","anonymous":false,
   "inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]}
]`

// ParseAssetABI parses raw, falling back to AssetABI when raw is empty, and
// checks the methods the core calls are present.
func ParseAssetABI(raw string) (abi.ABI, error) {
	if strings.TrimSpace(raw) == "" {
		raw = AssetABI
	}
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	for _, name := range []string{MethodMint, MethodTransfer} {
		if _, ok := parsed.Methods[name]; !ok {
			return abi.ABI{}, fmt.Errorf("abi has no %s method", name)
		}
	}
	return parsed, nil
}
