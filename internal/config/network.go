package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bws-projects/bws-api-nft-zk/internal/failure"
)

// ErrUnsupportedNetwork is returned for networks without a known native token.
var ErrUnsupportedNetwork = errors.New("network not supported")

// Network is everything one invocation needs to talk to one deployment.
// It is built fresh for every invocation and never cached.
type Network struct {
	Solution string
	Name     string
	Version  string

	RPCURL          string
	PrivateKey      string
	ContractAddress string
	ContractABI     string
	Owner           string
	NativeSymbol    string

	ReceiptTimeout time.Duration
	GasLimitMargin uint64
	ExplorerURL    string

	Pinning Pinning
}

// Pinning holds the metadata pinning service credentials.
type Pinning struct {
	Endpoint   string
	APIKey     string
	APISecret  string
	GatewayURL string
}

// TxURL renders the block explorer link for a transaction. The template
// may carry a {hash} placeholder; otherwise the hash is appended.
func (n Network) TxURL(txHash string) string {
	if strings.Contains(n.ExplorerURL, "{hash}") {
		return strings.ReplaceAll(n.ExplorerURL, "{hash}", txHash)
	}
	return n.ExplorerURL + txHash
}

// NativeSymbol maps a network to the ticker of its gas token.
func NativeSymbol(network string) (string, error) {
	switch strings.ToLower(network) {
	case "ethereum", "sepolia":
		return "ETH", nil
	case "polygon", "mumbai", "amoy":
		return "MATIC", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
}

// Resolver produces the network configuration for a deployment.
type Resolver interface {
	Resolve(ctx context.Context, solution, network, version string) (Network, error)
}

// FileResolver reads network secrets, pinning secrets and deployments from
// JSON files on every call. Environment variables override file values,
// which is how local runs point at a dev chain.
//
// networks.json: {"mumbai.endpoint": "...", "mumbai.key": "...", "mumbai.address": "...", "mumbai.txurl": "..."}
// pinning.json:  {"endpoint": "...", "key": "...", "secret": "..."}
// deployments.json: {"contracts": {"<solution>": {"<network>": {"<version>": "0x..."}}}}
type FileResolver struct {
	Config ResolverConfig
}

func NewFileResolver(cfg ResolverConfig) *FileResolver {
	return &FileResolver{Config: cfg}
}

// Resolve fails fatally: a deployment that cannot be configured will not
// fix itself on the next invocation.
func (r *FileResolver) Resolve(_ context.Context, solution, network, version string) (Network, error) {
	n, err := r.resolve(solution, network, version)
	if err != nil {
		return Network{}, failure.AsFatal(fmt.Errorf("resolve config %s/%s/%s: %w", solution, network, version, err))
	}
	return n, nil
}

func (r *FileResolver) resolve(solution, network, version string) (Network, error) {
	symbol, err := NativeSymbol(network)
	if err != nil {
		return Network{}, err
	}

	secrets, err := readJSON(r.Config.NetworkSecretsPath)
	if err != nil {
		return Network{}, fmt.Errorf("network secrets: %w", err)
	}
	pinning, err := readJSON(r.Config.PinningSecretsPath)
	if err != nil {
		return Network{}, fmt.Errorf("pinning secrets: %w", err)
	}
	deployments, err := readJSON(r.Config.DeploymentsPath)
	if err != nil {
		return Network{}, fmt.Errorf("deployments: %w", err)
	}

	secret := func(field string) string {
		return secrets.Get(escapePath(network + "." + field)).String()
	}
	contractPath := strings.Join([]string{"contracts", escapePath(solution), escapePath(network), escapePath(version)}, ".")

	margin := r.Config.GasLimitMargin
	if margin == 0 {
		margin = defaultGasLimitMargin
	}

	n := Network{
		Solution:        solution,
		Name:            network,
		Version:         version,
		RPCURL:          envOr("RPC_URL", secret("endpoint")),
		PrivateKey:      envOr("WALLET_KEY", secret("key")),
		Owner:           envOr("CONTRACT_OWNER", secret("address")),
		ExplorerURL:     envOr("TX_BASE_URL", secret("txurl")),
		ContractAddress: envOr("CONTRACT_ADDRESS", deployments.Get(contractPath).String()),
		NativeSymbol:    symbol,
		ReceiptTimeout:  r.Config.ReceiptTimeout,
		GasLimitMargin:  margin,
		Pinning: Pinning{
			Endpoint:   envOr("IPFS_SERVICE_ENDPOINT", pinning.Get("endpoint").String()),
			APIKey:     envOr("IPFS_KEY", pinning.Get("key").String()),
			APISecret:  envOr("IPFS_API_SECRET_KEY", pinning.Get("secret").String()),
			GatewayURL: r.Config.IPFSGatewayURL,
		},
	}

	if n.RPCURL == "" {
		return Network{}, fmt.Errorf("no rpc endpoint for network %s", network)
	}
	if n.ContractAddress == "" {
		return Network{}, fmt.Errorf("no contract deployed for %s/%s/%s", solution, network, version)
	}
	if n.Owner == "" {
		return Network{}, fmt.Errorf("no funding wallet for network %s", network)
	}

	if r.Config.ABIDir != "" {
		abiPath := filepath.Join(r.Config.ABIDir, network, n.ContractAddress, "contract.abi")
		raw, err := os.ReadFile(abiPath)
		switch {
		case err == nil:
			n.ContractABI = string(raw)
		case !errors.Is(err, os.ErrNotExist):
			return Network{}, fmt.Errorf("read abi: %w", err)
		}
	}

	return n, nil
}

// readJSON returns an empty result for a missing file so env-only local
// setups work.
func readJSON(path string) (gjson.Result, error) {
	if path == "" {
		return gjson.Result{}, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return gjson.Result{}, nil
	}
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%s: invalid json", path)
	}
	return gjson.ParseBytes(raw), nil
}

func escapePath(component string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(component)
}
