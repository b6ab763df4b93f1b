package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bws-projects/bws-api-nft-zk/internal/config"
	"github.com/bws-projects/bws-api-nft-zk/internal/contracts"
	"github.com/bws-projects/bws-api-nft-zk/internal/failure"
)

// EthClient talks to an EVM node and the asset contract deployed on it.
type EthClient struct {
	client    *ethclient.Client
	contract  *bind.BoundContract
	abi       abi.ABI
	address   common.Address
	owner     common.Address
	chainID   *big.Int
	transacts *bind.TransactOpts
}

type EthClientConfig struct {
	RPCURL          string
	PrivateKeyHex   string
	ContractAddress string
	ContractABI     string
	Owner           string
}

// NewEthClient validates the configuration before dialing. A bad key,
// address or ABI is fatal; an unreachable node is not.
func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, failure.Fatalf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, failure.Fatalf("invalid contract address %q", cfg.ContractAddress)
	}
	if cfg.Owner != "" && !common.IsHexAddress(cfg.Owner) {
		return nil, failure.Fatalf("invalid owner address %q", cfg.Owner)
	}
	if cfg.PrivateKeyHex == "" {
		return nil, failure.Fatalf("private key is required for submitting transactions")
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, failure.AsFatal(err)
	}

	parsedABI, err := contracts.ParseAssetABI(cfg.ContractABI)
	if err != nil {
		return nil, failure.AsFatal(err)
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("transactor: %w", err)
	}

	owner := txOpts.From
	if cfg.Owner != "" {
		owner = common.HexToAddress(cfg.Owner)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	return &EthClient{
		client:    cli,
		contract:  bind.NewBoundContract(address, parsedABI, cli, cli, cli),
		abi:       parsedABI,
		address:   address,
		owner:     owner,
		chainID:   chainID,
		transacts: txOpts,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) Owner() common.Address {
	return c.owner
}

func (c *EthClient) EstimateMint(ctx context.Context, tokenURI string) (uint64, error) {
	return c.estimate(ctx, contracts.MethodMint, c.owner, tokenURI)
}

func (c *EthClient) EstimateTransfer(ctx context.Context, to common.Address, tokenID *big.Int) (uint64, error) {
	return c.estimate(ctx, contracts.MethodTransfer, c.owner, to, tokenID)
}

func (c *EthClient) estimate(ctx context.Context, method string, args ...any) (uint64, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return 0, fmt.Errorf("pack %s: %w", method, err)
	}
	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.owner,
		To:   &c.address,
		Data: input,
	})
	if err != nil {
		return 0, fmt.Errorf("estimate %s: %w", method, err)
	}
	return gas, nil
}

func (c *EthClient) SubmitMint(ctx context.Context, tokenURI string, opts TxOptions) (Submission, error) {
	return c.transact(ctx, opts, contracts.MethodMint, c.owner, tokenURI)
}

func (c *EthClient) SubmitTransfer(ctx context.Context, to common.Address, tokenID *big.Int, opts TxOptions) (Submission, error) {
	return c.transact(ctx, opts, contracts.MethodTransfer, c.owner, to, tokenID)
}

func (c *EthClient) transact(ctx context.Context, o TxOptions, method string, args ...any) (Submission, error) {
	opts := *c.transacts
	opts.Context = ctx
	opts.GasLimit = o.GasLimit
	opts.Nonce = new(big.Int).SetUint64(o.Nonce)

	tx, err := c.contract.Transact(&opts, method, args...)
	if err != nil {
		return Submission{}, fmt.Errorf("%s tx: %w", method, err)
	}
	return Submission{TxHash: tx.Hash().Hex(), Nonce: tx.Nonce()}, nil
}

func (c *EthClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.client.BalanceAt(ctx, account, nil)
}

// NonceAt returns the nonce at the latest block.
func (c *EthClient) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.client.NonceAt(ctx, account, nil)
}

func (c *EthClient) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.client.SuggestGasPrice(ctx)
}

func (c *EthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.client.TransactionReceipt(ctx, txHash)
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

func (c *EthClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// EthConnector dials a fresh EthClient for every invocation.
type EthConnector struct{}

func (EthConnector) Connect(ctx context.Context, cfg config.Network) (Connection, error) {
	cli, err := NewEthClient(ctx, EthClientConfig{
		RPCURL:          cfg.RPCURL,
		PrivateKeyHex:   cfg.PrivateKey,
		ContractAddress: cfg.ContractAddress,
		ContractABI:     cfg.ContractABI,
		Owner:           cfg.Owner,
	})
	if err != nil {
		return Connection{}, fmt.Errorf("connect %s: %w", cfg.Name, err)
	}
	return Connection{Contract: cli, Provider: cli, close: cli.Close}, nil
}
