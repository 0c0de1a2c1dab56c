package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"VaultGuard/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	ChainID int64
	Notes   string
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	chainID   *big.Int
	mu        sync.Mutex
}

var _ web3.Client = (*Client)(nil)

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	client := &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}
	if cfg.ChainID > 0 {
		client.chainID = big.NewInt(cfg.ChainID)
	}
	return client, nil
}

// Name returns the configured chain name.
func (c *Client) Name() string { return c.name }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
}

func (c *Client) backend() (*ethclient.Client, error) {
	if c == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth == nil {
		return nil, errors.New("以太坊客户端已关闭")
	}
	return c.eth, nil
}

// ChainID returns the configured chain id, or asks the node when none is set.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if c != nil && c.chainID != nil {
		return new(big.Int).Set(c.chainID), nil
	}
	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	id, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	return id, nil
}

// BindContract wraps the contract at address with the node as caller,
// transactor and filterer.
func (c *Client) BindContract(address common.Address, parsed abi.ABI) *bind.BoundContract {
	eth, err := c.backend()
	if err != nil {
		return bind.NewBoundContract(address, parsed, nil, nil, nil)
	}
	return bind.NewBoundContract(address, parsed, eth, eth, eth)
}

// BalanceAt returns the latest balance of address in wei.
func (c *Client) BalanceAt(ctx context.Context, address common.Address) (*big.Int, error) {
	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	balance, err := eth.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// Call executes a constant contract method.
func (c *Client) Call(ctx context.Context, contract *web3.Contract, method string, args ...any) ([]any, error) {
	if contract == nil || contract.Bound == nil {
		return nil, errors.New("合约未绑定")
	}
	var out []any
	if err := contract.Bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("调用合约方法 %s 失败: %w", method, err)
	}
	return out, nil
}

// Transact sends a state-changing method call signed by auth.
func (c *Client) Transact(ctx context.Context, auth *bind.TransactOpts, contract *web3.Contract, method string, args ...any) (*coretypes.Transaction, error) {
	if auth == nil {
		return nil, errors.New("未提供交易签名器")
	}
	if contract == nil || contract.Bound == nil {
		return nil, errors.New("合约未绑定")
	}
	opts := *auth
	opts.Context = ctx
	tx, err := contract.Bound.Transact(&opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("发送合约交易 %s 失败: %w", method, err)
	}
	return tx, nil
}

// WaitMined blocks until tx is mined and returns its receipt. A reverted
// transaction is reported as an error.
func (c *Client) WaitMined(ctx context.Context, tx *coretypes.Transaction) (*coretypes.Receipt, error) {
	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	receipt, err := bind.WaitMined(ctx, eth, tx)
	if err != nil {
		return nil, fmt.Errorf("等待交易 %s 上链失败: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("交易 %s 执行失败", tx.Hash().Hex())
	}
	return receipt, nil
}
