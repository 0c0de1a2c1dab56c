package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Contract is a live handle to a challenge's vault contract.
type Contract struct {
	ChallengeID string
	Address     common.Address
	ABI         abi.ABI
	// Bound is nil for clients that do not execute calls through go-ethereum bindings.
	Bound *bind.BoundContract
}

// Client defines the chain operations the vault layer relies on so higher
// layers can work against any EVM network or a test double.
type Client interface {
	// BindContract constructs a binding for the contract at address.
	BindContract(address common.Address, parsed abi.ABI) *bind.BoundContract
	// BalanceAt returns the latest balance of address in wei.
	BalanceAt(ctx context.Context, address common.Address) (*big.Int, error)
	// Call executes a constant method and returns its unpacked outputs.
	Call(ctx context.Context, contract *Contract, method string, args ...any) ([]any, error)
	// Transact signs and sends a state-changing method call.
	Transact(ctx context.Context, auth *bind.TransactOpts, contract *Contract, method string, args ...any) (*types.Transaction, error)
	// WaitMined blocks until tx is included in a block or ctx is done.
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}
