package vault

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "VaultGuard/internal/errors"
	"VaultGuard/internal/web3"
)

// NewTransactor 使用十六进制私钥构造交易签名器，链 ID 由 chain 提供。
func NewTransactor(ctx context.Context, hexKey string, chain web3.Client) (*bind.TransactOpts, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrSignerMissing
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid vault owner private key")
	}
	chainID, err := chain.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "resolve chain id")
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("create transactor for chain %s", chainID))
	}
	return auth, nil
}
