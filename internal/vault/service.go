package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"VaultGuard/internal/challenge"
	xerrors "VaultGuard/internal/errors"
	"VaultGuard/internal/web3"
	"VaultGuard/pkg/logger"
)

const (
	// CodeSignerMissing 表示未配置金库所有者私钥，无法发送交易。
	CodeSignerMissing xerrors.Code = "VAULT_SIGNER_MISSING"

	methodUnlock     = "unlock"
	methodDistribute = "distributeFunds"
	methodExpiration = "expiration"

	defaultTxTimeout = 2 * time.Minute
)

// ErrSignerMissing 在未配置签名器时由交易类操作返回。
var ErrSignerMissing = xerrors.New(CodeSignerMissing, "Vault owner key not configured")

func init() {
	xerrors.Register(CodeSignerMissing, xerrors.Attributes{
		Message:  "Vault owner key not configured",
		Severity: xerrors.SeverityWarning,
		Status:   503,
	})
}

// Contracts 按挑战返回合约绑定，contracts.Cache 满足该接口。
type Contracts interface {
	Get(ctx context.Context, challengeID string) (*web3.Contract, error)
}

// Service 通过合约绑定缓存执行金库管理操作。
type Service struct {
	contracts  Contracts
	chain      web3.Client
	challenges challenge.ChallengeStore
	auth       *bind.TransactOpts
	txTimeout  time.Duration
	logger     *slog.Logger
	audit      *slog.Logger

	// 同一签名账户的交易串行发送，避免 nonce 冲突。
	txMu sync.Mutex
}

// Option 定义 Service 的可选配置。
type Option func(*Service)

// WithTransactor 设置交易签名器，未设置时解锁与分配操作返回 ErrSignerMissing。
func WithTransactor(auth *bind.TransactOpts) Option {
	return func(s *Service) { s.auth = auth }
}

// WithTxTimeout 设置等待交易上链的超时时间。
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuditLogger 指定审计日志实例。
func WithAuditLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// NewService 创建金库管理服务。
func NewService(contracts Contracts, chain web3.Client, challenges challenge.ChallengeStore, opts ...Option) *Service {
	s := &Service{
		contracts:  contracts,
		chain:      chain,
		challenges: challenges,
		txTimeout:  defaultTxTimeout,
		logger:     logger.Named("vault"),
		audit:      logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Balance 返回挑战金库合约的链上余额（wei）。
func (s *Service) Balance(ctx context.Context, challengeID string) (*big.Int, error) {
	contract, err := s.contracts.Get(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	balance, err := s.chain.BalanceAt(ctx, contract.Address)
	if err != nil {
		return nil, chainFault(err, "read vault balance", challengeID)
	}
	return balance, nil
}

// Expiration 读取合约 expiration() 返回的到期时间。
func (s *Service) Expiration(ctx context.Context, challengeID string) (time.Time, error) {
	contract, err := s.contracts.Get(ctx, challengeID)
	if err != nil {
		return time.Time{}, err
	}
	out, err := s.chain.Call(ctx, contract, methodExpiration)
	if err != nil {
		return time.Time{}, chainFault(err, "read vault expiration", challengeID)
	}
	if len(out) == 0 {
		return time.Time{}, xerrors.New(xerrors.CodeChainFailure, "expiration() returned no value", xerrors.WithMetadata("challenge_id", challengeID))
	}
	seconds, ok := out[0].(*big.Int)
	if !ok || seconds == nil {
		return time.Time{}, xerrors.New(xerrors.CodeChainFailure, fmt.Sprintf("expiration() returned %T", out[0]), xerrors.WithMetadata("challenge_id", challengeID))
	}
	return time.Unix(seconds.Int64(), 0).UTC(), nil
}

// Unlock 调用合约 unlock(address) 把金库转给破解者，上链后将挑战标记为 UNLOCKED。
func (s *Service) Unlock(ctx context.Context, challengeID, recipient string) (common.Hash, error) {
	recipient = strings.TrimSpace(recipient)
	if !common.IsHexAddress(recipient) {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "Invalid recipient address")
	}
	hash, err := s.send(ctx, challengeID, methodUnlock, common.HexToAddress(recipient))
	if err != nil {
		return common.Hash{}, err
	}
	s.markStatus(ctx, challengeID, challenge.StatusUnlocked)
	s.audit.Info("金库已解锁",
		slog.String("challenge_id", challengeID),
		slog.String("recipient", common.HexToAddress(recipient).Hex()),
		slog.String("tx_hash", hash.Hex()),
	)
	return hash, nil
}

// DistributeFunds 调用合约 distributeFunds()。
func (s *Service) DistributeFunds(ctx context.Context, challengeID string) (common.Hash, error) {
	hash, err := s.send(ctx, challengeID, methodDistribute)
	if err != nil {
		return common.Hash{}, err
	}
	s.audit.Info("金库资金已分配", slog.String("challenge_id", challengeID), slog.String("tx_hash", hash.Hex()))
	return hash, nil
}

func (s *Service) send(ctx context.Context, challengeID, method string, args ...any) (common.Hash, error) {
	if s.auth == nil {
		return common.Hash{}, ErrSignerMissing
	}
	contract, err := s.contracts.Get(ctx, challengeID)
	if err != nil {
		return common.Hash{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	s.txMu.Lock()
	tx, err := s.chain.Transact(waitCtx, s.auth, contract, method, args...)
	s.txMu.Unlock()
	if err != nil {
		return common.Hash{}, chainFault(err, "send "+method, challengeID)
	}
	s.logger.Info("金库交易已发送",
		slog.String("challenge_id", challengeID),
		slog.String("method", method),
		slog.String("tx_hash", tx.Hash().Hex()),
	)

	if _, err := s.chain.WaitMined(waitCtx, tx); err != nil {
		if waitCtx.Err() != nil {
			return tx.Hash(), xerrors.Wrap(xerrors.CodeTimeout, err, "wait for "+method, xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
		}
		return tx.Hash(), chainFault(err, "wait for "+method, challengeID)
	}
	return tx.Hash(), nil
}

// markStatus 更新挑战状态并记录余额快照，失败只记录日志。
func (s *Service) markStatus(ctx context.Context, challengeID string, status challenge.Status) {
	snapshot := ""
	if balance, err := s.Balance(ctx, challengeID); err == nil {
		snapshot = balance.String()
	} else {
		s.logger.Warn("读取余额快照失败", slog.String("challenge_id", challengeID), slog.Any("error", err))
	}
	if err := s.challenges.UpdateStatus(ctx, challengeID, status, snapshot); err != nil {
		s.logger.Error("更新挑战状态失败",
			slog.String("challenge_id", challengeID),
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
	}
}

func chainFault(err error, msg, challengeID string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeChainFailure, err, msg, xerrors.WithMetadata("challenge_id", challengeID))
}
