package vault

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-co-op/gocron/v2"

	"VaultGuard/internal/challenge"
	xerrors "VaultGuard/internal/errors"
	"VaultGuard/pkg/logger"
)

// Operations 是 Watcher 依赖的金库操作，Service 满足该接口。
type Operations interface {
	Balance(ctx context.Context, challengeID string) (*big.Int, error)
	Expiration(ctx context.Context, challengeID string) (time.Time, error)
	DistributeFunds(ctx context.Context, challengeID string) (common.Hash, error)
}

// Watcher 定期检查 ACTIVE 挑战是否已到期，到期的挑战标记为 EXPIRED。
type Watcher struct {
	ops            Operations
	challenges     challenge.ChallengeStore
	interval       time.Duration
	autoDistribute bool
	now            func() time.Time
	logger         *slog.Logger
	scheduler      gocron.Scheduler
}

// WatcherOption 定义 Watcher 的可选配置。
type WatcherOption func(*Watcher)

// WithAutoDistribute 让到期挑战在标记前先调用 distributeFunds()。
func WithAutoDistribute(enabled bool) WatcherOption {
	return func(w *Watcher) { w.autoDistribute = enabled }
}

// WithWatcherClock 替换时间源。
func WithWatcherClock(now func() time.Time) WatcherOption {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// WithWatcherLogger 指定日志实例。
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher 创建到期检查器，interval 小于等于 0 时使用一分钟。
func NewWatcher(ops Operations, challenges challenge.ChallengeStore, interval time.Duration, opts ...WatcherOption) *Watcher {
	if interval <= 0 {
		interval = time.Minute
	}
	w := &Watcher{
		ops:        ops,
		challenges: challenges,
		interval:   interval,
		now:        time.Now,
		logger:     logger.Named("vault.watcher"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Start 注册周期任务并启动调度器。上一次检查未完成时跳过本轮。
func (w *Watcher) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create expiration scheduler")
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() {
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error("到期检查失败", slog.Any("error", err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("vault-expiration"),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "register expiration job")
	}
	scheduler.Start()
	w.scheduler = scheduler
	w.logger.Info("到期检查任务已启动", slog.Duration("interval", w.interval))
	return nil
}

// Stop 停止调度器并等待正在执行的任务结束。
func (w *Watcher) Stop() error {
	if w.scheduler == nil {
		return nil
	}
	return w.scheduler.Shutdown()
}

// Sweep 执行一轮检查，返回本轮被标记为 EXPIRED 的挑战数量。
// 单个挑战的失败只记录日志，不影响其余挑战。
func (w *Watcher) Sweep(ctx context.Context) (int, error) {
	active, err := w.challenges.ListByStatus(ctx, challenge.StatusActive)
	if err != nil {
		return 0, storageFault(err, "list active challenges")
	}

	now := w.now()
	expired := 0
	for _, c := range active {
		expiresAt, err := w.ops.Expiration(ctx, c.ID)
		if err != nil {
			w.logger.Warn("读取到期时间失败", slog.String("challenge_id", c.ID), slog.Any("error", err))
			continue
		}
		if now.Before(expiresAt) {
			continue
		}

		snapshot := c.VaultBalance
		if balance, err := w.ops.Balance(ctx, c.ID); err == nil {
			snapshot = balance.String()
		}
		if w.autoDistribute {
			hash, err := w.ops.DistributeFunds(ctx, c.ID)
			if err != nil {
				w.logger.Error("到期分配资金失败", slog.String("challenge_id", c.ID), slog.Any("error", err))
				continue
			}
			w.logger.Info("到期资金已分配", slog.String("challenge_id", c.ID), slog.String("tx_hash", hash.Hex()))
		}
		if err := w.challenges.UpdateStatus(ctx, c.ID, challenge.StatusExpired, snapshot); err != nil {
			w.logger.Error("标记挑战到期失败", slog.String("challenge_id", c.ID), slog.Any("error", err))
			continue
		}
		expired++
		w.logger.Info("挑战已到期",
			slog.String("challenge_id", c.ID),
			slog.Time("expires_at", expiresAt),
			slog.String("vault_balance", snapshot),
		)
	}
	return expired, nil
}
