package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"VaultGuard/internal/config"
	xerrors "VaultGuard/internal/errors"
	"VaultGuard/pkg/logger"
)

// QueuedNotifier 把事件编码为 JSON 写入队列，由 Worker 异步投递。
type QueuedNotifier struct {
	queue Producer
}

// NewQueued 创建 QueuedNotifier。
func NewQueued(queue Producer) *QueuedNotifier {
	return &QueuedNotifier{queue: queue}
}

// Channel 实现 Notifier。
func (n *QueuedNotifier) Channel() Channel { return ChannelQueue }

// Notify 实现 Notifier，仅保证事件入队。
func (n *QueuedNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "encode notification")
	}
	return n.queue.Publish(ctx, payload)
}

// Worker 从队列取出事件并交给下游通知器投递。只有可重试的失败才交还给队列重投。
type Worker struct {
	queue   Consumer
	target  Notifier
	workers int
	timeout time.Duration
	logger  *slog.Logger
}

// NewWorker 创建 Worker，timeout 限制单条事件的投递时间。
func NewWorker(queue Consumer, target Notifier, workers int, timeout time.Duration) *Worker {
	return &Worker{
		queue:   queue,
		target:  target,
		workers: workers,
		timeout: timeout,
		logger:  logger.Named("notify.worker"),
	}
}

// Run 阻塞消费队列，直到 ctx 取消或队列关闭。
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("通知投递协程启动", slog.Int("workers", w.workers))
	return w.queue.Consume(ctx, w.workers, w.handle)
}

func (w *Worker) handle(ctx context.Context, payload []byte) error {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		// 无法解析的消息直接丢弃，避免反复重投。
		w.logger.Error("丢弃无法解析的通知", slog.Any("error", err))
		return nil
	}
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	if err := w.target.Notify(ctx, event); err != nil {
		retry := xerrors.RetryableError(err)
		w.logger.Warn("通知投递失败",
			slog.String("event_id", event.ID),
			slog.String("challenge_id", event.ChallengeID),
			slog.Bool("retry", retry),
			slog.String("severity", string(xerrors.SeverityOf(err))),
			slog.Any("error", err),
		)
		if !retry {
			return nil
		}
		return err
	}
	return nil
}

// OpenQueue 按配置创建通知队列。driver 为 none 时返回 nil。
func OpenQueue(ctx context.Context, cfg config.QueueConfig) (Queue, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryQueue(cfg.BufferSize), nil
	case "redis":
		q, err := NewRedisQueue(ctx, RedisQueueConfig{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	case "rabbitmq":
		q, err := NewRabbitMQQueue(RabbitMQConfig{
			URL:      cfg.RabbitURL,
			Queue:    cfg.RabbitQueue,
			Prefetch: cfg.Workers,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unsupported notification queue driver: "+cfg.Driver)
	}
}
