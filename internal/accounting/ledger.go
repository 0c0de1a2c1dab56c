package accounting

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"VaultGuard/internal/challenge"
	"VaultGuard/pkg/logger"
)

// Step 标识一次记账子步骤。
type Step string

const (
	StepFirstMessageCheck    Step = "first_message_check"
	StepIncrementParticipant Step = "increment_participant_count"
	StepIncrementMessage     Step = "increment_message_count"
	StepRecordMessage        Step = "record_message"
	StepDecrementBalance     Step = "decrement_balance"
)

// Outcome 是尽力而为子步骤的结果。失败只记录不传播，由调用方决定如何记录日志。
type Outcome struct {
	Step Step
	Err  error
}

// OK 表示子步骤是否成功。
func (o Outcome) OK() bool { return o.Err == nil }

// LogAttrs 返回适合结构化日志的字段。
func (o Outcome) LogAttrs() []any {
	attrs := []any{slog.String("step", string(o.Step))}
	if o.Err != nil {
		attrs = append(attrs, slog.Any("error", o.Err))
	}
	return attrs
}

// Ledger 封装挑战计数、玩家额度和消息记录的读写。
type Ledger struct {
	challenges   challenge.ChallengeStore
	participants challenge.ParticipantStore
	messages     challenge.MessageStore
	now          func() time.Time
	newID        func() string
	logger       *slog.Logger
}

// Option 自定义 Ledger。
type Option func(*Ledger)

// WithClock 覆盖时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDGenerator 覆盖消息 ID 生成器。
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// WithLogger 指定日志实例。
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger 创建 Ledger。
func NewLedger(challenges challenge.ChallengeStore, participants challenge.ParticipantStore, messages challenge.MessageStore, opts ...Option) *Ledger {
	l := &Ledger{
		challenges:   challenges,
		participants: participants,
		messages:     messages,
		now:          time.Now,
		newID:        uuid.NewString,
		logger:       logger.Named("accounting"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// IsFirstMessageInConversation 在会话尚无任何消息时返回 true。
// 查询失败时返回 false，宁可少计参与人数也不重复计数。
func (l *Ledger) IsFirstMessageInConversation(ctx context.Context, conversationID string) (bool, Outcome) {
	out := Outcome{Step: StepFirstMessageCheck}
	existing, err := l.messages.ListByConversation(ctx, conversationID, 1, challenge.Descending)
	if err != nil {
		out.Err = err
		return false, out
	}
	return len(existing) == 0, out
}

// IncrementParticipantCount 参与人数加一。
func (l *Ledger) IncrementParticipantCount(ctx context.Context, challengeID string) Outcome {
	return Outcome{Step: StepIncrementParticipant, Err: l.challenges.IncrementParticipantCount(ctx, challengeID)}
}

// IncrementMessageCount 消息数加一。
func (l *Ledger) IncrementMessageCount(ctx context.Context, challengeID string) Outcome {
	return Outcome{Step: StepIncrementMessage, Err: l.challenges.IncrementMessageCount(ctx, challengeID)}
}

// GetBalance 读取玩家剩余额度。记录不存在或缺少额度字段时返回对应的错误，而不是 0。
func (l *Ledger) GetBalance(ctx context.Context, challengeID, participantID string) (int64, error) {
	return l.participants.GetBalance(ctx, challengeID, participantID)
}

// DecrementBalance 额度减一并返回扣减后的值。
func (l *Ledger) DecrementBalance(ctx context.Context, challengeID, participantID string) (int64, Outcome) {
	balance, err := l.participants.AddBalance(ctx, challengeID, participantID, -1)
	return balance, Outcome{Step: StepDecrementBalance, Err: err}
}

// RecordMessage 生成新的消息 ID 与时间戳并写入一条不可变记录。
func (l *Ledger) RecordMessage(ctx context.Context, conversationID, challengeID, participantID string, role challenge.Role, content string) (*challenge.Message, Outcome) {
	msg := &challenge.Message{
		ID:             l.newID(),
		ConversationID: conversationID,
		ChallengeID:    challengeID,
		ParticipantID:  participantID,
		Role:           role,
		Content:        content,
		CreatedAt:      l.now().UnixMilli(),
	}
	out := Outcome{Step: StepRecordMessage, Err: l.messages.InsertMessage(ctx, msg)}
	if out.OK() {
		l.logger.Debug("消息已记录",
			slog.String("message_id", msg.ID),
			slog.String("conversation_id", conversationID),
			slog.String("role", string(role)))
	}
	return msg, out
}
