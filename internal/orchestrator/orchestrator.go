package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"VaultGuard/internal/accounting"
	"VaultGuard/internal/agent"
	"VaultGuard/internal/challenge"
	xerrors "VaultGuard/internal/errors"
	"VaultGuard/internal/notify"
	"VaultGuard/internal/observability/metrics"
	"VaultGuard/pkg/logger"
)

// DefaultCrackMessage 是玩家说出口令后返回的固定回复。
const DefaultCrackMessage = "Congratulations! You cracked the vault password and the guardian has stepped aside. " +
	"The vault is yours, enjoy your reward:\n\n" +
	`<video src="https://vaultguard.example/media/vault-unlocked.mp4" controls autoplay playsinline></video>`

// Orchestrator 串联记账、口令解析与守护者生成。
type Orchestrator struct {
	ledger        Ledger
	vault         Vault
	primary       PrimaryAgent
	secondary     SecondaryAgent
	notifier      notify.Notifier
	crackMessage  string
	notifyTimeout time.Duration
	newID         func() string
	now           func() time.Time
	logger        *slog.Logger
	audit         *slog.Logger
}

// Option 定义 Orchestrator 的可选配置。
type Option func(*Orchestrator)

// WithNotifier 设置破解事件的通知器。
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithCrackMessage 覆盖破解后的固定回复。
func WithCrackMessage(msg string) Option {
	return func(o *Orchestrator) {
		if strings.TrimSpace(msg) != "" {
			o.crackMessage = msg
		}
	}
}

// WithNotifyTimeout 限制单次通知的耗时。
func WithNotifyTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.notifyTimeout = d
		}
	}
}

// WithIDGenerator 覆盖会话 ID 与事件 ID 的生成方式。
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithClock 覆盖时间来源。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAuditLogger 指定审计日志实例。
func WithAuditLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.audit = l
		}
	}
}

// New 创建 Orchestrator。secondary 只在 HARD 难度下使用。
func New(ledger Ledger, vault Vault, primary PrimaryAgent, secondary SecondaryAgent, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ledger:        ledger,
		vault:         vault,
		primary:       primary,
		secondary:     secondary,
		crackMessage:  DefaultCrackMessage,
		notifyTimeout: 10 * time.Second,
		newID:         uuid.NewString,
		now:           time.Now,
		logger:        logger.Named("orchestrator"),
		audit:         logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Handle 处理一条对话请求。返回错误时若 w 尚未收到任何片段，调用方可以输出
// 完整的错误响应；否则错误只能记录日志。
//
// 已计费的一轮对话不随调用方的取消而中止：客户端断开后生成与保存照常完成，
// 只有写出片段会失败。
func (o *Orchestrator) Handle(ctx context.Context, req Request, w FragmentWriter) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	res, err := o.handle(ctx, req, w)
	level := ""
	if res != nil {
		level = string(res.Level)
	}
	switch {
	case err == nil:
		metrics.ObserveChatTurn(level, string(res.Outcome))
	case xerrors.HTTPStatus(err) < 500:
		metrics.ObserveChatTurn(level, metrics.OutcomeRejected)
	default:
		metrics.ObserveChatTurn(level, metrics.OutcomeFailed)
		o.logger.Error("对话处理失败",
			slog.String("challenge_id", req.ChallengeID),
			slog.String("participant_id", req.ParticipantID),
			slog.String("conversation_id", req.ConversationID),
			slog.Any("error", err),
		)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) handle(ctx context.Context, req Request, w FragmentWriter) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if err := o.checkBalance(ctx, req); err != nil {
		return nil, err
	}

	latest, ok := latestUserMessage(req.Messages)
	if !ok {
		return nil, ErrNoUserMessage
	}
	if req.ConversationID == "" {
		req.ConversationID = o.newID()
	}
	o.accountUserMessage(ctx, req, latest)

	secret, err := o.vault.GetSecret(ctx, req.ChallengeID)
	if err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, xerrors.New(CodeSecretNotConfigured, ErrSecretNotConfigured.Message(), xerrors.WithMetadata("challenge_id", req.ChallengeID))
	}

	res := &Result{ConversationID: req.ConversationID}
	if strings.Contains(latest, secret) {
		res.Outcome = OutcomeCracked
		return res, o.cracked(ctx, req, w, res)
	}

	info, err := o.vault.GetChallengeInfo(ctx, req.ChallengeID)
	if err != nil {
		return res, err
	}
	res.Level = info.Level
	res.Outcome = OutcomeGenerated

	switch info.Level {
	case challenge.LevelEasy:
		err = o.generateEasy(ctx, req, secret, w, res)
	case challenge.LevelHard:
		err = o.generateHard(ctx, req, secret, w, res)
	default:
		err = xerrors.New(CodeUnknownLevel, ErrUnknownLevel.Message(), xerrors.WithMetadata("level", string(info.Level)))
	}
	return res, err
}

func validate(req Request) error {
	switch {
	case len(req.Messages) == 0:
		return xerrors.New(CodeInvalidChatRequest, "Missing or invalid messages")
	case strings.TrimSpace(req.ChallengeID) == "":
		return xerrors.New(CodeInvalidChatRequest, "Missing challengeId")
	case strings.TrimSpace(req.ParticipantID) == "":
		return xerrors.New(CodeInvalidChatRequest, "Missing participantId")
	}
	for _, m := range req.Messages {
		if m.Role != challenge.RoleUser && m.Role != challenge.RoleAssistant {
			return xerrors.New(CodeInvalidChatRequest, "Invalid message role: "+string(m.Role))
		}
	}
	return nil
}

// checkBalance 在任何记账副作用之前检查额度。读取与扣减之间不加锁，
// 并发请求可能让额度变为负数。
func (o *Orchestrator) checkBalance(ctx context.Context, req Request) error {
	balance, err := o.ledger.GetBalance(ctx, req.ChallengeID, req.ParticipantID)
	if err != nil {
		return err
	}
	if balance <= 0 {
		return xerrors.New(CodeInsufficientBalance, ErrInsufficientBalance.Message(),
			xerrors.WithMetadata("participant_id", req.ParticipantID))
	}
	return nil
}

func latestUserMessage(messages []agent.Turn) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == challenge.RoleUser {
			return messages[i].Content, true
		}
	}
	return "", false
}

// accountUserMessage 依次执行四个独立的记账子步骤，失败只记录日志，不回滚已完成的步骤。
func (o *Orchestrator) accountUserMessage(ctx context.Context, req Request, content string) {
	first, out := o.ledger.IsFirstMessageInConversation(ctx, req.ConversationID)
	o.logOutcome(req, out)
	if first {
		o.logOutcome(req, o.ledger.IncrementParticipantCount(ctx, req.ChallengeID))
	}

	_, out = o.ledger.RecordMessage(ctx, req.ConversationID, req.ChallengeID, req.ParticipantID, challenge.RoleUser, content)
	o.logOutcome(req, out)
	o.logOutcome(req, o.ledger.IncrementMessageCount(ctx, req.ChallengeID))

	remaining, out := o.ledger.DecrementBalance(ctx, req.ChallengeID, req.ParticipantID)
	o.logOutcome(req, out)
	if out.OK() {
		o.audit.Info("消息已计费",
			slog.String("challenge_id", req.ChallengeID),
			slog.String("participant_id", req.ParticipantID),
			slog.String("conversation_id", req.ConversationID),
			slog.Bool("first_message", first),
			slog.Int64("remaining_balance", remaining),
		)
	}
}

func (o *Orchestrator) logOutcome(req Request, out accounting.Outcome) {
	if out.OK() {
		return
	}
	attrs := append(out.LogAttrs(),
		slog.String("challenge_id", req.ChallengeID),
		slog.String("participant_id", req.ParticipantID),
		slog.String("conversation_id", req.ConversationID),
	)
	o.logger.Warn("记账子步骤失败", attrs...)
}

func (o *Orchestrator) cracked(ctx context.Context, req Request, w FragmentWriter, res *Result) error {
	o.audit.Warn("金库口令已被破解",
		slog.String("challenge_id", req.ChallengeID),
		slog.String("participant_id", req.ParticipantID),
		slog.String("conversation_id", req.ConversationID),
	)
	res.Text = o.crackMessage
	w.Open(req.ConversationID)
	err := w.WriteFragment(o.crackMessage)
	if err == nil {
		res.Fragments = 1
	}
	o.persistReply(ctx, req, o.crackMessage)
	o.notifyCracked(ctx, req)
	if err != nil {
		o.logger.Warn("写出破解回复失败", slog.String("conversation_id", req.ConversationID), slog.Any("error", err))
	}
	return nil
}

func (o *Orchestrator) notifyCracked(ctx context.Context, req Request) {
	if o.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.notifyTimeout)
	defer cancel()
	err := o.notifier.Notify(notifyCtx, notify.Event{
		ID:             o.newID(),
		Kind:           notify.KindVaultCracked,
		ChallengeID:    req.ChallengeID,
		ParticipantID:  req.ParticipantID,
		ConversationID: req.ConversationID,
		OccurredAt:     o.now(),
	})
	if err != nil {
		o.logger.Warn("破解通知发送失败", slog.String("challenge_id", req.ChallengeID), slog.Any("error", err))
	}
}

func (o *Orchestrator) generateEasy(ctx context.Context, req Request, secret string, w FragmentWriter, res *Result) error {
	draft, err := o.primary.Generate(ctx, agent.PrimaryInput{
		ChallengeID: req.ChallengeID,
		Secret:      secret,
		History:     req.Messages,
	})
	if err != nil {
		return err
	}
	res.Text = draft.Text
	w.Open(req.ConversationID)
	if err := w.WriteFragment(draft.Text); err != nil {
		o.logger.Warn("写出回复失败", slog.String("conversation_id", req.ConversationID), slog.Any("error", err))
	} else {
		res.Fragments = 1
	}
	o.persistReply(ctx, req, draft.Text)
	return nil
}

// generateHard 先让主守护者生成草稿（不展示给玩家），再把二级守护者的输出片段
// 按到达顺序转发，并拼接为最终保存的回复。客户端断开后继续累积输出。
func (o *Orchestrator) generateHard(ctx context.Context, req Request, secret string, w FragmentWriter, res *Result) error {
	draft, err := o.primary.Generate(ctx, agent.PrimaryInput{
		ChallengeID: req.ChallengeID,
		Secret:      secret,
		History:     req.Messages,
	})
	if err != nil {
		return err
	}

	var (
		text      strings.Builder
		opened    bool
		writeErr  error
		streamErr error
	)
	for fragment, err := range o.secondary.Stream(ctx, agent.SecondaryInput{
		ChallengeID: req.ChallengeID,
		Secret:      secret,
		History:     req.Messages,
		Draft:       draft.Text,
	}) {
		if err != nil {
			streamErr = err
			break
		}
		text.WriteString(fragment)
		if writeErr != nil {
			continue
		}
		if !opened {
			w.Open(req.ConversationID)
			opened = true
		}
		if writeErr = w.WriteFragment(fragment); writeErr != nil {
			o.logger.Warn("写出回复片段失败", slog.String("conversation_id", req.ConversationID), slog.Any("error", writeErr))
			continue
		}
		res.Fragments++
	}

	res.Text = text.String()
	if streamErr != nil {
		if res.Text != "" {
			o.persistReply(ctx, req, res.Text)
		}
		return streamErr
	}
	if !opened {
		w.Open(req.ConversationID)
	}
	o.persistReply(ctx, req, res.Text)
	return nil
}

// persistReply 保存助手回复。客户端断开不影响保存。
func (o *Orchestrator) persistReply(ctx context.Context, req Request, text string) {
	_, out := o.ledger.RecordMessage(context.WithoutCancel(ctx), req.ConversationID, req.ChallengeID, req.ParticipantID, challenge.RoleAssistant, text)
	o.logOutcome(req, out)
}
