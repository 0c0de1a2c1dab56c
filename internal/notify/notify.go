package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"VaultGuard/internal/observability/metrics"
)

// Channel 表示通知渠道。
type Channel string

const (
	ChannelWebhook Channel = "webhook"
	ChannelQueue   Channel = "queue"
)

// Kind 表示事件类型。
type Kind string

// KindVaultCracked 表示玩家在对话中说出了金库口令。
const KindVaultCracked Kind = "vault_cracked"

// Event 描述一次需要通知的业务事件。
type Event struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	ChallengeID    string    `json:"challengeId"`
	ParticipantID  string    `json:"participantId"`
	ConversationID string    `json:"conversationId"`
	Message        string    `json:"message"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Text 返回 Webhook 使用的纯文本内容。
func (e Event) Text() string {
	var b strings.Builder
	switch e.Kind {
	case KindVaultCracked:
		fmt.Fprintf(&b, "Vault cracked! Challenge %s was cracked by participant %s", e.ChallengeID, e.ParticipantID)
	default:
		fmt.Fprintf(&b, "[%s] challenge %s participant %s", e.Kind, e.ChallengeID, e.ParticipantID)
	}
	if e.ConversationID != "" {
		fmt.Fprintf(&b, " (conversation %s)", e.ConversationID)
	}
	if !e.OccurredAt.IsZero() {
		fmt.Fprintf(&b, " at %s", e.OccurredAt.UTC().Format(time.RFC3339))
	}
	b.WriteString(".")
	if e.Message != "" {
		b.WriteString("\n")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Fanout 将事件广播给多个通知器，逐个投递并汇总错误。
type Fanout struct {
	notifiers []Notifier
}

// NewFanout 创建 Fanout，nil 通知器会被忽略。
func NewFanout(notifiers ...Notifier) *Fanout {
	set := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			set = append(set, n)
		}
	}
	return &Fanout{notifiers: set}
}

// Len 返回已注册的通知器数量。
func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.notifiers)
}

// Channel 实现 Notifier。
func (f *Fanout) Channel() Channel { return "fanout" }

// Notify 将事件广播至所有通知器。
func (f *Fanout) Notify(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, notifier := range f.notifiers {
		err := notifier.Notify(ctx, event)
		metrics.ObserveNotification(string(notifier.Channel()), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}
