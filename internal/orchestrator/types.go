package orchestrator

import (
	"context"
	"iter"

	"VaultGuard/internal/accounting"
	"VaultGuard/internal/agent"
	"VaultGuard/internal/challenge"
	xerrors "VaultGuard/internal/errors"
)

const (
	CodeInsufficientBalance xerrors.Code = "INSUFFICIENT_BALANCE"
	CodeUnknownLevel        xerrors.Code = "UNKNOWN_LEVEL"
	CodeSecretNotConfigured xerrors.Code = "SECRET_NOT_CONFIGURED"
	CodeNoUserMessage       xerrors.Code = "NO_USER_MESSAGE"
	CodeInvalidChatRequest  xerrors.Code = "INVALID_CHAT_REQUEST"
)

var (
	// ErrInsufficientBalance 表示玩家额度已用完。
	ErrInsufficientBalance = xerrors.New(CodeInsufficientBalance, "Insufficient balance")
	// ErrUnknownLevel 表示挑战难度不受支持。
	ErrUnknownLevel = xerrors.New(CodeUnknownLevel, "Unknown challenge level")
	// ErrSecretNotConfigured 表示挑战尚未配置口令。
	ErrSecretNotConfigured = xerrors.New(CodeSecretNotConfigured, "Vault secret not configured")
	// ErrNoUserMessage 表示请求中没有任何用户消息。
	ErrNoUserMessage = xerrors.New(CodeNoUserMessage, "No user message found")
)

func init() {
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{Message: "Insufficient balance", Severity: xerrors.SeverityInfo, Status: 400})
	xerrors.Register(CodeUnknownLevel, xerrors.Attributes{Message: "Unknown challenge level", Severity: xerrors.SeverityWarning, Status: 400})
	xerrors.Register(CodeSecretNotConfigured, xerrors.Attributes{Message: "Vault secret not configured", Severity: xerrors.SeverityCritical, Alert: true, Status: 500})
	xerrors.Register(CodeNoUserMessage, xerrors.Attributes{Message: "No user message found", Severity: xerrors.SeverityInfo, Status: 400})
	xerrors.Register(CodeInvalidChatRequest, xerrors.Attributes{Message: "Invalid chat request", Severity: xerrors.SeverityInfo, Status: 400})
}

// Request 是一次对话请求。
type Request struct {
	Messages       []agent.Turn `json:"messages"`
	ChallengeID    string       `json:"challengeId"`
	ConversationID string       `json:"conversationId,omitempty"`
	ParticipantID  string       `json:"participantId"`
}

// Outcome 描述一次请求的结局。
type Outcome string

const (
	OutcomeCracked   Outcome = "cracked"
	OutcomeGenerated Outcome = "generated"
)

// Result 汇总一次成功请求的结果。
type Result struct {
	ConversationID string
	Outcome        Outcome
	Level          challenge.Level
	Text           string
	Fragments      int
}

// FragmentWriter 接收输出片段。Open 在第一个片段之前恰好调用一次，
// 参数是本次请求实际使用的会话 ID。
type FragmentWriter interface {
	Open(conversationID string)
	WriteFragment(text string) error
}

// Ledger 是流水线依赖的记账操作，accounting.Ledger 满足该接口。
type Ledger interface {
	GetBalance(ctx context.Context, challengeID, participantID string) (int64, error)
	IsFirstMessageInConversation(ctx context.Context, conversationID string) (bool, accounting.Outcome)
	IncrementParticipantCount(ctx context.Context, challengeID string) accounting.Outcome
	IncrementMessageCount(ctx context.Context, challengeID string) accounting.Outcome
	DecrementBalance(ctx context.Context, challengeID, participantID string) (int64, accounting.Outcome)
	RecordMessage(ctx context.Context, conversationID, challengeID, participantID string, role challenge.Role, content string) (*challenge.Message, accounting.Outcome)
}

// Vault 提供口令与挑战信息，vault.Resolver 满足该接口。
type Vault interface {
	GetSecret(ctx context.Context, challengeID string) (string, error)
	GetChallengeInfo(ctx context.Context, challengeID string) (*challenge.Challenge, error)
}

// PrimaryAgent 生成完整的草稿回复。
type PrimaryAgent interface {
	Generate(ctx context.Context, in agent.PrimaryInput) (*agent.Result, error)
}

// SecondaryAgent 以流的形式输出审查后的回复。
type SecondaryAgent interface {
	Stream(ctx context.Context, in agent.SecondaryInput) iter.Seq2[string, error]
}
