package challenge

import (
	xerrors "VaultGuard/internal/errors"
)

// Level 表示挑战难度。
type Level string

const (
	LevelEasy Level = "EASY"
	LevelHard Level = "HARD"
)

// Status 表示挑战所处的生命周期状态。
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusUnlocked Status = "UNLOCKED"
	StatusExpired  Status = "EXPIRED"
)

// IsValidStatus 检查状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusActive, StatusUnlocked, StatusExpired:
		return true
	default:
		return false
	}
}

// Role 表示消息发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Challenge 描述一局金库守护挑战。
type Challenge struct {
	ID               string `json:"id"`
	Level            Level  `json:"level"`
	ParticipantCount int64  `json:"participant_count"`
	MessageCount     int64  `json:"message_count"`
	Status           Status `json:"status"`
	// VaultBalance 是解锁或过期时记录的金库余额快照，单位 wei。
	VaultBalance string `json:"vault_balance,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Participant 表示挑战中的一名玩家及其剩余消息额度。
// Balance 为 nil 表示记录存在但未配置额度。
type Participant struct {
	ChallengeID   string `json:"challenge_id"`
	ParticipantID string `json:"participant_id"`
	Balance       *int64 `json:"balance,omitempty"`
}

// Message 是会话中的一条不可变记录。
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	ChallengeID    string `json:"challenge_id"`
	ParticipantID  string `json:"participant_id"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	// CreatedAt 使用毫秒级 Unix 时间戳。
	CreatedAt int64 `json:"created_at"`
}

// ContractMetadata 保存挑战对应的链上合约地址与 ABI 描述。
type ContractMetadata struct {
	ChallengeID string `json:"challenge_id"`
	Address     string `json:"address"`
	ABI         string `json:"abi"`
}

const (
	CodeChallengeNotFound   xerrors.Code = "CHALLENGE_NOT_FOUND"
	CodeParticipantNotFound xerrors.Code = "PARTICIPANT_NOT_FOUND"
	CodeBalanceMissing      xerrors.Code = "BALANCE_MISSING"
	CodeContractNotFound    xerrors.Code = "CONTRACT_METADATA_NOT_FOUND"
)

var (
	// ErrChallengeNotFound 表示挑战不存在。
	ErrChallengeNotFound = xerrors.New(CodeChallengeNotFound, "Challenge not found")
	// ErrParticipantNotFound 表示玩家记录不存在。
	ErrParticipantNotFound = xerrors.New(CodeParticipantNotFound, "Participant not found")
	// ErrBalanceMissing 表示玩家记录存在但缺少额度字段。
	ErrBalanceMissing = xerrors.New(CodeBalanceMissing, "Participant balance not configured")
	// ErrContractNotFound 表示挑战未配置合约元数据。
	ErrContractNotFound = xerrors.New(CodeContractNotFound, "Contract metadata not found")
)

func init() {
	xerrors.Register(CodeChallengeNotFound, xerrors.Attributes{
		Message:  "Challenge not found",
		Severity: xerrors.SeverityWarning,
		Status:   500,
	})
	xerrors.Register(CodeParticipantNotFound, xerrors.Attributes{
		Message:  "Participant not found",
		Severity: xerrors.SeverityInfo,
		Status:   400,
	})
	xerrors.Register(CodeBalanceMissing, xerrors.Attributes{
		Message:  "Participant balance not configured",
		Severity: xerrors.SeverityInfo,
		Status:   400,
	})
	xerrors.Register(CodeContractNotFound, xerrors.Attributes{
		Message:  "Contract metadata not found",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
		Status:   500,
	})
}

// Int64 返回指向 v 的指针，便于构造 Participant。
func Int64(v int64) *int64 {
	return &v
}
