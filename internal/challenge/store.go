package challenge

import "context"

// SortOrder 决定消息查询的时间顺序。
type SortOrder int

const (
	// Ascending 按创建时间从旧到新排列。
	Ascending SortOrder = iota
	// Descending 按创建时间从新到旧排列。
	Descending
)

// ChallengeStore 维护挑战记录及其计数器。
type ChallengeStore interface {
	GetChallenge(ctx context.Context, id string) (*Challenge, error)
	IncrementParticipantCount(ctx context.Context, id string) error
	IncrementMessageCount(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status Status, vaultBalance string) error
	ListByStatus(ctx context.Context, status Status) ([]*Challenge, error)
}

// ParticipantStore 维护玩家消息额度。
type ParticipantStore interface {
	GetBalance(ctx context.Context, challengeID, participantID string) (int64, error)
	// AddBalance 原子地增加 delta 并返回更新后的额度。
	AddBalance(ctx context.Context, challengeID, participantID string, delta int64) (int64, error)
}

// MessageStore 保存会话消息，并支持按会话 ID 的二级索引查询。
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *Message) error
	ListByConversation(ctx context.Context, conversationID string, limit int, order SortOrder) ([]*Message, error)
}

// SecretStore 提供金库口令，未配置时返回空字符串。
type SecretStore interface {
	GetSecret(ctx context.Context, challengeID string) (string, error)
}

// ContractStore 提供挑战合约元数据。
type ContractStore interface {
	GetContractMetadata(ctx context.Context, challengeID string) (*ContractMetadata, error)
}

// Seeder 用于在启动阶段写入初始数据。
type Seeder interface {
	PutChallenge(ctx context.Context, c *Challenge) error
	PutParticipant(ctx context.Context, p *Participant) error
	PutSecret(ctx context.Context, challengeID, secret string) error
	PutContractMetadata(ctx context.Context, meta *ContractMetadata) error
}

// Store 聚合了所有集合，具体实现由存储驱动提供。
type Store interface {
	ChallengeStore
	ParticipantStore
	MessageStore
	SecretStore
	ContractStore
	Seeder
	Close() error
}
