package challenge

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "VaultGuard/internal/errors"
)

// MemoryStore 以内存方式保存全部集合，主要用于本地开发和测试。
type MemoryStore struct {
	mu           sync.RWMutex
	challenges   map[string]*Challenge
	participants map[participantKey]*Participant
	messages     map[string][]*Message
	secrets      map[string]string
	contracts    map[string]*ContractMetadata
	now          func() time.Time
}

type participantKey struct {
	challengeID   string
	participantID string
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges:   make(map[string]*Challenge),
		participants: make(map[participantKey]*Participant),
		messages:     make(map[string][]*Message),
		secrets:      make(map[string]string),
		contracts:    make(map[string]*ContractMetadata),
		now:          time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

// GetChallenge 返回挑战副本。
func (m *MemoryStore) GetChallenge(_ context.Context, id string) (*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	clone := *c
	return &clone, nil
}

// IncrementParticipantCount 实现 ChallengeStore。
func (m *MemoryStore) IncrementParticipantCount(_ context.Context, id string) error {
	return m.mutateChallenge(id, func(c *Challenge) { c.ParticipantCount++ })
}

// IncrementMessageCount 实现 ChallengeStore。
func (m *MemoryStore) IncrementMessageCount(_ context.Context, id string) error {
	return m.mutateChallenge(id, func(c *Challenge) { c.MessageCount++ })
}

// UpdateStatus 修改挑战状态，vaultBalance 为空时保留原有快照。
func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, vaultBalance string) error {
	if !IsValidStatus(status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "unsupported challenge status")
	}
	return m.mutateChallenge(id, func(c *Challenge) {
		c.Status = status
		if vaultBalance != "" {
			c.VaultBalance = vaultBalance
		}
	})
}

func (m *MemoryStore) mutateChallenge(id string, fn func(*Challenge)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok {
		return ErrChallengeNotFound
	}
	fn(c)
	c.UpdatedAt = m.now().Unix()
	return nil
}

// ListByStatus 按 ID 排序返回指定状态的挑战。
func (m *MemoryStore) ListByStatus(_ context.Context, status Status) ([]*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Challenge, 0)
	for _, c := range m.challenges {
		if c.Status == status {
			clone := *c
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// GetBalance 实现 ParticipantStore。
func (m *MemoryStore) GetBalance(_ context.Context, challengeID, participantID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[participantKey{challengeID, participantID}]
	if !ok {
		return 0, ErrParticipantNotFound
	}
	if p.Balance == nil {
		return 0, ErrBalanceMissing
	}
	return *p.Balance, nil
}

// AddBalance 实现 ParticipantStore。
func (m *MemoryStore) AddBalance(_ context.Context, challengeID, participantID string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[participantKey{challengeID, participantID}]
	if !ok {
		return 0, ErrParticipantNotFound
	}
	if p.Balance == nil {
		return 0, ErrBalanceMissing
	}
	next := *p.Balance + delta
	p.Balance = &next
	return next, nil
}

// InsertMessage 保存一条消息，相同 ID 的重复写入视为冲突。
func (m *MemoryStore) InsertMessage(_ context.Context, msg *Message) error {
	if msg == nil || msg.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "message id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.messages[msg.ConversationID] {
		if existing.ID == msg.ID {
			return xerrors.New(xerrors.CodeConflict, "message already exists")
		}
	}
	clone := *msg
	if clone.CreatedAt == 0 {
		clone.CreatedAt = m.now().UnixMilli()
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &clone)
	return nil
}

// ListByConversation 按创建时间返回最多 limit 条消息，limit<=0 表示不限制。
// 相同时间戳的消息保持写入顺序。
func (m *MemoryStore) ListByConversation(_ context.Context, conversationID string, limit int, order SortOrder) ([]*Message, error) {
	m.mu.RLock()
	stored := m.messages[conversationID]
	items := make([]*Message, 0, len(stored))
	for _, msg := range stored {
		clone := *msg
		items = append(items, &clone)
	}
	m.mu.RUnlock()

	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt < items[j].CreatedAt })
	if order == Descending {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// GetSecret 实现 SecretStore。
func (m *MemoryStore) GetSecret(_ context.Context, challengeID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.secrets[challengeID], nil
}

// GetContractMetadata 实现 ContractStore。
func (m *MemoryStore) GetContractMetadata(_ context.Context, challengeID string) (*ContractMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.contracts[challengeID]
	if !ok {
		return nil, ErrContractNotFound
	}
	clone := *meta
	return &clone, nil
}

// PutChallenge 写入或覆盖挑战。
func (m *MemoryStore) PutChallenge(_ context.Context, c *Challenge) error {
	if c == nil || c.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "challenge id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *c
	now := m.now().Unix()
	if clone.Status == "" {
		clone.Status = StatusActive
	}
	if clone.CreatedAt == 0 {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	m.challenges[c.ID] = &clone
	return nil
}

// PutParticipant 写入或覆盖玩家记录。
func (m *MemoryStore) PutParticipant(_ context.Context, p *Participant) error {
	if p == nil || p.ChallengeID == "" || p.ParticipantID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "participant key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *p
	if p.Balance != nil {
		clone.Balance = Int64(*p.Balance)
	}
	m.participants[participantKey{p.ChallengeID, p.ParticipantID}] = &clone
	return nil
}

// PutSecret 设置挑战口令。
func (m *MemoryStore) PutSecret(_ context.Context, challengeID, secret string) error {
	if challengeID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "challenge id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[challengeID] = secret
	return nil
}

// PutContractMetadata 设置挑战合约元数据。
func (m *MemoryStore) PutContractMetadata(_ context.Context, meta *ContractMetadata) error {
	if meta == nil || meta.ChallengeID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "challenge id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *meta
	m.contracts[meta.ChallengeID] = &clone
	return nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }
