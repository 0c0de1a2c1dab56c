package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Seed 描述启动时导入的初始数据，文件格式为 JSON。
type Seed struct {
	Challenges   []SeedChallenge    `json:"challenges"`
	Participants []Participant      `json:"participants"`
	Contracts    []ContractMetadata `json:"contracts"`
}

// SeedChallenge 在挑战记录之外携带口令。
type SeedChallenge struct {
	Challenge
	Secret string `json:"secret"`
}

// LoadSeed 读取种子文件，路径为空时返回空种子。
func LoadSeed(path string) (*Seed, error) {
	if strings.TrimSpace(path) == "" {
		return &Seed{}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取种子文件失败: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(content, &seed); err != nil {
		return nil, fmt.Errorf("解析种子文件失败: %w", err)
	}
	return &seed, nil
}

// Apply 将种子写入目标存储。
func (s *Seed) Apply(ctx context.Context, target Seeder) error {
	if s == nil {
		return nil
	}
	for i := range s.Challenges {
		item := s.Challenges[i]
		if err := target.PutChallenge(ctx, &item.Challenge); err != nil {
			return fmt.Errorf("写入挑战 %s 失败: %w", item.ID, err)
		}
		if item.Secret != "" {
			if err := target.PutSecret(ctx, item.ID, item.Secret); err != nil {
				return fmt.Errorf("写入挑战 %s 口令失败: %w", item.ID, err)
			}
		}
	}
	for i := range s.Participants {
		if err := target.PutParticipant(ctx, &s.Participants[i]); err != nil {
			return fmt.Errorf("写入玩家 %s 失败: %w", s.Participants[i].ParticipantID, err)
		}
	}
	for i := range s.Contracts {
		if err := target.PutContractMetadata(ctx, &s.Contracts[i]); err != nil {
			return fmt.Errorf("写入合约元数据 %s 失败: %w", s.Contracts[i].ChallengeID, err)
		}
	}
	return nil
}
