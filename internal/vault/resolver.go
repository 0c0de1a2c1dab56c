package vault

import (
	"context"
	stdErrors "errors"

	"VaultGuard/internal/challenge"
	xerrors "VaultGuard/internal/errors"
)

// Resolver 读取挑战口令与挑战元信息。
type Resolver struct {
	secrets    challenge.SecretStore
	challenges challenge.ChallengeStore
}

// NewResolver 创建 Resolver。
func NewResolver(secrets challenge.SecretStore, challenges challenge.ChallengeStore) *Resolver {
	return &Resolver{secrets: secrets, challenges: challenges}
}

// GetSecret 返回挑战口令，未配置时返回空字符串，由调用方决定如何处理。
func (r *Resolver) GetSecret(ctx context.Context, challengeID string) (string, error) {
	secret, err := r.secrets.GetSecret(ctx, challengeID)
	if err != nil {
		return "", storageFault(err, "load vault secret")
	}
	return secret, nil
}

// GetChallengeInfo 返回挑战记录，不存在时返回 challenge.ErrChallengeNotFound。
func (r *Resolver) GetChallengeInfo(ctx context.Context, challengeID string) (*challenge.Challenge, error) {
	c, err := r.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		if stdErrors.Is(err, challenge.ErrChallengeNotFound) {
			return nil, err
		}
		return nil, storageFault(err, "load challenge")
	}
	if c == nil {
		return nil, challenge.ErrChallengeNotFound
	}
	return c, nil
}

func storageFault(err error, msg string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, msg)
}
