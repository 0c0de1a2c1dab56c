package sqlstore

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"time"

	"VaultGuard/internal/challenge"
	xerrors "VaultGuard/internal/errors"
)

// Store 是 challenge.Store 的 SQL 实现。
type Store struct {
	db      *sql.DB
	driver  string
	dialect dialect
	now     func() time.Time
}

var _ challenge.Store = (*Store)(nil)

// Open 连接数据库并执行迁移。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "open database")
	}
	store := &Store{db: db, driver: cfg.Driver, dialect: d, now: time.Now}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "run migrations")
	}
	return store, nil
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetChallenge 实现 challenge.ChallengeStore。
func (s *Store) GetChallenge(ctx context.Context, id string) (*challenge.Challenge, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, level, participant_count, message_count, status, vault_balance, created_at, updated_at
FROM challenges WHERE id = ?`, id)
	c, err := scanChallenge(row)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, challenge.ErrChallengeNotFound
	}
	if err != nil {
		return nil, storageError(err, "load challenge")
	}
	return c, nil
}

// IncrementParticipantCount 实现 challenge.ChallengeStore。
func (s *Store) IncrementParticipantCount(ctx context.Context, id string) error {
	return s.execChallenge(ctx, `UPDATE challenges SET participant_count = participant_count + 1, updated_at = ? WHERE id = ?`,
		"increment participant count", s.now().Unix(), id)
}

// IncrementMessageCount 实现 challenge.ChallengeStore。
func (s *Store) IncrementMessageCount(ctx context.Context, id string) error {
	return s.execChallenge(ctx, `UPDATE challenges SET message_count = message_count + 1, updated_at = ? WHERE id = ?`,
		"increment message count", s.now().Unix(), id)
}

// UpdateStatus 实现 challenge.ChallengeStore，vaultBalance 为空时保留原快照。
func (s *Store) UpdateStatus(ctx context.Context, id string, status challenge.Status, vaultBalance string) error {
	if !challenge.IsValidStatus(status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "unsupported challenge status")
	}
	if vaultBalance == "" {
		return s.execChallenge(ctx, `UPDATE challenges SET status = ?, updated_at = ? WHERE id = ?`,
			"update challenge status", string(status), s.now().Unix(), id)
	}
	return s.execChallenge(ctx, `UPDATE challenges SET status = ?, vault_balance = ?, updated_at = ? WHERE id = ?`,
		"update challenge status", string(status), vaultBalance, s.now().Unix(), id)
}

func (s *Store) execChallenge(ctx context.Context, query, op string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageError(err, op)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError(err, op)
	}
	if affected == 0 {
		return challenge.ErrChallengeNotFound
	}
	return nil
}

// ListByStatus 实现 challenge.ChallengeStore。
func (s *Store) ListByStatus(ctx context.Context, status challenge.Status) ([]*challenge.Challenge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, level, participant_count, message_count, status, vault_balance, created_at, updated_at
FROM challenges WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, storageError(err, "list challenges")
	}
	defer rows.Close()

	var result []*challenge.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, storageError(err, "scan challenge")
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "list challenges")
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (*challenge.Challenge, error) {
	var (
		c     challenge.Challenge
		level string
		state string
	)
	if err := row.Scan(&c.ID, &level, &c.ParticipantCount, &c.MessageCount, &state, &c.VaultBalance, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Level = challenge.Level(level)
	c.Status = challenge.Status(state)
	return &c, nil
}

// GetBalance 实现 challenge.ParticipantStore。
func (s *Store) GetBalance(ctx context.Context, challengeID, participantID string) (int64, error) {
	return readBalance(ctx, s.db, challengeID, participantID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readBalance(ctx context.Context, q queryer, challengeID, participantID string) (int64, error) {
	var balance sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT balance FROM participants WHERE challenge_id = ? AND participant_id = ?`,
		challengeID, participantID).Scan(&balance)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return 0, challenge.ErrParticipantNotFound
	}
	if err != nil {
		return 0, storageError(err, "load balance")
	}
	if !balance.Valid {
		return 0, challenge.ErrBalanceMissing
	}
	return balance.Int64, nil
}

// AddBalance 在同一事务内更新并读取额度，返回更新后的值。
func (s *Store) AddBalance(ctx context.Context, challengeID, participantID string, delta int64) (int64, error) {
	if delta == 0 {
		return s.GetBalance(ctx, challengeID, participantID)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageError(err, "begin balance update")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE participants SET balance = balance + ?
WHERE challenge_id = ? AND participant_id = ? AND balance IS NOT NULL`, delta, challengeID, participantID)
	if err != nil {
		return 0, storageError(err, "update balance")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storageError(err, "update balance")
	}

	balance, err := readBalance(ctx, tx, challengeID, participantID)
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, xerrors.New(xerrors.CodeConflict, "balance was not updated")
	}
	if err := tx.Commit(); err != nil {
		return 0, storageError(err, "commit balance update")
	}
	return balance, nil
}

// GetSecret 实现 challenge.SecretStore，未配置时返回空字符串。
func (s *Store) GetSecret(ctx context.Context, challengeID string) (string, error) {
	var secret string
	err := s.db.QueryRowContext(ctx, `SELECT secret FROM vault_secrets WHERE challenge_id = ?`, challengeID).Scan(&secret)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storageError(err, "load secret")
	}
	return secret, nil
}

// GetContractMetadata 实现 challenge.ContractStore。
func (s *Store) GetContractMetadata(ctx context.Context, challengeID string) (*challenge.ContractMetadata, error) {
	meta := challenge.ContractMetadata{ChallengeID: challengeID}
	err := s.db.QueryRowContext(ctx, `SELECT address, abi FROM contracts WHERE challenge_id = ?`, challengeID).
		Scan(&meta.Address, &meta.ABI)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, challenge.ErrContractNotFound
	}
	if err != nil {
		return nil, storageError(err, "load contract metadata")
	}
	return &meta, nil
}

// PutChallenge 实现 challenge.Seeder。
func (s *Store) PutChallenge(ctx context.Context, c *challenge.Challenge) error {
	if c == nil || c.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "challenge id is required")
	}
	now := s.now().Unix()
	created := c.CreatedAt
	if created == 0 {
		created = now
	}
	status := c.Status
	if status == "" {
		status = challenge.StatusActive
	}
	_, err := s.db.ExecContext(ctx, s.dialect.upsertChallenge,
		c.ID, string(c.Level), c.ParticipantCount, c.MessageCount, string(status), c.VaultBalance, created, now)
	return storageError(err, "put challenge")
}

// PutParticipant 实现 challenge.Seeder。
func (s *Store) PutParticipant(ctx context.Context, p *challenge.Participant) error {
	if p == nil || p.ChallengeID == "" || p.ParticipantID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "participant key is required")
	}
	var balance sql.NullInt64
	if p.Balance != nil {
		balance = sql.NullInt64{Int64: *p.Balance, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.dialect.upsertParticipant, p.ChallengeID, p.ParticipantID, balance)
	return storageError(err, "put participant")
}

// PutSecret 实现 challenge.Seeder。
func (s *Store) PutSecret(ctx context.Context, challengeID, secret string) error {
	if challengeID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "challenge id is required")
	}
	_, err := s.db.ExecContext(ctx, s.dialect.upsertSecret, challengeID, secret)
	return storageError(err, "put secret")
}

// PutContractMetadata 实现 challenge.Seeder。
func (s *Store) PutContractMetadata(ctx context.Context, meta *challenge.ContractMetadata) error {
	if meta == nil || meta.ChallengeID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "challenge id is required")
	}
	_, err := s.db.ExecContext(ctx, s.dialect.upsertContract, meta.ChallengeID, meta.Address, meta.ABI)
	return storageError(err, "put contract metadata")
}

func storageError(err error, op string) error {
	if err == nil {
		return nil
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("%s failed", op))
}
