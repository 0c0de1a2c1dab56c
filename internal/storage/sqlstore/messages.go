package sqlstore

import (
	"context"

	"VaultGuard/internal/challenge"
	xerrors "VaultGuard/internal/errors"
)

// InsertMessage 实现 challenge.MessageStore。
func (s *Store) InsertMessage(ctx context.Context, msg *challenge.Message) error {
	if msg == nil || msg.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "message id is required")
	}
	created := msg.CreatedAt
	if created == 0 {
		created = s.now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, conversation_id, challenge_id, participant_id, role, content, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`, msg.ID, msg.ConversationID, msg.ChallengeID, msg.ParticipantID, string(msg.Role), msg.Content, created)
	if err != nil {
		if isDuplicateKey(err) {
			return xerrors.Wrap(xerrors.CodeConflict, err, "message already exists")
		}
		return storageError(err, "insert message")
	}
	return nil
}

// ListByConversation 实现 challenge.MessageStore，limit<=0 表示不限制。
func (s *Store) ListByConversation(ctx context.Context, conversationID string, limit int, order challenge.SortOrder) ([]*challenge.Message, error) {
	query := `SELECT id, conversation_id, challenge_id, participant_id, role, content, created_at
FROM messages WHERE conversation_id = ?`
	if order == challenge.Descending {
		query += ` ORDER BY created_at DESC, id DESC`
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError(err, "list messages")
	}
	defer rows.Close()

	var result []*challenge.Message
	for rows.Next() {
		var (
			msg  challenge.Message
			role string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.ChallengeID, &msg.ParticipantID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, storageError(err, "scan message")
		}
		msg.Role = challenge.Role(role)
		result = append(result, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "list messages")
	}
	return result, nil
}
