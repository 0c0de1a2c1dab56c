package sqlstore

import (
	stdErrors "errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect 保存两种数据库语法不一致的语句。
type dialect struct {
	upsertChallenge   string
	upsertParticipant string
	upsertSecret      string
	upsertContract    string
}

var mysqlDialect = dialect{
	upsertChallenge: `INSERT INTO challenges (id, level, participant_count, message_count, status, vault_balance, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE level = VALUES(level), participant_count = VALUES(participant_count),
message_count = VALUES(message_count), status = VALUES(status), vault_balance = VALUES(vault_balance), updated_at = VALUES(updated_at)`,
	upsertParticipant: `INSERT INTO participants (challenge_id, participant_id, balance) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE balance = VALUES(balance)`,
	upsertSecret: `INSERT INTO vault_secrets (challenge_id, secret) VALUES (?, ?)
ON DUPLICATE KEY UPDATE secret = VALUES(secret)`,
	upsertContract: `INSERT INTO contracts (challenge_id, address, abi) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE address = VALUES(address), abi = VALUES(abi)`,
}

var sqliteDialect = dialect{
	upsertChallenge: `INSERT INTO challenges (id, level, participant_count, message_count, status, vault_balance, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET level = excluded.level, participant_count = excluded.participant_count,
message_count = excluded.message_count, status = excluded.status, vault_balance = excluded.vault_balance, updated_at = excluded.updated_at`,
	upsertParticipant: `INSERT INTO participants (challenge_id, participant_id, balance) VALUES (?, ?, ?)
ON CONFLICT(challenge_id, participant_id) DO UPDATE SET balance = excluded.balance`,
	upsertSecret: `INSERT INTO vault_secrets (challenge_id, secret) VALUES (?, ?)
ON CONFLICT(challenge_id) DO UPDATE SET secret = excluded.secret`,
	upsertContract: `INSERT INTO contracts (challenge_id, address, abi) VALUES (?, ?, ?)
ON CONFLICT(challenge_id) DO UPDATE SET address = excluded.address, abi = excluded.abi`,
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverMySQL:
		return mysqlDialect, nil
	case DriverSQLite:
		return sqliteDialect, nil
	default:
		return dialect{}, fmt.Errorf("暂不支持的存储驱动: %s", driver)
	}
}

// isDuplicateKey 判断错误是否来自主键或唯一索引冲突。
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if stdErrors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr *sqlite.Error
	if stdErrors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
