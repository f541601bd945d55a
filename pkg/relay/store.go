package relay

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"time"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/obverr"
	"github.com/ZentaChain/obvengine/pkg/storage"
)

// Migrations is the schema of the relay database
var Migrations = []storage.Migration{
	{
		Version:     1,
		Description: "User data and sessions",
		Up:          relayMigration1Up,
	},
}

func relayMigration1Up(tx *sql.Tx) error {
	schema := `
		CREATE TABLE IF NOT EXISTS user_data (
			identity BLOB NOT NULL,
			label BLOB NOT NULL,
			data BLOB,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (identity, label)
		);

		CREATE INDEX IF NOT EXISTS idx_user_data_updated ON user_data(updated_at);

		CREATE TABLE IF NOT EXISTS sessions (
			identity BLOB PRIMARY KEY,
			token BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);
	`
	if _, err := tx.Exec(schema); err != nil {
		return fmt.Errorf("failed to create relay schema: %w", err)
	}
	return nil
}

// userDataStore keeps the user data uploaded to the relay
type userDataStore struct {
	db *storage.Database
}

func (s *userDataStore) openSession(ctx context.Context, identity crypto.CryptoIdentity, token []byte) error {
	_, err := s.db.SQL().ExecContext(ctx, `
		INSERT INTO sessions (identity, token, created_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET token = excluded.token, created_at = excluded.created_at`,
		identity.Bytes(), token, time.Now().Unix())
	if err != nil {
		return obverr.IO("open_session", s.db.Path(), err)
	}
	return nil
}

func (s *userDataStore) validSession(ctx context.Context, identity crypto.CryptoIdentity, token []byte) (bool, error) {
	var stored []byte
	err := s.db.SQL().QueryRowContext(ctx, `SELECT token FROM sessions WHERE identity = ?`, identity.Bytes()).Scan(&stored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, obverr.IO("check_session", s.db.Path(), err)
	}
	return len(token) > 0 && subtle.ConstantTimeCompare(stored, token) == 1, nil
}

func (s *userDataStore) put(ctx context.Context, identity crypto.CryptoIdentity, label crypto.UID, data []byte) error {
	_, err := s.db.SQL().ExecContext(ctx, `
		INSERT INTO user_data (identity, label, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(identity, label) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		identity.Bytes(), label[:], data, time.Now().Unix())
	if err != nil {
		return obverr.IO("put_user_data", s.db.Path(), err)
	}
	return nil
}

// get returns the data under label and whether there is any
func (s *userDataStore) get(ctx context.Context, identity crypto.CryptoIdentity, label crypto.UID) ([]byte, bool, error) {
	var data []byte
	err := s.db.SQL().QueryRowContext(ctx, `SELECT data FROM user_data WHERE identity = ? AND label = ?`,
		identity.Bytes(), label[:]).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, obverr.IO("get_user_data", s.db.Path(), err)
	}
	return data, true, nil
}

// refresh bumps the timestamp of the data under label and reports whether it exists
func (s *userDataStore) refresh(ctx context.Context, identity crypto.CryptoIdentity, label crypto.UID) (bool, error) {
	result, err := s.db.SQL().ExecContext(ctx, `UPDATE user_data SET updated_at = ? WHERE identity = ? AND label = ?`,
		time.Now().Unix(), identity.Bytes(), label[:])
	if err != nil {
		return false, obverr.IO("refresh_user_data", s.db.Path(), err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, obverr.IO("refresh_user_data", s.db.Path(), err)
	}
	return n > 0, nil
}

func (s *userDataStore) delete(ctx context.Context, identity crypto.CryptoIdentity, label crypto.UID) error {
	_, err := s.db.SQL().ExecContext(ctx, `DELETE FROM user_data WHERE identity = ? AND label = ?`, identity.Bytes(), label[:])
	if err != nil {
		return obverr.IO("delete_user_data", s.db.Path(), err)
	}
	return nil
}

// expire deletes user data not refreshed within ttl
func (s *userDataStore) expire(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl).Unix()
	result, err := s.db.SQL().ExecContext(ctx, `DELETE FROM user_data WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, obverr.IO("expire_user_data", s.db.Path(), err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
