package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

// InstanceRecord is the persisted state of one protocol instance. The state id is
// stored next to the encoded state, not inside it.
type InstanceRecord struct {
	OwnedIdentity crypto.CryptoIdentity
	ProtocolID    int
	InstanceUID   crypto.UID
	StateID       int
	State         encoding.Encoded
	Version       int64
	UpdatedAt     time.Time
}

// ProtocolInstanceStore persists protocol instance states with an optimistic
// version column
type ProtocolInstanceStore struct{}

// NewProtocolInstanceStore returns a protocol instance store
func NewProtocolInstanceStore() *ProtocolInstanceStore {
	return &ProtocolInstanceStore{}
}

// Load returns the current record of an instance, or a not found error
func (s *ProtocolInstanceStore) Load(oc *ObvContext, owned crypto.CryptoIdentity, protocolID int, uid crypto.UID) (*InstanceRecord, error) {
	var (
		stateID   int
		raw       []byte
		version   int64
		updatedAt int64
	)
	err := oc.queryRow(`
		SELECT state_id, state, version, updated_at FROM protocol_instances
		WHERE owned_identity = ? AND protocol_id = ? AND instance_uid = ?`,
		owned.Bytes(), protocolID, uid[:]).Scan(&stateID, &raw, &version, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("load_instance", uid.String())
	}
	if err != nil {
		return nil, obverr.IO("load_instance", "", err)
	}

	state, err := decodeStored(raw)
	if err != nil {
		return nil, err
	}
	return &InstanceRecord{
		OwnedIdentity: owned,
		ProtocolID:    protocolID,
		InstanceUID:   uid,
		StateID:       stateID,
		State:         state,
		Version:       version,
		UpdatedAt:     time.Unix(updatedAt, 0),
	}, nil
}

// Save writes a new state. expectedVersion is the version returned by Load, or 0 for
// an instance that does not exist yet. A mismatch is a conflict error.
func (s *ProtocolInstanceStore) Save(oc *ObvContext, owned crypto.CryptoIdentity, protocolID int, uid crypto.UID, stateID int, state encoding.Encoded, expectedVersion int64) (int64, error) {
	now := time.Now().Unix()
	newVersion := expectedVersion + 1

	var (
		result sql.Result
		err    error
	)
	if expectedVersion == 0 {
		result, err = oc.exec(`
			INSERT INTO protocol_instances (owned_identity, protocol_id, instance_uid, state_id, state, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(owned_identity, protocol_id, instance_uid) DO NOTHING`,
			owned.Bytes(), protocolID, uid[:], stateID, state.Raw(), newVersion, now)
	} else {
		result, err = oc.exec(`
			UPDATE protocol_instances SET state_id = ?, state = ?, version = ?, updated_at = ?
			WHERE owned_identity = ? AND protocol_id = ? AND instance_uid = ? AND version = ?`,
			stateID, state.Raw(), newVersion, now, owned.Bytes(), protocolID, uid[:], expectedVersion)
	}
	if err != nil {
		return 0, obverr.IO("save_instance", "", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, obverr.IO("save_instance", "", err)
	}
	if rows == 0 {
		return 0, obverr.New(obverr.KindConflict, "save_instance",
			fmt.Errorf("%w: instance %s expected version %d", ErrConcurrentModification, uid.Short(), expectedVersion))
	}
	return newVersion, nil
}

// Delete removes an instance
func (s *ProtocolInstanceStore) Delete(oc *ObvContext, owned crypto.CryptoIdentity, protocolID int, uid crypto.UID) error {
	_, err := oc.exec(`DELETE FROM protocol_instances WHERE owned_identity = ? AND protocol_id = ? AND instance_uid = ?`,
		owned.Bytes(), protocolID, uid[:])
	if err != nil {
		return obverr.IO("delete_instance", "", err)
	}
	return nil
}

// CountByState returns how many instances of protocolID sit in each state
func (s *ProtocolInstanceStore) CountByState(oc *ObvContext, protocolID int) (map[int]int, error) {
	rows, err := oc.query(`SELECT state_id, COUNT(*) FROM protocol_instances WHERE protocol_id = ? GROUP BY state_id`, protocolID)
	if err != nil {
		return nil, obverr.IO("count_instances", "", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var stateID, n int
		if err := rows.Scan(&stateID, &n); err != nil {
			return nil, obverr.IO("count_instances", "", err)
		}
		counts[stateID] = n
	}
	return counts, rows.Err()
}

func decodeStored(raw []byte) (encoding.Encoded, error) {
	e, err := encoding.Decode(raw)
	if err != nil {
		return encoding.Encoded{}, fmt.Errorf("corrupt stored value: %w", err)
	}
	return e, nil
}
