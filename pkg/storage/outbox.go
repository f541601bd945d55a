package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

// OutboxEntry is an envelope waiting for delivery by the transport
type OutboxEntry struct {
	ID            uuid.UUID
	OwnedIdentity crypto.CryptoIdentity
	ChannelKind   int
	Channel       []byte // encoded send channel
	Payload       []byte // encoded protocol message
	CreatedAt     time.Time
	SentAt        *time.Time
	Attempts      int
}

// Outbox stores outbound envelopes. Posting happens inside the step's unit of work
// so an envelope exists if and only if the step committed.
type Outbox struct {
	db     *Database
	ttl    time.Duration
	logger *logrus.Logger
}

// NewOutbox creates an outbox
// ttl: how long sent entries are kept before Cleanup removes them (default: 7 days)
func NewOutbox(db *Database, ttl time.Duration) *Outbox {
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Outbox{db: db, ttl: ttl, logger: db.logger}
}

// Post queues an entry and returns its delivery handle
func (o *Outbox) Post(oc *ObvContext, entry *OutboxEntry) (uuid.UUID, error) {
	id := uuid.New()
	_, err := oc.exec(`
		INSERT INTO outbox (id, owned_identity, channel_kind, channel, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), entry.OwnedIdentity.Bytes(), entry.ChannelKind, entry.Channel, entry.Payload, time.Now().Unix())
	if err != nil {
		return uuid.Nil, obverr.IO("outbox_post", "", err)
	}

	oc.AddCommitHook(func() {
		o.logger.WithFields(logrus.Fields{
			"handle":  id.String(),
			"channel": entry.ChannelKind,
			"bytes":   len(entry.Payload),
		}).Debug("Queued outbound message")
	})
	return id, nil
}

// Pending returns unsent entries, oldest first. kind < 0 selects every channel kind.
func (o *Outbox) Pending(ctx context.Context, kind int, limit int) ([]*OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := o.db.db.QueryContext(ctx, `
		SELECT id, owned_identity, channel_kind, channel, payload, created_at, attempts
		FROM outbox
		WHERE sent_at IS NULL AND (? < 0 OR channel_kind = ?)
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, obverr.IO("outbox_pending", "", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		var (
			id        string
			owned     []byte
			createdAt int64
			entry     = &OutboxEntry{}
		)
		if err := rows.Scan(&id, &owned, &entry.ChannelKind, &entry.Channel, &entry.Payload, &createdAt, &entry.Attempts); err != nil {
			return nil, obverr.IO("outbox_pending", "", err)
		}
		if entry.ID, err = uuid.Parse(id); err != nil {
			return nil, obverr.Malformed("outbox_pending", err)
		}
		if entry.OwnedIdentity, err = crypto.IdentityFromBytes(owned); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkSent records a successful delivery
func (o *Outbox) MarkSent(ctx context.Context, id uuid.UUID) error {
	result, err := o.db.db.ExecContext(ctx, `UPDATE outbox SET sent_at = ? WHERE id = ? AND sent_at IS NULL`,
		time.Now().Unix(), id.String())
	if err != nil {
		return obverr.IO("outbox_mark_sent", "", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound("outbox_mark_sent", id.String())
	}
	return nil
}

// IncrementAttempts increments the delivery attempt counter
func (o *Outbox) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	_, err := o.db.db.ExecContext(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = ?`, id.String())
	if err != nil {
		return obverr.IO("outbox_attempt", "", err)
	}
	return nil
}

// Get returns one entry by handle
func (o *Outbox) Get(ctx context.Context, id uuid.UUID) (*OutboxEntry, error) {
	var (
		owned     []byte
		createdAt int64
		sentAt    sql.NullInt64
		entry     = &OutboxEntry{ID: id}
	)
	err := o.db.db.QueryRowContext(ctx, `
		SELECT owned_identity, channel_kind, channel, payload, created_at, sent_at, attempts
		FROM outbox WHERE id = ?`, id.String()).
		Scan(&owned, &entry.ChannelKind, &entry.Channel, &entry.Payload, &createdAt, &sentAt, &entry.Attempts)
	if err == sql.ErrNoRows {
		return nil, notFound("outbox_get", id.String())
	}
	if err != nil {
		return nil, obverr.IO("outbox_get", "", err)
	}

	if entry.OwnedIdentity, err = crypto.IdentityFromBytes(owned); err != nil {
		return nil, err
	}
	entry.CreatedAt = time.Unix(createdAt, 0)
	if sentAt.Valid {
		t := time.Unix(sentAt.Int64, 0)
		entry.SentAt = &t
	}
	return entry, nil
}

// Cleanup removes sent entries older than the outbox ttl
func (o *Outbox) Cleanup(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-o.ttl).Unix()
	result, err := o.db.db.ExecContext(ctx, `DELETE FROM outbox WHERE sent_at IS NOT NULL AND sent_at <= ?`, cutoff)
	if err != nil {
		return 0, obverr.IO("outbox_cleanup", "", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		o.logger.WithField("count", n).Info("Removed delivered outbox entries")
	}
	return int(n), nil
}
