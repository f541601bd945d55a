package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ZentaChain/obvengine/pkg/attachment"
	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

// ChunkStore keeps encrypted attachment chunks in sqlite while they are uploaded
// or downloaded. Each chunk is stored with its BLAKE2b digest, checked on read.
type ChunkStore struct {
	db *Database
}

// NewChunkStore creates a chunk store on db
func NewChunkStore(db *Database) *ChunkStore {
	return &ChunkStore{db: db}
}

// PutChunk stores an encrypted chunk, replacing any previous chunk at the same index
func (s *ChunkStore) PutChunk(ctx context.Context, attachmentID crypto.UID, index int, chunk attachment.EncryptedChunk) error {
	if len(chunk) == 0 {
		return fmt.Errorf("cannot store empty chunk")
	}
	digest, err := crypto.Hash(chunk)
	if err != nil {
		return err
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO attachment_chunks (attachment_id, chunk_index, data, digest, stored_at, size)
		VALUES (?, ?, ?, ?, ?, ?)`,
		attachmentID[:], index, []byte(chunk), digest, time.Now().Unix(), len(chunk))
	if err != nil {
		return obverr.IO("put_chunk", s.db.path, err)
	}
	return nil
}

// GetChunk retrieves an encrypted chunk
func (s *ChunkStore) GetChunk(ctx context.Context, attachmentID crypto.UID, index int) (attachment.EncryptedChunk, error) {
	var data, digest []byte
	err := s.db.db.QueryRowContext(ctx, `
		SELECT data, digest FROM attachment_chunks WHERE attachment_id = ? AND chunk_index = ?`,
		attachmentID[:], index).Scan(&data, &digest)
	if err == sql.ErrNoRows {
		return nil, notFound("get_chunk", fmt.Sprintf("attachment=%s chunk=%d", attachmentID.Short(), index))
	}
	if err != nil {
		return nil, obverr.IO("get_chunk", s.db.path, err)
	}

	ok, err := crypto.VerifyHash(data, digest)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, obverr.IO("get_chunk", s.db.path, fmt.Errorf("stored chunk %d of %s is corrupt", index, attachmentID.Short()))
	}
	return attachment.EncryptedChunk(data), nil
}

// ListChunks returns the stored chunk indices of an attachment
func (s *ChunkStore) ListChunks(ctx context.Context, attachmentID crypto.UID) ([]int, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT chunk_index FROM attachment_chunks WHERE attachment_id = ? ORDER BY chunk_index`, attachmentID[:])
	if err != nil {
		return nil, obverr.IO("list_chunks", s.db.path, err)
	}
	defer rows.Close()

	var indices []int
	for rows.Next() {
		var index int
		if err := rows.Scan(&index); err != nil {
			return nil, obverr.IO("list_chunks", s.db.path, err)
		}
		indices = append(indices, index)
	}
	return indices, rows.Err()
}

// DeleteAttachment deletes every chunk of an attachment
func (s *ChunkStore) DeleteAttachment(ctx context.Context, attachmentID crypto.UID) error {
	_, err := s.db.db.ExecContext(ctx, `DELETE FROM attachment_chunks WHERE attachment_id = ?`, attachmentID[:])
	if err != nil {
		return obverr.IO("delete_attachment", s.db.path, err)
	}
	return nil
}

// ChunkStats summarises the store
type ChunkStats struct {
	TotalChunks      int
	TotalAttachments int
	TotalSize        int64
}

// Stats returns storage statistics
func (s *ChunkStore) Stats(ctx context.Context) (*ChunkStats, error) {
	stats := &ChunkStats{}
	err := s.db.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT attachment_id), COALESCE(SUM(size), 0) FROM attachment_chunks`).
		Scan(&stats.TotalChunks, &stats.TotalAttachments, &stats.TotalSize)
	if err != nil {
		return nil, obverr.IO("chunk_stats", s.db.path, err)
	}
	return stats, nil
}

// Cleanup removes chunks older than maxAge
func (s *ChunkStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	result, err := s.db.db.ExecContext(ctx, `DELETE FROM attachment_chunks WHERE stored_at < ?`, cutoff)
	if err != nil {
		return 0, obverr.IO("cleanup_chunks", s.db.path, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, obverr.IO("cleanup_chunks", s.db.path, err)
	}
	return int(n), nil
}
