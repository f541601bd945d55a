package attachment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

// DefaultChunkSize is the cleartext size of every chunk but the last
const DefaultChunkSize = 256 * 1024

// ChunkSink receives encrypted chunks
type ChunkSink interface {
	PutChunk(ctx context.Context, attachmentID crypto.UID, index int, chunk EncryptedChunk) error
}

// ChunkSource returns encrypted chunks
type ChunkSource interface {
	GetChunk(ctx context.Context, attachmentID crypto.UID, index int) (EncryptedChunk, error)
}

// Manifest describes an encrypted attachment
type Manifest struct {
	AttachmentID crypto.UID
	Size         int64
	ChunkSize    int
	Key          crypto.AuthEncKey
}

// ChunkCount returns the number of chunks. An empty attachment still has one empty chunk.
// A manifest without a chunk size has none.
func (m *Manifest) ChunkCount() int {
	if m.ChunkSize <= 0 {
		return 0
	}
	if m.Size == 0 {
		return 1
	}
	return int((m.Size + int64(m.ChunkSize) - 1) / int64(m.ChunkSize))
}

// chunkLength returns the cleartext length of chunk index
func (m *Manifest) chunkLength(index int) int {
	remaining := m.Size - int64(index)*int64(m.ChunkSize)
	if remaining < int64(m.ChunkSize) {
		return int(remaining)
	}
	return m.ChunkSize
}

func (m *Manifest) validate(op string) error {
	if m.ChunkSize <= 0 {
		return obverr.Malformedf(op, "%w: chunk size %d", ErrInvalidLength, m.ChunkSize)
	}
	if m.Size < 0 {
		return obverr.Malformedf(op, "%w: size %d", ErrInvalidLength, m.Size)
	}
	return nil
}

// EncryptedSize returns the total ciphertext size of the attachment
func (m *Manifest) EncryptedSize() (int64, error) {
	if err := m.validate("encrypted_size"); err != nil {
		return 0, err
	}
	var total int64
	for i := 0; i < m.ChunkCount(); i++ {
		n, err := EncryptedLength(m.chunkLength(i), m.Key)
		if err != nil {
			return 0, err
		}
		total += int64(n)
	}
	return total, nil
}

// ObvEncode encodes the manifest as [attachmentID, size, chunkSize, key]
func (m *Manifest) ObvEncode() encoding.Encoded {
	return encoding.EncodeList(
		m.AttachmentID.ObvEncode(),
		encoding.EncodeInt(m.Size),
		encoding.EncodeInt(int64(m.ChunkSize)),
		m.Key.ObvEncode(),
	)
}

// DecodeManifest decodes a manifest encoded with ObvEncode
func DecodeManifest(e encoding.Encoded) (*Manifest, error) {
	items, err := e.DecodeListOf(4)
	if err != nil {
		return nil, err
	}
	id, err := crypto.DecodeUID(items[0])
	if err != nil {
		return nil, err
	}
	size, err := items[1].DecodeIntInRange(0, 1<<50)
	if err != nil {
		return nil, err
	}
	chunkSize, err := items[2].DecodeIntInRange(1, 1<<30)
	if err != nil {
		return nil, err
	}
	key, err := crypto.DecodeAuthEncKey(items[3])
	if err != nil {
		return nil, err
	}
	return &Manifest{AttachmentID: id, Size: size, ChunkSize: int(chunkSize), Key: key}, nil
}

// PipelineConfig tunes the file pipeline
type PipelineConfig struct {
	ChunkSize int
	Workers   int
	Logger    *logrus.Logger
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	return c
}

// EncryptFile splits src into chunks, encrypts them under a fresh key and hands them to sink.
// Chunks are processed concurrently.
func EncryptFile(ctx context.Context, src string, sink ChunkSink, services *crypto.Services, cfg PipelineConfig) (*Manifest, error) {
	cfg = cfg.withDefaults()

	info, err := os.Stat(src)
	if err != nil {
		return nil, obverr.IO("encrypt_file", src, err)
	}

	key, err := services.NewAuthEncKey()
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{
		AttachmentID: services.PRNG.GenUID(),
		Size:         info.Size(),
		ChunkSize:    cfg.ChunkSize,
		Key:          key,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for i := 0; i < manifest.ChunkCount(); i++ {
		index := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			offset := int64(index) * int64(manifest.ChunkSize)
			chunk, err := ReadChunk(src, offset, manifest.chunkLength(index), index)
			if err != nil {
				return err
			}
			enc, err := chunk.Encrypt(manifest.Key, services.PRNG)
			if err != nil {
				return err
			}
			return sink.PutChunk(ctx, manifest.AttachmentID, index, enc)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	cfg.Logger.WithFields(logrus.Fields{
		"attachment": manifest.AttachmentID.Short(),
		"size":       manifest.Size,
		"chunks":     manifest.ChunkCount(),
	}).Info("Encrypted attachment")

	return manifest, nil
}

// DecryptFile fetches every chunk of the attachment from source, verifies it and writes
// it to dst at its offset. A chunk that fails authentication or carries another index
// aborts the whole file.
func DecryptFile(ctx context.Context, source ChunkSource, manifest *Manifest, dst string, cfg PipelineConfig) error {
	cfg = cfg.withDefaults()
	if err := manifest.validate("decrypt_file"); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return obverr.IO("decrypt_file", dst, err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return obverr.IO("decrypt_file", dst, err)
	}
	if err := f.Truncate(manifest.Size); err != nil {
		f.Close()
		return obverr.IO("decrypt_file", dst, err)
	}
	if err := f.Close(); err != nil {
		return obverr.IO("decrypt_file", dst, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for i := 0; i < manifest.ChunkCount(); i++ {
		index := i
		g.Go(func() error {
			enc, err := source.GetChunk(ctx, manifest.AttachmentID, index)
			if err != nil {
				return err
			}
			chunk, err := DecryptChunk(enc, manifest.Key)
			if err != nil {
				return err
			}
			if chunk.Index != index || len(chunk.Data) != manifest.chunkLength(index) {
				return obverr.Decryption("decrypt_file", fmt.Errorf("%w: expected %d, got %d", ErrIndexMismatch, index, chunk.Index))
			}
			return chunk.WriteToFile(dst, int64(index)*int64(manifest.ChunkSize))
		})
	}

	if err := g.Wait(); err != nil {
		os.Remove(dst)
		return err
	}

	cfg.Logger.WithFields(logrus.Fields{
		"attachment": manifest.AttachmentID.Short(),
		"path":       dst,
	}).Info("Decrypted attachment")

	return nil
}

// DirStore keeps encrypted chunks as files under a directory, one subdirectory per attachment
type DirStore struct {
	Root string
}

func (d DirStore) chunkPath(attachmentID crypto.UID, index int) string {
	return filepath.Join(d.Root, attachmentID.String(), strconv.Itoa(index)+".chunk")
}

// PutChunk writes the chunk file
func (d DirStore) PutChunk(ctx context.Context, attachmentID crypto.UID, index int, chunk EncryptedChunk) error {
	path := d.chunkPath(attachmentID, index)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return obverr.IO("put_chunk", path, err)
	}
	if err := os.WriteFile(path, chunk, 0644); err != nil {
		return obverr.IO("put_chunk", path, err)
	}
	return nil
}

// GetChunk reads the chunk file
func (d DirStore) GetChunk(ctx context.Context, attachmentID crypto.UID, index int) (EncryptedChunk, error) {
	path := d.chunkPath(attachmentID, index)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, obverr.IO("get_chunk", path, err)
	}
	return EncryptedChunk(data), nil
}
