// Package attachment moves large blobs as sequences of independently
// authenticated chunks
package attachment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

// CodecOverhead is the encoding overhead of a chunk: list header, int value, bytes header
const CodecOverhead = encoding.HeaderLength + (encoding.HeaderLength + encoding.IntPayloadLength) + encoding.HeaderLength

var (
	ErrTruncated     = errors.New("source shorter than requested")
	ErrShortWrite    = errors.New("partial write")
	ErrInvalidLength = errors.New("invalid length")
	ErrIndexMismatch = errors.New("chunk index mismatch")
	ErrNotAChunk     = errors.New("plaintext is not a chunk")
)

// Chunk is a slice of a cleartext blob and its position
type Chunk struct {
	Index int
	Data  []byte
}

// EncryptedChunk is an authenticated ciphertext of an encoded chunk
type EncryptedChunk []byte

// ReadChunk reads length bytes at offset from the file at path
func ReadChunk(path string, offset int64, length int, index int) (*Chunk, error) {
	if length < 0 || offset < 0 {
		return nil, obverr.IO("read_chunk", path, ErrInvalidLength)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, obverr.IO("read_chunk", path, err)
	}
	defer f.Close()

	data := make([]byte, length)
	n, err := f.ReadAt(data, offset)
	if n < length {
		if err == nil || errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: read %d of %d bytes at offset %d", ErrTruncated, n, length, offset)
		}
		return nil, obverr.IO("read_chunk", path, err)
	}

	return &Chunk{Index: index, Data: data}, nil
}

// WriteToFile writes the chunk data at offset, creating the file and its parent directory
func (c *Chunk) WriteToFile(path string, offset int64) error {
	if offset < 0 {
		return obverr.IO("write_chunk", path, ErrInvalidLength)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return obverr.IO("write_chunk", path, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return obverr.IO("write_chunk", path, err)
	}

	n, err := f.WriteAt(c.Data, offset)
	if err == nil && n < len(c.Data) {
		err = fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(c.Data))
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return obverr.IO("write_chunk", path, err)
	}
	return nil
}

// ObvEncode encodes the chunk as [index, data]
func (c *Chunk) ObvEncode() encoding.Encoded {
	return encoding.EncodeList(
		encoding.EncodeInt(int64(c.Index)),
		encoding.EncodeBytes(c.Data),
	)
}

// DecodeChunk decodes a chunk encoded with ObvEncode
func DecodeChunk(e encoding.Encoded) (*Chunk, error) {
	items, err := e.DecodeListOf(2)
	if err != nil {
		return nil, err
	}
	index, err := items[0].DecodeNonNegativeInt()
	if err != nil {
		return nil, err
	}
	data, err := items[1].DecodeBytes()
	if err != nil {
		return nil, err
	}
	return &Chunk{Index: index, Data: data}, nil
}

// Encrypt encodes the chunk then encrypts it under key with a fresh IV from prng
func (c *Chunk) Encrypt(key crypto.AuthEncKey, prng crypto.PRNG) (EncryptedChunk, error) {
	alg, err := crypto.AuthEncForKey(key)
	if err != nil {
		return nil, err
	}
	ciphertext, err := alg.Encrypt(key, c.ObvEncode().Raw(), prng)
	if err != nil {
		return nil, err
	}
	return EncryptedChunk(ciphertext), nil
}

// DecryptChunk authenticates and decrypts an encrypted chunk
func DecryptChunk(enc EncryptedChunk, key crypto.AuthEncKey) (*Chunk, error) {
	alg, err := crypto.AuthEncForKey(key)
	if err != nil {
		return nil, obverr.Decryption("decrypt_chunk", err)
	}
	plaintext, err := alg.Decrypt(key, enc)
	if err != nil {
		if obverr.KindOf(err) == obverr.KindUnknown {
			err = obverr.Decryption("decrypt_chunk", err)
		}
		return nil, err
	}

	encoded, err := encoding.Decode(plaintext)
	if err != nil {
		return nil, obverr.Decryption("decrypt_chunk", fmt.Errorf("%w: %v", ErrNotAChunk, err))
	}
	chunk, err := DecodeChunk(encoded)
	if err != nil {
		return nil, obverr.Decryption("decrypt_chunk", fmt.Errorf("%w: %v", ErrNotAChunk, err))
	}
	return chunk, nil
}

// EncryptedLength returns the ciphertext size of a chunk carrying cleartextLength bytes
func EncryptedLength(cleartextLength int, key crypto.AuthEncKey) (int, error) {
	if cleartextLength < 0 {
		return 0, ErrInvalidLength
	}
	alg, err := crypto.AuthEncForKey(key)
	if err != nil {
		return 0, err
	}
	return cleartextLength + CodecOverhead + alg.Overhead(), nil
}

// CleartextLength returns the number of data bytes in an encrypted chunk of encryptedLength bytes
func CleartextLength(encryptedLength int, key crypto.AuthEncKey) (int, error) {
	alg, err := crypto.AuthEncForKey(key)
	if err != nil {
		return 0, err
	}
	n := encryptedLength - CodecOverhead - alg.Overhead()
	if n < 0 {
		return 0, fmt.Errorf("%w: %d bytes cannot hold a chunk", ErrInvalidLength, encryptedLength)
	}
	return n, nil
}
