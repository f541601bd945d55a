package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

// Authenticated encryption algorithm identifiers
const (
	AuthEncAES256CTRThenHMACSHA256 byte = 0x00
	AuthEncChaCha20Poly1305        byte = 0x01
)

const (
	ctrIVSize  = 8
	hmacSize   = sha256.Size
	aesKeySize = 32
)

var (
	ErrUnknownAlgorithm = errors.New("unknown authenticated encryption algorithm")
	ErrInvalidKeyLength = errors.New("invalid key length")
	ErrAuthentication   = errors.New("authentication failed")
	ErrShortCiphertext  = errors.New("ciphertext too short")
)

// AuthEnc is an authenticated encryption algorithm
type AuthEnc interface {
	AlgorithmID() byte
	KeyLength() int
	// Overhead is the fixed difference between ciphertext and plaintext lengths
	Overhead() int
	Encrypt(key AuthEncKey, plaintext []byte, prng PRNG) ([]byte, error)
	Decrypt(key AuthEncKey, ciphertext []byte) ([]byte, error)
}

// AuthEncKey is a symmetric key tagged with the algorithm it belongs to
type AuthEncKey struct {
	Algorithm byte
	Material  []byte
}

var authEncAlgorithms = map[byte]AuthEnc{
	AuthEncAES256CTRThenHMACSHA256: aesCTRHMAC{},
	AuthEncChaCha20Poly1305:        chachaPoly{},
}

// AuthEncForAlgorithm returns the implementation registered under id
func AuthEncForAlgorithm(id byte) (AuthEnc, error) {
	alg, ok := authEncAlgorithms[id]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownAlgorithm, id)
	}
	return alg, nil
}

// AuthEncForKey returns the implementation matching the key
func AuthEncForKey(key AuthEncKey) (AuthEnc, error) {
	return AuthEncForAlgorithm(key.Algorithm)
}

// GenerateAuthEncKey draws a fresh key for the algorithm
func GenerateAuthEncKey(algorithm byte, prng PRNG) (AuthEncKey, error) {
	alg, err := AuthEncForAlgorithm(algorithm)
	if err != nil {
		return AuthEncKey{}, err
	}
	return AuthEncKey{Algorithm: algorithm, Material: prng.GenBytes(alg.KeyLength())}, nil
}

// ObvEncode encodes the key as a SymmetricKey value: algorithm byte then material
func (k AuthEncKey) ObvEncode() encoding.Encoded {
	payload := make([]byte, 1+len(k.Material))
	payload[0] = k.Algorithm
	copy(payload[1:], k.Material)
	return encoding.EncodeTagged(encoding.ByteIDSymmetricKey, payload)
}

// DecodeAuthEncKey decodes and validates a SymmetricKey value
func DecodeAuthEncKey(e encoding.Encoded) (AuthEncKey, error) {
	payload, err := e.DecodeTagged(encoding.ByteIDSymmetricKey)
	if err != nil {
		return AuthEncKey{}, err
	}
	if len(payload) < 1 {
		return AuthEncKey{}, obverr.Malformed("decode_key", ErrInvalidKeyLength)
	}
	key := AuthEncKey{Algorithm: payload[0], Material: payload[1:]}
	if err := key.validate(); err != nil {
		return AuthEncKey{}, obverr.Malformed("decode_key", err)
	}
	return key, nil
}

func (k AuthEncKey) validate() error {
	alg, err := AuthEncForKey(k)
	if err != nil {
		return err
	}
	if len(k.Material) != alg.KeyLength() {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidKeyLength, alg.KeyLength(), len(k.Material))
	}
	return nil
}

// ===== AES-256-CTR THEN HMAC-SHA-256 =====

// aesCTRHMAC produces iv(8) || AES-256-CTR(plaintext) || HMAC-SHA-256(iv || ciphertext).
// The 64-byte key is the AES key followed by the MAC key.
type aesCTRHMAC struct{}

func (aesCTRHMAC) AlgorithmID() byte { return AuthEncAES256CTRThenHMACSHA256 }
func (aesCTRHMAC) KeyLength() int    { return aesKeySize + hmacSize }
func (aesCTRHMAC) Overhead() int     { return ctrIVSize + hmacSize }

func (a aesCTRHMAC) stream(key AuthEncKey, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key.Material[:aesKeySize])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	// 8-byte IV followed by a zero 64-bit block counter
	fullIV := make([]byte, aes.BlockSize)
	copy(fullIV, iv)
	return cipher.NewCTR(block, fullIV), nil
}

func (a aesCTRHMAC) mac(key AuthEncKey, data []byte) []byte {
	m := hmac.New(sha256.New, key.Material[aesKeySize:])
	m.Write(data)
	return m.Sum(nil)
}

func (a aesCTRHMAC) Encrypt(key AuthEncKey, plaintext []byte, prng PRNG) ([]byte, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}

	out := make([]byte, ctrIVSize+len(plaintext), ctrIVSize+len(plaintext)+hmacSize)
	if _, err := io.ReadFull(prng, out[:ctrIVSize]); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	stream, err := a.stream(key, out[:ctrIVSize])
	if err != nil {
		return nil, err
	}
	stream.XORKeyStream(out[ctrIVSize:], plaintext)

	return append(out, a.mac(key, out)...), nil
}

func (a aesCTRHMAC) Decrypt(key AuthEncKey, ciphertext []byte) ([]byte, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	if len(ciphertext) < a.Overhead() {
		return nil, obverr.Decryption("authenc_decrypt", ErrShortCiphertext)
	}

	body := ciphertext[:len(ciphertext)-hmacSize]
	tag := ciphertext[len(ciphertext)-hmacSize:]
	if !hmac.Equal(tag, a.mac(key, body)) {
		return nil, obverr.Decryption("authenc_decrypt", ErrAuthentication)
	}

	stream, err := a.stream(key, body[:ctrIVSize])
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(body)-ctrIVSize)
	stream.XORKeyStream(plaintext, body[ctrIVSize:])
	return plaintext, nil
}

// ===== CHACHA20-POLY1305 =====

// chachaPoly produces nonce(12) || ChaCha20-Poly1305 sealed box
type chachaPoly struct{}

func (chachaPoly) AlgorithmID() byte { return AuthEncChaCha20Poly1305 }
func (chachaPoly) KeyLength() int    { return chacha20poly1305.KeySize }
func (chachaPoly) Overhead() int     { return chacha20poly1305.NonceSize + chacha20poly1305.Overhead }

func (c chachaPoly) Encrypt(key AuthEncKey, plaintext []byte, prng PRNG) ([]byte, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key.Material)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize, c.Overhead()+len(plaintext))
	if _, err := io.ReadFull(prng, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c chachaPoly) Decrypt(key AuthEncKey, ciphertext []byte) ([]byte, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	if len(ciphertext) < c.Overhead() {
		return nil, obverr.Decryption("authenc_decrypt", ErrShortCiphertext)
	}
	aead, err := chacha20poly1305.New(key.Material)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}

	nonce := ciphertext[:chacha20poly1305.NonceSize]
	plaintext, err := aead.Open(nil, nonce, ciphertext[chacha20poly1305.NonceSize:], nil)
	if err != nil {
		return nil, obverr.Decryption("authenc_decrypt", ErrAuthentication)
	}
	return plaintext, nil
}
