package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	// SeedLength is the minimum seed size for a SeededPRNG
	SeedLength = 32

	prngInfo = "obvengine-prng-v1"
)

var ErrShortSeed = errors.New("seed too short")

// PRNG is a cryptographically secure random source
type PRNG interface {
	io.Reader
	GenBytes(n int) []byte
	GenUID() UID
}

// SystemPRNG reads from crypto/rand
type SystemPRNG struct{}

// NewSystemPRNG returns the process random source
func NewSystemPRNG() *SystemPRNG {
	return &SystemPRNG{}
}

func (SystemPRNG) Read(p []byte) (int, error) {
	return rand.Read(p)
}

// GenBytes returns n random bytes. crypto/rand never fails on supported platforms.
func (s SystemPRNG) GenBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return b
}

// GenUID returns a random UID
func (s SystemPRNG) GenUID() UID {
	var uid UID
	copy(uid[:], s.GenBytes(UIDLength))
	return uid
}

// SeededPRNG is a deterministic generator: a ChaCha20 keystream keyed by HKDF(seed).
// Two generators built from the same seed return the same bytes.
type SeededPRNG struct {
	mu     sync.Mutex
	stream *chacha20.Cipher
}

// NewSeededPRNG builds a deterministic generator from seed
func NewSeededPRNG(seed []byte) (*SeededPRNG, error) {
	if len(seed) < SeedLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortSeed, len(seed))
	}

	material := make([]byte, chacha20.KeySize+chacha20.NonceSize)
	kdf := hkdf.New(sha256.New, seed, nil, []byte(prngInfo))
	if _, err := io.ReadFull(kdf, material); err != nil {
		return nil, fmt.Errorf("failed to expand seed: %w", err)
	}

	stream, err := chacha20.NewUnauthenticatedCipher(material[:chacha20.KeySize], material[chacha20.KeySize:])
	if err != nil {
		return nil, fmt.Errorf("failed to create keystream: %w", err)
	}

	return &SeededPRNG{stream: stream}, nil
}

func (s *SeededPRNG) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range p {
		p[i] = 0
	}
	s.stream.XORKeyStream(p, p)
	return len(p), nil
}

// GenBytes returns the next n bytes of the keystream
func (s *SeededPRNG) GenBytes(n int) []byte {
	b := make([]byte, n)
	s.Read(b)
	return b
}

// GenUID returns the next UID of the keystream
func (s *SeededPRNG) GenUID() UID {
	var uid UID
	s.Read(uid[:])
	return uid
}
