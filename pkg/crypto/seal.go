package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/ZentaChain/obvengine/pkg/obverr"
)

const sealInfo = "obvengine-seal-v1"

var ErrSealTooShort = errors.New("sealed message too short")

// SealTo encrypts plaintext for recipient: ephemeral X25519 key agreement, HKDF,
// then the given authenticated encryption. Output is ephemeralPublic(32) || ciphertext.
// The plaintext is zero-padded to a cell size first.
func SealTo(recipient CryptoIdentity, algorithm byte, plaintext []byte, prng PRNG) ([]byte, error) {
	ephemeralPrivate := prng.GenBytes(curve25519.ScalarSize)
	ephemeralPublic, err := curve25519.X25519(ephemeralPrivate, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	shared, err := curve25519.X25519(ephemeralPrivate, recipient.EncPublicKey[:])
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	key, err := DeriveAuthEncKey(algorithm, shared, sealSalt(ephemeralPublic, recipient.EncPublicKey[:]), sealInfo)
	if err != nil {
		return nil, err
	}
	alg, err := AuthEncForKey(key)
	if err != nil {
		return nil, err
	}

	ciphertext, err := alg.Encrypt(key, PadToCell(plaintext), prng)
	if err != nil {
		return nil, err
	}
	return append(ephemeralPublic, ciphertext...), nil
}

// Open decrypts a message produced by SealTo. The returned plaintext still
// carries its zero padding.
func (o *OwnedIdentity) Open(algorithm byte, sealed []byte) ([]byte, error) {
	if len(sealed) < curve25519.PointSize {
		return nil, obverr.Decryption("open", ErrSealTooShort)
	}
	ephemeralPublic := sealed[:curve25519.PointSize]

	shared, err := o.sharedSecret(ephemeralPublic)
	if err != nil {
		return nil, obverr.Decryption("open", err)
	}

	key, err := DeriveAuthEncKey(algorithm, shared, sealSalt(ephemeralPublic, o.EncPublicKey[:]), sealInfo)
	if err != nil {
		return nil, err
	}
	alg, err := AuthEncForKey(key)
	if err != nil {
		return nil, err
	}
	return alg.Decrypt(key, sealed[curve25519.PointSize:])
}

func sealSalt(ephemeralPublic, recipientPublic []byte) []byte {
	return HashParts(ephemeralPublic, recipientPublic)
}
