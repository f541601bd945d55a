package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveAuthEncKey expands secret into a key for algorithm with HKDF-SHA-256
func DeriveAuthEncKey(algorithm byte, secret, salt []byte, info string) (AuthEncKey, error) {
	alg, err := AuthEncForAlgorithm(algorithm)
	if err != nil {
		return AuthEncKey{}, err
	}

	material := make([]byte, alg.KeyLength())
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), material); err != nil {
		return AuthEncKey{}, fmt.Errorf("failed to derive key: %w", err)
	}
	return AuthEncKey{Algorithm: algorithm, Material: material}, nil
}
