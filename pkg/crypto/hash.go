package crypto

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash generates a BLAKE2b-256 hash
func Hash(data []byte) ([]byte, error) {
	hash, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}

	hash.Write(data)
	return hash.Sum(nil), nil
}

// HashString generates a BLAKE2b hash and returns hex string
func HashString(data []byte) (string, error) {
	hash, err := Hash(data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hash), nil
}

// HashParts hashes several byte strings, each prefixed by its length so that
// ("ab", "c") and ("a", "bc") differ
func HashParts(parts ...[]byte) []byte {
	hash, _ := blake2b.New256(nil)
	var prefix [4]byte
	for _, part := range parts {
		n := len(part)
		prefix[0], prefix[1], prefix[2], prefix[3] = byte(n>>24), byte(n>>16), byte(n>>8), byte(n)
		hash.Write(prefix[:])
		hash.Write(part)
	}
	return hash.Sum(nil)
}

// VerifyHash verifies a hash matches the data in constant time
func VerifyHash(data []byte, expectedHash []byte) (bool, error) {
	actualHash, err := Hash(data)
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare(actualHash, expectedHash) == 1, nil
}
