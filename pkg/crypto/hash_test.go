package crypto

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

func TestHashVectors(t *testing.T) {
	tests := []struct {
		input string
		want  string // BLAKE2b-256
	}{
		{"", "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8"},
		{"hello world", "256c83b297114d201b30179f3f0ef0cace9783622da5974326b436178aeef610"},
	}

	for _, tt := range tests {
		hash, err := Hash([]byte(tt.input))
		if err != nil {
			t.Fatalf("Hash(%q) error = %v", tt.input, err)
		}
		if got := hex.EncodeToString(hash); got != tt.want {
			t.Errorf("Hash(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestFingerprint(t *testing.T) {
	alice := testOwnedIdentity(t, 1).Identity()
	bob := testOwnedIdentity(t, 2).Identity()

	full, err := HashString(alice.Bytes())
	if err != nil {
		t.Fatalf("HashString() error = %v", err)
	}
	if fp := alice.Fingerprint(); len(fp) != 16 || !strings.HasPrefix(full, fp) {
		t.Errorf("Fingerprint() = %q, want the first 16 hex digits of %s", fp, full)
	}
	if alice.Fingerprint() == bob.Fingerprint() {
		t.Error("distinct identities share a fingerprint")
	}
	if !strings.HasPrefix(alice.String(), alice.Fingerprint()+"@") {
		t.Errorf("String() = %q", alice.String())
	}
}

func TestHashParts(t *testing.T) {
	a := HashParts([]byte("ab"), []byte("c"))
	if bytes.Equal(a, HashParts([]byte("a"), []byte("bc"))) {
		t.Error("HashParts() should separate parts")
	}
	if !bytes.Equal(a, HashParts([]byte("ab"), []byte("c"))) {
		t.Error("HashParts() not consistent between calls")
	}
	if len(a) != 32 {
		t.Errorf("HashParts() length = %d, want 32", len(a))
	}

	// The seal salt binds both public keys in order
	eph, recipient := bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 32)
	if bytes.Equal(sealSalt(eph, recipient), sealSalt(recipient, eph)) {
		t.Error("sealSalt() ignores key order")
	}
}

func TestVerifyHashOfSealedPayload(t *testing.T) {
	prng := testPRNG(t, 5)
	bob := testOwnedIdentity(t, 2)
	sealed, err := SealTo(bob.Identity(), AuthEncChaCha20Poly1305, []byte("stored payload"), prng)
	if err != nil {
		t.Fatalf("SealTo() error = %v", err)
	}
	digest, _ := Hash(sealed)

	flipped := append([]byte(nil), sealed...)
	flipped[len(flipped)-1] ^= 0x01

	tests := []struct {
		name   string
		data   []byte
		digest []byte
		want   bool
	}{
		{"intact", sealed, digest, true},
		{"flipped byte", flipped, digest, false},
		{"truncated", sealed[:len(sealed)-1], digest, false},
		{"empty digest", sealed, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := VerifyHash(tt.data, tt.digest)
			if err != nil {
				t.Fatalf("VerifyHash() error = %v", err)
			}
			if ok != tt.want {
				t.Errorf("VerifyHash() = %v, want %v", ok, tt.want)
			}
		})
	}
}

func testOwnedIdentity(t *testing.T, seed byte) *OwnedIdentity {
	t.Helper()
	owned, err := GenerateOwnedIdentity("https://server.olvid.io", testPRNG(t, seed))
	if err != nil {
		t.Fatalf("GenerateOwnedIdentity() error = %v", err)
	}
	return owned
}
