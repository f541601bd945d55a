package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ZentaChain/obvengine/pkg/encoding"
)

func TestSealOpen(t *testing.T) {
	prng := testPRNG(t, 20)
	bob, _ := GenerateOwnedIdentity("https://server.olvid.io", prng)
	eve, _ := GenerateOwnedIdentity("https://server.olvid.io", prng)
	services := NewServices(prng)

	message := encoding.EncodeList(encoding.EncodeInt(11), encoding.EncodeString("hello bob"))
	sealed, err := services.Seal(bob.Identity(), message.Raw())
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	wantLen := 32 + CellSize512 + services.AuthEnc().Overhead()
	if len(sealed) != wantLen {
		t.Errorf("len(sealed) = %d, want %d", len(sealed), wantLen)
	}

	opened, err := bob.Open(services.AuthEncAlgorithm, sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	decoded, err := encoding.DecodePadded(opened)
	if err != nil {
		t.Fatalf("DecodePadded() error = %v", err)
	}
	if !decoded.Equal(message) {
		t.Error("opened message differs")
	}

	if _, err := eve.Open(services.AuthEncAlgorithm, sealed); err == nil {
		t.Error("Open() by another identity should fail")
	}
	if _, err := bob.Open(services.AuthEncAlgorithm, sealed[:20]); !errors.Is(err, ErrSealTooShort) {
		t.Errorf("Open() short input error = %v, want %v", err, ErrSealTooShort)
	}
}

func TestPaddedSize(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, CellSize512},
		{512, CellSize512},
		{513, CellSize1024},
		{4000, CellSize4096},
		{8192, CellSize8192},
		{8193, 2 * CellSize8192},
	}
	for _, tt := range tests {
		if got := PaddedSize(tt.in); got != tt.want {
			t.Errorf("PaddedSize(%d) = %d, want %d", tt.in, got, tt.want)
		}
		padded := PadToCell(bytes.Repeat([]byte{0xaa}, tt.in))
		if len(padded) != tt.want {
			t.Errorf("len(PadToCell(%d)) = %d, want %d", tt.in, len(padded), tt.want)
		}
	}
}

func TestSeededPRNGDeterminism(t *testing.T) {
	a := testPRNG(t, 30)
	b := testPRNG(t, 30)
	if a.GenUID() != b.GenUID() {
		t.Error("same seed produced different UIDs")
	}
	if !bytes.Equal(a.GenBytes(100), b.GenBytes(100)) {
		t.Error("same seed produced different bytes")
	}
	if a.GenUID() == testPRNG(t, 31).GenUID() {
		t.Error("different seeds produced the same UID")
	}

	if _, err := NewSeededPRNG([]byte("short")); !errors.Is(err, ErrShortSeed) {
		t.Errorf("NewSeededPRNG(short) error = %v, want %v", err, ErrShortSeed)
	}
}

func TestUID(t *testing.T) {
	uid := NewSystemPRNG().GenUID()
	if uid.IsZero() {
		t.Fatal("GenUID() returned zero")
	}

	parsed, err := UIDFromHex(uid.String())
	if err != nil || parsed != uid {
		t.Errorf("UIDFromHex(String()) = %v, %v", parsed, err)
	}

	decoded, err := DecodeUID(uid.ObvEncode())
	if err != nil || decoded != uid {
		t.Errorf("DecodeUID() = %v, %v", decoded, err)
	}

	if _, err := DecodeUID(encoding.EncodeBytes([]byte{1, 2, 3})); err == nil {
		t.Error("DecodeUID() accepted 3 bytes")
	}
}
