package crypto

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

// Public key algorithm identifiers used in the identity encoding
const (
	authAlgorithmEd25519 byte = 0x00
	encAlgorithmX25519   byte = 0x01

	// separator + auth id + auth key + enc id + enc key
	identitySuffixLength = 1 + 1 + ed25519.PublicKeySize + 1 + curve25519.PointSize
)

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrInvalidIdentity  = errors.New("invalid identity")
	ErrInvalidSignature = errors.New("invalid signature")
)

// CryptoIdentity is the public identity of a user: the server it lives on and its
// signature and encryption public keys
type CryptoIdentity struct {
	ServerURL     string
	AuthPublicKey ed25519.PublicKey
	EncPublicKey  [curve25519.PointSize]byte
}

// Bytes returns serverURL || 0x00 || 0x00 || authPK || 0x01 || encPK
func (c CryptoIdentity) Bytes() []byte {
	out := make([]byte, 0, len(c.ServerURL)+identitySuffixLength)
	out = append(out, c.ServerURL...)
	out = append(out, 0x00, authAlgorithmEd25519)
	out = append(out, c.AuthPublicKey...)
	out = append(out, encAlgorithmX25519)
	out = append(out, c.EncPublicKey[:]...)
	return out
}

// IdentityFromBytes parses the form returned by Bytes
func IdentityFromBytes(b []byte) (CryptoIdentity, error) {
	if len(b) < identitySuffixLength {
		return CryptoIdentity{}, obverr.Malformed("identity", ErrInvalidIdentity)
	}

	urlLen := len(b) - identitySuffixLength
	suffix := b[urlLen:]
	if suffix[0] != 0x00 || suffix[1] != authAlgorithmEd25519 || suffix[2+ed25519.PublicKeySize] != encAlgorithmX25519 {
		return CryptoIdentity{}, obverr.Malformedf("identity", "%w: unknown key algorithms", ErrInvalidIdentity)
	}
	if bytes.IndexByte(b[:urlLen], 0x00) >= 0 {
		return CryptoIdentity{}, obverr.Malformedf("identity", "%w: server url contains NUL", ErrInvalidIdentity)
	}

	id := CryptoIdentity{
		ServerURL:     string(b[:urlLen]),
		AuthPublicKey: append(ed25519.PublicKey(nil), suffix[2:2+ed25519.PublicKeySize]...),
	}
	copy(id.EncPublicKey[:], suffix[3+ed25519.PublicKeySize:])
	return id, nil
}

// ObvEncode encodes the identity as bytes
func (c CryptoIdentity) ObvEncode() encoding.Encoded {
	return encoding.EncodeBytes(c.Bytes())
}

// DecodeIdentity decodes an identity encoded with ObvEncode
func DecodeIdentity(e encoding.Encoded) (CryptoIdentity, error) {
	b, err := e.DecodeBytes()
	if err != nil {
		return CryptoIdentity{}, err
	}
	return IdentityFromBytes(b)
}

// Equal compares two identities
func (c CryptoIdentity) Equal(other CryptoIdentity) bool {
	return bytes.Equal(c.Bytes(), other.Bytes())
}

// IsZero reports whether the identity was never set
func (c CryptoIdentity) IsZero() bool {
	return c.ServerURL == "" && len(c.AuthPublicKey) == 0
}

// Fingerprint is a short hex digest of the identity, for logs and UI
func (c CryptoIdentity) Fingerprint() string {
	h, err := HashString(c.Bytes())
	if err != nil {
		return ""
	}
	return h[:16]
}

func (c CryptoIdentity) String() string {
	return fmt.Sprintf("%s@%s", c.Fingerprint(), c.ServerURL)
}

// Verify checks an Ed25519 signature made by the identity
func (c CryptoIdentity) Verify(message, signature []byte) bool {
	if len(c.AuthPublicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(c.AuthPublicKey, message, signature)
}

// OwnedIdentity is an identity whose private keys live on this device
type OwnedIdentity struct {
	CryptoIdentity
	authPrivate ed25519.PrivateKey
	encPrivate  [curve25519.ScalarSize]byte
}

// GenerateOwnedIdentity creates a fresh identity on serverURL
func GenerateOwnedIdentity(serverURL string, prng PRNG) (*OwnedIdentity, error) {
	return newOwnedIdentity(serverURL, prng.GenBytes(ed25519.SeedSize), prng.GenBytes(curve25519.ScalarSize))
}

func newOwnedIdentity(serverURL string, authSeed, encPrivate []byte) (*OwnedIdentity, error) {
	if len(authSeed) != ed25519.SeedSize || len(encPrivate) != curve25519.ScalarSize {
		return nil, ErrInvalidKey
	}

	owned := &OwnedIdentity{authPrivate: ed25519.NewKeyFromSeed(authSeed)}
	copy(owned.encPrivate[:], encPrivate)

	encPublic, err := curve25519.X25519(owned.encPrivate[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	owned.ServerURL = serverURL
	owned.AuthPublicKey = owned.authPrivate.Public().(ed25519.PublicKey)
	copy(owned.EncPublicKey[:], encPublic)
	return owned, nil
}

// Identity returns the public part
func (o *OwnedIdentity) Identity() CryptoIdentity {
	return o.CryptoIdentity
}

// Sign signs message with the identity's Ed25519 key
func (o *OwnedIdentity) Sign(message []byte) []byte {
	return ed25519.Sign(o.authPrivate, message)
}

// sharedSecret runs X25519 between our encryption key and a peer public key
func (o *OwnedIdentity) sharedSecret(peer []byte) ([]byte, error) {
	return curve25519.X25519(o.encPrivate[:], peer)
}

// ObvEncode encodes the identity and its private keys as [identity, privateKey]
func (o *OwnedIdentity) ObvEncode() encoding.Encoded {
	private := make([]byte, 0, ed25519.SeedSize+curve25519.ScalarSize)
	private = append(private, o.authPrivate.Seed()...)
	private = append(private, o.encPrivate[:]...)
	return encoding.EncodeList(
		o.CryptoIdentity.ObvEncode(),
		encoding.EncodeTagged(encoding.ByteIDPrivateKey, private),
	)
}

// DecodeOwnedIdentity decodes an owned identity and checks the keys match
func DecodeOwnedIdentity(e encoding.Encoded) (*OwnedIdentity, error) {
	items, err := e.DecodeListOf(2)
	if err != nil {
		return nil, err
	}
	identity, err := DecodeIdentity(items[0])
	if err != nil {
		return nil, err
	}
	private, err := items[1].DecodeTagged(encoding.ByteIDPrivateKey)
	if err != nil {
		return nil, err
	}
	if len(private) != ed25519.SeedSize+curve25519.ScalarSize {
		return nil, obverr.Malformed("decode_owned_identity", ErrInvalidKey)
	}

	owned, err := newOwnedIdentity(identity.ServerURL, private[:ed25519.SeedSize], private[ed25519.SeedSize:])
	if err != nil {
		return nil, obverr.Malformed("decode_owned_identity", err)
	}
	if !owned.CryptoIdentity.Equal(identity) {
		return nil, obverr.Malformedf("decode_owned_identity", "%w: private keys do not match", ErrInvalidKey)
	}
	return owned, nil
}
