package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

// UIDLength is the size of a UID in bytes
const UIDLength = 32

// UID is a random identifier (protocol instances, device uids, server labels)
type UID [UIDLength]byte

// ZeroUID is the all-zero UID
var ZeroUID UID

// UIDFromBytes copies b into a UID
func UIDFromBytes(b []byte) (UID, error) {
	var uid UID
	if len(b) != UIDLength {
		return uid, obverr.Malformedf("uid", "expected %d bytes, got %d", UIDLength, len(b))
	}
	copy(uid[:], b)
	return uid, nil
}

// UIDFromHex parses the hex form returned by String
func UIDFromHex(s string) (UID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return UID{}, obverr.Malformed("uid", err)
	}
	return UIDFromBytes(b)
}

// String returns the hex encoding of the UID
func (u UID) String() string {
	return hex.EncodeToString(u[:])
}

// Short returns the first 8 hex characters, for logs
func (u UID) Short() string {
	return fmt.Sprintf("%x", u[:4])
}

// IsZero checks if the UID is all zeros
func (u UID) IsZero() bool {
	return u == ZeroUID
}

// ObvEncode encodes the UID as bytes
func (u UID) ObvEncode() encoding.Encoded {
	return encoding.EncodeBytes(u[:])
}

// DecodeUID decodes a UID encoded with ObvEncode
func DecodeUID(e encoding.Encoded) (UID, error) {
	b, err := e.DecodeBytes()
	if err != nil {
		return UID{}, err
	}
	return UIDFromBytes(b)
}
