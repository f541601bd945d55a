package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ZentaChain/obvengine/pkg/obverr"
)

// ByteID is the tag of an encoded value
type ByteID uint8

// Value tags
const (
	ByteIDBytes        ByteID = 0x00
	ByteIDInt          ByteID = 0x01
	ByteIDBool         ByteID = 0x02
	ByteIDList         ByteID = 0x03
	ByteIDDictionary   ByteID = 0x04
	ByteIDSymmetricKey ByteID = 0x90
	ByteIDPublicKey    ByteID = 0x91
	ByteIDPrivateKey   ByteID = 0x92
)

const (
	// HeaderLength is the tag byte plus the 4-byte length prefix
	HeaderLength = 5

	// IntPayloadLength is the fixed width of an encoded integer
	IntPayloadLength = 8

	// maxDepth bounds container nesting accepted from untrusted input
	maxDepth = 32
)

var (
	ErrTruncated  = errors.New("truncated value")
	ErrTrailing   = errors.New("trailing bytes after value")
	ErrUnknownTag = errors.New("unknown tag")
	ErrWrongType  = errors.New("unexpected tag")
	ErrBadPayload = errors.New("invalid payload")
	ErrArity      = errors.New("unexpected list arity")
	ErrTooDeep    = errors.New("nesting too deep")
)

func (id ByteID) valid() bool {
	switch id {
	case ByteIDBytes, ByteIDInt, ByteIDBool, ByteIDList, ByteIDDictionary,
		ByteIDSymmetricKey, ByteIDPublicKey, ByteIDPrivateKey:
		return true
	}
	return false
}

func (id ByteID) String() string {
	switch id {
	case ByteIDBytes:
		return "bytes"
	case ByteIDInt:
		return "int"
	case ByteIDBool:
		return "bool"
	case ByteIDList:
		return "list"
	case ByteIDDictionary:
		return "dictionary"
	case ByteIDSymmetricKey:
		return "symmetric_key"
	case ByteIDPublicKey:
		return "public_key"
	case ByteIDPrivateKey:
		return "private_key"
	}
	return fmt.Sprintf("0x%02x", uint8(id))
}

// Encoded is an immutable ObvEncoded value. The zero value is not a valid value.
type Encoded struct {
	raw []byte
}

// Encoder is implemented by types with a canonical ObvEncoded form
type Encoder interface {
	ObvEncode() Encoded
}

func newEncoded(id ByteID, payload []byte) Encoded {
	raw := make([]byte, HeaderLength+len(payload))
	raw[0] = byte(id)
	binary.BigEndian.PutUint32(raw[1:HeaderLength], uint32(len(payload)))
	copy(raw[HeaderLength:], payload)
	return Encoded{raw: raw}
}

// Decode parses raw as exactly one encoded value
func Decode(raw []byte) (Encoded, error) {
	if err := validate(raw, 0); err != nil {
		return Encoded{}, err
	}
	return Encoded{raw: append([]byte(nil), raw...)}, nil
}

// validate checks raw holds exactly one well formed value, recursing into containers
func validate(raw []byte, depth int) error {
	if depth > maxDepth {
		return obverr.Malformed("decode", ErrTooDeep)
	}

	id, payload, rest, err := split(raw)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return obverr.Malformed("decode", ErrTrailing)
	}

	switch id {
	case ByteIDInt:
		if len(payload) != IntPayloadLength {
			return obverr.Malformedf("decode", "%w: int of %d bytes", ErrBadPayload, len(payload))
		}
	case ByteIDBool:
		if len(payload) != 1 || payload[0] > 1 {
			return obverr.Malformedf("decode", "%w: bool", ErrBadPayload)
		}
	case ByteIDList, ByteIDDictionary:
		for len(payload) > 0 {
			_, _, next, err := split(payload)
			if err != nil {
				return err
			}
			child := payload[:len(payload)-len(next)]
			if err := validate(child, depth+1); err != nil {
				return err
			}
			payload = next
		}
	}

	return nil
}

// split reads one value header from buf and returns its tag, payload and the bytes after it
func split(buf []byte) (ByteID, []byte, []byte, error) {
	if len(buf) < HeaderLength {
		return 0, nil, nil, obverr.Malformedf("decode", "%w: %d bytes for header", ErrTruncated, len(buf))
	}

	id := ByteID(buf[0])
	if !id.valid() {
		return 0, nil, nil, obverr.Malformedf("decode", "%w: %s", ErrUnknownTag, id)
	}

	length := uint64(binary.BigEndian.Uint32(buf[1:HeaderLength]))
	remaining := uint64(len(buf) - HeaderLength)
	if length > remaining {
		return 0, nil, nil, obverr.Malformedf("decode", "%w: declared %d, have %d", ErrTruncated, length, remaining)
	}

	end := HeaderLength + int(length)
	return id, buf[HeaderLength:end], buf[end:], nil
}

// ByteID returns the tag of the value
func (e Encoded) ByteID() ByteID {
	if len(e.raw) == 0 {
		return 0
	}
	return ByteID(e.raw[0])
}

// Raw returns a copy of the full encoding, header included
func (e Encoded) Raw() []byte {
	return append([]byte(nil), e.raw...)
}

// Len returns the length of the full encoding
func (e Encoded) Len() int {
	return len(e.raw)
}

// IsZero reports whether e was never set
func (e Encoded) IsZero() bool {
	return len(e.raw) == 0
}

// Equal compares two encodings byte for byte
func (e Encoded) Equal(other Encoded) bool {
	return bytes.Equal(e.raw, other.raw)
}

func (e Encoded) payload() []byte {
	if len(e.raw) < HeaderLength {
		return nil
	}
	return e.raw[HeaderLength:]
}

func (e Encoded) expect(op string, id ByteID) ([]byte, error) {
	if e.IsZero() {
		return nil, obverr.Malformedf(op, "%w: empty value", ErrTruncated)
	}
	if e.ByteID() != id {
		return nil, obverr.Malformedf(op, "%w: want %s, got %s", ErrWrongType, id, e.ByteID())
	}
	return e.payload(), nil
}

// ===== ENCODERS =====

// EncodeBytes encodes raw bytes
func EncodeBytes(b []byte) Encoded {
	return newEncoded(ByteIDBytes, b)
}

// EncodeString encodes a UTF-8 string as bytes
func EncodeString(s string) Encoded {
	return newEncoded(ByteIDBytes, []byte(s))
}

// EncodeInt encodes a signed 64-bit integer
func EncodeInt(v int64) Encoded {
	var buf [IntPayloadLength]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return newEncoded(ByteIDInt, buf[:])
}

// EncodeBool encodes a boolean
func EncodeBool(v bool) Encoded {
	if v {
		return newEncoded(ByteIDBool, []byte{0x01})
	}
	return newEncoded(ByteIDBool, []byte{0x00})
}

// EncodeList encodes an ordered list of values
func EncodeList(items ...Encoded) Encoded {
	size := 0
	for _, item := range items {
		size += len(item.raw)
	}
	payload := make([]byte, 0, size)
	for _, item := range items {
		payload = append(payload, item.raw...)
	}
	return newEncoded(ByteIDList, payload)
}

// EncodeTagged encodes key material under one of the key tags
func EncodeTagged(id ByteID, payload []byte) Encoded {
	return newEncoded(id, payload)
}

// ===== DECODERS =====

// DecodeBytes returns the payload of a bytes value
func (e Encoded) DecodeBytes() ([]byte, error) {
	payload, err := e.expect("decode_bytes", ByteIDBytes)
	if err != nil {
		return nil, err
	}
	return append([]byte{}, payload...), nil
}

// DecodeString returns the payload of a bytes value as a string
func (e Encoded) DecodeString() (string, error) {
	payload, err := e.expect("decode_string", ByteIDBytes)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// DecodeInt returns the value of an int
func (e Encoded) DecodeInt() (int64, error) {
	payload, err := e.expect("decode_int", ByteIDInt)
	if err != nil {
		return 0, err
	}
	if len(payload) != IntPayloadLength {
		return 0, obverr.Malformedf("decode_int", "%w: %d bytes", ErrBadPayload, len(payload))
	}
	return int64(binary.BigEndian.Uint64(payload)), nil
}

// DecodeIntInRange returns the value of an int, failing when it is outside [min, max]
func (e Encoded) DecodeIntInRange(min, max int64) (int64, error) {
	v, err := e.DecodeInt()
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, obverr.Malformedf("decode_int", "%w: %d not in [%d, %d]", ErrBadPayload, v, min, max)
	}
	return v, nil
}

// DecodeNonNegativeInt returns an int that fits in a non-negative Go int
func (e Encoded) DecodeNonNegativeInt() (int, error) {
	v, err := e.DecodeIntInRange(0, math.MaxInt32)
	return int(v), err
}

// DecodeBool returns the value of a bool
func (e Encoded) DecodeBool() (bool, error) {
	payload, err := e.expect("decode_bool", ByteIDBool)
	if err != nil {
		return false, err
	}
	if len(payload) != 1 || payload[0] > 1 {
		return false, obverr.Malformedf("decode_bool", "%w", ErrBadPayload)
	}
	return payload[0] == 1, nil
}

// DecodeList returns the children of a list
func (e Encoded) DecodeList() ([]Encoded, error) {
	payload, err := e.expect("decode_list", ByteIDList)
	if err != nil {
		return nil, err
	}
	return splitChildren(payload)
}

// DecodeListOf returns the children of a list that must hold exactly n items
func (e Encoded) DecodeListOf(n int) ([]Encoded, error) {
	items, err := e.DecodeList()
	if err != nil {
		return nil, err
	}
	if len(items) != n {
		return nil, obverr.Malformedf("decode_list", "%w: want %d, got %d", ErrArity, n, len(items))
	}
	return items, nil
}

// DecodeTagged returns the payload of a key value with the given tag
func (e Encoded) DecodeTagged(id ByteID) ([]byte, error) {
	payload, err := e.expect("decode_tagged", id)
	if err != nil {
		return nil, err
	}
	return append([]byte{}, payload...), nil
}

func splitChildren(payload []byte) ([]Encoded, error) {
	var items []Encoded
	for len(payload) > 0 {
		_, _, rest, err := split(payload)
		if err != nil {
			return nil, err
		}
		child := payload[:len(payload)-len(rest)]
		items = append(items, Encoded{raw: append([]byte(nil), child...)})
		payload = rest
	}
	return items, nil
}

// DecodePadded parses one value followed by zero padding, as produced when a plaintext
// is padded to a fixed cell size before encryption
func DecodePadded(raw []byte) (Encoded, error) {
	_, _, rest, err := split(raw)
	if err != nil {
		return Encoded{}, err
	}
	for _, b := range rest {
		if b != 0 {
			return Encoded{}, obverr.Malformedf("decode_padded", "%w: non-zero padding", ErrBadPayload)
		}
	}
	return Decode(raw[:len(raw)-len(rest)])
}
