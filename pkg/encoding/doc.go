// Package encoding implements ObvEncoded, the self-describing binary format used for
// every wire message, every persisted protocol state and every server request.
//
// # Value Format
//
// Every value is a tag byte followed by a 4-byte big-endian payload length and the
// payload itself:
//
//	+--------+----------------+----------------------+
//	| ByteID |  Length (u32)  |  Payload (Length B)  |
//	+--------+----------------+----------------------+
//
// The header is therefore HeaderLength (5) bytes for every value.
//
// # Supported Types
//
//   - Bytes (0x00): raw bytes, also used by UIDs and identities
//   - Int (0x01): 8-byte big-endian two's complement integer
//   - Bool (0x02): a single 0x00 or 0x01 byte
//   - List (0x03): concatenation of fully encoded children
//   - Dictionary (0x04): a list of [key, value] pairs sorted by key
//   - SymmetricKey (0x90), PublicKey (0x91), PrivateKey (0x92): key material, the
//     payload is interpreted by package crypto
//
// # Decoding Rules
//
// Decode never trusts a length prefix: the declared length must match the remaining
// buffer exactly, containers are validated child by child, and a nested list must carry
// exactly the arity the caller expects. Any violation is reported as a malformed-input
// error, never a panic, because encoded values arrive from untrusted peers and servers.
//
// # Usage Example
//
//	chunk := encoding.EncodeList(
//	    encoding.EncodeInt(3),
//	    encoding.EncodeBytes([]byte("hello")),
//	)
//	raw := chunk.Raw()
//
//	decoded, err := encoding.Decode(raw)
//	if err != nil {
//	    // discard: the bytes are not a valid ObvEncoded value
//	}
//	items, err := decoded.DecodeListOf(2)
package encoding
