package crypto

// Standard cell sizes. Sealed messages are padded up to one of them so the
// ciphertext length only leaks the size class.
const (
	CellSize512  = 512  // Small messages (protocol messages)
	CellSize1024 = 1024 // Medium messages
	CellSize4096 = 4096 // Large messages (details with photo labels)
	CellSize8192 = 8192 // Very large messages
)

// PaddedSize returns the cell size a message of messageLen bytes is padded to
func PaddedSize(messageLen int) int {
	switch {
	case messageLen <= CellSize512:
		return CellSize512
	case messageLen <= CellSize1024:
		return CellSize1024
	case messageLen <= CellSize4096:
		return CellSize4096
	case messageLen <= CellSize8192:
		return CellSize8192
	default:
		// For very large messages, round up to nearest 8KB
		return ((messageLen + CellSize8192 - 1) / CellSize8192) * CellSize8192
	}
}

// PadToCell zero-pads message to its cell size. The message must be a
// self-delimiting encoded value so the receiver can strip the zeros
// (encoding.DecodePadded).
func PadToCell(message []byte) []byte {
	padded := make([]byte, PaddedSize(len(message)))
	copy(padded, message)
	return padded
}
