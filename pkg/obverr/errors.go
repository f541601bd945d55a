// Package obverr defines the error taxonomy shared by every engine package.
//
// Every failure surfaced by the codec, the chunk cipher, the protocol engine and the
// storage layer is an *Error carrying a Kind plus enough context (operation, path,
// protocol) for the caller to decide between discarding, retrying and aborting.
package obverr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind uint8

const (
	// KindUnknown is the zero value and never produced on purpose.
	KindUnknown Kind = iota
	// KindMalformed marks untrusted input that does not parse (codec, server response).
	KindMalformed
	// KindIO marks file or database failures.
	KindIO
	// KindDecryption marks authenticated decryption failures.
	KindDecryption
	// KindLogic marks internal inconsistencies: wrong reception channel, wrong state variant.
	KindLogic
	// KindNoApplicableStep marks a message that matches no step for the current state.
	KindNoApplicableStep
	// KindConflict marks a concurrent modification of the same protocol instance.
	KindConflict
	// KindNotFound marks a missing entity.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindIO:
		return "io"
	case KindDecryption:
		return "decryption"
	case KindLogic:
		return "logic"
	case KindNoApplicableStep:
		return "no_applicable_step"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is the structured error value.
type Error struct {
	Kind     Kind
	Op       string // operation, e.g. "read_chunk"
	Path     string // file path when relevant
	Protocol string // protocol name when relevant
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Protocol != "" {
		fmt.Fprintf(&b, " protocol=%s", e.Protocol)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " path=%s", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Malformed wraps err as KindMalformed.
func Malformed(op string, err error) *Error {
	return New(KindMalformed, op, err)
}

// Malformedf formats a KindMalformed error.
func Malformedf(op, format string, args ...interface{}) *Error {
	return New(KindMalformed, op, fmt.Errorf(format, args...))
}

// IO wraps err as KindIO with the offending path.
func IO(op, path string, err error) *Error {
	return &Error{Kind: KindIO, Op: op, Path: path, Err: err}
}

// Decryption wraps err as KindDecryption.
func Decryption(op string, err error) *Error {
	return New(KindDecryption, op, err)
}

// Logic wraps err as KindLogic.
func Logic(op string, err error) *Error {
	return New(KindLogic, op, err)
}

// Logicf formats a KindLogic error.
func Logicf(op, format string, args ...interface{}) *Error {
	return New(KindLogic, op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
