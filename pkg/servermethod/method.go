// Package servermethod builds the requests sent to the server and parses its
// responses. A request body is an encoded list of fields POSTed to the method's
// path. A response is one status byte, optionally followed by an encoded list.
//
// Response parsers never fail loudly on server input: an unknown status byte or an
// unreadable payload yields an absent result.
package servermethod

import (
	"errors"

	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

var (
	ErrEmptyResponse = errors.New("empty server response")
	ErrUnknownStatus = errors.New("unknown status byte")
)

// Method is one server operation
type Method interface {
	Path() string
	DataToSend() []byte
}

// ParseResponse splits a raw response into its status byte and optional payload
func ParseResponse(raw []byte) (byte, []encoding.Encoded, error) {
	if len(raw) == 0 {
		return 0, nil, obverr.Malformed("parse_response", ErrEmptyResponse)
	}
	status := raw[0]
	if len(raw) == 1 {
		return status, nil, nil
	}

	e, err := encoding.Decode(raw[1:])
	if err != nil {
		return status, nil, err
	}
	payload, err := e.DecodeList()
	if err != nil {
		return status, nil, err
	}
	return status, payload, nil
}

// EncodeResponse builds a raw response
func EncodeResponse(status byte, payload ...encoding.Encoded) []byte {
	if len(payload) == 0 {
		return []byte{status}
	}
	return append([]byte{status}, encoding.EncodeList(payload...).Raw()...)
}

// parseStatus reads the status byte of raw and accepts it only when it is one of valid
func parseStatus[S ~byte](raw []byte, valid ...S) (S, []encoding.Encoded, bool) {
	status, payload, err := ParseResponse(raw)
	if err != nil {
		return 0, nil, false
	}
	for _, v := range valid {
		if S(status) == v {
			return v, payload, true
		}
	}
	return 0, nil, false
}

func decodeRequest(raw []byte, fields int) ([]encoding.Encoded, error) {
	e, err := encoding.Decode(raw)
	if err != nil {
		return nil, err
	}
	return e.DecodeListOf(fields)
}
