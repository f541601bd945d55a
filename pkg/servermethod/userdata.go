package servermethod

import (
	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
)

// Method paths
const (
	RefreshUserDataPath = "/refreshUserData"
	PutUserDataPath     = "/putUserData"
	GetUserDataPath     = "/getUserData"
)

// Status bytes shared by the user data methods
const (
	StatusOK                byte = 0x00
	StatusInvalidSession    byte = 0x04
	StatusDeletedFromServer byte = 0x09
	StatusGeneralError      byte = 0xff
)

// ===== REFRESH USER DATA =====

// RefreshUserData keeps user data (e.g. a published photo) alive on the server
type RefreshUserData struct {
	Identity crypto.CryptoIdentity
	Token    []byte
	Label    crypto.UID
}

func (m *RefreshUserData) Path() string { return RefreshUserDataPath }

// DataToSend encodes [identity, token, label]
func (m *RefreshUserData) DataToSend() []byte {
	return encoding.EncodeList(
		m.Identity.ObvEncode(),
		encoding.EncodeBytes(m.Token),
		m.Label.ObvEncode(),
	).Raw()
}

// ParseRefreshUserData decodes a request body
func ParseRefreshUserData(raw []byte) (*RefreshUserData, error) {
	items, err := decodeRequest(raw, 3)
	if err != nil {
		return nil, err
	}
	m := &RefreshUserData{}
	if m.Identity, err = crypto.DecodeIdentity(items[0]); err != nil {
		return nil, err
	}
	if m.Token, err = items[1].DecodeBytes(); err != nil {
		return nil, err
	}
	if m.Label, err = crypto.DecodeUID(items[2]); err != nil {
		return nil, err
	}
	return m, nil
}

// RefreshUserDataStatus is the closed set of refreshUserData statuses
type RefreshUserDataStatus byte

const (
	RefreshUserDataOK                RefreshUserDataStatus = RefreshUserDataStatus(StatusOK)
	RefreshUserDataInvalidSession    RefreshUserDataStatus = RefreshUserDataStatus(StatusInvalidSession)
	RefreshUserDataDeletedFromServer RefreshUserDataStatus = RefreshUserDataStatus(StatusDeletedFromServer)
	RefreshUserDataGeneralError      RefreshUserDataStatus = RefreshUserDataStatus(StatusGeneralError)
)

func (s RefreshUserDataStatus) String() string {
	switch s {
	case RefreshUserDataOK:
		return "ok"
	case RefreshUserDataInvalidSession:
		return "invalid_session"
	case RefreshUserDataDeletedFromServer:
		return "deleted_from_server"
	case RefreshUserDataGeneralError:
		return "general_error"
	}
	return "unknown"
}

// ParseRefreshUserDataResponse returns the status, or false for an unknown byte
func ParseRefreshUserDataResponse(raw []byte) (RefreshUserDataStatus, bool) {
	status, _, ok := parseStatus(raw,
		RefreshUserDataOK, RefreshUserDataInvalidSession, RefreshUserDataDeletedFromServer, RefreshUserDataGeneralError)
	return status, ok
}

// ===== PUT USER DATA =====

// PutUserData uploads encrypted user data under a label
type PutUserData struct {
	Identity crypto.CryptoIdentity
	Token    []byte
	Label    crypto.UID
	Data     []byte
}

func (m *PutUserData) Path() string { return PutUserDataPath }

// DataToSend encodes [identity, token, label, data]
func (m *PutUserData) DataToSend() []byte {
	return encoding.EncodeList(
		m.Identity.ObvEncode(),
		encoding.EncodeBytes(m.Token),
		m.Label.ObvEncode(),
		encoding.EncodeBytes(m.Data),
	).Raw()
}

// ParsePutUserData decodes a request body
func ParsePutUserData(raw []byte) (*PutUserData, error) {
	items, err := decodeRequest(raw, 4)
	if err != nil {
		return nil, err
	}
	m := &PutUserData{}
	if m.Identity, err = crypto.DecodeIdentity(items[0]); err != nil {
		return nil, err
	}
	if m.Token, err = items[1].DecodeBytes(); err != nil {
		return nil, err
	}
	if m.Label, err = crypto.DecodeUID(items[2]); err != nil {
		return nil, err
	}
	if m.Data, err = items[3].DecodeBytes(); err != nil {
		return nil, err
	}
	return m, nil
}

// PutUserDataStatus is the closed set of putUserData statuses
type PutUserDataStatus byte

const (
	PutUserDataOK             PutUserDataStatus = PutUserDataStatus(StatusOK)
	PutUserDataInvalidSession PutUserDataStatus = PutUserDataStatus(StatusInvalidSession)
	PutUserDataGeneralError   PutUserDataStatus = PutUserDataStatus(StatusGeneralError)
)

// ParsePutUserDataResponse returns the status, or false for an unknown byte
func ParsePutUserDataResponse(raw []byte) (PutUserDataStatus, bool) {
	status, _, ok := parseStatus(raw, PutUserDataOK, PutUserDataInvalidSession, PutUserDataGeneralError)
	return status, ok
}

// ===== GET USER DATA =====

// GetUserData downloads the user data of an identity. No session is needed.
type GetUserData struct {
	Identity crypto.CryptoIdentity
	Label    crypto.UID
}

func (m *GetUserData) Path() string { return GetUserDataPath }

// DataToSend encodes [identity, label]
func (m *GetUserData) DataToSend() []byte {
	return encoding.EncodeList(m.Identity.ObvEncode(), m.Label.ObvEncode()).Raw()
}

// ParseGetUserData decodes a request body
func ParseGetUserData(raw []byte) (*GetUserData, error) {
	items, err := decodeRequest(raw, 2)
	if err != nil {
		return nil, err
	}
	m := &GetUserData{}
	if m.Identity, err = crypto.DecodeIdentity(items[0]); err != nil {
		return nil, err
	}
	if m.Label, err = crypto.DecodeUID(items[1]); err != nil {
		return nil, err
	}
	return m, nil
}

// GetUserDataStatus is the closed set of getUserData statuses
type GetUserDataStatus byte

const (
	GetUserDataOK                GetUserDataStatus = GetUserDataStatus(StatusOK)
	GetUserDataDeletedFromServer GetUserDataStatus = GetUserDataStatus(StatusDeletedFromServer)
	GetUserDataGeneralError      GetUserDataStatus = GetUserDataStatus(StatusGeneralError)
)

// ParseGetUserDataResponse returns the status and, when ok, the downloaded data.
// An ok status without a readable data field is absent.
func ParseGetUserDataResponse(raw []byte) (GetUserDataStatus, []byte, bool) {
	status, payload, ok := parseStatus(raw, GetUserDataOK, GetUserDataDeletedFromServer, GetUserDataGeneralError)
	if !ok || status != GetUserDataOK {
		return status, nil, ok
	}
	if len(payload) != 1 {
		return 0, nil, false
	}
	data, err := payload[0].DecodeBytes()
	if err != nil {
		return 0, nil, false
	}
	return status, data, true
}
