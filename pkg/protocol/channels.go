package protocol

import (
	"errors"
	"fmt"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

var ErrUnknownChannel = errors.New("unknown channel kind")

// SendChannelKind selects how an outbound message is delivered
type SendChannelKind int

const (
	SendLocal SendChannelKind = iota
	SendServerQuery
	SendObliviousChannel
	SendAsymmetricChannel
	SendUserInterface
)

func (k SendChannelKind) String() string {
	switch k {
	case SendLocal:
		return "local"
	case SendServerQuery:
		return "server_query"
	case SendObliviousChannel:
		return "oblivious_channel"
	case SendAsymmetricChannel:
		return "asymmetric_channel"
	case SendUserInterface:
		return "user_interface"
	}
	return fmt.Sprintf("send_channel_%d", int(k))
}

// SendChannelType describes the channel an outbound message is posted on
type SendChannelType struct {
	Kind SendChannelKind
	// From is the owned identity sending (every kind)
	From crypto.CryptoIdentity
	// To is the recipient (oblivious and asymmetric channels)
	To crypto.CryptoIdentity
	// RemoteDeviceUIDs restricts an oblivious channel to some devices of To
	RemoteDeviceUIDs     []crypto.UID
	NecessarilyConfirmed bool
	// Query is set for server query channels
	Query *ServerQuery
}

// LocalChannel loops a message back into the engine for owned
func LocalChannel(owned crypto.CryptoIdentity) SendChannelType {
	return SendChannelType{Kind: SendLocal, From: owned}
}

// ServerQueryChannel asks the server a question; the answer comes back as a
// message received over the server query channel
func ServerQueryChannel(owned crypto.CryptoIdentity, query *ServerQuery) SendChannelType {
	return SendChannelType{Kind: SendServerQuery, From: owned, Query: query}
}

// ObliviousChannel sends over the established secure channels with to's devices
func ObliviousChannel(to, from crypto.CryptoIdentity, deviceUIDs []crypto.UID, necessarilyConfirmed bool) SendChannelType {
	return SendChannelType{
		Kind:                 SendObliviousChannel,
		From:                 from,
		To:                   to,
		RemoteDeviceUIDs:     deviceUIDs,
		NecessarilyConfirmed: necessarilyConfirmed,
	}
}

// AsymmetricChannel encrypts for to's public encryption key
func AsymmetricChannel(to, from crypto.CryptoIdentity) SendChannelType {
	return SendChannelType{Kind: SendAsymmetricChannel, From: from, To: to}
}

// UserInterfaceChannel surfaces a message to the application
func UserInterfaceChannel(owned crypto.CryptoIdentity) SendChannelType {
	return SendChannelType{Kind: SendUserInterface, From: owned}
}

// ObvEncode encodes the channel as [kind, from, to, [deviceUIDs], confirmed, query]
func (c SendChannelType) ObvEncode() encoding.Encoded {
	devices := make([]encoding.Encoded, len(c.RemoteDeviceUIDs))
	for i, uid := range c.RemoteDeviceUIDs {
		devices[i] = uid.ObvEncode()
	}

	to := encoding.EncodeBytes(nil)
	if !c.To.IsZero() {
		to = c.To.ObvEncode()
	}
	query := encoding.EncodeList()
	if c.Query != nil {
		query = c.Query.ObvEncode()
	}

	return encoding.EncodeList(
		encoding.EncodeInt(int64(c.Kind)),
		c.From.ObvEncode(),
		to,
		encoding.EncodeList(devices...),
		encoding.EncodeBool(c.NecessarilyConfirmed),
		query,
	)
}

// ParseSendChannel decodes the raw channel bytes stored with an outbox entry
func ParseSendChannel(raw []byte) (SendChannelType, error) {
	e, err := encoding.Decode(raw)
	if err != nil {
		return SendChannelType{}, err
	}
	return DecodeSendChannel(e)
}

// DecodeSendChannel decodes a channel encoded with ObvEncode
func DecodeSendChannel(e encoding.Encoded) (SendChannelType, error) {
	items, err := e.DecodeListOf(6)
	if err != nil {
		return SendChannelType{}, err
	}

	kind, err := items[0].DecodeIntInRange(int64(SendLocal), int64(SendUserInterface))
	if err != nil {
		return SendChannelType{}, err
	}
	c := SendChannelType{Kind: SendChannelKind(kind)}

	if c.From, err = crypto.DecodeIdentity(items[1]); err != nil {
		return SendChannelType{}, err
	}
	if raw, err := items[2].DecodeBytes(); err != nil {
		return SendChannelType{}, err
	} else if len(raw) > 0 {
		if c.To, err = crypto.IdentityFromBytes(raw); err != nil {
			return SendChannelType{}, err
		}
	}

	devices, err := items[3].DecodeList()
	if err != nil {
		return SendChannelType{}, err
	}
	for _, d := range devices {
		uid, err := crypto.DecodeUID(d)
		if err != nil {
			return SendChannelType{}, err
		}
		c.RemoteDeviceUIDs = append(c.RemoteDeviceUIDs, uid)
	}

	if c.NecessarilyConfirmed, err = items[4].DecodeBool(); err != nil {
		return SendChannelType{}, err
	}

	if query, err := items[5].DecodeList(); err != nil {
		return SendChannelType{}, err
	} else if len(query) > 0 {
		if c.Query, err = DecodeServerQuery(items[5]); err != nil {
			return SendChannelType{}, err
		}
	}
	return c, nil
}

// ReceptionKind classifies how an inbound message arrived, or which arrivals a
// step accepts
type ReceptionKind int

const (
	ReceptionLocal ReceptionKind = iota
	ReceptionServerQuery
	ReceptionObliviousChannel
	ReceptionAsymmetricChannel
	ReceptionAnyObliviousChannelWithOwnedDevice
	ReceptionAnyObliviousChannel
)

func (k ReceptionKind) String() string {
	switch k {
	case ReceptionLocal:
		return "local"
	case ReceptionServerQuery:
		return "server_query"
	case ReceptionObliviousChannel:
		return "oblivious_channel"
	case ReceptionAsymmetricChannel:
		return "asymmetric_channel"
	case ReceptionAnyObliviousChannelWithOwnedDevice:
		return "any_oblivious_channel_with_owned_device"
	case ReceptionAnyObliviousChannel:
		return "any_oblivious_channel"
	}
	return fmt.Sprintf("reception_%d", int(k))
}

// ReceptionChannelInfo records the channel an inbound message arrived over. The
// Any* kinds only appear as step expectations.
type ReceptionChannelInfo struct {
	Kind ReceptionKind
	// RemoteIdentity and RemoteDeviceUID are set for oblivious channels
	RemoteIdentity  crypto.CryptoIdentity
	RemoteDeviceUID crypto.UID
}

// Convenience reception values
var (
	LocalReception                     = ReceptionChannelInfo{Kind: ReceptionLocal}
	ServerQueryReception               = ReceptionChannelInfo{Kind: ReceptionServerQuery}
	AsymmetricChannelReception         = ReceptionChannelInfo{Kind: ReceptionAsymmetricChannel}
	AnyObliviousChannel                = ReceptionChannelInfo{Kind: ReceptionAnyObliviousChannel}
	AnyObliviousChannelWithOwnedDevice = ReceptionChannelInfo{Kind: ReceptionAnyObliviousChannelWithOwnedDevice}
)

// ObliviousChannelReception describes a message received on the channel with a remote device
func ObliviousChannelReception(remote crypto.CryptoIdentity, device crypto.UID) ReceptionChannelInfo {
	return ReceptionChannelInfo{Kind: ReceptionObliviousChannel, RemoteIdentity: remote, RemoteDeviceUID: device}
}

// Matches reports whether an actual reception satisfies expected. owned is the
// identity the message was received by.
func (r ReceptionChannelInfo) Matches(expected ReceptionChannelInfo, owned crypto.CryptoIdentity) bool {
	switch expected.Kind {
	case ReceptionLocal, ReceptionServerQuery, ReceptionAsymmetricChannel:
		return r.Kind == expected.Kind
	case ReceptionObliviousChannel:
		return r.Kind == ReceptionObliviousChannel &&
			r.RemoteIdentity.Equal(expected.RemoteIdentity) &&
			r.RemoteDeviceUID == expected.RemoteDeviceUID
	case ReceptionAnyObliviousChannel:
		return r.Kind == ReceptionObliviousChannel
	case ReceptionAnyObliviousChannelWithOwnedDevice:
		return r.Kind == ReceptionObliviousChannel && r.RemoteIdentity.Equal(owned)
	}
	return false
}

func (r ReceptionChannelInfo) String() string {
	if r.Kind == ReceptionObliviousChannel {
		return fmt.Sprintf("%s(%s/%s)", r.Kind, r.RemoteIdentity.Fingerprint(), r.RemoteDeviceUID.Short())
	}
	return r.Kind.String()
}

// ObvEncode encodes the info as [kind] or [kind, remoteIdentity, remoteDeviceUID]
func (r ReceptionChannelInfo) ObvEncode() encoding.Encoded {
	if r.Kind == ReceptionObliviousChannel {
		return encoding.EncodeList(
			encoding.EncodeInt(int64(r.Kind)),
			r.RemoteIdentity.ObvEncode(),
			r.RemoteDeviceUID.ObvEncode(),
		)
	}
	return encoding.EncodeList(encoding.EncodeInt(int64(r.Kind)))
}

// DecodeReceptionChannelInfo decodes an info encoded with ObvEncode
func DecodeReceptionChannelInfo(e encoding.Encoded) (ReceptionChannelInfo, error) {
	items, err := e.DecodeList()
	if err != nil {
		return ReceptionChannelInfo{}, err
	}
	if len(items) == 0 {
		return ReceptionChannelInfo{}, obverr.Malformed("decode_reception", encoding.ErrArity)
	}

	kind, err := items[0].DecodeIntInRange(int64(ReceptionLocal), int64(ReceptionAnyObliviousChannel))
	if err != nil {
		return ReceptionChannelInfo{}, obverr.Malformed("decode_reception", ErrUnknownChannel)
	}
	r := ReceptionChannelInfo{Kind: ReceptionKind(kind)}

	if r.Kind != ReceptionObliviousChannel {
		if len(items) != 1 {
			return ReceptionChannelInfo{}, obverr.Malformed("decode_reception", encoding.ErrArity)
		}
		return r, nil
	}

	if len(items) != 3 {
		return ReceptionChannelInfo{}, obverr.Malformed("decode_reception", encoding.ErrArity)
	}
	if r.RemoteIdentity, err = crypto.DecodeIdentity(items[1]); err != nil {
		return ReceptionChannelInfo{}, err
	}
	if r.RemoteDeviceUID, err = crypto.DecodeUID(items[2]); err != nil {
		return ReceptionChannelInfo{}, err
	}
	return r, nil
}
