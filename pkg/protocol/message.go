package protocol

import (
	"time"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

// GenericProtocolMessage is the wire form of every protocol message
type GenericProtocolMessage struct {
	ProtocolID  ProtocolID
	InstanceUID crypto.UID
	MessageID   MessageID
	Inputs      []encoding.Encoded
}

// ObvEncode encodes the message as [protocolID, instanceUID, messageID, [inputs...]]
func (m *GenericProtocolMessage) ObvEncode() encoding.Encoded {
	return encoding.EncodeList(
		encoding.EncodeInt(int64(m.ProtocolID)),
		m.InstanceUID.ObvEncode(),
		encoding.EncodeInt(int64(m.MessageID)),
		encoding.EncodeList(m.Inputs...),
	)
}

// DecodeGenericProtocolMessage decodes a message encoded with ObvEncode
func DecodeGenericProtocolMessage(e encoding.Encoded) (*GenericProtocolMessage, error) {
	items, err := e.DecodeListOf(4)
	if err != nil {
		return nil, err
	}

	protocolID, err := items[0].DecodeNonNegativeInt()
	if err != nil {
		return nil, err
	}
	uid, err := crypto.DecodeUID(items[1])
	if err != nil {
		return nil, err
	}
	messageID, err := items[2].DecodeNonNegativeInt()
	if err != nil {
		return nil, err
	}
	inputs, err := items[3].DecodeList()
	if err != nil {
		return nil, err
	}

	return &GenericProtocolMessage{
		ProtocolID:  ProtocolID(protocolID),
		InstanceUID: uid,
		MessageID:   MessageID(messageID),
		Inputs:      inputs,
	}, nil
}

// ParseGenericProtocolMessage decodes raw wire bytes
func ParseGenericProtocolMessage(raw []byte) (*GenericProtocolMessage, error) {
	e, err := encoding.Decode(raw)
	if err != nil {
		return nil, err
	}
	return DecodeGenericProtocolMessage(e)
}

// ReceivedMessage is a protocol message handed to the engine by the transport
type ReceivedMessage struct {
	Message              *GenericProtocolMessage
	ReceptionChannelInfo ReceptionChannelInfo
	ToOwnedIdentity      crypto.CryptoIdentity
	Timestamp            time.Time
	// ServerResponse is set on messages received over the server query channel
	ServerResponse []encoding.Encoded
}

// ReceivedNotification is a protocol message decrypted from an out-of-band
// notification pushed by the server. It always comes from an oblivious channel.
type ReceivedNotification struct {
	Message         *GenericProtocolMessage
	ToOwnedIdentity crypto.CryptoIdentity
	RemoteIdentity  crypto.CryptoIdentity
	RemoteDeviceUID crypto.UID
	Timestamp       time.Time
}

// ReceptionChannelInfo returns the channel the notification's message arrived over
func (n *ReceivedNotification) ReceptionChannelInfo() ReceptionChannelInfo {
	return ObliviousChannelReception(n.RemoteIdentity, n.RemoteDeviceUID)
}

// IncomingMessage is what a message decoder sees: the envelope plus the raw inputs
type IncomingMessage struct {
	Core           *CoreProtocolMessage
	MessageID      MessageID
	Inputs         []encoding.Encoded
	ServerResponse []encoding.Encoded
}

// InputsOf returns the inputs, failing unless there are exactly n
func (in *IncomingMessage) InputsOf(n int) ([]encoding.Encoded, error) {
	if len(in.Inputs) != n {
		return nil, obverr.Malformedf("decode_message", "%w: message %d wants %d inputs, got %d",
			encoding.ErrArity, in.MessageID, n, len(in.Inputs))
	}
	return in.Inputs, nil
}

// OutboundMessage is handed to the channel delegate for delivery
type OutboundMessage struct {
	Core    *CoreProtocolMessage
	Message *GenericProtocolMessage
}

// ConcreteMessage is a decoded message of one protocol
type ConcreteMessage interface {
	MessageID() MessageID
	EncodedInputs() []encoding.Encoded
	CoreMessage() *CoreProtocolMessage
}

// MessageBase carries the envelope of a concrete message
type MessageBase struct {
	Core *CoreProtocolMessage
}

// CoreMessage returns the envelope
func (b MessageBase) CoreMessage() *CoreProtocolMessage {
	return b.Core
}

// Generic converts a concrete message to its wire form
func Generic(m ConcreteMessage) *GenericProtocolMessage {
	core := m.CoreMessage()
	return &GenericProtocolMessage{
		ProtocolID:  core.ProtocolID,
		InstanceUID: core.InstanceUID,
		MessageID:   m.MessageID(),
		Inputs:      m.EncodedInputs(),
	}
}
