package protocol

import (
	"fmt"
	"time"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

// CoreProtocolMessage is the envelope shared by every concrete protocol message.
// Exactly one of ChannelType (outbound) and ReceptionChannelInfo (inbound) is set.
type CoreProtocolMessage struct {
	ChannelType                 *SendChannelType
	ReceptionChannelInfo        *ReceptionChannelInfo
	ToOwnedIdentity             crypto.CryptoIdentity
	ProtocolID                  ProtocolID
	InstanceUID                 crypto.UID
	PartOfFullRatchetOfSendSeed bool
	Timestamp                   time.Time
}

// NewCoreMessageFromReceived builds the envelope of a message received over a channel
func NewCoreMessageFromReceived(rm *ReceivedMessage) *CoreProtocolMessage {
	reception := rm.ReceptionChannelInfo
	return &CoreProtocolMessage{
		ReceptionChannelInfo:        &reception,
		ToOwnedIdentity:             rm.ToOwnedIdentity,
		ProtocolID:                  rm.Message.ProtocolID,
		InstanceUID:                 rm.Message.InstanceUID,
		PartOfFullRatchetOfSendSeed: false,
		Timestamp:                   rm.Timestamp,
	}
}

// NewCoreMessageFromNotification builds the envelope of a message decrypted from an
// out-of-band notification
func NewCoreMessageFromNotification(n *ReceivedNotification) *CoreProtocolMessage {
	reception := n.ReceptionChannelInfo()
	return &CoreProtocolMessage{
		ReceptionChannelInfo: &reception,
		ToOwnedIdentity:      n.ToOwnedIdentity,
		ProtocolID:           n.Message.ProtocolID,
		InstanceUID:          n.Message.InstanceUID,
		Timestamp:            n.Timestamp,
	}
}

// NewCoreMessageToSend builds the envelope of a message about to be posted on channel
func NewCoreMessageToSend(channel SendChannelType, protocolID ProtocolID, uid crypto.UID, partOfFullRatchet bool) *CoreProtocolMessage {
	return &CoreProtocolMessage{
		ChannelType:                 &channel,
		ToOwnedIdentity:             channel.From,
		ProtocolID:                  protocolID,
		InstanceUID:                 uid,
		PartOfFullRatchetOfSendSeed: partOfFullRatchet,
		Timestamp:                   time.Now(),
	}
}

// newSyntheticCoreMessage imitates a received message so the engine can run a step
// without a network round trip. Only local and server query receptions can be
// synthesized.
func newSyntheticCoreMessage(reception ReceptionChannelInfo, owned crypto.CryptoIdentity, protocolID ProtocolID, uid crypto.UID) (*CoreProtocolMessage, error) {
	switch reception.Kind {
	case ReceptionLocal, ReceptionServerQuery:
	default:
		return nil, obverr.Logicf("synthesize_message", "cannot synthesize a message received on %s", reception.Kind)
	}
	return &CoreProtocolMessage{
		ReceptionChannelInfo: &reception,
		ToOwnedIdentity:      owned,
		ProtocolID:           protocolID,
		InstanceUID:          uid,
		Timestamp:            time.Now(),
	}, nil
}

// IsOutbound reports whether the envelope describes a message to send
func (c *CoreProtocolMessage) IsOutbound() bool {
	return c.ChannelType != nil
}

func (c *CoreProtocolMessage) String() string {
	if c.ChannelType != nil {
		return fmt.Sprintf("%s/%s via %s", c.ProtocolID, c.InstanceUID.Short(), c.ChannelType.Kind)
	}
	return fmt.Sprintf("%s/%s from %s", c.ProtocolID, c.InstanceUID.Short(), c.ReceptionChannelInfo)
}
