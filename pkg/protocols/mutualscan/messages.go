package mutualscan

import (
	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/identity"
	"github.com/ZentaChain/obvengine/pkg/protocol"
)

// Message ids
const (
	InitialMessageID                  protocol.MessageID = 0
	AliceSendsSignatureToBobMessageID protocol.MessageID = 1
	BobSendsConfirmationMessageID     protocol.MessageID = 2
)

// InitialMessage starts the protocol on Alice's side after she scanned Bob
type InitialMessage struct {
	protocol.MessageBase
	BobIdentity crypto.CryptoIdentity
	Signature   []byte
}

func (InitialMessage) MessageID() protocol.MessageID { return InitialMessageID }

func (m InitialMessage) EncodedInputs() []encoding.Encoded {
	return []encoding.Encoded{m.BobIdentity.ObvEncode(), encoding.EncodeBytes(m.Signature)}
}

func decodeInitialMessage(in *protocol.IncomingMessage) (protocol.ConcreteMessage, error) {
	inputs, err := in.InputsOf(2)
	if err != nil {
		return nil, err
	}
	m := InitialMessage{MessageBase: protocol.MessageBase{Core: in.Core}}
	if m.BobIdentity, err = crypto.DecodeIdentity(inputs[0]); err != nil {
		return nil, err
	}
	if m.Signature, err = inputs[1].DecodeBytes(); err != nil {
		return nil, err
	}
	return m, nil
}

// AliceSendsSignatureToBobMessage carries Alice's signature over both identities
type AliceSendsSignatureToBobMessage struct {
	protocol.MessageBase
	AliceIdentity crypto.CryptoIdentity
	Signature     []byte
	AliceDetails  *identity.Details
}

func (AliceSendsSignatureToBobMessage) MessageID() protocol.MessageID {
	return AliceSendsSignatureToBobMessageID
}

func (m AliceSendsSignatureToBobMessage) EncodedInputs() []encoding.Encoded {
	return []encoding.Encoded{
		m.AliceIdentity.ObvEncode(),
		encoding.EncodeBytes(m.Signature),
		m.AliceDetails.ObvEncode(),
	}
}

func decodeAliceSendsSignatureToBob(in *protocol.IncomingMessage) (protocol.ConcreteMessage, error) {
	inputs, err := in.InputsOf(3)
	if err != nil {
		return nil, err
	}
	m := AliceSendsSignatureToBobMessage{MessageBase: protocol.MessageBase{Core: in.Core}}
	if m.AliceIdentity, err = crypto.DecodeIdentity(inputs[0]); err != nil {
		return nil, err
	}
	if m.Signature, err = inputs[1].DecodeBytes(); err != nil {
		return nil, err
	}
	if m.AliceDetails, err = identity.DecodeDetails(inputs[2]); err != nil {
		return nil, err
	}
	return m, nil
}

// BobSendsConfirmationMessage tells Alice that Bob added her, with his details
type BobSendsConfirmationMessage struct {
	protocol.MessageBase
	BobIdentity crypto.CryptoIdentity
	BobDetails  *identity.Details
}

func (BobSendsConfirmationMessage) MessageID() protocol.MessageID {
	return BobSendsConfirmationMessageID
}

func (m BobSendsConfirmationMessage) EncodedInputs() []encoding.Encoded {
	return []encoding.Encoded{m.BobIdentity.ObvEncode(), m.BobDetails.ObvEncode()}
}

func decodeBobSendsConfirmation(in *protocol.IncomingMessage) (protocol.ConcreteMessage, error) {
	inputs, err := in.InputsOf(2)
	if err != nil {
		return nil, err
	}
	m := BobSendsConfirmationMessage{MessageBase: protocol.MessageBase{Core: in.Core}}
	if m.BobIdentity, err = crypto.DecodeIdentity(inputs[0]); err != nil {
		return nil, err
	}
	if m.BobDetails, err = identity.DecodeDetails(inputs[1]); err != nil {
		return nil, err
	}
	return m, nil
}
