// Package mutualscan implements trust establishment by mutual scan: Alice scans
// Bob's identity, signs both identities and sends the signature to Bob over the
// asymmetric channel. Bob checks it, adds Alice as a contact and confirms with his
// details. Alice then adds Bob.
package mutualscan

import (
	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/protocol"
)

// State ids
const (
	InitialStateID                protocol.StateID = 0
	WaitingForConfirmationStateID protocol.StateID = 1
	FinishedStateID               protocol.StateID = 2
	CancelledStateID              protocol.StateID = 3
)

// InitialState is the state of an instance that has not run yet
type InitialState struct{}

func (InitialState) StateID() protocol.StateID { return InitialStateID }

func (InitialState) ObvEncode() encoding.Encoded { return encoding.EncodeList() }

// WaitingForConfirmationState is Alice's state once her signature is on its way
type WaitingForConfirmationState struct {
	BobIdentity crypto.CryptoIdentity
}

func (WaitingForConfirmationState) StateID() protocol.StateID { return WaitingForConfirmationStateID }

func (s WaitingForConfirmationState) ObvEncode() encoding.Encoded {
	return encoding.EncodeList(s.BobIdentity.ObvEncode())
}

func decodeWaitingForConfirmation(e encoding.Encoded) (protocol.ConcreteState, error) {
	items, err := e.DecodeListOf(1)
	if err != nil {
		return nil, err
	}
	bob, err := crypto.DecodeIdentity(items[0])
	if err != nil {
		return nil, err
	}
	return WaitingForConfirmationState{BobIdentity: bob}, nil
}

// FinishedState is terminal: both sides are contacts
type FinishedState struct{}

func (FinishedState) StateID() protocol.StateID { return FinishedStateID }

func (FinishedState) ObvEncode() encoding.Encoded { return encoding.EncodeList() }

// CancelledState is terminal: the exchange was refused
type CancelledState struct{}

func (CancelledState) StateID() protocol.StateID { return CancelledStateID }

func (CancelledState) ObvEncode() encoding.Encoded { return encoding.EncodeList() }

func decodeEmpty(state protocol.ConcreteState) protocol.StateDecoder {
	return func(e encoding.Encoded) (protocol.ConcreteState, error) {
		if _, err := e.DecodeListOf(0); err != nil {
			return nil, err
		}
		return state, nil
	}
}
