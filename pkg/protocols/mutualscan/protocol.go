package mutualscan

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/identity"
	"github.com/ZentaChain/obvengine/pkg/protocol"
	"github.com/ZentaChain/obvengine/pkg/storage"
)

const challengePrefix = "mutualScan"

// Protocol returns the protocol definition to register with the engine
func Protocol() *protocol.Protocol {
	return &protocol.Protocol{
		ID: protocol.TrustEstablishmentWithMutualScanProtocolID,
		States: map[protocol.StateID]protocol.StateDecoder{
			InitialStateID:                decodeEmpty(InitialState{}),
			WaitingForConfirmationStateID: decodeWaitingForConfirmation,
			FinishedStateID:               decodeEmpty(FinishedState{}),
			CancelledStateID:              decodeEmpty(CancelledState{}),
		},
		Messages: map[protocol.MessageID]protocol.MessageDecoder{
			InitialMessageID:                  decodeInitialMessage,
			AliceSendsSignatureToBobMessageID: decodeAliceSendsSignatureToBob,
			BobSendsConfirmationMessageID:     decodeBobSendsConfirmation,
		},
		Steps: []protocol.Step{
			protocol.NewStep("AliceSendsSignatureToBob", InitialStateID, InitialMessageID,
				protocol.LocalReception, aliceSendsSignatureToBob),
			protocol.NewStep("BobAddsContactAndConfirms", InitialStateID, AliceSendsSignatureToBobMessageID,
				protocol.AsymmetricChannelReception, bobAddsContactAndConfirms),
			protocol.NewStep("AliceAddsContact", WaitingForConfirmationStateID, BobSendsConfirmationMessageID,
				protocol.AsymmetricChannelReception, aliceAddsContact),
		},
		Initial:  func() protocol.ConcreteState { return InitialState{} },
		Terminal: []protocol.StateID{FinishedStateID, CancelledStateID},
	}
}

// Challenge is what the signer signs: the prefix, then the signer, then the other party
func Challenge(signer, other crypto.CryptoIdentity) []byte {
	var buf bytes.Buffer
	buf.WriteString(challengePrefix)
	buf.Write(signer.Bytes())
	buf.Write(other.Bytes())
	return buf.Bytes()
}

// Sign produces Alice's signature after she scanned bob
func Sign(alice *crypto.OwnedIdentity, bob crypto.CryptoIdentity) []byte {
	return alice.Sign(Challenge(alice.Identity(), bob))
}

// NewInitialMessage builds the local message that starts an instance for alice
func NewInitialMessage(alice crypto.CryptoIdentity, uid crypto.UID, bob crypto.CryptoIdentity, signature []byte) InitialMessage {
	core := protocol.NewCoreMessageToSend(protocol.LocalChannel(alice),
		protocol.TrustEstablishmentWithMutualScanProtocolID, uid, false)
	return InitialMessage{
		MessageBase: protocol.MessageBase{Core: core},
		BobIdentity: bob,
		Signature:   signature,
	}
}

func aliceSendsSignatureToBob(sc *protocol.StepContext, _ InitialState, msg InitialMessage) (protocol.StepResult, error) {
	if msg.BobIdentity.Equal(sc.OwnedIdentity) {
		return protocol.Reject("cannot establish trust with oneself"), nil
	}
	if !sc.OwnedIdentity.Verify(Challenge(sc.OwnedIdentity, msg.BobIdentity), msg.Signature) {
		return protocol.Reject("own signature does not verify"), nil
	}

	details, err := ownedDetails(sc)
	if err != nil {
		return protocol.StepResult{}, err
	}

	out := AliceSendsSignatureToBobMessage{
		MessageBase:   protocol.MessageBase{Core: sc.NewCoreMessage(protocol.AsymmetricChannel(msg.BobIdentity, sc.OwnedIdentity))},
		AliceIdentity: sc.OwnedIdentity,
		Signature:     msg.Signature,
		AliceDetails:  details,
	}
	if _, err := sc.Post(out); err != nil {
		return protocol.StepResult{}, err
	}

	sc.Logger.WithField("bob", msg.BobIdentity.Fingerprint()).Info("Sent mutual scan signature")
	return protocol.Transition(WaitingForConfirmationState{BobIdentity: msg.BobIdentity}), nil
}

func bobAddsContactAndConfirms(sc *protocol.StepContext, _ InitialState, msg AliceSendsSignatureToBobMessage) (protocol.StepResult, error) {
	if !msg.AliceIdentity.Verify(Challenge(msg.AliceIdentity, sc.OwnedIdentity), msg.Signature) {
		sc.Logger.WithField("alice", msg.AliceIdentity.Fingerprint()).Warn("Mutual scan signature does not verify")
		return protocol.Transition(CancelledState{}), nil
	}

	oc := sc.ObvContext()
	if err := sc.Identities.AddContact(oc, sc.OwnedIdentity, msg.AliceIdentity, msg.AliceDetails, storage.OriginMutualScan); err != nil {
		return protocol.StepResult{}, err
	}

	details, err := ownedDetails(sc)
	if err != nil {
		return protocol.StepResult{}, err
	}
	out := BobSendsConfirmationMessage{
		MessageBase: protocol.MessageBase{Core: sc.NewCoreMessage(protocol.AsymmetricChannel(msg.AliceIdentity, sc.OwnedIdentity))},
		BobIdentity: sc.OwnedIdentity,
		BobDetails:  details,
	}
	if _, err := sc.Post(out); err != nil {
		return protocol.StepResult{}, err
	}
	return protocol.Transition(FinishedState{}), nil
}

func aliceAddsContact(sc *protocol.StepContext, state WaitingForConfirmationState, msg BobSendsConfirmationMessage) (protocol.StepResult, error) {
	if !msg.BobIdentity.Equal(state.BobIdentity) {
		sc.Logger.WithFields(logrus.Fields{
			"expected": state.BobIdentity.Fingerprint(),
			"got":      msg.BobIdentity.Fingerprint(),
		}).Warn("Confirmation from an unexpected identity")
		return protocol.Transition(CancelledState{}), nil
	}

	if err := sc.Identities.AddContact(sc.ObvContext(), sc.OwnedIdentity, msg.BobIdentity, msg.BobDetails, storage.OriginMutualScan); err != nil {
		return protocol.StepResult{}, err
	}
	return protocol.Transition(FinishedState{}), nil
}

func ownedDetails(sc *protocol.StepContext) (*identity.Details, error) {
	details, err := sc.Identities.OwnedIdentityDetails(sc.ObvContext(), sc.OwnedIdentity)
	if err != nil {
		return nil, err
	}
	if details == nil {
		details = &identity.Details{}
	}
	return details, nil
}
