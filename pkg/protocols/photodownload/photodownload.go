// Package photodownload implements the download of a contact's profile photo:
// the published details name a server label and a key; the photo is fetched with
// a server query, decrypted, and stored on the contact.
package photodownload

import (
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/identity"
	"github.com/ZentaChain/obvengine/pkg/obverr"
	"github.com/ZentaChain/obvengine/pkg/protocol"
	"github.com/ZentaChain/obvengine/pkg/servermethod"
)

// State ids
const (
	InitialStateID          protocol.StateID = 0
	DownloadingPhotoStateID protocol.StateID = 1
	FinishedStateID         protocol.StateID = 2
	CancelledStateID        protocol.StateID = 3
)

// Message ids
const (
	InitialMessageID        protocol.MessageID = 0
	ServerGetPhotoMessageID protocol.MessageID = 1
)

// ===== STATES =====

type InitialState struct{}

func (InitialState) StateID() protocol.StateID { return InitialStateID }

func (InitialState) ObvEncode() encoding.Encoded { return encoding.EncodeList() }

// DownloadingPhotoState waits for the server's answer
type DownloadingPhotoState struct {
	Contact crypto.CryptoIdentity
	Label   crypto.UID
	Key     crypto.AuthEncKey
}

func (DownloadingPhotoState) StateID() protocol.StateID { return DownloadingPhotoStateID }

func (s DownloadingPhotoState) ObvEncode() encoding.Encoded {
	return encoding.EncodeList(s.Contact.ObvEncode(), s.Label.ObvEncode(), s.Key.ObvEncode())
}

func decodeDownloadingPhoto(e encoding.Encoded) (protocol.ConcreteState, error) {
	items, err := e.DecodeListOf(3)
	if err != nil {
		return nil, err
	}
	var s DownloadingPhotoState
	if s.Contact, err = crypto.DecodeIdentity(items[0]); err != nil {
		return nil, err
	}
	if s.Label, err = crypto.DecodeUID(items[1]); err != nil {
		return nil, err
	}
	if s.Key, err = crypto.DecodeAuthEncKey(items[2]); err != nil {
		return nil, err
	}
	return s, nil
}

type FinishedState struct{}

func (FinishedState) StateID() protocol.StateID { return FinishedStateID }

func (FinishedState) ObvEncode() encoding.Encoded { return encoding.EncodeList() }

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

// ===== MESSAGES =====

// InitialMessage asks for the photo named in a contact's details
type InitialMessage struct {
	protocol.MessageBase
	Contact crypto.CryptoIdentity
	Details *identity.Details
}

func (InitialMessage) MessageID() protocol.MessageID { return InitialMessageID }

func (m InitialMessage) EncodedInputs() []encoding.Encoded {
	details := m.Details
	if details == nil {
		details = &identity.Details{}
	}
	return []encoding.Encoded{m.Contact.ObvEncode(), details.ObvEncode()}
}

func decodeInitialMessage(in *protocol.IncomingMessage) (protocol.ConcreteMessage, error) {
	inputs, err := in.InputsOf(2)
	if err != nil {
		return nil, err
	}
	m := InitialMessage{MessageBase: protocol.MessageBase{Core: in.Core}}
	if m.Contact, err = crypto.DecodeIdentity(inputs[0]); err != nil {
		return nil, err
	}
	if m.Details, err = identity.DecodeDetails(inputs[1]); err != nil {
		return nil, err
	}
	return m, nil
}

// ServerGetPhotoMessage is posted as a server query and comes back with the
// server's response
type ServerGetPhotoMessage struct {
	protocol.MessageBase
	Status byte
	Data   []byte
}

func (ServerGetPhotoMessage) MessageID() protocol.MessageID { return ServerGetPhotoMessageID }

func (ServerGetPhotoMessage) EncodedInputs() []encoding.Encoded { return nil }

func decodeServerGetPhoto(in *protocol.IncomingMessage) (protocol.ConcreteMessage, error) {
	if _, err := in.InputsOf(0); err != nil {
		return nil, err
	}
	m := ServerGetPhotoMessage{MessageBase: protocol.MessageBase{Core: in.Core}}
	if in.ServerResponse == nil {
		return nil, obverr.Malformedf("decode_message", "server get photo message without response")
	}
	var err error
	if m.Status, m.Data, err = protocol.DecodeServerResponse(in.ServerResponse); err != nil {
		return nil, err
	}
	return m, nil
}

// ===== PROTOCOL =====

// Protocol returns the protocol definition to register with the engine
func Protocol() *protocol.Protocol {
	return &protocol.Protocol{
		ID: protocol.DownloadIdentityPhotoProtocolID,
		States: map[protocol.StateID]protocol.StateDecoder{
			InitialStateID:          decodeEmpty(InitialState{}),
			DownloadingPhotoStateID: decodeDownloadingPhoto,
			FinishedStateID:         decodeEmpty(FinishedState{}),
			CancelledStateID:        decodeEmpty(CancelledState{}),
		},
		Messages: map[protocol.MessageID]protocol.MessageDecoder{
			InitialMessageID:        decodeInitialMessage,
			ServerGetPhotoMessageID: decodeServerGetPhoto,
		},
		Steps: []protocol.Step{
			protocol.NewStep("QueryServerForPhoto", InitialStateID, InitialMessageID,
				protocol.LocalReception, queryServerForPhoto),
			protocol.NewStep("ProcessPhoto", DownloadingPhotoStateID, ServerGetPhotoMessageID,
				protocol.ServerQueryReception, processPhoto),
		},
		Initial:  func() protocol.ConcreteState { return InitialState{} },
		Terminal: []protocol.StateID{FinishedStateID, CancelledStateID},
	}
}

// NewInitialMessage builds the local message that starts a download for owned
func NewInitialMessage(owned crypto.CryptoIdentity, uid crypto.UID, contact crypto.CryptoIdentity, details *identity.Details) InitialMessage {
	core := protocol.NewCoreMessageToSend(protocol.LocalChannel(owned), protocol.DownloadIdentityPhotoProtocolID, uid, false)
	return InitialMessage{MessageBase: protocol.MessageBase{Core: core}, Contact: contact, Details: details}
}

// EncryptPhoto encrypts a photo under a fresh key, as uploaded with putUserData
func EncryptPhoto(services *crypto.Services, photo []byte) (crypto.AuthEncKey, []byte, error) {
	key, err := services.NewAuthEncKey()
	if err != nil {
		return crypto.AuthEncKey{}, nil, err
	}
	alg, err := crypto.AuthEncForKey(key)
	if err != nil {
		return crypto.AuthEncKey{}, nil, err
	}
	ciphertext, err := alg.Encrypt(key, photo, services.PRNG)
	if err != nil {
		return crypto.AuthEncKey{}, nil, err
	}
	return key, ciphertext, nil
}

func queryServerForPhoto(sc *protocol.StepContext, _ InitialState, msg InitialMessage) (protocol.StepResult, error) {
	if msg.Details == nil || !msg.Details.HasPhoto() {
		return protocol.Reject("details carry no photo"), nil
	}
	state := DownloadingPhotoState{Contact: msg.Contact, Label: *msg.Details.PhotoLabel, Key: *msg.Details.PhotoKey}

	if err := postQuery(sc, state); err != nil {
		return protocol.StepResult{}, err
	}
	return protocol.Transition(state), nil
}

func processPhoto(sc *protocol.StepContext, state DownloadingPhotoState, msg ServerGetPhotoMessage) (protocol.StepResult, error) {
	log := sc.Logger.WithFields(logrus.Fields{
		"contact": state.Contact.Fingerprint(),
		"label":   state.Label.Short(),
	})

	switch servermethod.GetUserDataStatus(msg.Status) {
	case servermethod.GetUserDataOK:
	case servermethod.GetUserDataDeletedFromServer:
		log.Info("Photo deleted from server")
		return protocol.Transition(CancelledState{}), nil
	default:
		log.WithField("status", msg.Status).Warn("Photo download failed, querying again")
		if err := postQuery(sc, state); err != nil {
			return protocol.StepResult{}, err
		}
		return protocol.NoOp(), nil
	}

	alg, err := crypto.AuthEncForKey(state.Key)
	if err != nil {
		return protocol.StepResult{}, err
	}
	photo, err := alg.Decrypt(state.Key, msg.Data)
	if err != nil {
		log.WithError(err).Warn("Downloaded photo does not decrypt")
		return protocol.Transition(CancelledState{}), nil
	}

	err = sc.Identities.SetContactPhoto(sc.ObvContext(), sc.OwnedIdentity, state.Contact, state.Label, photo)
	if obverr.Is(err, obverr.KindNotFound) {
		log.Info("Contact disappeared before its photo arrived")
		return protocol.Transition(CancelledState{}), nil
	}
	if err != nil {
		return protocol.StepResult{}, err
	}

	log.WithField("bytes", len(photo)).Info("Stored contact photo")
	return protocol.Transition(FinishedState{}), nil
}

func postQuery(sc *protocol.StepContext, state DownloadingPhotoState) error {
	query := &protocol.ServerQuery{Kind: protocol.GetUserDataQuery, Identity: state.Contact, Label: state.Label}
	out := ServerGetPhotoMessage{
		MessageBase: protocol.MessageBase{Core: sc.NewCoreMessage(protocol.ServerQueryChannel(sc.OwnedIdentity, query))},
	}
	_, err := sc.Post(out)
	return err
}
