package protocol

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
	"github.com/ZentaChain/obvengine/pkg/storage"
)

// ConcreteState is one state variant of a protocol. The state id is persisted next
// to the encoded state, not inside it.
type ConcreteState interface {
	StateID() StateID
	ObvEncode() encoding.Encoded
}

type resultKind int

const (
	resultTransition resultKind = iota
	resultNoOp
	resultReject
)

// StepResult is what a step decides
type StepResult struct {
	kind   resultKind
	state  ConcreteState
	reason string
}

// Transition commits the step's side effects and moves the instance to state
func Transition(state ConcreteState) StepResult {
	return StepResult{kind: resultTransition, state: state}
}

// NoOp commits the step's side effects and keeps the current state
func NoOp() StepResult {
	return StepResult{kind: resultNoOp}
}

// Reject rolls back the step's side effects and keeps the current state
func Reject(reason string) StepResult {
	return StepResult{kind: resultReject, reason: reason}
}

// NewState returns the state to persist, if any
func (r StepResult) NewState() (ConcreteState, bool) {
	return r.state, r.kind == resultTransition
}

// IsRejected reports whether the step rejected its input
func (r StepResult) IsRejected() bool {
	return r.kind == resultReject
}

// Reason is the rejection reason
func (r StepResult) Reason() string {
	return r.reason
}

type stepFunc func(sc *StepContext, state ConcreteState, msg ConcreteMessage) (StepResult, error)

// Step is one entry of a protocol's step table
type Step struct {
	Name              string
	StateID           StateID
	MessageID         MessageID
	ExpectedReception ReceptionChannelInfo
	run               stepFunc
}

// NewStep declares a step accepting state S with id stateID and message M with id
// msgID received over expected
func NewStep[S ConcreteState, M ConcreteMessage](name string, stateID StateID, msgID MessageID, expected ReceptionChannelInfo, fn func(*StepContext, S, M) (StepResult, error)) Step {
	return Step{
		Name:              name,
		StateID:           stateID,
		MessageID:         msgID,
		ExpectedReception: expected,
		run: func(sc *StepContext, state ConcreteState, msg ConcreteMessage) (StepResult, error) {
			s, ok := state.(S)
			if !ok {
				return StepResult{}, obverr.Logicf("run_step", "step %s got state %T", name, state)
			}
			m, ok := msg.(M)
			if !ok {
				return StepResult{}, obverr.Logicf("run_step", "step %s got message %T", name, msg)
			}
			return fn(sc, s, m)
		},
	}
}

// StepContext gives a running step access to the unit of work and its collaborators
type StepContext struct {
	OwnedIdentity crypto.CryptoIdentity
	ProtocolID    ProtocolID
	InstanceUID   crypto.UID
	Message       *IncomingMessage
	Identities    IdentityDelegate
	Services      *crypto.Services
	Logger        *logrus.Entry

	oc      *storage.ObvContext
	channel ChannelDelegate
	locals  []*IncomingMessage
	posted  []uuid.UUID
}

// ObvContext returns the unit of work the step runs in
func (sc *StepContext) ObvContext() *storage.ObvContext {
	return sc.oc
}

// NewCoreMessage builds an outbound envelope for this instance
func (sc *StepContext) NewCoreMessage(channel SendChannelType) *CoreProtocolMessage {
	return NewCoreMessageToSend(channel, sc.ProtocolID, sc.InstanceUID, false)
}

// Post sends msg on the channel of its envelope. Local messages are dispatched
// after the step commits and get no delivery handle.
func (sc *StepContext) Post(msg ConcreteMessage) (uuid.UUID, error) {
	core := msg.CoreMessage()
	if core == nil || core.ChannelType == nil {
		return uuid.Nil, obverr.Logicf("post_message", "message %d has no send channel", msg.MessageID())
	}

	if core.ChannelType.Kind == SendLocal {
		synthetic, err := newSyntheticCoreMessage(LocalReception, core.ChannelType.From, core.ProtocolID, core.InstanceUID)
		if err != nil {
			return uuid.Nil, err
		}
		sc.locals = append(sc.locals, &IncomingMessage{
			Core:      synthetic,
			MessageID: msg.MessageID(),
			Inputs:    msg.EncodedInputs(),
		})
		return uuid.Nil, nil
	}

	handle, err := sc.channel.Post(sc.oc, &OutboundMessage{Core: core, Message: Generic(msg)})
	if err != nil {
		return uuid.Nil, fmt.Errorf("post %s message %d: %w", core.ChannelType.Kind, msg.MessageID(), err)
	}
	sc.posted = append(sc.posted, handle)
	return handle, nil
}
