package protocol

import (
	"errors"
	"fmt"

	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

var (
	ErrDuplicateStep  = errors.New("duplicate step for state and message")
	ErrTerminalStep   = errors.New("terminal state has a step")
	ErrUnknownState   = errors.New("unknown state id")
	ErrUnknownMessage = errors.New("unknown message id")
)

// StateDecoder decodes the persisted payload of one state variant
type StateDecoder func(encoding.Encoded) (ConcreteState, error)

// MessageDecoder decodes one message variant
type MessageDecoder func(*IncomingMessage) (ConcreteMessage, error)

// Protocol is the closed definition of one protocol: its state and message
// variants and its step table
type Protocol struct {
	ID       ProtocolID
	States   map[StateID]StateDecoder
	Messages map[MessageID]MessageDecoder
	Steps    []Step
	// Initial returns the state of an instance that has never been persisted
	Initial func() ConcreteState
	// Terminal lists the states no step may accept
	Terminal []StateID
}

// Validate checks the step table: at most one step per (state, message), no step
// on a terminal state, and every step refers to declared variants
func (p *Protocol) Validate() error {
	if p.Initial == nil {
		return fmt.Errorf("protocol %s has no initial state", p.ID)
	}

	terminal := make(map[StateID]bool, len(p.Terminal))
	for _, id := range p.Terminal {
		terminal[id] = true
	}

	type key struct {
		state StateID
		msg   MessageID
	}
	seen := make(map[key]string, len(p.Steps))
	for _, step := range p.Steps {
		k := key{step.StateID, step.MessageID}
		if other, ok := seen[k]; ok {
			return fmt.Errorf("%w: %s and %s", ErrDuplicateStep, other, step.Name)
		}
		seen[k] = step.Name

		if terminal[step.StateID] {
			return fmt.Errorf("%w: %s", ErrTerminalStep, step.Name)
		}
		if _, ok := p.States[step.StateID]; !ok && step.StateID != InitialStateID {
			return fmt.Errorf("%w: step %s state %d", ErrUnknownState, step.Name, step.StateID)
		}
		if _, ok := p.Messages[step.MessageID]; !ok {
			return fmt.Errorf("%w: step %s message %d", ErrUnknownMessage, step.Name, step.MessageID)
		}
	}
	return nil
}

// IsTerminal reports whether state is one of the protocol's terminal states
func (p *Protocol) IsTerminal(state StateID) bool {
	for _, id := range p.Terminal {
		if id == state {
			return true
		}
	}
	return false
}

// FindStep returns the unique step for a state and message
func (p *Protocol) FindStep(state StateID, msg MessageID) (*Step, bool) {
	for i := range p.Steps {
		if p.Steps[i].StateID == state && p.Steps[i].MessageID == msg {
			return &p.Steps[i], true
		}
	}
	return nil, false
}

// DecodeState decodes a persisted state
func (p *Protocol) DecodeState(id StateID, e encoding.Encoded) (ConcreteState, error) {
	decode, ok := p.States[id]
	if !ok {
		return nil, obverr.Logic("decode_state", fmt.Errorf("%w: %s state %d", ErrUnknownState, p.ID, id))
	}
	state, err := decode(e)
	if err != nil {
		return nil, obverr.Logic("decode_state", fmt.Errorf("%s state %d: %w", p.ID, id, err))
	}
	if state.StateID() != id {
		return nil, obverr.Logicf("decode_state", "%s state %d decoded as %d", p.ID, id, state.StateID())
	}
	return state, nil
}

// DecodeMessage decodes an incoming message
func (p *Protocol) DecodeMessage(in *IncomingMessage) (ConcreteMessage, error) {
	decode, ok := p.Messages[in.MessageID]
	if !ok {
		return nil, obverr.Malformed("decode_message", fmt.Errorf("%w: %s message %d", ErrUnknownMessage, p.ID, in.MessageID))
	}
	return decode(in)
}
