// Package protocol implements the engine that runs multi-party cryptographic
// protocols as persisted state machines.
//
// # Protocol Overview
//
// A protocol instance is one run of a protocol between identities, addressed by
// (owned identity, protocol id, instance UID). Its current state is stored by the
// storage layer as an encoded payload tagged with a StateID. Instances advance when
// a message arrives:
//   - the engine decodes the message into the protocol's concrete message type
//   - it loads the current state (Initial when the instance is new)
//   - it selects the unique step declared for (state id, message id)
//   - it checks the message arrived over the channel the step expects
//   - it runs the step inside one transaction and commits the next state together
//     with every identity mutation and outbound envelope the step produced
//
// # Channels
//
// Outbound messages carry a SendChannelType (local, server query, oblivious
// channel, asymmetric channel, user interface). Inbound messages carry a
// ReceptionChannelInfo describing how they actually arrived. Steps declare the
// reception channel they accept; a mismatch is a logic fault and rolls back.
//
// # Step Results
//
// A step returns one of three results:
//   - Transition: persist a new state
//   - NoOp: commit side effects, keep the current state
//   - Reject: roll back side effects, keep the current state
//
// A message that matches no step is dropped with a KindNoApplicableStep error and
// never touches the persisted state. Terminal states (Finished, Cancelled) have no
// steps, so every later message for such an instance is dropped.
//
// # Wire Format
//
// Protocol messages travel as an encoded list:
//
//	[protocolID int, instanceUID bytes, messageID int, [inputs...]]
//
// Local messages never leave the process: they are dispatched back into the engine
// after the transaction that posted them commits.
package protocol
