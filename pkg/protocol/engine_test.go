package protocol

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
	"github.com/ZentaChain/obvengine/pkg/storage"
)

// A small counter protocol exercising every engine path

const counterProtocolID ProtocolID = 99

const (
	counterInitial  StateID = 0
	counterCounting StateID = 1
	counterDone     StateID = 2
)

const (
	bumpMessageID MessageID = iota
	finishMessageID
	askMessageID
	rejectMessageID
	queryMessageID
)

type counterInitialState struct{}

func (counterInitialState) StateID() StateID            { return counterInitial }
func (counterInitialState) ObvEncode() encoding.Encoded { return encoding.EncodeList() }

type countingState struct{ N int64 }

func (countingState) StateID() StateID { return counterCounting }
func (s countingState) ObvEncode() encoding.Encoded {
	return encoding.EncodeList(encoding.EncodeInt(s.N))
}

type counterDoneState struct{}

func (counterDoneState) StateID() StateID            { return counterDone }
func (counterDoneState) ObvEncode() encoding.Encoded { return encoding.EncodeList() }

type counterMessage struct {
	MessageBase
	id     MessageID
	inputs []encoding.Encoded
	resp   []encoding.Encoded
}

func (m counterMessage) MessageID() MessageID              { return m.id }
func (m counterMessage) EncodedInputs() []encoding.Encoded { return m.inputs }

func decodeCounterMessage(in *IncomingMessage) (ConcreteMessage, error) {
	return counterMessage{MessageBase: MessageBase{Core: in.Core}, id: in.MessageID, inputs: in.Inputs, resp: in.ServerResponse}, nil
}

func counterProtocol(contact crypto.CryptoIdentity) *Protocol {
	messages := map[MessageID]MessageDecoder{}
	for _, id := range []MessageID{bumpMessageID, finishMessageID, askMessageID, rejectMessageID, queryMessageID} {
		messages[id] = decodeCounterMessage
	}

	return &Protocol{
		ID: counterProtocolID,
		States: map[StateID]StateDecoder{
			counterInitial: func(encoding.Encoded) (ConcreteState, error) { return counterInitialState{}, nil },
			counterCounting: func(e encoding.Encoded) (ConcreteState, error) {
				items, err := e.DecodeListOf(1)
				if err != nil {
					return nil, err
				}
				n, err := items[0].DecodeInt()
				return countingState{N: n}, err
			},
			counterDone: func(encoding.Encoded) (ConcreteState, error) { return counterDoneState{}, nil },
		},
		Messages: messages,
		Steps: []Step{
			NewStep("Start", counterInitial, bumpMessageID, LocalReception,
				func(sc *StepContext, _ counterInitialState, _ counterMessage) (StepResult, error) {
					return Transition(countingState{N: 1}), nil
				}),
			NewStep("Bump", counterCounting, bumpMessageID, LocalReception,
				func(sc *StepContext, s countingState, _ counterMessage) (StepResult, error) {
					return Transition(countingState{N: s.N + 1}), nil
				}),
			NewStep("Finish", counterCounting, finishMessageID, AsymmetricChannelReception,
				func(sc *StepContext, _ countingState, _ counterMessage) (StepResult, error) {
					out := counterMessage{
						MessageBase: MessageBase{Core: sc.NewCoreMessage(AsymmetricChannel(contact, sc.OwnedIdentity))},
						id:          finishMessageID,
					}
					if _, err := sc.Post(out); err != nil {
						return StepResult{}, err
					}
					return Transition(counterDoneState{}), nil
				}),
			NewStep("Ask", counterInitial, askMessageID, LocalReception,
				func(sc *StepContext, _ counterInitialState, _ counterMessage) (StepResult, error) {
					out := counterMessage{MessageBase: MessageBase{Core: sc.NewCoreMessage(LocalChannel(sc.OwnedIdentity))}, id: bumpMessageID}
					if _, err := sc.Post(out); err != nil {
						return StepResult{}, err
					}
					return NoOp(), nil
				}),
			NewStep("AddThenReject", counterCounting, rejectMessageID, LocalReception,
				func(sc *StepContext, _ countingState, _ counterMessage) (StepResult, error) {
					if err := sc.Identities.AddContact(sc.ObvContext(), sc.OwnedIdentity, contact, nil, storage.OriginManual); err != nil {
						return StepResult{}, err
					}
					return Reject("changed my mind"), nil
				}),
			NewStep("Query", counterCounting, queryMessageID, ServerQueryReception,
				func(sc *StepContext, s countingState, m counterMessage) (StepResult, error) {
					if m.resp == nil {
						query := &ServerQuery{Kind: GetUserDataQuery, Identity: contact, Label: crypto.UID{1}}
						out := counterMessage{MessageBase: MessageBase{Core: sc.NewCoreMessage(ServerQueryChannel(sc.OwnedIdentity, query))}, id: queryMessageID}
						_, err := sc.Post(out)
						return NoOp(), err
					}
					status, _, err := DecodeServerResponse(m.resp)
					if err != nil {
						return StepResult{}, err
					}
					return Transition(countingState{N: s.N + int64(status)}), nil
				}),
		},
		Initial:  func() ConcreteState { return counterInitialState{} },
		Terminal: []StateID{counterDone},
	}
}

type engineFixture struct {
	engine  *Engine
	db      *storage.Database
	outbox  *storage.Outbox
	owned   *crypto.OwnedIdentity
	contact *crypto.OwnedIdentity
	reg     *prometheus.Registry
}

func testOwnedIdentity(t *testing.T, seed byte) *crypto.OwnedIdentity {
	t.Helper()
	prng, err := crypto.NewSeededPRNG(bytes.Repeat([]byte{seed}, crypto.SeedLength))
	require.NoError(t, err)
	owned, err := crypto.GenerateOwnedIdentity("https://server.olvid.io", prng)
	require.NoError(t, err)
	return owned
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "engine.db"), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	prng, err := crypto.NewSeededPRNG(bytes.Repeat([]byte{9}, crypto.SeedLength))
	require.NoError(t, err)
	services := crypto.NewServices(prng)
	outbox := storage.NewOutbox(db, 0)
	reg := prometheus.NewRegistry()

	engine, err := NewEngine(Config{
		Database:   db,
		Channel:    NewOutboxChannel(outbox, services),
		Services:   services,
		Logger:     logger,
		Registerer: reg,
	})
	require.NoError(t, err)

	owned := testOwnedIdentity(t, 1)
	contact := testOwnedIdentity(t, 2)
	require.NoError(t, engine.Register(counterProtocol(contact.Identity())))

	identities := storage.NewIdentityStore()
	require.NoError(t, db.PerformAndWait(ctx, func(oc *storage.ObvContext) error {
		return identities.SaveOwnedIdentity(oc, owned, nil)
	}))

	return &engineFixture{engine: engine, db: db, outbox: outbox, owned: owned, contact: contact, reg: reg}
}

func (f *engineFixture) local(uid crypto.UID, id MessageID) counterMessage {
	core := NewCoreMessageToSend(LocalChannel(f.owned.Identity()), counterProtocolID, uid, false)
	return counterMessage{MessageBase: MessageBase{Core: core}, id: id}
}

func (f *engineFixture) received(uid crypto.UID, id MessageID, reception ReceptionChannelInfo) *ReceivedMessage {
	return &ReceivedMessage{
		Message:              &GenericProtocolMessage{ProtocolID: counterProtocolID, InstanceUID: uid, MessageID: id},
		ReceptionChannelInfo: reception,
		ToOwnedIdentity:      f.owned.Identity(),
		Timestamp:            time.Now(),
	}
}

func (f *engineFixture) state(t *testing.T, uid crypto.UID) ConcreteState {
	t.Helper()
	state, err := f.engine.State(context.Background(), f.owned.Identity(), counterProtocolID, uid)
	require.NoError(t, err)
	return state
}

func TestEngineTransitions(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	uid := crypto.UID{7}

	assert.Equal(t, counterInitialState{}, f.state(t, uid))

	result, err := f.engine.Start(ctx, f.local(uid, bumpMessageID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransitioned, result.Outcome)
	assert.Equal(t, "Start", result.Step)
	assert.Equal(t, counterInitial, result.PreviousState)
	assert.Equal(t, counterCounting, result.State)

	_, err = f.engine.Start(ctx, f.local(uid, bumpMessageID))
	require.NoError(t, err)
	assert.Equal(t, countingState{N: 2}, f.state(t, uid))

	assert.Equal(t, 2.0, testutil.ToFloat64(f.engine.stats.executed.WithLabelValues(counterProtocolID.String())))
}

func TestEngineDeterministicDispatch(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// The same state and message always select the same step and next state
	for i := byte(1); i <= 3; i++ {
		uid := crypto.UID{i}
		result, err := f.engine.Start(ctx, f.local(uid, bumpMessageID))
		require.NoError(t, err)
		assert.Equal(t, "Start", result.Step)
		assert.Equal(t, countingState{N: 1}, f.state(t, uid))
	}
}

func TestEngineNoApplicableStep(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	uid := crypto.UID{8}

	// finish is only accepted while counting
	result, err := f.engine.Process(ctx, f.received(uid, finishMessageID, AsymmetricChannelReception))
	require.Error(t, err)
	assert.True(t, obverr.Is(err, obverr.KindNoApplicableStep))
	assert.Equal(t, OutcomeDropped, result.Outcome)
	assert.Equal(t, counterInitialState{}, f.state(t, uid))

	// unknown protocol
	rm := f.received(uid, bumpMessageID, LocalReception)
	rm.Message.ProtocolID = 1234
	result, err = f.engine.Process(ctx, rm)
	assert.True(t, obverr.Is(err, obverr.KindNoApplicableStep))
	assert.Equal(t, OutcomeDropped, result.Outcome)
}

func TestEngineTerminalStateDropsEverything(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	uid := crypto.UID{9}

	_, err := f.engine.Start(ctx, f.local(uid, bumpMessageID))
	require.NoError(t, err)
	result, err := f.engine.Process(ctx, f.received(uid, finishMessageID, AsymmetricChannelReception))
	require.NoError(t, err)
	assert.Equal(t, counterDone, result.State)
	require.Len(t, result.Posted, 1)
	assert.Zero(t, f.engine.locks.Size(), "finished instance keeps its lock")

	for _, id := range []MessageID{bumpMessageID, finishMessageID, askMessageID, rejectMessageID} {
		_, err := f.engine.Start(ctx, f.local(uid, id))
		assert.True(t, obverr.Is(err, obverr.KindNoApplicableStep), "message %d", id)
	}
	assert.Equal(t, counterDoneState{}, f.state(t, uid))
	assert.Zero(t, f.engine.locks.Size())
}

func TestEngineKeepsLocksOfLiveInstances(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for i := byte(1); i <= 3; i++ {
		_, err := f.engine.Start(ctx, f.local(crypto.UID{0x40, i}, bumpMessageID))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.engine.locks.Size())

	_, err := f.engine.Process(ctx, f.received(crypto.UID{0x40, 2}, finishMessageID, AsymmetricChannelReception))
	require.NoError(t, err)
	assert.Equal(t, 2, f.engine.locks.Size())
}

func TestEngineWrongReceptionChannelIsLogicFault(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	uid := crypto.UID{10}

	_, err := f.engine.Start(ctx, f.local(uid, bumpMessageID))
	require.NoError(t, err)

	// Finish expects the asymmetric channel
	_, err = f.engine.Start(ctx, f.local(uid, finishMessageID))
	require.Error(t, err)
	assert.True(t, obverr.Is(err, obverr.KindLogic))

	var oe *obverr.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, counterProtocolID.String(), oe.Protocol)

	assert.Equal(t, countingState{N: 1}, f.state(t, uid))
	pending, err := f.outbox.Pending(ctx, -1, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.engine.stats.logicFaults.WithLabelValues(counterProtocolID.String())))
}

func TestEngineRejectRollsBack(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	uid := crypto.UID{11}

	_, err := f.engine.Start(ctx, f.local(uid, bumpMessageID))
	require.NoError(t, err)

	result, err := f.engine.Start(ctx, f.local(uid, rejectMessageID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.Equal(t, "changed my mind", result.Reason)

	identities := storage.NewIdentityStore()
	require.NoError(t, f.db.PerformAndWait(ctx, func(oc *storage.ObvContext) error {
		isContact, err := identities.IsContact(oc, f.owned.Identity(), f.contact.Identity())
		assert.False(t, isContact)
		return err
	}))
	assert.Equal(t, countingState{N: 1}, f.state(t, uid))
}

func TestEngineDispatchesLocalFollowups(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	uid := crypto.UID{12}

	result, err := f.engine.Start(ctx, f.local(uid, askMessageID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, result.Outcome)
	assert.Empty(t, result.Posted)
	require.Len(t, result.Followups, 1)
	assert.Equal(t, "Start", result.Followups[0].Step)
	assert.Equal(t, countingState{N: 1}, f.state(t, uid))
}

type fixedExecutor struct {
	status byte
	calls  int
}

func (e *fixedExecutor) ExecuteQuery(_ context.Context, q *ServerQuery) (byte, []byte, error) {
	e.calls++
	return e.status, q.Label[:], nil
}

func TestServerQueryRoundTrip(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	uid := crypto.UID{13}

	_, err := f.engine.Start(ctx, f.local(uid, bumpMessageID))
	require.NoError(t, err)

	// A server query reception cannot be faked through Start
	_, err = f.engine.Start(ctx, f.local(uid, queryMessageID))
	assert.True(t, obverr.Is(err, obverr.KindLogic))

	core, err := newSyntheticCoreMessage(ServerQueryReception, f.owned.Identity(), counterProtocolID, uid)
	require.NoError(t, err)
	result, err := f.engine.processIncoming(ctx, &IncomingMessage{Core: core, MessageID: queryMessageID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, result.Outcome)
	require.Len(t, result.Posted, 1)

	executor := &fixedExecutor{status: 5}
	runner := &ServerQueryRunner{Engine: f.engine, Outbox: f.outbox, Executor: executor}
	n, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, executor.calls)
	assert.Equal(t, countingState{N: 6}, f.state(t, uid))

	entry, err := f.outbox.Get(ctx, result.Posted[0])
	require.NoError(t, err)
	assert.NotNil(t, entry.SentAt)

	// Nothing left to run
	n, err = runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngineSerializesInstance(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	uid := crypto.UID{14}

	_, err := f.engine.Start(ctx, f.local(uid, bumpMessageID))
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Start(ctx, f.local(uid, bumpMessageID))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, countingState{N: 1 + workers}, f.state(t, uid))
}

func TestReceiveAsymmetric(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	uid := crypto.UID{15}

	_, err := f.engine.Start(ctx, f.local(uid, bumpMessageID))
	require.NoError(t, err)

	message := &GenericProtocolMessage{ProtocolID: counterProtocolID, InstanceUID: uid, MessageID: finishMessageID}
	sealed, err := f.engine.services.Seal(f.owned.Identity(), message.ObvEncode().Raw())
	require.NoError(t, err)

	result, err := f.engine.ReceiveAsymmetric(ctx, f.owned.Identity(), sealed)
	require.NoError(t, err)
	assert.Equal(t, counterDone, result.State)

	// Tampered envelopes never reach a step
	sealed[len(sealed)-1] ^= 1
	_, err = f.engine.ReceiveAsymmetric(ctx, f.owned.Identity(), sealed)
	assert.True(t, obverr.Is(err, obverr.KindDecryption))
}

func TestRegisterRejectsBadTables(t *testing.T) {
	f := newEngineFixture(t)
	assert.Error(t, f.engine.Register(counterProtocol(f.contact.Identity())), "duplicate registration")

	p := counterProtocol(f.contact.Identity())
	p.ID = 100
	p.Steps = append(p.Steps, p.Steps[0])
	assert.ErrorIs(t, p.Validate(), ErrDuplicateStep)

	p = counterProtocol(f.contact.Identity())
	p.Steps = append(p.Steps, NewStep("FromDone", counterDone, bumpMessageID, LocalReception,
		func(*StepContext, counterDoneState, counterMessage) (StepResult, error) { return NoOp(), nil }))
	assert.ErrorIs(t, p.Validate(), ErrTerminalStep)
}
