package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
	"github.com/ZentaChain/obvengine/pkg/storage"
)

var errStepRejected = errors.New("step rejected")

// Outcome is what happened to a processed message
type Outcome int

const (
	OutcomeTransitioned Outcome = iota
	OutcomeNoOp
	OutcomeRejected
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTransitioned:
		return "transitioned"
	case OutcomeNoOp:
		return "no_op"
	case OutcomeRejected:
		return "rejected"
	case OutcomeDropped:
		return "dropped"
	}
	return fmt.Sprintf("outcome_%d", int(o))
}

// Result describes one processed message
type Result struct {
	Protocol      ProtocolID
	InstanceUID   crypto.UID
	Outcome       Outcome
	Step          string
	PreviousState StateID
	State         StateID
	Reason        string
	// Posted holds the delivery handles of the non-local messages the step posted
	Posted []uuid.UUID
	// Followups are the results of the local messages the step posted
	Followups []*Result
}

// Config configures an Engine
type Config struct {
	Database *storage.Database
	// Identities defaults to a storage.IdentityStore
	Identities IdentityDelegate
	// Channel defaults to an OutboxChannel on Database
	Channel ChannelDelegate
	// Services defaults to crypto services on the system PRNG
	Services *crypto.Services
	Logger   *logrus.Logger
	// Registerer receives the engine metrics (default: a private registry)
	Registerer prometheus.Registerer
	Instances  *storage.ProtocolInstanceStore
	// MaxConflictRetries bounds how often a step is re-run after a concurrent
	// modification of its instance (default: 3)
	MaxConflictRetries int
}

// Engine runs protocol instances. Steps of one instance are serialized; steps of
// different instances run concurrently.
type Engine struct {
	db         *storage.Database
	identities IdentityDelegate
	channel    ChannelDelegate
	services   *crypto.Services
	instances  *storage.ProtocolInstanceStore
	logger     *logrus.Logger
	stats      *engineStats
	maxRetries int

	protocols map[ProtocolID]*Protocol
	locks     *xsync.MapOf[string, *sync.Mutex]
}

// NewEngine creates an engine. Protocols are added with Register.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("engine needs a database")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Services == nil {
		cfg.Services = crypto.NewServices(nil)
	}
	if cfg.Identities == nil {
		cfg.Identities = storage.NewIdentityStore()
	}
	if cfg.Channel == nil {
		cfg.Channel = NewOutboxChannel(storage.NewOutbox(cfg.Database, 0), cfg.Services)
	}
	if cfg.Instances == nil {
		cfg.Instances = storage.NewProtocolInstanceStore()
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.NewRegistry()
	}
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = 3
	}

	return &Engine{
		db:         cfg.Database,
		identities: cfg.Identities,
		channel:    cfg.Channel,
		services:   cfg.Services,
		instances:  cfg.Instances,
		logger:     cfg.Logger,
		stats:      newEngineStats(cfg.Registerer),
		maxRetries: cfg.MaxConflictRetries,
		protocols:  make(map[ProtocolID]*Protocol),
		locks:      xsync.NewMapOf[string, *sync.Mutex](),
	}, nil
}

// Register adds protocol definitions. Must be called before processing messages.
func (e *Engine) Register(protocols ...*Protocol) error {
	for _, p := range protocols {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, ok := e.protocols[p.ID]; ok {
			return fmt.Errorf("protocol %s already registered", p.ID)
		}
		e.protocols[p.ID] = p
	}
	return nil
}

// Process runs the step a received message triggers
func (e *Engine) Process(ctx context.Context, rm *ReceivedMessage) (*Result, error) {
	if rm.Message == nil {
		return nil, obverr.Malformedf("process", "received message without content")
	}
	return e.processIncoming(ctx, &IncomingMessage{
		Core:           NewCoreMessageFromReceived(rm),
		MessageID:      rm.Message.MessageID,
		Inputs:         rm.Message.Inputs,
		ServerResponse: rm.ServerResponse,
	})
}

// ProcessNotification runs the step a message decrypted from a notification triggers
func (e *Engine) ProcessNotification(ctx context.Context, n *ReceivedNotification) (*Result, error) {
	if n.Message == nil {
		return nil, obverr.Malformedf("process_notification", "notification without content")
	}
	return e.processIncoming(ctx, &IncomingMessage{
		Core:      NewCoreMessageFromNotification(n),
		MessageID: n.Message.MessageID,
		Inputs:    n.Message.Inputs,
	})
}

// ReceiveAsymmetric opens a message sealed to the owned identity to and processes it
func (e *Engine) ReceiveAsymmetric(ctx context.Context, to crypto.CryptoIdentity, sealed []byte) (*Result, error) {
	var owned *crypto.OwnedIdentity
	err := e.db.PerformAndWait(ctx, func(oc *storage.ObvContext) error {
		var err error
		owned, err = e.identities.OwnedIdentity(oc, to)
		return err
	})
	if err != nil {
		return nil, err
	}

	plaintext, err := owned.Open(e.services.AuthEncAlgorithm, sealed)
	if err != nil {
		return nil, err
	}
	encoded, err := encoding.DecodePadded(plaintext)
	if err != nil {
		return nil, err
	}
	message, err := DecodeGenericProtocolMessage(encoded)
	if err != nil {
		return nil, err
	}

	return e.Process(ctx, &ReceivedMessage{
		Message:              message,
		ReceptionChannelInfo: AsymmetricChannelReception,
		ToOwnedIdentity:      to,
		Timestamp:            time.Now(),
	})
}

// Start feeds a message posted on the local channel to its instance. Protocols are
// started this way.
func (e *Engine) Start(ctx context.Context, msg ConcreteMessage) (*Result, error) {
	core := msg.CoreMessage()
	if core == nil || core.ChannelType == nil || core.ChannelType.Kind != SendLocal {
		return nil, obverr.Logicf("start", "protocols are started with a local message")
	}

	synthetic, err := newSyntheticCoreMessage(LocalReception, core.ChannelType.From, core.ProtocolID, core.InstanceUID)
	if err != nil {
		return nil, err
	}
	return e.processIncoming(ctx, &IncomingMessage{
		Core:      synthetic,
		MessageID: msg.MessageID(),
		Inputs:    msg.EncodedInputs(),
	})
}

// State returns the current state of an instance, the initial state if it was
// never persisted
func (e *Engine) State(ctx context.Context, owned crypto.CryptoIdentity, protocolID ProtocolID, uid crypto.UID) (ConcreteState, error) {
	p, ok := e.protocols[protocolID]
	if !ok {
		return nil, fmt.Errorf("protocol %s not registered", protocolID)
	}

	var state ConcreteState
	err := e.db.PerformAndWait(ctx, func(oc *storage.ObvContext) error {
		var err error
		state, _, err = e.loadState(oc, p, owned, uid)
		return err
	})
	return state, err
}

func (e *Engine) processIncoming(ctx context.Context, in *IncomingMessage) (*Result, error) {
	p, ok := e.protocols[in.Core.ProtocolID]
	if !ok {
		e.logger.WithField("protocol", in.Core.ProtocolID).Debug("Dropping message for unknown protocol")
		return &Result{Protocol: in.Core.ProtocolID, InstanceUID: in.Core.InstanceUID, Outcome: OutcomeDropped},
			obverr.New(obverr.KindNoApplicableStep, "process", fmt.Errorf("protocol %s not registered", in.Core.ProtocolID))
	}

	msg, err := p.DecodeMessage(in)
	if err != nil {
		e.logger.WithError(err).WithField("protocol", p.ID).Info("Discarding undecodable message")
		return nil, err
	}

	logger := e.logger.WithFields(logrus.Fields{
		"protocol": p.ID.String(),
		"instance": in.Core.InstanceUID.Short(),
		"owned":    in.Core.ToOwnedIdentity.Fingerprint(),
		"message":  int(in.MessageID),
	})

	key := lockKey(in.Core)
	mu, _ := e.locks.LoadOrCompute(key, func() *sync.Mutex {
		return &sync.Mutex{}
	})

	var (
		result *Result
		locals []*IncomingMessage
	)
	for attempt := 0; ; attempt++ {
		mu.Lock()
		result, locals, err = e.runStep(ctx, p, in, msg, logger)
		mu.Unlock()

		if obverr.Is(err, obverr.KindConflict) && attempt < e.maxRetries {
			e.stats.conflicts.WithLabelValues(p.ID.String()).Inc()
			logger.WithField("attempt", attempt+1).Warn("Protocol instance modified concurrently, retrying")
			continue
		}
		break
	}
	// A terminal instance has no steps left, so nothing needs its lock anymore
	if result != nil && p.IsTerminal(result.State) {
		e.locks.Delete(key)
	}

	label := p.ID.String()
	switch {
	case errors.Is(err, errStepRejected):
		e.stats.rejected.WithLabelValues(label).Inc()
		logger.WithFields(logrus.Fields{"step": result.Step, "reason": result.Reason}).Info("Step rejected message")
		return result, nil
	case obverr.Is(err, obverr.KindNoApplicableStep):
		e.stats.dropped.WithLabelValues(label).Inc()
		logger.WithField("state", int(result.PreviousState)).Debug("No applicable step, message dropped")
		return result, err
	case obverr.Is(err, obverr.KindLogic):
		e.stats.logicFaults.WithLabelValues(label).Inc()
		logger.WithError(err).Error("Protocol logic fault")
		return nil, withProtocol(err, p.ID)
	case err != nil:
		logger.WithError(err).Warn("Step failed")
		return nil, withProtocol(err, p.ID)
	}

	e.stats.executed.WithLabelValues(label).Inc()
	logger.WithFields(logrus.Fields{
		"step":    result.Step,
		"outcome": result.Outcome.String(),
		"from":    int(result.PreviousState),
		"to":      int(result.State),
	}).Debug("Step executed")

	for _, local := range locals {
		followup, err := e.processIncoming(ctx, local)
		if err != nil && !obverr.Is(err, obverr.KindNoApplicableStep) {
			logger.WithError(err).Error("Local message failed")
		}
		if followup != nil {
			result.Followups = append(result.Followups, followup)
		}
	}
	return result, nil
}

// runStep executes one step in its own unit of work. A rejection is reported as
// errStepRejected so the unit of work rolls back.
func (e *Engine) runStep(ctx context.Context, p *Protocol, in *IncomingMessage, msg ConcreteMessage, logger *logrus.Entry) (*Result, []*IncomingMessage, error) {
	owned := in.Core.ToOwnedIdentity
	uid := in.Core.InstanceUID
	result := &Result{Protocol: p.ID, InstanceUID: uid}

	var sc *StepContext
	err := e.db.PerformAndWait(ctx, func(oc *storage.ObvContext) error {
		state, version, err := e.loadState(oc, p, owned, uid)
		if err != nil {
			return err
		}
		result.PreviousState = state.StateID()
		result.State = state.StateID()

		step, ok := p.FindStep(state.StateID(), msg.MessageID())
		if !ok {
			result.Outcome = OutcomeDropped
			return obverr.New(obverr.KindNoApplicableStep, "find_step",
				fmt.Errorf("no step for state %d and message %d", state.StateID(), msg.MessageID()))
		}
		result.Step = step.Name

		if !in.Core.ReceptionChannelInfo.Matches(step.ExpectedReception, owned) {
			return obverr.Logicf("check_channel", "step %s expects %s, message arrived on %s",
				step.Name, step.ExpectedReception, in.Core.ReceptionChannelInfo)
		}

		sc = &StepContext{
			OwnedIdentity: owned,
			ProtocolID:    p.ID,
			InstanceUID:   uid,
			Message:       in,
			Identities:    e.identities,
			Services:      e.services,
			Logger:        logger.WithField("step", step.Name),
			oc:            oc,
			channel:       e.channel,
		}
		res, err := step.run(sc, state, msg)
		if err != nil {
			return err
		}

		if res.IsRejected() {
			result.Outcome = OutcomeRejected
			result.Reason = res.Reason()
			return errStepRejected
		}

		if next, ok := res.NewState(); ok {
			if _, err := e.instances.Save(oc, owned, int(p.ID), uid, int(next.StateID()), next.ObvEncode(), version); err != nil {
				return err
			}
			result.Outcome = OutcomeTransitioned
			result.State = next.StateID()
		} else {
			result.Outcome = OutcomeNoOp
		}
		result.Posted = sc.posted
		return nil
	})
	if err != nil {
		return result, nil, err
	}
	return result, sc.locals, nil
}

// loadState returns the current state and its version, 0 for a new instance
func (e *Engine) loadState(oc *storage.ObvContext, p *Protocol, owned crypto.CryptoIdentity, uid crypto.UID) (ConcreteState, int64, error) {
	record, err := e.instances.Load(oc, owned, int(p.ID), uid)
	if obverr.Is(err, obverr.KindNotFound) {
		return p.Initial(), 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	state, err := p.DecodeState(StateID(record.StateID), record.State)
	if err != nil {
		return nil, 0, err
	}
	return state, record.Version, nil
}

func lockKey(core *CoreProtocolMessage) string {
	return fmt.Sprintf("%x/%d/%s", core.ToOwnedIdentity.Bytes(), core.ProtocolID, core.InstanceUID)
}

func withProtocol(err error, id ProtocolID) error {
	var oe *obverr.Error
	if errors.As(err, &oe) && oe.Protocol == "" {
		oe.Protocol = id.String()
	}
	return err
}
