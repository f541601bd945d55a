package protocol

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
	"github.com/ZentaChain/obvengine/pkg/storage"
)

// ServerQueryKind selects the server method a query runs
type ServerQueryKind int

const (
	GetUserDataQuery ServerQueryKind = iota
	PutUserDataQuery
)

func (k ServerQueryKind) String() string {
	switch k {
	case GetUserDataQuery:
		return "get_user_data"
	case PutUserDataQuery:
		return "put_user_data"
	}
	return fmt.Sprintf("server_query_%d", int(k))
}

// ServerQuery is a question posted on the server query channel. The answer comes
// back to the posting instance as the same message with a server response attached.
type ServerQuery struct {
	Kind ServerQueryKind
	// Identity owns the user data on the server
	Identity crypto.CryptoIdentity
	Label    crypto.UID
	// Data is the encrypted payload uploaded by put queries
	Data []byte
}

// ObvEncode encodes the query as [kind, identity, label, data]
func (q *ServerQuery) ObvEncode() encoding.Encoded {
	return encoding.EncodeList(
		encoding.EncodeInt(int64(q.Kind)),
		q.Identity.ObvEncode(),
		q.Label.ObvEncode(),
		encoding.EncodeBytes(q.Data),
	)
}

// DecodeServerQuery decodes a query encoded with ObvEncode
func DecodeServerQuery(e encoding.Encoded) (*ServerQuery, error) {
	items, err := e.DecodeListOf(4)
	if err != nil {
		return nil, err
	}
	kind, err := items[0].DecodeIntInRange(int64(GetUserDataQuery), int64(PutUserDataQuery))
	if err != nil {
		return nil, err
	}
	q := &ServerQuery{Kind: ServerQueryKind(kind)}
	if q.Identity, err = crypto.DecodeIdentity(items[1]); err != nil {
		return nil, err
	}
	if q.Label, err = crypto.DecodeUID(items[2]); err != nil {
		return nil, err
	}
	if q.Data, err = items[3].DecodeBytes(); err != nil {
		return nil, err
	}
	return q, nil
}

// ServerQueryExecutor runs a query against the server and returns its status byte
// and payload
type ServerQueryExecutor interface {
	ExecuteQuery(ctx context.Context, query *ServerQuery) (status byte, data []byte, err error)
}

// ServerResponse builds the response inputs attached to a server query message:
// [status int, data bytes]
func ServerResponse(status byte, data []byte) []encoding.Encoded {
	return []encoding.Encoded{encoding.EncodeInt(int64(status)), encoding.EncodeBytes(data)}
}

// DecodeServerResponse reads the status and data of a server query response
func DecodeServerResponse(response []encoding.Encoded) (byte, []byte, error) {
	if len(response) != 2 {
		return 0, nil, obverr.Malformedf("decode_server_response", "%w: got %d items", encoding.ErrArity, len(response))
	}
	status, err := response[0].DecodeIntInRange(0, 0xff)
	if err != nil {
		return 0, nil, err
	}
	data, err := response[1].DecodeBytes()
	if err != nil {
		return 0, nil, err
	}
	return byte(status), data, nil
}

// ServerQueryRunner drains server queries from the outbox, runs them, and feeds the
// responses back into the engine
type ServerQueryRunner struct {
	Engine   *Engine
	Outbox   *storage.Outbox
	Executor ServerQueryExecutor
	Logger   *logrus.Logger
	// BatchSize bounds the entries handled per RunOnce (default: 100)
	BatchSize int
	// MaxAttempts is how often a query whose response fails its step is retried
	// before the entry is given up (default: 5)
	MaxAttempts int
}

// stepFailed keeps a query whose response could not be processed pending for a
// later run, or gives it up once it has used its attempts. Only outbox errors
// are returned.
func (r *ServerQueryRunner) stepFailed(ctx context.Context, log *logrus.Entry, entry *storage.OutboxEntry, stepErr error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	log = log.WithError(stepErr).WithField("attempts", entry.Attempts+1)
	if entry.Attempts+1 >= maxAttempts {
		log.Error("Giving up server query after repeated step failures")
		return r.Outbox.MarkSent(ctx, entry.ID)
	}
	log.Warn("Server response failed its step, will retry")
	return r.Outbox.IncrementAttempts(ctx, entry.ID)
}

// RunOnce handles the pending server queries and returns how many were answered.
// A query the executor fails on stays pending with its attempt counter bumped.
func (r *ServerQueryRunner) RunOnce(ctx context.Context) (int, error) {
	logger := r.Logger
	if logger == nil {
		logger = r.Engine.logger
	}

	entries, err := r.Outbox.Pending(ctx, int(SendServerQuery), r.BatchSize)
	if err != nil {
		return 0, err
	}

	answered := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return answered, err
		}
		log := logger.WithField("handle", entry.ID.String())

		channel, err := ParseSendChannel(entry.Channel)
		if err != nil || channel.Query == nil {
			log.WithError(err).Error("Discarding unreadable server query")
			if err := r.Outbox.MarkSent(ctx, entry.ID); err != nil {
				return answered, err
			}
			continue
		}
		message, err := ParseGenericProtocolMessage(entry.Payload)
		if err != nil {
			log.WithError(err).Error("Discarding server query with unreadable message")
			if err := r.Outbox.MarkSent(ctx, entry.ID); err != nil {
				return answered, err
			}
			continue
		}

		status, data, err := r.Executor.ExecuteQuery(ctx, channel.Query)
		if err != nil {
			log.WithError(err).WithField("query", channel.Query.Kind).Warn("Server query failed")
			if err := r.Outbox.IncrementAttempts(ctx, entry.ID); err != nil {
				return answered, err
			}
			continue
		}

		core, err := newSyntheticCoreMessage(ServerQueryReception, channel.From, message.ProtocolID, message.InstanceUID)
		if err != nil {
			return answered, err
		}
		_, err = r.Engine.processIncoming(ctx, &IncomingMessage{
			Core:           core,
			MessageID:      message.MessageID,
			Inputs:         message.Inputs,
			ServerResponse: ServerResponse(status, data),
		})
		if err != nil && !obverr.Is(err, obverr.KindNoApplicableStep) {
			if err := r.stepFailed(ctx, log, entry, err); err != nil {
				return answered, err
			}
			continue
		}

		if err := r.Outbox.MarkSent(ctx, entry.ID); err != nil {
			return answered, err
		}
		answered++
	}
	return answered, nil
}
