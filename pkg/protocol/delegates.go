package protocol

import (
	"github.com/google/uuid"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/identity"
	"github.com/ZentaChain/obvengine/pkg/storage"
)

// IdentityDelegate looks up and mutates owned identities and contacts. Every call
// runs inside the step's unit of work. *storage.IdentityStore implements it.
type IdentityDelegate interface {
	OwnedIdentity(oc *storage.ObvContext, id crypto.CryptoIdentity) (*crypto.OwnedIdentity, error)
	OwnedIdentityDetails(oc *storage.ObvContext, id crypto.CryptoIdentity) (*identity.Details, error)
	AddContact(oc *storage.ObvContext, owned, contact crypto.CryptoIdentity, details *identity.Details, origin string) error
	IsContact(oc *storage.ObvContext, owned, contact crypto.CryptoIdentity) (bool, error)
	Contact(oc *storage.ObvContext, owned, contact crypto.CryptoIdentity) (*storage.Contact, error)
	SetContactPhoto(oc *storage.ObvContext, owned, contact crypto.CryptoIdentity, label crypto.UID, photo []byte) error
}

// ChannelDelegate accepts outbound messages for delivery and returns a delivery handle
type ChannelDelegate interface {
	Post(oc *storage.ObvContext, msg *OutboundMessage) (uuid.UUID, error)
}

// OutboxChannel is a ChannelDelegate queueing messages in the outbox. Messages for
// the asymmetric channel are sealed to the recipient before they are stored.
type OutboxChannel struct {
	Outbox   *storage.Outbox
	Services *crypto.Services
}

// NewOutboxChannel creates an outbox channel delegate
func NewOutboxChannel(outbox *storage.Outbox, services *crypto.Services) *OutboxChannel {
	return &OutboxChannel{Outbox: outbox, Services: services}
}

// Post stores msg in the outbox
func (c *OutboxChannel) Post(oc *storage.ObvContext, msg *OutboundMessage) (uuid.UUID, error) {
	channel := msg.Core.ChannelType
	payload := msg.Message.ObvEncode().Raw()

	if channel.Kind == SendAsymmetricChannel {
		sealed, err := c.Services.Seal(channel.To, payload)
		if err != nil {
			return uuid.Nil, err
		}
		payload = sealed
	}

	return c.Outbox.Post(oc, &storage.OutboxEntry{
		OwnedIdentity: channel.From,
		ChannelKind:   int(channel.Kind),
		Channel:       channel.ObvEncode().Raw(),
		Payload:       payload,
	})
}
