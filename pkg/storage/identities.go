package storage

import (
	"database/sql"
	"time"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/identity"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

// Contact origins
const (
	OriginMutualScan = "mutual_scan"
	OriginManual     = "manual"
)

// Contact is a remote identity trusted by an owned identity
type Contact struct {
	OwnedIdentity crypto.CryptoIdentity
	Identity      crypto.CryptoIdentity
	Details       *identity.Details
	Origin        string
	Photo         []byte
	PhotoLabel    *crypto.UID
	AddedAt       time.Time
	UpdatedAt     time.Time
}

// IdentityStore persists owned identities and their contacts. Every method runs
// inside the caller's unit of work.
type IdentityStore struct{}

// NewIdentityStore returns an identity store
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{}
}

// SaveOwnedIdentity stores an owned identity and its private keys
func (s *IdentityStore) SaveOwnedIdentity(oc *ObvContext, owned *crypto.OwnedIdentity, details *identity.Details) error {
	var rawDetails []byte
	if details != nil {
		rawDetails = details.ObvEncode().Raw()
	}

	_, err := oc.exec(`
		INSERT INTO owned_identities (identity, encoded, details, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET encoded = excluded.encoded, details = excluded.details`,
		owned.Bytes(), owned.ObvEncode().Raw(), rawDetails, time.Now().Unix())
	if err != nil {
		return obverr.IO("save_owned_identity", "", err)
	}
	return nil
}

// OwnedIdentity loads the private keys of an owned identity
func (s *IdentityStore) OwnedIdentity(oc *ObvContext, id crypto.CryptoIdentity) (*crypto.OwnedIdentity, error) {
	var raw []byte
	err := oc.queryRow(`SELECT encoded FROM owned_identities WHERE identity = ?`, id.Bytes()).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, notFound("owned_identity", id.String())
	}
	if err != nil {
		return nil, obverr.IO("owned_identity", "", err)
	}

	encoded, err := decodeStored(raw)
	if err != nil {
		return nil, err
	}
	return crypto.DecodeOwnedIdentity(encoded)
}

// OwnedIdentityDetails returns the published details of an owned identity
func (s *IdentityStore) OwnedIdentityDetails(oc *ObvContext, id crypto.CryptoIdentity) (*identity.Details, error) {
	var raw []byte
	err := oc.queryRow(`SELECT details FROM owned_identities WHERE identity = ?`, id.Bytes()).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, notFound("owned_identity_details", id.String())
	}
	if err != nil {
		return nil, obverr.IO("owned_identity_details", "", err)
	}
	if len(raw) == 0 {
		return &identity.Details{}, nil
	}
	return identity.Parse(raw)
}

// ListOwnedIdentities returns every owned identity
func (s *IdentityStore) ListOwnedIdentities(oc *ObvContext) ([]crypto.CryptoIdentity, error) {
	rows, err := oc.query(`SELECT identity FROM owned_identities ORDER BY created_at`)
	if err != nil {
		return nil, obverr.IO("list_owned_identities", "", err)
	}
	defer rows.Close()

	var identities []crypto.CryptoIdentity
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, obverr.IO("list_owned_identities", "", err)
		}
		id, err := crypto.IdentityFromBytes(raw)
		if err != nil {
			return nil, err
		}
		identities = append(identities, id)
	}
	return identities, rows.Err()
}

// AddContact adds contact for owned, or refreshes its details when it already exists
func (s *IdentityStore) AddContact(oc *ObvContext, owned, contact crypto.CryptoIdentity, details *identity.Details, origin string) error {
	var rawDetails []byte
	if details != nil {
		rawDetails = details.ObvEncode().Raw()
	}
	now := time.Now().Unix()

	_, err := oc.exec(`
		INSERT INTO contacts (owned_identity, identity, details, origin, added_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owned_identity, identity) DO UPDATE SET details = excluded.details, updated_at = excluded.updated_at`,
		owned.Bytes(), contact.Bytes(), rawDetails, origin, now, now)
	if err != nil {
		return obverr.IO("add_contact", "", err)
	}
	return nil
}

// IsContact reports whether contact is a contact of owned
func (s *IdentityStore) IsContact(oc *ObvContext, owned, contact crypto.CryptoIdentity) (bool, error) {
	var n int
	err := oc.queryRow(`SELECT COUNT(*) FROM contacts WHERE owned_identity = ? AND identity = ?`,
		owned.Bytes(), contact.Bytes()).Scan(&n)
	if err != nil {
		return false, obverr.IO("is_contact", "", err)
	}
	return n > 0, nil
}

// Contact loads one contact
func (s *IdentityStore) Contact(oc *ObvContext, owned, contact crypto.CryptoIdentity) (*Contact, error) {
	row := oc.queryRow(`
		SELECT identity, details, origin, photo, photo_label, added_at, updated_at
		FROM contacts WHERE owned_identity = ? AND identity = ?`,
		owned.Bytes(), contact.Bytes())

	c, err := scanContact(owned, row)
	if err == sql.ErrNoRows {
		return nil, notFound("contact", contact.String())
	}
	return c, err
}

// ListContacts returns the contacts of owned
func (s *IdentityStore) ListContacts(oc *ObvContext, owned crypto.CryptoIdentity) ([]*Contact, error) {
	rows, err := oc.query(`
		SELECT identity, details, origin, photo, photo_label, added_at, updated_at
		FROM contacts WHERE owned_identity = ? ORDER BY added_at`, owned.Bytes())
	if err != nil {
		return nil, obverr.IO("list_contacts", "", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		c, err := scanContact(owned, rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// SetContactPhoto stores the downloaded photo of a contact
func (s *IdentityStore) SetContactPhoto(oc *ObvContext, owned, contact crypto.CryptoIdentity, label crypto.UID, photo []byte) error {
	result, err := oc.exec(`
		UPDATE contacts SET photo = ?, photo_label = ?, updated_at = ?
		WHERE owned_identity = ? AND identity = ?`,
		photo, label[:], time.Now().Unix(), owned.Bytes(), contact.Bytes())
	if err != nil {
		return obverr.IO("set_contact_photo", "", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return obverr.IO("set_contact_photo", "", err)
	}
	if rows == 0 {
		return notFound("set_contact_photo", contact.String())
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanContact(owned crypto.CryptoIdentity, row scanner) (*Contact, error) {
	var (
		rawIdentity, rawDetails, photo, label []byte
		origin                                string
		addedAt, updatedAt                    int64
	)
	if err := row.Scan(&rawIdentity, &rawDetails, &origin, &photo, &label, &addedAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, obverr.IO("scan_contact", "", err)
	}

	id, err := crypto.IdentityFromBytes(rawIdentity)
	if err != nil {
		return nil, err
	}
	c := &Contact{
		OwnedIdentity: owned,
		Identity:      id,
		Origin:        origin,
		Photo:         photo,
		AddedAt:       time.Unix(addedAt, 0),
		UpdatedAt:     time.Unix(updatedAt, 0),
	}
	if len(rawDetails) > 0 {
		if c.Details, err = identity.Parse(rawDetails); err != nil {
			return nil, err
		}
	}
	if len(label) > 0 {
		uid, err := crypto.UIDFromBytes(label)
		if err != nil {
			return nil, err
		}
		c.PhotoLabel = &uid
	}
	return c, nil
}
