// Package identity holds the published details of an identity: the display
// fields exchanged during trust establishment and the server label and key of
// the profile photo.
package identity

import (
	"fmt"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

const (
	keyFirstName  = "first_name"
	keyLastName   = "last_name"
	keyCompany    = "company"
	keyPosition   = "position"
	keyPhotoLabel = "photo_label"
	keyPhotoKey   = "photo_key"
	keyVersion    = "version"
)

// Details are the published core details of an identity
type Details struct {
	FirstName string
	LastName  string
	Company   string
	Position  string
	Version   int64

	// PhotoLabel and PhotoKey locate and decrypt the photo on the server.
	// Both are set or both are nil.
	PhotoLabel *crypto.UID
	PhotoKey   *crypto.AuthEncKey
}

// DisplayName joins first and last name
func (d *Details) DisplayName() string {
	switch {
	case d.FirstName == "":
		return d.LastName
	case d.LastName == "":
		return d.FirstName
	}
	return d.FirstName + " " + d.LastName
}

// HasPhoto reports whether the details point to a server photo
func (d *Details) HasPhoto() bool {
	return d.PhotoLabel != nil && d.PhotoKey != nil
}

// ObvEncode encodes the details as a dictionary. Empty fields are omitted.
func (d *Details) ObvEncode() encoding.Encoded {
	dict := map[string]encoding.Encoded{
		keyVersion: encoding.EncodeInt(d.Version),
	}
	for key, value := range map[string]string{
		keyFirstName: d.FirstName,
		keyLastName:  d.LastName,
		keyCompany:   d.Company,
		keyPosition:  d.Position,
	} {
		if value != "" {
			dict[key] = encoding.EncodeString(value)
		}
	}
	if d.HasPhoto() {
		dict[keyPhotoLabel] = d.PhotoLabel.ObvEncode()
		dict[keyPhotoKey] = d.PhotoKey.ObvEncode()
	}
	return encoding.EncodeDictionary(dict)
}

// DecodeDetails decodes details encoded with ObvEncode. Unknown keys are ignored.
func DecodeDetails(e encoding.Encoded) (*Details, error) {
	dict, err := e.DecodeDictionary()
	if err != nil {
		return nil, err
	}

	d := &Details{}
	for key, dst := range map[string]*string{
		keyFirstName: &d.FirstName,
		keyLastName:  &d.LastName,
		keyCompany:   &d.Company,
		keyPosition:  &d.Position,
	} {
		if v, ok := dict[key]; ok {
			if *dst, err = v.DecodeString(); err != nil {
				return nil, fmt.Errorf("details %s: %w", key, err)
			}
		}
	}
	if v, ok := dict[keyVersion]; ok {
		if d.Version, err = v.DecodeInt(); err != nil {
			return nil, err
		}
	}

	label, hasLabel := dict[keyPhotoLabel]
	key, hasKey := dict[keyPhotoKey]
	if hasLabel != hasKey {
		return nil, obverr.Malformedf("decode_details", "photo label and key must be set together")
	}
	if hasLabel {
		uid, err := crypto.DecodeUID(label)
		if err != nil {
			return nil, err
		}
		photoKey, err := crypto.DecodeAuthEncKey(key)
		if err != nil {
			return nil, err
		}
		d.PhotoLabel = &uid
		d.PhotoKey = &photoKey
	}

	return d, nil
}

// Parse decodes raw details bytes as stored by the identity store
func Parse(raw []byte) (*Details, error) {
	e, err := encoding.Decode(raw)
	if err != nil {
		return nil, err
	}
	return DecodeDetails(e)
}
