package protocol

import (
	"fmt"
)

// ProtocolID identifies a protocol
type ProtocolID int

// Protocol identifiers
const (
	DeviceDiscoveryProtocolID                  ProtocolID = 0
	ChannelCreationWithContactDeviceProtocolID ProtocolID = 1
	TrustEstablishmentWithSASProtocolID        ProtocolID = 2
	ContactMutualIntroductionProtocolID        ProtocolID = 3
	IdentityDetailsPublicationProtocolID       ProtocolID = 7
	TrustEstablishmentWithMutualScanProtocolID ProtocolID = 11
	DownloadIdentityPhotoProtocolID            ProtocolID = 14
)

func (id ProtocolID) String() string {
	switch id {
	case DeviceDiscoveryProtocolID:
		return "device_discovery"
	case ChannelCreationWithContactDeviceProtocolID:
		return "channel_creation"
	case TrustEstablishmentWithSASProtocolID:
		return "trust_establishment_sas"
	case ContactMutualIntroductionProtocolID:
		return "contact_mutual_introduction"
	case IdentityDetailsPublicationProtocolID:
		return "identity_details_publication"
	case TrustEstablishmentWithMutualScanProtocolID:
		return "trust_establishment_mutual_scan"
	case DownloadIdentityPhotoProtocolID:
		return "download_identity_photo"
	}
	return fmt.Sprintf("protocol_%d", int(id))
}

// StateID identifies a state variant within a protocol
type StateID int

// MessageID identifies a message variant within a protocol
type MessageID int

// InitialStateID is the state of an instance that has never been persisted
const InitialStateID StateID = 0
