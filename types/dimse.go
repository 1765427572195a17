package types

// DIMSE Command types
const (
	CFindRQ    = 0x0020
	CFindRSP   = 0x8020
	CEchoRQ    = 0x0030
	CEchoRSP   = 0x8030
	NSetRQ     = 0x0120
	NSetRSP    = 0x8120
	NCreateRQ  = 0x0140
	NCreateRSP = 0x8140
	CCancelRQ  = 0x0FFF
)

// DIMSE Status codes
const (
	StatusSuccess = 0x0000
	StatusPending = 0xFF00
	StatusCancel  = 0xFE00
	StatusFailure = 0xC000

	// Attribute-level failure codes used by the MPPS service (DICOM PS3.7 Annex C)
	StatusInvalidAttributeValue = 0x0106
	StatusProcessingFailure     = 0x0110
	StatusDuplicateSOPInstance  = 0x0111
	StatusNoSuchObjectInstance  = 0x0112
	StatusMissingAttribute      = 0x0120
	StatusOutOfResources        = 0xA700
)

// Message represents a parsed DIMSE command
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	RequestedSOPClassUID      string
	RequestedSOPInstanceUID   string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	MessageIDBeingRespondedTo uint16
	TransferSyntaxUID         string // Negotiated transfer syntax for the associated dataset
}

// HasDataset reports whether the command announces an associated dataset.
func (m *Message) HasDataset() bool {
	return m.CommandDataSetType != 0x0101
}

// ResponseCommandFor maps a DIMSE request command to its corresponding response command.
func ResponseCommandFor(request uint16) uint16 {
	switch request {
	case CFindRQ:
		return CFindRSP
	case CEchoRQ:
		return CEchoRSP
	case NCreateRQ:
		return NCreateRSP
	case NSetRQ:
		return NSetRSP
	default:
		return request | 0x8000
	}
}
