package types

// DICOM Transfer Syntax UIDs as defined in DICOM Part 5, Section 8.
// Worklist and MPPS exchanges carry no pixel data, so the gateway only
// negotiates the uncompressed encodings.
const (
	// ImplicitVRLittleEndian - Default Transfer Syntax for DICOM
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"

	// ExplicitVRLittleEndian - Explicit VR with little endian byte ordering
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
)

// SupportedTransferSyntaxes lists the encodings the gateway negotiates,
// in preference order.
var SupportedTransferSyntaxes = []string{
	ExplicitVRLittleEndian,
	ImplicitVRLittleEndian,
}

// IsSupportedTransferSyntax reports whether the gateway can encode and
// decode datasets in the given transfer syntax.
func IsSupportedTransferSyntax(uid string) bool {
	for _, ts := range SupportedTransferSyntaxes {
		if ts == uid {
			return true
		}
	}
	return false
}
