// Package types contains the DICOM protocol constants and DIMSE message type
// shared by the PDU, DIMSE and service layers.
package types

// DICOM Application Context UID
// The Application Context defines the DICOM application-level message exchange rules.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// SOP Classes served by the gateway, as defined in DICOM Part 4.
// The gateway deliberately implements only the worklist surface a screening
// modality needs: verification, worklist query, and performed procedure step.
const (
	// Verification Service (C-ECHO)
	VerificationSOPClass = "1.2.840.10008.1.1"

	// Modality Worklist query (C-FIND)
	ModalityWorklistInformationModelFind = "1.2.840.10008.5.1.4.31"

	// Modality Performed Procedure Step (N-CREATE / N-SET)
	ModalityPerformedProcedureStepSOPClass = "1.2.840.10008.3.1.2.3.3"
)

// SOPClassInfo provides human-readable information about a SOP Class UID
type SOPClassInfo struct {
	UID      string
	Name     string
	Category string
}

// GetSOPClassInfo returns information about a SOP Class UID
func GetSOPClassInfo(uid string) *SOPClassInfo {
	info, ok := sopClassRegistry[uid]
	if !ok {
		return &SOPClassInfo{
			UID:      uid,
			Name:     "Unknown",
			Category: "Unknown",
		}
	}
	return &info
}

// sopClassRegistry maps SOP Class UIDs to their information
var sopClassRegistry = map[string]SOPClassInfo{
	VerificationSOPClass: {
		UID:      VerificationSOPClass,
		Name:     "Verification SOP Class",
		Category: "Verification",
	},
	ModalityWorklistInformationModelFind: {
		UID:      ModalityWorklistInformationModelFind,
		Name:     "Modality Worklist - FIND",
		Category: "Worklist",
	},
	ModalityPerformedProcedureStepSOPClass: {
		UID:      ModalityPerformedProcedureStepSOPClass,
		Name:     "Modality Performed Procedure Step",
		Category: "MPPS",
	},
}
