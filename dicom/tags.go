package dicom

import "fmt"

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

// Tags used by the worklist and MPPS services.
var (
	TagSpecificCharacterSet = Tag{0x0008, 0x0005}
	TagAccessionNumber      = Tag{0x0008, 0x0050}
	TagModality             = Tag{0x0008, 0x0060}
	TagStudyDescription     = Tag{0x0008, 0x1030}

	TagPatientName      = Tag{0x0010, 0x0010}
	TagPatientID        = Tag{0x0010, 0x0020}
	TagPatientBirthDate = Tag{0x0010, 0x0030}
	TagPatientSex       = Tag{0x0010, 0x0040}

	TagStudyInstanceUID = Tag{0x0020, 0x000D}
	TagStudyID          = Tag{0x0020, 0x0010}

	TagRequestedProcedureDescription = Tag{0x0032, 0x1060}

	TagScheduledStationAETitle            = Tag{0x0040, 0x0001}
	TagScheduledProcedureStepStartDate    = Tag{0x0040, 0x0002}
	TagScheduledProcedureStepStartTime    = Tag{0x0040, 0x0003}
	TagScheduledPerformingPhysicianName   = Tag{0x0040, 0x0006}
	TagScheduledProcedureStepDescription  = Tag{0x0040, 0x0007}
	TagScheduledProcedureStepID           = Tag{0x0040, 0x0009}
	TagScheduledProcedureStepSequence     = Tag{0x0040, 0x0100}
	TagPerformedStationAETitle            = Tag{0x0040, 0x0241}
	TagPerformedProcedureStepStartDate    = Tag{0x0040, 0x0244}
	TagPerformedProcedureStepStartTime    = Tag{0x0040, 0x0245}
	TagPerformedProcedureStepEndDate      = Tag{0x0040, 0x0250}
	TagPerformedProcedureStepEndTime      = Tag{0x0040, 0x0251}
	TagPerformedProcedureStepStatus       = Tag{0x0040, 0x0252}
	TagPerformedProcedureStepID           = Tag{0x0040, 0x0253}
	TagScheduledStepAttributesSequence    = Tag{0x0040, 0x0270}
	TagPerformedProcedureStepDescription  = Tag{0x0040, 0x0254}
	TagRequestedProcedureID               = Tag{0x0040, 0x1001}
)

// Item delimitation tags for sequence encoding (DICOM PS3.5 Section 7.5)
var (
	tagItem                    = Tag{0xFFFE, 0xE000}
	tagItemDelimitation        = Tag{0xFFFE, 0xE00D}
	tagSequenceDelimitation    = Tag{0xFFFE, 0xE0DD}
	undefinedLength     uint32 = 0xFFFFFFFF
)

// determineVR maps the tags the gateway handles to their VRs (implicit VR decoding).
func determineVR(tag Tag) string {
	switch tag {
	case TagSpecificCharacterSet:
		return VR_CS
	case TagAccessionNumber:
		return VR_SH
	case TagModality:
		return VR_CS
	case TagStudyDescription:
		return VR_LO
	case TagPatientName:
		return VR_PN
	case TagPatientID:
		return VR_LO
	case TagPatientBirthDate:
		return VR_DA
	case TagPatientSex:
		return VR_CS
	case TagStudyInstanceUID:
		return VR_UI
	case TagStudyID:
		return VR_SH
	case TagRequestedProcedureDescription:
		return VR_LO
	case TagScheduledStationAETitle, TagPerformedStationAETitle:
		return VR_AE
	case TagScheduledProcedureStepStartDate, TagPerformedProcedureStepStartDate, TagPerformedProcedureStepEndDate:
		return VR_DA
	case TagScheduledProcedureStepStartTime, TagPerformedProcedureStepStartTime, TagPerformedProcedureStepEndTime:
		return VR_TM
	case TagScheduledPerformingPhysicianName:
		return VR_PN
	case TagScheduledProcedureStepDescription, TagPerformedProcedureStepDescription:
		return VR_LO
	case TagScheduledProcedureStepID, TagPerformedProcedureStepID, TagRequestedProcedureID:
		return VR_SH
	case TagScheduledProcedureStepSequence, TagScheduledStepAttributesSequence:
		return VR_SQ
	case TagPerformedProcedureStepStatus:
		return VR_CS
	default:
		return VR_UN
	}
}
