// Package events builds the outbound event envelopes and drives them
// through the relay sender, one at a time.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TypeStatusUpdate  = "mpps.status_update"
	TypeImageReceived = "study.image_received"
)

const timestampLayout = "2006-01-02T15:04:05Z"

// Event is a fully-formed outbound message ready for delivery.
type Event struct {
	Type    string
	Payload []byte
}

// StatusUpdate announces a procedure step status change, correlated back
// to the command that scheduled the procedure.
type StatusUpdate struct {
	SchemaVersion int              `json:"schema_version"`
	EventType     string           `json:"event_type"`
	Timestamp     string           `json:"timestamp"`
	SourceSystem  string           `json:"source_system"`
	Data          StatusUpdateData `json:"data"`
}

// StatusUpdateData carries the status change details.
type StatusUpdateData struct {
	ActionID        string `json:"action_id"`
	AccessionNumber string `json:"accession_number"`
	Status          string `json:"status"`
	MPPSInstanceUID string `json:"mpps_instance_uid,omitempty"`
}

// NewStatusUpdate builds a status event with its payload pre-encoded.
func NewStatusUpdate(actionID, accessionNumber, status, mppsInstanceUID string) (*Event, error) {
	payload, err := json.Marshal(StatusUpdate{
		SchemaVersion: 1,
		EventType:     TypeStatusUpdate,
		Timestamp:     time.Now().UTC().Format(timestampLayout),
		SourceSystem:  "gateway-mwl",
		Data: StatusUpdateData{
			ActionID:        actionID,
			AccessionNumber: accessionNumber,
			Status:          status,
			MPPSInstanceUID: mppsInstanceUID,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Event{Type: TypeStatusUpdate, Payload: payload}, nil
}

// ImageReceived announces a newly stored image, with enough metadata and
// a thumbnail for the receiving application to show it without a
// separate retrieval.
type ImageReceived struct {
	SchemaVersion   int             `json:"schema_version"`
	MessageID       string          `json:"message_id"`
	MessageType     string          `json:"message_type"`
	Timestamp       string          `json:"timestamp"`
	SourceSystem    string          `json:"source_system"`
	SourceReference SourceReference `json:"source_reference"`
	Parameters      ImageParameters `json:"parameters"`
}

// SourceReference points back at the originating worklist command.
type SourceReference struct {
	ActionID string `json:"action_id"`
}

// ImageParameters groups the image event's metadata blocks.
type ImageParameters struct {
	Participant Participant `json:"participant"`
	Study       Study       `json:"study"`
	Series      Series      `json:"series"`
	Image       Image       `json:"image"`
}

type Participant struct {
	NHSNumber   string `json:"nhs_number"`
	PatientName string `json:"patient_name"`
}

type Study struct {
	AccessionNumber  string `json:"accession_number"`
	StudyInstanceUID string `json:"study_instance_uid"`
	Modality         string `json:"modality"`
	StudyDate        string `json:"study_date"`
	StudyTime        string `json:"study_time"`
	StudyDescription string `json:"study_description"`
}

type Series struct {
	SeriesInstanceUID string `json:"series_instance_uid"`
	SeriesNumber      string `json:"series_number"`
	SeriesDescription string `json:"series_description"`
}

type Image struct {
	SOPInstanceUID string      `json:"sop_instance_uid"`
	InstanceNumber string      `json:"instance_number"`
	Dimensions     Dimensions  `json:"dimensions"`
	Acquisition    Acquisition `json:"acquisition"`
	ReceivedAt     string      `json:"received_at"`
	Thumbnail      *Thumbnail  `json:"thumbnail,omitempty"`
}

type Dimensions struct {
	Rows    int `json:"rows"`
	Columns int `json:"columns"`
}

type Acquisition struct {
	ViewPosition string `json:"view_position"`
	Laterality   string `json:"laterality"`
}

// Thumbnail carries base64-encoded preview bytes with a format tag.
type Thumbnail struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

// NewImageReceived builds an image event. actionID correlates back to the
// worklist command that scheduled the study, when known.
func NewImageReceived(actionID string, params ImageParameters) (*Event, error) {
	payload, err := json.Marshal(ImageReceived{
		SchemaVersion:   1,
		MessageID:       uuid.NewString(),
		MessageType:     TypeImageReceived,
		Timestamp:       time.Now().UTC().Format(timestampLayout),
		SourceSystem:    "gateway-pacs",
		SourceReference: SourceReference{ActionID: actionID},
		Parameters:      params,
	})
	if err != nil {
		return nil, err
	}
	return &Event{Type: TypeImageReceived, Payload: payload}, nil
}
