// Package actions decodes scheduling commands arriving over the relay
// and applies them to the worklist store, acknowledging each one.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openscreening/gateway/store"
)

// Action types the gateway understands.
const (
	TypeCreateWorklistItem = "worklist.create_item"
)

// Acknowledgement statuses.
const (
	AckCreated       = "created"
	AckAlreadyExists = "already_exists"
	AckUnknownAction = "unknown_action"
	AckError         = "error"
)

// Action is the inbound command envelope. Parameters stay raw until the
// action type picks the concrete shape to decode.
type Action struct {
	ActionType string          `json:"action_type"`
	ActionID   string          `json:"action_id"`
	Parameters json.RawMessage `json:"parameters"`
}

// CreateItemParams carries the payload of a worklist.create_item action.
type CreateItemParams struct {
	WorklistItem WorklistItem `json:"worklist_item"`
}

// WorklistItem mirrors the scheduling application's item shape.
type WorklistItem struct {
	AccessionNumber string      `json:"accession_number"`
	Participant     Participant `json:"participant"`
	Scheduled       Scheduled   `json:"scheduled"`
	Procedure       Procedure   `json:"procedure"`
}

type Participant struct {
	NHSNumber string `json:"nhs_number"`
	Name      string `json:"name"`
	BirthDate string `json:"birth_date"`
	Sex       string `json:"sex"`
}

type Scheduled struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type Procedure struct {
	Modality         string `json:"modality"`
	StudyDescription string `json:"study_description"`
}

// Ack is the acknowledgement written back on the rendezvous connection.
type Ack struct {
	Status   string `json:"status"`
	ActionID string `json:"action_id,omitempty"`
}

// Processor applies inbound actions to the worklist store.
type Processor struct {
	store  *store.Store
	logger *slog.Logger
}

// NewProcessor creates an action processor backed by the given store.
func NewProcessor(s *store.Store, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: s, logger: logger}
}

// Handle decodes and applies one action, returning the acknowledgement.
// An undecodable payload returns an error with no acknowledgement, so
// the sender sees the delivery fail and may redeliver.
func (p *Processor) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	var action Action
	if err := json.Unmarshal(payload, &action); err != nil {
		return nil, fmt.Errorf("actions: decode envelope: %w", err)
	}

	ack := p.process(&action)

	p.logger.Info("Processed inbound action",
		"action_type", action.ActionType,
		"action_id", action.ActionID,
		"status", ack.Status)

	return json.Marshal(ack)
}

func (p *Processor) process(action *Action) Ack {
	switch action.ActionType {
	case TypeCreateWorklistItem:
		return p.createItem(action)
	default:
		p.logger.Warn("Unknown action type", "action_type", action.ActionType)
		return Ack{Status: AckUnknownAction, ActionID: action.ActionID}
	}
}

func (p *Processor) createItem(action *Action) Ack {
	var params CreateItemParams
	if err := json.Unmarshal(action.Parameters, &params); err != nil {
		p.logger.Error("Malformed create_item parameters",
			"action_id", action.ActionID,
			"error", err)
		return Ack{Status: AckError, ActionID: action.ActionID}
	}

	item := params.WorklistItem
	if item.AccessionNumber == "" {
		p.logger.Error("create_item without accession number", "action_id", action.ActionID)
		return Ack{Status: AckError, ActionID: action.ActionID}
	}

	err := p.store.Add(&store.Item{
		AccessionNumber:  item.AccessionNumber,
		PatientID:        item.Participant.NHSNumber,
		PatientName:      item.Participant.Name,
		PatientBirthDate: item.Participant.BirthDate,
		PatientSex:       item.Participant.Sex,
		ScheduledDate:    item.Scheduled.Date,
		ScheduledTime:    item.Scheduled.Time,
		Modality:         item.Procedure.Modality,
		StudyDescription: item.Procedure.StudyDescription,
		SourceMessageID:  action.ActionID,
	})
	switch {
	case err == nil:
		return Ack{Status: AckCreated, ActionID: action.ActionID}
	case errors.Is(err, store.ErrDuplicateAccession):
		// Redelivered command; the item is already there.
		return Ack{Status: AckAlreadyExists, ActionID: action.ActionID}
	default:
		p.logger.Error("Failed to store worklist item",
			"accession_number", item.AccessionNumber,
			"error", err)
		return Ack{Status: AckError, ActionID: action.ActionID}
	}
}
