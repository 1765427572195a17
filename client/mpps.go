package client

import (
	"fmt"

	"github.com/openscreening/gateway/dicom"
	"github.com/openscreening/gateway/dimse"
	"github.com/openscreening/gateway/types"
)

// MPPSResponse represents the result of an N-CREATE or N-SET operation.
type MPPSResponse struct {
	Status         uint16
	MessageID      uint16
	SOPInstanceUID string
}

// SendNCreate starts a performed procedure step. The attribute list must
// carry the procedure step status and the scheduled step reference.
func (a *Association) SendNCreate(messageID uint16, sopInstanceUID string, attrList *dicom.Dataset) (*MPPSResponse, error) {
	if sopInstanceUID == "" {
		return nil, fmt.Errorf("sopInstanceUID must be provided for N-CREATE")
	}
	if attrList == nil {
		return nil, fmt.Errorf("n-create requires an attribute list")
	}
	if messageID == 0 {
		messageID = 1
	}

	presContextID, err := a.GetPresentationContextID(types.ModalityPerformedProcedureStepSOPClass)
	if err != nil {
		return nil, err
	}
	transferSyntax := a.TransferSyntaxFor(presContextID)

	command := &types.Message{
		CommandField:           types.NCreateRQ,
		MessageID:              messageID,
		CommandDataSetType:     0x0000, // Dataset present
		AffectedSOPClassUID:    types.ModalityPerformedProcedureStepSOPClass,
		AffectedSOPInstanceUID: sopInstanceUID,
	}

	datasetData, err := dicom.EncodeDatasetWithTransferSyntax(attrList, transferSyntax)
	if err != nil {
		return nil, fmt.Errorf("failed to encode N-CREATE attribute list: %w", err)
	}

	if err := a.sendDIMSEMessage(presContextID, dimse.EncodeCommand(command), datasetData); err != nil {
		return nil, fmt.Errorf("failed to send N-CREATE request: %w", err)
	}

	msg, _, err := a.receiveDIMSEMessage()
	if err != nil {
		return nil, err
	}

	if msg.CommandField != types.NCreateRSP {
		return nil, fmt.Errorf("unexpected command: 0x%04x (expected N-CREATE-RSP)", msg.CommandField)
	}

	return &MPPSResponse{
		Status:         msg.Status,
		MessageID:      msg.MessageIDBeingRespondedTo,
		SOPInstanceUID: msg.AffectedSOPInstanceUID,
	}, nil
}

// SendNSet updates a previously started procedure step with the given
// modification list, typically to mark it COMPLETED or DISCONTINUED.
func (a *Association) SendNSet(messageID uint16, sopInstanceUID string, modList *dicom.Dataset) (*MPPSResponse, error) {
	if sopInstanceUID == "" {
		return nil, fmt.Errorf("sopInstanceUID must be provided for N-SET")
	}
	if modList == nil {
		return nil, fmt.Errorf("n-set requires a modification list")
	}
	if messageID == 0 {
		messageID = 1
	}

	presContextID, err := a.GetPresentationContextID(types.ModalityPerformedProcedureStepSOPClass)
	if err != nil {
		return nil, err
	}
	transferSyntax := a.TransferSyntaxFor(presContextID)

	command := &types.Message{
		CommandField:            types.NSetRQ,
		MessageID:               messageID,
		CommandDataSetType:      0x0000, // Dataset present
		RequestedSOPClassUID:    types.ModalityPerformedProcedureStepSOPClass,
		RequestedSOPInstanceUID: sopInstanceUID,
	}

	datasetData, err := dicom.EncodeDatasetWithTransferSyntax(modList, transferSyntax)
	if err != nil {
		return nil, fmt.Errorf("failed to encode N-SET modification list: %w", err)
	}

	if err := a.sendDIMSEMessage(presContextID, dimse.EncodeCommand(command), datasetData); err != nil {
		return nil, fmt.Errorf("failed to send N-SET request: %w", err)
	}

	msg, _, err := a.receiveDIMSEMessage()
	if err != nil {
		return nil, err
	}

	if msg.CommandField != types.NSetRSP {
		return nil, fmt.Errorf("unexpected command: 0x%04x (expected N-SET-RSP)", msg.CommandField)
	}

	return &MPPSResponse{
		Status:         msg.Status,
		MessageID:      msg.MessageIDBeingRespondedTo,
		SOPInstanceUID: msg.AffectedSOPInstanceUID,
	}, nil
}
