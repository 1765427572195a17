package services

import (
	"context"
	"log/slog"

	"github.com/openscreening/gateway/dicom"
	"github.com/openscreening/gateway/interfaces"
	"github.com/openscreening/gateway/types"
)

// EchoService implements the DICOM C-ECHO verification service.
//
// The verification service is used by modalities to test connectivity
// before issuing worklist queries or procedure step updates.
type EchoService struct{}

// NewEchoService creates a new C-ECHO verification service.
func NewEchoService() *EchoService {
	return &EchoService{}
}

// HandleDIMSE processes C-ECHO requests and returns verification responses.
func (e *EchoService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	slog.InfoContext(ctx, "Processing C-ECHO request",
		"message_id", msg.MessageID,
		"sop_class_uid", msg.AffectedSOPClassUID)

	response := &types.Message{
		CommandField:              types.CEchoRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       types.VerificationSOPClass,
		CommandDataSetType:        0x0101, // No dataset
		Status:                    types.StatusSuccess,
	}

	slog.InfoContext(ctx, "C-ECHO completed successfully",
		"message_id", msg.MessageID)

	return response, nil, nil
}

// HealthCheck performs a basic health check of the echo service.
func (e *EchoService) HealthCheck(ctx context.Context) error {
	return nil
}
