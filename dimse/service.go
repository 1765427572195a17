// Package dimse assembles DIMSE messages out of P-DATA fragments and
// routes them to service handlers, relaying responses back through the
// PDU layer.
package dimse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openscreening/gateway/dicom"
	"github.com/openscreening/gateway/interfaces"
	"github.com/openscreening/gateway/types"
)

// Service manages DIMSE operations and message routing
type Service struct {
	handler     interfaces.ServiceHandler
	commandData []byte
	datasetData []byte
	currentMsg  *types.Message
	logger      *slog.Logger

	mu       sync.Mutex
	inflight map[uint16]context.CancelFunc
}

// responseHandler implements ResponseSender for streaming responses
type responseHandler struct {
	service       *Service
	presContextID byte
	pduLayer      interfaces.PDULayer
}

// SendResponse implements ResponseSender interface
func (r *responseHandler) SendResponse(msg *types.Message, dataset *dicom.Dataset, transferSyntaxUID string) error {
	return r.service.sendResponse(msg, dataset, transferSyntaxUID, r.presContextID, r.pduLayer)
}

// NewService creates a new DIMSE service with a handler
func NewService(handler interfaces.ServiceHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		handler:  handler,
		logger:   logger,
		inflight: make(map[uint16]context.CancelFunc),
	}
}

// HandleDIMSEMessage processes DIMSE messages and routes to appropriate service
func (d *Service) HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer interfaces.PDULayer) error {
	ctx := context.Background()

	d.logger.Debug("Processing DIMSE message",
		"context_id", presContextID,
		"control_header", fmt.Sprintf("0x%02x", msgCtrlHeader))

	// Message control header:
	// bit 0 set = command fragment, clear = dataset fragment
	// bit 1 set = last fragment
	isCommand := (msgCtrlHeader & 0x01) != 0
	isLastFragment := (msgCtrlHeader & 0x02) != 0

	if isCommand {
		d.logger.Debug("Received command data", "size_bytes", len(data))
		d.commandData = append(d.commandData, data...)
		if !isLastFragment {
			return nil
		}

		msg, err := ParseCommand(d.commandData)
		if err != nil {
			return fmt.Errorf("failed to parse DIMSE command: %v", err)
		}
		d.commandData = nil
		d.currentMsg = msg

		if msg.CommandField == types.CCancelRQ {
			d.cancelInflight(msg.MessageIDBeingRespondedTo)
			d.currentMsg = nil
			return nil
		}

		if !msg.HasDataset() {
			return d.processCompleteMessage(ctx, presContextID, pduLayer)
		}
		return nil
	}

	d.logger.Debug("Received dataset data", "size_bytes", len(data))
	d.datasetData = append(d.datasetData, data...)
	if isLastFragment {
		return d.processCompleteMessage(ctx, presContextID, pduLayer)
	}
	return nil
}

// cancelInflight cancels a streaming operation by the message ID it was
// started with. A cancel for an unknown or already finished operation is
// ignored.
func (d *Service) cancelInflight(messageID uint16) {
	d.mu.Lock()
	cancel, ok := d.inflight[messageID]
	d.mu.Unlock()

	if ok {
		d.logger.Info("Cancelling in-flight operation", "message_id", messageID)
		cancel()
	} else {
		d.logger.Debug("Cancel for unknown operation", "message_id", messageID)
	}
}

// processCompleteMessage processes a complete DIMSE message (command + optional dataset)
func (d *Service) processCompleteMessage(ctx context.Context, presContextID byte, pduLayer interfaces.PDULayer) error {
	if d.currentMsg == nil {
		return fmt.Errorf("no current message to process")
	}

	msg := d.currentMsg
	datasetData := d.datasetData
	d.commandData = nil
	d.datasetData = nil
	d.currentMsg = nil

	transferSyntax := pduLayer.TransferSyntaxFor(presContextID)

	d.logger.InfoContext(ctx, "Processing complete DIMSE message",
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id", msg.MessageID,
		"dataset_size", len(datasetData))

	var dataset *dicom.Dataset
	if len(datasetData) > 0 {
		var err error
		dataset, err = dicom.ParseDatasetWithTransferSyntax(datasetData, transferSyntax)
		if err != nil {
			return fmt.Errorf("failed to parse dataset: %v", err)
		}
	}

	meta := interfaces.MessageContext{
		PresentationContextID: presContextID,
		TransferSyntaxUID:     transferSyntax,
		Dataset:               dataset,
	}

	// Streaming handlers (C-FIND) run on their own goroutine so the read
	// loop stays free to pick up a C-CANCEL-RQ for them.
	if streamingHandler, ok := d.handler.(interfaces.StreamingServiceHandler); ok && isStreamingCommand(msg.CommandField) {
		opCtx, cancel := context.WithCancel(ctx)
		d.mu.Lock()
		d.inflight[msg.MessageID] = cancel
		d.mu.Unlock()

		responder := &responseHandler{
			service:       d,
			presContextID: presContextID,
			pduLayer:      pduLayer,
		}

		go func() {
			defer func() {
				d.mu.Lock()
				delete(d.inflight, msg.MessageID)
				d.mu.Unlock()
				cancel()
			}()

			if err := streamingHandler.HandleDIMSEStreaming(opCtx, msg, meta, responder); err != nil {
				d.logger.Error("Streaming handler failed",
					"message_id", msg.MessageID,
					"error", err)
			}
		}()
		return nil
	}

	responseMsg, responseDataset, err := d.handler.HandleDIMSE(ctx, msg, datasetData, meta)
	if err != nil {
		return fmt.Errorf("service handler failed: %v", err)
	}
	if responseMsg == nil {
		return nil
	}

	return d.sendResponse(responseMsg, responseDataset, transferSyntax, presContextID, pduLayer)
}

func isStreamingCommand(commandField uint16) bool {
	return commandField == types.CFindRQ
}

// sendResponse encodes and sends a DIMSE response
func (d *Service) sendResponse(msg *types.Message, dataset *dicom.Dataset, transferSyntaxUID string, presContextID byte, pduLayer interfaces.PDULayer) error {
	commandData := EncodeCommand(msg)

	if dataset == nil {
		return pduLayer.SendDIMSEResponse(presContextID, commandData)
	}

	datasetData, err := dicom.EncodeDatasetWithTransferSyntax(dataset, transferSyntaxUID)
	if err != nil {
		return fmt.Errorf("failed to encode response dataset: %v", err)
	}
	return pduLayer.SendDIMSEResponseWithDataset(presContextID, commandData, datasetData)
}
