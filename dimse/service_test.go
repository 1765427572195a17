package dimse

import (
	"context"
	"testing"
	"time"

	"github.com/openscreening/gateway/dicom"
	"github.com/openscreening/gateway/interfaces"
	"github.com/openscreening/gateway/types"
)

type mockPDULayer struct {
	commands [][]byte
	datasets [][]byte
}

func (m *mockPDULayer) SendDIMSEResponse(presContextID byte, commandData []byte) error {
	m.commands = append(m.commands, commandData)
	m.datasets = append(m.datasets, nil)
	return nil
}

func (m *mockPDULayer) SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, dataset []byte) error {
	m.commands = append(m.commands, commandData)
	m.datasets = append(m.datasets, dataset)
	return nil
}

func (m *mockPDULayer) TransferSyntaxFor(presContextID byte) string {
	return types.ImplicitVRLittleEndian
}

type echoOnlyHandler struct {
	received *types.Message
}

func (h *echoOnlyHandler) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	h.received = msg
	return &types.Message{
		CommandField:              types.CEchoRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		CommandDataSetType:        0x0101,
		Status:                    types.StatusSuccess,
	}, nil, nil
}

type streamingHandler struct {
	echoOnlyHandler
	started chan *types.Message
	release chan struct{}
	done    chan struct{}
	ctxDone bool
}

func (h *streamingHandler) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	defer close(h.done)
	h.started <- msg
	select {
	case <-ctx.Done():
		h.ctxDone = true
	case <-h.release:
	}
	return responder.SendResponse(&types.Message{
		CommandField:              types.CFindRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		CommandDataSetType:        0x0101,
		Status:                    types.StatusSuccess,
	}, nil, meta.TransferSyntaxUID)
}

func TestHandleEchoCommand(t *testing.T) {
	handler := &echoOnlyHandler{}
	service := NewService(handler, nil)
	pduLayer := &mockPDULayer{}

	cmd := EncodeCommand(&types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           5,
		AffectedSOPClassUID: types.VerificationSOPClass,
		CommandDataSetType:  0x0101,
	})

	if err := service.HandleDIMSEMessage(1, 0x03, cmd, pduLayer); err != nil {
		t.Fatalf("HandleDIMSEMessage failed: %v", err)
	}

	if handler.received == nil {
		t.Fatal("handler was not invoked")
	}
	if handler.received.MessageID != 5 {
		t.Errorf("MessageID = %d, want 5", handler.received.MessageID)
	}
	if len(pduLayer.commands) != 1 {
		t.Fatalf("sent %d responses, want 1", len(pduLayer.commands))
	}

	rsp, err := ParseCommand(pduLayer.commands[0])
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if rsp.CommandField != types.CEchoRSP {
		t.Errorf("response CommandField = 0x%04x, want 0x%04x", rsp.CommandField, types.CEchoRSP)
	}
	if rsp.Status != types.StatusSuccess {
		t.Errorf("response Status = 0x%04x, want success", rsp.Status)
	}
}

func TestHandleFragmentedDataset(t *testing.T) {
	handler := &echoOnlyHandler{}
	service := NewService(handler, nil)
	pduLayer := &mockPDULayer{}

	cmd := EncodeCommand(&types.Message{
		CommandField:        types.NCreateRQ,
		MessageID:           2,
		AffectedSOPClassUID: types.ModalityPerformedProcedureStepSOPClass,
		CommandDataSetType:  0x0001,
	})

	ds := dicom.NewDataset()
	ds.AddElement(dicom.TagPerformedProcedureStepStatus, dicom.VR_CS, "IN PROGRESS")
	encoded, err := dicom.EncodeDatasetWithTransferSyntax(ds, types.ImplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if err := service.HandleDIMSEMessage(1, 0x03, cmd, pduLayer); err != nil {
		t.Fatalf("command fragment failed: %v", err)
	}
	if handler.received != nil {
		t.Fatal("handler invoked before dataset arrived")
	}

	half := len(encoded) / 2
	if err := service.HandleDIMSEMessage(1, 0x00, encoded[:half], pduLayer); err != nil {
		t.Fatalf("first dataset fragment failed: %v", err)
	}
	if err := service.HandleDIMSEMessage(1, 0x02, encoded[half:], pduLayer); err != nil {
		t.Fatalf("last dataset fragment failed: %v", err)
	}

	if handler.received == nil {
		t.Fatal("handler was not invoked after complete dataset")
	}
	if handler.received.CommandField != types.NCreateRQ {
		t.Errorf("CommandField = 0x%04x, want N-CREATE-RQ", handler.received.CommandField)
	}
}

func TestCancelStopsStreamingOperation(t *testing.T) {
	handler := &streamingHandler{
		started: make(chan *types.Message, 1),
		release: make(chan struct{}),
		done:    make(chan struct{}),
	}
	service := NewService(handler, nil)
	pduLayer := &mockPDULayer{}

	findCmd := EncodeCommand(&types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           9,
		AffectedSOPClassUID: types.ModalityWorklistInformationModelFind,
		CommandDataSetType:  0x0001,
	})

	query := dicom.NewDataset()
	query.AddElement(dicom.TagModality, dicom.VR_CS, "MG")
	encoded, err := dicom.EncodeDatasetWithTransferSyntax(query, types.ImplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if err := service.HandleDIMSEMessage(1, 0x03, findCmd, pduLayer); err != nil {
		t.Fatalf("command failed: %v", err)
	}
	if err := service.HandleDIMSEMessage(1, 0x02, encoded, pduLayer); err != nil {
		t.Fatalf("dataset failed: %v", err)
	}

	select {
	case <-handler.started:
	case <-time.After(time.Second):
		t.Fatal("streaming handler did not start")
	}

	cancelCmd := EncodeCommand(&types.Message{
		CommandField:              types.CCancelRQ,
		MessageIDBeingRespondedTo: 9,
		CommandDataSetType:        0x0101,
	})
	if err := service.HandleDIMSEMessage(1, 0x03, cancelCmd, pduLayer); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	select {
	case <-handler.done:
	case <-time.After(time.Second):
		t.Fatal("streaming handler did not finish")
	}
	if !handler.ctxDone {
		t.Error("streaming handler context was not cancelled")
	}
}

func TestCancelUnknownOperationIgnored(t *testing.T) {
	service := NewService(&echoOnlyHandler{}, nil)
	pduLayer := &mockPDULayer{}

	cancelCmd := EncodeCommand(&types.Message{
		CommandField:              types.CCancelRQ,
		MessageIDBeingRespondedTo: 42,
		CommandDataSetType:        0x0101,
	})
	if err := service.HandleDIMSEMessage(1, 0x03, cancelCmd, pduLayer); err != nil {
		t.Fatalf("cancel of unknown operation returned error: %v", err)
	}
	if len(pduLayer.commands) != 0 {
		t.Errorf("cancel produced %d responses, want 0", len(pduLayer.commands))
	}
}
