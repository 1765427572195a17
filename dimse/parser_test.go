package dimse

import (
	"testing"

	"github.com/openscreening/gateway/types"
)

func TestParseCommandEcho(t *testing.T) {
	cmd := EncodeCommand(&types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           7,
		AffectedSOPClassUID: types.VerificationSOPClass,
		CommandDataSetType:  0x0101,
	})

	msg, err := ParseCommand(cmd)
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}

	if msg.CommandField != types.CEchoRQ {
		t.Errorf("CommandField = 0x%04x, want 0x%04x", msg.CommandField, types.CEchoRQ)
	}
	if msg.MessageID != 7 {
		t.Errorf("MessageID = %d, want 7", msg.MessageID)
	}
	if msg.AffectedSOPClassUID != types.VerificationSOPClass {
		t.Errorf("AffectedSOPClassUID = %q, want %q", msg.AffectedSOPClassUID, types.VerificationSOPClass)
	}
	if msg.HasDataset() {
		t.Error("HasDataset = true, want false")
	}
}

func TestParseCommandNCreate(t *testing.T) {
	cmd := EncodeCommand(&types.Message{
		CommandField:           types.NCreateRQ,
		MessageID:              11,
		AffectedSOPClassUID:    types.ModalityPerformedProcedureStepSOPClass,
		AffectedSOPInstanceUID: "1.2.3.4.5.6",
		CommandDataSetType:     0x0001,
	})

	msg, err := ParseCommand(cmd)
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}

	if msg.CommandField != types.NCreateRQ {
		t.Errorf("CommandField = 0x%04x, want 0x%04x", msg.CommandField, types.NCreateRQ)
	}
	if msg.AffectedSOPInstanceUID != "1.2.3.4.5.6" {
		t.Errorf("AffectedSOPInstanceUID = %q, want %q", msg.AffectedSOPInstanceUID, "1.2.3.4.5.6")
	}
	if !msg.HasDataset() {
		t.Error("HasDataset = false, want true")
	}
}

func TestParseCommandNSetRequestedUIDs(t *testing.T) {
	cmd := EncodeCommand(&types.Message{
		CommandField:            types.NSetRQ,
		MessageID:               3,
		RequestedSOPClassUID:    types.ModalityPerformedProcedureStepSOPClass,
		RequestedSOPInstanceUID: "2.25.42",
		CommandDataSetType:      0x0001,
	})

	msg, err := ParseCommand(cmd)
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}

	if msg.RequestedSOPClassUID != types.ModalityPerformedProcedureStepSOPClass {
		t.Errorf("RequestedSOPClassUID = %q", msg.RequestedSOPClassUID)
	}
	if msg.RequestedSOPInstanceUID != "2.25.42" {
		t.Errorf("RequestedSOPInstanceUID = %q, want %q", msg.RequestedSOPInstanceUID, "2.25.42")
	}
}

func TestParseCommandTooShort(t *testing.T) {
	if _, err := ParseCommand([]byte{0x00, 0x00}); err == nil {
		t.Error("expected error for short data")
	}
}

func TestEncodeCommandStatusOnlyInResponses(t *testing.T) {
	req := EncodeCommand(&types.Message{
		CommandField:       types.CFindRQ,
		MessageID:          1,
		CommandDataSetType: 0x0001,
	})
	reqMsg, err := ParseCommand(req)
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if reqMsg.Status != 0 {
		t.Errorf("request Status = 0x%04x, want 0", reqMsg.Status)
	}

	rsp := EncodeCommand(&types.Message{
		CommandField:              types.CFindRSP,
		MessageIDBeingRespondedTo: 1,
		CommandDataSetType:        0x0101,
		Status:                    types.StatusPending,
	})
	rspMsg, err := ParseCommand(rsp)
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if rspMsg.Status != types.StatusPending {
		t.Errorf("response Status = 0x%04x, want 0x%04x", rspMsg.Status, types.StatusPending)
	}
	if rspMsg.MessageIDBeingRespondedTo != 1 {
		t.Errorf("MessageIDBeingRespondedTo = %d, want 1", rspMsg.MessageIDBeingRespondedTo)
	}
}
