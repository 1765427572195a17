package client

import (
	"encoding/binary"
	"testing"

	"github.com/openscreening/gateway/dicom"
	"github.com/openscreening/gateway/dimse"
	"github.com/openscreening/gateway/types"
)

func buildPDataPDU(contextID byte, isCommand bool, isLast bool, data []byte) []byte {
	pdvLength := uint32(len(data) + 2)

	payload := make([]byte, 0, len(data)+6)

	pdvHeader := make([]byte, 4)
	binary.BigEndian.PutUint32(pdvHeader, pdvLength)
	payload = append(payload, pdvHeader...)
	payload = append(payload, contextID)

	control := byte(0)
	if isCommand {
		control |= 0x01
	}
	if isLast {
		control |= 0x02
	}
	payload = append(payload, control)
	payload = append(payload, data...)

	header := make([]byte, 6)
	header[0] = types.TypePDataTF
	header[1] = 0x00
	binary.BigEndian.PutUint32(header[2:6], uint32(len(payload)))

	return append(header, payload...)
}

func TestSendCEcho(t *testing.T) {
	conn := newMockConn()
	assoc := newTestAssociation(conn)
	assoc.presentationCtxs[1] = &PresentationContext{
		ID:             1,
		AbstractSyntax: types.VerificationSOPClass,
		Accepted:       true,
	}

	command := dimse.EncodeCommand(&types.Message{
		CommandField:              types.CEchoRSP,
		MessageIDBeingRespondedTo: 1,
		CommandDataSetType:        0x0101,
		Status:                    types.StatusSuccess,
		AffectedSOPClassUID:       types.VerificationSOPClass,
	})

	conn.readBuf.Write(buildPDataPDU(1, true, true, command))

	resp, err := assoc.SendCEcho(1)
	if err != nil {
		t.Fatalf("SendCEcho returned error: %v", err)
	}

	if resp.Status != types.StatusSuccess {
		t.Fatalf("C-ECHO status = 0x%04X, want success", resp.Status)
	}

	if resp.MessageID != 1 {
		t.Fatalf("C-ECHO message ID = %d, want 1", resp.MessageID)
	}

	if conn.writeBuf.Len() == 0 {
		t.Fatal("expected C-ECHO request to be written to connection")
	}
}

func TestSendCFind(t *testing.T) {
	conn := newMockConn()
	assoc := newTestAssociation(conn)
	assoc.presentationCtxs[3] = &PresentationContext{
		ID:             3,
		AbstractSyntax: types.ModalityWorklistInformationModelFind,
		TransferSyntax: types.ImplicitVRLittleEndian,
		Accepted:       true,
	}

	requestDataset := dicom.NewDataset()
	requestDataset.AddElement(dicom.TagPatientName, dicom.VR_PN, "")
	sps := dicom.NewDataset()
	sps.AddElement(dicom.TagModality, dicom.VR_CS, "MG")
	requestDataset.AddSequence(dicom.TagScheduledProcedureStepSequence, sps)

	matchDataset := dicom.NewDataset()
	matchDataset.AddElement(dicom.TagPatientName, dicom.VR_PN, "SMITH^JANE")
	matchDataset.AddElement(dicom.TagAccessionNumber, dicom.VR_SH, "ACC-1")
	matchDatasetBytes, err := dicom.EncodeDatasetWithTransferSyntax(matchDataset, types.ImplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("failed to encode match dataset: %v", err)
	}

	pendingCommand := dimse.EncodeCommand(&types.Message{
		CommandField:              types.CFindRSP,
		MessageIDBeingRespondedTo: 2,
		CommandDataSetType:        0x0000,
		Status:                    types.StatusPending,
		AffectedSOPClassUID:       types.ModalityWorklistInformationModelFind,
	})

	finalCommand := dimse.EncodeCommand(&types.Message{
		CommandField:              types.CFindRSP,
		MessageIDBeingRespondedTo: 2,
		CommandDataSetType:        0x0101,
		Status:                    types.StatusSuccess,
		AffectedSOPClassUID:       types.ModalityWorklistInformationModelFind,
	})

	conn.readBuf.Write(buildPDataPDU(3, true, true, pendingCommand))
	conn.readBuf.Write(buildPDataPDU(3, false, true, matchDatasetBytes))
	conn.readBuf.Write(buildPDataPDU(3, true, true, finalCommand))

	responses, err := assoc.SendCFind(&CFindRequest{
		MessageID: 2,
		Dataset:   requestDataset,
	})
	if err != nil {
		t.Fatalf("SendCFind returned error: %v", err)
	}

	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}

	if responses[0].Status != types.StatusPending {
		t.Fatalf("first response status = 0x%04X, want pending", responses[0].Status)
	}

	if responses[0].Dataset == nil {
		t.Fatal("expected dataset in pending response")
	}

	if name := responses[0].Dataset.GetString(dicom.TagPatientName); name != "SMITH^JANE" {
		t.Fatalf("patient name = %s, want SMITH^JANE", name)
	}

	if accession := responses[0].Dataset.GetString(dicom.TagAccessionNumber); accession != "ACC-1" {
		t.Fatalf("accession number = %s, want ACC-1", accession)
	}

	if responses[1].Status != types.StatusSuccess {
		t.Fatalf("final response status = 0x%04X, want success", responses[1].Status)
	}

	if responses[1].Dataset != nil {
		t.Fatal("final response should not contain dataset")
	}
}

func TestSendNCreateAndNSet(t *testing.T) {
	conn := newMockConn()
	assoc := newTestAssociation(conn)
	assoc.presentationCtxs[5] = &PresentationContext{
		ID:             5,
		AbstractSyntax: types.ModalityPerformedProcedureStepSOPClass,
		TransferSyntax: types.ImplicitVRLittleEndian,
		Accepted:       true,
	}

	attrList := dicom.NewDataset()
	attrList.AddElement(dicom.TagPerformedProcedureStepStatus, dicom.VR_CS, "IN PROGRESS")

	createResponse := dimse.EncodeCommand(&types.Message{
		CommandField:              types.NCreateRSP,
		MessageIDBeingRespondedTo: 4,
		CommandDataSetType:        0x0101,
		Status:                    types.StatusSuccess,
		AffectedSOPClassUID:       types.ModalityPerformedProcedureStepSOPClass,
		AffectedSOPInstanceUID:    "1.2.3.100",
	})
	conn.readBuf.Write(buildPDataPDU(5, true, true, createResponse))

	resp, err := assoc.SendNCreate(4, "1.2.3.100", attrList)
	if err != nil {
		t.Fatalf("SendNCreate returned error: %v", err)
	}
	if resp.Status != types.StatusSuccess {
		t.Fatalf("N-CREATE status = 0x%04X, want success", resp.Status)
	}
	if resp.SOPInstanceUID != "1.2.3.100" {
		t.Fatalf("N-CREATE SOP instance UID = %s, want 1.2.3.100", resp.SOPInstanceUID)
	}

	modList := dicom.NewDataset()
	modList.AddElement(dicom.TagPerformedProcedureStepStatus, dicom.VR_CS, "COMPLETED")

	setResponse := dimse.EncodeCommand(&types.Message{
		CommandField:              types.NSetRSP,
		MessageIDBeingRespondedTo: 5,
		CommandDataSetType:        0x0101,
		Status:                    types.StatusSuccess,
		AffectedSOPClassUID:       types.ModalityPerformedProcedureStepSOPClass,
		AffectedSOPInstanceUID:    "1.2.3.100",
	})
	conn.readBuf.Write(buildPDataPDU(5, true, true, setResponse))

	resp, err = assoc.SendNSet(5, "1.2.3.100", modList)
	if err != nil {
		t.Fatalf("SendNSet returned error: %v", err)
	}
	if resp.Status != types.StatusSuccess {
		t.Fatalf("N-SET status = 0x%04X, want success", resp.Status)
	}
}

func TestSendNCreateRejectsMissingInstanceUID(t *testing.T) {
	assoc := newTestAssociation(newMockConn())

	if _, err := assoc.SendNCreate(1, "", dicom.NewDataset()); err == nil {
		t.Fatal("expected error for missing SOP instance UID")
	}
}
