package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/openscreening/gateway/dicom"
	"github.com/openscreening/gateway/interfaces"
	"github.com/openscreening/gateway/store"
	"github.com/openscreening/gateway/types"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "worklist.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addTestItem(t *testing.T, s *store.Store, accession, modality, date string) {
	t.Helper()
	err := s.Add(&store.Item{
		AccessionNumber:  accession,
		PatientID:        "9000000001",
		PatientName:      "SMITH^JANE",
		PatientBirthDate: "19650315",
		PatientSex:       "F",
		ScheduledDate:    date,
		ScheduledTime:    "090000",
		Modality:         modality,
		StudyDescription: "Screening mammography",
		Status:           store.StatusScheduled,
		SourceMessageID:  "A1",
	})
	if err != nil {
		t.Fatalf("Failed to add item: %v", err)
	}
}

func findRequest() *types.Message {
	return &types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           1,
		AffectedSOPClassUID: types.ModalityWorklistInformationModelFind,
		CommandDataSetType:  0x0001,
	}
}

func findIdentifier(modality, date string) *dicom.Dataset {
	sps := dicom.NewDataset()
	sps.AddElement(dicom.TagModality, dicom.VR_CS, modality)
	sps.AddElement(dicom.TagScheduledProcedureStepStartDate, dicom.VR_DA, date)

	ds := dicom.NewDataset()
	ds.AddSequence(dicom.TagScheduledProcedureStepSequence, sps)
	ds.AddElement(dicom.TagPatientName, dicom.VR_PN, "")
	return ds
}

func TestFindService_StreamsMatchingItems(t *testing.T) {
	s := openTestStore(t)
	addTestItem(t, s, "ACC-1", "MG", "20250811")
	addTestItem(t, s, "ACC-2", "MG", "20250812")

	service := NewFindService(s)
	responder := &capturingResponder{}
	meta := interfaces.MessageContext{
		TransferSyntaxUID: types.ImplicitVRLittleEndian,
		Dataset:           findIdentifier("MG", ""),
	}

	err := service.HandleDIMSEStreaming(context.Background(), findRequest(), meta, responder)
	if err != nil {
		t.Fatalf("HandleDIMSEStreaming() error = %v", err)
	}

	if len(responder.messages) != 3 {
		t.Fatalf("Expected 2 pending + 1 final response, got %d", len(responder.messages))
	}
	for i := 0; i < 2; i++ {
		if responder.messages[i].Status != types.StatusPending {
			t.Errorf("Response %d status = 0x%04x, want pending", i, responder.messages[i].Status)
		}
		if responder.datasets[i] == nil {
			t.Errorf("Response %d missing dataset", i)
		}
	}
	final := responder.messages[2]
	if final.Status != types.StatusSuccess {
		t.Errorf("Final status = 0x%04x, want success", final.Status)
	}
	if responder.datasets[2] != nil {
		t.Error("Final response should carry no dataset")
	}

	// Items come back in scheduled order.
	first := responder.datasets[0]
	if got := first.GetString(dicom.TagAccessionNumber); got != "ACC-1" {
		t.Errorf("AccessionNumber = %s, want ACC-1", got)
	}
	if got := first.GetString(dicom.TagPatientName); got != "SMITH^JANE" {
		t.Errorf("PatientName = %s, want SMITH^JANE", got)
	}
	sps := first.GetSequence(dicom.TagScheduledProcedureStepSequence)
	if len(sps) != 1 {
		t.Fatalf("Expected 1 scheduled procedure step item, got %d", len(sps))
	}
	if got := sps[0].GetString(dicom.TagModality); got != "MG" {
		t.Errorf("Modality = %s, want MG", got)
	}
	if got := sps[0].GetString(dicom.TagScheduledProcedureStepStartDate); got != "20250811" {
		t.Errorf("ScheduledProcedureStepStartDate = %s, want 20250811", got)
	}
}

func TestFindService_ModalityFilter(t *testing.T) {
	s := openTestStore(t)
	addTestItem(t, s, "ACC-1", "MG", "20250811")
	addTestItem(t, s, "ACC-2", "CT", "20250811")

	service := NewFindService(s)
	responder := &capturingResponder{}
	meta := interfaces.MessageContext{Dataset: findIdentifier("CT", "")}

	if err := service.HandleDIMSEStreaming(context.Background(), findRequest(), meta, responder); err != nil {
		t.Fatalf("HandleDIMSEStreaming() error = %v", err)
	}

	if len(responder.messages) != 2 {
		t.Fatalf("Expected 1 pending + 1 final response, got %d", len(responder.messages))
	}
	if got := responder.datasets[0].GetString(dicom.TagAccessionNumber); got != "ACC-2" {
		t.Errorf("AccessionNumber = %s, want ACC-2", got)
	}
}

func TestFindService_WildcardMeansNoFilter(t *testing.T) {
	s := openTestStore(t)
	addTestItem(t, s, "ACC-1", "MG", "20250811")
	addTestItem(t, s, "ACC-2", "CT", "20250812")

	service := NewFindService(s)
	responder := &capturingResponder{}
	meta := interfaces.MessageContext{Dataset: findIdentifier("*", "*")}

	if err := service.HandleDIMSEStreaming(context.Background(), findRequest(), meta, responder); err != nil {
		t.Fatalf("HandleDIMSEStreaming() error = %v", err)
	}

	if len(responder.messages) != 3 {
		t.Fatalf("Expected 2 pending + 1 final response, got %d", len(responder.messages))
	}
}

func TestFindService_OnlyScheduledItemsReturned(t *testing.T) {
	s := openTestStore(t)
	addTestItem(t, s, "ACC-1", "MG", "20250811")
	addTestItem(t, s, "ACC-2", "MG", "20250811")
	if _, err := s.UpdateStatus("ACC-2", store.StatusInProgress, "1.2.3"); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	service := NewFindService(s)
	responder := &capturingResponder{}
	meta := interfaces.MessageContext{Dataset: findIdentifier("MG", "")}

	if err := service.HandleDIMSEStreaming(context.Background(), findRequest(), meta, responder); err != nil {
		t.Fatalf("HandleDIMSEStreaming() error = %v", err)
	}

	if len(responder.messages) != 2 {
		t.Fatalf("Expected 1 pending + 1 final response, got %d", len(responder.messages))
	}
	if got := responder.datasets[0].GetString(dicom.TagAccessionNumber); got != "ACC-1" {
		t.Errorf("AccessionNumber = %s, want ACC-1", got)
	}
}

func TestFindService_GeneratesAndPersistsStudyInstanceUID(t *testing.T) {
	s := openTestStore(t)
	addTestItem(t, s, "ACC-1", "MG", "20250811")

	service := NewFindService(s)
	meta := interfaces.MessageContext{Dataset: findIdentifier("MG", "")}

	first := &capturingResponder{}
	if err := service.HandleDIMSEStreaming(context.Background(), findRequest(), meta, first); err != nil {
		t.Fatalf("HandleDIMSEStreaming() error = %v", err)
	}
	uid := first.datasets[0].GetString(dicom.TagStudyInstanceUID)
	if uid == "" {
		t.Fatal("Expected generated study instance UID")
	}

	// A repeat query must return the same UID.
	second := &capturingResponder{}
	if err := service.HandleDIMSEStreaming(context.Background(), findRequest(), meta, second); err != nil {
		t.Fatalf("HandleDIMSEStreaming() error = %v", err)
	}
	if got := second.datasets[0].GetString(dicom.TagStudyInstanceUID); got != uid {
		t.Errorf("StudyInstanceUID changed between queries: %s != %s", got, uid)
	}

	item, err := s.Get("ACC-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item.StudyInstanceUID != uid {
		t.Errorf("Persisted StudyInstanceUID = %s, want %s", item.StudyInstanceUID, uid)
	}
}

func TestFindService_CancelClosesStreamCleanly(t *testing.T) {
	s := openTestStore(t)
	addTestItem(t, s, "ACC-1", "MG", "20250811")
	addTestItem(t, s, "ACC-2", "MG", "20250812")

	service := NewFindService(s)
	responder := &capturingResponder{}
	meta := interfaces.MessageContext{Dataset: findIdentifier("MG", "")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := service.HandleDIMSEStreaming(ctx, findRequest(), meta, responder)
	if err != nil {
		t.Fatalf("HandleDIMSEStreaming() error = %v", err)
	}

	if len(responder.messages) != 1 {
		t.Fatalf("Expected single cancel response, got %d responses", len(responder.messages))
	}
	if responder.messages[0].Status != types.StatusCancel {
		t.Errorf("Status = 0x%04x, want cancel", responder.messages[0].Status)
	}
	if responder.datasets[0] != nil {
		t.Error("Cancel response should carry no dataset")
	}
}

func TestFindService_EmptyWorklist(t *testing.T) {
	s := openTestStore(t)

	service := NewFindService(s)
	responder := &capturingResponder{}
	meta := interfaces.MessageContext{Dataset: findIdentifier("", "")}

	if err := service.HandleDIMSEStreaming(context.Background(), findRequest(), meta, responder); err != nil {
		t.Fatalf("HandleDIMSEStreaming() error = %v", err)
	}

	if len(responder.messages) != 1 {
		t.Fatalf("Expected single final response, got %d", len(responder.messages))
	}
	if responder.messages[0].Status != types.StatusSuccess {
		t.Errorf("Status = 0x%04x, want success", responder.messages[0].Status)
	}
}
