package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openscreening/gateway/dicom"
	"github.com/openscreening/gateway/interfaces"
	"github.com/openscreening/gateway/store"
	"github.com/openscreening/gateway/types"
)

// FindService implements the Modality Worklist C-FIND SCP.
//
// Matching items are streamed back one per pending response. A C-CANCEL
// received mid-stream cancels the operation context, which closes the
// stream with a cancel status instead of an error.
type FindService struct {
	store     *store.Store
	responses *ResponseBuilder
}

// NewFindService creates a worklist query service backed by the given store.
func NewFindService(s *store.Store) *FindService {
	return &FindService{
		store:     s,
		responses: NewResponseBuilder(),
	}
}

// HandleDIMSE rejects buffered dispatch; worklist queries stream their responses.
func (f *FindService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	return nil, nil, fmt.Errorf("C-FIND requires streaming dispatch")
}

// HandleDIMSEStreaming processes a worklist query, sending one pending
// response per matching item followed by a final success response.
func (f *FindService) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	query := f.queryFromIdentifier(meta.Dataset)

	slog.InfoContext(ctx, "Processing worklist C-FIND request",
		"message_id", msg.MessageID,
		"modality", query.Modality,
		"scheduled_date", query.ScheduledDate)

	items, err := f.store.Find(query)
	if err != nil {
		slog.ErrorContext(ctx, "Worklist query failed", "error", err)
		return responder.SendResponse(f.responses.CFindResponse(msg, types.StatusOutOfResources, false), nil, meta.TransferSyntaxUID)
	}

	sent := 0
	for _, item := range items {
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Worklist C-FIND canceled",
				"message_id", msg.MessageID,
				"items_sent", sent)
			return responder.SendResponse(f.responses.CFindResponse(msg, types.StatusCancel, false), nil, meta.TransferSyntaxUID)
		}

		dataset, err := f.itemDataset(ctx, item)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to build worklist response item",
				"accession_number", item.AccessionNumber, "error", err)
			continue
		}

		if err := responder.SendResponse(f.responses.CFindResponse(msg, types.StatusPending, true), dataset, meta.TransferSyntaxUID); err != nil {
			return fmt.Errorf("failed to send pending response: %w", err)
		}
		sent++
	}

	slog.InfoContext(ctx, "Worklist C-FIND completed",
		"message_id", msg.MessageID,
		"items_sent", sent)

	return responder.SendResponse(f.responses.CFindResponse(msg, types.StatusSuccess, false), nil, meta.TransferSyntaxUID)
}

// queryFromIdentifier extracts the modality and date filters from the
// query identifier. Empty and wildcard values mean no filter. Only
// SCHEDULED items are ever returned to the modality.
func (f *FindService) queryFromIdentifier(identifier *dicom.Dataset) store.Query {
	query := store.Query{Status: store.StatusScheduled}
	if identifier == nil {
		return query
	}

	if items := identifier.GetSequence(dicom.TagScheduledProcedureStepSequence); len(items) > 0 {
		sps := items[0]
		if v := sps.GetString(dicom.TagModality); v != "" && v != "*" {
			query.Modality = v
		}
		if v := sps.GetString(dicom.TagScheduledProcedureStepStartDate); v != "" && v != "*" {
			query.ScheduledDate = v
		}
	}
	if v := identifier.GetString(dicom.TagPatientID); v != "" && v != "*" {
		query.PatientID = v
	}
	return query
}

// itemDataset renders one worklist item into the response identifier.
// Items without a study instance UID get one generated and persisted so
// repeat queries return the same UID.
func (f *FindService) itemDataset(ctx context.Context, item *store.Item) (*dicom.Dataset, error) {
	studyUID := item.StudyInstanceUID
	if studyUID == "" {
		studyUID = dicom.GenerateUID()
		if err := f.store.UpdateStudyInstanceUID(item.AccessionNumber, studyUID); err != nil {
			return nil, fmt.Errorf("failed to persist study instance UID: %w", err)
		}
		slog.DebugContext(ctx, "Generated study instance UID",
			"accession_number", item.AccessionNumber,
			"study_instance_uid", studyUID)
	}

	ds := dicom.NewDataset()

	// Patient identification module
	ds.AddElement(dicom.TagSpecificCharacterSet, dicom.VR_CS, "ISO_IR 192")
	ds.AddElement(dicom.TagAccessionNumber, dicom.VR_SH, item.AccessionNumber)
	ds.AddElement(dicom.TagPatientName, dicom.VR_PN, item.PatientName)
	ds.AddElement(dicom.TagPatientID, dicom.VR_LO, item.PatientID)
	ds.AddElement(dicom.TagPatientBirthDate, dicom.VR_DA, item.PatientBirthDate)
	ds.AddElement(dicom.TagPatientSex, dicom.VR_CS, item.PatientSex)

	// Scheduled procedure step module
	sps := dicom.NewDataset()
	sps.AddElement(dicom.TagModality, dicom.VR_CS, item.Modality)
	sps.AddElement(dicom.TagScheduledStationAETitle, dicom.VR_AE, "")
	sps.AddElement(dicom.TagScheduledProcedureStepStartDate, dicom.VR_DA, item.ScheduledDate)
	sps.AddElement(dicom.TagScheduledProcedureStepStartTime, dicom.VR_TM, item.ScheduledTime)
	sps.AddElement(dicom.TagScheduledPerformingPhysicianName, dicom.VR_PN, "")
	sps.AddElement(dicom.TagScheduledProcedureStepDescription, dicom.VR_LO, item.StudyDescription)
	sps.AddElement(dicom.TagScheduledProcedureStepID, dicom.VR_SH, item.AccessionNumber)
	ds.AddSequence(dicom.TagScheduledProcedureStepSequence, sps)

	// Study module
	ds.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, studyUID)
	ds.AddElement(dicom.TagStudyID, dicom.VR_SH, item.AccessionNumber)
	ds.AddElement(dicom.TagRequestedProcedureDescription, dicom.VR_LO, item.StudyDescription)
	ds.AddElement(dicom.TagRequestedProcedureID, dicom.VR_SH, item.AccessionNumber)

	return ds, nil
}
