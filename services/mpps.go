package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/openscreening/gateway/dicom"
	"github.com/openscreening/gateway/events"
	"github.com/openscreening/gateway/interfaces"
	"github.com/openscreening/gateway/store"
	"github.com/openscreening/gateway/types"
)

// MPPSService implements the Modality Performed Procedure Step N-CREATE
// and N-SET SCP.
//
// Started procedure steps are tracked in an in-memory instance table for
// the lifetime of the process. Each accepted transition updates the
// worklist store and enqueues a status event correlated back to the
// command that created the worklist item.
type MPPSService struct {
	store      *store.Store
	dispatcher *events.Dispatcher
	responses  *ResponseBuilder

	mu        sync.Mutex
	instances map[string]*dicom.Dataset
}

// NewMPPSService creates a procedure step service backed by the given
// store and event dispatcher. The dispatcher may be nil, in which case
// no outbound events are produced.
func NewMPPSService(s *store.Store, dispatcher *events.Dispatcher) *MPPSService {
	return &MPPSService{
		store:      s,
		dispatcher: dispatcher,
		responses:  NewResponseBuilder(),
		instances:  make(map[string]*dicom.Dataset),
	}
}

// HandleDIMSE routes N-CREATE and N-SET requests.
func (m *MPPSService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	switch msg.CommandField {
	case types.NCreateRQ:
		return m.handleCreate(ctx, msg, meta)
	case types.NSetRQ:
		return m.handleSet(ctx, msg, meta)
	default:
		return CreateErrorResponse(msg, types.StatusProcessingFailure), nil, nil
	}
}

// handleCreate registers a new procedure step instance and transitions
// the referenced worklist item to IN_PROGRESS.
func (m *MPPSService) handleCreate(ctx context.Context, msg *types.Message, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	instanceUID := msg.AffectedSOPInstanceUID
	slog.InfoContext(ctx, "Processing MPPS N-CREATE request",
		"message_id", msg.MessageID,
		"sop_instance_uid", instanceUID)

	if instanceUID == "" {
		return m.responses.NCreateResponse(msg, types.StatusInvalidAttributeValue), nil, nil
	}

	attrList := meta.Dataset
	if attrList == nil || !attrList.Has(dicom.TagPerformedProcedureStepStatus) {
		return m.responses.NCreateResponse(msg, types.StatusMissingAttribute), nil, nil
	}

	status := attrList.GetString(dicom.TagPerformedProcedureStepStatus)
	if !strings.EqualFold(status, "IN PROGRESS") {
		slog.WarnContext(ctx, "MPPS N-CREATE with unexpected status",
			"sop_instance_uid", instanceUID, "status", status)
		return m.responses.NCreateResponse(msg, types.StatusInvalidAttributeValue), nil, nil
	}

	m.mu.Lock()
	if _, exists := m.instances[instanceUID]; exists {
		m.mu.Unlock()
		slog.WarnContext(ctx, "MPPS N-CREATE for duplicate SOP instance",
			"sop_instance_uid", instanceUID)
		return m.responses.NCreateResponse(msg, types.StatusDuplicateSOPInstance), nil, nil
	}
	m.instances[instanceUID] = attrList
	m.mu.Unlock()

	accession, modality := scheduledStepReference(attrList)
	slog.InfoContext(ctx, "Procedure step started",
		"sop_instance_uid", instanceUID,
		"accession_number", accession,
		"modality", modality)

	m.recordTransition(ctx, accession, store.StatusInProgress, "IN PROGRESS", instanceUID)

	return m.responses.NCreateResponse(msg, types.StatusSuccess), nil, nil
}

// handleSet applies a modification to a previously started procedure step.
func (m *MPPSService) handleSet(ctx context.Context, msg *types.Message, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	instanceUID := msg.RequestedSOPInstanceUID
	slog.InfoContext(ctx, "Processing MPPS N-SET request",
		"message_id", msg.MessageID,
		"sop_instance_uid", instanceUID)

	m.mu.Lock()
	instance, exists := m.instances[instanceUID]
	m.mu.Unlock()
	if !exists {
		slog.WarnContext(ctx, "MPPS N-SET for unknown SOP instance",
			"sop_instance_uid", instanceUID)
		return m.responses.NSetResponse(msg, types.StatusNoSuchObjectInstance), nil, nil
	}

	modList := meta.Dataset
	if modList == nil {
		return m.responses.NSetResponse(msg, types.StatusMissingAttribute), nil, nil
	}

	status := modList.GetString(dicom.TagPerformedProcedureStepStatus)
	slog.InfoContext(ctx, "Procedure step status change",
		"sop_instance_uid", instanceUID, "status", status)

	accession, _ := scheduledStepReference(instance)
	m.recordTransition(ctx, accession, storeStatusFor(status), status, instanceUID)

	m.mu.Lock()
	for _, element := range modList.Elements {
		instance.AddElement(element.Tag, element.VR, element.Value)
	}
	m.mu.Unlock()

	return m.responses.NSetResponse(msg, types.StatusSuccess), nil, nil
}

// recordTransition updates the worklist item and enqueues the outbound
// status event. An accession number the store does not know is logged
// and skipped; the protocol exchange still succeeds.
func (m *MPPSService) recordTransition(ctx context.Context, accession, storeStatus, eventStatus, instanceUID string) {
	if accession == "" {
		slog.WarnContext(ctx, "Procedure step carries no accession number",
			"sop_instance_uid", instanceUID)
		return
	}

	sourceMessageID, err := m.store.UpdateStatus(accession, storeStatus, instanceUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "Accession number not found in worklist",
				"accession_number", accession)
		} else {
			slog.ErrorContext(ctx, "Failed to update worklist status",
				"accession_number", accession, "error", err)
		}
		return
	}
	slog.InfoContext(ctx, "Worklist item updated",
		"accession_number", accession, "status", storeStatus)

	if m.dispatcher == nil {
		return
	}
	event, err := events.NewStatusUpdate(sourceMessageID, accession, eventStatus, instanceUID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to build status event",
			"accession_number", accession, "error", err)
		return
	}
	if !m.dispatcher.Enqueue(event) {
		slog.WarnContext(ctx, "Status event dropped, dispatch queue full",
			"accession_number", accession)
	}
}

// scheduledStepReference extracts the accession number and modality from
// the scheduled step attributes of a procedure step dataset.
func scheduledStepReference(ds *dicom.Dataset) (accession, modality string) {
	modality = ds.GetString(dicom.TagModality)
	if items := ds.GetSequence(dicom.TagScheduledStepAttributesSequence); len(items) > 0 {
		accession = items[0].GetString(dicom.TagAccessionNumber)
	}
	return accession, modality
}

// storeStatusFor maps a wire-format procedure step status to its store
// representation. Unrecognized values are persisted verbatim.
func storeStatusFor(status string) string {
	switch strings.ToUpper(status) {
	case "IN PROGRESS":
		return store.StatusInProgress
	case "COMPLETED":
		return store.StatusCompleted
	case "DISCONTINUED":
		return store.StatusDiscontinued
	default:
		return status
	}
}
