package services

import (
	"github.com/openscreening/gateway/types"
)

// ResponseBuilder provides utilities for creating DIMSE response messages.
type ResponseBuilder struct{}

// NewResponseBuilder creates a new response builder.
func NewResponseBuilder() *ResponseBuilder {
	return &ResponseBuilder{}
}

// CEchoResponse creates a C-ECHO response message.
func (rb *ResponseBuilder) CEchoResponse(req *types.Message, status uint16) *types.Message {
	return &types.Message{
		CommandField:              types.CEchoRSP,
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSOPClassUID:       req.AffectedSOPClassUID,
		CommandDataSetType:        0x0101, // No dataset
		Status:                    status,
	}
}

// CFindResponse creates a C-FIND response message.
//
// hasDataset should be true for pending responses carrying a matching
// worklist item and false for the final response.
func (rb *ResponseBuilder) CFindResponse(req *types.Message, status uint16, hasDataset bool) *types.Message {
	dataSetType := uint16(0x0101) // No dataset
	if hasDataset {
		dataSetType = 0x0001 // Dataset present
	}

	return &types.Message{
		CommandField:              types.CFindRSP,
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSOPClassUID:       req.AffectedSOPClassUID,
		CommandDataSetType:        dataSetType,
		Status:                    status,
	}
}

// NCreateResponse creates an N-CREATE response message.
func (rb *ResponseBuilder) NCreateResponse(req *types.Message, status uint16) *types.Message {
	return &types.Message{
		CommandField:              types.NCreateRSP,
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSOPClassUID:       req.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    req.AffectedSOPInstanceUID,
		CommandDataSetType:        0x0101, // No dataset
		Status:                    status,
	}
}

// NSetResponse creates an N-SET response message.
func (rb *ResponseBuilder) NSetResponse(req *types.Message, status uint16) *types.Message {
	return &types.Message{
		CommandField:              types.NSetRSP,
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSOPClassUID:       req.RequestedSOPClassUID,
		AffectedSOPInstanceUID:    req.RequestedSOPInstanceUID,
		CommandDataSetType:        0x0101, // No dataset
		Status:                    status,
	}
}
