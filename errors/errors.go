// Package errors provides DICOM-specific error types for better error handling
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrConnectionClosed    = errors.New("dicom: connection closed")
	ErrAssociationRejected = errors.New("dicom: association rejected")
	ErrNoPresentationCtx   = errors.New("dicom: no suitable presentation context")
	ErrOperationCanceled   = errors.New("dicom: operation canceled")
)

// DIMSEError represents a DIMSE operation error with status code
type DIMSEError struct {
	Status    uint16
	Operation string
	Msg       string
}

func (e *DIMSEError) Error() string {
	return fmt.Sprintf("DIMSE %s failed: %s (status: 0x%04X)", e.Operation, e.Msg, e.Status)
}

// NewDIMSEError creates a new DIMSE error
func NewDIMSEError(operation string, status uint16, msg string) *DIMSEError {
	return &DIMSEError{
		Operation: operation,
		Status:    status,
		Msg:       msg,
	}
}

// IsWarning returns true if the DIMSE status indicates a warning
func (e *DIMSEError) IsWarning() bool {
	return (e.Status & 0xFF00) == 0x0100
}

// IsFailure returns true if the DIMSE status indicates failure
func (e *DIMSEError) IsFailure() bool {
	return (e.Status&0xF000) == 0xC000 || (e.Status&0xF000) == 0xA000
}

// NetworkError represents a network-level error
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{
		Op:  op,
		Err: err,
	}
}
