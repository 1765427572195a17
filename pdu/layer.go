// Package pdu implements the server side of the DICOM Upper Layer
// Protocol: association negotiation, P-DATA-TF transfer and release.
package pdu

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/openscreening/gateway/types"
)

// Layer handles the DICOM Upper Layer Protocol
type Layer struct {
	conn           net.Conn
	associationCtx *types.AssociationContext
	dimseHandler   DIMSEHandler
	serverAETitle  string
	logger         *slog.Logger

	// writeMu serializes PDU writes. Streaming handlers send responses
	// from their own goroutine while the read loop may answer a release.
	writeMu sync.Mutex
}

const (
	presentationResultAcceptance           byte = 0x00
	presentationResultRejectAbstractSyntax byte = 0x03
	presentationResultRejectTransferSyntax byte = 0x04
)

var supportedAbstractSyntaxes = map[string]bool{
	types.VerificationSOPClass:                   true, // C-ECHO
	types.ModalityWorklistInformationModelFind:   true, // MWL C-FIND
	types.ModalityPerformedProcedureStepSOPClass: true, // MPPS N-CREATE / N-SET
}

var supportedTransferSyntaxes = map[string]bool{
	types.ImplicitVRLittleEndian: true,
	types.ExplicitVRLittleEndian: true,
}

func normalizeUID(raw []byte) string {
	value := string(raw)
	value = strings.TrimRight(value, "\x00 ")
	return value
}

func supportsAbstractSyntax(uid string) bool {
	return supportedAbstractSyntaxes[uid]
}

func supportsTransferSyntax(uid string) bool {
	return supportedTransferSyntaxes[uid]
}

func parsePresentationContext(data []byte, logger *slog.Logger) (*types.PresentationContext, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("presentation context too short: %d", len(data))
	}

	ctxID := data[0]
	subOffset := 4 // Skip reserved bytes
	var abstractSyntax string
	var transferSyntaxes []string

	for subOffset+4 <= len(data) {
		subItemType := data[subOffset]
		subItemLength := binary.BigEndian.Uint16(data[subOffset+2 : subOffset+4])
		valueStart := subOffset + 4
		valueEnd := valueStart + int(subItemLength)
		if valueEnd > len(data) {
			return nil, fmt.Errorf("presentation context %d sub-item exceeds length", ctxID)
		}

		value := data[valueStart:valueEnd]
		switch subItemType {
		case 0x30: // Abstract Syntax
			abstractSyntax = normalizeUID(value)
		case 0x40: // Transfer Syntax
			transferSyntaxes = append(transferSyntaxes, normalizeUID(value))
		}

		subOffset = valueEnd
	}

	if abstractSyntax == "" {
		return nil, fmt.Errorf("presentation context %d missing abstract syntax", ctxID)
	}

	if logger != nil {
		logger.Debug("Parsing presentation context",
			"context_id", ctxID,
			"abstract_syntax", abstractSyntax,
			"proposed_transfer_syntaxes", transferSyntaxes,
			"num_proposed", len(transferSyntaxes))
	}

	result := presentationResultRejectAbstractSyntax
	selectedTransfer := ""

	if supportsAbstractSyntax(abstractSyntax) {
		for _, ts := range transferSyntaxes {
			if supportsTransferSyntax(ts) {
				selectedTransfer = ts
				result = presentationResultAcceptance
				break
			}
		}
		if result != presentationResultAcceptance {
			result = presentationResultRejectTransferSyntax
		}
	}

	if logger != nil {
		logger.Debug("Presentation context negotiation result",
			"context_id", ctxID,
			"abstract_syntax", abstractSyntax,
			"sop_class", types.GetSOPClassInfo(abstractSyntax).Name,
			"selected_transfer_syntax", selectedTransfer,
			"result", result)
	}

	// Accepted contexts MUST have a transfer syntax
	if result == presentationResultAcceptance && selectedTransfer == "" {
		result = presentationResultRejectTransferSyntax
	}

	return &types.PresentationContext{
		ID:             ctxID,
		Result:         result,
		AbstractSyntax: abstractSyntax,
		TransferSyntax: selectedTransfer,
	}, nil
}

func parseUserInformation(data []byte) (uint32, error) {
	offset := 0
	var maxPDULength uint32

	for offset+4 <= len(data) {
		subItemType := data[offset]
		subItemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		valueStart := offset + 4
		valueEnd := valueStart + int(subItemLength)
		if valueEnd > len(data) {
			return 0, fmt.Errorf("user information sub-item exceeds length")
		}

		if subItemType == 0x51 && subItemLength == 4 {
			maxPDULength = binary.BigEndian.Uint32(data[valueStart:valueEnd])
		}

		offset = valueEnd
	}

	return maxPDULength, nil
}

// DIMSEHandler interface for handling DIMSE messages
type DIMSEHandler interface {
	HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer *Layer) error
}

// NewLayer creates a new PDU layer handler
func NewLayer(conn net.Conn, dimseHandler DIMSEHandler, serverAETitle string, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer{
		conn:          conn,
		dimseHandler:  dimseHandler,
		serverAETitle: serverAETitle,
		logger:        logger,
	}
}

// HandleConnection manages the complete DICOM connection lifecycle
func (p *Layer) HandleConnection() error {
	defer p.conn.Close()
	p.logger.Info("New DICOM connection", "remote_addr", p.conn.RemoteAddr())

	if err := p.handleAssociationPhase(); err != nil {
		return fmt.Errorf("association failed: %v", err)
	}

	for {
		pdu, err := p.readPDU()
		if err != nil {
			if err == io.EOF {
				p.logger.Info("Connection closed by client", "remote_addr", p.conn.RemoteAddr())
			} else {
				p.logger.Warn("Error reading PDU", "error", err, "remote_addr", p.conn.RemoteAddr())
			}
			break
		}

		if err := p.handlePDU(pdu); err != nil {
			if err == io.EOF {
				break // Normal termination
			}
			return fmt.Errorf("error handling PDU: %v", err)
		}
	}

	return nil
}

// readPDU reads a complete PDU from the connection
func (p *Layer) readPDU() (*types.PDU, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(p.conn, header); err != nil {
		return nil, err
	}

	pduType := header[0]
	pduLength := binary.BigEndian.Uint32(header[2:6])

	pduData := make([]byte, pduLength)
	if _, err := io.ReadFull(p.conn, pduData); err != nil {
		return nil, fmt.Errorf("failed to read PDU data: %v", err)
	}

	return &types.PDU{
		Type:   pduType,
		Length: pduLength,
		Data:   pduData,
	}, nil
}

// handlePDU routes PDUs to appropriate handlers
func (p *Layer) handlePDU(pdu *types.PDU) error {
	p.logger.Debug("Received PDU", "type", fmt.Sprintf("0x%02x", pdu.Type), "length", pdu.Length)

	switch pdu.Type {
	case types.TypePDataTF:
		return p.handlePDataTF(pdu)
	case types.TypeReleaseRQ:
		return p.handleReleaseRequest()
	case types.TypeReleaseRP:
		p.logger.Debug("Received A-RELEASE-RP")
		return io.EOF
	case types.TypeAbort:
		p.logger.Info("Received A-ABORT")
		return io.EOF
	default:
		p.logger.Warn("Unhandled PDU type", "type", fmt.Sprintf("0x%02x", pdu.Type))
		return nil
	}
}

// handleAssociationPhase handles the association establishment
func (p *Layer) handleAssociationPhase() error {
	pdu, err := p.readPDU()
	if err != nil {
		return fmt.Errorf("failed to read association request: %v", err)
	}

	if pdu.Type != types.TypeAssociateRQ {
		return fmt.Errorf("expected A-ASSOCIATE-RQ, got PDU type: 0x%02x", pdu.Type)
	}

	return p.handleAssociateRequest(pdu)
}

// handleAssociateRequest processes A-ASSOCIATE-RQ and sends A-ASSOCIATE-AC
func (p *Layer) handleAssociateRequest(pdu *types.PDU) error {
	p.logger.Debug("Processing A-ASSOCIATE-RQ")

	p.associationCtx = &types.AssociationContext{
		CalledAETitle:    p.serverAETitle,
		CallingAETitle:   "UNKNOWN",
		MaxPDULength:     16384,
		PresentationCtxs: make(map[byte]*types.PresentationContext),
	}

	if err := p.parseAssociationRequest(pdu); err != nil {
		return fmt.Errorf("malformed association request: %v", err)
	}

	response := p.createAssociateAccept()

	p.writeMu.Lock()
	_, err := p.conn.Write(response)
	p.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send A-ASSOCIATE-AC: %v", err)
	}

	p.logger.Debug("Sent A-ASSOCIATE-AC")
	return nil
}

// handlePDataTF processes P-DATA-TF PDUs and forwards to DIMSE layer.
// A single P-DATA-TF may carry several PDVs.
func (p *Layer) handlePDataTF(pdu *types.PDU) error {
	p.logger.Debug("Processing P-DATA-TF")

	offset := 0
	for offset+6 <= len(pdu.Data) {
		pdvLength := binary.BigEndian.Uint32(pdu.Data[offset : offset+4])
		if offset+4+int(pdvLength) > len(pdu.Data) {
			return fmt.Errorf("incomplete PDV data")
		}

		pdvData := pdu.Data[offset+4 : offset+4+int(pdvLength)]
		if len(pdvData) < 2 {
			return fmt.Errorf("PDV data too short")
		}

		presContextID := pdvData[0]
		msgCtrlHeader := pdvData[1]
		dimseData := pdvData[2:]

		p.logger.Debug("Processing DIMSE message",
			"presentation_context_id", presContextID,
			"message_control_header", fmt.Sprintf("0x%02x", msgCtrlHeader))

		if err := p.dimseHandler.HandleDIMSEMessage(presContextID, msgCtrlHeader, dimseData, p); err != nil {
			return err
		}

		offset += 4 + int(pdvLength)
	}

	return nil
}

// handleReleaseRequest processes A-RELEASE-RQ and sends A-RELEASE-RP
func (p *Layer) handleReleaseRequest() error {
	p.logger.Debug("Processing A-RELEASE-RQ")

	response := []byte{0x06, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00}

	p.writeMu.Lock()
	_, err := p.conn.Write(response)
	p.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send A-RELEASE-RP: %v", err)
	}

	p.logger.Debug("Sent A-RELEASE-RP")
	return io.EOF
}

// SendDIMSEResponse sends a DIMSE response via P-DATA-TF
func (p *Layer) SendDIMSEResponse(presContextID byte, commandData []byte) error {
	return p.SendDIMSEResponseWithDataset(presContextID, commandData, nil)
}

// SendDIMSEResponseWithDataset sends a DIMSE response with optional dataset via P-DATA-TF
func (p *Layer) SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, datasetData []byte) error {
	commandPDU := buildPDataTF(presContextID, 0x03, commandData)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.conn.Write(commandPDU); err != nil {
		return fmt.Errorf("failed to send command PDU: %v", err)
	}

	if len(datasetData) > 0 {
		datasetPDU := buildPDataTF(presContextID, 0x02, datasetData)
		if _, err := p.conn.Write(datasetPDU); err != nil {
			return fmt.Errorf("failed to send dataset PDU: %v", err)
		}
	}

	return nil
}

// buildPDataTF wraps a payload in a single-PDV P-DATA-TF PDU.
func buildPDataTF(presContextID byte, msgCtrlHeader byte, payload []byte) []byte {
	pdvData := append([]byte{presContextID, msgCtrlHeader}, payload...)

	pdvLength := make([]byte, 4)
	binary.BigEndian.PutUint32(pdvLength, uint32(len(pdvData)))

	pduLength := make([]byte, 4)
	binary.BigEndian.PutUint32(pduLength, uint32(len(pdvLength)+len(pdvData)))

	pdu := []byte{types.TypePDataTF, 0x00}
	pdu = append(pdu, pduLength...)
	pdu = append(pdu, pdvLength...)
	pdu = append(pdu, pdvData...)
	return pdu
}

// TransferSyntaxFor returns the negotiated transfer syntax for the given
// presentation context, defaulting to implicit VR little endian when the
// context is unknown.
func (p *Layer) TransferSyntaxFor(presContextID byte) string {
	if p.associationCtx != nil {
		if ctx, ok := p.associationCtx.PresentationCtxs[presContextID]; ok && ctx.TransferSyntax != "" {
			return ctx.TransferSyntax
		}
	}
	return types.ImplicitVRLittleEndian
}

// createAssociateAccept creates a proper A-ASSOCIATE-AC PDU
func (p *Layer) createAssociateAccept() []byte {
	// Fixed fields (68 bytes)
	fixedFields := make([]byte, 68)

	// Protocol version (bytes 0-1): 0x0001
	binary.BigEndian.PutUint16(fixedFields[0:2], 0x0001)

	calledAE := p.associationCtx.CalledAETitle
	if len(calledAE) > 16 {
		calledAE = calledAE[:16]
	}
	callingAE := p.associationCtx.CallingAETitle
	if len(callingAE) > 16 {
		callingAE = callingAE[:16]
	}

	// AE titles are space padded to 16 bytes
	copy(fixedFields[4:20], fmt.Sprintf("%-16s", calledAE))
	copy(fixedFields[20:36], fmt.Sprintf("%-16s", callingAE))

	// Application Context Item
	appContextUID := types.ApplicationContextUID
	appContextItem := []byte{0x10, 0x00}
	appContextLen := make([]byte, 2)
	binary.BigEndian.PutUint16(appContextLen, uint16(len(appContextUID)))
	appContextItem = append(appContextItem, appContextLen...)
	appContextItem = append(appContextItem, []byte(appContextUID)...)

	// Sort context IDs for consistent ordering
	var contextIDs []byte
	for id := range p.associationCtx.PresentationCtxs {
		contextIDs = append(contextIDs, id)
	}
	for i := 0; i < len(contextIDs); i++ {
		for j := i + 1; j < len(contextIDs); j++ {
			if contextIDs[i] > contextIDs[j] {
				contextIDs[i], contextIDs[j] = contextIDs[j], contextIDs[i]
			}
		}
	}

	var allPresContextItems []byte
	for _, id := range contextIDs {
		ctx := p.associationCtx.PresentationCtxs[id]

		var presContextData []byte

		// PS3.8 9.3.3.2: accepted contexts carry only the selected
		// transfer syntax, rejected contexts carry no sub-items.
		if ctx.Result == presentationResultAcceptance {
			transferSyntaxItem := []byte{0x40, 0x00}
			transferSyntaxLen := make([]byte, 2)
			binary.BigEndian.PutUint16(transferSyntaxLen, uint16(len(ctx.TransferSyntax)))
			transferSyntaxItem = append(transferSyntaxItem, transferSyntaxLen...)
			transferSyntaxItem = append(transferSyntaxItem, []byte(ctx.TransferSyntax)...)
			presContextData = transferSyntaxItem
		}

		presContextItem := []byte{0x21, 0x00}
		presContextLen := make([]byte, 2)
		binary.BigEndian.PutUint16(presContextLen, uint16(4+len(presContextData)))
		presContextItem = append(presContextItem, presContextLen...)
		presContextItem = append(presContextItem, ctx.ID, 0x00, ctx.Result, 0x00)
		presContextItem = append(presContextItem, presContextData...)

		allPresContextItems = append(allPresContextItems, presContextItem...)
	}

	// User Information Item
	maxPDUItem := []byte{0x51, 0x00, 0x00, 0x04}
	maxPDUValue := make([]byte, 4)
	binary.BigEndian.PutUint32(maxPDUValue, 16384)
	maxPDUItem = append(maxPDUItem, maxPDUValue...)

	implClassUID := "1.2.826.0.1.3680043.9.7156.1"
	implClassItem := []byte{0x52, 0x00}
	implClassLen := make([]byte, 2)
	binary.BigEndian.PutUint16(implClassLen, uint16(len(implClassUID)))
	implClassItem = append(implClassItem, implClassLen...)
	implClassItem = append(implClassItem, []byte(implClassUID)...)

	implVersionName := "GATEWAY_MWL_1.0"
	implVersionItem := []byte{0x55, 0x00}
	implVersionLen := make([]byte, 2)
	binary.BigEndian.PutUint16(implVersionLen, uint16(len(implVersionName)))
	implVersionItem = append(implVersionItem, implVersionLen...)
	implVersionItem = append(implVersionItem, []byte(implVersionName)...)

	userInfoData := append(maxPDUItem, implClassItem...)
	userInfoData = append(userInfoData, implVersionItem...)
	userInfoItem := []byte{0x50, 0x00}
	userInfoLen := make([]byte, 2)
	binary.BigEndian.PutUint16(userInfoLen, uint16(len(userInfoData)))
	userInfoItem = append(userInfoItem, userInfoLen...)
	userInfoItem = append(userInfoItem, userInfoData...)

	variableItems := append(appContextItem, allPresContextItems...)
	variableItems = append(variableItems, userInfoItem...)
	pduData := append(fixedFields, variableItems...)

	pduHeader := []byte{types.TypeAssociateAC, 0x00}
	pduLength := make([]byte, 4)
	binary.BigEndian.PutUint32(pduLength, uint32(len(pduData)))
	pduHeader = append(pduHeader, pduLength...)

	return append(pduHeader, pduData...)
}

// parseAssociationRequest parses an A-ASSOCIATE-RQ PDU to extract presentation contexts and AE titles
func (p *Layer) parseAssociationRequest(pdu *types.PDU) error {
	p.logger.Debug("Parsing association request", "pdu_length", len(pdu.Data))

	if len(pdu.Data) < 68 {
		return fmt.Errorf("association request too short")
	}

	data := pdu.Data

	// Called AE Title (bytes 4-19), Calling AE Title (bytes 20-35)
	calledAE := strings.TrimSpace(strings.TrimRight(string(data[4:20]), "\x00"))
	callingAE := strings.TrimSpace(strings.TrimRight(string(data[20:36]), "\x00"))

	p.associationCtx.CalledAETitle = calledAE
	p.associationCtx.CallingAETitle = callingAE

	p.logger.Info("Extracted AE titles from association request",
		"calling_ae", callingAE,
		"called_ae", calledAE)

	// Parse variable items starting from offset 68
	offset := 68
	var proposedContexts int
	var acceptedContexts int

	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		valueStart := offset + 4
		valueEnd := valueStart + int(itemLength)
		if valueEnd > len(data) {
			return fmt.Errorf("association item exceeds PDU length")
		}
		itemData := data[valueStart:valueEnd]

		p.logger.Debug("Found association item", "type", fmt.Sprintf("0x%02x", itemType), "length", itemLength)

		switch itemType {
		case 0x10: // Application Context
			p.logger.Debug("Found application context item")
		case 0x20: // Presentation Context
			proposedContexts++
			ctx, err := parsePresentationContext(itemData, p.logger)
			if err != nil {
				p.logger.Warn("Failed to parse presentation context", "error", err)
			} else {
				p.associationCtx.PresentationCtxs[ctx.ID] = ctx
				if ctx.Result == presentationResultAcceptance {
					acceptedContexts++
				}
			}
		case 0x50: // User Information
			if maxPDULength, err := parseUserInformation(itemData); err != nil {
				p.logger.Warn("Failed to parse user information", "error", err)
			} else if maxPDULength > 0 {
				p.associationCtx.MaxPDULength = maxPDULength
			}
		}

		offset = valueEnd
	}

	if proposedContexts == 0 {
		p.logger.Warn("No presentation contexts found in association request")
	} else {
		p.logger.Info("Negotiated presentation contexts",
			"proposed", proposedContexts,
			"accepted", acceptedContexts,
			"max_pdu_length", p.associationCtx.MaxPDULength)
	}

	return nil
}
