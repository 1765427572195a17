package dimse

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openscreening/gateway/types"
)

// ParseCommand parses a DIMSE command set from raw bytes. Command sets
// are always implicit VR little endian regardless of the negotiated
// transfer syntax.
func ParseCommand(data []byte) (*types.Message, error) {
	msg := &types.Message{}

	if len(data) < 12 {
		return nil, fmt.Errorf("DIMSE data too short: %d bytes", len(data))
	}

	slog.Debug("Parsing DIMSE command data", "size_bytes", len(data))

	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])

		// Sanity check length
		if length > 1000000 {
			slog.Warn("Element length too large, probably parsing error", "length", length)
			break
		}

		if offset+8+int(length) > len(data) {
			slog.Debug("Not enough data for element value",
				"have_bytes", len(data),
				"need_bytes", offset+8+int(length))
			break
		}

		// Only process command group elements (group 0000)
		if group == 0x0000 {
			valueStart := offset + 8
			valueEnd := valueStart + int(length)

			switch element {
			case 0x0002: // Affected SOP Class UID
				msg.AffectedSOPClassUID = parseUIDValue(data[valueStart:valueEnd])
			case 0x0003: // Requested SOP Class UID
				msg.RequestedSOPClassUID = parseUIDValue(data[valueStart:valueEnd])
			case 0x0100: // Command Field
				if length == 2 {
					msg.CommandField = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				} else {
					slog.Warn("Command Field has wrong length", "length", length)
				}
			case 0x0110: // Message ID
				if length == 2 {
					msg.MessageID = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				} else {
					slog.Warn("Message ID has wrong length", "length", length)
				}
			case 0x0120: // Message ID Being Responded To
				if length == 2 {
					msg.MessageIDBeingRespondedTo = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				}
			case 0x0700: // Priority
				if length == 2 {
					msg.Priority = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				}
			case 0x0800: // Command Data Set Type
				if length == 2 {
					msg.CommandDataSetType = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				} else {
					slog.Warn("Command Data Set Type has wrong length", "length", length)
				}
			case 0x0900: // Status
				if length == 2 {
					msg.Status = binary.LittleEndian.Uint16(data[valueStart:valueEnd])
				}
			case 0x1000: // Affected SOP Instance UID
				msg.AffectedSOPInstanceUID = parseUIDValue(data[valueStart:valueEnd])
			case 0x1001: // Requested SOP Instance UID
				msg.RequestedSOPInstanceUID = parseUIDValue(data[valueStart:valueEnd])
			default:
				// Skip unknown command elements silently
			}
		}

		offset += 8 + int(length)
		if length%2 == 1 {
			offset++ // Skip padding byte
		}
	}

	slog.Debug("Parsed DIMSE command",
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id", msg.MessageID)
	return msg, nil
}

func parseUIDValue(data []byte) string {
	value := string(data)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

// EncodeCommand renders a DIMSE command set, prefixed with the command
// group length element the standard requires.
func EncodeCommand(msg *types.Message) []byte {
	var elements []byte

	if msg.AffectedSOPClassUID != "" {
		elements = appendUIDElement(elements, 0x0002, msg.AffectedSOPClassUID)
	}
	if msg.RequestedSOPClassUID != "" {
		elements = appendUIDElement(elements, 0x0003, msg.RequestedSOPClassUID)
	}

	elements = appendUint16Element(elements, 0x0100, msg.CommandField)

	if msg.MessageID > 0 {
		elements = appendUint16Element(elements, 0x0110, msg.MessageID)
	}
	if msg.MessageIDBeingRespondedTo > 0 {
		elements = appendUint16Element(elements, 0x0120, msg.MessageIDBeingRespondedTo)
	}
	if msg.Priority > 0 {
		elements = appendUint16Element(elements, 0x0700, msg.Priority)
	}

	elements = appendUint16Element(elements, 0x0800, msg.CommandDataSetType)

	if isResponseCommand(msg.CommandField) {
		elements = appendUint16Element(elements, 0x0900, msg.Status)
	}

	if msg.AffectedSOPInstanceUID != "" {
		elements = appendUIDElement(elements, 0x1000, msg.AffectedSOPInstanceUID)
	}
	if msg.RequestedSOPInstanceUID != "" {
		elements = appendUIDElement(elements, 0x1001, msg.RequestedSOPInstanceUID)
	}

	// Group Length (0000,0000) covers everything after itself
	groupLengthValue := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLengthValue, uint32(len(elements)))

	var commandSet []byte
	commandSet = append(commandSet, 0x00, 0x00, 0x00, 0x00)
	commandSet = append(commandSet, 0x04, 0x00, 0x00, 0x00)
	commandSet = append(commandSet, groupLengthValue...)
	commandSet = append(commandSet, elements...)

	return commandSet
}

func isResponseCommand(commandField uint16) bool {
	return commandField&0x8000 != 0
}

func appendUint16Element(buf []byte, element uint16, value uint16) []byte {
	tag := make([]byte, 4)
	binary.LittleEndian.PutUint16(tag[0:2], 0x0000)
	binary.LittleEndian.PutUint16(tag[2:4], element)
	buf = append(buf, tag...)
	buf = append(buf, 0x02, 0x00, 0x00, 0x00)
	v := make([]byte, 2)
	binary.LittleEndian.PutUint16(v, value)
	return append(buf, v...)
}

func appendUIDElement(buf []byte, element uint16, uid string) []byte {
	value := []byte(uid)
	if len(value)%2 == 1 {
		value = append(value, 0x00)
	}
	tag := make([]byte, 4)
	binary.LittleEndian.PutUint16(tag[0:2], 0x0000)
	binary.LittleEndian.PutUint16(tag[2:4], element)
	buf = append(buf, tag...)
	length := make([]byte, 4)
	binary.LittleEndian.PutUint32(length, uint32(len(value)))
	buf = append(buf, length...)
	return append(buf, value...)
}
