// Package dicom implements the dataset encoding the worklist and MPPS
// exchanges need: implicit and explicit VR little endian, including the
// sequence elements that carry scheduled-step attributes.
package dicom

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/openscreening/gateway/types"
)

// VR (Value Representation) constants
const (
	VR_AE = "AE" // Application Entity
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_LO = "LO" // Long String
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SQ = "SQ" // Sequence of Items
	VR_TM = "TM" // Time
	VR_UI = "UI" // Unique Identifier
	VR_UN = "UN" // Unknown
)

// Common transfer syntax UIDs
const (
	TransferSyntaxImplicitVRLittleEndian = types.ImplicitVRLittleEndian
	TransferSyntaxExplicitVRLittleEndian = types.ExplicitVRLittleEndian
)

// Element represents a DICOM data element. For sequence elements the value
// is a []*Dataset holding the items; everything else is stored as a string.
type Element struct {
	Tag   Tag
	VR    string
	Value interface{}
}

// Dataset represents a collection of DICOM elements
type Dataset struct {
	Elements map[Tag]*Element
}

// NewDataset creates a new empty dataset
func NewDataset() *Dataset {
	return &Dataset{
		Elements: make(map[Tag]*Element),
	}
}

// AddElement adds an element to the dataset
func (d *Dataset) AddElement(tag Tag, vr string, value interface{}) {
	d.Elements[tag] = &Element{
		Tag:   tag,
		VR:    vr,
		Value: value,
	}
}

// AddSequence adds a sequence element holding the given items.
func (d *Dataset) AddSequence(tag Tag, items ...*Dataset) {
	d.AddElement(tag, VR_SQ, items)
}

// GetElement returns an element by tag
func (d *Dataset) GetElement(tag Tag) (*Element, bool) {
	element, exists := d.Elements[tag]
	return element, exists
}

// GetString returns a string value for a tag
func (d *Dataset) GetString(tag Tag) string {
	if element, exists := d.Elements[tag]; exists {
		if str, ok := element.Value.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}

// GetSequence returns the items of a sequence element, or nil if the tag
// is absent or not a sequence.
func (d *Dataset) GetSequence(tag Tag) []*Dataset {
	if element, exists := d.Elements[tag]; exists {
		if items, ok := element.Value.([]*Dataset); ok {
			return items
		}
	}
	return nil
}

// Has reports whether the dataset contains the tag.
func (d *Dataset) Has(tag Tag) bool {
	_, ok := d.Elements[tag]
	return ok
}

// ParseDatasetWithTransferSyntax parses a dataset using the provided transfer syntax.
func ParseDatasetWithTransferSyntax(data []byte, transferSyntaxUID string) (*Dataset, error) {
	switch transferSyntaxUID {
	case TransferSyntaxImplicitVRLittleEndian:
		return parseImplicitVRDataset(data)
	default:
		return ParseDataset(data)
	}
}

// ParseDataset parses a DICOM dataset from raw bytes (Explicit VR Little Endian)
func ParseDataset(data []byte) (*Dataset, error) {
	dataset := NewDataset()

	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		tag := Tag{Group: group, Element: element}
		vr := string(data[offset+4 : offset+6])

		var length uint32
		var valueOffset int

		if isLongVR(vr) {
			// Long VR: Tag (4) + VR (2) + Reserved (2) + Length (4)
			if offset+12 > len(data) {
				break
			}
			length = binary.LittleEndian.Uint32(data[offset+8 : offset+12])
			valueOffset = offset + 12
		} else {
			// Short VR: Tag (4) + VR (2) + Length (2)
			length = uint32(binary.LittleEndian.Uint16(data[offset+6 : offset+8]))
			valueOffset = offset + 8
		}

		if vr == VR_SQ {
			items, next, err := parseSequenceItems(data, valueOffset, length, false)
			if err != nil {
				return nil, err
			}
			dataset.AddElement(tag, vr, items)
			offset = next
			continue
		}

		if valueOffset+int(length) > len(data) {
			break
		}

		valueData := data[valueOffset : valueOffset+int(length)]
		dataset.AddElement(tag, vr, parseElementValue(valueData))

		offset = valueOffset + int(length)
		if length%2 == 1 {
			offset++
		}
	}

	return dataset, nil
}

func parseImplicitVRDataset(data []byte) (*Dataset, error) {
	dataset := NewDataset()

	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		tag := Tag{Group: group, Element: element}

		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		valueOffset := offset + 8

		vr := determineVR(tag)
		if vr == VR_SQ {
			items, next, err := parseSequenceItems(data, valueOffset, length, true)
			if err != nil {
				return nil, err
			}
			dataset.AddElement(tag, vr, items)
			offset = next
			continue
		}

		if length == undefinedLength || valueOffset+int(length) > len(data) {
			break
		}

		valueData := data[valueOffset : valueOffset+int(length)]
		dataset.AddElement(tag, vr, parseElementValue(valueData))

		offset = valueOffset + int(length)
		if length%2 == 1 {
			offset++
		}
	}

	return dataset, nil
}

// parseSequenceItems parses the items of a sequence starting at offset.
// The sequence may have a defined length or the undefined-length form
// terminated by a Sequence Delimitation Item. Returns the items and the
// offset of the first byte after the sequence.
func parseSequenceItems(data []byte, offset int, length uint32, implicit bool) ([]*Dataset, int, error) {
	var items []*Dataset

	end := len(data)
	if length != undefinedLength {
		end = offset + int(length)
		if end > len(data) {
			return nil, 0, fmt.Errorf("sequence length %d exceeds data", length)
		}
	}

	for offset+8 <= end {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		itemLen := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		tag := Tag{Group: group, Element: element}
		offset += 8

		switch tag {
		case tagSequenceDelimitation:
			return items, offset, nil
		case tagItem:
			itemEnd := end
			if itemLen != undefinedLength {
				itemEnd = offset + int(itemLen)
				if itemEnd > end {
					return nil, 0, fmt.Errorf("sequence item length %d exceeds sequence", itemLen)
				}
			}

			itemBytes, next, err := extractItem(data, offset, itemEnd, itemLen == undefinedLength)
			if err != nil {
				return nil, 0, err
			}

			var item *Dataset
			if implicit {
				item, err = parseImplicitVRDataset(itemBytes)
			} else {
				item, err = ParseDataset(itemBytes)
			}
			if err != nil {
				return nil, 0, err
			}
			items = append(items, item)
			offset = next
		default:
			return nil, 0, fmt.Errorf("unexpected tag %s inside sequence", tag)
		}
	}

	if length == undefinedLength {
		return nil, 0, fmt.Errorf("sequence missing delimitation item")
	}
	return items, end, nil
}

// extractItem returns the raw bytes of one sequence item. For
// undefined-length items it scans element headers until the Item
// Delimitation Item.
func extractItem(data []byte, offset, end int, undefined bool) ([]byte, int, error) {
	if !undefined {
		return data[offset:end], end, nil
	}

	start := offset
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])

		if (Tag{Group: group, Element: element}) == tagItemDelimitation {
			return data[start:offset], offset + 8, nil
		}

		if length == undefinedLength {
			return nil, 0, fmt.Errorf("nested undefined-length element in sequence item")
		}
		offset += 8 + int(length)
	}
	return nil, 0, fmt.Errorf("sequence item missing delimitation item")
}

// parseElementValue parses a value as a trimmed string.
func parseElementValue(data []byte) interface{} {
	if len(data) == 0 {
		return ""
	}

	value := string(data)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}

	return strings.TrimSpace(value)
}

// EncodeDatasetWithTransferSyntax encodes a dataset using the provided transfer syntax.
func EncodeDatasetWithTransferSyntax(dataset *Dataset, transferSyntaxUID string) ([]byte, error) {
	if dataset == nil {
		return nil, nil
	}

	switch transferSyntaxUID {
	case TransferSyntaxImplicitVRLittleEndian:
		return encodeImplicitVRDataset(dataset), nil
	default:
		return dataset.EncodeDataset(), nil
	}
}

// EncodeDataset encodes a dataset to bytes (Explicit VR Little Endian)
func (d *Dataset) EncodeDataset() []byte {
	var result []byte

	for _, tag := range d.sortedTags() {
		element := d.Elements[tag]

		tagBytes := make([]byte, 4)
		binary.LittleEndian.PutUint16(tagBytes[0:2], tag.Group)
		binary.LittleEndian.PutUint16(tagBytes[2:4], tag.Element)
		result = append(result, tagBytes...)
		result = append(result, []byte(element.VR)...)

		if element.VR == VR_SQ {
			body := encodeSequenceItems(element, false)
			result = append(result, 0x00, 0x00) // Reserved bytes
			lengthBytes := make([]byte, 4)
			binary.LittleEndian.PutUint32(lengthBytes, uint32(len(body)))
			result = append(result, lengthBytes...)
			result = append(result, body...)
			continue
		}

		valueBytes := padEven(encodeElementValue(element), element.VR)

		if isLongVR(element.VR) {
			result = append(result, 0x00, 0x00) // Reserved bytes
			lengthBytes := make([]byte, 4)
			binary.LittleEndian.PutUint32(lengthBytes, uint32(len(valueBytes)))
			result = append(result, lengthBytes...)
		} else {
			lengthBytes := make([]byte, 2)
			binary.LittleEndian.PutUint16(lengthBytes, uint16(len(valueBytes)))
			result = append(result, lengthBytes...)
		}

		result = append(result, valueBytes...)
	}

	return result
}

func encodeImplicitVRDataset(dataset *Dataset) []byte {
	var result []byte

	for _, tag := range dataset.sortedTags() {
		element := dataset.Elements[tag]

		tagBytes := make([]byte, 4)
		binary.LittleEndian.PutUint16(tagBytes[0:2], tag.Group)
		binary.LittleEndian.PutUint16(tagBytes[2:4], tag.Element)
		result = append(result, tagBytes...)

		var body []byte
		if element.VR == VR_SQ {
			body = encodeSequenceItems(element, true)
		} else {
			body = padEven(encodeElementValue(element), element.VR)
		}

		lengthBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(lengthBytes, uint32(len(body)))
		result = append(result, lengthBytes...)
		result = append(result, body...)
	}

	return result
}

// encodeSequenceItems renders the items of a sequence element with defined
// lengths, each wrapped in an Item element.
func encodeSequenceItems(element *Element, implicit bool) []byte {
	items, ok := element.Value.([]*Dataset)
	if !ok {
		return nil
	}

	var body []byte
	for _, item := range items {
		var encoded []byte
		if implicit {
			encoded = encodeImplicitVRDataset(item)
		} else {
			encoded = item.EncodeDataset()
		}

		header := make([]byte, 8)
		binary.LittleEndian.PutUint16(header[0:2], tagItem.Group)
		binary.LittleEndian.PutUint16(header[2:4], tagItem.Element)
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(encoded)))
		body = append(body, header...)
		body = append(body, encoded...)
	}
	return body
}

// sortedTags returns the dataset's tags in (group, element) order, as DICOM requires.
func (d *Dataset) sortedTags() []Tag {
	var tags []Tag
	for tag := range d.Elements {
		tags = append(tags, tag)
	}

	for i := 0; i < len(tags)-1; i++ {
		for j := i + 1; j < len(tags); j++ {
			if tags[i].Group > tags[j].Group ||
				(tags[i].Group == tags[j].Group && tags[i].Element > tags[j].Element) {
				tags[i], tags[j] = tags[j], tags[i]
			}
		}
	}
	return tags
}

func isLongVR(vr string) bool {
	switch vr {
	case "OB", "OD", "OF", "OL", "OW", "SQ", "UC", "UR", "UT", "UN", "OV", "SV", "UV":
		return true
	}
	return false
}

// padEven pads values to an even length. UIDs pad with a null byte,
// text values with a space.
func padEven(value []byte, vr string) []byte {
	if len(value)%2 == 1 {
		if vr == VR_UI {
			value = append(value, 0x00)
		} else {
			value = append(value, 0x20)
		}
	}
	return value
}

// encodeElementValue encodes an element value to bytes
func encodeElementValue(element *Element) []byte {
	switch v := element.Value.(type) {
	case string:
		return []byte(strings.TrimRight(v, "\x00"))
	case []string:
		joined := strings.Join(v, "\\")
		return []byte(strings.TrimRight(joined, "\x00"))
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}
