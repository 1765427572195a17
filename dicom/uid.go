package dicom

import (
	"math/big"

	"github.com/google/uuid"
)

// GenerateUID returns a new DICOM UID under the 2.25 UUID-derived root.
// The UUID bytes are rendered as a single decimal integer, which keeps
// the UID globally unique without a registered org root.
func GenerateUID() string {
	id := uuid.New()
	return "2.25." + new(big.Int).SetBytes(id[:]).String()
}
