package elfid

import (
	"encoding/binary"
	"encoding/hex"
	"log/slog"

	"github.com/google/uuid"
)

// DebugID turns a code id into the debug id symbol servers index ELF files
// by. The first 16 bytes of the code id (zero padded) are read as a GUID in
// native byte order, so the leading u32 and the two u16 fields are stored
// big-endian while the trailing 8 bytes are kept as they are.
func DebugID(codeID []byte) uuid.UUID {
	var id uuid.UUID
	copy(id[:], codeID)
	binary.BigEndian.PutUint32(id[0:4], binary.NativeEndian.Uint32(id[0:4]))
	binary.BigEndian.PutUint16(id[4:6], binary.NativeEndian.Uint16(id[4:6]))
	binary.BigEndian.PutUint16(id[6:8], binary.NativeEndian.Uint16(id[6:8]))
	return id
}

func CodeIDString(codeID []byte) string {
	return hex.EncodeToString(codeID)
}

// IDs are the identifiers of one module.
type IDs struct {
	CodeID  []byte // nil without a build id note
	DebugID uuid.UUID
}

// ReadIDs identifies img by its build id, falling back to the text section
// hash. The debug id is the nil UUID when neither can be read.
func ReadIDs(img Image) IDs {
	if codeID, ok := CodeID(img); ok {
		return IDs{CodeID: codeID, DebugID: DebugID(codeID)}
	}
	sum, ok := TextHash(img)
	if !ok {
		slog.Debug("No build id and no readable .text section", "path", string(img.Module.Path))
	}
	return IDs{DebugID: DebugID(sum[:])}
}
