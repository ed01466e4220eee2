package dcerpc

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// -------------------------------------------------------------------------
// Syntax Identifiers - C706 Section 12.6.3.1 (p_syntax_id_t)
// -------------------------------------------------------------------------

// SyntaxID names an interface or transfer syntax: a UUID plus a version
// word with the major version in the low 16 bits and the minor in the
// high 16 bits.
type SyntaxID struct {
	IF      uuid.UUID
	Version uint32
}

// syntaxIDSize is the encoded size: uuid(16) + version(4).
const syntaxIDSize = 20

// String returns "uuid vMAJOR.MINOR".
func (s SyntaxID) String() string {
	return fmt.Sprintf("%s v%d.%d", s.IF, s.Version&0xFFFF, s.Version>>16)
}

// Well-known syntaxes.
var (
	// TransferNDR is the NDR transfer syntax every bind proposes
	// (C706 Appendix I).
	TransferNDR = SyntaxID{
		IF:      uuid.MustParse("8a885d04-1ceb-11c9-9fe8-08002b104860"),
		Version: 2,
	}

	// SyntaxSAMR is the Security Account Manager remote interface
	// (MS-SAMR Section 1.9).
	SyntaxSAMR = SyntaxID{
		IF:      uuid.MustParse("12345778-1234-abcd-ef00-0123456789ac"),
		Version: 1,
	}
)

// -------------------------------------------------------------------------
// UUID wire form - MS-RPCE mixed-endian encoding
// -------------------------------------------------------------------------

// appendUUID appends the 16-byte wire form of a UUID: the first three
// fields are byte-swapped to little-endian, the trailing eight bytes stay
// in order (MS-DTYP Section 2.3.4.2 GUID packet representation).
func appendUUID(dst []byte, id uuid.UUID) []byte {
	dst = append(dst, id[3], id[2], id[1], id[0])
	dst = append(dst, id[5], id[4])
	dst = append(dst, id[7], id[6])
	return append(dst, id[8:]...)
}

// parseUUID reads the 16-byte wire form back into canonical byte order.
func parseUUID(buf []byte) uuid.UUID {
	var id uuid.UUID
	id[0], id[1], id[2], id[3] = buf[3], buf[2], buf[1], buf[0]
	id[4], id[5] = buf[5], buf[4]
	id[6], id[7] = buf[7], buf[6]
	copy(id[8:], buf[8:16])
	return id
}

// appendSyntaxID appends the 20-byte p_syntax_id_t wire form.
func appendSyntaxID(dst []byte, s SyntaxID) []byte {
	dst = appendUUID(dst, s.IF)
	return binary.LittleEndian.AppendUint32(dst, s.Version)
}

// parseSyntaxID decodes one p_syntax_id_t from the front of buf.
func parseSyntaxID(buf []byte) (SyntaxID, error) {
	if len(buf) < syntaxIDSize {
		return SyntaxID{}, fmt.Errorf("parse syntax id: %d bytes: %w", len(buf), ErrTruncated)
	}
	return SyntaxID{
		IF:      parseUUID(buf),
		Version: binary.LittleEndian.Uint32(buf[16:syntaxIDSize]),
	}, nil
}
