package dcerpc

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// -------------------------------------------------------------------------
// SID - MS-DTYP Section 2.4.2
// -------------------------------------------------------------------------

// SID is a Windows security identifier. The identifier authority is a
// 48-bit big-endian value; sub-authorities are little-endian on the wire.
type SID struct {
	Revision            uint8
	IdentifierAuthority [6]byte
	SubAuthorities      []uint32
}

// sidHeaderSize is revision(1) + sub_authority_count(1) + authority(6).
const sidHeaderSize = 8

// String returns the S-R-I-S... display form, e.g. "S-1-5-21-x-y-z".
func (s *SID) String() string {
	var b strings.Builder
	b.WriteString("S-")
	b.WriteString(strconv.FormatUint(uint64(s.Revision), 10))
	b.WriteByte('-')

	auth := uint64(0)
	for _, x := range s.IdentifierAuthority {
		auth = auth<<8 | uint64(x)
	}
	b.WriteString(strconv.FormatUint(auth, 10))

	for _, sub := range s.SubAuthorities {
		b.WriteByte('-')
		b.WriteString(strconv.FormatUint(uint64(sub), 10))
	}
	return b.String()
}

// Equal reports whether two SIDs are identical.
func (s *SID) Equal(o *SID) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Revision != o.Revision || s.IdentifierAuthority != o.IdentifierAuthority ||
		len(s.SubAuthorities) != len(o.SubAuthorities) {
		return false
	}
	for i := range s.SubAuthorities {
		if s.SubAuthorities[i] != o.SubAuthorities[i] {
			return false
		}
	}
	return true
}

// appendSID appends the packet form: revision, count, authority,
// sub-authorities.
func appendSID(dst []byte, s *SID) []byte {
	dst = append(dst, s.Revision, uint8(len(s.SubAuthorities)))
	dst = append(dst, s.IdentifierAuthority[:]...)
	for _, sub := range s.SubAuthorities {
		dst = binary.LittleEndian.AppendUint32(dst, sub)
	}
	return dst
}

// parseSID decodes the packet form from the front of buf and returns the
// SID and the number of bytes consumed.
func parseSID(buf []byte) (*SID, int, error) {
	if len(buf) < sidHeaderSize {
		return nil, 0, fmt.Errorf("parse sid: %d bytes: %w", len(buf), ErrTruncated)
	}

	count := int(buf[1])
	size := sidHeaderSize + count*4
	if len(buf) < size {
		return nil, 0, fmt.Errorf("parse sid: %d sub-authorities in %d bytes: %w",
			count, len(buf), ErrTruncated)
	}

	s := &SID{Revision: buf[0]}
	copy(s.IdentifierAuthority[:], buf[2:8])
	for i := range count {
		s.SubAuthorities = append(s.SubAuthorities,
			binary.LittleEndian.Uint32(buf[sidHeaderSize+i*4:]))
	}
	return s, size, nil
}
