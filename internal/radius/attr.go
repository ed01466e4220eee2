package radius

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"time"
)

// -------------------------------------------------------------------------
// Attribute Types - RFC 2865 Section 5, RFC 2866 Section 5, RFC 2869
// -------------------------------------------------------------------------

// Attribute type codes from the IANA RADIUS Attribute Types registry.
const (
	AttrUserName           uint8 = 1  // RFC 2865 Section 5.1
	AttrUserPassword       uint8 = 2  // RFC 2865 Section 5.2
	AttrCHAPPassword       uint8 = 3  // RFC 2865 Section 5.3
	AttrNASIPAddress       uint8 = 4  // RFC 2865 Section 5.4
	AttrNASPort            uint8 = 5  // RFC 2865 Section 5.5
	AttrServiceType        uint8 = 6  // RFC 2865 Section 5.6
	AttrFramedProtocol     uint8 = 7  // RFC 2865 Section 5.7
	AttrFramedIPAddress    uint8 = 8  // RFC 2865 Section 5.8
	AttrFramedIPNetmask    uint8 = 9  // RFC 2865 Section 5.9
	AttrFilterID           uint8 = 11 // RFC 2865 Section 5.11
	AttrFramedMTU          uint8 = 12 // RFC 2865 Section 5.12
	AttrReplyMessage       uint8 = 18 // RFC 2865 Section 5.18
	AttrCallbackNumber     uint8 = 19 // RFC 2865 Section 5.19
	AttrState              uint8 = 24 // RFC 2865 Section 5.24
	AttrClass              uint8 = 25 // RFC 2865 Section 5.25
	AttrVendorSpecific     uint8 = 26 // RFC 2865 Section 5.26
	AttrSessionTimeout     uint8 = 27 // RFC 2865 Section 5.27
	AttrIdleTimeout        uint8 = 28 // RFC 2865 Section 5.28
	AttrTerminationAction  uint8 = 29 // RFC 2865 Section 5.29
	AttrCalledStationID    uint8 = 30 // RFC 2865 Section 5.30
	AttrCallingStationID   uint8 = 31 // RFC 2865 Section 5.31
	AttrNASIdentifier      uint8 = 32 // RFC 2865 Section 5.32
	AttrProxyState         uint8 = 33 // RFC 2865 Section 5.33
	AttrAcctStatusType     uint8 = 40 // RFC 2866 Section 5.1
	AttrAcctDelayTime      uint8 = 41 // RFC 2866 Section 5.2
	AttrAcctInputOctets    uint8 = 42 // RFC 2866 Section 5.3
	AttrAcctOutputOctets   uint8 = 43 // RFC 2866 Section 5.4
	AttrAcctSessionID      uint8 = 44 // RFC 2866 Section 5.5
	AttrAcctAuthentic      uint8 = 45 // RFC 2866 Section 5.6
	AttrAcctSessionTime    uint8 = 46 // RFC 2866 Section 5.7
	AttrAcctInputPackets   uint8 = 47 // RFC 2866 Section 5.8
	AttrAcctOutputPackets  uint8 = 48 // RFC 2866 Section 5.9
	AttrAcctTerminateCause uint8 = 49 // RFC 2866 Section 5.10
	AttrAcctMultiSessionID uint8 = 50 // RFC 2866 Section 5.11
	AttrAcctLinkCount      uint8 = 51 // RFC 2866 Section 5.12
	AttrEventTimestamp     uint8 = 55 // RFC 2869 Section 5.3
	AttrNASPortType        uint8 = 61 // RFC 2865 Section 5.41
	AttrPortLimit          uint8 = 62 // RFC 2865 Section 5.42
)

const (
	// attrHeaderSize is the fixed TLV overhead: Type(1) + Length(1).
	// The Length field counts these two bytes plus the content
	// (RFC 2865 Section 5: ">= 3" for non-empty attributes).
	attrHeaderSize = 2

	// maxAttrLen is the largest value the one-byte Length field can hold.
	maxAttrLen = 255

	// vendorIDSize is the SMI vendor code prefix inside a Vendor-Specific
	// attribute's content (RFC 2865 Section 5.26: 4 octets, high byte zero).
	vendorIDSize = 4
)

// -------------------------------------------------------------------------
// Value - decoded attribute content
// -------------------------------------------------------------------------

// Value is the decoded content of one attribute. The set of implementations
// is closed: Integer, String, Octets, IPAddr, Date, and the dictionary-miss
// fallback Raw. The concrete variant is selected by the dictionary Kind at
// decode time; at encode time the variant alone determines the wire bytes.
type Value interface {
	// value restricts implementations to this package.
	value()
}

// Integer is a 32-bit unsigned attribute value (KindInteger).
type Integer uint32

func (Integer) value() {}

// String returns the decimal representation.
func (v Integer) String() string { return strconv.FormatUint(uint64(v), 10) }

// String is a text attribute value (KindString). Content is opaque to the
// codec and passes through byte-exactly.
type String string

func (String) value() {}

// Octets is a binary attribute value (KindOctets and KindBinary).
type Octets []byte

func (Octets) value() {}

// String returns the hexadecimal representation.
func (v Octets) String() string { return "0x" + hex.EncodeToString(v) }

// IPAddr is a 4-octet IPv4 address attribute value (KindIPAddr).
type IPAddr netip.Addr

func (IPAddr) value() {}

// String returns the dotted-quad representation.
func (v IPAddr) String() string { return netip.Addr(v).String() }

// Date is a seconds-precision timestamp attribute value (KindDate).
// On the wire it is a 32-bit big-endian count of seconds since the epoch.
type Date time.Time

func (Date) value() {}

// String returns the RFC 3339 representation in UTC.
func (v Date) String() string { return time.Time(v).UTC().Format(time.RFC3339) }

// Raw is the fallback for attributes the dictionary does not know.
// Content is preserved byte-exactly so the attribute re-encodes to the
// identical wire form.
type Raw []byte

func (Raw) value() {}

// String returns the hexadecimal representation.
func (v Raw) String() string { return "0x" + hex.EncodeToString(v) }

// -------------------------------------------------------------------------
// Attribute
// -------------------------------------------------------------------------

// Attribute is one decoded TLV. VendorID is zero for plain-namespace
// attributes and the SMI vendor code for attributes decoded out of a
// Vendor-Specific container. Name is informational: the dictionary name on
// a hit, empty on a miss.
type Attribute struct {
	Type     uint8
	VendorID uint32
	Name     string
	Value    Value
}

// -------------------------------------------------------------------------
// Attribute encoding
// -------------------------------------------------------------------------

// valueWire returns the content bytes for a Value.
func valueWire(v Value) ([]byte, error) {
	switch v := v.(type) {
	case Integer:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		return b[:], nil

	case String:
		return []byte(v), nil

	case Octets:
		return v, nil

	case IPAddr:
		addr := netip.Addr(v)
		if !addr.Is4() {
			return nil, fmt.Errorf("address %s: %w", addr, ErrNotIPv4)
		}
		a4 := addr.As4()
		return a4[:], nil

	case Date:
		secs := time.Time(v).Unix()
		if secs < 0 || secs > math.MaxUint32 {
			return nil, fmt.Errorf("date %s: %w", v, ErrDateRange)
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(secs))
		return b[:], nil

	case Raw:
		return v, nil

	default:
		// Unreachable: the Value sum is closed.
		return nil, fmt.Errorf("value type %T: %w", v, ErrBadAttribute)
	}
}

// AppendAttribute appends one encoded TLV to dst and returns the extended
// slice: Type(1) || Length(1, content+2) || content.
//
// Returns ErrValueTooLong if the content cannot fit the one-byte Length
// field. Oversize values are never truncated.
func AppendAttribute(dst []byte, typ uint8, v Value) ([]byte, error) {
	content, err := valueWire(v)
	if err != nil {
		return dst, fmt.Errorf("encode attribute %d: %w", typ, err)
	}

	if len(content)+attrHeaderSize > maxAttrLen {
		return dst, fmt.Errorf("encode attribute %d: content %d bytes: %w",
			typ, len(content), ErrValueTooLong)
	}

	dst = append(dst, typ, uint8(len(content)+attrHeaderSize))
	dst = append(dst, content...)

	return dst, nil
}

// AppendVendorAttributes appends one Vendor-Specific TLV containing the
// given sub-attributes: 26 || Length || vendorID(4, BE) || nested TLVs.
//
// All sub-attributes share the outer Length field, so the combined nested
// encoding plus the 4-byte vendor code must fit 253 bytes.
func AppendVendorAttributes(dst []byte, vendorID uint32, attrs []Attribute) ([]byte, error) {
	nested := make([]byte, 0, 64)

	var err error
	for _, a := range attrs {
		nested, err = AppendAttribute(nested, a.Type, a.Value)
		if err != nil {
			return dst, fmt.Errorf("vendor %d: %w", vendorID, err)
		}
	}

	content := vendorIDSize + len(nested)
	if content+attrHeaderSize > maxAttrLen {
		return dst, fmt.Errorf("vendor %d: grouped content %d bytes: %w",
			vendorID, content, ErrValueTooLong)
	}

	dst = append(dst, AttrVendorSpecific, uint8(content+attrHeaderSize))
	dst = binary.BigEndian.AppendUint32(dst, vendorID)
	dst = append(dst, nested...)

	return dst, nil
}

// -------------------------------------------------------------------------
// Attribute decoding
// -------------------------------------------------------------------------

// decodeAttributes scans buf as a TLV sequence until it is exhausted and
// returns the attributes in wire order. Vendor-Specific containers are
// decoded recursively; their sub-attributes appear inline, each carrying
// the vendor ID.
//
// Decoded values never alias buf; callers may recycle the buffer
// immediately (see PacketPool).
func decodeAttributes(dict *Dictionary, buf []byte) ([]Attribute, error) {
	var attrs []Attribute

	for len(buf) > 0 {
		if len(buf) < attrHeaderSize {
			return nil, fmt.Errorf("attribute: %d trailing bytes: %w",
				len(buf), ErrBadAttribute)
		}

		typ := buf[0]
		length := int(buf[1])

		if length < attrHeaderSize {
			return nil, fmt.Errorf("attribute %d: length field %d below minimum %d: %w",
				typ, length, attrHeaderSize, ErrBadAttribute)
		}
		if length > len(buf) {
			return nil, fmt.Errorf("attribute %d: length field %d exceeds %d remaining bytes: %w",
				typ, length, len(buf), ErrBadAttribute)
		}

		content := buf[attrHeaderSize:length]

		if typ == AttrVendorSpecific {
			sub, err := decodeVendor(dict, content)
			if err != nil {
				return nil, err
			}
			attrs = append(attrs, sub...)
		} else {
			a, err := decodeOne(dict, typ, content)
			if err != nil {
				return nil, err
			}
			attrs = append(attrs, a)
		}

		buf = buf[length:]
	}

	return attrs, nil
}

// decodeOne decodes a plain-namespace attribute. A dictionary miss yields
// the Raw fallback with content copied byte-exactly.
func decodeOne(dict *Dictionary, typ uint8, content []byte) (Attribute, error) {
	ent, ok := dict.Lookup(typ)
	if !ok {
		return Attribute{Type: typ, Value: Raw(bytes.Clone(content))}, nil
	}

	v, err := decodeValue(ent.Kind, content)
	if err != nil {
		return Attribute{}, fmt.Errorf("attribute %s (%d): %w", ent.Name, typ, err)
	}

	return Attribute{Type: typ, Name: ent.Name, Value: v}, nil
}

// decodeVendor decodes the content of a Vendor-Specific attribute:
// a 4-byte vendor code followed by a nested TLV sequence. Recursion is
// bounded by the outer attribute's declared length.
func decodeVendor(dict *Dictionary, content []byte) ([]Attribute, error) {
	if len(content) < vendorIDSize {
		return nil, fmt.Errorf("vendor-specific attribute: content %d bytes, need %d for vendor code: %w",
			len(content), vendorIDSize, ErrBadAttribute)
	}

	vendorID := binary.BigEndian.Uint32(content[:vendorIDSize])
	rest := content[vendorIDSize:]

	var attrs []Attribute
	for len(rest) > 0 {
		if len(rest) < attrHeaderSize {
			return nil, fmt.Errorf("vendor %d attribute: %d trailing bytes: %w",
				vendorID, len(rest), ErrBadAttribute)
		}

		typ := rest[0]
		length := int(rest[1])

		if length < attrHeaderSize || length > len(rest) {
			return nil, fmt.Errorf("vendor %d attribute %d: length field %d invalid for %d remaining bytes: %w",
				vendorID, typ, length, len(rest), ErrBadAttribute)
		}

		sub := rest[attrHeaderSize:length]

		ent, ok := dict.LookupVendor(vendorID, typ)
		if !ok {
			attrs = append(attrs, Attribute{
				Type:     typ,
				VendorID: vendorID,
				Value:    Raw(bytes.Clone(sub)),
			})
		} else {
			v, err := decodeValue(ent.Kind, sub)
			if err != nil {
				return nil, fmt.Errorf("vendor %d attribute %s (%d): %w",
					vendorID, ent.Name, typ, err)
			}
			attrs = append(attrs, Attribute{
				Type:     typ,
				VendorID: vendorID,
				Name:     ent.Name,
				Value:    v,
			})
		}

		rest = rest[length:]
	}

	return attrs, nil
}

// decodeValue converts content bytes according to the dictionary kind.
// Fixed-size kinds (Integer, IPAddr, Date) require exactly 4 content bytes.
func decodeValue(kind Kind, content []byte) (Value, error) {
	switch kind {
	case KindInteger:
		if len(content) != 4 {
			return nil, fmt.Errorf("integer content %d bytes, want 4: %w",
				len(content), ErrBadAttribute)
		}
		return Integer(binary.BigEndian.Uint32(content)), nil

	case KindString:
		return String(content), nil

	case KindOctets, KindBinary:
		return Octets(bytes.Clone(content)), nil

	case KindIPAddr:
		if len(content) != 4 {
			return nil, fmt.Errorf("ipaddr content %d bytes, want 4: %w",
				len(content), ErrBadAttribute)
		}
		return IPAddr(netip.AddrFrom4([4]byte(content))), nil

	case KindDate:
		if len(content) != 4 {
			return nil, fmt.Errorf("date content %d bytes, want 4: %w",
				len(content), ErrBadAttribute)
		}
		secs := binary.BigEndian.Uint32(content)
		return Date(time.Unix(int64(secs), 0).UTC()), nil

	default:
		return nil, fmt.Errorf("kind %d: %w", kind, ErrUnknownKind)
	}
}
