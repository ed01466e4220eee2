package radius

import (
	"crypto/md5" //nolint:gosec // G501: MD5 is the RADIUS integrity primitive (RFC 2865 Section 3)
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// -------------------------------------------------------------------------
// Protocol Constants - RFC 2865 Section 3
// -------------------------------------------------------------------------

// HeaderSize is the fixed RADIUS packet header size in bytes:
// Code(1) + Identifier(1) + Length(2) + Authenticator(16).
const HeaderSize = 20

// MaxPacketSize is the maximum RADIUS packet length
// (RFC 2865 Section 3: "Octets outside the range of the Length field MUST
// be treated as padding"; maximum length 4096).
const MaxPacketSize = 4096

// AuthenticatorSize is the length of the Authenticator header field.
const AuthenticatorSize = 16

// Officially assigned UDP ports (RFC 2865 Section 3, RFC 2866 Section 3).
const (
	DefaultAuthPort = 1812
	DefaultAcctPort = 1813
)

// unknownFmt is the format string for unrecognized enum values with
// numeric code.
const unknownFmt = "Unknown(%d)"

// -------------------------------------------------------------------------
// Packet Codes - RFC 2865 Section 3, RFC 2866 Section 3
// -------------------------------------------------------------------------

// Code is the RADIUS packet code, selecting the packet kind.
type Code uint8

const (
	// CodeAccessRequest carries credentials to be authenticated
	// (RFC 2865 Section 4.1: value 1).
	CodeAccessRequest Code = 1

	// CodeAccessAccept grants the requested access
	// (RFC 2865 Section 4.2: value 2).
	CodeAccessAccept Code = 2

	// CodeAccessReject denies the requested access
	// (RFC 2865 Section 4.3: value 3).
	CodeAccessReject Code = 3

	// CodeAccountingRequest delivers accounting information
	// (RFC 2866 Section 4.1: value 4).
	CodeAccountingRequest Code = 4

	// CodeAccountingResponse acknowledges an Accounting-Request
	// (RFC 2866 Section 4.2: value 5).
	CodeAccountingResponse Code = 5

	// CodeAccessChallenge requests a challenge response from the user
	// (RFC 2865 Section 4.4: value 11).
	CodeAccessChallenge Code = 11
)

// String returns the RFC packet type name.
func (c Code) String() string {
	switch c {
	case CodeAccessRequest:
		return "Access-Request"
	case CodeAccessAccept:
		return "Access-Accept"
	case CodeAccessReject:
		return "Access-Reject"
	case CodeAccountingRequest:
		return "Accounting-Request"
	case CodeAccountingResponse:
		return "Accounting-Response"
	case CodeAccessChallenge:
		return "Access-Challenge"
	default:
		return fmt.Sprintf(unknownFmt, uint8(c))
	}
}

// valid reports whether c is one of the recognized packet codes.
// The code set is closed: an unrecognized byte is a decode failure,
// never a silent passthrough.
func (c Code) valid() bool {
	switch c {
	case CodeAccessRequest, CodeAccessAccept, CodeAccessReject,
		CodeAccountingRequest, CodeAccountingResponse, CodeAccessChallenge:
		return true
	default:
		return false
	}
}

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

// Sentinel errors for codec failures. Decode-side errors mark a malformed
// PDU; a long-lived caller drops the packet and continues. Encode-side
// errors mark caller mistakes that would otherwise truncate wire data.
var (
	// ErrPacketTooShort indicates the buffer is smaller than the 20-byte
	// fixed header.
	ErrPacketTooShort = errors.New("packet too short")

	// ErrBadLength indicates the Length field is below the header size or
	// exceeds the actual buffer (RFC 2865 Section 3: such packets MUST be
	// silently discarded by receivers).
	ErrBadLength = errors.New("length field inconsistent with buffer")

	// ErrUnknownCode indicates an unrecognized packet Code byte.
	ErrUnknownCode = errors.New("unknown packet code")

	// ErrBadAttribute indicates a malformed TLV: a length byte below 2,
	// a length overrunning the remaining bytes, a truncated vendor code,
	// or fixed-size content of the wrong width.
	ErrBadAttribute = errors.New("malformed attribute")

	// ErrValueTooLong indicates an attribute value that cannot fit the
	// one-byte TLV Length field (content + 2 > 255).
	ErrValueTooLong = errors.New("attribute value too long")

	// ErrPacketTooLong indicates the encoded packet would exceed
	// MaxPacketSize.
	ErrPacketTooLong = errors.New("packet exceeds maximum length")

	// ErrNotIPv4 indicates an IPAddr value holding a non-IPv4 address.
	ErrNotIPv4 = errors.New("address is not IPv4")

	// ErrDateRange indicates a Date value outside the 32-bit epoch range.
	ErrDateRange = errors.New("date outside 32-bit epoch range")

	// ErrBadPassword indicates an obscured password whose length is not a
	// positive multiple of 16 (RFC 2865 Section 5.2).
	ErrBadPassword = errors.New("obscured password length not a multiple of 16")
)

// -------------------------------------------------------------------------
// Packet
// -------------------------------------------------------------------------

// Packet is one decoded RADIUS PDU. Packets are value types owned by the
// caller; decoding produces a fresh Packet per buffer and encoding never
// mutates the input, so independent packets may be handled concurrently.
type Packet struct {
	// Code selects the packet kind.
	Code Code

	// Identifier matches requests to replies (RFC 2865 Section 3).
	Identifier uint8

	// Authenticator is the 16-byte request nonce or response signature
	// (RFC 2865 Section 3).
	Authenticator [AuthenticatorSize]byte

	// Attributes holds the decoded TLVs in exact wire order. Order is
	// significant: attributes such as State rely on first-match semantics
	// (RFC 2865 Section 5).
	Attributes []Attribute
}

// -------------------------------------------------------------------------
// Encode
// -------------------------------------------------------------------------

// Encode serializes p into wire form:
// Code(1) || Identifier(1) || Length(2, BE) || Authenticator(16) || TLVs.
//
// The Length field always equals the returned byte count. Attributes with
// a nonzero VendorID are wrapped in their own Vendor-Specific container;
// pre-grouped containers can be expressed as a plain Type 26 attribute
// with an Octets value (see GroupVendorAttributes).
func Encode(p *Packet) ([]byte, error) {
	buf := make([]byte, HeaderSize, HeaderSize+64)
	buf[0] = byte(p.Code)
	buf[1] = p.Identifier
	copy(buf[4:HeaderSize], p.Authenticator[:])

	var err error
	for _, a := range p.Attributes {
		if a.VendorID != 0 {
			buf, err = AppendVendorAttributes(buf, a.VendorID, []Attribute{a})
		} else {
			buf, err = AppendAttribute(buf, a.Type, a.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", p.Code, err)
		}
	}

	if len(buf) > MaxPacketSize {
		return nil, fmt.Errorf("encode %s: %d bytes: %w", p.Code, len(buf), ErrPacketTooLong)
	}

	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)))

	return buf, nil
}

// -------------------------------------------------------------------------
// Decode
// -------------------------------------------------------------------------

// Decode parses one RADIUS packet from buf using dict for attribute
// interpretation.
//
// Validation per RFC 2865 Section 3:
//   - buf must hold at least the 20-byte header
//   - the declared Length must not exceed len(buf); bytes beyond the
//     declared Length are padding and are silently dropped
//   - the Code byte must be a recognized packet code
//
// The returned packet does not alias buf.
func Decode(dict *Dictionary, buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("decode packet: received %d bytes, minimum %d: %w",
			len(buf), HeaderSize, ErrPacketTooShort)
	}

	code := Code(buf[0])
	if !code.valid() {
		return nil, fmt.Errorf("decode packet: code %d: %w", buf[0], ErrUnknownCode)
	}

	length := int(binary.BigEndian.Uint16(buf[2:4]))
	if length < HeaderSize {
		return nil, fmt.Errorf("decode %s: length field %d below header size %d: %w",
			code, length, HeaderSize, ErrBadLength)
	}
	if length > len(buf) {
		return nil, fmt.Errorf("decode %s: length field %d exceeds buffer %d: %w",
			code, length, len(buf), ErrBadLength)
	}

	p := &Packet{
		Code:       code,
		Identifier: buf[1],
	}
	copy(p.Authenticator[:], buf[4:HeaderSize])

	attrs, err := decodeAttributes(dict, buf[HeaderSize:length])
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", code, err)
	}
	p.Attributes = attrs

	return p, nil
}

// -------------------------------------------------------------------------
// EncodeReply - response authenticator (RFC 2865 Section 3)
// -------------------------------------------------------------------------

// EncodeReply serializes a reply packet and signs it with the response
// authenticator: the Authenticator field of the emitted bytes is
// MD5(Code || Identifier || Length || requestAuth || attributes || secret),
// folding the request's authenticator into the reply signature.
//
// The digest is spliced into the already-encoded buffer; p is not mutated.
func EncodeReply(p *Packet, requestAuth [AuthenticatorSize]byte, secret []byte) ([]byte, error) {
	reply := *p
	reply.Authenticator = requestAuth

	wire, err := Encode(&reply)
	if err != nil {
		return nil, err
	}

	h := md5.New() //nolint:gosec // G401: response authenticator is defined over MD5
	h.Write(wire)
	h.Write(secret)
	copy(wire[4:HeaderSize], h.Sum(nil))

	return wire, nil
}

// -------------------------------------------------------------------------
// PacketPool - reusable receive buffers
// -------------------------------------------------------------------------

// PacketPool provides MaxPacketSize buffers for packet I/O. Callers Get()
// a *[]byte before receiving and Put() it back after the decoded packet
// has been produced (decoded packets never alias the buffer).
//
// The pool stores *[]byte to avoid an interface allocation per Get/Put.
var PacketPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxPacketSize)
		return &buf
	},
}
