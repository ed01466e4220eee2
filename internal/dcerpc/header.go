package dcerpc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Protocol Constants - C706 Section 12.6.3
// -------------------------------------------------------------------------

// HeaderSize is the fixed common header size shared by every
// connection-oriented PDU: version(2) + ptype(1) + pfc_flags(1) +
// packed_drep(4) + frag_length(2) + auth_length(2) + call_id(4).
const HeaderSize = 16

// RespHeaderSize is the common header plus the response prefix:
// alloc_hint(4) + p_cont_id(2) + cancel_count(1) + reserved(1).
// Every response fragment carries this prefix, so it is the per-fragment
// overhead used in read-size arithmetic.
const RespHeaderSize = HeaderSize + 8

// reqHeaderSize is the common header plus the request prefix:
// alloc_hint(4) + p_cont_id(2) + opnum(2).
const reqHeaderSize = HeaderSize + 8

// Protocol version emitted in every PDU and required on receipt
// (C706 Section 12.6.3.1: rpc_vers 5, rpc_vers_minor 0).
const (
	versionMajor = 5
	versionMinor = 0
)

// dataRep is the packed data representation label: little-endian
// integers, ASCII characters, IEEE floats. The label is defined as four
// single-byte fields, so it is written and compared as literal bytes
// even though every multi-byte integer around it is little-endian.
var dataRep = [4]byte{0x10, 0x00, 0x00, 0x00}

// unknownFmt is the format string for unrecognized enum values with
// numeric code.
const unknownFmt = "Unknown(%d)"

// -------------------------------------------------------------------------
// PDU Types - C706 Section 12.6.4.14
// -------------------------------------------------------------------------

// PacketType is the PDU type byte, selecting the PDU kind. Only the
// connection-oriented types a client exchanges are recognized; any other
// byte fails decoding.
type PacketType uint8

const (
	// PacketRequest carries a call's input stub (C706 Section 12.6.4.9).
	PacketRequest PacketType = 0

	// PacketResponse carries a call's output stub, possibly as one of
	// several fragments (C706 Section 12.6.4.10).
	PacketResponse PacketType = 2

	// PacketFault reports a run-time error raised by the server
	// (C706 Section 12.6.4.7).
	PacketFault PacketType = 3

	// PacketBind opens a session and proposes presentation contexts
	// (C706 Section 12.6.4.3).
	PacketBind PacketType = 11

	// PacketBindAck accepts a bind and reports negotiation results
	// (C706 Section 12.6.4.4).
	PacketBindAck PacketType = 12

	// PacketBindNak rejects a bind with a provider reason
	// (C706 Section 12.6.4.5).
	PacketBindNak PacketType = 13
)

// String returns the C706 PDU type name.
func (t PacketType) String() string {
	switch t {
	case PacketRequest:
		return "Request"
	case PacketResponse:
		return "Response"
	case PacketFault:
		return "Fault"
	case PacketBind:
		return "Bind"
	case PacketBindAck:
		return "BindAck"
	case PacketBindNak:
		return "BindNak"
	default:
		return fmt.Sprintf(unknownFmt, uint8(t))
	}
}

// valid reports whether t is a recognized PDU type.
func (t PacketType) valid() bool {
	switch t {
	case PacketRequest, PacketResponse, PacketFault,
		PacketBind, PacketBindAck, PacketBindNak:
		return true
	default:
		return false
	}
}

// PFC flag bits (C706 Section 12.6.3.1).
const (
	// FlagFirstFrag marks the first fragment of a call.
	FlagFirstFrag uint8 = 0x01

	// FlagLastFrag marks the final fragment of a call.
	FlagLastFrag uint8 = 0x02

	// FlagDidNotExecute on a Fault guarantees the call never ran.
	FlagDidNotExecute uint8 = 0x20
)

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

// Sentinel errors for PDU decoding and the call state machine.
var (
	// ErrTruncated indicates a buffer shorter than the fixed prefix
	// being decoded.
	ErrTruncated = errors.New("buffer shorter than pdu prefix")

	// ErrBadVersion indicates an rpc_vers other than 5.0.
	ErrBadVersion = errors.New("unsupported rpc version")

	// ErrBadDataRep indicates a data representation label with
	// big-endian integers, which this codec does not read.
	ErrBadDataRep = errors.New("unsupported data representation")

	// ErrUnknownType indicates an unrecognized PDU type byte.
	ErrUnknownType = errors.New("unknown pdu type")

	// ErrBadFragLength indicates a frag_length below the header size or
	// beyond the received buffer. Oversize declarations abort the call;
	// fragments are never truncated to fit.
	ErrBadFragLength = errors.New("frag_length inconsistent with buffer")

	// ErrFragmentMismatch indicates a continuation fragment whose
	// call_id does not match the call being assembled.
	ErrFragmentMismatch = errors.New("fragment call id mismatch")

	// ErrBadSequence indicates fragment flags that violate the
	// reassembly state machine: a first fragment while accumulating, or
	// a continuation with nothing accumulated.
	ErrBadSequence = errors.New("fragment sequence violation")

	// ErrUnexpectedPDU indicates a PDU type that cannot occur at this
	// point of the exchange.
	ErrUnexpectedPDU = errors.New("unexpected pdu type")

	// ErrStubTooLong indicates a request stub exceeding the negotiated
	// maximum transmit fragment size.
	ErrStubTooLong = errors.New("request stub exceeds max transmit size")

	// ErrNotBound indicates a call issued before Bind completed.
	ErrNotBound = errors.New("client is not bound")

	// ErrBindRejected indicates a BindAck whose presentation context
	// results refuse the proposed context.
	ErrBindRejected = errors.New("presentation context rejected")
)

// -------------------------------------------------------------------------
// Common Header - C706 Section 12.6.3.1
// -------------------------------------------------------------------------

// Header is the 16-byte common PDU header. The version bytes and the data
// representation label are fixed by the codec: AppendHeader writes 5.0 and
// the little-endian label, ParseHeader requires them.
type Header struct {
	// PacketType selects the PDU kind.
	PacketType PacketType

	// Flags holds the PFC flag bits; FlagFirstFrag and FlagLastFrag
	// delimit fragment runs.
	Flags uint8

	// FragLength is the total length of this fragment in bytes,
	// header included.
	FragLength uint16

	// AuthLength is the length of the trailing auth verifier;
	// zero on the unauthenticated exchanges this client performs.
	AuthLength uint16

	// CallID correlates every PDU of one call.
	CallID uint32
}

// AppendHeader appends the 16-byte common header to dst.
func AppendHeader(dst []byte, h *Header) []byte {
	dst = append(dst, versionMajor, versionMinor, byte(h.PacketType), h.Flags)
	dst = append(dst, dataRep[:]...)
	dst = binary.LittleEndian.AppendUint16(dst, h.FragLength)
	dst = binary.LittleEndian.AppendUint16(dst, h.AuthLength)
	dst = binary.LittleEndian.AppendUint32(dst, h.CallID)
	return dst
}

// ParseHeader decodes the common header from the front of buf.
//
// The buffer may be just the 16-byte prefix of a longer fragment: the
// declared FragLength is validated against the header size only, so a
// framing layer can parse the prefix before reading the remainder.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("parse header: %d bytes: %w", len(buf), ErrTruncated)
	}

	if buf[0] != versionMajor || buf[1] != versionMinor {
		return Header{}, fmt.Errorf("parse header: rpc version %d.%d: %w",
			buf[0], buf[1], ErrBadVersion)
	}
	if buf[4]&0xF0 != dataRep[0]&0xF0 {
		return Header{}, fmt.Errorf("parse header: drep 0x%02X: %w", buf[4], ErrBadDataRep)
	}

	h := Header{
		PacketType: PacketType(buf[2]),
		Flags:      buf[3],
		FragLength: binary.LittleEndian.Uint16(buf[8:10]),
		AuthLength: binary.LittleEndian.Uint16(buf[10:12]),
		CallID:     binary.LittleEndian.Uint32(buf[12:16]),
	}

	if !h.PacketType.valid() {
		return Header{}, fmt.Errorf("parse header: ptype %d: %w", buf[2], ErrUnknownType)
	}
	if int(h.FragLength) < HeaderSize {
		return Header{}, fmt.Errorf("parse header: frag_length %d below header size %d: %w",
			h.FragLength, HeaderSize, ErrBadFragLength)
	}

	return h, nil
}
