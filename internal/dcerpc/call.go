package dcerpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// -------------------------------------------------------------------------
// Request - C706 Section 12.6.4.9
// -------------------------------------------------------------------------

// Request carries one call's input stub. This client never fragments
// requests: the stub must fit the negotiated transmit size, and the PDU
// is emitted with both fragment flags set.
type Request struct {
	CallID    uint32
	ContextID uint16
	Opnum     uint16
	Stub      []byte
}

// Encode serializes the request PDU. The alloc_hint is the exact stub
// size; receivers treat it as a sizing hint only.
func (r *Request) Encode() []byte {
	h := Header{
		PacketType: PacketRequest,
		Flags:      FlagFirstFrag | FlagLastFrag,
		FragLength: uint16(reqHeaderSize + len(r.Stub)),
		CallID:     r.CallID,
	}

	buf := AppendHeader(make([]byte, 0, reqHeaderSize+len(r.Stub)), &h)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Stub)))
	buf = binary.LittleEndian.AppendUint16(buf, r.ContextID)
	buf = binary.LittleEndian.AppendUint16(buf, r.Opnum)
	return append(buf, r.Stub...)
}

// -------------------------------------------------------------------------
// Response - C706 Section 12.6.4.10
// -------------------------------------------------------------------------

// Response is one decoded response PDU. For a fragmented call the
// reassembly engine returns a synthesized Response: FlagLastFrag alone,
// FragLength covering the joined stub, and the stub concatenated in
// arrival order.
type Response struct {
	Header Header

	// AllocHint is the server's total output size hint. On the first
	// fragment of a run it sizes the accumulator.
	AllocHint uint32

	ContextID   uint16
	CancelCount uint8

	// Stub holds this fragment's stub bytes; never aliases the receive
	// buffer.
	Stub []byte
}

// parseResponse decodes one response fragment. The stub is the declared
// fragment length minus the response prefix and any auth trailer; a
// declaration past the received bytes aborts, the stub is never cut
// short.
func parseResponse(buf []byte) (*Response, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if h.PacketType != PacketResponse {
		return nil, fmt.Errorf("parse response: got %s: %w", h.PacketType, ErrUnexpectedPDU)
	}
	if len(buf) < RespHeaderSize {
		return nil, fmt.Errorf("parse response: %d bytes: %w", len(buf), ErrTruncated)
	}
	if int(h.FragLength) > len(buf) {
		return nil, fmt.Errorf("parse response: frag_length %d exceeds %d received bytes: %w",
			h.FragLength, len(buf), ErrBadFragLength)
	}

	stubEnd := int(h.FragLength) - int(h.AuthLength)
	if stubEnd < RespHeaderSize {
		return nil, fmt.Errorf("parse response: auth_length %d leaves no stub space: %w",
			h.AuthLength, ErrBadFragLength)
	}

	return &Response{
		Header:      h,
		AllocHint:   binary.LittleEndian.Uint32(buf[16:20]),
		ContextID:   binary.LittleEndian.Uint16(buf[20:22]),
		CancelCount: buf[22],
		Stub:        bytes.Clone(buf[RespHeaderSize:stubEnd]),
	}, nil
}

// -------------------------------------------------------------------------
// Fault - C706 Section 12.6.4.7
// -------------------------------------------------------------------------

// Fault is a server-raised run-time error. It satisfies error and ends
// the call it answers; an in-progress reassembly aborts with no partial
// result.
type Fault struct {
	CallID uint32

	// Status is the fault code: an nca_s_* run-time code or an NTSTATUS
	// forwarded from the operation.
	Status uint32
}

// Run-time fault codes this client names (C706 Appendix E).
const (
	FaultOpRangeError   uint32 = 0x1C010002
	FaultUnknownIF      uint32 = 0x1C010003
	FaultProtocolError  uint32 = 0x1C01000B
	FaultUnsupportedNDR uint32 = 0x1C010017
)

func (f *Fault) Error() string {
	return fmt.Sprintf("rpc fault: %s", f.statusString())
}

func (f *Fault) statusString() string {
	switch f.Status {
	case FaultOpRangeError:
		return "operation number out of range"
	case FaultUnknownIF:
		return "unknown interface"
	case FaultProtocolError:
		return "protocol error"
	case FaultUnsupportedNDR:
		return "unsupported ndr transfer syntax"
	default:
		return fmt.Sprintf("status 0x%08X", f.Status)
	}
}

// parseFault decodes a fault PDU: the response-shaped prefix, then the
// 4-byte status.
func parseFault(buf []byte) (*Fault, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if h.PacketType != PacketFault {
		return nil, fmt.Errorf("parse fault: got %s: %w", h.PacketType, ErrUnexpectedPDU)
	}
	if len(buf) < RespHeaderSize+4 {
		return nil, fmt.Errorf("parse fault: %d bytes: %w", len(buf), ErrTruncated)
	}

	return &Fault{
		CallID: h.CallID,
		Status: binary.LittleEndian.Uint32(buf[RespHeaderSize : RespHeaderSize+4]),
	}, nil
}
