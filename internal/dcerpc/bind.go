package dcerpc

import (
	"encoding/binary"
	"fmt"
)

// -------------------------------------------------------------------------
// Bind - C706 Section 12.6.4.3
// -------------------------------------------------------------------------

// Default fragment size limits proposed in a bind.
const (
	DefaultMaxXmit = 4280
	DefaultMaxRecv = 4280
)

// Context is one presentation context proposal: an abstract (interface)
// syntax and the transfer syntaxes the client can speak for it.
type Context struct {
	ID        uint16
	Abstract  SyntaxID
	Transfers []SyntaxID
}

// Bind proposes presentation contexts to the server. A bind with one
// context carrying one transfer syntax encodes to 72 bytes.
type Bind struct {
	CallID     uint32
	MaxXmit    uint16
	MaxRecv    uint16
	AssocGroup uint32
	Contexts   []Context
}

// Encode serializes the bind PDU: the common header, the fragment size
// limits and association group, then the context list
// (n_context_elem(1) + 3 reserved, and per element ctx_id(2) +
// n_transfer_syn(1) + 1 reserved + abstract + transfers).
func (b *Bind) Encode() []byte {
	size := HeaderSize + 8 + 4
	for _, c := range b.Contexts {
		size += 4 + syntaxIDSize + len(c.Transfers)*syntaxIDSize
	}

	h := Header{
		PacketType: PacketBind,
		Flags:      FlagFirstFrag | FlagLastFrag,
		FragLength: uint16(size),
		CallID:     b.CallID,
	}

	buf := AppendHeader(make([]byte, 0, size), &h)
	buf = binary.LittleEndian.AppendUint16(buf, b.MaxXmit)
	buf = binary.LittleEndian.AppendUint16(buf, b.MaxRecv)
	buf = binary.LittleEndian.AppendUint32(buf, b.AssocGroup)
	buf = append(buf, uint8(len(b.Contexts)), 0, 0, 0)

	for _, c := range b.Contexts {
		buf = binary.LittleEndian.AppendUint16(buf, c.ID)
		buf = append(buf, uint8(len(c.Transfers)), 0)
		buf = appendSyntaxID(buf, c.Abstract)
		for _, t := range c.Transfers {
			buf = appendSyntaxID(buf, t)
		}
	}

	return buf
}

// -------------------------------------------------------------------------
// BindAck - C706 Section 12.6.4.4
// -------------------------------------------------------------------------

// Presentation context negotiation results
// (C706 Section 12.6.3.1 p_cont_def_result_t).
const (
	ResultAcceptance    uint16 = 0
	ResultUserRejection uint16 = 1
	ResultProvRejection uint16 = 2
	ResultNegotiateAck  uint16 = 3
)

// ContextResult is the negotiation outcome for one proposed context.
type ContextResult struct {
	// Result is ResultAcceptance when the context was accepted.
	Result uint16

	// Reason explains a rejection (p_provider_reason_t); zero otherwise.
	Reason uint16

	// Transfer is the transfer syntax the server selected.
	Transfer SyntaxID
}

// BindAck reports the server's side of the negotiation.
type BindAck struct {
	CallID     uint32
	MaxXmit    uint16
	MaxRecv    uint16
	AssocGroup uint32

	// SecAddr is the secondary address the server announces, typically
	// the endpoint name; informational for this client.
	SecAddr string

	Results []ContextResult
}

// Accepted reports whether every proposed context was accepted.
func (a *BindAck) Accepted() bool {
	if len(a.Results) == 0 {
		return false
	}
	for _, r := range a.Results {
		if r.Result != ResultAcceptance {
			return false
		}
	}
	return true
}

// ParseBindAck decodes a BindAck PDU. The secondary address is padded to
// a 4-byte boundary relative to the PDU start before the result list.
func ParseBindAck(buf []byte) (*BindAck, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if h.PacketType != PacketBindAck {
		return nil, fmt.Errorf("parse bind ack: got %s: %w", h.PacketType, ErrUnexpectedPDU)
	}
	if int(h.FragLength) > len(buf) {
		return nil, fmt.Errorf("parse bind ack: frag_length %d exceeds %d received bytes: %w",
			h.FragLength, len(buf), ErrBadFragLength)
	}
	body := buf[:h.FragLength]

	if len(body) < HeaderSize+10 {
		return nil, fmt.Errorf("parse bind ack: %d bytes: %w", len(body), ErrTruncated)
	}

	a := &BindAck{
		CallID:     h.CallID,
		MaxXmit:    binary.LittleEndian.Uint16(body[16:18]),
		MaxRecv:    binary.LittleEndian.Uint16(body[18:20]),
		AssocGroup: binary.LittleEndian.Uint32(body[20:24]),
	}

	secLen := int(binary.LittleEndian.Uint16(body[24:26]))
	off := 26 + secLen
	if off > len(body) {
		return nil, fmt.Errorf("parse bind ack: secondary address %d bytes: %w",
			secLen, ErrTruncated)
	}
	addr := body[26:off]
	if secLen > 0 && addr[secLen-1] == 0 {
		addr = addr[:secLen-1]
	}
	a.SecAddr = string(addr)

	off += (4 - off%4) % 4
	if off+4 > len(body) {
		return nil, fmt.Errorf("parse bind ack: result list header: %w", ErrTruncated)
	}
	n := int(body[off])
	off += 4

	if off+n*(4+syntaxIDSize) > len(body) {
		return nil, fmt.Errorf("parse bind ack: %d results in %d bytes: %w",
			n, len(body)-off, ErrTruncated)
	}

	for range n {
		r := ContextResult{
			Result: binary.LittleEndian.Uint16(body[off : off+2]),
			Reason: binary.LittleEndian.Uint16(body[off+2 : off+4]),
		}
		r.Transfer, err = parseSyntaxID(body[off+4:])
		if err != nil {
			return nil, fmt.Errorf("parse bind ack: %w", err)
		}
		a.Results = append(a.Results, r)
		off += 4 + syntaxIDSize
	}

	return a, nil
}

// -------------------------------------------------------------------------
// BindNak - C706 Section 12.6.4.5
// -------------------------------------------------------------------------

// BindNak is a provider rejection of a bind. It satisfies error: the
// rejection is the outcome of the exchange, carrying the provider's
// stated reason.
type BindNak struct {
	CallID       uint32
	RejectReason uint16
}

// Provider reject reasons (C706 Section 12.6.3.1 p_reject_reason_t).
const (
	RejectReasonNotSpecified  uint16 = 0
	RejectTemporaryCongestion uint16 = 1
	RejectLocalLimitExceeded  uint16 = 2
	RejectProtocolVersion     uint16 = 4
)

func (n *BindNak) Error() string {
	return fmt.Sprintf("bind rejected by provider: %s", n.reason())
}

func (n *BindNak) reason() string {
	switch n.RejectReason {
	case RejectReasonNotSpecified:
		return "reason not specified"
	case RejectTemporaryCongestion:
		return "temporary congestion"
	case RejectLocalLimitExceeded:
		return "local limit exceeded"
	case RejectProtocolVersion:
		return "protocol version not supported"
	default:
		return fmt.Sprintf("reason %d", n.RejectReason)
	}
}

// ParseBindNak decodes a BindNak PDU.
func ParseBindNak(buf []byte) (*BindNak, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if h.PacketType != PacketBindNak {
		return nil, fmt.Errorf("parse bind nak: got %s: %w", h.PacketType, ErrUnexpectedPDU)
	}
	if len(buf) < HeaderSize+2 {
		return nil, fmt.Errorf("parse bind nak: %d bytes: %w", len(buf), ErrTruncated)
	}

	return &BindNak{
		CallID:       h.CallID,
		RejectReason: binary.LittleEndian.Uint16(buf[16:18]),
	}, nil
}
