package dcerpc

import (
	"context"
	"fmt"
	"sync"
)

// -------------------------------------------------------------------------
// Transport - one blocking exchange per transact
// -------------------------------------------------------------------------

// Transport is the byte-exchange collaborator a Client drives. A single
// Transact writes out (when non-empty) and reads one fragment back;
// readHint is the caller's expected fragment size, which framed
// transports may use to size the read. A nil out performs a read with no
// write, used for continuation fragments.
//
// Transport errors are returned to the caller unmodified: the Client
// never wraps, retries, or reinterprets them.
type Transport interface {
	Transact(ctx context.Context, out []byte, readHint uint32) ([]byte, error)
}

// -------------------------------------------------------------------------
// Reassembly state machine
// -------------------------------------------------------------------------

// assemblyState tracks a call's response across fragments.
type assemblyState uint8

const (
	// stateIdle: no fragment seen yet.
	stateIdle assemblyState = iota

	// stateAccumulating: a first fragment arrived without its last
	// flag; stub bytes are being collected.
	stateAccumulating

	// stateDone: the last fragment arrived and the stub is complete.
	stateDone
)

// assemblyStateNames indexes assemblyState values.
var assemblyStateNames = [3]string{
	"Idle",
	"Accumulating",
	"Done",
}

// String returns the state name.
func (s assemblyState) String() string {
	if int(s) < len(assemblyStateNames) {
		return assemblyStateNames[s]
	}
	return fmt.Sprintf(unknownFmt, uint8(s))
}

// -------------------------------------------------------------------------
// Client - bind once, then sequential calls
// -------------------------------------------------------------------------

// Client speaks one presentation context over a Transport: Bind
// negotiates the context, Call runs one operation and reassembles its
// response. A mutex serializes calls; one call is in flight at a time,
// so a single accumulator suffices.
type Client struct {
	mu        sync.Mutex
	transport Transport
	abstract  SyntaxID
	contextID uint16
	callID    uint32
	maxXmit   uint16
	maxRecv   uint16
	fragments uint64
	bound     bool
}

// NewClient returns an unbound client for the given interface syntax.
func NewClient(t Transport, abstract SyntaxID) *Client {
	return &Client{
		transport: t,
		abstract:  abstract,
		maxXmit:   DefaultMaxXmit,
		maxRecv:   DefaultMaxRecv,
	}
}

// Bind proposes the client's presentation context with the NDR transfer
// syntax and records the negotiated fragment sizes. A BindNak or a
// rejected context surfaces as the error outcome of the exchange.
func (c *Client) Bind(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.callID++
	b := Bind{
		CallID:  c.callID,
		MaxXmit: DefaultMaxXmit,
		MaxRecv: DefaultMaxRecv,
		Contexts: []Context{
			{ID: c.contextID, Abstract: c.abstract, Transfers: []SyntaxID{TransferNDR}},
		},
	}

	buf, err := c.transport.Transact(ctx, b.Encode(), uint32(DefaultMaxRecv))
	if err != nil {
		return err
	}

	h, err := ParseHeader(buf)
	if err != nil {
		return err
	}

	switch h.PacketType {
	case PacketBindAck:
		ack, err := ParseBindAck(buf)
		if err != nil {
			return err
		}
		if !ack.Accepted() {
			return fmt.Errorf("bind %s: result %d reason %d: %w",
				c.abstract, bindResult(ack), bindReason(ack), ErrBindRejected)
		}
		if ack.MaxXmit != 0 {
			c.maxXmit = ack.MaxXmit
		}
		if ack.MaxRecv != 0 {
			c.maxRecv = ack.MaxRecv
		}
		c.bound = true
		return nil

	case PacketBindNak:
		nak, err := ParseBindNak(buf)
		if err != nil {
			return err
		}
		return nak

	case PacketFault:
		fault, err := parseFault(buf)
		if err != nil {
			return err
		}
		return fault

	default:
		return fmt.Errorf("bind: answered with %s: %w", h.PacketType, ErrUnexpectedPDU)
	}
}

// Fragments returns the number of response fragments the client has
// consumed over its lifetime, counting single-fragment responses as one.
func (c *Client) Fragments() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fragments
}

// bindResult returns the first non-accept result code, or 0.
func bindResult(a *BindAck) uint16 {
	for _, r := range a.Results {
		if r.Result != ResultAcceptance {
			return r.Result
		}
	}
	return 0
}

// bindReason returns the first non-accept reason code, or 0.
func bindReason(a *BindAck) uint16 {
	for _, r := range a.Results {
		if r.Result != ResultAcceptance {
			return r.Reason
		}
	}
	return 0
}

// Call runs one operation: send the request, then drive fragment
// exchanges until the response stub is complete. The returned bytes are
// the reassembled output stub.
//
// Any transport error and any unparseable or out-of-sequence fragment
// aborts the call with no partial result.
func (c *Client) Call(ctx context.Context, opnum uint16, stub []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.bound {
		return nil, fmt.Errorf("call opnum %d: %w", opnum, ErrNotBound)
	}
	if reqHeaderSize+len(stub) > int(c.maxXmit) {
		return nil, fmt.Errorf("call opnum %d: stub %d bytes, max transmit %d: %w",
			opnum, len(stub), c.maxXmit, ErrStubTooLong)
	}

	c.callID++
	req := Request{
		CallID:    c.callID,
		ContextID: c.contextID,
		Opnum:     opnum,
		Stub:      stub,
	}

	buf, err := c.transport.Transact(ctx, req.Encode(), uint32(c.maxRecv))
	if err != nil {
		return nil, err
	}

	resp, err := c.assemble(ctx, req.CallID, buf)
	if err != nil {
		return nil, err
	}
	return resp.Stub, nil
}

// assemble drives the reassembly state machine over the first received
// buffer and any continuation exchanges.
//
// Single-fragment responses (both flags set) pass through as received.
// A fragmented run sizes its accumulator from the first fragment's
// alloc_hint and computes each continuation read as
//
//	min(previous frag_length, remaining stub bytes + response header)
//
// so the read covers the next fragment exactly when the server keeps its
// hint, and never exceeds the largest fragment seen. The completed run
// is reported as one synthesized Response: last-fragment flag alone, the
// fragment length covering the whole stub, and the stub joined in
// arrival order.
func (c *Client) assemble(ctx context.Context, callID uint32, buf []byte) (*Response, error) {
	state := stateIdle

	var (
		joined     []byte
		allocHint  uint32
		bytesSoFar uint32
		prevFrag   uint16
		first      *Response
		last       *Response
	)

	for state != stateDone {
		h, err := ParseHeader(buf)
		if err != nil {
			return nil, err
		}

		if h.PacketType == PacketFault {
			fault, err := parseFault(buf)
			if err != nil {
				return nil, err
			}
			return nil, fault
		}

		resp, err := parseResponse(buf)
		if err != nil {
			return nil, err
		}
		c.fragments++
		if resp.Header.CallID != callID {
			return nil, fmt.Errorf("assemble: fragment for call %d during call %d: %w",
				resp.Header.CallID, callID, ErrFragmentMismatch)
		}

		isFirst := resp.Header.Flags&FlagFirstFrag != 0
		isLast := resp.Header.Flags&FlagLastFrag != 0

		switch state {
		case stateIdle:
			if !isFirst {
				return nil, fmt.Errorf("assemble: continuation fragment in state %s: %w",
					state, ErrBadSequence)
			}
			if isLast {
				// Complete in one fragment; the envelope passes
				// through as received.
				return resp, nil
			}

			allocHint = resp.AllocHint
			first = resp
			joined = append(joined, resp.Stub...)
			bytesSoFar = uint32(len(joined))
			prevFrag = resp.Header.FragLength
			state = stateAccumulating

		case stateAccumulating:
			if isFirst {
				return nil, fmt.Errorf("assemble: first fragment in state %s: %w",
					state, ErrBadSequence)
			}

			joined = append(joined, resp.Stub...)
			bytesSoFar = uint32(len(joined))
			prevFrag = resp.Header.FragLength

			if isLast {
				last = resp
				state = stateDone
				continue
			}
		}

		if bytesSoFar >= allocHint {
			return nil, fmt.Errorf("assemble: %d stub bytes with alloc_hint %d and no last fragment: %w",
				bytesSoFar, allocHint, ErrBadFragLength)
		}

		readHint := min(uint32(prevFrag), (allocHint-bytesSoFar)+RespHeaderSize)
		buf, err = c.transport.Transact(ctx, nil, readHint)
		if err != nil {
			return nil, err
		}
	}

	return &Response{
		Header: Header{
			PacketType: PacketResponse,
			Flags:      FlagLastFrag,
			FragLength: uint16(allocHint + RespHeaderSize),
			CallID:     callID,
		},
		AllocHint:   allocHint,
		ContextID:   first.ContextID,
		CancelCount: last.CancelCount,
		Stub:        joined,
	}, nil
}
