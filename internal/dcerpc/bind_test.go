package dcerpc_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/lucian/wireline/internal/dcerpc"
)

// ndrSyntaxWire is the p_syntax_id_t wire form of the NDR transfer
// syntax: the UUID with its first three fields byte-swapped, then the
// version word.
var ndrSyntaxWire = []byte{
	0x04, 0x5D, 0x88, 0x8A, 0xEB, 0x1C, 0xC9, 0x11,
	0x9F, 0xE8, 0x08, 0x00, 0x2B, 0x10, 0x48, 0x60,
	0x02, 0x00, 0x00, 0x00,
}

// samrSyntaxWire is the p_syntax_id_t wire form of the SAMR interface.
var samrSyntaxWire = []byte{
	0x78, 0x57, 0x34, 0x12, 0x34, 0x12, 0xCD, 0xAB,
	0xEF, 0x00, 0x01, 0x23, 0x45, 0x67, 0x89, 0xAC,
	0x01, 0x00, 0x00, 0x00,
}

func TestBindEncode(t *testing.T) {
	t.Parallel()

	b := dcerpc.Bind{
		CallID:  1,
		MaxXmit: dcerpc.DefaultMaxXmit,
		MaxRecv: dcerpc.DefaultMaxRecv,
		Contexts: []dcerpc.Context{
			{
				ID:        0,
				Abstract:  dcerpc.SyntaxSAMR,
				Transfers: []dcerpc.SyntaxID{dcerpc.TransferNDR},
			},
		},
	}

	want := []byte{
		0x05, 0x00, 0x0B, 0x03, // vers 5.0, bind, first|last
		0x10, 0x00, 0x00, 0x00, // drep
		0x48, 0x00, // frag_length 72
		0x00, 0x00, // auth_length
		0x01, 0x00, 0x00, 0x00, // call_id
		0xB8, 0x10, // max_xmit_frag 4280
		0xB8, 0x10, // max_recv_frag 4280
		0x00, 0x00, 0x00, 0x00, // assoc_group_id
		0x01, 0x00, 0x00, 0x00, // n_context_elem + reserved
		0x00, 0x00, // p_cont_id
		0x01, 0x00, // n_transfer_syn + reserved
	}
	want = append(want, samrSyntaxWire...)
	want = append(want, ndrSyntaxWire...)

	got := b.Encode()
	if len(got) != 72 {
		t.Fatalf("Encode() wrote %d bytes, want 72", len(got))
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = % X, want % X", got, want)
	}
}

// ackWire builds a BindAck PDU with one accepted context and the given
// secondary address.
func ackWire(callID uint32, secAddr string, results [][2]uint16) []byte {
	body := binary.LittleEndian.AppendUint16(nil, 4280)
	body = binary.LittleEndian.AppendUint16(body, 4280)
	body = binary.LittleEndian.AppendUint32(body, 0x000053F0)

	body = binary.LittleEndian.AppendUint16(body, uint16(len(secAddr)+1))
	body = append(body, secAddr...)
	body = append(body, 0)
	for (dcerpc.HeaderSize+len(body))%4 != 0 {
		body = append(body, 0)
	}

	body = append(body, uint8(len(results)), 0, 0, 0)
	for _, r := range results {
		body = binary.LittleEndian.AppendUint16(body, r[0])
		body = binary.LittleEndian.AppendUint16(body, r[1])
		body = append(body, ndrSyntaxWire...)
	}

	wire := dcerpc.AppendHeader(nil, &dcerpc.Header{
		PacketType: dcerpc.PacketBindAck,
		Flags:      dcerpc.FlagFirstFrag | dcerpc.FlagLastFrag,
		FragLength: uint16(dcerpc.HeaderSize + len(body)),
		CallID:     callID,
	})
	return append(wire, body...)
}

func TestParseBindAck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		secAddr  string
		results  [][2]uint16
		accepted bool
	}{
		{
			// 3-byte address plus terminator needs 2 pad bytes before
			// the result list.
			name:     "odd length secondary address",
			secAddr:  "135",
			results:  [][2]uint16{{dcerpc.ResultAcceptance, 0}},
			accepted: true,
		},
		{
			name:     "aligned secondary address",
			secAddr:  "49664",
			results:  [][2]uint16{{dcerpc.ResultAcceptance, 0}},
			accepted: true,
		},
		{
			name:     "empty secondary address",
			secAddr:  "",
			results:  [][2]uint16{{dcerpc.ResultAcceptance, 0}},
			accepted: true,
		},
		{
			name:     "provider rejection",
			secAddr:  "135",
			results:  [][2]uint16{{dcerpc.ResultProvRejection, 2}},
			accepted: false,
		},
		{
			name:     "second context rejected",
			secAddr:  "135",
			results:  [][2]uint16{{dcerpc.ResultAcceptance, 0}, {dcerpc.ResultUserRejection, 1}},
			accepted: false,
		},
		{
			name:     "no results",
			secAddr:  "135",
			results:  nil,
			accepted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ack, err := dcerpc.ParseBindAck(ackWire(21, tt.secAddr, tt.results))
			if err != nil {
				t.Fatalf("ParseBindAck() error = %v", err)
			}

			if ack.CallID != 21 {
				t.Errorf("CallID = %d, want 21", ack.CallID)
			}
			if ack.MaxXmit != 4280 || ack.MaxRecv != 4280 {
				t.Errorf("negotiated sizes = %d/%d, want 4280/4280", ack.MaxXmit, ack.MaxRecv)
			}
			if ack.AssocGroup != 0x000053F0 {
				t.Errorf("AssocGroup = 0x%08X, want 0x000053F0", ack.AssocGroup)
			}
			if ack.SecAddr != tt.secAddr {
				t.Errorf("SecAddr = %q, want %q", ack.SecAddr, tt.secAddr)
			}
			if len(ack.Results) != len(tt.results) {
				t.Fatalf("got %d results, want %d", len(ack.Results), len(tt.results))
			}
			for i, want := range tt.results {
				got := ack.Results[i]
				if got.Result != want[0] || got.Reason != want[1] {
					t.Errorf("result %d = %d/%d, want %d/%d",
						i, got.Result, got.Reason, want[0], want[1])
				}
				if got.Transfer != dcerpc.TransferNDR {
					t.Errorf("result %d transfer = %s, want %s",
						i, got.Transfer, dcerpc.TransferNDR)
				}
			}
			if got := ack.Accepted(); got != tt.accepted {
				t.Errorf("Accepted() = %v, want %v", got, tt.accepted)
			}
		})
	}
}

func TestParseBindAckValidation(t *testing.T) {
	t.Parallel()

	valid := ackWire(1, "135", [][2]uint16{{0, 0}})

	tests := []struct {
		name    string
		wire    func() []byte
		wantErr error
	}{
		{
			name: "wrong pdu type",
			wire: func() []byte {
				b := bytes.Clone(valid)
				b[2] = byte(dcerpc.PacketResponse)
				return b
			},
			wantErr: dcerpc.ErrUnexpectedPDU,
		},
		{
			name: "frag_length beyond buffer",
			wire: func() []byte {
				b := bytes.Clone(valid)
				binary.LittleEndian.PutUint16(b[8:10], uint16(len(b)+40))
				return b
			},
			wantErr: dcerpc.ErrBadFragLength,
		},
		{
			name: "body cut before negotiation fields",
			wire: func() []byte {
				b := bytes.Clone(valid[:24])
				binary.LittleEndian.PutUint16(b[8:10], 24)
				return b
			},
			wantErr: dcerpc.ErrTruncated,
		},
		{
			name: "secondary address overruns body",
			wire: func() []byte {
				b := bytes.Clone(valid)
				binary.LittleEndian.PutUint16(b[24:26], 200)
				return b
			},
			wantErr: dcerpc.ErrTruncated,
		},
		{
			name: "result list cut short",
			wire: func() []byte {
				b := bytes.Clone(valid[:len(valid)-8])
				binary.LittleEndian.PutUint16(b[8:10], uint16(len(b)))
				return b
			},
			wantErr: dcerpc.ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := dcerpc.ParseBindAck(tt.wire())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseBindAck() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseBindNak(t *testing.T) {
	t.Parallel()

	wire := dcerpc.AppendHeader(nil, &dcerpc.Header{
		PacketType: dcerpc.PacketBindNak,
		Flags:      dcerpc.FlagFirstFrag | dcerpc.FlagLastFrag,
		FragLength: 18,
		CallID:     3,
	})
	wire = binary.LittleEndian.AppendUint16(wire, dcerpc.RejectLocalLimitExceeded)

	nak, err := dcerpc.ParseBindNak(wire)
	if err != nil {
		t.Fatalf("ParseBindNak() error = %v", err)
	}
	if nak.CallID != 3 {
		t.Errorf("CallID = %d, want 3", nak.CallID)
	}
	if nak.RejectReason != dcerpc.RejectLocalLimitExceeded {
		t.Errorf("RejectReason = %d, want %d", nak.RejectReason, dcerpc.RejectLocalLimitExceeded)
	}
}

func TestBindNakError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reason uint16
		want   string
	}{
		{dcerpc.RejectReasonNotSpecified, "bind rejected by provider: reason not specified"},
		{dcerpc.RejectTemporaryCongestion, "bind rejected by provider: temporary congestion"},
		{dcerpc.RejectLocalLimitExceeded, "bind rejected by provider: local limit exceeded"},
		{dcerpc.RejectProtocolVersion, "bind rejected by provider: protocol version not supported"},
		{9, "bind rejected by provider: reason 9"},
	}

	for _, tt := range tests {
		nak := &dcerpc.BindNak{RejectReason: tt.reason}
		if got := nak.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
