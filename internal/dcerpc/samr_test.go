package dcerpc_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"unicode/utf16"

	"github.com/lucian/wireline/internal/dcerpc"
)

// app16 appends little-endian 16-bit words.
func app16(b []byte, vs ...uint16) []byte {
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return b
}

// app32 appends little-endian 32-bit words.
func app32(b []byte, vs ...uint32) []byte {
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

// utf16LE encodes s as UTF-16LE without a terminator.
func utf16LE(s string) []byte {
	var b []byte
	for _, u := range utf16.Encode([]rune(s)) {
		b = binary.LittleEndian.AppendUint16(b, u)
	}
	return b
}

// pad4 zero-pads to a 4-byte boundary.
func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// samrReply wraps a response stub in a single-fragment response for
// call id 2, the first call after a bind.
func samrReply(stub []byte) []byte {
	return respFrag(2, dcerpc.FlagFirstFrag|dcerpc.FlagLastFrag, uint32(len(stub)), 0, stub)
}

func TestSamrConnect2(t *testing.T) {
	t.Parallel()

	handle := pattern(0x10, 20)
	respStub := app32(bytes.Clone(handle), 0)

	c, tr := boundClient(t, []transactStep{
		{wantWrite: true, reply: samrReply(respStub)},
	})
	s := dcerpc.NewSamr(c)

	got, err := s.Connect2(context.Background(), "\\\\dc01")
	if err != nil {
		t.Fatalf("Connect2() error = %v", err)
	}

	var want dcerpc.Handle
	copy(want[:], handle)
	if got != want {
		t.Errorf("Connect2() handle = % X, want % X", got[:], want[:])
	}
	if got.IsZero() {
		t.Error("IsZero() = true for a live handle")
	}

	req := tr.wrote[1]
	if opnum := binary.LittleEndian.Uint16(req[22:24]); opnum != 57 {
		t.Errorf("opnum = %d, want 57", opnum)
	}

	// Unique string pointer, the conformant varying name with its
	// terminator, then the desired access.
	wantStub := app32(nil, 0x00020004, 7, 0, 7)
	wantStub = append(wantStub, utf16LE("\\\\dc01")...)
	wantStub = app16(wantStub, 0)
	wantStub = pad4(wantStub)
	wantStub = app32(wantStub, 0x02000000)
	if !bytes.Equal(req[24:], wantStub) {
		t.Errorf("request stub = % X, want % X", req[24:], wantStub)
	}
}

func TestSamrConnect2Fault(t *testing.T) {
	t.Parallel()

	respStub := app32(make([]byte, 20), 0xC0000022) // access denied

	c, _ := boundClient(t, []transactStep{
		{wantWrite: true, reply: samrReply(respStub)},
	})
	s := dcerpc.NewSamr(c)

	_, err := s.Connect2(context.Background(), "\\\\dc01")
	var fault *dcerpc.Fault
	if !errors.As(err, &fault) {
		t.Fatalf("Connect2() error = %v, want *Fault", err)
	}
	if fault.Status != 0xC0000022 {
		t.Errorf("Status = 0x%08X, want 0xC0000022", fault.Status)
	}
}

func TestSamrEnumDomains(t *testing.T) {
	t.Parallel()

	server := dcerpc.Handle(([20]byte)(pattern(0x30, 20)))

	buildStub := func(status uint32) []byte {
		stub := app32(nil, 1)          // enumeration context
		stub = app32(stub, 0x00020000) // buffer pointer
		stub = app32(stub, 2)          // entries read
		stub = app32(stub, 0x00020004) // entry array pointer
		stub = app32(stub, 2)          // conformant max count

		stub = app32(stub, 0) // relative id
		stub = app16(stub, 8, 8)
		stub = app32(stub, 0x00020008)
		stub = app32(stub, 1)
		stub = app16(stub, 14, 14)
		stub = app32(stub, 0x0002000C)

		stub = app32(stub, 4, 0, 4)
		stub = append(stub, utf16LE("CORP")...)
		stub = app32(stub, 7, 0, 7)
		stub = append(stub, utf16LE("Builtin")...)
		stub = pad4(stub)

		stub = app32(stub, 2) // count returned
		return app32(stub, status)
	}

	tests := []struct {
		name string
		stub []byte
		want []string
	}{
		{
			name: "two domains",
			stub: buildStub(0),
			want: []string{"CORP", "Builtin"},
		},
		{
			name: "more entries pending",
			stub: buildStub(0x00000105),
			want: []string{"CORP", "Builtin"},
		},
		{
			name: "null buffer",
			stub: app32(nil, 0, 0, 0, 0),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, tr := boundClient(t, []transactStep{
				{wantWrite: true, reply: samrReply(tt.stub)},
			})
			s := dcerpc.NewSamr(c)

			got, err := s.EnumDomains(context.Background(), server)
			if err != nil {
				t.Fatalf("EnumDomains() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("EnumDomains() = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("domain %d = %q, want %q", i, got[i], tt.want[i])
				}
			}

			req := tr.wrote[1]
			if opnum := binary.LittleEndian.Uint16(req[22:24]); opnum != 6 {
				t.Errorf("opnum = %d, want 6", opnum)
			}
			wantStub := app32(bytes.Clone(server[:]), 0, 8192)
			if !bytes.Equal(req[24:], wantStub) {
				t.Errorf("request stub = % X, want % X", req[24:], wantStub)
			}
		})
	}
}

func TestSamrLookupDomain(t *testing.T) {
	t.Parallel()

	server := dcerpc.Handle(([20]byte)(pattern(0x30, 20)))
	want := &dcerpc.SID{
		Revision:            1,
		IdentifierAuthority: [6]byte{0, 0, 0, 0, 0, 5},
		SubAuthorities:      []uint32{21, 1000, 2000, 3000},
	}

	respStub := app32(nil, 0x00020000, 4) // sid pointer, conformant count
	respStub = append(respStub, 1, 4, 0, 0, 0, 0, 0, 5)
	respStub = app32(respStub, 21, 1000, 2000, 3000)
	respStub = app32(respStub, 0)

	c, tr := boundClient(t, []transactStep{
		{wantWrite: true, reply: samrReply(respStub)},
	})
	s := dcerpc.NewSamr(c)

	got, err := s.LookupDomain(context.Background(), server, "CORP")
	if err != nil {
		t.Fatalf("LookupDomain() error = %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("LookupDomain() = %s, want %s", got, want)
	}
	if got.String() != "S-1-5-21-1000-2000-3000" {
		t.Errorf("String() = %q, want S-1-5-21-1000-2000-3000", got.String())
	}

	req := tr.wrote[1]
	if opnum := binary.LittleEndian.Uint16(req[22:24]); opnum != 5 {
		t.Errorf("opnum = %d, want 5", opnum)
	}
	wantStub := app16(bytes.Clone(server[:]), 8, 8)
	wantStub = app32(wantStub, 0x00020004)
	wantStub = app32(wantStub, 4, 0, 4)
	wantStub = append(wantStub, utf16LE("CORP")...)
	if !bytes.Equal(req[24:], wantStub) {
		t.Errorf("request stub = % X, want % X", req[24:], wantStub)
	}
}

func TestSamrLookupDomainNotFound(t *testing.T) {
	t.Parallel()

	// Null SID pointer, then STATUS_NO_SUCH_DOMAIN.
	respStub := app32(nil, 0)
	respStub = app32(respStub, 0xC00000DF)

	c, _ := boundClient(t, []transactStep{
		{wantWrite: true, reply: samrReply(respStub)},
	})
	s := dcerpc.NewSamr(c)

	_, err := s.LookupDomain(context.Background(), dcerpc.Handle{}, "NOPE")
	var fault *dcerpc.Fault
	if !errors.As(err, &fault) {
		t.Fatalf("LookupDomain() error = %v, want *Fault", err)
	}
	if fault.Status != 0xC00000DF {
		t.Errorf("Status = 0x%08X, want 0xC00000DF", fault.Status)
	}
}

func TestSamrOpenDomain(t *testing.T) {
	t.Parallel()

	server := dcerpc.Handle(([20]byte)(pattern(0x30, 20)))
	sid := &dcerpc.SID{
		Revision:            1,
		IdentifierAuthority: [6]byte{0, 0, 0, 0, 0, 5},
		SubAuthorities:      []uint32{21, 1000, 2000, 3000},
	}
	domainHandle := pattern(0x50, 20)

	respStub := app32(bytes.Clone(domainHandle), 0)

	c, tr := boundClient(t, []transactStep{
		{wantWrite: true, reply: samrReply(respStub)},
	})
	s := dcerpc.NewSamr(c)

	got, err := s.OpenDomain(context.Background(), server, sid)
	if err != nil {
		t.Fatalf("OpenDomain() error = %v", err)
	}
	var want dcerpc.Handle
	copy(want[:], domainHandle)
	if got != want {
		t.Errorf("OpenDomain() handle = % X, want % X", got[:], want[:])
	}

	req := tr.wrote[1]
	if opnum := binary.LittleEndian.Uint16(req[22:24]); opnum != 7 {
		t.Errorf("opnum = %d, want 7", opnum)
	}
	wantStub := app32(bytes.Clone(server[:]), 0x02000000, 4)
	wantStub = append(wantStub, 1, 4, 0, 0, 0, 0, 0, 5)
	wantStub = app32(wantStub, 21, 1000, 2000, 3000)
	if !bytes.Equal(req[24:], wantStub) {
		t.Errorf("request stub = % X, want % X", req[24:], wantStub)
	}
}

func TestSamrLookupNames(t *testing.T) {
	t.Parallel()

	domain := dcerpc.Handle(([20]byte)(pattern(0x50, 20)))

	tests := []struct {
		name   string
		status uint32
		rids   []uint32
	}{
		{
			name:   "all mapped",
			status: 0,
			rids:   []uint32{1105, 513},
		},
		{
			// STATUS_SOME_NOT_MAPPED: unresolved names come back as
			// zero relative ids.
			name:   "some not mapped",
			status: 0x00000107,
			rids:   []uint32{1105, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			respStub := app32(nil, 2, 0x00020000, 2)
			respStub = app32(respStub, tt.rids...)
			respStub = app32(respStub, 2, 0x00020004, 2, 1, 1)
			respStub = app32(respStub, tt.status)

			c, tr := boundClient(t, []transactStep{
				{wantWrite: true, reply: samrReply(respStub)},
			})
			s := dcerpc.NewSamr(c)

			got, err := s.LookupNames(context.Background(), domain, []string{"alice", "bob"})
			if err != nil {
				t.Fatalf("LookupNames() error = %v", err)
			}
			if len(got) != len(tt.rids) {
				t.Fatalf("LookupNames() = %v, want %v", got, tt.rids)
			}
			for i := range got {
				if got[i] != tt.rids[i] {
					t.Errorf("rid %d = %d, want %d", i, got[i], tt.rids[i])
				}
			}

			req := tr.wrote[1]
			if opnum := binary.LittleEndian.Uint16(req[22:24]); opnum != 17 {
				t.Errorf("opnum = %d, want 17", opnum)
			}

			// Conformant varying array of string headers declared at
			// the interface ceiling, then the deferred buffers.
			wantStub := app32(bytes.Clone(domain[:]), 2, 1000, 0, 2)
			wantStub = app16(wantStub, 10, 10)
			wantStub = app32(wantStub, 0x00020004)
			wantStub = app16(wantStub, 6, 6)
			wantStub = app32(wantStub, 0x00020008)
			wantStub = app32(wantStub, 5, 0, 5)
			wantStub = append(wantStub, utf16LE("alice")...)
			wantStub = pad4(wantStub)
			wantStub = app32(wantStub, 3, 0, 3)
			wantStub = append(wantStub, utf16LE("bob")...)
			wantStub = pad4(wantStub)
			if !bytes.Equal(req[24:], wantStub) {
				t.Errorf("request stub = % X, want % X", req[24:], wantStub)
			}
		})
	}
}

func TestSamrLookupNamesTooMany(t *testing.T) {
	t.Parallel()

	c, tr := boundClient(t, nil)
	s := dcerpc.NewSamr(c)

	_, err := s.LookupNames(context.Background(), dcerpc.Handle{}, make([]string, 1001))
	if !errors.Is(err, dcerpc.ErrTooManyNames) {
		t.Fatalf("LookupNames() error = %v, want %v", err, dcerpc.ErrTooManyNames)
	}
	if tr.calls != 1 {
		t.Errorf("transport saw %d exchanges, want the bind only", tr.calls)
	}
}

func TestSamrClose(t *testing.T) {
	t.Parallel()

	h := dcerpc.Handle(([20]byte)(pattern(0x50, 20)))
	respStub := app32(make([]byte, 20), 0)

	c, tr := boundClient(t, []transactStep{
		{wantWrite: true, reply: samrReply(respStub)},
	})
	s := dcerpc.NewSamr(c)

	if err := s.Close(context.Background(), h); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	req := tr.wrote[1]
	if opnum := binary.LittleEndian.Uint16(req[22:24]); opnum != 1 {
		t.Errorf("opnum = %d, want 1", opnum)
	}
	if !bytes.Equal(req[24:], h[:]) {
		t.Errorf("request stub = % X, want the handle", req[24:])
	}
}

func TestSamrCloseInvalidHandle(t *testing.T) {
	t.Parallel()

	respStub := app32(make([]byte, 20), 0xC0000008)

	c, _ := boundClient(t, []transactStep{
		{wantWrite: true, reply: samrReply(respStub)},
	})
	s := dcerpc.NewSamr(c)

	err := s.Close(context.Background(), dcerpc.Handle{})
	var fault *dcerpc.Fault
	if !errors.As(err, &fault) {
		t.Fatalf("Close() error = %v, want *Fault", err)
	}
	if fault.Status != 0xC0000008 {
		t.Errorf("Status = 0x%08X, want 0xC0000008", fault.Status)
	}
}

func TestSamrTruncatedResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		stub []byte
		call func(s *dcerpc.Samr) error
	}{
		{
			name: "connect handle cut short",
			stub: pattern(0, 10),
			call: func(s *dcerpc.Samr) error {
				_, err := s.Connect2(context.Background(), "\\\\dc01")
				return err
			},
		},
		{
			name: "enum entry count past the stub",
			stub: app32(nil, 1, 0x00020000, 0xFFFF, 0x00020004, 0xFFFF),
			call: func(s *dcerpc.Samr) error {
				_, err := s.EnumDomains(context.Background(), dcerpc.Handle{})
				return err
			},
		},
		{
			name: "rid array count past the stub",
			stub: app32(nil, 0x4000, 0x00020000, 0x4000),
			call: func(s *dcerpc.Samr) error {
				_, err := s.LookupNames(context.Background(), dcerpc.Handle{}, []string{"x"})
				return err
			},
		},
		{
			name: "sid sub-authorities cut short",
			stub: append(app32(nil, 0x00020000, 4), 1, 4, 0, 0, 0, 0, 0, 5, 21, 0),
			call: func(s *dcerpc.Samr) error {
				_, err := s.LookupDomain(context.Background(), dcerpc.Handle{}, "CORP")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, _ := boundClient(t, []transactStep{
				{wantWrite: true, reply: samrReply(tt.stub)},
			})

			err := tt.call(dcerpc.NewSamr(c))
			if !errors.Is(err, dcerpc.ErrTruncated) {
				t.Errorf("error = %v, want %v", err, dcerpc.ErrTruncated)
			}
		})
	}
}
