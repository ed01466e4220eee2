package dcerpc

import (
	"context"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// SAMR operations - MS-SAMR Section 3.1.5
// -------------------------------------------------------------------------

// SAMR operation numbers.
const (
	opCloseHandle  uint16 = 1
	opLookupDomain uint16 = 5
	opEnumDomains  uint16 = 6
	opOpenDomain   uint16 = 7
	opLookupNames  uint16 = 17
	opConnect2     uint16 = 57
)

// accessMaximumAllowed asks the server for the strongest access it will
// grant (MS-DTYP Section 2.4.3: MAXIMUM_ALLOWED).
const accessMaximumAllowed = 0x02000000

// enumPreferredLength is the PreferedMaximumLength hint for enumeration
// calls, large enough to return typical domain lists in one page.
const enumPreferredLength = 8192

// NTSTATUS values with non-fault meaning.
const (
	statusMoreEntries   = 0x00000105
	statusSomeNotMapped = 0x00000107
)

// ErrTooManyNames indicates a LookupNames batch over the protocol's
// 1000-name ceiling.
var ErrTooManyNames = errors.New("too many names for one lookup")

// Handle is an opaque SAMR context handle. The server interprets it;
// the client only carries it between operations.
type Handle [20]byte

// IsZero reports whether h is the null handle.
func (h Handle) IsZero() bool { return h == Handle{} }

// Samr runs SAMR operations over a bound client. Each operation encodes
// its request stub, drives one call, and decodes the response stub; a
// non-zero NTSTATUS in the stub surfaces as a *Fault carrying it.
type Samr struct {
	client *Client
}

// NewSamr wraps a client bound to SyntaxSAMR.
func NewSamr(client *Client) *Samr {
	return &Samr{client: client}
}

// checkStatus maps the trailing NTSTATUS to an error, treating the
// listed values as success alongside zero.
func checkStatus(op string, status uint32, benign ...uint32) error {
	if status == 0 {
		return nil
	}
	for _, b := range benign {
		if status == b {
			return nil
		}
	}
	return fmt.Errorf("%s: %w", op, &Fault{Status: status})
}

// -------------------------------------------------------------------------
// Connect2 - opnum 57
// -------------------------------------------------------------------------

// Connect2 opens a server handle (SamrConnect2). The server name is
// informational to the service; the endpoint is fixed by the transport.
func (s *Samr) Connect2(ctx context.Context, serverName string) (Handle, error) {
	w := newStubWriter()
	w.referent()
	w.uniStrZ(serverName)
	w.u32(accessMaximumAllowed)

	stub, err := s.client.Call(ctx, opConnect2, w.bytes())
	if err != nil {
		return Handle{}, fmt.Errorf("samr connect: %w", err)
	}

	r := newStubReader(stub)
	var h Handle
	copy(h[:], r.take(20))
	status := r.u32()
	if err := r.Err(); err != nil {
		return Handle{}, fmt.Errorf("samr connect: %w", err)
	}
	if err := checkStatus("samr connect", status); err != nil {
		return Handle{}, err
	}
	return h, nil
}

// -------------------------------------------------------------------------
// EnumDomains - opnum 6
// -------------------------------------------------------------------------

// EnumDomains lists the domain names hosted by the server
// (SamrEnumerateDomainsInSamServer), first page only.
func (s *Samr) EnumDomains(ctx context.Context, server Handle) ([]string, error) {
	w := newStubWriter()
	w.raw(server[:])
	w.u32(0)
	w.u32(enumPreferredLength)

	stub, err := s.client.Call(ctx, opEnumDomains, w.bytes())
	if err != nil {
		return nil, fmt.Errorf("samr enum domains: %w", err)
	}

	r := newStubReader(stub)
	_ = r.u32() // enumeration context
	var names []string
	if r.u32() != 0 { // enumeration buffer pointer
		count := r.u32()
		if uint64(count)*12 > uint64(len(stub)) {
			return nil, fmt.Errorf("samr enum domains: %d entries in %d stub bytes: %w",
				count, len(stub), ErrTruncated)
		}
		if r.u32() != 0 { // entry array pointer
			_ = r.u32() // conformant max count

			refs := make([]uint32, 0, count)
			for range count {
				_ = r.u32() // relative id
				_ = r.u16() // name byte length
				_ = r.u16() // name maximum byte length
				refs = append(refs, r.u32())
			}
			for _, ref := range refs {
				if ref == 0 {
					names = append(names, "")
					continue
				}
				names = append(names, r.uniStr())
			}
		}
	}
	_ = r.u32() // count returned
	status := r.u32()

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("samr enum domains: %w", err)
	}
	if err := checkStatus("samr enum domains", status, statusMoreEntries); err != nil {
		return nil, err
	}
	return names, nil
}

// -------------------------------------------------------------------------
// LookupDomain - opnum 5
// -------------------------------------------------------------------------

// LookupDomain resolves a domain name to its SID
// (SamrLookupDomainInSamServer).
func (s *Samr) LookupDomain(ctx context.Context, server Handle, name string) (*SID, error) {
	w := newStubWriter()
	w.raw(server[:])
	w.rpcStrHeader(name)
	w.rpcStrBody(name)

	stub, err := s.client.Call(ctx, opLookupDomain, w.bytes())
	if err != nil {
		return nil, fmt.Errorf("samr lookup domain: %w", err)
	}

	r := newStubReader(stub)
	var sid *SID
	if r.u32() != 0 { // sid pointer
		_ = r.u32() // conformant sub-authority count
		var n int
		sid, n, err = parseSID(r.rest())
		if err != nil {
			return nil, fmt.Errorf("samr lookup domain: %w", err)
		}
		r.skip(n)
	}
	status := r.u32()

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("samr lookup domain: %w", err)
	}
	if err := checkStatus("samr lookup domain", status); err != nil {
		return nil, err
	}
	if sid == nil {
		return nil, fmt.Errorf("samr lookup domain: null sid: %w", ErrTruncated)
	}
	return sid, nil
}

// -------------------------------------------------------------------------
// OpenDomain - opnum 7
// -------------------------------------------------------------------------

// OpenDomain opens a domain handle by SID (SamrOpenDomain).
func (s *Samr) OpenDomain(ctx context.Context, server Handle, sid *SID) (Handle, error) {
	w := newStubWriter()
	w.raw(server[:])
	w.u32(accessMaximumAllowed)
	w.u32(uint32(len(sid.SubAuthorities)))
	w.raw(appendSID(nil, sid))

	stub, err := s.client.Call(ctx, opOpenDomain, w.bytes())
	if err != nil {
		return Handle{}, fmt.Errorf("samr open domain: %w", err)
	}

	r := newStubReader(stub)
	var h Handle
	copy(h[:], r.take(20))
	status := r.u32()
	if err := r.Err(); err != nil {
		return Handle{}, fmt.Errorf("samr open domain: %w", err)
	}
	if err := checkStatus("samr open domain", status); err != nil {
		return Handle{}, err
	}
	return h, nil
}

// -------------------------------------------------------------------------
// LookupNames - opnum 17
// -------------------------------------------------------------------------

// LookupNames resolves account names in a domain to relative IDs
// (SamrLookupNamesInDomain). Names the server cannot map come back as
// zero relative IDs; a wholly unmapped batch is a fault.
func (s *Samr) LookupNames(ctx context.Context, domain Handle, names []string) ([]uint32, error) {
	if len(names) > 1000 {
		return nil, fmt.Errorf("samr lookup names: %d names: %w", len(names), ErrTooManyNames)
	}

	w := newStubWriter()
	w.raw(domain[:])
	w.u32(uint32(len(names)))
	w.u32(1000) // declared array capacity, fixed by the interface
	w.u32(0)
	w.u32(uint32(len(names)))
	for _, n := range names {
		w.rpcStrHeader(n)
	}
	for _, n := range names {
		w.rpcStrBody(n)
	}

	stub, err := s.client.Call(ctx, opLookupNames, w.bytes())
	if err != nil {
		return nil, fmt.Errorf("samr lookup names: %w", err)
	}

	r := newStubReader(stub)
	rids := readULongArray(r, len(stub))
	_ = readULongArray(r, len(stub)) // use values, not reported
	status := r.u32()

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("samr lookup names: %w", err)
	}
	if err := checkStatus("samr lookup names", status, statusSomeNotMapped); err != nil {
		return nil, err
	}
	return rids, nil
}

// readULongArray reads a SAMPR_ULONG_ARRAY: count, buffer pointer, and
// the deferred conformant buffer.
func readULongArray(r *stubReader, stubLen int) []uint32 {
	count := r.u32()
	if r.u32() == 0 { // element pointer
		return nil
	}
	if uint64(count)*4 > uint64(stubLen) {
		r.fail(fmt.Sprintf("ulong array of %d", count))
		return nil
	}
	_ = r.u32() // conformant max count

	out := make([]uint32, 0, count)
	for range count {
		out = append(out, r.u32())
	}
	return out
}

// -------------------------------------------------------------------------
// Close - opnum 1
// -------------------------------------------------------------------------

// Close releases a context handle (SamrCloseHandle).
func (s *Samr) Close(ctx context.Context, h Handle) error {
	w := newStubWriter()
	w.raw(h[:])

	stub, err := s.client.Call(ctx, opCloseHandle, w.bytes())
	if err != nil {
		return fmt.Errorf("samr close: %w", err)
	}

	r := newStubReader(stub)
	_ = r.take(20) // zeroed handle back
	status := r.u32()
	if err := r.Err(); err != nil {
		return fmt.Errorf("samr close: %w", err)
	}
	return checkStatus("samr close", status)
}
