package radius

import (
	"fmt"
	"net/netip"
)

// -------------------------------------------------------------------------
// Acct-Status-Type values - RFC 2866 Section 5.1
// -------------------------------------------------------------------------

const (
	AcctStatusStart         uint32 = 1
	AcctStatusStop          uint32 = 2
	AcctStatusInterimUpdate uint32 = 3
	AcctStatusAccountingOn  uint32 = 7
	AcctStatusAccountingOff uint32 = 8
)

// -------------------------------------------------------------------------
// Request builders - fixed positional attribute sets
// -------------------------------------------------------------------------

// AccessRequest assembles an Access-Request packet from the conventional
// field set. Each field is emitted in fixed order (User-Name,
// User-Password, NAS-IP-Address, State) and omitted when it equals its
// absent default (empty string, nil, invalid address).
type AccessRequest struct {
	Identifier    uint8
	Authenticator [AuthenticatorSize]byte

	// UserName fills User-Name(1).
	UserName string

	// Password fills User-Password(2) and must already be obscured
	// (see ObscurePassword): a positive multiple of 16 bytes.
	Password []byte

	// NASIP fills NAS-IP-Address(4).
	NASIP netip.Addr

	// State echoes back a server challenge in State(24)
	// (RFC 2865 Section 5.24: must be sent unmodified).
	State []byte
}

// Packet builds the positional attribute sequence.
func (r *AccessRequest) Packet() (*Packet, error) {
	if len(r.Password) > 0 && len(r.Password)%16 != 0 {
		return nil, fmt.Errorf("access request: password %d bytes: %w",
			len(r.Password), ErrBadPassword)
	}

	p := &Packet{
		Code:          CodeAccessRequest,
		Identifier:    r.Identifier,
		Authenticator: r.Authenticator,
	}

	if r.UserName != "" {
		p.Attributes = append(p.Attributes, Attribute{
			Type: AttrUserName, Name: "User-Name", Value: String(r.UserName),
		})
	}
	if len(r.Password) > 0 {
		p.Attributes = append(p.Attributes, Attribute{
			Type: AttrUserPassword, Name: "User-Password", Value: Octets(r.Password),
		})
	}
	if r.NASIP.Is4() {
		p.Attributes = append(p.Attributes, Attribute{
			Type: AttrNASIPAddress, Name: "NAS-IP-Address", Value: IPAddr(r.NASIP),
		})
	}
	if len(r.State) > 0 {
		p.Attributes = append(p.Attributes, Attribute{
			Type: AttrState, Name: "State", Value: Octets(r.State),
		})
	}

	return p, nil
}

// VendorGroup is a set of sub-attributes sharing one Vendor-Specific
// container.
type VendorGroup struct {
	VendorID   uint32
	Attributes []Attribute
}

// GroupVendorAttributes pre-encodes a vendor group into a single plain
// attribute (Type 26, Octets value) so several sub-attributes share one
// container. Decoding such a container yields the sub-attributes inline.
func GroupVendorAttributes(g VendorGroup) (Attribute, error) {
	wire, err := AppendVendorAttributes(nil, g.VendorID, g.Attributes)
	if err != nil {
		return Attribute{}, err
	}

	// Strip the TLV header: the container content becomes the value and
	// Encode re-adds the Type/Length bytes.
	return Attribute{
		Type:  AttrVendorSpecific,
		Name:  "Vendor-Specific",
		Value: Octets(wire[attrHeaderSize:]),
	}, nil
}

// AccountingRequest assembles an Accounting-Request packet: the fixed
// accounting set in positional order, then an open-ended dictionary-driven
// attribute list, then one Vendor-Specific container per vendor group.
type AccountingRequest struct {
	Identifier uint8

	// StatusType fills Acct-Status-Type(40); one of the AcctStatus
	// constants. Always emitted (RFC 2866 Section 4.1 requires it).
	StatusType uint32

	// SessionID fills Acct-Session-Id(44), omitted when empty.
	SessionID string

	// UserName fills User-Name(1), omitted when empty.
	UserName string

	// NASIP fills NAS-IP-Address(4), omitted when not IPv4.
	NASIP netip.Addr

	// SessionTime fills Acct-Session-Time(46), omitted when zero.
	SessionTime uint32

	// TerminateCause fills Acct-Terminate-Cause(49), omitted when zero.
	TerminateCause uint32

	// Attributes is the open-ended extra attribute list, emitted after
	// the fixed set in the order given.
	Attributes []Attribute

	// VendorGroups are emitted last, one container each.
	VendorGroups []VendorGroup
}

// Packet builds the positional attribute sequence. The authenticator is
// left zeroed: accounting requests are signed by SignAccountingRequest,
// which fills the slot with the request signature.
func (r *AccountingRequest) Packet() (*Packet, error) {
	p := &Packet{
		Code:       CodeAccountingRequest,
		Identifier: r.Identifier,
	}

	p.Attributes = append(p.Attributes, Attribute{
		Type: AttrAcctStatusType, Name: "Acct-Status-Type", Value: Integer(r.StatusType),
	})
	if r.SessionID != "" {
		p.Attributes = append(p.Attributes, Attribute{
			Type: AttrAcctSessionID, Name: "Acct-Session-Id", Value: String(r.SessionID),
		})
	}
	if r.UserName != "" {
		p.Attributes = append(p.Attributes, Attribute{
			Type: AttrUserName, Name: "User-Name", Value: String(r.UserName),
		})
	}
	if r.NASIP.Is4() {
		p.Attributes = append(p.Attributes, Attribute{
			Type: AttrNASIPAddress, Name: "NAS-IP-Address", Value: IPAddr(r.NASIP),
		})
	}
	if r.SessionTime != 0 {
		p.Attributes = append(p.Attributes, Attribute{
			Type: AttrAcctSessionTime, Name: "Acct-Session-Time", Value: Integer(r.SessionTime),
		})
	}
	if r.TerminateCause != 0 {
		p.Attributes = append(p.Attributes, Attribute{
			Type: AttrAcctTerminateCause, Name: "Acct-Terminate-Cause", Value: Integer(r.TerminateCause),
		})
	}

	p.Attributes = append(p.Attributes, r.Attributes...)

	for _, g := range r.VendorGroups {
		a, err := GroupVendorAttributes(g)
		if err != nil {
			return nil, fmt.Errorf("accounting request: %w", err)
		}
		p.Attributes = append(p.Attributes, a)
	}

	return p, nil
}
