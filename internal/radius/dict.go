package radius

import (
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Attribute Value Kinds - RFC 2865 Section 5
// -------------------------------------------------------------------------

// Kind is the semantic type a dictionary entry declares for an attribute's
// content (RFC 2865 Section 5: "The format of the value field is one of
// five data types").
type Kind uint8

const (
	// KindInteger is a 32-bit unsigned value, big-endian on the wire.
	KindInteger Kind = iota

	// KindString is UTF-8 text, 1-253 octets. The codec treats the
	// content as opaque; callers interpret it.
	KindString

	// KindOctets is raw binary data.
	KindOctets

	// KindBinary is an alias kind kept for dictionary-file compatibility.
	// It decodes and encodes exactly like KindOctets.
	KindBinary

	// KindIPAddr is a 4-octet IPv4 address in network byte order.
	KindIPAddr

	// KindDate is a 32-bit count of seconds since the Unix epoch,
	// big-endian (RFC 2865 Section 5: "time" type).
	KindDate
)

// kindNames maps kinds to the identifiers used in dictionary files.
var kindNames = [6]string{
	"integer",
	"string",
	"octets",
	"binary",
	"ipaddr",
	"date",
}

// String returns the dictionary-file identifier for the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf(unknownFmt, uint8(k))
}

// ErrUnknownKind indicates a dictionary file declared a value type that
// is not in the Kind set.
var ErrUnknownKind = errors.New("unknown attribute kind")

// parseKind converts a dictionary-file type identifier to a Kind.
func parseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if s == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("kind %q: %w", s, ErrUnknownKind)
}

// -------------------------------------------------------------------------
// Dictionary - attribute ID to (name, kind) mapping
// -------------------------------------------------------------------------

// Entry describes one attribute known to the dictionary.
type Entry struct {
	// Type is the attribute type byte (or the vendor type byte when
	// VendorID is nonzero).
	Type uint8

	// VendorID is the SMI Network Management Private Enterprise Code of
	// the vendor for vendor-specific attributes (RFC 2865 Section 5.26),
	// or zero for the plain attribute namespace.
	VendorID uint32

	// Name is the symbolic attribute name, e.g. "User-Name".
	Name string

	// Kind declares how the attribute content is interpreted.
	Kind Kind
}

// vendorKey is the compound lookup key for vendor-specific attributes.
type vendorKey struct {
	vendor uint32
	typ    uint8
}

// Dictionary maps numeric attribute identifiers to entries, covering both
// the plain namespace and the vendor-specific sub-namespace.
//
// A Dictionary is populated during startup (Builtin, Add, LoadFile) and is
// read-only afterwards. Lookups are pure reads and safe for unrestricted
// concurrent use once the dictionary has been handed to a codec.
type Dictionary struct {
	std    map[uint8]Entry
	vendor map[vendorKey]Entry
	byName map[string]Entry
}

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{
		std:    make(map[uint8]Entry),
		vendor: make(map[vendorKey]Entry),
		byName: make(map[string]Entry),
	}
}

// Add registers an entry. A later Add with the same key replaces the
// earlier entry (last load wins). Not safe to call concurrently with
// lookups; populate the dictionary before sharing it.
func (d *Dictionary) Add(e Entry) {
	if e.VendorID == 0 {
		d.std[e.Type] = e
	} else {
		d.vendor[vendorKey{vendor: e.VendorID, typ: e.Type}] = e
	}
	if e.Name != "" {
		d.byName[e.Name] = e
	}
}

// Lookup returns the entry for a plain-namespace attribute type.
// A miss is a normal outcome, not an error: the caller falls back to the
// raw attribute representation.
func (d *Dictionary) Lookup(typ uint8) (Entry, bool) {
	e, ok := d.std[typ]
	return e, ok
}

// LookupVendor returns the entry for a vendor-specific attribute,
// keyed by the (vendor ID, vendor type) pair.
func (d *Dictionary) LookupVendor(vendorID uint32, vendorType uint8) (Entry, bool) {
	e, ok := d.vendor[vendorKey{vendor: vendorID, typ: vendorType}]
	return e, ok
}

// LookupName returns the entry with the given symbolic name, searching
// both namespaces.
func (d *Dictionary) LookupName(name string) (Entry, bool) {
	e, ok := d.byName[name]
	return e, ok
}

// -------------------------------------------------------------------------
// Builtin table - RFC 2865 Section 5, RFC 2866 Section 5
// -------------------------------------------------------------------------

// builtinEntries is the static base table: the core RFC 2865 attributes
// and the RFC 2866 accounting attributes.
var builtinEntries = []Entry{
	{Type: AttrUserName, Name: "User-Name", Kind: KindString},
	{Type: AttrUserPassword, Name: "User-Password", Kind: KindOctets},
	{Type: AttrCHAPPassword, Name: "CHAP-Password", Kind: KindOctets},
	{Type: AttrNASIPAddress, Name: "NAS-IP-Address", Kind: KindIPAddr},
	{Type: AttrNASPort, Name: "NAS-Port", Kind: KindInteger},
	{Type: AttrServiceType, Name: "Service-Type", Kind: KindInteger},
	{Type: AttrFramedProtocol, Name: "Framed-Protocol", Kind: KindInteger},
	{Type: AttrFramedIPAddress, Name: "Framed-IP-Address", Kind: KindIPAddr},
	{Type: AttrFramedIPNetmask, Name: "Framed-IP-Netmask", Kind: KindIPAddr},
	{Type: AttrFramedMTU, Name: "Framed-MTU", Kind: KindInteger},
	{Type: AttrFilterID, Name: "Filter-Id", Kind: KindString},
	{Type: AttrReplyMessage, Name: "Reply-Message", Kind: KindString},
	{Type: AttrCallbackNumber, Name: "Callback-Number", Kind: KindString},
	{Type: AttrState, Name: "State", Kind: KindOctets},
	{Type: AttrClass, Name: "Class", Kind: KindOctets},
	{Type: AttrVendorSpecific, Name: "Vendor-Specific", Kind: KindOctets},
	{Type: AttrSessionTimeout, Name: "Session-Timeout", Kind: KindInteger},
	{Type: AttrIdleTimeout, Name: "Idle-Timeout", Kind: KindInteger},
	{Type: AttrTerminationAction, Name: "Termination-Action", Kind: KindInteger},
	{Type: AttrCalledStationID, Name: "Called-Station-Id", Kind: KindString},
	{Type: AttrCallingStationID, Name: "Calling-Station-Id", Kind: KindString},
	{Type: AttrNASIdentifier, Name: "NAS-Identifier", Kind: KindString},
	{Type: AttrProxyState, Name: "Proxy-State", Kind: KindOctets},
	{Type: AttrEventTimestamp, Name: "Event-Timestamp", Kind: KindDate},
	{Type: AttrNASPortType, Name: "NAS-Port-Type", Kind: KindInteger},
	{Type: AttrPortLimit, Name: "Port-Limit", Kind: KindInteger},

	{Type: AttrAcctStatusType, Name: "Acct-Status-Type", Kind: KindInteger},
	{Type: AttrAcctDelayTime, Name: "Acct-Delay-Time", Kind: KindInteger},
	{Type: AttrAcctInputOctets, Name: "Acct-Input-Octets", Kind: KindInteger},
	{Type: AttrAcctOutputOctets, Name: "Acct-Output-Octets", Kind: KindInteger},
	{Type: AttrAcctSessionID, Name: "Acct-Session-Id", Kind: KindString},
	{Type: AttrAcctAuthentic, Name: "Acct-Authentic", Kind: KindInteger},
	{Type: AttrAcctSessionTime, Name: "Acct-Session-Time", Kind: KindInteger},
	{Type: AttrAcctInputPackets, Name: "Acct-Input-Packets", Kind: KindInteger},
	{Type: AttrAcctOutputPackets, Name: "Acct-Output-Packets", Kind: KindInteger},
	{Type: AttrAcctTerminateCause, Name: "Acct-Terminate-Cause", Kind: KindInteger},
	{Type: AttrAcctMultiSessionID, Name: "Acct-Multi-Session-Id", Kind: KindString},
	{Type: AttrAcctLinkCount, Name: "Acct-Link-Count", Kind: KindInteger},
}

// Builtin returns a fresh dictionary populated with the base table.
// Each call returns an independent dictionary, so callers may merge
// additional files into it before publishing.
func Builtin() *Dictionary {
	d := NewDictionary()
	for _, e := range builtinEntries {
		d.Add(e)
	}
	return d
}
