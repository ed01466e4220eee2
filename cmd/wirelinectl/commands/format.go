// Package commands implements the wirelinectl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/lucian/wireline/internal/dcerpc"
	"github.com/lucian/wireline/internal/radius"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatPacket renders a decoded RADIUS packet in the requested format.
func formatPacket(p *radius.Packet, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatPacketJSON(p)
	case formatTable:
		return formatPacketTable(p)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatAcctResult renders the outcome of one accounting record exchange.
func formatAcctResult(res *acctResult, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatAcctJSON(res)
	case formatTable:
		return formatAcctTable(res)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatDomains renders the SAMR enumeration result in the requested format.
func formatDomains(res *domainsResult, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatDomainsJSON(res)
	case formatTable:
		return formatDomainsTable(res)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatEntry renders a dictionary entry in the requested format.
func formatEntry(e radius.Entry, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatEntryJSON(e)
	case formatTable:
		return formatEntryTable(e)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatPacketTable(p *radius.Packet) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Code:\t%s\n", p.Code)
	fmt.Fprintf(w, "Identifier:\t%d\n", p.Identifier)
	fmt.Fprintf(w, "Authenticator:\t%x\n", p.Authenticator)

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	if len(p.Attributes) == 0 {
		return buf.String(), nil
	}

	buf.WriteString("\n")
	aw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(aw, "TYPE\tNAME\tVALUE")

	for _, a := range p.Attributes {
		fmt.Fprintf(aw, "%s\t%s\t%s\n",
			attrTypeString(a),
			attrNameString(a),
			attrValueString(a.Value),
		)
	}

	if err := aw.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatAcctTable(res *acctResult) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Status-Type:\t%s\n", res.StatusType)
	fmt.Fprintf(w, "Session-Id:\t%s\n", res.SessionID)
	fmt.Fprintf(w, "Code:\t%s\n", res.Reply.Code)
	fmt.Fprintf(w, "Identifier:\t%d\n", res.Reply.Identifier)

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatDomainsTable(res *domainsResult) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN")

	for _, name := range res.Domains {
		fmt.Fprintln(w, name)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	if res.SID != nil {
		fmt.Fprintf(&buf, "\nDomain SID (%s): %s\n", res.Domain, res.SID)
	}
	if res.User != "" {
		fmt.Fprintf(&buf, "User RID (%s): %d\n", res.User, res.RID)
	}

	return buf.String(), nil
}

func formatEntryTable(e radius.Entry) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Name:\t%s\n", e.Name)
	fmt.Fprintf(w, "Type:\t%d\n", e.Type)
	if e.VendorID != 0 {
		fmt.Fprintf(w, "Vendor:\t%d\n", e.VendorID)
	}
	fmt.Fprintf(w, "Kind:\t%s\n", e.Kind)

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// --- JSON formatters ---

func formatPacketJSON(p *radius.Packet) (string, error) {
	data, err := json.MarshalIndent(packetToView(p), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal packet to JSON: %w", err)
	}

	return string(data), nil
}

func formatAcctJSON(res *acctResult) (string, error) {
	v := &acctView{
		StatusType: res.StatusType,
		SessionID:  res.SessionID,
		Code:       res.Reply.Code.String(),
		Identifier: res.Reply.Identifier,
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal accounting result to JSON: %w", err)
	}

	return string(data), nil
}

func formatDomainsJSON(res *domainsResult) (string, error) {
	v := &domainsView{
		Domains: res.Domains,
		Domain:  res.Domain,
		User:    res.User,
	}
	if res.SID != nil {
		v.DomainSID = res.SID.String()
		v.UserRID = res.RID
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal domains to JSON: %w", err)
	}

	return string(data), nil
}

func formatEntryJSON(e radius.Entry) (string, error) {
	v := &entryView{
		Name:     e.Name,
		Type:     e.Type,
		VendorID: e.VendorID,
		Kind:     e.Kind.String(),
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal entry to JSON: %w", err)
	}

	return string(data), nil
}

// --- View types for clean JSON output ---

type packetView struct {
	Code          string     `json:"code"`
	Identifier    uint8      `json:"identifier"`
	Authenticator string     `json:"authenticator"`
	Attributes    []attrView `json:"attributes"`
}

type attrView struct {
	Type     uint8  `json:"type"`
	VendorID uint32 `json:"vendor_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Value    string `json:"value"`
}

type acctView struct {
	StatusType string `json:"status_type"`
	SessionID  string `json:"session_id"`
	Code       string `json:"code"`
	Identifier uint8  `json:"identifier"`
}

type domainsView struct {
	Domains   []string `json:"domains"`
	Domain    string   `json:"domain,omitempty"`
	DomainSID string   `json:"domain_sid,omitempty"`
	User      string   `json:"user,omitempty"`
	UserRID   uint32   `json:"user_rid,omitempty"`
}

type entryView struct {
	Name     string `json:"name"`
	Type     uint8  `json:"type"`
	VendorID uint32 `json:"vendor_id,omitempty"`
	Kind     string `json:"kind"`
}

func packetToView(p *radius.Packet) *packetView {
	v := &packetView{
		Code:          p.Code.String(),
		Identifier:    p.Identifier,
		Authenticator: fmt.Sprintf("%x", p.Authenticator),
		Attributes:    make([]attrView, 0, len(p.Attributes)),
	}

	for _, a := range p.Attributes {
		v.Attributes = append(v.Attributes, attrView{
			Type:     a.Type,
			VendorID: a.VendorID,
			Name:     a.Name,
			Value:    attrValueString(a.Value),
		})
	}

	return v
}

// --- Attribute rendering helpers ---

// acctResult carries one accounting exchange outcome for the formatters.
type acctResult struct {
	StatusType string
	SessionID  string
	Reply      *radius.Packet
}

// domainsResult carries everything the domains command gathered in one
// connection.
type domainsResult struct {
	Domains []string
	Domain  string
	SID     *dcerpc.SID
	User    string
	RID     uint32
}

// attrTypeString renders the TYPE column: the bare type byte for plain
// attributes, "26/vendor.type" for decoded vendor sub-attributes.
func attrTypeString(a radius.Attribute) string {
	if a.VendorID != 0 {
		return fmt.Sprintf("%d/%d.%d", radius.AttrVendorSpecific, a.VendorID, a.Type)
	}

	return strconv.Itoa(int(a.Type))
}

// attrNameString renders the NAME column, N/A for dictionary misses.
func attrNameString(a radius.Attribute) string {
	if a.Name == "" {
		return valueNA
	}

	return a.Name
}

// attrValueString renders a decoded value for display. String values
// print verbatim; every other variant implements fmt.Stringer.
func attrValueString(v radius.Value) string {
	switch v := v.(type) {
	case radius.String:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
