package probe

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/lucian/wireline/internal/dcerpc"
	"github.com/lucian/wireline/internal/radius"
)

// Probe kinds as they appear in configuration and metric labels.
const (
	KindAuth = "auth"
	KindAcct = "acct"
	KindSamr = "samr"
)

// protoRADIUS labels the decode counters for RADIUS traffic.
const protoRADIUS = "radius"

// -------------------------------------------------------------------------
// Probe Errors
// -------------------------------------------------------------------------

// Sentinel errors for probe construction and run outcomes.
var (
	// ErrNoTarget indicates a probe configured without a target address.
	ErrNoTarget = errors.New("probe has no target address")

	// ErrNoSecret indicates a RADIUS probe configured without a shared
	// secret.
	ErrNoSecret = errors.New("probe has no shared secret")

	// ErrResponseAuth indicates a reply whose response authenticator did
	// not verify against the request. The reply is forged, corrupted, or
	// signed with a different secret.
	ErrResponseAuth = errors.New("response authenticator mismatch")

	// ErrAccessRejected indicates the server answered Access-Reject.
	// The server is alive but denied the configured credentials.
	ErrAccessRejected = errors.New("access rejected")

	// ErrAccessChallenged indicates the server answered Access-Challenge,
	// which a single-shot PAP probe cannot continue.
	ErrAccessChallenged = errors.New("access challenged")

	// ErrUnexpectedCode indicates a verified reply of the wrong type.
	ErrUnexpectedCode = errors.New("unexpected response code")

	// ErrNoDomains indicates a SAMR enumeration that returned no domains.
	// Every domain controller exposes at least its own domain and Builtin.
	ErrNoDomains = errors.New("no domains enumerated")
)

// -------------------------------------------------------------------------
// Prober - one health check
// -------------------------------------------------------------------------

// Prober is one health check against a remote service. Name identifies
// the probe in configuration, logs, and metric labels; Kind is one of
// the Kind constants. Probe performs a single check and reports its
// outcome.
type Prober interface {
	Name() string
	Kind() string
	Probe(ctx context.Context) error
}

// Config carries the target parameters shared by the probe kinds.
// Fields irrelevant to a kind are ignored by its constructor.
type Config struct {
	// Name identifies the probe. Unique per scheduler.
	Name string

	// Target is the server address as host:port.
	Target string

	// Secret is the RADIUS shared secret. Required for auth and acct.
	Secret []byte

	// Username and Password fill the credential attributes.
	Username string
	Password string

	// NASIP fills NAS-IP-Address when it is a valid IPv4 address.
	NASIP netip.Addr

	// Timeout bounds each network try. Zero selects the transport
	// default.
	Timeout time.Duration

	// Retries is the datagram retransmission budget. Zero selects the
	// transport default.
	Retries int

	// Dict resolves reply attributes. nil selects the builtin
	// dictionary.
	Dict *radius.Dictionary
}

// -------------------------------------------------------------------------
// Transport seams
// -------------------------------------------------------------------------

// Exchanger abstracts the datagram exchange performed by the RADIUS
// probes. This interface enables testing without real network I/O.
type Exchanger interface {
	Exchange(ctx context.Context, req []byte, resp []byte) (int, error)
	Retransmits() uint64
	Close() error
}

// RPCTransport abstracts the connected transport driven by the SAMR
// probe. This interface enables testing without real network I/O.
type RPCTransport interface {
	dcerpc.Transport
	Close() error
}

// -------------------------------------------------------------------------
// Probe Options - functional options pattern
// -------------------------------------------------------------------------

// Option configures optional probe parameters.
type Option func(*options)

type options struct {
	metrics  MetricsReporter
	dialExch func(ctx context.Context) (Exchanger, error)
	dialRPC  func(ctx context.Context) (RPCTransport, error)
}

func newOptions(opts []Option) options {
	o := options{metrics: noopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMetrics attaches a MetricsReporter to the probe. If mr is nil,
// the default no-op reporter is used.
func WithMetrics(mr MetricsReporter) Option {
	return func(o *options) {
		if mr != nil {
			o.metrics = mr
		}
	}
}

// WithExchangerDialer replaces how the RADIUS probes open their
// datagram transport. This is useful for testing with mock exchanges.
func WithExchangerDialer(dial func(ctx context.Context) (Exchanger, error)) Option {
	return func(o *options) {
		o.dialExch = dial
	}
}

// WithTransportDialer replaces how the SAMR probe opens its connection.
// This is useful for testing with mock transports.
func WithTransportDialer(dial func(ctx context.Context) (RPCTransport, error)) Option {
	return func(o *options) {
		o.dialRPC = dial
	}
}
