package probe

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"sync/atomic"

	"github.com/lucian/wireline/internal/netio"
	"github.com/lucian/wireline/internal/radius"
)

// -------------------------------------------------------------------------
// AuthProbe - Access-Request round trip
// -------------------------------------------------------------------------

// AuthProbe checks a RADIUS server by performing a complete PAP
// authentication: a fresh request authenticator, the obscured password,
// and verification of the response authenticator on the reply. Only
// Access-Accept counts as success; Reject and Challenge surface as
// distinct errors so a live-but-denying server can be told apart from a
// dead one.
type AuthProbe struct {
	name     string
	target   string
	secret   []byte
	username string
	password string
	nasIP    netip.Addr
	dict     *radius.Dictionary
	metrics  MetricsReporter
	logger   *slog.Logger
	dial     func(ctx context.Context) (Exchanger, error)

	id atomic.Uint32
}

// NewAuthProbe builds an authentication probe from cfg.
func NewAuthProbe(cfg Config, logger *slog.Logger, opts ...Option) (*AuthProbe, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("auth probe %s: %w", cfg.Name, ErrNoTarget)
	}
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("auth probe %s: %w", cfg.Name, ErrNoSecret)
	}

	o := newOptions(opts)
	p := &AuthProbe{
		name:     cfg.Name,
		target:   cfg.Target,
		secret:   cfg.Secret,
		username: cfg.Username,
		password: cfg.Password,
		nasIP:    cfg.NASIP,
		dict:     cfg.Dict,
		metrics:  o.metrics,
		logger: logger.With(
			slog.String("component", "probe.auth"),
			slog.String("probe", cfg.Name),
		),
		dial: o.dialExch,
	}
	if p.dict == nil {
		p.dict = radius.Builtin()
	}
	if p.dial == nil {
		p.dial = func(_ context.Context) (Exchanger, error) {
			return netio.NewExchanger(cfg.Target, cfg.Retries, cfg.Timeout, logger)
		}
	}

	// Identifiers start at a random point so restarts do not replay
	// the same sequence.
	p.id.Store(rand.Uint32N(256)) //nolint:gosec // G404: identifiers are not security-sensitive

	return p, nil
}

// Name identifies the probe.
func (p *AuthProbe) Name() string { return p.name }

// Kind returns KindAuth.
func (p *AuthProbe) Kind() string { return KindAuth }

// nextID returns the next request identifier, wrapping at 255.
func (p *AuthProbe) nextID() uint8 {
	return uint8(p.id.Add(1))
}

// Probe sends one Access-Request and classifies the verified reply.
func (p *AuthProbe) Probe(ctx context.Context) error {
	auth, err := radius.NewAuthenticator()
	if err != nil {
		return fmt.Errorf("new authenticator: %w", err)
	}

	req := radius.AccessRequest{
		Identifier:    p.nextID(),
		Authenticator: auth,
		UserName:      p.username,
		Password:      radius.ObscurePassword(p.secret, auth, []byte(p.password)),
		NASIP:         p.nasIP,
	}
	pkt, err := req.Packet()
	if err != nil {
		return err
	}
	wire, err := radius.Encode(pkt)
	if err != nil {
		return err
	}

	ex, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.target, err)
	}
	defer ex.Close()

	resp := make([]byte, radius.MaxPacketSize)
	before := ex.Retransmits()
	n, err := ex.Exchange(ctx, wire, resp)
	if delta := ex.Retransmits() - before; delta > 0 {
		p.metrics.AddRetransmits(p.name, delta)
	}
	if err != nil {
		return err
	}
	reply := resp[:n]

	if !radius.VerifyResponse(p.secret, auth, reply) {
		return fmt.Errorf("id %d: %w", pkt.Identifier, ErrResponseAuth)
	}

	decoded, err := radius.Decode(p.dict, reply)
	if err != nil {
		p.metrics.IncDecodeErrors(protoRADIUS)
		return fmt.Errorf("decode reply: %w", err)
	}
	p.metrics.IncPacketsDecoded(protoRADIUS)

	return p.classify(decoded)
}

// classify maps the reply code to the probe outcome.
func (p *AuthProbe) classify(reply *radius.Packet) error {
	msg := replyMessage(reply)

	switch reply.Code {
	case radius.CodeAccessAccept:
		p.logger.Debug("access accepted",
			slog.Int("id", int(reply.Identifier)),
			slog.String("reply_message", msg),
		)
		return nil

	case radius.CodeAccessReject:
		if msg != "" {
			return fmt.Errorf("%q: %w", msg, ErrAccessRejected)
		}
		return ErrAccessRejected

	case radius.CodeAccessChallenge:
		return ErrAccessChallenged

	default:
		return fmt.Errorf("code %s: %w", reply.Code, ErrUnexpectedCode)
	}
}

// replyMessage extracts the first Reply-Message attribute, or "".
func replyMessage(p *radius.Packet) string {
	for _, a := range p.Attributes {
		if a.Type != radius.AttrReplyMessage {
			continue
		}
		if s, ok := a.Value.(radius.String); ok {
			return string(s)
		}
	}
	return ""
}
