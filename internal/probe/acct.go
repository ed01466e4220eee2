package probe

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lucian/wireline/internal/netio"
	"github.com/lucian/wireline/internal/radius"
)

// -------------------------------------------------------------------------
// AcctProbe - signed Start/Stop pair
// -------------------------------------------------------------------------

// AcctProbe checks RADIUS accounting by sending a signed Start and Stop
// record for a throwaway session. Each run generates a fresh
// Acct-Session-Id so server-side session tracking never sees a
// duplicate. Both records must come back as verified
// Accounting-Responses over the same socket.
type AcctProbe struct {
	name     string
	target   string
	secret   []byte
	username string
	nasIP    netip.Addr
	dict     *radius.Dictionary
	metrics  MetricsReporter
	logger   *slog.Logger
	dial     func(ctx context.Context) (Exchanger, error)

	id atomic.Uint32
}

// NewAcctProbe builds an accounting probe from cfg.
func NewAcctProbe(cfg Config, logger *slog.Logger, opts ...Option) (*AcctProbe, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("acct probe %s: %w", cfg.Name, ErrNoTarget)
	}
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("acct probe %s: %w", cfg.Name, ErrNoSecret)
	}

	o := newOptions(opts)
	p := &AcctProbe{
		name:     cfg.Name,
		target:   cfg.Target,
		secret:   cfg.Secret,
		username: cfg.Username,
		nasIP:    cfg.NASIP,
		dict:     cfg.Dict,
		metrics:  o.metrics,
		logger: logger.With(
			slog.String("component", "probe.acct"),
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

	p.id.Store(rand.Uint32N(256)) //nolint:gosec // G404: identifiers are not security-sensitive

	return p, nil
}

// Name identifies the probe.
func (p *AcctProbe) Name() string { return p.name }

// Kind returns KindAcct.
func (p *AcctProbe) Kind() string { return KindAcct }

// nextID returns the next request identifier, wrapping at 255.
func (p *AcctProbe) nextID() uint8 {
	return uint8(p.id.Add(1))
}

// Probe sends a Start/Stop record pair for a fresh session.
func (p *AcctProbe) Probe(ctx context.Context) error {
	ex, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.target, err)
	}
	defer ex.Close()

	sessionID := uuid.NewString()
	started := time.Now()

	if err := p.sendRecord(ctx, ex, radius.AcctStatusStart, sessionID, 0); err != nil {
		return fmt.Errorf("start record: %w", err)
	}

	elapsed := uint32(time.Since(started) / time.Second)
	if err := p.sendRecord(ctx, ex, radius.AcctStatusStop, sessionID, elapsed); err != nil {
		return fmt.Errorf("stop record: %w", err)
	}

	p.logger.Debug("accounting pair acknowledged",
		slog.String("session_id", sessionID),
	)
	return nil
}

// sendRecord signs and exchanges one accounting record and verifies the
// acknowledgment against the request signature.
func (p *AcctProbe) sendRecord(
	ctx context.Context,
	ex Exchanger,
	status uint32,
	sessionID string,
	sessionTime uint32,
) error {
	req := radius.AccountingRequest{
		Identifier:  p.nextID(),
		StatusType:  status,
		SessionID:   sessionID,
		UserName:    p.username,
		NASIP:       p.nasIP,
		SessionTime: sessionTime,
	}
	pkt, err := req.Packet()
	if err != nil {
		return err
	}
	wire, err := radius.SignAccountingRequest(p.secret, pkt)
	if err != nil {
		return err
	}

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

	if !radius.VerifyResponse(p.secret, pkt.Authenticator, reply) {
		return fmt.Errorf("id %d: %w", pkt.Identifier, ErrResponseAuth)
	}

	decoded, err := radius.Decode(p.dict, reply)
	if err != nil {
		p.metrics.IncDecodeErrors(protoRADIUS)
		return fmt.Errorf("decode reply: %w", err)
	}
	p.metrics.IncPacketsDecoded(protoRADIUS)

	if decoded.Code != radius.CodeAccountingResponse {
		return fmt.Errorf("code %s: %w", decoded.Code, ErrUnexpectedCode)
	}
	return nil
}
