package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/lucian/wireline/internal/dcerpc"
	"github.com/lucian/wireline/internal/netio"
)

// -------------------------------------------------------------------------
// SamrProbe - SAMR enumeration over DCE/RPC
// -------------------------------------------------------------------------

// SamrProbe checks a domain controller end to end: TCP connect, bind to
// the SAMR interface, Connect2, EnumDomains, and a clean handle close.
// A healthy controller enumerates at least one domain.
type SamrProbe struct {
	name    string
	target  string
	server  string
	timeout time.Duration
	metrics MetricsReporter
	logger  *slog.Logger
	dial    func(ctx context.Context) (RPCTransport, error)
}

// NewSamrProbe builds a SAMR probe from cfg. The Connect2 server name
// is the target host in UNC form.
func NewSamrProbe(cfg Config, logger *slog.Logger, opts ...Option) (*SamrProbe, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("samr probe %s: %w", cfg.Name, ErrNoTarget)
	}

	host := cfg.Target
	if h, _, err := net.SplitHostPort(cfg.Target); err == nil {
		host = h
	}

	o := newOptions(opts)
	p := &SamrProbe{
		name:    cfg.Name,
		target:  cfg.Target,
		server:  `\\` + host,
		timeout: cfg.Timeout,
		metrics: o.metrics,
		logger: logger.With(
			slog.String("component", "probe.samr"),
			slog.String("probe", cfg.Name),
		),
		dial: o.dialRPC,
	}
	if p.dial == nil {
		p.dial = func(ctx context.Context) (RPCTransport, error) {
			return netio.DialTCP(ctx, cfg.Target, cfg.Timeout, logger)
		}
	}
	return p, nil
}

// Name identifies the probe.
func (p *SamrProbe) Name() string { return p.name }

// Kind returns KindSamr.
func (p *SamrProbe) Kind() string { return KindSamr }

// Probe binds, connects, enumerates domains, and closes the handle.
func (p *SamrProbe) Probe(ctx context.Context) error {
	tr, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.target, err)
	}
	defer tr.Close()

	cli := dcerpc.NewClient(tr, dcerpc.SyntaxSAMR)
	defer func() {
		if n := cli.Fragments(); n > 0 {
			p.metrics.AddRPCFragments(n)
		}
	}()

	if err := cli.Bind(ctx); err != nil {
		return err
	}

	s := dcerpc.NewSamr(cli)
	handle, err := s.Connect2(ctx, p.server)
	if err != nil {
		return err
	}

	domains, err := s.EnumDomains(ctx, handle)
	if err != nil {
		_ = s.Close(ctx, handle)
		return err
	}

	if err := s.Close(ctx, handle); err != nil {
		return err
	}
	if len(domains) == 0 {
		return ErrNoDomains
	}

	p.logger.Debug("domains enumerated",
		slog.Int("count", len(domains)),
		slog.String("domains", strings.Join(domains, ",")),
	)
	return nil
}
