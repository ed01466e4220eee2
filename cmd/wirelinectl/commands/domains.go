package commands

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/lucian/wireline/internal/dcerpc"
	"github.com/lucian/wireline/internal/netio"
)

// errLookupRequired is returned when --user is given without --lookup.
var errLookupRequired = errors.New("--user requires --lookup")

func domainsCmd() *cobra.Command {
	var (
		server string
		lookup string
		user   string
	)

	cmd := &cobra.Command{
		Use:   "domains",
		Short: "Enumerate SAM domains on a server",
		Long: "Binds to the SAMR endpoint over TCP, enumerates the defined domains,\n" +
			"and optionally resolves a domain SID and an account RID.",
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if server == "" {
				return errServerRequired
			}
			if user != "" && lookup == "" {
				return errLookupRequired
			}

			res, err := enumDomains(context.Background(), server, lookup, user)
			if err != nil {
				return fmt.Errorf("enumerate domains: %w", err)
			}

			out, err := formatDomains(res, outputFormat)
			if err != nil {
				return fmt.Errorf("format domains: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&server, "server", "", "SAMR server address (host:port, required)")
	flags.StringVar(&lookup, "lookup", "", "resolve the SID of this domain")
	flags.StringVar(&user, "user", "", "resolve this account's RID (requires --lookup)")

	return cmd
}

// enumDomains runs the SAMR conversation: bind, Connect2, EnumDomains,
// and the optional SID and RID lookups, all over one connection.
func enumDomains(ctx context.Context, server, lookup, user string) (*domainsResult, error) {
	host := server
	if h, _, err := net.SplitHostPort(server); err == nil {
		host = h
	}

	tr, err := netio.DialTCP(ctx, server, exchangeTimeout, wireLogger)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", server, err)
	}
	defer tr.Close()

	cli := dcerpc.NewClient(tr, dcerpc.SyntaxSAMR)
	if err := cli.Bind(ctx); err != nil {
		return nil, err
	}

	s := dcerpc.NewSamr(cli)
	handle, err := s.Connect2(ctx, `\\`+host)
	if err != nil {
		return nil, err
	}

	res, err := gatherDomains(ctx, s, handle, lookup, user)
	if cerr := s.Close(ctx, handle); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	return res, nil
}

// gatherDomains performs the queries under an open server handle.
func gatherDomains(
	ctx context.Context,
	s *dcerpc.Samr,
	server dcerpc.Handle,
	lookup, user string,
) (*domainsResult, error) {
	domains, err := s.EnumDomains(ctx, server)
	if err != nil {
		return nil, err
	}

	res := &domainsResult{Domains: domains, Domain: lookup, User: user}
	if lookup == "" {
		return res, nil
	}

	sid, err := s.LookupDomain(ctx, server, lookup)
	if err != nil {
		return nil, err
	}
	res.SID = sid

	if user == "" {
		return res, nil
	}

	domain, err := s.OpenDomain(ctx, server, sid)
	if err != nil {
		return nil, err
	}

	rids, err := s.LookupNames(ctx, domain, []string{user})
	if cerr := s.Close(ctx, domain); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if len(rids) > 0 {
		res.RID = rids[0]
	}

	return res, nil
}
