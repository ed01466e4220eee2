package commands

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/lucian/wireline/internal/netio"
	"github.com/lucian/wireline/internal/radius"
)

// Sentinel errors for CLI validation.
var (
	errServerRequired = errors.New("--server flag is required")
	errSecretRequired = errors.New("--secret flag is required")
	errResponseAuth   = errors.New("response authenticator verification failed")
)

// randomID picks a request identifier. One-shot commands have no
// sequence to continue, so any value works.
func randomID() uint8 {
	return uint8(rand.Uint32N(256)) //nolint:gosec // G404: identifiers are not security-sensitive
}

// exchangePacket sends one encoded request datagram and returns the
// verified, decoded reply.
func exchangePacket(
	ctx context.Context,
	server string,
	secret []byte,
	requestAuth [radius.AuthenticatorSize]byte,
	wire []byte,
) (*radius.Packet, error) {
	ex, err := netio.NewExchanger(server, exchangeTries, exchangeTimeout, wireLogger)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", server, err)
	}
	defer ex.Close()

	resp := make([]byte, radius.MaxPacketSize)
	n, err := ex.Exchange(ctx, wire, resp)
	if err != nil {
		return nil, fmt.Errorf("exchange with %s: %w", server, err)
	}
	reply := resp[:n]

	if !radius.VerifyResponse(secret, requestAuth, reply) {
		return nil, errResponseAuth
	}

	decoded, err := radius.Decode(dict, reply)
	if err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}

	return decoded, nil
}
