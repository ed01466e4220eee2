package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// -------------------------------------------------------------------------
// Exchanger - RADIUS request/response over UDP
// -------------------------------------------------------------------------

// Exchange defaults. RADIUS clients retransmit the identical datagram
// on silence; three tries of two seconds each is the customary client
// behavior (RFC 2865 Section 2.4 leaves the policy to implementations).
const (
	DefaultExchangeTries   = 3
	DefaultExchangeTimeout = 2 * time.Second
)

// radiusHeaderLen is the smallest datagram worth looking at: code,
// identifier, length, authenticator.
const radiusHeaderLen = 20

var (
	// ErrSocketClosed indicates an operation on a closed socket.
	ErrSocketClosed = errors.New("socket closed")

	// ErrShortRequest indicates a request smaller than a RADIUS header.
	ErrShortRequest = errors.New("request shorter than a radius header")

	// ErrExchangeTimeout indicates that every try went unanswered.
	ErrExchangeTimeout = errors.New("no response after all tries")

	// ErrUnexpectedConnType indicates the dialer returned something
	// other than a UDP connection.
	ErrUnexpectedConnType = errors.New("unexpected connection type")
)

// Exchanger sends RADIUS request datagrams to one server and waits for
// the matching responses, retransmitting the identical request on
// timeout. The connected UDP socket discards datagrams from other
// peers; the exchanger additionally drops datagrams too short to be
// RADIUS or carrying a different identifier, and keeps reading.
type Exchanger struct {
	conn    net.Conn
	logger  *slog.Logger
	tries   int
	timeout time.Duration

	retransmits atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// NewExchanger connects a UDP socket to server (host:port). Non-positive
// tries or timeout select the defaults.
func NewExchanger(server string, tries int, timeout time.Duration, logger *slog.Logger) (*Exchanger, error) {
	d := net.Dialer{
		Control: func(_, _ string, c syscall.RawConn) error {
			return controlSocket(c)
		},
	}

	conn, err := d.Dial("udp", server)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", server, err)
	}
	if _, ok := conn.(*net.UDPConn); !ok {
		closeErr := conn.Close()
		return nil, fmt.Errorf("dial udp %s: %w: %w", server, ErrUnexpectedConnType, closeErr)
	}

	return newExchanger(conn, tries, timeout, logger.With(
		slog.String("component", "netio.exchanger"),
		slog.String("server", server),
	)), nil
}

// NewExchangerFromConn wraps an existing connection. This is useful for
// testing with mock connections or custom transports.
func NewExchangerFromConn(conn net.Conn, tries int, timeout time.Duration, logger *slog.Logger) *Exchanger {
	return newExchanger(conn, tries, timeout, logger)
}

func newExchanger(conn net.Conn, tries int, timeout time.Duration, logger *slog.Logger) *Exchanger {
	if tries <= 0 {
		tries = DefaultExchangeTries
	}
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	return &Exchanger{
		conn:    conn,
		logger:  logger,
		tries:   tries,
		timeout: timeout,
	}
}

// Exchange sends req and fills resp with the first datagram answering
// it, returning the datagram length. An answer must be at least a
// RADIUS header long and echo the request identifier; anything else is
// dropped and the read continues within the same try.
//
// A try that hits its timeout triggers a retransmission of the
// identical request. Context cancellation interrupts the wait.
func (e *Exchanger) Exchange(ctx context.Context, req []byte, resp []byte) (int, error) {
	if len(req) < radiusHeaderLen {
		return 0, fmt.Errorf("exchange: %d byte request: %w", len(req), ErrShortRequest)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, fmt.Errorf("exchange: %w", ErrSocketClosed)
	}
	e.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = e.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for try := 1; try <= e.tries; try++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		n, err := e.tryOnce(req, resp)
		switch {
		case err == nil:
			return n, nil
		case ctx.Err() != nil:
			return 0, ctx.Err()
		case !isTimeout(err):
			return 0, err
		}

		if try < e.tries {
			e.retransmits.Add(1)
			e.logger.Debug("retransmitting request",
				slog.Int("try", try),
				slog.Int("id", int(req[1])),
			)
		}
	}

	return 0, fmt.Errorf("exchange: id %d after %d tries: %w", req[1], e.tries, ErrExchangeTimeout)
}

// tryOnce sends the request once and reads until a matching datagram or
// the per-try deadline.
func (e *Exchanger) tryOnce(req, resp []byte) (int, error) {
	if err := e.conn.SetDeadline(time.Now().Add(e.timeout)); err != nil {
		return 0, fmt.Errorf("set deadline: %w", err)
	}
	if _, err := e.conn.Write(req); err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}

	for {
		n, err := e.conn.Read(resp)
		if err != nil {
			return 0, err
		}
		if n < radiusHeaderLen || resp[1] != req[1] {
			continue
		}
		return n, nil
	}
}

// Retransmits returns the number of request retransmissions performed
// over the lifetime of the exchanger.
func (e *Exchanger) Retransmits() uint64 {
	return e.retransmits.Load()
}

// isTimeout reports whether err is a read or write deadline expiry.
func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// Close closes the underlying connection.
func (e *Exchanger) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if err := e.conn.Close(); err != nil {
		return fmt.Errorf("close exchanger socket: %w", err)
	}
	return nil
}
