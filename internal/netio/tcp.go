package netio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/lucian/wireline/internal/dcerpc"
)

// -------------------------------------------------------------------------
// TCPTransport - framed DCE/RPC PDU exchange
// -------------------------------------------------------------------------

// DefaultTransactTimeout bounds one write-plus-read exchange.
const DefaultTransactTimeout = 10 * time.Second

// ErrOversizeFrame indicates a PDU declaring more bytes than the caller
// was prepared to read.
var ErrOversizeFrame = errors.New("fragment larger than the expected read size")

// TCPTransport carries DCE/RPC PDUs over a TCP stream, one blocking
// exchange at a time. It satisfies dcerpc.Transport: Transact writes
// the request when present, then reads exactly one PDU by parsing the
// 16-byte common header and reading the declared remainder.
type TCPTransport struct {
	conn    net.Conn
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// DialTCP connects to addr (host:port). A non-positive timeout selects
// the default per-exchange deadline.
func DialTCP(ctx context.Context, addr string, timeout time.Duration, logger *slog.Logger) (*TCPTransport, error) {
	d := net.Dialer{
		Control: func(_, _ string, c syscall.RawConn) error {
			return controlSocket(c)
		},
	}

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
	}

	return NewTransportFromConn(conn, timeout, logger.With(
		slog.String("component", "netio.tcp"),
		slog.String("server", addr),
	)), nil
}

// NewTransportFromConn wraps an existing stream connection. This is
// useful for testing with pipes or custom dialers.
func NewTransportFromConn(conn net.Conn, timeout time.Duration, logger *slog.Logger) *TCPTransport {
	if timeout <= 0 {
		timeout = DefaultTransactTimeout
	}
	return &TCPTransport{
		conn:    conn,
		logger:  logger,
		timeout: timeout,
	}
}

// Transact performs one exchange. A nil out skips the write and only
// reads, which the reassembly layer uses for continuation fragments.
// readHint is the largest PDU the caller expects; a fragment declaring
// more aborts the exchange rather than reading past it.
func (t *TCPTransport) Transact(ctx context.Context, out []byte, readHint uint32) ([]byte, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transact: %w", ErrSocketClosed)
	}
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := t.conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if len(out) > 0 {
		if _, err := t.conn.Write(out); err != nil {
			return nil, t.exchangeErr(ctx, fmt.Errorf("write pdu: %w", err))
		}
	}

	hdr := make([]byte, dcerpc.HeaderSize)
	if _, err := io.ReadFull(t.conn, hdr); err != nil {
		return nil, t.exchangeErr(ctx, fmt.Errorf("read pdu header: %w", err))
	}

	h, err := dcerpc.ParseHeader(hdr)
	if err != nil {
		return nil, err
	}
	if readHint != 0 && uint32(h.FragLength) > readHint {
		return nil, fmt.Errorf("transact: frag_length %d with %d expected: %w",
			h.FragLength, readHint, ErrOversizeFrame)
	}

	buf := make([]byte, h.FragLength)
	copy(buf, hdr)
	if _, err := io.ReadFull(t.conn, buf[dcerpc.HeaderSize:]); err != nil {
		return nil, t.exchangeErr(ctx, fmt.Errorf("read pdu body: %w", err))
	}

	return buf, nil
}

// exchangeErr prefers the context's verdict when cancellation cut the
// deadline short.
func (t *TCPTransport) exchangeErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Close closes the underlying connection.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("close transport socket: %w", err)
	}
	return nil
}
