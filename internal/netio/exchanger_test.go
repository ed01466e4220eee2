package netio_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/lucian/wireline/internal/netio"
)

// -------------------------------------------------------------------------
// mockConn - test double for net.Conn
// -------------------------------------------------------------------------

// mockConn implements net.Conn without real sockets. Reads are driven
// by an injectable function receiving the 1-based call count; writes
// are recorded for inspection.
type mockConn struct {
	mu     sync.Mutex
	closed bool
	reads  int

	// ReadFunc is called by Read. Set this to control read behavior.
	ReadFunc func(call int, buf []byte) (int, error)

	// Written records all datagrams sent via Write.
	Written [][]byte
}

func (m *mockConn) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, net.ErrClosed
	}
	m.reads++
	if m.ReadFunc == nil {
		return 0, errors.New("mock: ReadFunc not set")
	}
	return m.ReadFunc(m.reads, b)
}

func (m *mockConn) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, net.ErrClosed
	}
	m.Written = append(m.Written, bytes.Clone(b))
	return len(b), nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *mockConn) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Written)
}

func (m *mockConn) LocalAddr() net.Addr              { return &net.UDPAddr{} }
func (m *mockConn) RemoteAddr() net.Addr             { return &net.UDPAddr{} }
func (m *mockConn) SetDeadline(time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(time.Time) error { return nil }

// timeoutError mimics a deadline expiry from the net package.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// request builds a minimal well-formed request datagram with the given
// identifier.
func request(id byte) []byte {
	req := make([]byte, 49)
	req[0] = 1
	req[1] = id
	req[2], req[3] = 0, 49
	return req
}

// reply fills buf with an n-byte datagram carrying the identifier.
func reply(buf []byte, id byte, n int) int {
	for i := range n {
		buf[i] = 0
	}
	buf[0] = 2
	buf[1] = id
	return n
}

// -------------------------------------------------------------------------
// Exchange
// -------------------------------------------------------------------------

func TestExchange(t *testing.T) {
	t.Parallel()

	conn := &mockConn{
		ReadFunc: func(_ int, buf []byte) (int, error) {
			return reply(buf, 7, 26), nil
		},
	}
	e := netio.NewExchangerFromConn(conn, 3, time.Second, testLogger())

	resp := make([]byte, 4096)
	n, err := e.Exchange(context.Background(), request(7), resp)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if n != 26 {
		t.Errorf("Exchange() n = %d, want 26", n)
	}
	if resp[1] != 7 {
		t.Errorf("response identifier = %d, want 7", resp[1])
	}
	if conn.writeCount() != 1 {
		t.Errorf("wrote %d datagrams, want 1", conn.writeCount())
	}
}

func TestExchangeDropsUnrelatedDatagrams(t *testing.T) {
	t.Parallel()

	// A runt datagram and a stale identifier arrive before the answer;
	// both are dropped inside the same try.
	conn := &mockConn{
		ReadFunc: func(call int, buf []byte) (int, error) {
			switch call {
			case 1:
				return reply(buf, 7, 10), nil
			case 2:
				return reply(buf, 99, 26), nil
			default:
				return reply(buf, 7, 32), nil
			}
		},
	}
	e := netio.NewExchangerFromConn(conn, 3, time.Second, testLogger())

	resp := make([]byte, 4096)
	n, err := e.Exchange(context.Background(), request(7), resp)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if n != 32 {
		t.Errorf("Exchange() n = %d, want 32", n)
	}
	if conn.readCount() != 3 {
		t.Errorf("read %d datagrams, want 3", conn.readCount())
	}
	if conn.writeCount() != 1 {
		t.Errorf("wrote %d datagrams, want 1 (no retransmit)", conn.writeCount())
	}
}

func TestExchangeRetransmits(t *testing.T) {
	t.Parallel()

	// Two silent tries, then an answer on the third.
	conn := &mockConn{
		ReadFunc: func(call int, buf []byte) (int, error) {
			if call <= 2 {
				return 0, timeoutError{}
			}
			return reply(buf, 7, 26), nil
		},
	}
	e := netio.NewExchangerFromConn(conn, 3, time.Second, testLogger())

	resp := make([]byte, 4096)
	if _, err := e.Exchange(context.Background(), request(7), resp); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if conn.writeCount() != 3 {
		t.Errorf("wrote %d datagrams, want 3 (identical retransmits)", conn.writeCount())
	}
	for i, w := range conn.Written {
		if !bytes.Equal(w, request(7)) {
			t.Errorf("retransmit %d differs from the original request", i+1)
		}
	}
	if got := e.Retransmits(); got != 2 {
		t.Errorf("Retransmits() = %d, want 2", got)
	}
}

func TestExchangeExhaustsTries(t *testing.T) {
	t.Parallel()

	conn := &mockConn{
		ReadFunc: func(int, []byte) (int, error) {
			return 0, timeoutError{}
		},
	}
	e := netio.NewExchangerFromConn(conn, 0, time.Second, testLogger())

	_, err := e.Exchange(context.Background(), request(7), make([]byte, 4096))
	if !errors.Is(err, netio.ErrExchangeTimeout) {
		t.Fatalf("Exchange() error = %v, want %v", err, netio.ErrExchangeTimeout)
	}
	if conn.writeCount() != netio.DefaultExchangeTries {
		t.Errorf("wrote %d datagrams, want the default %d tries",
			conn.writeCount(), netio.DefaultExchangeTries)
	}
}

func TestExchangeReadErrorNotRetried(t *testing.T) {
	t.Parallel()

	errRefused := errors.New("connection refused")
	conn := &mockConn{
		ReadFunc: func(int, []byte) (int, error) {
			return 0, errRefused
		},
	}
	e := netio.NewExchangerFromConn(conn, 3, time.Second, testLogger())

	_, err := e.Exchange(context.Background(), request(7), make([]byte, 4096))
	if !errors.Is(err, errRefused) {
		t.Fatalf("Exchange() error = %v, want %v", err, errRefused)
	}
	if conn.writeCount() != 1 {
		t.Errorf("wrote %d datagrams, want 1 (hard errors stop the loop)", conn.writeCount())
	}
}

func TestExchangeShortRequest(t *testing.T) {
	t.Parallel()

	conn := &mockConn{}
	e := netio.NewExchangerFromConn(conn, 3, time.Second, testLogger())

	_, err := e.Exchange(context.Background(), make([]byte, 19), make([]byte, 4096))
	if !errors.Is(err, netio.ErrShortRequest) {
		t.Fatalf("Exchange() error = %v, want %v", err, netio.ErrShortRequest)
	}
	if conn.writeCount() != 0 {
		t.Errorf("wrote %d datagrams, want none", conn.writeCount())
	}
}

func TestExchangeContextCanceled(t *testing.T) {
	t.Parallel()

	t.Run("before the first try", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		conn := &mockConn{}
		e := netio.NewExchangerFromConn(conn, 3, time.Second, testLogger())

		_, err := e.Exchange(ctx, request(7), make([]byte, 4096))
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Exchange() error = %v, want %v", err, context.Canceled)
		}
		if conn.writeCount() != 0 {
			t.Errorf("wrote %d datagrams, want none", conn.writeCount())
		}
	})

	t.Run("during a read", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		conn := &mockConn{
			ReadFunc: func(int, []byte) (int, error) {
				cancel()
				return 0, timeoutError{}
			},
		}
		e := netio.NewExchangerFromConn(conn, 3, time.Second, testLogger())

		_, err := e.Exchange(ctx, request(7), make([]byte, 4096))
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Exchange() error = %v, want %v", err, context.Canceled)
		}
		if conn.writeCount() != 1 {
			t.Errorf("wrote %d datagrams, want 1 (no retransmit after cancel)", conn.writeCount())
		}
	})
}

func TestExchangeAfterClose(t *testing.T) {
	t.Parallel()

	e := netio.NewExchangerFromConn(&mockConn{}, 3, time.Second, testLogger())
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	_, err := e.Exchange(context.Background(), request(7), make([]byte, 4096))
	if !errors.Is(err, netio.ErrSocketClosed) {
		t.Fatalf("Exchange() error = %v, want %v", err, netio.ErrSocketClosed)
	}
}
