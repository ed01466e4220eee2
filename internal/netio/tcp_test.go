package netio_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/lucian/wireline/internal/dcerpc"
	"github.com/lucian/wireline/internal/netio"
)

// pduBytes builds a parseable response PDU with n stub bytes.
func pduBytes(callID uint32, n int) []byte {
	buf := dcerpc.AppendHeader(nil, &dcerpc.Header{
		PacketType: dcerpc.PacketResponse,
		Flags:      dcerpc.FlagFirstFrag | dcerpc.FlagLastFrag,
		FragLength: uint16(dcerpc.HeaderSize + n),
		CallID:     callID,
	})
	for i := range n {
		buf = append(buf, byte(i))
	}
	return buf
}

// pipeTransport wires a transport to one end of an in-memory pipe and
// hands the test the peer end.
func pipeTransport(t *testing.T) (*netio.TCPTransport, net.Conn) {
	t.Helper()

	client, server := net.Pipe()
	tr := netio.NewTransportFromConn(client, time.Second, testLogger())
	t.Cleanup(func() {
		_ = tr.Close()
		_ = server.Close()
	})
	return tr, server
}

func TestTransactRoundTrip(t *testing.T) {
	t.Parallel()

	tr, server := pipeTransport(t)

	out := pduBytes(5, 8)
	pdu := pduBytes(5, 40)

	done := make(chan []byte, 1)
	go func() {
		got := make([]byte, len(out))
		if _, err := io.ReadFull(server, got); err != nil {
			done <- nil
			return
		}
		// Answer in two chunks; the transport must read the header
		// first and then the declared remainder.
		_, _ = server.Write(pdu[:10])
		_, _ = server.Write(pdu[10:])
		done <- got
	}()

	got, err := tr.Transact(context.Background(), out, 4280)
	if err != nil {
		t.Fatalf("Transact() error = %v", err)
	}
	if !bytes.Equal(got, pdu) {
		t.Errorf("Transact() = % X, want % X", got, pdu)
	}
	if written := <-done; !bytes.Equal(written, out) {
		t.Errorf("peer received % X, want % X", written, out)
	}
}

func TestTransactReadOnly(t *testing.T) {
	t.Parallel()

	tr, server := pipeTransport(t)

	pdu := pduBytes(5, 12)
	go func() {
		_, _ = server.Write(pdu)
	}()

	got, err := tr.Transact(context.Background(), nil, 4280)
	if err != nil {
		t.Fatalf("Transact(nil out) error = %v", err)
	}
	if !bytes.Equal(got, pdu) {
		t.Errorf("Transact() = % X, want % X", got, pdu)
	}
}

func TestTransactHeaderOnlyPDU(t *testing.T) {
	t.Parallel()

	tr, server := pipeTransport(t)

	pdu := pduBytes(5, 0)
	go func() {
		_, _ = server.Write(pdu)
	}()

	got, err := tr.Transact(context.Background(), nil, 4280)
	if err != nil {
		t.Fatalf("Transact() error = %v", err)
	}
	if len(got) != dcerpc.HeaderSize {
		t.Errorf("Transact() read %d bytes, want %d", len(got), dcerpc.HeaderSize)
	}
}

func TestTransactOversizeFrame(t *testing.T) {
	t.Parallel()

	tr, server := pipeTransport(t)

	go func() {
		// Declare 200 bytes against a 100-byte expectation; the
		// transport must refuse before reading the body.
		_, _ = server.Write(pduBytes(5, 200-dcerpc.HeaderSize)[:dcerpc.HeaderSize])
	}()

	_, err := tr.Transact(context.Background(), nil, 100)
	if !errors.Is(err, netio.ErrOversizeFrame) {
		t.Fatalf("Transact() error = %v, want %v", err, netio.ErrOversizeFrame)
	}
}

func TestTransactBadHeader(t *testing.T) {
	t.Parallel()

	tr, server := pipeTransport(t)

	go func() {
		bad := pduBytes(5, 0)
		bad[0] = 4 // wrong rpc version
		_, _ = server.Write(bad)
	}()

	_, err := tr.Transact(context.Background(), nil, 4280)
	if !errors.Is(err, dcerpc.ErrBadVersion) {
		t.Fatalf("Transact() error = %v, want %v", err, dcerpc.ErrBadVersion)
	}
}

func TestTransactPeerClosesMidHeader(t *testing.T) {
	t.Parallel()

	tr, server := pipeTransport(t)

	go func() {
		_, _ = server.Write(pduBytes(5, 0)[:10])
		_ = server.Close()
	}()

	_, err := tr.Transact(context.Background(), nil, 4280)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Transact() error = %v, want %v", err, io.ErrUnexpectedEOF)
	}
}

func TestTransactPeerClosesMidBody(t *testing.T) {
	t.Parallel()

	tr, server := pipeTransport(t)

	go func() {
		pdu := pduBytes(5, 40)
		_, _ = server.Write(pdu[:20])
		_ = server.Close()
	}()

	_, err := tr.Transact(context.Background(), nil, 4280)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Transact() error = %v, want %v", err, io.ErrUnexpectedEOF)
	}
}

func TestTransactContextCanceled(t *testing.T) {
	t.Parallel()

	tr, _ := pipeTransport(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// The peer never answers; cancellation must cut the read short
	// well before the one-second transact deadline.
	start := time.Now()
	_, err := tr.Transact(ctx, nil, 4280)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Transact() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Transact() returned after %v, want prompt cancellation", elapsed)
	}
}

func TestTransactAfterClose(t *testing.T) {
	t.Parallel()

	tr, _ := pipeTransport(t)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	_, err := tr.Transact(context.Background(), pduBytes(1, 0), 4280)
	if !errors.Is(err, netio.ErrSocketClosed) {
		t.Fatalf("Transact() error = %v, want %v", err, netio.ErrSocketClosed)
	}
}
