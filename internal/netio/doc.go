// Package netio provides the client transports probes run over: a
// retransmitting UDP exchanger for RADIUS datagrams and a framed TCP
// transport for DCE/RPC connections.
//
// Linux-specific socket options are applied through net.Dialer Control
// hooks using golang.org/x/sys/unix.
package netio
