// Package testhelpers supplies small fixtures shared by package tests
// across this module, starting with an in-memory net.Conn pair for
// exercising the transport and protocol-engine layers without touching a
// real socket.
package testhelpers

import "net"

// Pipe returns a connected pair of net.Conn backed by net.Pipe, suitable
// for driving a tcpTransport-shaped reader/writer in tests.
func Pipe() (client, server net.Conn) {
	return net.Pipe()
}
