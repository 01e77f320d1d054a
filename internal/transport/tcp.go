// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

const keepAlivePeriod = 30 * time.Second

// TCPLink dials a Modbus TCP server.
type TCPLink struct {
	network string
	addr    string
	timeout time.Duration
}

// NewTCPLink returns a link to an IPv4 server at addr ("host:port").
func NewTCPLink(addr string, timeout time.Duration) *TCPLink {
	return &TCPLink{network: "tcp4", addr: addr, timeout: timeout}
}

// NewTCPPILink returns a protocol independent link. node is a host
// name or an IPv4/IPv6 literal, service a port number or service name.
func NewTCPPILink(node, service string, timeout time.Duration) *TCPLink {
	return &TCPLink{network: "tcp", addr: net.JoinHostPort(node, service), timeout: timeout}
}

// Open establishes a TCP connection.
func (t *TCPLink) Open(ctx context.Context) (Conn, error) {
	dialer := &net.Dialer{
		Timeout:   t.timeout,
		KeepAlive: keepAlivePeriod,
	}
	conn, err := dialer.DialContext(ctx, t.network, t.addr)
	if err != nil {
		return nil, fmt.Errorf("tcp connect: %w", err)
	}
	Configure(conn)
	return conn, nil
}

func (t *TCPLink) String() string {
	return t.network + "://" + t.addr
}

// Configure sets keep-alive and disables Nagle on TCP connections.
func Configure(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(keepAlivePeriod)
		tcpConn.SetNoDelay(true)
	}
}

// Listen binds a server socket. With pi false only IPv4 is accepted;
// otherwise node and service are resolved for any address family.
func Listen(ctx context.Context, pi bool, addr string) (net.Listener, error) {
	network := "tcp4"
	if pi {
		network = "tcp"
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen: %w", err)
	}
	return ln, nil
}
