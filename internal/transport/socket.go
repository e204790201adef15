// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import "net"

// SocketFactory opens the datagram socket a Session owns.
// This abstraction lets tests observe socket allocation and closing.
type SocketFactory interface {
	ListenPacket() (net.PacketConn, error)
}

// UDPSocketFactory opens an unconnected UDP socket on an ephemeral local port.
type UDPSocketFactory struct{}

func (UDPSocketFactory) ListenPacket() (net.PacketConn, error) {
	return net.ListenUDP("udp", nil)
}
