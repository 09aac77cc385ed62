// Copyright (c) 2024, 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package udp

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

var _ = interface {
	Send(data []byte) error
	Close() error
}((*Sender)(nil))

// Sender writes datagrams to a single fixed destination, typically a multicast group.
type Sender struct {
	connection *net.UDPConn
}

// NewSender dials the destination. For multicast destinations, loopback is enabled
// so that listeners on the same host receive the datagrams too.
func NewSender(addr net.UDPAddr) (*Sender, error) {
	connection, err := net.DialUDP("udp", nil, &addr)
	if err != nil {
		return nil, fmt.Errorf("udp sender: failed to dial: %w", err)
	}

	if addr.IP.IsMulticast() {
		if err := setMulticastLoopback(connection, addr.IP); err != nil {
			_ = connection.Close()
			return nil, fmt.Errorf("udp sender: failed to enable multicast loopback: %w", err)
		}
	}

	return &Sender{
		connection: connection,
	}, nil
}

// setMulticastLoopback also directs the datagrams to the interface on which
// ListenMulticast joins the group, when there is one.
func setMulticastLoopback(connection *net.UDPConn, ip net.IP) error {
	iface, _ := getDefaultInterface()

	if ip.To4() != nil {
		p := ipv4.NewPacketConn(connection)
		if iface != nil {
			if err := p.SetMulticastInterface(iface); err != nil {
				return err
			}
		}
		return p.SetMulticastLoopback(true)
	}

	p := ipv6.NewPacketConn(connection)
	if iface != nil {
		if err := p.SetMulticastInterface(iface); err != nil {
			return err
		}
	}
	return p.SetMulticastLoopback(true)
}

func (s *Sender) Send(data []byte) error {
	if _, err := s.connection.Write(data); err != nil {
		return fmt.Errorf("udp sender: failed to send message: %w", err)
	}

	return nil
}

func (s *Sender) Close() error {
	if err := s.connection.Close(); err != nil {
		return fmt.Errorf("udp sender: failed to close connection: %w", err)
	}

	return nil
}
