// Copyright (c) 2024, 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ErrNoMulticastInterface is returned when no network interface can carry multicast traffic.
var ErrNoMulticastInterface = errors.New("udp multicast: no available network interface")

// ListenMulticast joins the multicast group on the default network interface and
// passes every received datagram to processFn until the context is done.
func ListenMulticast(
	ctx context.Context,
	groupAddr net.UDPAddr,
	processFn func(data []byte, addr net.UDPAddr),
) (err error) {
	if groupAddr.IP == nil || !groupAddr.IP.IsMulticast() {
		return errors.New("udp multicast: group address is not multicast")
	}

	iface, err := getDefaultInterface()
	if err != nil {
		return fmt.Errorf("udp multicast: failed to get network interface: %w", err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{
		IP:   groupAddr.IP,
		Port: groupAddr.Port,
		Zone: iface.Name,
	})
	if err != nil {
		return fmt.Errorf("udp multicast: failed to listen: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})

	defer func() {
		stop()
		errClose := conn.Close()
		if errClose != nil && !errors.Is(errClose, net.ErrClosed) && err == nil {
			err = fmt.Errorf("udp multicast: failed to close udp listener: %w", errClose)
		}
	}()

	group := net.UDPAddr{
		IP:   groupAddr.IP,
		Zone: iface.Name,
	}

	var p interface {
		JoinGroup(*net.Interface, net.Addr) error
		LeaveGroup(*net.Interface, net.Addr) error
	}
	if ip4 := group.IP.To4(); ip4 != nil {
		p = ipv4.NewPacketConn(conn)
	} else {
		p = ipv6.NewPacketConn(conn)
	}

	if err := p.JoinGroup(iface, &group); err != nil {
		return fmt.Errorf("udp multicast: failed to join group: %w", err)
	}

	defer func() {
		// leaving fails once the socket is closed; the kernel drops the membership anyway
		_ = p.LeaveGroup(iface, &group)
	}()

	buffer := [bufferSize]byte{}

	for {
		n, addr, err := conn.ReadFromUDP(buffer[:])
		if err != nil {
			if errCtx := ctx.Err(); errCtx != nil {
				return errCtx
			}

			return fmt.Errorf("udp multicast: failed to read udp message: %w", err)
		}

		processFn(buffer[:n], *addr)
	}
}

// getDefaultInterface picks an up, running, multicast capable, non-loopback interface,
// preferring wired ethernet names ("en*", then "eth*").
func getDefaultInterface() (*net.Interface, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	const (
		required  = net.FlagUp | net.FlagRunning | net.FlagMulticast
		forbidden = net.FlagLoopback | net.FlagPointToPoint
	)

	var candidates []*net.Interface
	for i := range interfaces {
		iface := &interfaces[i]

		if iface.Flags&required != required || iface.Flags&forbidden != 0 {
			continue
		}

		if addrs, err := iface.Addrs(); err != nil || len(addrs) == 0 {
			continue
		}

		if addrs, err := iface.MulticastAddrs(); err != nil || len(addrs) == 0 {
			continue
		}

		candidates = append(candidates, iface)
	}

	if len(candidates) == 0 {
		return nil, ErrNoMulticastInterface
	}

	slices.SortFunc(candidates, func(a, b *net.Interface) int {
		return strings.Compare(a.Name, b.Name)
	})

	for _, prefix := range []string{"en", "eth"} {
		for _, iface := range candidates {
			if strings.HasPrefix(iface.Name, prefix) {
				return iface, nil
			}
		}
	}

	return candidates[0], nil
}
