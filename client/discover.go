// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/marko-gacesa/udprelay/relay"
	"github.com/marko-gacesa/udprelay/udp"
)

// Discover waits for a relay beacon on the multicast group and returns the address
// of the announcing relay. The host is the beacon's source, the port is the announced one.
func Discover(ctx context.Context, group net.UDPAddr) (net.UDPAddr, error) {
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	var found net.UDPAddr

	err := udp.ListenMulticast(ctx, group, func(data []byte, addr net.UDPAddr) {
		if found.Port != 0 {
			return
		}

		port, ok := relay.ParseBeacon(data)
		if !ok {
			return
		}

		found = net.UDPAddr{IP: addr.IP, Port: port, Zone: addr.Zone}
		cancelFn()
	})
	if found.Port != 0 {
		return found, nil
	}

	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return net.UDPAddr{}, fmt.Errorf("client: no relay discovered on %s: %w", group.String(), ctx.Err())
	}

	return net.UDPAddr{}, fmt.Errorf("client: discovery failed: %w", err)
}
