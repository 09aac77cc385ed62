// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package relay

import (
	"context"
	"strconv"
	"strings"
)

const beaconPrefix = "udprelay "

// Announcer sends a datagram to a fixed destination, the multicast group of the beacon.
type Announcer interface {
	Send(data []byte) error
}

// BeaconMessage is the payload by which the relay announces the port it serves on.
// Clients take the host from the datagram's source address.
func BeaconMessage(port int) []byte {
	return []byte(beaconPrefix + strconv.Itoa(port))
}

func ParseBeacon(data []byte) (port int, ok bool) {
	s, found := strings.CutPrefix(string(data), beaconPrefix)
	if !found {
		return 0, false
	}

	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}

	return port, true
}

func (s *Server) beaconLoop(ctx context.Context) error {
	msg := BeaconMessage(s.beacon.port)

	ticker := s.clock.Ticker(s.beacon.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := s.beacon.announcer.Send(msg); err != nil {
				s.metrics.sendFailed("beacon")
				s.log.With("err", err.Error()).Warn("failed to announce relay")
			}
		}
	}
}
