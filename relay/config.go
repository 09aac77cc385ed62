// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package relay

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	DefaultHost              = "127.0.0.1"
	DefaultPort              = 5000
	DefaultHeartbeatInterval = time.Second

	// DefaultStaleFactor is the grace window, in heartbeat intervals, after which
	// a client that has not been heard from is evicted.
	DefaultStaleFactor = 1.5

	DefaultBeaconPeriod = 3700 * time.Millisecond
)

type Config struct {
	Host              string
	Port              int
	HeartbeatInterval time.Duration
	StaleFactor       float64

	// BeaconGroup is the multicast group (host:port) to which the relay announces itself.
	// Empty disables the beacon.
	BeaconGroup  string
	BeaconPeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		HeartbeatInterval: DefaultHeartbeatInterval,
		StaleFactor:       DefaultStaleFactor,
		BeaconPeriod:      DefaultBeaconPeriod,
	}
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}

	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive, got %s", ErrInvalidConfig, c.HeartbeatInterval)
	}

	if c.StaleFactor < 1 {
		return fmt.Errorf("%w: stale factor must be at least 1, got %g", ErrInvalidConfig, c.StaleFactor)
	}

	if c.BeaconGroup != "" {
		if c.BeaconPeriod <= 0 {
			return fmt.Errorf("%w: beacon period must be positive, got %s", ErrInvalidConfig, c.BeaconPeriod)
		}

		if _, err := c.BeaconAddr(); err != nil {
			return err
		}
	}

	return nil
}

// StaleTimeout is the longest silence a client may keep before the sweep evicts it.
func (c *Config) StaleTimeout() time.Duration {
	return time.Duration(float64(c.HeartbeatInterval) * c.StaleFactor)
}

func (c *Config) BindAddr() (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(c.Host, strconv.Itoa(c.Port)))
	if err != nil {
		return nil, fmt.Errorf("%w: bind address: %w", ErrInvalidConfig, err)
	}

	return addr, nil
}

func (c *Config) BeaconAddr() (net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", c.BeaconGroup)
	if err != nil {
		return net.UDPAddr{}, fmt.Errorf("%w: beacon group: %w", ErrInvalidConfig, err)
	}

	if !addr.IP.IsMulticast() {
		return net.UDPAddr{}, fmt.Errorf("%w: beacon group %s is not a multicast address", ErrInvalidConfig, c.BeaconGroup)
	}

	return *addr, nil
}
